package fetch

import (
	"bytes"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"

	"pindash/internal/reader"
)

// parse turns a downloaded body into a Document. Any of RSS, Atom or JSON
// Feed is accepted.
func parse(body []byte) (*reader.Document, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	doc := toDocument(feed)
	if feed.FeedType == "atom" {
		// The universal model drops the Atom <id>, which can name the site.
		if af, err := (&atom.Parser{}).Parse(bytes.NewReader(body)); err == nil {
			doc.ID = strings.TrimSpace(af.ID)
		}
	}
	return doc, nil
}

func toDocument(feed *gofeed.Feed) *reader.Document {
	doc := &reader.Document{
		Kind:        feed.FeedType,
		Title:       strings.TrimSpace(feed.Title),
		Description: strings.TrimSpace(feed.Description),
		Links:       alternateLinks(feed.Link, feed.Links, feed.FeedLink),
		Authors:     people(feed.Authors),
		Published:   unix(feed.PublishedParsed),
		Updated:     unix(feed.UpdatedParsed),
		Entries:     make([]reader.Entry, 0, len(feed.Items)),
	}
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		doc.Entries = append(doc.Entries, reader.Entry{
			ID:        strings.TrimSpace(item.GUID),
			Links:     alternateLinks(item.Link, item.Links, ""),
			Title:     strings.TrimSpace(item.Title),
			Content:   item.Content,
			Summary:   item.Description,
			Authors:   people(item.Authors),
			Published: unix(item.PublishedParsed),
			Updated:   unix(item.UpdatedParsed),
		})
	}
	return doc
}

// alternateLinks merges the primary link with the rest, dropping blanks,
// duplicates and the self link.
func alternateLinks(primary string, links []string, self string) []string {
	self = strings.TrimSpace(self)
	seen := make(map[string]bool)
	var out []string
	for _, l := range append([]string{primary}, links...) {
		l = strings.TrimSpace(l)
		if l == "" || l == self || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

func people(in []*gofeed.Person) []reader.Person {
	var out []reader.Person
	for _, p := range in {
		if p == nil || strings.TrimSpace(p.Name) == "" {
			continue
		}
		out = append(out, reader.Person{Name: strings.TrimSpace(p.Name), Email: strings.TrimSpace(p.Email)})
	}
	return out
}

func unix(t *time.Time) int64 {
	if t == nil || t.IsZero() {
		return 0
	}
	return t.Unix()
}
