// Package opml reads and writes subscription lists in OPML.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"pindash/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a folder when it has children and no xmlUrl, a feed otherwise.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Entry is one subscription found in a document. Folder is empty for feeds
// at the top level; nested folders are flattened to "Outer / Inner".
type Entry struct {
	Folder string
	Title  string
	URL    string
}

// Parse reads an OPML document and returns its subscriptions in document
// order.
func Parse(r io.Reader) ([]Entry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}

	var entries []Entry
	var walk func(outlines []Outline, path []string)
	walk = func(outlines []Outline, path []string) {
		for _, o := range outlines {
			if url := strings.TrimSpace(o.XMLURL); url != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, Entry{
					Folder: strings.Join(path, " / "),
					Title:  strings.TrimSpace(title),
					URL:    url,
				})
				continue
			}
			if len(o.Outlines) > 0 {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, append(path[:len(path):len(path)], strings.TrimSpace(name)))
			}
		}
	}
	walk(doc.Body.Outlines, nil)
	return entries, nil
}

// Export writes the folder tree as an OPML 2.0 document. Feeds of the
// default folder go at the top level; every other folder becomes an outline,
// even when empty.
func Export(w io.Writer, title string, created time.Time, folders []model.Folder) error {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: created.Format(time.RFC1123Z),
		},
	}

	for _, f := range folders {
		feeds := make([]Outline, 0, len(f.Feeds))
		for _, fe := range f.Feeds {
			feeds = append(feeds, feedOutline(fe))
		}
		if f.IsDefault {
			doc.Body.Outlines = append(doc.Body.Outlines, feeds...)
			continue
		}
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Text:     f.Name,
			Title:    f.Name,
			Outlines: feeds,
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode opml: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func feedOutline(f model.Feed) Outline {
	text := f.Name
	if text == "" {
		text = f.Title
	}
	if text == "" {
		text = f.URL
	}
	kind := f.Kind
	if kind == "" {
		kind = "rss"
	}
	return Outline{
		Text:    text,
		Title:   text,
		Type:    kind,
		XMLURL:  f.URL,
		HTMLURL: f.Site,
	}
}
