package reader

import (
	"net/url"
	"path"
	"strings"
)

// feedSuffixes mark a link as pointing at a feed document rather than a site.
var feedSuffixes = []string{
	".xml", ".atom", ".rss", ".json",
	"rss", "rss/", "atom", "atom/", "feed", "feed/",
}

// IsFeedURL reports whether link looks like a feed document address.
func IsFeedURL(link string) bool {
	l := strings.ToLower(strings.TrimSpace(link))
	for _, s := range feedSuffixes {
		if strings.HasSuffix(l, s) {
			return true
		}
	}
	return false
}

// SiteURL derives the human-facing site address of a feed. It prefers the
// first alternate link that does not look like a feed, then the document id
// when that id is itself a web address, then the first link (or the
// subscription url) with its feed path segment removed.
func SiteURL(subscription string, doc *Document) string {
	for _, link := range doc.Links {
		link = strings.TrimSpace(link)
		if link != "" && !IsFeedURL(link) {
			return strings.TrimRight(link, "/")
		}
	}
	if isWebURL(doc.ID) {
		return strings.TrimRight(strings.TrimSpace(doc.ID), "/")
	}
	fallback := subscription
	if len(doc.Links) > 0 && strings.TrimSpace(doc.Links[0]) != "" {
		fallback = doc.Links[0]
	}
	return stripFeedPath(strings.TrimSpace(fallback))
}

// ArticleURL picks an entry's canonical url: its first link, else its id.
// Anything that is not an absolute web address is joined onto site.
func ArticleURL(site string, e Entry) string {
	var raw string
	for _, link := range e.Links {
		if link = strings.TrimSpace(link); link != "" {
			raw = link
			break
		}
	}
	if raw == "" {
		raw = strings.TrimSpace(e.ID)
	}
	if raw == "" || isWebURL(raw) || site == "" {
		return raw
	}
	return strings.TrimRight(site, "/") + "/" + strings.TrimLeft(raw, "/")
}

func isWebURL(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func stripFeedPath(raw string) string {
	trimmed := strings.TrimRight(raw, "/")
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return trimmed
	}
	if IsFeedURL(u.Path) {
		u.Path = path.Dir(u.Path)
		if u.Path == "/" || u.Path == "." {
			u.Path = ""
		}
		u.RawPath = ""
		u.RawQuery = ""
		u.Fragment = ""
	}
	return strings.TrimRight(u.String(), "/")
}
