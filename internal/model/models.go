package model

// Folder groups feeds. Exactly one folder is the default folder; it cannot be
// deleted and receives the feeds of deleted folders.
type Folder struct {
	ID        int64
	Name      string
	IsDefault bool
	Feeds     []Feed // nil when loaded without feeds
}

// WithoutFeeds returns a copy of the folder that carries no feed list.
func (f Folder) WithoutFeeds() Folder {
	f.Feeds = nil
	return f
}

// Feed is a subscription. Site, Kind, Title and Description are only known
// after the first successful fetch.
type Feed struct {
	ID          int64
	FolderID    int64
	Name        string
	URL         string // subscription address that is fetched
	Site        string // human-facing origin, "" until derived
	Kind        string // rss, atom or json
	Title       string
	Description string
	LastSeen    int64 // unix seconds, never decreases

	// Mirror-only state, never persisted.
	Fetching bool
	Articles []Article // nil means not loaded yet
}

// NewFeed creates an unsaved feed under the given folder.
func NewFeed(url, name string, folderID int64) Feed {
	return Feed{URL: url, Name: name, FolderID: folderID}
}

// WithoutArticles returns a copy of the feed that carries no article list.
func (f Feed) WithoutArticles() Feed {
	f.Articles = nil
	return f
}

// FeedMetadata is what a successful fetch learns about a feed.
type FeedMetadata struct {
	Site        string
	Kind        string
	Title       string
	Description string
}

// Article is one ingested entry, unique per (FeedID, URL).
type Article struct {
	ID      int64
	FeedID  int64
	URL     string
	Title   string
	Content string
	Created int64 // unix seconds, first seen or published
	Updated int64 // unix seconds, last modified
	Authors []Author
}

// Author is unique per (FeedID, Name).
type Author struct {
	ID     int64
	FeedID int64
	Name   string
	Email  string
	URL    string
}
