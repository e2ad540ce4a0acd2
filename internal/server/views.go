package server

import "pindash/internal/model"

type folderView struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	IsDefault bool       `json:"is_default"`
	Feeds     []feedView `json:"feeds"`
}

type feedView struct {
	ID          int64  `json:"id"`
	FolderID    int64  `json:"folder_id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Site        string `json:"site,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	LastSeen    int64  `json:"last_seen"`
	Fetching    bool   `json:"fetching"`
}

type articleView struct {
	ID      int64        `json:"id"`
	URL     string       `json:"url"`
	Title   string       `json:"title"`
	Content string       `json:"content"`
	Created int64        `json:"created"`
	Updated int64        `json:"updated"`
	Authors []authorView `json:"authors"`
}

type authorView struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

type syncView struct {
	Feed    feedView `json:"feed"`
	Updated bool     `json:"updated"`
}

func newFolderView(f model.Folder) folderView {
	v := folderView{ID: f.ID, Name: f.Name, IsDefault: f.IsDefault, Feeds: make([]feedView, 0, len(f.Feeds))}
	for _, fe := range f.Feeds {
		v.Feeds = append(v.Feeds, newFeedView(fe))
	}
	return v
}

func newFeedView(f model.Feed) feedView {
	return feedView{
		ID:          f.ID,
		FolderID:    f.FolderID,
		Name:        f.Name,
		URL:         f.URL,
		Site:        f.Site,
		Kind:        f.Kind,
		Title:       f.Title,
		Description: f.Description,
		LastSeen:    f.LastSeen,
		Fetching:    f.Fetching,
	}
}

func newArticleView(a model.Article) articleView {
	v := articleView{
		ID:      a.ID,
		URL:     a.URL,
		Title:   a.Title,
		Content: a.Content,
		Created: a.Created,
		Updated: a.Updated,
		Authors: make([]authorView, 0, len(a.Authors)),
	}
	for _, au := range a.Authors {
		v.Authors = append(v.Authors, authorView{Name: au.Name, Email: au.Email, URL: au.URL})
	}
	return v
}
