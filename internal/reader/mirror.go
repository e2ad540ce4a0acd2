package reader

import (
	"slices"
	"sync"

	"pindash/internal/model"
)

// Mirror is the in-memory copy of the folder/feed/article tree that readers
// render from. It is seeded once from storage and from then on only patched
// by the engine after the matching database write has committed. Readers get
// copies; nothing outside the engine holds a reference into the tree.
type Mirror struct {
	mu      sync.RWMutex
	folders []model.Folder
}

func NewMirror() *Mirror {
	return &Mirror{}
}

// Load seeds the mirror with a tree read from storage.
func (m *Mirror) Load(folders []model.Folder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.folders = make([]model.Folder, len(folders))
	for i, f := range folders {
		m.folders[i] = cloneFolder(f)
	}
}

// Folders returns a copy of the tree without article lists.
func (m *Mirror) Folders() []model.Folder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Folder, len(m.folders))
	for i, f := range m.folders {
		out[i] = f.WithoutFeeds()
		out[i].Feeds = make([]model.Feed, len(f.Feeds))
		for j, fe := range f.Feeds {
			out[i].Feeds[j] = fe.WithoutArticles()
		}
	}
	return out
}

// Folder returns the folder without its feeds.
func (m *Mirror) Folder(id int64) (model.Folder, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.folderIndex(id)
	if i < 0 {
		return model.Folder{}, false
	}
	return m.folders[i].WithoutFeeds(), true
}

// DefaultFolderID returns the id of the default folder, 0 if not loaded.
func (m *Mirror) DefaultFolderID() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.folders {
		if f.IsDefault {
			return f.ID
		}
	}
	return 0
}

// Feed returns the feed without its article list.
func (m *Mirror) Feed(id int64) (model.Feed, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fi, ei := m.feedIndex(id)
	if fi < 0 {
		return model.Feed{}, false
	}
	return m.folders[fi].Feeds[ei].WithoutArticles(), true
}

// Articles returns a copy of the feed's article list. loaded is false when
// the list has not been read from storage yet.
func (m *Mirror) Articles(feedID int64) (articles []model.Article, loaded bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fi, ei := m.feedIndex(feedID)
	if fi < 0 {
		return nil, false
	}
	src := m.folders[fi].Feeds[ei].Articles
	if src == nil {
		return nil, false
	}
	out := make([]model.Article, len(src))
	for i, a := range src {
		out[i] = cloneArticle(a)
	}
	return out, true
}

func (m *Mirror) InsertFolder(f model.Folder) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.folderIndex(f.ID) >= 0 {
		return false
	}
	f = cloneFolder(f)
	if f.Feeds == nil {
		f.Feeds = []model.Feed{}
	}
	m.folders = append(m.folders, f)
	return true
}

func (m *Mirror) RenameFolder(id int64, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.folderIndex(id)
	if i < 0 {
		return false
	}
	m.folders[i].Name = name
	return true
}

// RemoveFolder drops the folder and appends its feeds, with their articles
// and fetch state, to the default folder.
func (m *Mirror) RemoveFolder(id, defaultID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.folderIndex(id)
	if i < 0 || id == defaultID {
		return false
	}
	d := m.folderIndex(defaultID)
	if d < 0 {
		return false
	}
	for _, fe := range m.folders[i].Feeds {
		fe.FolderID = defaultID
		m.folders[d].Feeds = append(m.folders[d].Feeds, fe)
	}
	m.folders = slices.Delete(m.folders, i, i+1)
	return true
}

func (m *Mirror) InsertFeed(feed model.Feed) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fi, _ := m.feedIndex(feed.ID); fi >= 0 {
		return false
	}
	i := m.folderIndex(feed.FolderID)
	if i < 0 {
		return false
	}
	m.folders[i].Feeds = append(m.folders[i].Feeds, cloneFeed(feed))
	return true
}

// UpdateFeed applies the user-editable fields of feed in place.
func (m *Mirror) UpdateFeed(feed model.Feed) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	fi, ei := m.feedIndex(feed.ID)
	if fi < 0 {
		return false
	}
	cur := &m.folders[fi].Feeds[ei]
	cur.Name = feed.Name
	cur.URL = feed.URL
	return true
}

// MoveFeed applies the user-editable fields of feed and moves it from its
// current folder to feed.FolderID, keeping articles and fetch state.
func (m *Mirror) MoveFeed(feed model.Feed) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	fi, ei := m.feedIndex(feed.ID)
	to := m.folderIndex(feed.FolderID)
	if fi < 0 || to < 0 {
		return false
	}
	cur := m.folders[fi].Feeds[ei]
	cur.Name = feed.Name
	cur.URL = feed.URL
	cur.FolderID = feed.FolderID
	if fi == to {
		m.folders[fi].Feeds[ei] = cur
		return true
	}
	m.folders[fi].Feeds = slices.Delete(m.folders[fi].Feeds, ei, ei+1)
	m.folders[to].Feeds = append(m.folders[to].Feeds, cur)
	return true
}

func (m *Mirror) RemoveFeed(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	fi, ei := m.feedIndex(id)
	if fi < 0 {
		return false
	}
	m.folders[fi].Feeds = slices.Delete(m.folders[fi].Feeds, ei, ei+1)
	return true
}

// BeginFetch marks the feed as fetching. It returns false when the feed is
// unknown or a fetch is already in flight.
func (m *Mirror) BeginFetch(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	fi, ei := m.feedIndex(id)
	if fi < 0 || m.folders[fi].Feeds[ei].Fetching {
		return false
	}
	m.folders[fi].Feeds[ei].Fetching = true
	return true
}

// EndFetch returns the feed to idle. Unknown feeds are ignored.
func (m *Mirror) EndFetch(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fi, ei := m.feedIndex(id); fi >= 0 {
		m.folders[fi].Feeds[ei].Fetching = false
	}
}

// SetArticles installs the feed's article list if none is loaded yet.
func (m *Mirror) SetArticles(feedID int64, articles []model.Article) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	fi, ei := m.feedIndex(feedID)
	if fi < 0 || m.folders[fi].Feeds[ei].Articles != nil {
		return false
	}
	list := make([]model.Article, len(articles))
	for i, a := range articles {
		list[i] = cloneArticle(a)
	}
	m.folders[fi].Feeds[ei].Articles = list
	return true
}

// MergeArticles replaces articles already present by id and appends the rest
// in the given order.
func (m *Mirror) MergeArticles(feedID int64, articles []model.Article) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	fi, ei := m.feedIndex(feedID)
	if fi < 0 {
		return false
	}
	feed := &m.folders[fi].Feeds[ei]
	if feed.Articles == nil {
		feed.Articles = []model.Article{}
	}
	pos := make(map[int64]int, len(feed.Articles))
	for i, a := range feed.Articles {
		pos[a.ID] = i
	}
	for _, a := range articles {
		if i, ok := pos[a.ID]; ok {
			feed.Articles[i] = cloneArticle(a)
			continue
		}
		pos[a.ID] = len(feed.Articles)
		feed.Articles = append(feed.Articles, cloneArticle(a))
	}
	return true
}

// ApplyFetch records the outcome of an ingested fetch: metadata and the
// watermark, which never moves backwards.
func (m *Mirror) ApplyFetch(feedID, lastSeen int64, meta model.FeedMetadata) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	fi, ei := m.feedIndex(feedID)
	if fi < 0 {
		return false
	}
	feed := &m.folders[fi].Feeds[ei]
	feed.Site = meta.Site
	feed.Kind = meta.Kind
	feed.Title = meta.Title
	feed.Description = meta.Description
	feed.LastSeen = max(feed.LastSeen, lastSeen)
	return true
}

func (m *Mirror) folderIndex(id int64) int {
	for i, f := range m.folders {
		if f.ID == id {
			return i
		}
	}
	return -1
}

func (m *Mirror) feedIndex(id int64) (int, int) {
	for i, f := range m.folders {
		for j, fe := range f.Feeds {
			if fe.ID == id {
				return i, j
			}
		}
	}
	return -1, -1
}

func cloneFolder(f model.Folder) model.Folder {
	out := f.WithoutFeeds()
	if f.Feeds != nil {
		out.Feeds = make([]model.Feed, len(f.Feeds))
		for i, fe := range f.Feeds {
			out.Feeds[i] = cloneFeed(fe)
		}
	}
	return out
}

func cloneFeed(f model.Feed) model.Feed {
	out := f.WithoutArticles()
	if f.Articles != nil {
		out.Articles = make([]model.Article, len(f.Articles))
		for i, a := range f.Articles {
			out.Articles[i] = cloneArticle(a)
		}
	}
	return out
}

func cloneArticle(a model.Article) model.Article {
	a.Authors = slices.Clone(a.Authors)
	return a
}
