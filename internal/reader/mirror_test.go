package reader

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"pindash/internal/model"
)

func seededMirror() *Mirror {
	m := NewMirror()
	m.Load([]model.Folder{
		{ID: 1, Name: "Default", IsDefault: true, Feeds: []model.Feed{
			{ID: 10, FolderID: 1, Name: "a", URL: "https://a.example/feed"},
		}},
		{ID: 2, Name: "Tech", Feeds: []model.Feed{
			{ID: 20, FolderID: 2, Name: "b", URL: "https://b.example/feed"},
			{ID: 21, FolderID: 2, Name: "c", URL: "https://c.example/feed"},
		}},
	})
	return m
}

func mirrorFeedIDs(m *Mirror) map[int64][]int64 {
	out := make(map[int64][]int64)
	for _, f := range m.Folders() {
		ids := []int64{}
		for _, fe := range f.Feeds {
			ids = append(ids, fe.ID)
		}
		out[f.ID] = ids
	}
	return out
}

func TestMirror_Folders(t *testing.T) {
	m := seededMirror()

	if got := m.DefaultFolderID(); got != 1 {
		t.Errorf("DefaultFolderID() = %d, want 1", got)
	}
	if ok := m.InsertFolder(model.Folder{ID: 2, Name: "dup"}); ok {
		t.Error("InsertFolder() accepted a duplicate id")
	}
	if ok := m.InsertFolder(model.Folder{ID: 3, Name: "News"}); !ok {
		t.Error("InsertFolder() rejected a new folder")
	}
	if ok := m.RenameFolder(3, "World"); !ok {
		t.Error("RenameFolder() = false")
	}
	if f, _ := m.Folder(3); f.Name != "World" || f.Feeds != nil {
		t.Errorf("Folder(3) = %+v", f)
	}
	if ok := m.RenameFolder(99, "x"); ok {
		t.Error("RenameFolder(missing) = true")
	}
}

func TestMirror_RemoveFolder(t *testing.T) {
	t.Run("moves feeds to the default folder", func(t *testing.T) {
		m := seededMirror()
		m.SetArticles(20, []model.Article{{ID: 1, FeedID: 20, Title: "kept"}})

		if ok := m.RemoveFolder(2, 1); !ok {
			t.Fatal("RemoveFolder() = false")
		}
		want := map[int64][]int64{1: {10, 20, 21}}
		if diff := cmp.Diff(want, mirrorFeedIDs(m)); diff != "" {
			t.Errorf("tree mismatch (-want +got):\n%s", diff)
		}
		if f, _ := m.Feed(21); f.FolderID != 1 {
			t.Errorf("moved feed FolderID = %d, want 1", f.FolderID)
		}
		if a, loaded := m.Articles(20); !loaded || len(a) != 1 {
			t.Errorf("moved feed articles = %v, %v", a, loaded)
		}
	})

	t.Run("refuses the default folder", func(t *testing.T) {
		m := seededMirror()
		if ok := m.RemoveFolder(1, 1); ok {
			t.Error("RemoveFolder(default) = true")
		}
	})
}

func TestMirror_Feeds(t *testing.T) {
	t.Run("insert rejects duplicates and orphans", func(t *testing.T) {
		m := seededMirror()

		if ok := m.InsertFeed(model.Feed{ID: 20, FolderID: 1}); ok {
			t.Error("InsertFeed() accepted a duplicate id")
		}
		if ok := m.InsertFeed(model.Feed{ID: 30, FolderID: 99}); ok {
			t.Error("InsertFeed() accepted a feed without a folder")
		}
		if ok := m.InsertFeed(model.Feed{ID: 30, FolderID: 1}); !ok {
			t.Error("InsertFeed() rejected a new feed")
		}
	})

	t.Run("move keeps runtime state", func(t *testing.T) {
		m := seededMirror()
		m.SetArticles(10, []model.Article{{ID: 1}})
		m.BeginFetch(10)

		if ok := m.MoveFeed(model.Feed{ID: 10, FolderID: 2, Name: "moved", URL: "u"}); !ok {
			t.Fatal("MoveFeed() = false")
		}
		want := map[int64][]int64{1: {}, 2: {20, 21, 10}}
		if diff := cmp.Diff(want, mirrorFeedIDs(m)); diff != "" {
			t.Errorf("tree mismatch (-want +got):\n%s", diff)
		}
		f, _ := m.Feed(10)
		if !f.Fetching || f.Name != "moved" || f.FolderID != 2 {
			t.Errorf("moved feed = %+v", f)
		}
		if a, _ := m.Articles(10); len(a) != 1 {
			t.Errorf("moved feed lost articles")
		}
	})

	t.Run("move to a missing folder changes nothing", func(t *testing.T) {
		m := seededMirror()
		if ok := m.MoveFeed(model.Feed{ID: 10, FolderID: 99}); ok {
			t.Error("MoveFeed(missing folder) = true")
		}
		if f, _ := m.Feed(10); f.FolderID != 1 {
			t.Errorf("FolderID = %d, want 1", f.FolderID)
		}
	})

	t.Run("remove", func(t *testing.T) {
		m := seededMirror()
		if ok := m.RemoveFeed(20); !ok {
			t.Fatal("RemoveFeed() = false")
		}
		if _, ok := m.Feed(20); ok {
			t.Error("feed still present")
		}
		if ok := m.RemoveFeed(20); ok {
			t.Error("second RemoveFeed() = true")
		}
	})
}

func TestMirror_FetchState(t *testing.T) {
	m := seededMirror()

	if !m.BeginFetch(10) {
		t.Fatal("BeginFetch() = false on idle feed")
	}
	if m.BeginFetch(10) {
		t.Error("BeginFetch() = true on fetching feed")
	}
	m.EndFetch(10)
	if f, _ := m.Feed(10); f.Fetching {
		t.Error("feed still fetching after EndFetch")
	}
	if m.BeginFetch(99) {
		t.Error("BeginFetch(missing) = true")
	}
	m.EndFetch(99)
}

func TestMirror_Articles(t *testing.T) {
	t.Run("set only installs once", func(t *testing.T) {
		m := seededMirror()
		if _, loaded := m.Articles(10); loaded {
			t.Fatal("articles loaded before SetArticles")
		}
		if !m.SetArticles(10, []model.Article{{ID: 1, Title: "first"}}) {
			t.Fatal("SetArticles() = false")
		}
		if m.SetArticles(10, nil) {
			t.Error("SetArticles() replaced a loaded list")
		}
	})

	t.Run("merge replaces by id and appends the rest", func(t *testing.T) {
		m := seededMirror()
		m.SetArticles(10, []model.Article{{ID: 1, Title: "one"}, {ID: 2, Title: "two"}})

		m.MergeArticles(10, []model.Article{{ID: 2, Title: "two v2"}, {ID: 3, Title: "three"}})

		got, _ := m.Articles(10)
		want := []model.Article{{ID: 1, Title: "one"}, {ID: 2, Title: "two v2"}, {ID: 3, Title: "three"}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("articles mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("readers get copies", func(t *testing.T) {
		m := seededMirror()
		m.SetArticles(10, []model.Article{{ID: 1, Title: "one", Authors: []model.Author{{Name: "x"}}}})

		got, _ := m.Articles(10)
		got[0].Title = "mutated"
		got[0].Authors[0].Name = "mutated"

		again, _ := m.Articles(10)
		if again[0].Title != "one" || again[0].Authors[0].Name != "x" {
			t.Errorf("mirror changed through a returned copy: %+v", again[0])
		}

		folders := m.Folders()
		folders[0].Feeds[0].Name = "mutated"
		if f, _ := m.Feed(10); f.Name != "a" {
			t.Errorf("mirror changed through Folders(): %q", f.Name)
		}
	})
}

func TestMirror_ApplyFetch(t *testing.T) {
	m := seededMirror()
	meta := model.FeedMetadata{Site: "https://a.example", Kind: "rss", Title: "A"}

	m.ApplyFetch(10, 500, meta)
	m.ApplyFetch(10, 400, meta)

	f, _ := m.Feed(10)
	if f.LastSeen != 500 {
		t.Errorf("LastSeen = %d, want 500", f.LastSeen)
	}
	if f.Site != meta.Site || f.Kind != meta.Kind || f.Title != meta.Title {
		t.Errorf("metadata not applied: %+v", f)
	}
}
