package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pindash/internal/model"
	"pindash/internal/reader"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// newTestDB creates a new migrated in-memory database.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:", fixedClock{testNow})
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func mustCreateFeed(t *testing.T, db *SQLiteDatabase, url string, folderID int64) model.Feed {
	t.Helper()
	feed, err := db.CreateFeed(context.Background(), model.NewFeed(url, url, folderID))
	if err != nil {
		t.Fatalf("CreateFeed(%s) error = %v", url, err)
	}
	return feed
}

func TestSQLiteDatabase_ReadFolderTree(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh database has only the default folder", func(t *testing.T) {
		db := newTestDB(t)

		folders, err := db.ReadFolderTree(ctx)
		if err != nil {
			t.Fatalf("ReadFolderTree() error = %v", err)
		}
		want := []model.Folder{{ID: 1, Name: "Default", IsDefault: true, Feeds: []model.Feed{}}}
		if diff := cmp.Diff(want, folders); diff != "" {
			t.Errorf("ReadFolderTree() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("groups feeds under their folders in id order", func(t *testing.T) {
		db := newTestDB(t)

		news, err := db.CreateFolder(ctx, "News")
		if err != nil {
			t.Fatalf("CreateFolder() error = %v", err)
		}
		a := mustCreateFeed(t, db, "https://a.example/feed", news.ID)
		b := mustCreateFeed(t, db, "https://b.example/feed", 0)
		c := mustCreateFeed(t, db, "https://c.example/feed", news.ID)

		folders, err := db.ReadFolderTree(ctx)
		if err != nil {
			t.Fatalf("ReadFolderTree() error = %v", err)
		}
		if len(folders) != 2 {
			t.Fatalf("len(folders) = %d, want 2", len(folders))
		}
		if got := feedIDs(folders[0].Feeds); !cmp.Equal(got, []int64{b.ID}) {
			t.Errorf("default folder feeds = %v, want [%d]", got, b.ID)
		}
		if got := feedIDs(folders[1].Feeds); !cmp.Equal(got, []int64{a.ID, c.ID}) {
			t.Errorf("News feeds = %v, want [%d %d]", got, a.ID, c.ID)
		}
		for _, f := range folders[1].Feeds {
			if f.FolderID != news.ID {
				t.Errorf("feed %d FolderID = %d, want %d", f.ID, f.FolderID, news.ID)
			}
			if f.Articles != nil {
				t.Errorf("feed %d Articles loaded, want nil", f.ID)
			}
		}
	})
}

func feedIDs(feeds []model.Feed) []int64 {
	ids := make([]int64, 0, len(feeds))
	for _, f := range feeds {
		ids = append(ids, f.ID)
	}
	return ids
}

func TestSQLiteDatabase_RenameFolder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	f, err := db.CreateFolder(ctx, "Tech")
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}

	rows, err := db.RenameFolder(ctx, f.ID, "Technology")
	if err != nil || rows != 1 {
		t.Fatalf("RenameFolder() = %d, %v, want 1, nil", rows, err)
	}

	rows, err = db.RenameFolder(ctx, 999, "Nope")
	if err != nil || rows != 0 {
		t.Errorf("RenameFolder(missing) = %d, %v, want 0, nil", rows, err)
	}

	folders, _ := db.ReadFolderTree(ctx)
	if folders[1].Name != "Technology" {
		t.Errorf("Name = %q, want Technology", folders[1].Name)
	}
}

func TestSQLiteDatabase_DeleteFolder(t *testing.T) {
	ctx := context.Background()

	t.Run("moves feeds to the default folder", func(t *testing.T) {
		db := newTestDB(t)

		tech, _ := db.CreateFolder(ctx, "Tech")
		x := mustCreateFeed(t, db, "https://x.example/rss", tech.ID)
		y := mustCreateFeed(t, db, "https://y.example/rss", tech.ID)

		defaultID, rows, err := db.DeleteFolder(ctx, tech.ID)
		if err != nil {
			t.Fatalf("DeleteFolder() error = %v", err)
		}
		if defaultID != 1 || rows != 1 {
			t.Errorf("DeleteFolder() = %d, %d, want 1, 1", defaultID, rows)
		}

		folders, _ := db.ReadFolderTree(ctx)
		if len(folders) != 1 {
			t.Fatalf("len(folders) = %d, want 1", len(folders))
		}
		if got := feedIDs(folders[0].Feeds); !cmp.Equal(got, []int64{x.ID, y.ID}) {
			t.Errorf("default feeds = %v, want [%d %d]", got, x.ID, y.ID)
		}
	})

	t.Run("rejects the default folder", func(t *testing.T) {
		db := newTestDB(t)

		_, _, err := db.DeleteFolder(ctx, 1)
		if !errors.Is(err, reader.ErrDefaultFolder) {
			t.Errorf("DeleteFolder(default) error = %v, want ErrDefaultFolder", err)
		}
		folders, _ := db.ReadFolderTree(ctx)
		if len(folders) != 1 {
			t.Errorf("len(folders) = %d, want 1", len(folders))
		}
	})

	t.Run("missing folder is a no-op", func(t *testing.T) {
		db := newTestDB(t)

		_, rows, err := db.DeleteFolder(ctx, 42)
		if err != nil || rows != 0 {
			t.Errorf("DeleteFolder(missing) = %d, %v, want 0, nil", rows, err)
		}
	})
}

func TestSQLiteDatabase_UpdateFeed(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	tech, _ := db.CreateFolder(ctx, "Tech")
	feed := mustCreateFeed(t, db, "https://x.example/rss", 0)

	t.Run("same folder reports no move", func(t *testing.T) {
		feed.Name = "X"
		prev, rows, err := db.UpdateFeed(ctx, feed)
		if err != nil || prev != 0 || rows != 1 {
			t.Errorf("UpdateFeed() = %d, %d, %v, want 0, 1, nil", prev, rows, err)
		}
	})

	t.Run("new folder reports the folder left", func(t *testing.T) {
		feed.FolderID = tech.ID
		prev, rows, err := db.UpdateFeed(ctx, feed)
		if err != nil || prev != 1 || rows != 1 {
			t.Errorf("UpdateFeed() = %d, %d, %v, want 1, 1, nil", prev, rows, err)
		}
		feeds, _ := db.ListFeeds(ctx)
		if feeds[0].FolderID != tech.ID || feeds[0].Name != "X" {
			t.Errorf("stored feed = %+v", feeds[0])
		}
	})

	t.Run("missing feed is a no-op", func(t *testing.T) {
		_, rows, err := db.UpdateFeed(ctx, model.Feed{ID: 99, URL: "u", Name: "n", FolderID: 1})
		if err != nil || rows != 0 {
			t.Errorf("UpdateFeed(missing) = %d, %v, want 0, nil", rows, err)
		}
	})

	t.Run("unknown folder fails without partial write", func(t *testing.T) {
		moved := feed
		moved.Name = "Renamed"
		moved.FolderID = 77
		if _, _, err := db.UpdateFeed(ctx, moved); err == nil {
			t.Fatal("UpdateFeed(unknown folder) error = nil, want error")
		}
		feeds, _ := db.ListFeeds(ctx)
		if feeds[0].Name != "X" {
			t.Errorf("Name = %q after failed update, want X", feeds[0].Name)
		}
	})
}

func siteMeta(site string) model.FeedMetadata {
	return model.FeedMetadata{Site: site}
}

// assertEmpty fails the test for every table that has rows.
func assertEmpty(t *testing.T, db *SQLiteDatabase, tables ...string) {
	t.Helper()
	for _, table := range tables {
		var n int
		if err := db.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Errorf("%s has %d rows, want 0", table, n)
		}
	}
}

func sampleDoc() *reader.Document {
	return &reader.Document{
		Kind:    "atom",
		Title:   "Example",
		Authors: []reader.Person{{Name: "Feed Author"}},
		Entries: []reader.Entry{
			{Links: []string{"https://ex.com/a"}, Title: "A", Content: "a", Published: 100, Updated: 100},
			{Links: []string{"/b"}, Title: "B", Summary: "b", Published: 200, Authors: []reader.Person{{Name: "Jane", Email: "j@ex.com"}}},
		},
	}
}

func TestSQLiteDatabase_UpsertArticles(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts entries in order and advances the watermark", func(t *testing.T) {
		db := newTestDB(t)
		feed := mustCreateFeed(t, db, "https://ex.com/feed", 0)

		lastSeen, err := db.UpsertArticles(ctx, feed.ID, siteMeta("https://ex.com"), sampleDoc(), 200)
		if err != nil {
			t.Fatalf("UpsertArticles() error = %v", err)
		}
		if lastSeen != 200 {
			t.Errorf("lastSeen = %d, want 200", lastSeen)
		}

		articles, err := db.ReadArticlesByFeed(ctx, feed.ID, 0)
		if err != nil {
			t.Fatalf("ReadArticlesByFeed() error = %v", err)
		}
		want := []model.Article{
			{ID: 1, FeedID: feed.ID, URL: "https://ex.com/a", Title: "A", Content: "a", Created: 100, Updated: 100,
				Authors: []model.Author{{ID: 1, FeedID: feed.ID, Name: "Feed Author"}}},
			{ID: 2, FeedID: feed.ID, URL: "https://ex.com/b", Title: "B", Content: "b", Created: 200, Updated: 200,
				Authors: []model.Author{{ID: 2, FeedID: feed.ID, Name: "Jane", Email: "j@ex.com"}}},
		}
		if diff := cmp.Diff(want, articles); diff != "" {
			t.Errorf("articles mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		db := newTestDB(t)
		feed := mustCreateFeed(t, db, "https://ex.com/feed", 0)

		for i := 0; i < 2; i++ {
			if _, err := db.UpsertArticles(ctx, feed.ID, siteMeta("https://ex.com"), sampleDoc(), 200); err != nil {
				t.Fatalf("UpsertArticles() #%d error = %v", i, err)
			}
		}
		articles, _ := db.ReadArticlesByFeed(ctx, feed.ID, 0)
		if len(articles) != 2 {
			t.Errorf("len(articles) = %d, want 2", len(articles))
		}
		for _, a := range articles {
			if len(a.Authors) != 1 {
				t.Errorf("article %s has %d authors, want 1", a.URL, len(a.Authors))
			}
		}
	})

	t.Run("refreshes an existing url without moving timestamps back", func(t *testing.T) {
		db := newTestDB(t)
		feed := mustCreateFeed(t, db, "https://ex.com/feed", 0)

		first := &reader.Document{Entries: []reader.Entry{{Links: []string{"https://ex.com/p"}, Title: "v1", Published: 100, Updated: 300}}}
		second := &reader.Document{Entries: []reader.Entry{{Links: []string{"https://ex.com/p"}, Title: "v2", Published: 100, Updated: 250}}}
		db.UpsertArticles(ctx, feed.ID, model.FeedMetadata{}, first, 300)
		db.UpsertArticles(ctx, feed.ID, model.FeedMetadata{}, second, 300)

		articles, _ := db.ReadArticlesByFeed(ctx, feed.ID, 0)
		if len(articles) != 1 {
			t.Fatalf("len(articles) = %d, want 1", len(articles))
		}
		if articles[0].Title != "v2" || articles[0].Updated != 300 || articles[0].Created != 100 {
			t.Errorf("article = %+v, want title v2, created 100, updated 300", articles[0])
		}
	})

	t.Run("undated refresh keeps the stored timestamps", func(t *testing.T) {
		db := newTestDB(t)
		feed := mustCreateFeed(t, db, "https://ex.com/feed", 0)

		dated := &reader.Document{Entries: []reader.Entry{{Links: []string{"https://ex.com/p"}, Title: "v1", Published: 100, Updated: 300}}}
		undated := &reader.Document{Entries: []reader.Entry{{Links: []string{"https://ex.com/p"}, Title: "v2"}}}
		if _, err := db.UpsertArticles(ctx, feed.ID, model.FeedMetadata{}, dated, 300); err != nil {
			t.Fatalf("UpsertArticles(dated) error = %v", err)
		}
		if _, err := db.UpsertArticles(ctx, feed.ID, model.FeedMetadata{}, undated, 300); err != nil {
			t.Fatalf("UpsertArticles(undated) error = %v", err)
		}

		articles, _ := db.ReadArticlesByFeed(ctx, feed.ID, 0)
		if len(articles) != 1 {
			t.Fatalf("len(articles) = %d, want 1", len(articles))
		}
		if articles[0].Title != "v2" || articles[0].Created != 100 || articles[0].Updated != 300 {
			t.Errorf("article = %+v, want title v2, created 100, updated 300", articles[0])
		}
	})

	t.Run("undated entries are stamped with the clock", func(t *testing.T) {
		db := newTestDB(t)
		feed := mustCreateFeed(t, db, "https://ex.com/feed", 0)

		doc := &reader.Document{Entries: []reader.Entry{{ID: "https://ex.com/undated", Title: "U"}}}
		if _, err := db.UpsertArticles(ctx, feed.ID, model.FeedMetadata{}, doc, 0); err != nil {
			t.Fatalf("UpsertArticles() error = %v", err)
		}
		articles, _ := db.ReadArticlesByFeed(ctx, feed.ID, 0)
		if len(articles) != 1 || articles[0].Created != testNow.Unix() || articles[0].Updated != testNow.Unix() {
			t.Errorf("articles = %+v, want one stamped %d", articles, testNow.Unix())
		}
	})

	t.Run("watermark never decreases", func(t *testing.T) {
		db := newTestDB(t)
		feed := mustCreateFeed(t, db, "https://ex.com/feed", 0)

		db.UpsertArticles(ctx, feed.ID, model.FeedMetadata{}, &reader.Document{}, 500)
		lastSeen, err := db.UpsertArticles(ctx, feed.ID, model.FeedMetadata{}, &reader.Document{}, 400)
		if err != nil {
			t.Fatalf("UpsertArticles() error = %v", err)
		}
		if lastSeen != 500 {
			t.Errorf("lastSeen = %d, want 500", lastSeen)
		}
	})

	t.Run("missing feed rolls back", func(t *testing.T) {
		db := newTestDB(t)

		if _, err := db.UpsertArticles(ctx, 42, siteMeta("https://ex.com"), sampleDoc(), 200); err == nil {
			t.Fatal("UpsertArticles(missing feed) error = nil, want error")
		}
		assertEmpty(t, db, "articles", "authors", "article_authors")
	})

	t.Run("reads only articles updated after a time", func(t *testing.T) {
		db := newTestDB(t)
		feed := mustCreateFeed(t, db, "https://ex.com/feed", 0)
		db.UpsertArticles(ctx, feed.ID, siteMeta("https://ex.com"), sampleDoc(), 200)

		articles, _ := db.ReadArticlesByFeed(ctx, feed.ID, 100)
		if len(articles) != 1 || articles[0].Title != "B" {
			t.Errorf("articles after 100 = %+v, want only B", articles)
		}
	})
}

func TestSQLiteDatabase_DeleteFeed(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	feed := mustCreateFeed(t, db, "https://ex.com/feed", 0)
	db.UpsertArticles(ctx, feed.ID, siteMeta("https://ex.com"), sampleDoc(), 200)

	rows, err := db.DeleteFeed(ctx, feed.ID)
	if err != nil || rows != 1 {
		t.Fatalf("DeleteFeed() = %d, %v, want 1, nil", rows, err)
	}

	assertEmpty(t, db, "articles", "authors", "article_authors", "folder_feeds")
}

func TestSQLiteDatabase_UpsertArticlesSavesMetadata(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	feed := mustCreateFeed(t, db, "https://ex.com/feed", 0)

	meta := model.FeedMetadata{Site: "https://ex.com", Kind: "rss", Title: "Ex", Description: "d"}
	if _, err := db.UpsertArticles(ctx, feed.ID, meta, &reader.Document{}, 50); err != nil {
		t.Fatalf("UpsertArticles() error = %v", err)
	}

	feeds, _ := db.ListFeeds(ctx)
	got := model.FeedMetadata{Site: feeds[0].Site, Kind: feeds[0].Kind, Title: feeds[0].Title, Description: feeds[0].Description}
	if got != meta {
		t.Errorf("metadata = %+v, want %+v", got, meta)
	}

	// A failed ingestion leaves the earlier metadata in place.
	broken := &reader.Document{Entries: []reader.Entry{{Links: []string{"https://ex.com/p"}, Title: "P", Updated: 60}}}
	if _, err := db.UpsertArticles(ctx, feed.ID+1, model.FeedMetadata{Title: "Other"}, broken, 60); err == nil {
		t.Fatal("UpsertArticles(missing feed) error = nil, want error")
	}
	feeds, _ = db.ListFeeds(ctx)
	if feeds[0].Title != "Ex" || feeds[0].LastSeen != 50 {
		t.Errorf("feed after failed upsert = %+v", feeds[0])
	}
}

func TestSQLiteDatabase_DumpSchema(t *testing.T) {
	db := newTestDB(t)

	schema, err := db.DumpSchema(context.Background())
	if err != nil {
		t.Fatalf("DumpSchema() error = %v", err)
	}
	for _, table := range []string{"folders", "feeds", "folder_feeds", "articles", "authors", "article_authors"} {
		if !strings.Contains(schema, "CREATE TABLE "+table) {
			t.Errorf("schema missing table %s", table)
		}
	}
	if strings.Contains(schema, "schema_migrations") {
		t.Error("schema includes schema_migrations")
	}
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	db, err := NewSQLiteDatabase(filepath.Join(dir, "live.db"), fixedClock{testNow})
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	defer db.Close()
	mustCreateFeed(t, db, "https://ex.com/feed", 0)

	dest := filepath.Join(dir, "copy.db")
	if err := db.BackupTo(ctx, dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}

	restored, err := NewSQLiteDatabase(dest, nil)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer restored.Close()
	feeds, err := restored.ListFeeds(ctx)
	if err != nil || len(feeds) != 1 {
		t.Errorf("backup feeds = %v, %v, want 1 feed", feeds, err)
	}
}

func TestSQLiteDatabase_MigrationStatus(t *testing.T) {
	db := newTestDB(t)

	st, err := db.MigrationStatus()
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if !st.Current() {
		t.Errorf("status = %+v, want current", st)
	}
	if err := db.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() error = %v", err)
	}
}
