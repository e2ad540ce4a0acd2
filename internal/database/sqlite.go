package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pindash/internal/database/migrations"
	"pindash/internal/database/queries"
	"pindash/internal/model"
	"pindash/internal/reader"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements reader.Database using SQLite.
type SQLiteDatabase struct {
	db      *sql.DB
	queries *queries.Queries
	clock   reader.Clock
	path    string
}

// NewSQLiteDatabase opens the database at path (or ":memory:") and brings
// its schema up to date. clock stamps articles that carry no timestamps of
// their own; nil means the wall clock.
func NewSQLiteDatabase(path string, clock reader.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return NewSQLiteDatabaseFromDB(db, path, clock), nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB, path string, clock reader.Clock) *SQLiteDatabase {
	if clock == nil {
		clock = reader.RealClock{}
	}
	return &SQLiteDatabase{
		db:      db,
		queries: queries.New(db),
		clock:   clock,
		path:    path,
	}
}

// OpenConnection opens a SQLite connection configured through DSN pragmas so
// every pooled connection gets them. An in-memory database is a single
// connection; a second one would see a different, empty database.
func OpenConnection(path string) (*sql.DB, error) {
	memory := path == ":memory:"

	params := "_foreign_keys=on&_busy_timeout=5000"
	if !memory {
		params += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", path+"?"+params)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Folder operations

func (s *SQLiteDatabase) CreateFolder(ctx context.Context, name string) (model.Folder, error) {
	row, err := s.queries.InsertFolder(ctx, name)
	if err != nil {
		return model.Folder{}, fmt.Errorf("inserting folder: %w", err)
	}
	return model.Folder{ID: row.ID, Name: row.Name, IsDefault: row.IsDefault, Feeds: []model.Feed{}}, nil
}

func (s *SQLiteDatabase) RenameFolder(ctx context.Context, id int64, name string) (int64, error) {
	rows, err := s.queries.UpdateFolderName(ctx, queries.UpdateFolderNameParams{Name: name, ID: id})
	if err != nil {
		return 0, fmt.Errorf("renaming folder: %w", err)
	}
	return rows, nil
}

// DeleteFolder moves every feed of the folder to the default folder, then
// removes the folder, in one transaction.
func (s *SQLiteDatabase) DeleteFolder(ctx context.Context, id int64) (int64, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)

	def, err := qtx.GetDefaultFolder(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("finding default folder: %w", err)
	}
	if def.ID == id {
		return def.ID, 0, reader.ErrDefaultFolder
	}

	if _, err := qtx.MoveFolderFeeds(ctx, queries.MoveFolderFeedsParams{ToFolderID: def.ID, FromFolderID: id}); err != nil {
		return 0, 0, fmt.Errorf("moving feeds to default folder: %w", err)
	}
	rows, err := qtx.DeleteFolder(ctx, id)
	if err != nil {
		return 0, 0, fmt.Errorf("deleting folder: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing transaction: %w", err)
	}
	return def.ID, rows, nil
}

// Feed operations

func (s *SQLiteDatabase) CreateFeed(ctx context.Context, feed model.Feed) (model.Feed, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Feed{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)

	folderID := feed.FolderID
	if folderID == 0 {
		def, err := qtx.GetDefaultFolder(ctx)
		if err != nil {
			return model.Feed{}, fmt.Errorf("finding default folder: %w", err)
		}
		folderID = def.ID
	}

	row, err := qtx.InsertFeed(ctx, queries.InsertFeedParams{Url: feed.URL, Name: feed.Name})
	if err != nil {
		return model.Feed{}, fmt.Errorf("inserting feed: %w", err)
	}
	if err := qtx.InsertFolderFeed(ctx, queries.InsertFolderFeedParams{FolderID: folderID, FeedID: row.ID}); err != nil {
		return model.Feed{}, fmt.Errorf("linking feed to folder %d: %w", folderID, err)
	}

	if err := tx.Commit(); err != nil {
		return model.Feed{}, fmt.Errorf("committing transaction: %w", err)
	}
	return feedFromRow(row, folderID), nil
}

// UpdateFeed saves url and name and, when FolderID differs from the stored
// folder, moves the feed. It returns the folder the feed left (0 if it did
// not move) and the number of feeds updated.
func (s *SQLiteDatabase) UpdateFeed(ctx context.Context, feed model.Feed) (int64, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)

	rows, err := qtx.UpdateFeed(ctx, queries.UpdateFeedParams{Url: feed.URL, Name: feed.Name, ID: feed.ID})
	if err != nil {
		return 0, 0, fmt.Errorf("updating feed: %w", err)
	}
	if rows == 0 {
		return 0, 0, nil
	}

	var prev int64
	current, err := qtx.GetFeedFolderID(ctx, feed.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("finding folder of feed: %w", err)
	}
	if feed.FolderID != 0 && feed.FolderID != current {
		if _, err := qtx.UpdateFolderFeed(ctx, queries.UpdateFolderFeedParams{FolderID: feed.FolderID, FeedID: feed.ID}); err != nil {
			return 0, 0, fmt.Errorf("moving feed to folder %d: %w", feed.FolderID, err)
		}
		prev = current
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing transaction: %w", err)
	}
	return prev, rows, nil
}

// DeleteFeed removes the feed; its membership, articles and authors go with
// it through cascading foreign keys.
func (s *SQLiteDatabase) DeleteFeed(ctx context.Context, id int64) (int64, error) {
	rows, err := s.queries.DeleteFeed(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("deleting feed: %w", err)
	}
	return rows, nil
}

func (s *SQLiteDatabase) ListFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := s.queries.ListFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	feeds := make([]model.Feed, 0, len(rows))
	for _, r := range rows {
		feeds = append(feeds, feedFromRow(r.Feed, r.FolderID))
	}
	return feeds, nil
}

// Article operations

// UpsertArticles stores doc's entries in order. An entry whose url already
// exists for the feed is refreshed in place. Entries without authors are
// credited to the document's first author. The feed's metadata and watermark
// are saved in the same transaction.
func (s *SQLiteDatabase) UpsertArticles(ctx context.Context, feedID int64, meta model.FeedMetadata, doc *reader.Document, published int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)
	now := s.clock.Now().Unix()

	var fallback []reader.Person
	if len(doc.Authors) > 0 && strings.TrimSpace(doc.Authors[0].Name) != "" {
		fallback = doc.Authors[:1]
	}

	for _, e := range doc.Entries {
		url := reader.ArticleURL(meta.Site, e)
		if url == "" {
			continue
		}
		content := e.Content
		if content == "" {
			content = e.Summary
		}

		articleID, err := qtx.UpsertArticle(ctx, queries.UpsertArticleParams{
			FeedID:    feedID,
			Url:       url,
			Title:     e.Title,
			Content:   content,
			Created:   nullInt(firstNonZero(e.Published, e.Updated)),
			Updated:   nullInt(e.Updated),
			FirstSeen: now,
		})
		if err != nil {
			return 0, fmt.Errorf("upserting article %s: %w", url, err)
		}

		authors := e.Authors
		if len(authors) == 0 {
			authors = fallback
		}
		for _, a := range authors {
			name := strings.TrimSpace(a.Name)
			if name == "" {
				continue
			}
			authorID, err := qtx.UpsertAuthor(ctx, queries.UpsertAuthorParams{
				FeedID: feedID,
				Name:   name,
				Email:  nullString(a.Email),
				Url:    nullString(a.URL),
			})
			if err != nil {
				return 0, fmt.Errorf("upserting author %q: %w", name, err)
			}
			if err := qtx.LinkArticleAuthor(ctx, queries.LinkArticleAuthorParams{ArticleID: articleID, AuthorID: authorID}); err != nil {
				return 0, fmt.Errorf("linking author %q: %w", name, err)
			}
		}
	}

	rows, err := qtx.UpdateFeedMetadata(ctx, queries.UpdateFeedMetadataParams{
		Site:        nullString(meta.Site),
		Type:        nullString(meta.Kind),
		Title:       nullString(meta.Title),
		Description: nullString(meta.Description),
		ID:          feedID,
	})
	if err != nil {
		return 0, fmt.Errorf("updating feed metadata: %w", err)
	}
	if rows == 0 {
		return 0, fmt.Errorf("feed %d not found", feedID)
	}

	lastSeen, err := qtx.AdvanceFeedLastSeen(ctx, queries.AdvanceFeedLastSeenParams{LastSeen: published, ID: feedID})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("feed %d not found", feedID)
		}
		return 0, fmt.Errorf("advancing last seen: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return lastSeen, nil
}

// ReadArticlesByFeed returns the feed's articles updated strictly after the
// given time, in ingestion order, with their authors.
func (s *SQLiteDatabase) ReadArticlesByFeed(ctx context.Context, feedID int64, after int64) ([]model.Article, error) {
	rows, err := s.queries.ListArticlesByFeed(ctx, queries.ListArticlesByFeedParams{FeedID: feedID, After: after})
	if err != nil {
		return nil, fmt.Errorf("listing articles: %w", err)
	}

	articles := []model.Article{}
	for _, r := range rows {
		if n := len(articles); n == 0 || articles[n-1].ID != r.ID {
			articles = append(articles, model.Article{
				ID:      r.ID,
				FeedID:  r.FeedID,
				URL:     r.Url,
				Title:   r.Title,
				Content: r.Content,
				Created: r.Created.Int64,
				Updated: r.Updated.Int64,
			})
		}
		if r.AuthorID.Valid {
			a := &articles[len(articles)-1]
			a.Authors = append(a.Authors, model.Author{
				ID:     r.AuthorID.Int64,
				FeedID: r.FeedID,
				Name:   r.AuthorName.String,
				Email:  r.AuthorEmail.String,
				URL:    r.AuthorUrl.String,
			})
		}
	}
	return articles, nil
}

// Tree

// ReadFolderTree returns all folders in id order, each with its feeds in id
// order. Article lists are left unloaded.
func (s *SQLiteDatabase) ReadFolderTree(ctx context.Context) ([]model.Folder, error) {
	rows, err := s.queries.ListFolderTree(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing folder tree: %w", err)
	}

	var folders []model.Folder
	for _, r := range rows {
		if n := len(folders); n == 0 || folders[n-1].ID != r.FolderID {
			folders = append(folders, model.Folder{
				ID:        r.FolderID,
				Name:      r.FolderName,
				IsDefault: r.FolderIsDefault,
				Feeds:     []model.Feed{},
			})
		}
		if !r.FeedID.Valid {
			continue
		}
		f := &folders[len(folders)-1]
		f.Feeds = append(f.Feeds, model.Feed{
			ID:          r.FeedID.Int64,
			FolderID:    r.FolderID,
			Name:        r.FeedName.String,
			URL:         r.FeedUrl.String,
			Site:        r.FeedSite.String,
			Kind:        r.FeedType.String,
			Title:       r.FeedTitle.String,
			Description: r.FeedDescription.String,
			LastSeen:    r.FeedLastSeen.Int64,
		})
	}
	return folders, nil
}

// Maintenance

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// MigrationStatus reports the applied and latest schema versions.
func (s *SQLiteDatabase) MigrationStatus() (migrations.Status, error) {
	return migrations.ReadStatus(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// DumpSchema returns the CREATE statements of the live schema, tables
// first, without SQLite internals and the migration bookkeeping table.
func (s *SQLiteDatabase) DumpSchema(ctx context.Context) (string, error) {
	return extractSchema(ctx, s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(ctx context.Context, destPath string) error {
	_, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func extractSchema(ctx context.Context, db *sql.DB) (string, error) {
	query := `
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND tbl_name != 'schema_migrations'
		ORDER BY
		  CASE type
		    WHEN 'table' THEN 1
		    WHEN 'index' THEN 2
		  END,
		  name
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("scan failed: %w", err)
		}
		b.WriteString(stmt)
		b.WriteString("\n\n")
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("reading schema: %w", err)
	}
	return b.String(), nil
}

func feedFromRow(r queries.Feed, folderID int64) model.Feed {
	return model.Feed{
		ID:          r.ID,
		FolderID:    folderID,
		Name:        r.Name,
		URL:         r.Url,
		Site:        r.Site.String,
		Kind:        r.Type.String,
		Title:       r.Title.String,
		Description: r.Description.String,
		LastSeen:    r.LastSeen,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func firstNonZero(vals ...int64) int64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

// Compile-time check that SQLiteDatabase implements reader.Database
var _ reader.Database = (*SQLiteDatabase)(nil)
