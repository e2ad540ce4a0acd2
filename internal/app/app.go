package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"pindash/internal/config"
	"pindash/internal/database"
	"pindash/internal/database/migrations"
	"pindash/internal/fetch"
	"pindash/internal/model"
	"pindash/internal/opml"
	"pindash/internal/reader"
)

// ErrNotFound is returned when a command names a folder or feed that does
// not exist.
var ErrNotFound = errors.New("not found")

// Options override collaborators of an App. Zero values select the
// production ones.
type Options struct {
	Console io.Writer      // receives log lines in addition to the log file
	Fetcher reader.Fetcher // defaults to an HTTP fetcher built from config
	Clock   reader.Clock
}

// App is the application layer between the CLI (or HTTP server) and the
// engine. It builds every dependency from config, exposes operations keyed
// by ids and raw strings, and tears everything down on Close.
type App struct {
	cfg     *config.Config
	db      *database.SQLiteDatabase
	engine  *reader.Engine
	logger  reader.Logger
	clock   reader.Clock
	session *Session
	logFile *os.File
}

// NewApp creates a fully wired App from the given config and starts its
// engine. command names the CLI command being run (e.g. "sync"). The caller
// must call Close when done.
func NewApp(cfg *config.Config, command string, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = reader.RealClock{}
	}

	session := NewSession(command, clock.Now())
	slogger, logFile, err := newLogger(cfg.LogDir, session.ID, ParseLevel(cfg.LogLevel), opts.Console)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	db, err := database.NewDatabaseFromConfig(cfg.Database, clock)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("checking database schema: %w", err)
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewHTTPFetcher(fetch.Options{
			UserAgent:    cfg.Fetch.UserAgent,
			Timeout:      cfg.Fetch.Timeout(),
			HostInterval: cfg.Fetch.HostInterval(),
			Logger:       logger,
		})
	}

	engine := reader.NewEngine(db, fetcher, logger, clock, reader.UUIDGenerator{}, reader.Options{
		QueueSize:     cfg.Engine.QueueSize,
		MaxConcurrent: cfg.Fetch.MaxConcurrent,
	})
	if err := engine.Start(context.Background()); err != nil {
		db.Close()
		logFile.Close()
		return nil, fmt.Errorf("starting engine: %w", err)
	}

	logger.Info("session started", "command", command, "database", db.Path())

	return &App{
		cfg:     cfg,
		db:      db,
		engine:  engine,
		logger:  logger,
		clock:   clock,
		session: session,
		logFile: logFile,
	}, nil
}

// Config returns the config the app was built from.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Logger returns the session logger.
func (a *App) Logger() reader.Logger {
	return a.logger
}

// Fail marks the session as failed; Close records it.
func (a *App) Fail() {
	a.session.Fail()
}

// Tree returns the folder tree as the mirror currently shows it.
func (a *App) Tree() []model.Folder {
	return a.engine.Mirror().Folders()
}

// Feed returns one feed from the mirror.
func (a *App) Feed(id int64) (model.Feed, error) {
	feed, ok := a.engine.Mirror().Feed(id)
	if !ok {
		return model.Feed{}, fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}
	return feed, nil
}

// Articles returns a feed's articles, oldest ingested first. The mirror
// answers when it has them; otherwise they are read from the database.
func (a *App) Articles(ctx context.Context, feedID int64) ([]model.Article, error) {
	if _, err := a.Feed(feedID); err != nil {
		return nil, err
	}
	if articles, loaded := a.engine.Mirror().Articles(feedID); loaded {
		return articles, nil
	}
	return a.db.ReadArticlesByFeed(ctx, feedID, 0)
}

// CreateFolder creates a folder and returns its id.
func (a *App) CreateFolder(ctx context.Context, name string) (int64, error) {
	res, err := a.engine.Do(ctx, reader.CreateFolder{Folder: model.Folder{Name: name}})
	if err != nil {
		return 0, err
	}
	return res.ID, nil
}

// RenameFolder renames a folder.
func (a *App) RenameFolder(ctx context.Context, id int64, name string) error {
	folder, ok := a.engine.Mirror().Folder(id)
	if !ok {
		return fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	folder.Name = name
	_, err := a.engine.Do(ctx, reader.RenameFolder{Folder: folder})
	return err
}

// DeleteFolder deletes a folder; its feeds move to the default folder.
func (a *App) DeleteFolder(ctx context.Context, id int64) error {
	folder, ok := a.engine.Mirror().Folder(id)
	if !ok {
		return fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	_, err := a.engine.Do(ctx, reader.DeleteFolder{Folder: folder})
	return err
}

// AddFeed subscribes to url in folderID (0 for the default folder) and
// returns the new feed id.
func (a *App) AddFeed(ctx context.Context, url, name string, folderID int64) (int64, error) {
	if folderID != 0 {
		if _, ok := a.engine.Mirror().Folder(folderID); !ok {
			return 0, fmt.Errorf("folder %d: %w", folderID, ErrNotFound)
		}
	}
	res, err := a.engine.Do(ctx, reader.CreateFeed{Feed: model.NewFeed(url, name, folderID)})
	if err != nil {
		return 0, err
	}
	return res.ID, nil
}

// FeedEdit lists the feed fields to change. Empty strings and a zero
// FolderID leave the field as it is.
type FeedEdit struct {
	URL      string
	Name     string
	FolderID int64
}

// EditFeed changes a feed's url, name or folder.
func (a *App) EditFeed(ctx context.Context, id int64, edit FeedEdit) error {
	feed, err := a.Feed(id)
	if err != nil {
		return err
	}
	if edit.URL != "" {
		feed.URL = edit.URL
	}
	if edit.Name != "" {
		feed.Name = edit.Name
	}
	if edit.FolderID != 0 {
		if _, ok := a.engine.Mirror().Folder(edit.FolderID); !ok {
			return fmt.Errorf("folder %d: %w", edit.FolderID, ErrNotFound)
		}
		feed.FolderID = edit.FolderID
	}
	_, err = a.engine.Do(ctx, reader.UpdateFeed{Feed: feed})
	return err
}

// RemoveFeed unsubscribes and drops the feed's articles.
func (a *App) RemoveFeed(ctx context.Context, id int64) error {
	feed, err := a.Feed(id)
	if err != nil {
		return err
	}
	_, err = a.engine.Do(ctx, reader.DeleteFeed{Feed: feed})
	return err
}

// FetchFeed starts a fetch of one feed. It reports false when a fetch of
// that feed was already running. With wait set it returns only after the
// feed's fetch, new or running, has been ingested.
func (a *App) FetchFeed(ctx context.Context, id int64, wait bool) (bool, error) {
	feed, err := a.Feed(id)
	if err != nil {
		return false, err
	}
	res, err := a.engine.Do(ctx, reader.FetchFeed{Feed: feed})
	if err != nil {
		return false, err
	}
	if wait {
		if err := awaitFetches(ctx, res.Done); err != nil {
			return res.Changed, err
		}
	}
	return res.Changed, nil
}

// awaitFetches blocks until every done channel is closed. Nil channels are
// skipped.
func awaitFetches(ctx context.Context, dones ...<-chan struct{}) error {
	for _, done := range dones {
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// SyncResult summarizes a Sync run per feed.
type SyncResult struct {
	Feed     model.Feed // state after the sync
	Previous int64      // last seen before the sync
}

// Updated reports whether the feed's watermark moved.
func (r SyncResult) Updated() bool {
	return r.Feed.LastSeen > r.Previous
}

// Sync fetches every stored feed concurrently and waits until each fetch
// has been ingested.
func (a *App) Sync(ctx context.Context) ([]SyncResult, error) {
	feeds, err := a.db.ListFeeds(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]SyncResult, 0, len(feeds))
	dones := make([]<-chan struct{}, 0, len(feeds))
	for _, feed := range feeds {
		res, err := a.engine.Do(ctx, reader.FetchFeed{Feed: feed})
		if err != nil {
			return nil, fmt.Errorf("starting fetch of feed %d: %w", feed.ID, err)
		}
		dones = append(dones, res.Done)
		results = append(results, SyncResult{Feed: feed, Previous: feed.LastSeen})
	}
	if err := awaitFetches(ctx, dones...); err != nil {
		return nil, err
	}

	for i := range results {
		if feed, ok := a.engine.Mirror().Feed(results[i].Feed.ID); ok {
			results[i].Feed = feed
		}
	}
	a.logger.Info("sync finished", "feeds", len(results))
	return results, nil
}

// ImportResult counts what an OPML import did.
type ImportResult struct {
	Folders int // folders created
	Feeds   int // feeds subscribed
	Skipped int // entries whose url was already subscribed
}

// ImportOPML subscribes to every feed in an OPML document, creating
// folders by name as needed. Feeds already subscribed are skipped.
func (a *App) ImportOPML(ctx context.Context, r io.Reader) (ImportResult, error) {
	entries, err := opml.Parse(r)
	if err != nil {
		return ImportResult{}, err
	}

	var result ImportResult
	folders := make(map[string]int64)
	subscribed := make(map[string]bool)
	for _, f := range a.Tree() {
		folders[strings.ToLower(f.Name)] = f.ID
		for _, fe := range f.Feeds {
			subscribed[fe.URL] = true
		}
	}
	defaultID := a.engine.Mirror().DefaultFolderID()

	for _, e := range entries {
		if subscribed[e.URL] {
			result.Skipped++
			continue
		}
		folderID := defaultID
		if e.Folder != "" {
			key := strings.ToLower(e.Folder)
			id, ok := folders[key]
			if !ok {
				id, err = a.CreateFolder(ctx, e.Folder)
				if err != nil {
					return result, fmt.Errorf("creating folder %q: %w", e.Folder, err)
				}
				folders[key] = id
				result.Folders++
			}
			folderID = id
		}
		if _, err := a.AddFeed(ctx, e.URL, e.Title, folderID); err != nil {
			return result, fmt.Errorf("subscribing to %s: %w", e.URL, err)
		}
		subscribed[e.URL] = true
		result.Feeds++
	}

	a.logger.Info("opml imported", "folders", result.Folders, "feeds", result.Feeds, "skipped", result.Skipped)
	return result, nil
}

// ExportOPML writes every subscription as OPML.
func (a *App) ExportOPML(w io.Writer) error {
	return opml.Export(w, "pindash subscriptions", a.clock.Now(), a.Tree())
}

// DumpSchema returns the live database schema.
func (a *App) DumpSchema(ctx context.Context) (string, error) {
	return a.db.DumpSchema(ctx)
}

// BackupDatabase writes a consistent copy of the database to destPath.
func (a *App) BackupDatabase(ctx context.Context, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("backup destination %s already exists", destPath)
	}
	if err := a.db.BackupTo(ctx, destPath); err != nil {
		return err
	}
	a.logger.Info("database backed up", "dest", destPath)
	return nil
}

// MigrationStatus reports the database schema version.
func (a *App) MigrationStatus() (migrations.Status, error) {
	return a.db.MigrationStatus()
}

// Close stops the engine, closes the database, and records how the session
// ended.
func (a *App) Close() error {
	var firstErr error

	a.engine.Stop()

	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
		a.session.Fail()
	}

	a.logger.Info("session finished", "command", a.session.Command, "status", a.session.Status,
		"elapsed", a.clock.Now().Sub(a.session.Started))

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
