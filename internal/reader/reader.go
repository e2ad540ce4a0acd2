// Package reader is the synchronization core: it owns the in-memory mirror of
// the folder/feed/article tree, serializes every mutation through one worker
// loop, and runs feed fetches concurrently beside it.
package reader

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"pindash/internal/model"
)

var (
	// ErrDefaultFolder is returned when a command tries to delete the default folder.
	ErrDefaultFolder = errors.New("the default folder cannot be deleted")

	// ErrInvalidCommand is returned for commands whose payload cannot be applied.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrStopped is returned by Submit and Do once the engine has stopped.
	ErrStopped = errors.New("engine stopped")
)

// Database is the durable store. Every mutating method runs as a single
// transaction and leaves no trace when it returns an error.
type Database interface {
	// ReadFolderTree returns every folder with its feeds, in insertion order.
	ReadFolderTree(ctx context.Context) ([]model.Folder, error)

	// ReadArticlesByFeed returns the feed's articles updated after the given
	// unix time (0 for all), oldest ingested first, authors attached.
	ReadArticlesByFeed(ctx context.Context, feedID int64, after int64) ([]model.Article, error)

	CreateFolder(ctx context.Context, name string) (model.Folder, error)

	// RenameFolder reports how many rows changed (0 when the folder is gone).
	RenameFolder(ctx context.Context, id int64, name string) (int64, error)

	// DeleteFolder moves the folder's feeds to the default folder and removes
	// it. It returns the default folder id and the number of folders removed.
	DeleteFolder(ctx context.Context, id int64) (defaultID int64, rows int64, err error)

	// CreateFeed inserts the feed and its folder membership.
	CreateFeed(ctx context.Context, feed model.Feed) (model.Feed, error)

	// UpdateFeed saves name, url and folder. prevFolderID is the folder the
	// feed left, or 0 when the folder did not change.
	UpdateFeed(ctx context.Context, feed model.Feed) (prevFolderID int64, rows int64, err error)

	DeleteFeed(ctx context.Context, id int64) (int64, error)

	// UpsertArticles saves the feed's metadata and ingests doc's entries
	// (expected oldest first), resolving relative article urls against
	// meta.Site, then advances the feed's watermark to published. It returns
	// the stored watermark.
	UpsertArticles(ctx context.Context, feedID int64, meta model.FeedMetadata, doc *Document, published int64) (int64, error)
}

// Fetcher retrieves and parses a remote feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Document, error)
}

// Document is a parsed feed. Timestamps are unix seconds, 0 when absent.
type Document struct {
	ID          string
	Kind        string
	Title       string
	Description string
	Links       []string // alternate links, self link excluded
	Authors     []Person
	Published   int64
	Updated     int64
	Entries     []Entry // in document order, newest first for most feeds
}

// Entry is one item of a Document.
type Entry struct {
	ID        string
	Links     []string
	Title     string
	Content   string
	Summary   string
	Authors   []Person
	Published int64
	Updated   int64
}

// Person is an author as declared by the feed.
type Person struct {
	Name  string
	Email string
	URL   string
}

// Logger receives the engine's structured log lines; args are slog-style
// key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

// NewNopLogger returns a Logger that drops everything.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Clock stamps articles that carry no time of their own.
type Clock interface {
	Now() time.Time
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator names commands so their log lines can be correlated.
type IDGenerator interface {
	New() string
}

// UUIDGenerator names commands with random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
