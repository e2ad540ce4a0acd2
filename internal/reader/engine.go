package reader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"pindash/internal/model"
)

// Options tune the engine. Zero values select the defaults.
type Options struct {
	QueueSize     int   // buffered commands before Submit blocks
	MaxConcurrent int64 // fetches allowed on the network at once
}

const (
	defaultQueueSize     = 64
	defaultMaxConcurrent = 8
)

type envelope struct {
	id    string
	cmd   Command
	reply chan reply // nil for fire-and-forget
}

type reply struct {
	res Result
	err error
}

// Engine owns the mirror and applies every mutation on a single worker loop:
// database write first, mirror patch second. Fetches run as background tasks
// and hand their results back to the loop for ingestion.
type Engine struct {
	database Database
	fetcher  Fetcher
	mirror   *Mirror
	logger   Logger
	clock    Clock
	idgen    IDGenerator

	queue       chan envelope
	completions chan fetchResult
	sem         *semaphore.Weighted

	mu          sync.Mutex
	started     bool
	stopping    bool
	inflight    int
	idle        chan struct{}           // closed while no fetch is in flight
	pending     map[int64]chan struct{} // feed id -> closed once its fetch is ingested
	cancelLoop  context.CancelFunc
	cancelTasks context.CancelFunc
	taskCtx     context.Context
	loopDone    chan struct{}
}

// NewEngine creates an engine with the provided dependencies. Call Start
// before submitting commands.
func NewEngine(database Database, fetcher Fetcher, logger Logger, clock Clock, idgen IDGenerator, opts Options) *Engine {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	if idgen == nil {
		idgen = UUIDGenerator{}
	}
	idle := make(chan struct{})
	close(idle)
	return &Engine{
		database:    database,
		fetcher:     fetcher,
		mirror:      NewMirror(),
		logger:      logger,
		clock:       clock,
		idgen:       idgen,
		queue:       make(chan envelope, opts.QueueSize),
		completions: make(chan fetchResult),
		sem:         semaphore.NewWeighted(opts.MaxConcurrent),
		idle:        idle,
		pending:     make(map[int64]chan struct{}),
		loopDone:    make(chan struct{}),
	}
}

// Mirror returns the engine's read model.
func (e *Engine) Mirror() *Mirror {
	return e.mirror
}

// Start seeds the mirror from the database and launches the worker loop.
// The loop runs until Stop is called or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("engine already started")
	}

	folders, err := e.database.ReadFolderTree(ctx)
	if err != nil {
		return fmt.Errorf("reading folder tree: %w", err)
	}
	e.mirror.Load(folders)

	loopCtx, cancelLoop := context.WithCancel(ctx)
	taskCtx, cancelTasks := context.WithCancel(ctx)
	e.cancelLoop = cancelLoop
	e.cancelTasks = cancelTasks
	e.taskCtx = taskCtx
	e.started = true

	go e.run(loopCtx)

	e.logger.Info("engine started", "folders", len(folders))
	return nil
}

// Stop aborts in-flight fetches, lets the loop settle them, then stops the
// loop. Queued commands that were not picked up are dropped.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.stopping = true
	idle := e.idle
	e.mu.Unlock()

	e.cancelTasks()
	<-idle
	e.cancelLoop()
	<-e.loopDone
	e.logger.Info("engine stopped")
}

// Wait blocks until no fetch is in flight. Fetches accepted while it waits
// extend the wait; use Result.Done to wait for one fetch.
func (e *Engine) Wait() {
	e.mu.Lock()
	idle := e.idle
	e.mu.Unlock()
	<-idle
}

// beginTask registers a fetch of feedID. It fails once Stop has begun so
// Stop never waits on a task it cannot see.
func (e *Engine) beginTask(feedID int64) (chan struct{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopping {
		return nil, ErrStopped
	}
	if e.inflight == 0 {
		e.idle = make(chan struct{})
	}
	e.inflight++
	done := make(chan struct{})
	e.pending[feedID] = done
	return done, nil
}

func (e *Engine) endTask(feedID int64, done chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	close(done)
	if e.pending[feedID] == done {
		delete(e.pending, feedID)
	}
	e.inflight--
	if e.inflight == 0 {
		close(e.idle)
	}
}

// pendingFetch returns the done channel of the feed's running fetch, or nil.
func (e *Engine) pendingFetch(feedID int64) <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if done, ok := e.pending[feedID]; ok {
		return done
	}
	return nil
}

// Submit enqueues cmd without waiting for it to be applied.
func (e *Engine) Submit(ctx context.Context, cmd Command) error {
	return e.enqueue(ctx, envelope{id: e.idgen.New(), cmd: cmd})
}

// Do enqueues cmd and waits until its database write and mirror patch are
// done. For FetchFeed it returns once the fetch has been accepted and the
// feed shows as fetching; Result.Done is closed after ingestion.
func (e *Engine) Do(ctx context.Context, cmd Command) (Result, error) {
	env := envelope{id: e.idgen.New(), cmd: cmd, reply: make(chan reply, 1)}
	if err := e.enqueue(ctx, env); err != nil {
		return Result{}, err
	}
	select {
	case r := <-env.reply:
		return r.res, r.err
	case <-e.loopDone:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (e *Engine) enqueue(ctx context.Context, env envelope) error {
	select {
	case <-e.loopDone:
		return ErrStopped
	default:
	}
	select {
	case e.queue <- env:
		return nil
	case <-e.loopDone:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-e.queue:
			res, err := e.dispatch(ctx, env)
			if env.reply != nil {
				env.reply <- reply{res: res, err: err}
			}
		case r := <-e.completions:
			e.complete(ctx, r)
			e.endTask(r.feed.ID, r.done)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, env envelope) (Result, error) {
	e.logger.Debug("command received", "cmd_id", env.id, "cmd", env.cmd.command())

	var (
		res Result
		err error
	)
	switch c := env.cmd.(type) {
	case CreateFolder:
		res, err = e.createFolder(ctx, c)
	case RenameFolder:
		res, err = e.renameFolder(ctx, c)
	case DeleteFolder:
		res, err = e.deleteFolder(ctx, c)
	case CreateFeed:
		res, err = e.createFeed(ctx, c)
	case UpdateFeed:
		res, err = e.updateFeed(ctx, c)
	case DeleteFeed:
		res, err = e.deleteFeed(ctx, c)
	case FetchFeed:
		res, err = e.fetchFeed(ctx, env.id, c)
	default:
		err = fmt.Errorf("%w: unknown command %T", ErrInvalidCommand, env.cmd)
	}

	if err != nil {
		e.logger.Error("command failed", "cmd_id", env.id, "cmd", env.cmd.command(), "error", err)
		return Result{}, err
	}
	if !res.Changed {
		e.logger.Debug("command was a no-op", "cmd_id", env.id, "cmd", env.cmd.command(), "id", res.ID)
	}
	return res, nil
}

func (e *Engine) createFolder(ctx context.Context, c CreateFolder) (Result, error) {
	name := strings.TrimSpace(c.Folder.Name)
	if name == "" {
		return Result{}, fmt.Errorf("%w: folder name is empty", ErrInvalidCommand)
	}
	folder, err := e.database.CreateFolder(ctx, name)
	if err != nil {
		return Result{}, fmt.Errorf("creating folder: %w", err)
	}
	e.mirror.InsertFolder(folder)
	e.logger.Info("folder created", "folder_id", folder.ID, "name", folder.Name)
	return Result{ID: folder.ID, Changed: true}, nil
}

func (e *Engine) renameFolder(ctx context.Context, c RenameFolder) (Result, error) {
	name := strings.TrimSpace(c.Folder.Name)
	if name == "" {
		return Result{}, fmt.Errorf("%w: folder name is empty", ErrInvalidCommand)
	}
	rows, err := e.database.RenameFolder(ctx, c.Folder.ID, name)
	if err != nil {
		return Result{}, fmt.Errorf("renaming folder %d: %w", c.Folder.ID, err)
	}
	if rows == 0 {
		return Result{ID: c.Folder.ID}, nil
	}
	e.mirror.RenameFolder(c.Folder.ID, name)
	e.logger.Info("folder renamed", "folder_id", c.Folder.ID, "name", name)
	return Result{ID: c.Folder.ID, Changed: true}, nil
}

func (e *Engine) deleteFolder(ctx context.Context, c DeleteFolder) (Result, error) {
	if c.Folder.IsDefault {
		return Result{}, ErrDefaultFolder
	}
	if f, ok := e.mirror.Folder(c.Folder.ID); ok && f.IsDefault {
		return Result{}, ErrDefaultFolder
	}
	defaultID, rows, err := e.database.DeleteFolder(ctx, c.Folder.ID)
	if err != nil {
		return Result{}, fmt.Errorf("deleting folder %d: %w", c.Folder.ID, err)
	}
	if rows == 0 {
		return Result{ID: c.Folder.ID}, nil
	}
	e.mirror.RemoveFolder(c.Folder.ID, defaultID)
	e.logger.Info("folder deleted", "folder_id", c.Folder.ID, "feeds_to", defaultID)
	return Result{ID: c.Folder.ID, Changed: true}, nil
}

func (e *Engine) createFeed(ctx context.Context, c CreateFeed) (Result, error) {
	feed := c.Feed
	feed.URL = strings.TrimSpace(feed.URL)
	if feed.URL == "" {
		return Result{}, fmt.Errorf("%w: feed url is empty", ErrInvalidCommand)
	}
	if feed.Name = strings.TrimSpace(feed.Name); feed.Name == "" {
		feed.Name = feed.URL
	}
	if feed.FolderID == 0 {
		feed.FolderID = e.mirror.DefaultFolderID()
	}
	created, err := e.database.CreateFeed(ctx, feed)
	if err != nil {
		return Result{}, fmt.Errorf("creating feed: %w", err)
	}
	e.mirror.InsertFeed(created)
	e.logger.Info("feed created", "feed_id", created.ID, "folder_id", created.FolderID, "url", created.URL)
	return Result{ID: created.ID, Changed: true}, nil
}

func (e *Engine) updateFeed(ctx context.Context, c UpdateFeed) (Result, error) {
	feed := c.Feed
	feed.URL = strings.TrimSpace(feed.URL)
	if feed.URL == "" {
		return Result{}, fmt.Errorf("%w: feed url is empty", ErrInvalidCommand)
	}
	current, ok := e.mirror.Feed(feed.ID)
	if feed.FolderID == 0 {
		if !ok {
			return Result{ID: feed.ID}, nil
		}
		feed.FolderID = current.FolderID
	}
	prev, rows, err := e.database.UpdateFeed(ctx, feed)
	if err != nil {
		return Result{}, fmt.Errorf("updating feed %d: %w", feed.ID, err)
	}
	if rows == 0 {
		return Result{ID: feed.ID}, nil
	}
	if prev != 0 {
		e.mirror.MoveFeed(feed)
		e.logger.Info("feed moved", "feed_id", feed.ID, "from", prev, "to", feed.FolderID)
	} else {
		e.mirror.UpdateFeed(feed)
	}
	e.logger.Info("feed updated", "feed_id", feed.ID, "url", feed.URL)
	return Result{ID: feed.ID, Changed: true}, nil
}

func (e *Engine) deleteFeed(ctx context.Context, c DeleteFeed) (Result, error) {
	rows, err := e.database.DeleteFeed(ctx, c.Feed.ID)
	if err != nil {
		return Result{}, fmt.Errorf("deleting feed %d: %w", c.Feed.ID, err)
	}
	if rows == 0 {
		return Result{ID: c.Feed.ID}, nil
	}
	e.mirror.RemoveFeed(c.Feed.ID)
	e.logger.Info("feed deleted", "feed_id", c.Feed.ID)
	return Result{ID: c.Feed.ID, Changed: true}, nil
}

func (e *Engine) fetchFeed(ctx context.Context, cmdID string, c FetchFeed) (Result, error) {
	feed, ok := e.mirror.Feed(c.Feed.ID)
	if !ok {
		return Result{ID: c.Feed.ID}, nil
	}
	if feed.Fetching {
		e.logger.Debug("fetch already in flight", "cmd_id", cmdID, "feed_id", feed.ID)
		return Result{ID: feed.ID, Done: e.pendingFetch(feed.ID)}, nil
	}

	// Load the stored articles before the first fetch so the merge below
	// does not start from an empty list. On failure ingestion reads the
	// full list instead.
	if _, loaded := e.mirror.Articles(feed.ID); !loaded {
		articles, err := e.database.ReadArticlesByFeed(ctx, feed.ID, 0)
		if err != nil {
			e.logger.Warn("loading articles failed", "cmd_id", cmdID, "feed_id", feed.ID, "error", err)
		} else {
			if articles == nil {
				articles = []model.Article{}
			}
			e.mirror.SetArticles(feed.ID, articles)
		}
	}

	done, err := e.beginTask(feed.ID)
	if err != nil {
		return Result{}, err
	}
	if !e.mirror.BeginFetch(feed.ID) {
		e.endTask(feed.ID, done)
		return Result{ID: feed.ID}, nil
	}
	go e.fetch(e.taskCtx, cmdID, feed, done)

	e.logger.Debug("fetch started", "cmd_id", cmdID, "feed_id", feed.ID, "url", feed.URL)
	return Result{ID: feed.ID, Changed: true, Done: done}, nil
}
