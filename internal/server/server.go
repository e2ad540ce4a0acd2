// Package server exposes the engine over a local JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pindash/internal/app"
	"pindash/internal/model"
	"pindash/internal/reader"
)

// Backend is the part of the application the API drives.
type Backend interface {
	Tree() []model.Folder
	Feed(id int64) (model.Feed, error)
	Articles(ctx context.Context, feedID int64) ([]model.Article, error)
	CreateFolder(ctx context.Context, name string) (int64, error)
	RenameFolder(ctx context.Context, id int64, name string) error
	DeleteFolder(ctx context.Context, id int64) error
	AddFeed(ctx context.Context, url, name string, folderID int64) (int64, error)
	EditFeed(ctx context.Context, id int64, edit app.FeedEdit) error
	RemoveFeed(ctx context.Context, id int64) error
	FetchFeed(ctx context.Context, id int64, wait bool) (bool, error)
	Sync(ctx context.Context) ([]app.SyncResult, error)
	ImportOPML(ctx context.Context, r io.Reader) (app.ImportResult, error)
	ExportOPML(w io.Writer) error
}

// Server is the HTTP front of a Backend.
type Server struct {
	backend Backend
	logger  reader.Logger
	router  chi.Router
}

// New creates a server with its routes registered.
func New(backend Backend, logger reader.Logger) *Server {
	if logger == nil {
		logger = reader.NewNopLogger()
	}
	s := &Server{backend: backend, logger: logger}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/tree", s.handleTree)
		r.Post("/sync", s.handleSync)

		r.Post("/folders", s.handleCreateFolder)
		r.Patch("/folders/{folderID}", s.handleRenameFolder)
		r.Delete("/folders/{folderID}", s.handleDeleteFolder)

		r.Post("/feeds", s.handleCreateFeed)
		r.Get("/feeds/{feedID}", s.handleGetFeed)
		r.Patch("/feeds/{feedID}", s.handleEditFeed)
		r.Delete("/feeds/{feedID}", s.handleDeleteFeed)
		r.Get("/feeds/{feedID}/articles", s.handleArticles)
		r.Post("/feeds/{feedID}/fetch", s.handleFetch)

		r.Post("/opml", s.handleImportOPML)
		r.Get("/opml", s.handleExportOPML)
	})

	s.router = r
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start))
	})
}

// --- Handlers ---

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	tree := s.backend.Tree()
	out := make([]folderView, 0, len(tree))
	for _, f := range tree {
		out = append(out, newFolderView(f))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	results, err := s.backend.Sync(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]syncView, 0, len(results))
	for _, res := range results {
		out = append(out, syncView{Feed: newFeedView(res.Feed), Updated: res.Updated()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	id, err := s.backend.CreateFolder(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleRenameFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "folderID")
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.backend.RenameFolder(r.Context(), id, req.Name); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "folderID")
	if !ok {
		return
	}
	if err := s.backend.DeleteFolder(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL      string `json:"url"`
		Name     string `json:"name"`
		FolderID int64  `json:"folder_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	id, err := s.backend.AddFeed(r.Context(), req.URL, req.Name, req.FolderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "feedID")
	if !ok {
		return
	}
	feed, err := s.backend.Feed(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newFeedView(feed))
}

func (s *Server) handleEditFeed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "feedID")
	if !ok {
		return
	}
	var req struct {
		URL      string `json:"url"`
		Name     string `json:"name"`
		FolderID int64  `json:"folder_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	edit := app.FeedEdit{URL: req.URL, Name: req.Name, FolderID: req.FolderID}
	if err := s.backend.EditFeed(r.Context(), id, edit); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "feedID")
	if !ok {
		return
	}
	if err := s.backend.RemoveFeed(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "feedID")
	if !ok {
		return
	}
	articles, err := s.backend.Articles(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]articleView, 0, len(articles))
	for _, a := range articles {
		out = append(out, newArticleView(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "feedID")
	if !ok {
		return
	}
	wait := r.URL.Query().Get("wait") == "true"
	started, err := s.backend.FetchFeed(r.Context(), id, wait)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusAccepted
	if wait {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]bool{"started": started})
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.ImportOPML(r.Context(), http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"folders": res.Folders,
		"feeds":   res.Feeds,
		"skipped": res.Skipped,
	})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/x-opml; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="pindash.opml"`)
	if err := s.backend.ExportOPML(w); err != nil {
		s.logger.Error("exporting opml", "error", err)
	}
}

// --- Helpers ---

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, reader.ErrInvalidCommand):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, reader.ErrDefaultFolder):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, reader.ErrStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid "+key, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

var _ Backend = (*app.App)(nil)
