package web

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"vdircal/internal/config"
	appLog "vdircal/internal/log"
	"vdircal/internal/model"
	"vdircal/internal/vdirsync"
)

// fileEventHistory is how many file watcher events /api/file-events keeps.
const fileEventHistory = 100

// Source is the read side of the sync engine that the server exposes.
type Source interface {
	Events() []model.CalendarEvent
	AllCollectionMetadata() map[string]model.VdirMetadata
	States() map[string]vdirsync.State
	OnFileChanged(fn func(model.FileWatcherEvent)) (unsubscribe func())
}

// Server provides the read-only HTTP API over the live vdir view.
type Server struct {
	src    Source
	router *mux.Router

	cfgMu sync.RWMutex
	cfg   *config.Config

	// Recent file watcher events, oldest first, capped at fileEventHistory.
	historyMu   sync.RWMutex
	history     []model.FileWatcherEvent
	unsubscribe func()
}

// NewServer constructs a Server and starts recording file watcher events
// from src. Call Close to stop recording.
func NewServer(cfg *config.Config, src Source) *Server {
	s := &Server{
		src:     src,
		router:  mux.NewRouter(),
		cfg:     cfg,
		history: make([]model.FileWatcherEvent, 0, fileEventHistory),
	}
	s.unsubscribe = src.OnFileChanged(s.recordFileEvent)
	s.registerRoutes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetConfig replaces the config served by /api/config.
func (s *Server) SetConfig(cfg *config.Config) {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
}

// Close stops recording file watcher events.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// ListenAndServe serves the API on addr until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/api/metadata", s.handleMetadata).Methods(http.MethodGet)
	s.router.HandleFunc("/api/collections", s.handleCollections).Methods(http.MethodGet)
	s.router.HandleFunc("/api/config", s.handleConfig).Methods(http.MethodGet)
	s.router.HandleFunc("/api/file-events", s.handleFileEvents).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleEvents returns the current events as a JSON array ordered by start,
// then uid.
//
// GET /api/events?collection=work&from=2025-01-01T00:00:00Z&to=2025-02-01T00:00:00Z
//   - collection: only events of this collection
//   - from:       events ending (or starting, without DTEND) at or after from
//   - to:         events starting before to
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from: expected RFC3339")
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to: expected RFC3339")
		return
	}
	collection := q.Get("collection")

	all := s.src.Events()
	events := make([]model.CalendarEvent, 0, len(all))
	for _, ev := range all {
		if collection != "" && ev.Collection != collection {
			continue
		}
		end := ev.Start
		if ev.End != nil {
			end = *ev.End
		}
		if !from.IsZero() && end.Before(from) {
			continue
		}
		if !to.IsZero() && !ev.Start.Before(to) {
			continue
		}
		events = append(events, ev)
	}

	slices.SortStableFunc(events, func(a, b model.CalendarEvent) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.UID, b.UID)
	})

	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.src.AllCollectionMetadata())
}

func (s *Server) handleCollections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.src.States())
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	s.cfgMu.RLock()
	cfg := s.cfg
	s.cfgMu.RUnlock()
	if cfg == nil {
		writeError(w, http.StatusServiceUnavailable, "config not loaded")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleFileEvents returns recent file watcher events, newest last.
//
// GET /api/file-events?limit=20
func (s *Server) handleFileEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), fileEventHistory)
	if limit <= 0 || limit > fileEventHistory {
		limit = fileEventHistory
	}

	s.historyMu.RLock()
	start := max(len(s.history)-limit, 0)
	out := slices.Clone(s.history[start:])
	s.historyMu.RUnlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) recordFileEvent(ev model.FileWatcherEvent) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	if len(s.history) == fileEventHistory {
		s.history = append(s.history[:0], s.history[1:]...)
	}
	s.history = append(s.history, ev)
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
