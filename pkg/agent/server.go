// Package agent serves benchmark runs over HTTP so a controller can drive
// several machines at once.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/runningwild/diskmark/pkg/cachedrop"
	"github.com/runningwild/diskmark/pkg/config"
	"github.com/runningwild/diskmark/pkg/engine"
	"github.com/runningwild/diskmark/pkg/history"
	"github.com/runningwild/diskmark/pkg/report"
	"github.com/runningwild/diskmark/pkg/sysinfo"
)

// RunRequest asks the agent for one benchmark run.
type RunRequest struct {
	Profile  string          `json:"profile,omitempty"`
	Settings config.Settings `json:"settings"`
	// SequenceBase is the first sample number. Zero reserves the next
	// numbers from the agent's own history.
	SequenceBase uint32 `json:"sequence_base,omitempty"`
}

// Server runs one benchmark at a time against its configured location.
type Server struct {
	location string
	store    *history.Store
	logger   *slog.Logger
	opts     []engine.Option
	busy     atomic.Bool
	router   chi.Router
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithEngineOptions passes options to every runner the server creates.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Server) { s.opts = append(s.opts, opts...) }
}

// NewServer returns an agent benchmarking location and recording runs in
// store.
func NewServer(location string, store *history.Store, opts ...Option) *Server {
	s := &Server{location: location, store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.structuredLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/run", s.handleRun)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	return r
}

// Handler exposes the routes for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("diskmark agent listening", "addr", addr, "location", s.location)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) structuredLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "a benchmark is already running")
		return
	}
	defer s.busy.Store(false)

	doc, err := s.run(r.Context(), req)
	switch {
	case errors.Is(err, engine.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("benchmark failed: %v", err))
	default:
		writeJSON(w, http.StatusOK, doc)
	}
}

func (s *Server) run(ctx context.Context, req RunRequest) (*report.Document, error) {
	cfg := config.Default()
	cfg.Location = s.location
	if req.Profile != "" {
		cfg.Profile = req.Profile
	}
	cfg.Apply(req.Settings)
	settings, err := cfg.Effective()
	if err != nil {
		return nil, err
	}

	seq := req.SequenceBase
	if seq == 0 {
		if seq, err = s.store.Reserve(ctx, settings.Samples); err != nil {
			return nil, err
		}
	}
	params, err := cfg.Params(seq)
	if err != nil {
		return nil, err
	}

	dropper := cachedrop.New(params.Dir, cachedrop.WithLogger(s.logger))
	listener := engine.Funcs{CacheDrop: dropper.Drop}
	opts := append([]engine.Option{engine.WithLogger(s.logger)}, s.opts...)
	runner, err := engine.NewRunner(params, listener, opts...)
	if err != nil {
		return nil, err
	}
	run, err := runner.Run(ctx)
	if err != nil {
		return nil, err
	}

	env := sysinfo.Collect(ctx, s.location, s.logger)
	doc := report.NewDocument(run, &env)
	if err := s.store.Save(context.WithoutCancel(ctx), doc); err != nil {
		s.logger.Warn("failed to record run", "id", run.ID, "error", err)
	}
	return doc, nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	runs, err := s.store.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []history.Summary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, history.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, history.ErrAmbiguous):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, doc)
	}
}
