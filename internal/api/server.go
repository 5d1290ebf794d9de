package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/metrics"
	"github.com/JakeFAU/pressroom/internal/pipeline"
	"github.com/JakeFAU/pressroom/internal/sources"
)

// Store is the read side the API serves from.
type Store interface {
	Ping(ctx context.Context) error
	ListSources(ctx context.Context) ([]core.Source, error)
	GetJournalist(ctx context.Context, id int64) (core.Journalist, error)
}

// Queue accepts tasks and reports lane depths.
type Queue interface {
	Submit(ctx context.Context, kind string, payload any) (string, error)
	Depths(ctx context.Context) (map[string]int, error)
}

// SourceAdder inserts a source unless its URL is already known.
type SourceAdder interface {
	Add(ctx context.Context, e sources.Entry) (core.Source, bool, error)
}

// Options tunes the server.
type Options struct {
	// APIKey enables key checks on /v1 routes when non-empty.
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the store and the task queue.
type Server struct {
	router  chi.Router
	store   Store
	queue   Queue
	sources SourceAdder
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store Store, queue Queue, adder SourceAdder, opts Options, logger *zap.Logger) *Server {
	s := &Server{
		store:   store,
		queue:   queue,
		sources: adder,
		logger:  logger.Named("api"),
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/crawl", s.submitCrawl)
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Post("/", s.addSource)
		})
		r.Route("/journalists/{id}", func(r chi.Router) {
			r.Get("/", s.getJournalist)
			r.Post("/reindex", s.reindexJournalist)
		})
		r.Post("/index/reconcile", s.reconcileIndex)
		r.Get("/lanes", s.lanes)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	DomainLimit int `json:"domain_limit"`
	PageLimit   int `json:"page_limit"`
	MaxDepth    int `json:"max_depth"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.DomainLimit < 0 || req.PageLimit < 0 || req.MaxDepth < 0 {
		s.writeError(w, http.StatusBadRequest, "limits must not be negative")
		return
	}
	payload := pipeline.CrawlRequest(req)
	s.submit(w, r, pipeline.KindCrawlSources, payload)
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListSources(r.Context())
	if err != nil {
		s.logger.Error("list sources", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}
	if list == nil {
		list = []core.Source{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sources": list})
}

func (s *Server) addSource(w http.ResponseWriter, r *http.Request) {
	var entry sources.Entry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	src, created, err := s.sources.Add(r.Context(), entry)
	switch {
	case errors.Is(err, sources.ErrInvalid):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("add source", zap.String("url", entry.URL), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to add source")
	case created:
		s.writeJSON(w, http.StatusCreated, src)
	default:
		s.writeJSON(w, http.StatusOK, src)
	}
}

func (s *Server) getJournalist(w http.ResponseWriter, r *http.Request) {
	j, ok := s.journalist(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, j)
}

func (s *Server) reindexJournalist(w http.ResponseWriter, r *http.Request) {
	j, ok := s.journalist(w, r)
	if !ok {
		return
	}
	s.submit(w, r, pipeline.KindIndexJournalist, pipeline.JournalistTask{JournalistID: j.ID})
}

type reconcileRequest struct {
	Window string `json:"window"`
}

func (s *Server) reconcileIndex(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	var window time.Duration
	if req.Window != "" {
		d, err := time.ParseDuration(req.Window)
		if err != nil || d <= 0 {
			s.writeError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}
	s.submit(w, r, pipeline.KindIndexReconcile, pipeline.ReconcileTask{Window: window})
}

func (s *Server) lanes(w http.ResponseWriter, r *http.Request) {
	depths, err := s.queue.Depths(r.Context())
	if err != nil {
		s.logger.Error("lane depths", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read lane depths")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"lanes": depths})
}

func (s *Server) journalist(w http.ResponseWriter, r *http.Request) (core.Journalist, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid journalist id")
		return core.Journalist{}, false
	}
	j, err := s.store.GetJournalist(r.Context(), id)
	if errors.Is(err, core.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "journalist not found")
		return core.Journalist{}, false
	}
	if err != nil {
		s.logger.Error("get journalist", zap.Int64("journalist_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load journalist")
		return core.Journalist{}, false
	}
	return j, true
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, kind string, payload any) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	taskID, err := s.queue.Submit(ctx, kind, payload)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.logger.Error("submit task", zap.String("kind", kind), zap.Error(err))
		s.writeError(w, status, "failed to enqueue task")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "kind": kind})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned by the request-id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", RequestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
