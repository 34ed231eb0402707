// Package server exposes the bounded cache and the geocode cache over HTTP.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/doto-cache/geocode"
	"github.com/wolfeidau/doto-cache/storage"
	"github.com/wolfeidau/doto-cache/telemetry"
)

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// AuthToken, when set, is required as a bearer token on every route
	// except /health and /metrics.
	AuthToken string

	// Store is the namespaced cache served under /cache. Required.
	Store *storage.LimitedStore

	// Sweeper enforces the store's total budget. Optional; started and
	// stopped with the server.
	Sweeper *storage.Sweeper

	// Geocoder serves /geocode. Optional; the routes are not registered without it.
	Geocoder *geocode.Cache

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP server for the cache.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger
	handler    http.Handler

	store    *storage.LimitedStore
	sweeper  *storage.Sweeper
	geocoder *geocode.Cache
}

// New creates a new server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}

	s := &Server{
		config:   cfg,
		logger:   cfg.Logger,
		store:    cfg.Store,
		sweeper:  cfg.Sweeper,
		geocoder: cfg.Geocoder,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = s.loggingMiddleware(s.authMiddleware(mux))

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second, // geocode misses wait on a rate limited upstream
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	mux.HandleFunc("GET /cache", s.handleNamespaceSize)
	mux.HandleFunc("DELETE /cache", s.handleEvictNamespace)
	mux.HandleFunc("GET /cache/{key}", s.handleGet)
	mux.HandleFunc("PUT /cache/{key}", s.handlePut)
	mux.HandleFunc("DELETE /cache/{key}", s.handleDelete)

	if s.geocoder != nil {
		mux.HandleFunc("GET /geocode/search", s.handleSearch)
		mux.HandleFunc("GET /geocode/suggest", s.handleSuggest)
		mux.HandleFunc("GET /geocode/reverse", s.handleReverse)
		mux.HandleFunc("GET /geocode/region", s.handleRegion)
	}
}

// Handler returns the fully wrapped handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Cache          storage.Stats `json:"cache"`
	GeocodeEntries *int          `json:"geocode_entries,omitempty"`
}

// handleStats reports namespace and geocode memo statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "stats")

	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := statsResponse{Cache: stats}
	if s.geocoder != nil {
		n := s.geocoder.Len()
		resp.GeocodeEntries = &n
	}
	writeJSON(w, http.StatusOK, resp)
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		// Inject request tags so handlers can set cache_result, endpoint, etc.
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)
		telemetry.SetComponent(r, deriveComponent(r.URL.Path))

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"component", tags.Component,
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		}
		if tags.Endpoint != "" {
			attrs = append(attrs, "endpoint", tags.Endpoint)
		}
		if tags.CacheResult != "" {
			attrs = append(attrs, "cache_result", string(tags.CacheResult))
		}

		level := slog.LevelInfo
		if wrapped.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start starts the sweeper, if any, and then serves until Shutdown.
func (s *Server) Start() error {
	if s.sweeper != nil {
		s.logger.Info("starting sweeper",
			"namespace", s.store.Namespace(),
			"max_total_size", s.store.MaxTotalSize(),
		)
		s.sweeper.Start(context.Background())
	}

	s.logger.Info("starting server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.sweeper != nil {
		s.sweeper.Stop()
	}

	return s.httpServer.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
// It preserves http.Flusher and http.Hijacker interfaces for streaming support.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// deriveComponent classifies a request path for logs and metrics.
func deriveComponent(path string) string {
	switch {
	case path == "/health" || path == "/stats" || path == "/metrics":
		return "internal"
	case path == "/cache" || strings.HasPrefix(path, "/cache/"):
		return "cache"
	case strings.HasPrefix(path, "/geocode/"):
		return "geocode"
	default:
		return "unknown"
	}
}
