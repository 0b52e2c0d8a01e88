// Package server implements the docqa HTTP surface: PDF upload, question
// answering and session cleanup over a per-session pipeline registry, plus
// the embedded web page and operational endpoints.
// The server is started by the `docqa serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/uploads"
)

// New constructs a Server from the provided collaborators and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	switch {
	case deps.Sessions == nil:
		return nil, fmt.Errorf("server: Sessions must not be nil")
	case deps.Registry == nil:
		return nil, fmt.Errorf("server: Registry must not be nil")
	case deps.Cleanup == nil:
		return nil, fmt.Errorf("server: Cleanup must not be nil")
	case deps.Builder == nil:
		return nil, fmt.Errorf("server: Builder must not be nil")
	}
	if deps.Uploads == nil {
		deps.Uploads = &uploads.Store{}
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// Indexing a large PDF and generating an answer both happen before
		// the response is written.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	if cfg.MaxUploadBytes > 0 {
		deps.Uploads.MaxBytes = cfg.MaxUploadBytes
	}

	s := &Server{
		deps:    deps,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
	}
	s.metrics = newServerMetrics(cfg.MetricsRegistry, func() float64 {
		return float64(deps.Registry.Ready())
	})

	if cfg.APIKey == "" {
		s.log.Warn("server: DOCQA_API_KEY is not set, document endpoints are unauthenticated")
	}

	rl := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, h)
	}
	limited := func(h http.HandlerFunc) http.Handler {
		return rl.middleware(protect(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /upload", limited(s.handleUpload))
	mux.Handle("POST /query", limited(s.handleQuery))
	mux.Handle("POST /cleanup", protect(s.handleCleanup))
	mux.Handle("GET /history", protect(s.handleHistory))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /static/", staticHandler)

	s.handler = requestLogger(s.log, s.metrics, corsMiddleware(cfg.CORSOrigins, recoverer(mux)))
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(ctx).Error("response encode error", slog.Any("error", err))
	}
}

// writeJSONError writes {"error": msg} with the given status code.
func writeJSONError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
