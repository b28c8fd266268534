// Package api serves catalog metadata and on-demand analysis runs over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/starcover/internal/analysis"
	"github.com/star/starcover/internal/auth"
	"github.com/star/starcover/internal/health"
	"github.com/star/starcover/internal/tle"
)

const (
	maxRequestBytes = 64 << 10

	// maxTimestamps caps the grid of a single request: two weeks at one
	// minute.
	maxTimestamps = 14 * 24 * 60
)

// Options configures the HTTP surface.
type Options struct {
	Addr               string
	Auth               auth.Config
	TrustProxy         bool
	MaxConcurrent      int
	MaxConcurrentPerIP int
	AnalysisTimeout    time.Duration

	// Defaults are the run parameters a request body overrides.
	Defaults analysis.Params
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	store      *tle.Store
	deps       analysis.Deps
	opts       Options
	limiter    *runLimiter
}

// NewServer creates a configured HTTP server. Runs started through it share
// deps and read the catalog current in store when the request arrives.
func NewServer(opts Options, store *tle.Store, deps analysis.Deps) *Server {
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = 5 * time.Minute
	}
	s := &Server{
		logger:  deps.Logger,
		store:   store,
		deps:    deps,
		opts:    opts,
		limiter: newRunLimiter(opts.MaxConcurrentPerIP, opts.MaxConcurrent),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(store))
	mux.Handle("GET /metrics", deps.Metrics.Handler())
	mux.HandleFunc("GET /api/v1/catalog/metadata", s.handleCatalogMetadata)
	mux.HandleFunc("POST /api/v1/analyses", s.handleAnalyses)

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(opts.Auth)(handler)
	handler = loggingMiddleware(s.logger, opts.TrustProxy)(handler)
	handler = deps.Metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      opts.AnalysisTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

type catalogResponse struct {
	tle.Metadata
	AgeSeconds float64 `json:"age_seconds"`
}

func (s *Server) handleCatalogMetadata(w http.ResponseWriter, r *http.Request) {
	cat := s.store.Get()
	if cat == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog not loaded")
		return
	}
	writeJSON(w, http.StatusOK, catalogResponse{
		Metadata:   cat.Metadata(),
		AgeSeconds: cat.Age(time.Now()).Seconds(),
	})
}

// analysisRequest overrides the server defaults. Omitted fields keep them.
type analysisRequest struct {
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
	Altitude       *float64   `json:"altitude"`
	Start          *time.Time `json:"start"`
	Duration       string     `json:"duration"`
	Interval       string     `json:"interval"`
	MinElevation   *float64   `json:"min_elevation"`
	CensorTrailing *bool      `json:"censor_trailing"`
}

func (req analysisRequest) apply(p analysis.Params) (analysis.Params, error) {
	if req.Latitude != nil {
		p.Observer.LatitudeDeg = *req.Latitude
	}
	if req.Longitude != nil {
		p.Observer.LongitudeDeg = *req.Longitude
	}
	if req.Altitude != nil {
		p.Observer.AltitudeM = *req.Altitude
	}
	if req.Start != nil {
		p.Start = req.Start.UTC().Truncate(time.Second)
	}
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			return p, fmt.Errorf("invalid duration %q", req.Duration)
		}
		p.Duration = d
	}
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil {
			return p, fmt.Errorf("invalid interval %q", req.Interval)
		}
		p.Interval = d
	}
	if req.MinElevation != nil {
		p.MinElevationDeg = *req.MinElevation
	}
	if req.CensorTrailing != nil {
		p.CensorTrailing = *req.CensorTrailing
	}
	return p, nil
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	cat := s.store.Get()
	if cat == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog not loaded")
		return
	}

	ip := clientIP(r, s.opts.TrustProxy)
	if !s.limiter.acquire(ip) {
		writeError(w, http.StatusTooManyRequests, "too many concurrent analyses")
		return
	}
	defer s.limiter.release(ip)

	var req analysisRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, err := req.apply(s.opts.Defaults)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.Interval > 0 && p.Duration/p.Interval > maxTimestamps {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":          "time grid too large",
			"timestamps":     int64(p.Duration / p.Interval),
			"max_timestamps": maxTimestamps,
		})
		return
	}

	run, err := analysis.NewRun(cat, p, s.deps)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.AnalysisTimeout)
	defer cancel()

	res, err := run.Execute(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "analysis timed out")
		return
	case err != nil:
		s.logger.Error("analysis failed", "run_id", run.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", clientIP(r, trustProxy),
			)
		})
	}
}
