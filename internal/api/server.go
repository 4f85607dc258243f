package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkpreview/internal/logging"
	"github.com/JakeFAU/linkpreview/internal/metrics"
	"github.com/JakeFAU/linkpreview/internal/preview"
	"github.com/JakeFAU/linkpreview/internal/screenshot"
)

// Previewer builds link previews.
type Previewer interface {
	Preview(ctx context.Context, raw, requestID string) (preview.Result, error)
}

// BatchRefresher refreshes a list of screenshot URLs.
type BatchRefresher interface {
	RefreshBatch(ctx context.Context, raws []string, requestID string) screenshot.BatchSummary
}

// IDGenerator mints request ids when the caller did not send one.
type IDGenerator interface {
	NewID() string
}

// Config holds the HTTP-facing settings.
type Config struct {
	// CacheTTL is advertised as max-age on successful previews.
	CacheTTL time.Duration
	// RefreshToken guards the refresh endpoint; empty disables it.
	RefreshToken   string
	URLsConfigPath string
	StaticDir      string
	// PreviewTimeout bounds the preview handler. Zero disables it.
	PreviewTimeout time.Duration
	CaptureEnabled bool
	URLMode        logging.URLMode
}

// Server wires HTTP handlers to the preview service and screenshot engine.
type Server struct {
	router    chi.Router
	previews  Previewer
	refresher BatchRefresher
	logger    *zap.Logger
	cfg       Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(previews Previewer, refresher BatchRefresher, ids IDGenerator, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URLMode == "" {
		cfg.URLMode = logging.URLModeHost
	}
	s := &Server{
		previews:  previews,
		refresher: refresher,
		logger:    logger,
		cfg:       cfg,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(ids))
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.PreviewTimeout > 0 {
			r.Use(timeoutMiddleware(cfg.PreviewTimeout))
		}
		r.Get("/api/preview", s.getPreview)
	})
	// Batch refreshes block until every capture finishes, so no handler timeout.
	r.Post("/internal/refresh-screenshots", s.refreshScreenshots)

	r.NotFound(staticHandler(cfg.StaticDir).ServeHTTP)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	worker := "unconfigured"
	if s.cfg.CaptureEnabled {
		worker = "configured"
	}
	// Screenshots are optional, so an unconfigured worker does not fail readiness.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "screenshot_worker": worker})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, preview.ErrorPayload(msg))
}
