// Package app initializes and holds long-lived application services, acting
// as the dependency injection container for the commands.
package app

import (
	"context"
	"errors"
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkpreview/internal/api"
	"github.com/JakeFAU/linkpreview/internal/capture"
	"github.com/JakeFAU/linkpreview/internal/config"
	"github.com/JakeFAU/linkpreview/internal/fetcher/pinned"
	"github.com/JakeFAU/linkpreview/internal/id/sequence"
	"github.com/JakeFAU/linkpreview/internal/logging"
	"github.com/JakeFAU/linkpreview/internal/policy/ratelimit"
	"github.com/JakeFAU/linkpreview/internal/preview"
	"github.com/JakeFAU/linkpreview/internal/screenshot"
	"github.com/JakeFAU/linkpreview/internal/storage/local"
	"github.com/JakeFAU/linkpreview/internal/storage/memory"
	"github.com/JakeFAU/linkpreview/internal/telemetry"
)

// App holds the shared services built from one Config.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	tracer   *sdktrace.TracerProvider
	ids      *sequence.Generator
	engine   *screenshot.Engine
	spawner  *screenshot.GoSpawner
	previews *preview.Service
	server   *api.Server
}

// New wires every service. A missing or corrupt screenshot index is logged
// and replaced by an empty one rather than failing startup.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	urlMode := logging.URLMode(cfg.Log.PreviewURLMode)

	indexFile, err := local.New(local.Config{Path: cfg.Screenshot.CacheIndexPath})
	if err != nil {
		return nil, fmt.Errorf("open screenshot index: %w", err)
	}
	store, err := screenshot.LoadStore(indexFile)
	switch {
	case errors.Is(err, local.ErrNotExist):
		logger.Info("screenshot index not found, starting empty", zap.String("path", indexFile.Path()))
	case err != nil:
		logger.Warn("screenshot index unreadable, starting empty", zap.String("path", indexFile.Path()), zap.Error(err))
	default:
		logger.Info("screenshot index loaded", zap.String("path", indexFile.Path()), zap.Int("entries", store.Len()))
	}

	worker, err := capture.New(capture.Config{
		BaseURL:        cfg.Screenshot.WorkerURL,
		Token:          cfg.Screenshot.WorkerToken,
		UserAgent:      cfg.Preview.UserAgent,
		Timeout:        cfg.Screenshot.WorkerTimeout,
		ConnectTimeout: cfg.Preview.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init capture client: %w", err)
	}

	spawner := &screenshot.GoSpawner{}
	engine := screenshot.NewEngine(store, worker, screenshot.Config{
		TTL:                cfg.Screenshot.TTL,
		StaleGrace:         cfg.Screenshot.StaleGrace,
		RefreshConcurrency: cfg.Screenshot.RefreshConcurrency,
		URLMode:            urlMode,
	}, screenshot.WithSpawner(spawner), screenshot.WithLogger(logger.Named("screenshot")))

	fetcher := pinned.New(pinned.Config{
		UserAgent:             cfg.Preview.UserAgent,
		RequestTimeout:        cfg.Preview.RequestTimeout,
		ConnectTimeout:        cfg.Preview.ConnectTimeout,
		DNSLookupTimeout:      cfg.Preview.DNSLookupTimeout,
		MaxRedirects:          cfg.Preview.MaxRedirects,
		MaxResolvedIPAttempts: cfg.Preview.MaxResolvedIPAttempts,
		MaxBodyBytes:          cfg.Preview.ResponseMaxBytes,
	}, pinned.WithLimiter(ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Preview.RateLimitRPS})))

	cache, err := memory.NewPreviewCache(cfg.Preview.CacheMaxEntries, cfg.Preview.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("init preview cache: %w", err)
	}
	previews := preview.NewService(cache, fetcher, engine,
		preview.WithLogger(logger.Named("preview")),
		preview.WithURLMode(urlMode),
	)

	ids := sequence.New()
	// The handler budget covers the fetch, every redirect, and one capture.
	budget := cfg.Preview.RequestTimeout*2 + cfg.Screenshot.WorkerTimeout
	server := api.NewServer(previews, engine, ids, api.Config{
		CacheTTL:       cfg.Preview.CacheTTL,
		RefreshToken:   cfg.Screenshot.RefreshToken,
		URLsConfigPath: cfg.Screenshot.URLsConfigPath,
		StaticDir:      cfg.Static.Dir,
		PreviewTimeout: budget,
		CaptureEnabled: worker.Configured(),
		URLMode:        urlMode,
	}, logger.Named("api"))

	return &App{
		cfg:      cfg,
		logger:   logger,
		tracer:   tp,
		ids:      ids,
		engine:   engine,
		spawner:  spawner,
		previews: previews,
		server:   server,
	}, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Server returns the HTTP API.
func (a *App) Server() *api.Server {
	return a.server
}

// Engine returns the screenshot engine.
func (a *App) Engine() *screenshot.Engine {
	return a.engine
}

// Previews returns the preview service.
func (a *App) Previews() *preview.Service {
	return a.previews
}

// NewRequestID mints a correlation id outside of an HTTP request.
func (a *App) NewRequestID() string {
	return a.ids.NewID()
}

// Close waits for background screenshot refreshes, bounded by ctx, and flushes
// tracing.
func (a *App) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.spawner.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("background screenshot refreshes still running at shutdown")
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}
