package screenshot

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/linkpreview/internal/capture"
	"github.com/JakeFAU/linkpreview/internal/id/sequence"
	"github.com/JakeFAU/linkpreview/internal/logging"
	"github.com/JakeFAU/linkpreview/internal/metrics"
	"github.com/JakeFAU/linkpreview/internal/urlguard"
)

// Capturer obtains a fresh screenshot for a target.
type Capturer interface {
	Capture(ctx context.Context, target *urlguard.Target, requestID string) (string, error)
}

// Spawner runs detached background work.
type Spawner interface {
	Go(fn func())
}

// GoSpawner runs each task on its own goroutine and can wait for all of them.
type GoSpawner struct {
	wg sync.WaitGroup
}

// Go starts fn.
func (s *GoSpawner) Go(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Wait blocks until every started task returns.
func (s *GoSpawner) Wait() {
	s.wg.Wait()
}

// Config tunes the engine.
type Config struct {
	TTL                time.Duration
	StaleGrace         time.Duration
	RefreshConcurrency int
	URLMode            logging.URLMode
}

// Engine serves cached screenshots and refreshes them through a Capturer.
type Engine struct {
	store    *Store
	capturer Capturer
	spawner  Spawner
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time

	inFlightMu sync.Mutex
	inFlight   map[string]struct{}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSpawner replaces the background task runner.
func WithSpawner(s Spawner) Option {
	return func(e *Engine) { e.spawner = s }
}

// WithLogger sets the event logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an Engine.
func NewEngine(store *Store, capturer Capturer, cfg Config, opts ...Option) *Engine {
	if cfg.RefreshConcurrency <= 0 {
		cfg.RefreshConcurrency = 2
	}
	if cfg.URLMode == "" {
		cfg.URLMode = logging.URLModeHost
	}
	e := &Engine{
		store:    store,
		capturer: capturer,
		spawner:  &GoSpawner{},
		logger:   zap.NewNop(),
		cfg:      cfg,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Outcome describes how a preview's screenshot fallback was served.
type Outcome struct {
	Image             string
	Decision          Decision
	UsedCachedImage   bool
	WorkerAttempted   bool
	WorkerSucceeded   bool
	CacheWriteOK      *bool
	ErrorClass        capture.Class
	WorkerStatusCode  int
	WorkerStatusClass string
	FailureReason     capture.Reason
}

// Fields renders the outcome for the preview_screenshot_fallback event.
func (o Outcome) Fields() []zap.Field {
	fields := []zap.Field{
		zap.String("cache_decision", o.Decision.String()),
		zap.Bool("used_cached_image", o.UsedCachedImage),
		zap.Bool("worker_attempted", o.WorkerAttempted),
		zap.Bool("worker_succeeded", o.WorkerSucceeded),
		zap.Bool("has_image", o.Image != ""),
	}
	if o.CacheWriteOK != nil {
		fields = append(fields, zap.Bool("cache_write_ok", *o.CacheWriteOK))
	}
	return append(fields, failureFields(o.ErrorClass, o.WorkerStatusCode, o.WorkerStatusClass, o.FailureReason)...)
}

// RefreshOutcome is the result of one capture attempt.
type RefreshOutcome struct {
	Image             string
	CacheWriteOK      *bool
	ErrorClass        capture.Class
	WorkerStatusCode  int
	WorkerStatusClass string
	FailureReason     capture.Reason
}

func failureFields(class capture.Class, code int, statusClass string, reason capture.Reason) []zap.Field {
	var fields []zap.Field
	if class != "" {
		fields = append(fields, zap.String("error_class", string(class)))
	}
	if code != 0 {
		fields = append(fields, zap.Int("worker_status_code", code), zap.String("worker_status_class", statusClass))
	}
	if reason != "" {
		fields = append(fields, zap.String("worker_failure_reason", string(reason)))
	}
	return fields
}

// Resolve picks a screenshot for target. Fresh entries are served as is.
// Stale entries are served while a background refresh is started, unless one
// is already running. Anything else is captured synchronously.
func (e *Engine) Resolve(ctx context.Context, target *urlguard.Target, requestID string) Outcome {
	key := target.Key()
	var cached *Entry
	if entry, ok := e.store.Get(key); ok {
		cached = &entry
	}

	decision := Decide(e.now().Unix(), cached, int64(e.cfg.StaleGrace/time.Second))
	metrics.ObserveScreenshotDecision(decision.String())

	switch decision {
	case DecisionFresh:
		return Outcome{Image: cached.Image, Decision: decision, UsedCachedImage: cached.Image != ""}
	case DecisionStaleWithinGrace:
		e.refreshInBackground(ctx, target, requestID)
		return Outcome{Image: cached.Image, Decision: decision, UsedCachedImage: cached.Image != ""}
	default:
		refreshed := e.Refresh(ctx, target, SourceOnDemand, requestID)
		return Outcome{
			Image:             refreshed.Image,
			Decision:          decision,
			WorkerAttempted:   true,
			WorkerSucceeded:   refreshed.Image != "",
			CacheWriteOK:      refreshed.CacheWriteOK,
			ErrorClass:        refreshed.ErrorClass,
			WorkerStatusCode:  refreshed.WorkerStatusCode,
			WorkerStatusClass: refreshed.WorkerStatusClass,
			FailureReason:     refreshed.FailureReason,
		}
	}
}

// Refresh captures target and records the result. Success replaces the entry
// and clears its error. Failure only annotates an existing entry so its image
// keeps being served.
func (e *Engine) Refresh(ctx context.Context, target *urlguard.Target, source Source, requestID string) RefreshOutcome {
	key := target.Key()
	capturedAt := e.now().Unix()

	image, err := e.capturer.Capture(ctx, target, requestID)
	if err == nil {
		writeErr := e.store.Put(key, Entry{
			Image:      image,
			CapturedAt: capturedAt,
			ExpiresAt:  saturatingAdd(capturedAt, int64(e.cfg.TTL/time.Second)),
			Source:     source,
		})
		metrics.ObserveScreenshotRefresh(string(source), true)
		out := RefreshOutcome{Image: image, CacheWriteOK: boolPtr(writeErr == nil)}
		if writeErr != nil {
			out.ErrorClass = ClassCacheWriteFailed
			e.logger.Warn("screenshot_cache_write_failed",
				logging.RequestID(requestID),
				zap.String("source", string(source)),
				zap.Error(writeErr),
			)
		}
		return out
	}

	metrics.ObserveScreenshotRefresh(string(source), false)
	// A capture abandoned by its caller says nothing about the page.
	var writeErr error
	if ctx.Err() == nil {
		_, writeErr = e.store.RecordError(key, captureFailedMessage)
	}

	out := RefreshOutcome{
		CacheWriteOK:  boolPtr(writeErr == nil),
		ErrorClass:    capture.ClassFailed,
		FailureReason: capture.ReasonUpstream,
	}
	var captureErr *capture.Error
	if errors.As(err, &captureErr) {
		out.ErrorClass = captureErr.Class
		out.FailureReason = captureErr.Reason
		out.WorkerStatusCode = captureErr.StatusCode
		out.WorkerStatusClass = captureErr.StatusClass()
	}

	fields := []zap.Field{
		logging.RequestID(requestID),
		zap.String("source", string(source)),
		logging.PreviewURL(e.cfg.URLMode, target.String(), target.Authority()),
	}
	fields = append(fields, failureFields(out.ErrorClass, out.WorkerStatusCode, out.WorkerStatusClass, out.FailureReason)...)
	e.logger.Info("screenshot_refresh_failed", fields...)
	return out
}

// refreshInBackground starts an async-stale-refresh for target if none is in
// flight. The refresh outlives ctx's cancellation but keeps its values.
func (e *Engine) refreshInBackground(ctx context.Context, target *urlguard.Target, requestID string) {
	key := target.Key()
	if !e.claim(key) {
		return
	}
	bg := context.WithoutCancel(ctx)
	e.spawner.Go(func() {
		defer e.release(key)
		metrics.IncRefreshesInFlight()
		defer metrics.DecRefreshesInFlight()

		start := time.Now()
		out := e.Refresh(bg, target, SourceAsync, requestID)
		e.logger.Info("screenshot_background_refresh_complete",
			logging.RequestID(requestID),
			logging.PreviewURL(e.cfg.URLMode, target.String(), target.Authority()),
			zap.Bool("ok", out.Image != ""),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (e *Engine) claim(key string) bool {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()
	if _, busy := e.inFlight[key]; busy {
		return false
	}
	e.inFlight[key] = struct{}{}
	return true
}

func (e *Engine) release(key string) {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()
	delete(e.inFlight, key)
}

// InFlight reports whether a background refresh for key is running.
func (e *Engine) InFlight(key string) bool {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()
	_, busy := e.inFlight[key]
	return busy
}

// BatchSummary counts the results of RefreshBatch.
type BatchSummary struct {
	RequestedURLs int `json:"requestedUrls"`
	Refreshed     int `json:"refreshed"`
	Invalid       int `json:"invalid"`
	Failed        int `json:"failed"`
}

// RefreshBatch refreshes every valid URL in raws with at most
// RefreshConcurrency captures running at once, and waits for all of them.
// URLs that fail validation are counted as invalid and skipped.
func (e *Engine) RefreshBatch(ctx context.Context, raws []string, requestID string) BatchSummary {
	summary := BatchSummary{RequestedURLs: len(raws)}
	targets := make([]*urlguard.Target, 0, len(raws))
	for _, raw := range raws {
		target, err := urlguard.ParseAndValidate(raw)
		if err != nil {
			summary.Invalid++
			continue
		}
		targets = append(targets, target)
	}

	sem := semaphore.NewWeighted(int64(e.cfg.RefreshConcurrency))
	results := make([]bool, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			metrics.IncRefreshesInFlight()
			defer metrics.DecRefreshesInFlight()
			out := e.Refresh(ctx, target, SourceScheduled, sequence.Child(requestID, i))
			results[i] = out.Image != ""
		}()
	}
	wg.Wait()

	for _, ok := range results {
		if ok {
			summary.Refreshed++
		} else {
			summary.Failed++
		}
	}
	return summary
}

func boolPtr(v bool) *bool {
	return &v
}
