package preview

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/linkpreview/internal/fetcher/pinned"
	"github.com/JakeFAU/linkpreview/internal/logging"
	"github.com/JakeFAU/linkpreview/internal/metadata"
	"github.com/JakeFAU/linkpreview/internal/metrics"
	"github.com/JakeFAU/linkpreview/internal/screenshot"
	"github.com/JakeFAU/linkpreview/internal/urlguard"
)

// Cache stores built payloads by normalized URL.
type Cache interface {
	Get(key string) (Payload, bool)
	Put(key string, payload Payload)
}

// Fetcher retrieves the page behind a validated target.
type Fetcher interface {
	Fetch(ctx context.Context, target *urlguard.Target) (pinned.Result, error)
}

// Screenshots supplies an image when the page has none.
type Screenshots interface {
	Resolve(ctx context.Context, target *urlguard.Target, requestID string) screenshot.Outcome
}

// Result is a served preview.
type Result struct {
	Payload  Payload
	CacheHit bool
	// Shared is set when the payload was built by a concurrent request for
	// the same URL.
	Shared bool
}

// Service builds previews.
type Service struct {
	cache   Cache
	fetcher Fetcher
	shots   Screenshots
	logger  *zap.Logger
	urlMode logging.URLMode
	group   singleflight.Group
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the event logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithURLMode selects how URLs appear in events.
func WithURLMode(mode logging.URLMode) Option {
	return func(s *Service) { s.urlMode = mode }
}

// NewService wires a Service.
func NewService(cache Cache, fetcher Fetcher, shots Screenshots, opts ...Option) *Service {
	s := &Service{
		cache:   cache,
		fetcher: fetcher,
		shots:   shots,
		logger:  zap.NewNop(),
		urlMode: logging.URLModeHost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Preview validates raw and returns its preview. The only error besides
// context cancellation is a *urlguard.Error for rejected input; upstream
// failures degrade the payload instead.
func (s *Service) Preview(ctx context.Context, raw, requestID string) (Result, error) {
	target, err := urlguard.ParseAndValidate(raw)
	if err != nil {
		return Result{}, err
	}
	key := target.Key()
	urlField := s.urlField(target)

	payload, hit := s.cache.Get(key)
	metrics.ObserveCacheLookup(hit)
	memoryCache := "miss"
	if hit {
		memoryCache = "hit"
	}
	s.logger.Info("preview_cache_decision",
		logging.RequestID(requestID),
		urlField,
		zap.String("memory_cache", memoryCache),
	)
	if hit {
		return Result{Payload: payload, CacheHit: true}, nil
	}

	// The build runs detached from ctx so a caller hanging up neither
	// poisons coalesced waiters nor leaves a half-built entry behind.
	ch := s.group.DoChan(key, func() (any, error) {
		built := s.build(context.WithoutCancel(ctx), target, requestID)
		s.cache.Put(key, built)
		return built, nil
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		return Result{Payload: res.Val.(Payload), Shared: res.Shared}, nil
	}
}

func (s *Service) build(ctx context.Context, target *urlguard.Target, requestID string) Payload {
	start := time.Now()
	urlField := s.urlField(target)

	resolved := target
	var md metadata.Metadata
	res, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		s.logger.Info("preview_metadata_fetch_failed_recoverable",
			logging.RequestID(requestID),
			urlField,
			zap.String("error_class", "metadata_fetch_failed_recoverable"),
			zap.String("message", err.Error()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		md = metadata.Metadata{Title: degradedTitle(target)}
	} else {
		resolved = res.FinalURL
		md = metadata.Extract(res.Body, resolved.String())
	}

	s.logger.Info("preview_og_fetch_result",
		logging.RequestID(requestID),
		urlField,
		zap.Bool("has_og_image", md.Image != ""),
	)

	image := md.Image
	if image == "" {
		outcome := s.shots.Resolve(ctx, resolved, requestID)
		fields := append([]zap.Field{logging.RequestID(requestID), urlField}, outcome.Fields()...)
		s.logger.Info("preview_screenshot_fallback", fields...)
		image = outcome.Image
	}

	return Payload{
		OK:          true,
		URL:         resolved.String(),
		Title:       md.Title,
		Description: md.Description,
		Image:       image,
	}
}

func (s *Service) urlField(target *urlguard.Target) zap.Field {
	return logging.PreviewURL(s.urlMode, target.String(), target.Authority())
}

// degradedTitle is the bare host, without a leading "www.", used when the
// page itself could not be fetched.
func degradedTitle(target *urlguard.Target) string {
	host := target.Host()
	if host == "" {
		return target.String()
	}
	return strings.TrimPrefix(host, "www.")
}
