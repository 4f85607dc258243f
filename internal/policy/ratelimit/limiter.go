// Package ratelimit implements a token bucket rate limiter for outbound
// preview fetches, keyed by destination host.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/linkpreview/internal/metrics"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	maxHosts     int
}

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS is the sustained request rate per host. Zero or less disables limiting.
	DefaultRPS   float64
	DefaultBurst int
	// MaxHosts bounds the number of tracked hosts; the table is reset when exceeded.
	MaxHosts int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	maxHosts := cfg.MaxHosts
	if maxHosts <= 0 {
		maxHosts = 4096
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		maxHosts:     maxHosts,
	}
}

// Wait blocks until a token is available for host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	if l.defaultRate == rate.Inf {
		return nil
	}
	host = strings.ToLower(host)
	if host == "" {
		host = "unknown"
	}

	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		if len(l.limiters) >= l.maxHosts {
			l.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}
