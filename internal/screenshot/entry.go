// Package screenshot keeps the persistent screenshot cache and decides when
// to serve, refresh in the background, or capture synchronously.
package screenshot

import "github.com/JakeFAU/linkpreview/internal/capture"

// Source records what triggered the capture stored in an entry.
type Source string

// Refresh sources.
const (
	SourceOnDemand  Source = "on-demand-fallback"
	SourceAsync     Source = "async-stale-refresh"
	SourceScheduled Source = "scheduled-refresh"
)

// ClassCacheWriteFailed marks a capture that succeeded but could not be persisted.
const ClassCacheWriteFailed capture.Class = "cache_write_failed"

// captureFailedMessage is stored on an entry whose latest refresh failed.
const captureFailedMessage = "failed to capture screenshot"

// Entry is one cached screenshot. Timestamps are unix seconds.
type Entry struct {
	Image      string `json:"image"`
	CapturedAt int64  `json:"captured_at"`
	ExpiresAt  int64  `json:"expires_at"`
	Source     Source `json:"source"`
	LastError  string `json:"last_error,omitempty"`
}

// Index is the on-disk document.
type Index struct {
	Entries map[string]Entry `json:"entries"`
}

// Decision is the cache branch taken for a lookup.
type Decision int

// Cache decisions.
const (
	DecisionMissingOrExpired Decision = iota
	DecisionFresh
	DecisionStaleWithinGrace
)

func (d Decision) String() string {
	switch d {
	case DecisionFresh:
		return "fresh"
	case DecisionStaleWithinGrace:
		return "stale"
	default:
		return "missing_or_expired"
	}
}

// Decide classifies entry at now. An entry is fresh before ExpiresAt, stale
// from ExpiresAt through ExpiresAt+grace inclusive, and unusable after.
func Decide(now int64, entry *Entry, grace int64) Decision {
	if entry == nil {
		return DecisionMissingOrExpired
	}
	if now < entry.ExpiresAt {
		return DecisionFresh
	}
	if now <= saturatingAdd(entry.ExpiresAt, grace) {
		return DecisionStaleWithinGrace
	}
	return DecisionMissingOrExpired
}

func saturatingAdd(a, b int64) int64 {
	const maxInt64 = int64(^uint64(0) >> 1)
	if b > 0 && a > maxInt64-b {
		return maxInt64
	}
	return a + b
}
