// Package metrics exposes Prometheus collectors for the link preview service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "route"},
	)

	previewCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkpreview_cache_lookups_total",
			Help: "Preview cache lookups, labeled by result (hit or miss).",
		},
		[]string{"result"},
	)

	previewFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkpreview_fetches_total",
			Help: "Outbound metadata fetches, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	previewFetchBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linkpreview_fetch_bytes_total",
			Help: "Total number of response body bytes read by the metadata fetcher.",
		},
	)

	previewFetchDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "linkpreview_fetch_duration_seconds",
			Help:    "Histogram of metadata fetch latencies including redirects.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
	)

	screenshotDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkpreview_screenshot_decisions_total",
			Help: "Screenshot cache decisions, labeled by decision.",
		},
		[]string{"decision"},
	)

	screenshotRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkpreview_screenshot_refreshes_total",
			Help: "Screenshot refresh attempts, labeled by source and result.",
		},
		[]string{"source", "result"},
	)

	screenshotRefreshesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkpreview_screenshot_refreshes_in_flight",
			Help: "Number of screenshot refreshes currently running.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "linkpreview_rate_limit_delays_seconds",
			Help:    "Histogram of outbound per-host rate limit wait durations.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCacheLookup records a preview cache hit or miss.
func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	previewCacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveFetch records the outcome of a metadata fetch.
func ObserveFetch(outcome string, bytesRead int, duration time.Duration) {
	previewFetchesTotal.WithLabelValues(outcome).Inc()
	if bytesRead > 0 {
		previewFetchBytesTotal.Add(float64(bytesRead))
	}
	previewFetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveScreenshotDecision records which screenshot cache branch a request took.
func ObserveScreenshotDecision(decision string) {
	screenshotDecisionsTotal.WithLabelValues(decision).Inc()
}

// ObserveScreenshotRefresh records a finished refresh attempt.
func ObserveScreenshotRefresh(source string, ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	screenshotRefreshesTotal.WithLabelValues(source, result).Inc()
}

// IncRefreshesInFlight increments the in-flight refresh gauge.
func IncRefreshesInFlight() {
	screenshotRefreshesInFlight.Inc()
}

// DecRefreshesInFlight decrements the in-flight refresh gauge.
func DecRefreshesInFlight() {
	screenshotRefreshesInFlight.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}
