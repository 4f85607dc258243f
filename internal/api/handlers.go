package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkpreview/internal/logging"
	"github.com/JakeFAU/linkpreview/internal/screenshot"
	"github.com/JakeFAU/linkpreview/internal/urlguard"
)

type refreshResponse struct {
	OK            bool `json:"ok"`
	RequestedURLs int  `json:"requestedUrls"`
	Refreshed     int  `json:"refreshed"`
	Invalid       int  `json:"invalid"`
	Failed        int  `json:"failed"`
}

func (s *Server) getPreview(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := RequestIDFromContext(r.Context())
	raw := r.URL.Query().Get("url")

	s.logger.Info("preview_request_start",
		logging.RequestID(reqID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("url_host", rawHost(raw)),
	)
	w.Header().Set("Vary", "Accept-Encoding")

	res, err := s.previews.Preview(r.Context(), raw, reqID)
	if err != nil {
		reason := urlguard.ReasonOf(err)
		if reason == 0 {
			// The caller went away; nobody reads this response.
			s.logger.Info("preview_request_failed",
				logging.RequestID(reqID),
				zap.String("error_class", "request_cancelled"),
				zap.Error(err),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
			w.Header().Set("Cache-Control", "no-store")
			writeError(w, http.StatusServiceUnavailable, "request cancelled")
			return
		}
		s.logger.Info("preview_request_failed",
			logging.RequestID(reqID),
			zap.String("error_class", "invalid_url"),
			zap.String("message", reason.String()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		w.Header().Set("Cache-Control", "no-store")
		writeError(w, http.StatusBadRequest, reason.String())
		return
	}

	cache := "memory_miss"
	if res.CacheHit {
		cache = "memory_hit"
	}
	w.Header().Set("Cache-Control", "public, max-age="+strconv.FormatInt(int64(s.cfg.CacheTTL/time.Second), 10))
	writeJSON(w, http.StatusOK, res.Payload)

	s.logger.Info("preview_request_complete",
		logging.RequestID(reqID),
		zap.Int("status", http.StatusOK),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.String("cache", cache),
		zap.Bool("shared", res.Shared),
	)
}

func (s *Server) refreshScreenshots(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := RequestIDFromContext(r.Context())
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Vary", "Authorization")

	s.logger.Info("refresh_request_start",
		logging.RequestID(reqID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)

	fail := func(status int, class, message string) {
		s.logger.Info("refresh_request_failed",
			logging.RequestID(reqID),
			zap.String("error_class", class),
			zap.String("message", message),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		writeError(w, status, message)
	}

	if s.cfg.RefreshToken == "" {
		fail(http.StatusServiceUnavailable, "config_missing", "refresh token is not configured")
		return
	}
	if !authorized(r.Header.Get("Authorization"), s.cfg.RefreshToken) {
		fail(http.StatusUnauthorized, "auth_failed", "unauthorized")
		return
	}
	raws, err := screenshot.ReadURLList(s.cfg.URLsConfigPath)
	if err != nil {
		fail(http.StatusBadRequest, "config_invalid", "unable to read configured URL list")
		return
	}

	// Captures finish even if the caller goes away; the worker timeout bounds each one.
	summary := s.refresher.RefreshBatch(context.WithoutCancel(r.Context()), raws, reqID)
	writeJSON(w, http.StatusOK, refreshResponse{
		OK:            true,
		RequestedURLs: summary.RequestedURLs,
		Refreshed:     summary.Refreshed,
		Invalid:       summary.Invalid,
		Failed:        summary.Failed,
	})

	s.logger.Info("refresh_request_complete",
		logging.RequestID(reqID),
		zap.Int("status", http.StatusOK),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.Int("requested_urls", summary.RequestedURLs),
		zap.Int("refreshed", summary.Refreshed),
		zap.Int("invalid", summary.Invalid),
		zap.Int("failed", summary.Failed),
	)
}

// authorized checks an Authorization header against expected in constant time.
func authorized(header, expected string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// rawHost is the host of an unvalidated input, for the request start event.
func rawHost(raw string) string {
	target, err := urlguard.Parse(raw)
	if err != nil || target.Host() == "" {
		return "unknown"
	}
	return target.Host()
}
