// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger configured for development or production at the
// given level ("debug" or "info"; anything else means info).
func New(level string, development bool) (*zap.Logger, error) {
	atomic := zap.NewAtomicLevelAt(parseLevel(level))
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = atomic
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = atomic
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

func parseLevel(level string) zapcore.Level {
	if strings.EqualFold(strings.TrimSpace(level), "debug") {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// URLMode selects how much of a previewed URL ends up in log lines.
type URLMode string

// Supported URL modes.
const (
	URLModeHost URLMode = "host"
	URLModeFull URLMode = "full"
)

// PreviewURL returns the "url" field for a previewed target. In host mode only
// the hostname is logged so query strings and paths stay out of the logs.
func PreviewURL(mode URLMode, href, host string) zap.Field {
	if mode == URLModeFull {
		return zap.String("url", href)
	}
	return zap.String("url", host)
}

// RequestID is the correlation field carried by every request-scoped event.
func RequestID(id string) zap.Field {
	return zap.String("request_id", id)
}
