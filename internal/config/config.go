// Package config loads and validates link preview configuration via Viper.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nlnwa/whatwg-url/url"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Preview    PreviewConfig    `mapstructure:"preview"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	Log        LogConfig        `mapstructure:"log"`
	Static     StaticConfig     `mapstructure:"static"`
	Tracing    TracingConfig    `mapstructure:"tracing"`

	// Warnings lists settings that were present but rejected in favour of
	// their defaults. Callers log them once the logger exists.
	Warnings []string `mapstructure:"-"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PreviewConfig governs the preview cache and the pinned fetcher.
type PreviewConfig struct {
	UserAgent    string  `mapstructure:"user_agent"`
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`

	CacheTTL              time.Duration `mapstructure:"-"`
	CacheMaxEntries       int           `mapstructure:"-"`
	ResponseMaxBytes      int64         `mapstructure:"-"`
	RequestTimeout        time.Duration `mapstructure:"-"`
	ConnectTimeout        time.Duration `mapstructure:"-"`
	DNSLookupTimeout      time.Duration `mapstructure:"-"`
	MaxRedirects          int           `mapstructure:"-"`
	MaxResolvedIPAttempts int           `mapstructure:"-"`
}

// ScreenshotConfig governs the screenshot cache, refresh engine, and worker client.
type ScreenshotConfig struct {
	WorkerURL      string `mapstructure:"worker_url"`
	WorkerToken    string `mapstructure:"worker_token"`
	CacheIndexPath string `mapstructure:"cache_index_path"`
	RefreshToken   string `mapstructure:"refresh_token"`
	URLsConfigPath string `mapstructure:"urls_config_path"`

	WorkerTimeout      time.Duration `mapstructure:"-"`
	TTL                time.Duration `mapstructure:"-"`
	StaleGrace         time.Duration `mapstructure:"-"`
	RefreshConcurrency int           `mapstructure:"-"`
}

// LogConfig toggles zap features and URL redaction.
type LogConfig struct {
	Level          string `mapstructure:"level"`
	PreviewURLMode string `mapstructure:"preview_url_mode"`
	Development    bool   `mapstructure:"development"`
}

// StaticConfig points at the built front-end assets.
type StaticConfig struct {
	Dir string `mapstructure:"dir"`
}

// TracingConfig names the service in exported spans.
type TracingConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// Log levels accepted by log.level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
)

// URL logging modes accepted by log.preview_url_mode.
const (
	URLModeHost = "host"
	URLModeFull = "full"
)

// DefaultUserAgent is sent on every outbound preview fetch.
const DefaultUserAgent = "portfolio-preview-bot/1.0"

const day = 24 * 60 * 60

// bounded describes an integer setting that silently falls back to its
// default when missing, unparsable, or outside [min, max].
type bounded struct {
	key    string
	legacy string // seconds-denominated alias for a millisecond key
	def    int64
	min    int64
	max    int64
	apply  func(*Config, int64)
}

var boundedSettings = []bounded{
	{key: "preview.cache_ttl_seconds", def: 300, min: 1, max: day,
		apply: func(c *Config, v int64) { c.Preview.CacheTTL = time.Duration(v) * time.Second }},
	{key: "preview.cache_max_entries", def: 256, min: 1, max: 10_000,
		apply: func(c *Config, v int64) { c.Preview.CacheMaxEntries = int(v) }},
	{key: "preview.response_max_bytes", def: 512 * 1024, min: 1024, max: 10 * 1024 * 1024,
		apply: func(c *Config, v int64) { c.Preview.ResponseMaxBytes = v }},
	{key: "preview.request_timeout_ms", legacy: "preview.request_timeout_seconds", def: 6_000, min: 100, max: 120_000,
		apply: func(c *Config, v int64) { c.Preview.RequestTimeout = time.Duration(v) * time.Millisecond }},
	{key: "preview.connect_timeout_ms", legacy: "preview.connect_timeout_seconds", def: 3_000, min: 100, max: 30_000,
		apply: func(c *Config, v int64) { c.Preview.ConnectTimeout = time.Duration(v) * time.Millisecond }},
	{key: "preview.dns_lookup_timeout_ms", legacy: "preview.dns_lookup_timeout_seconds", def: 2_000, min: 100, max: 30_000,
		apply: func(c *Config, v int64) { c.Preview.DNSLookupTimeout = time.Duration(v) * time.Millisecond }},
	{key: "preview.max_redirects", def: 4, min: 1, max: 10,
		apply: func(c *Config, v int64) { c.Preview.MaxRedirects = int(v) }},
	{key: "preview.max_resolved_ip_attempts", def: 3, min: 1, max: 10,
		apply: func(c *Config, v int64) { c.Preview.MaxResolvedIPAttempts = int(v) }},
	{key: "screenshot.worker_timeout_ms", def: 8_000, min: 100, max: 120_000,
		apply: func(c *Config, v int64) { c.Screenshot.WorkerTimeout = time.Duration(v) * time.Millisecond }},
	{key: "screenshot.ttl_seconds", def: 7 * day, min: 60, max: 365 * day,
		apply: func(c *Config, v int64) { c.Screenshot.TTL = time.Duration(v) * time.Second }},
	{key: "screenshot.stale_grace_seconds", def: 14 * day, min: 0, max: 365 * day,
		apply: func(c *Config, v int64) { c.Screenshot.StaleGrace = time.Duration(v) * time.Second }},
	{key: "screenshot.refresh_concurrency", def: 3, min: 2, max: 4,
		apply: func(c *Config, v int64) { c.Screenshot.RefreshConcurrency = int(v) }},
}

// Load builds a Config from disk/environment. Environment variables map to
// keys by upper-casing and replacing "." with "_", so preview.cache_ttl_seconds
// is read from PREVIEW_CACHE_TTL_SECONDS.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	for _, b := range boundedSettings {
		value, warning := resolveBounded(v, b)
		if warning != "" {
			cfg.Warnings = append(cfg.Warnings, warning)
		}
		b.apply(&cfg, value)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("preview.user_agent", DefaultUserAgent)
	v.SetDefault("preview.rate_limit_rps", 0)
	v.SetDefault("screenshot.worker_url", "")
	v.SetDefault("screenshot.worker_token", "")
	v.SetDefault("screenshot.cache_index_path", "/tmp/preview-cache.json")
	v.SetDefault("screenshot.refresh_token", "")
	v.SetDefault("screenshot.urls_config_path", "config/preview-urls.json")
	v.SetDefault("log.level", LevelInfo)
	v.SetDefault("log.preview_url_mode", URLModeHost)
	v.SetDefault("log.development", false)
	v.SetDefault("static.dir", "dist")
	v.SetDefault("tracing.service_name", "linkpreview")
}

// bindEnv registers keys that have no default so AutomaticEnv can see them,
// plus the bare PORT variable used by most hosting platforms.
func bindEnv(v *viper.Viper) error {
	if err := v.BindEnv("server.port", "PORT", "SERVER_PORT"); err != nil {
		return fmt.Errorf("bind server.port: %w", err)
	}
	for _, b := range boundedSettings {
		if err := v.BindEnv(b.key); err != nil {
			return fmt.Errorf("bind %s: %w", b.key, err)
		}
		if b.legacy != "" {
			if err := v.BindEnv(b.legacy); err != nil {
				return fmt.Errorf("bind %s: %w", b.legacy, err)
			}
		}
	}
	return nil
}

func resolveBounded(v *viper.Viper, b bounded) (int64, string) {
	raw := strings.TrimSpace(v.GetString(b.key))
	if raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n >= b.min && n <= b.max {
			return n, ""
		}
	}
	if b.legacy != "" {
		legacyRaw := strings.TrimSpace(v.GetString(b.legacy))
		if legacyRaw != "" {
			if secs, err := strconv.ParseInt(legacyRaw, 10, 64); err == nil && secs >= 0 && secs <= b.max/1000 {
				if ms := secs * 1000; ms >= b.min {
					return ms, ""
				}
			}
			return b.def, fmt.Sprintf("%s=%q out of range [%d, %d] ms, using default %d",
				b.legacy, legacyRaw, b.min, b.max, b.def)
		}
	}
	if raw != "" {
		return b.def, fmt.Sprintf("%s=%q out of range [%d, %d], using default %d", b.key, raw, b.min, b.max, b.def)
	}
	return b.def, ""
}

func (c *Config) normalize() {
	c.Preview.UserAgent = strings.TrimSpace(c.Preview.UserAgent)
	if c.Preview.UserAgent == "" {
		c.Preview.UserAgent = DefaultUserAgent
	}
	if c.Preview.RateLimitRPS < 0 {
		c.Preview.RateLimitRPS = 0
	}

	c.Screenshot.WorkerToken = strings.TrimSpace(c.Screenshot.WorkerToken)
	c.Screenshot.RefreshToken = strings.TrimSpace(c.Screenshot.RefreshToken)
	c.Screenshot.CacheIndexPath = strings.TrimSpace(c.Screenshot.CacheIndexPath)
	c.Screenshot.URLsConfigPath = strings.TrimSpace(c.Screenshot.URLsConfigPath)
	c.Screenshot.WorkerURL = strings.TrimSpace(c.Screenshot.WorkerURL)
	if c.Screenshot.WorkerURL != "" && !isHTTPURL(c.Screenshot.WorkerURL) {
		c.Warnings = append(c.Warnings,
			fmt.Sprintf("screenshot.worker_url=%q is not an http(s) URL, screenshot capture disabled", c.Screenshot.WorkerURL))
		c.Screenshot.WorkerURL = ""
	}

	switch level := strings.ToLower(strings.TrimSpace(c.Log.Level)); level {
	case LevelDebug, LevelInfo:
		c.Log.Level = level
	default:
		c.Log.Level = LevelInfo
	}
	switch mode := strings.ToLower(strings.TrimSpace(c.Log.PreviewURLMode)); mode {
	case URLModeHost, URLModeFull:
		c.Log.PreviewURLMode = mode
	default:
		c.Log.PreviewURLMode = URLModeHost
	}
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := u.Scheme()
	return (scheme == "http" || scheme == "https") && u.Hostname() != ""
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Screenshot.CacheIndexPath == "" {
		return fmt.Errorf("screenshot.cache_index_path must be set")
	}
	if c.Preview.CacheMaxEntries <= 0 {
		return fmt.Errorf("preview.cache_max_entries must be > 0")
	}
	return nil
}

// CaptureEnabled reports whether a screenshot worker is configured.
func (c Config) CaptureEnabled() bool {
	return c.Screenshot.WorkerURL != ""
}

// RefreshEnabled reports whether the refresh endpoint accepts requests.
func (c Config) RefreshEnabled() bool {
	return c.Screenshot.RefreshToken != ""
}
