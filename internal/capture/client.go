// Package capture talks to the external screenshot worker.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nlnwa/whatwg-url/url"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JakeFAU/linkpreview/internal/telemetry"
	"github.com/JakeFAU/linkpreview/internal/urlguard"
)

// RequestIDHeader carries the correlation id to the worker.
const RequestIDHeader = "x-request-id"

// maxResponseBytes bounds the worker response, which may inline a data URL.
const maxResponseBytes = 16 << 20

// Config configures the worker client.
type Config struct {
	// BaseURL is the worker root; "capture" is resolved against it. Empty
	// disables captures.
	BaseURL        string
	Token          string
	UserAgent      string
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

// Client requests screenshots from the worker.
type Client struct {
	endpoint  string
	token     string
	userAgent string
	http      *http.Client
}

type captureResponse struct {
	OK           bool    `json:"ok"`
	Image        *string `json:"image"`
	ImageDataURL *string `json:"imageDataUrl"`
}

// New builds a Client. A blank BaseURL yields a client whose Capture always
// fails with ClassUnconfigured.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 3 * time.Second
	}
	c := &Client{
		token:     strings.TrimSpace(cfg.Token),
		userAgent: cfg.UserAgent,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		parsed, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid worker url: %w", err)
		}
		endpoint, err := parsed.Parse("capture")
		if err != nil {
			return nil, fmt.Errorf("invalid worker capture url: %w", err)
		}
		c.endpoint = endpoint.Href(false)
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	c.http = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: cfg.ConnectTimeout,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return c, nil
}

// Configured reports whether a worker URL was supplied.
func (c *Client) Configured() bool {
	return c.endpoint != ""
}

// Capture asks the worker for a screenshot of target and returns the image
// reference (URL or data URL). Every failure is an *Error.
func (c *Client) Capture(ctx context.Context, target *urlguard.Target, requestID string) (string, error) {
	if c.endpoint == "" {
		return "", &Error{Class: ClassUnconfigured, Reason: ReasonValidation}
	}

	ctx, span := telemetry.Tracer().Start(ctx, "capture.Capture")
	defer span.End()

	image, err := c.capture(ctx, target, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var ce *Error
		if errors.As(err, &ce) && ce.StatusCode != 0 {
			span.SetAttributes(attribute.Int("http.status_code", ce.StatusCode))
		}
	}
	return image, err
}

func (c *Client) capture(ctx context.Context, target *urlguard.Target, requestID string) (string, error) {
	// Parsed per call: whatwg-url search params are bound to their Url.
	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return "", &Error{Class: ClassFailed, Reason: ReasonValidation, Cause: err}
	}
	endpoint.SearchParams().Set("url", target.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.Href(false), nil)
	if err != nil {
		return "", &Error{Class: ClassFailed, Reason: ReasonValidation, Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", upstream(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &Error{
			Class:      ClassFailed,
			Reason:     statusReason(resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	var payload captureResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return "", upstream(fmt.Errorf("decode worker response: %w", err))
	}
	if !payload.OK {
		return "", upstream(errors.New("worker reported failure"))
	}

	image := payload.Image
	if image == nil {
		image = payload.ImageDataURL
	}
	if image == nil {
		return "", upstream(ErrNoImage)
	}
	normalized := strings.Join(strings.Fields(*image), " ")
	if normalized == "" {
		return "", upstream(ErrNoImage)
	}
	return normalized, nil
}
