// Package pinned fetches preview pages over connections pinned to addresses
// that were validated before dialing, following redirects by hand so every
// hop is re-validated.
package pinned

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/JakeFAU/linkpreview/internal/metrics"
	"github.com/JakeFAU/linkpreview/internal/telemetry"
	"github.com/JakeFAU/linkpreview/internal/urlguard"
)

// Resolver looks up the addresses for a hostname.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// HostLimiter paces outbound requests per host.
type HostLimiter interface {
	Wait(ctx context.Context, host string) error
}

// Config controls fetch limits.
type Config struct {
	UserAgent             string
	RequestTimeout        time.Duration
	ConnectTimeout        time.Duration
	DNSLookupTimeout      time.Duration
	MaxRedirects          int
	MaxResolvedIPAttempts int
	MaxBodyBytes          int64
}

// Result is a successfully fetched page.
type Result struct {
	// FinalURL is the URL that produced the body after redirects.
	FinalURL   *urlguard.Target
	Body       string
	StatusCode int
}

// Fetcher performs SSRF-safe GET requests.
type Fetcher struct {
	cfg      Config
	resolver Resolver
	limiter  HostLimiter
	validate func(*urlguard.Target) error
	allowIP  func(netip.Addr) bool
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithResolver overrides DNS resolution.
func WithResolver(r Resolver) Option {
	return func(f *Fetcher) { f.resolver = r }
}

// WithLimiter paces outbound hops per host.
func WithLimiter(l HostLimiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithAddressPolicy replaces the URL and resolved-address checks.
func WithAddressPolicy(validate func(*urlguard.Target) error, allowIP func(netip.Addr) bool) Option {
	return func(f *Fetcher) {
		f.validate = validate
		f.allowIP = allowIP
	}
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "portfolio-preview-bot/1.0"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 6 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 3 * time.Second
	}
	if cfg.DNSLookupTimeout <= 0 {
		cfg.DNSLookupTimeout = 2 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 4
	}
	if cfg.MaxResolvedIPAttempts <= 0 {
		cfg.MaxResolvedIPAttempts = 3
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 512 * 1024
	}
	f := &Fetcher{
		cfg:      cfg,
		resolver: net.DefaultResolver,
		validate: urlguard.Validate,
		allowIP:  urlguard.AllowedIP,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves target, following at most MaxRedirects redirects. Every hop
// is validated and dialed only to addresses that passed the address policy.
func (f *Fetcher) Fetch(ctx context.Context, target *urlguard.Target) (Result, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "pinned.Fetch")
	defer span.End()

	start := time.Now()
	res, err := f.fetch(ctx, target)
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).label()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(
			attribute.Int("http.status_code", res.StatusCode),
			attribute.Int("preview.body_bytes", len(res.Body)),
		)
	}
	metrics.ObserveFetch(outcome, len(res.Body), time.Since(start))
	return res, err
}

func (f *Fetcher) fetch(ctx context.Context, target *urlguard.Target) (Result, error) {
	current := target
	for hop := 0; hop <= f.cfg.MaxRedirects; hop++ {
		resp, err := f.send(ctx, current)
		if err != nil {
			return Result{}, err
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			location := resp.Header.Get("Location")
			drain(resp)
			if hop == f.cfg.MaxRedirects {
				return Result{}, newError(KindTooManyRedirects, nil)
			}
			next, err := f.redirectTarget(current, location)
			if err != nil {
				return Result{}, err
			}
			current = next
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			drain(resp)
			return Result{}, &Error{Kind: KindNonSuccess, StatusCode: resp.StatusCode}
		}

		body, err := readLimited(resp.Body, f.cfg.MaxBodyBytes)
		closeErr := resp.Body.Close()
		if err != nil {
			return Result{}, err
		}
		if closeErr != nil {
			return Result{}, newError(KindBodyRead, closeErr)
		}
		return Result{FinalURL: current, Body: body, StatusCode: resp.StatusCode}, nil
	}
	return Result{}, newError(KindTooManyRedirects, nil)
}

func (f *Fetcher) redirectTarget(current *urlguard.Target, location string) (*urlguard.Target, error) {
	if strings.TrimSpace(location) == "" {
		return nil, newError(KindRedirectWithoutLocation, nil)
	}
	next, err := current.Resolve(location)
	if err != nil {
		return nil, newError(KindInvalidRedirect, err)
	}
	if err := f.validate(next); err != nil {
		return nil, newError(KindBlocked, err)
	}
	return next, nil
}

// send performs a single hop without following redirects.
func (f *Fetcher) send(ctx context.Context, target *urlguard.Target) (*http.Response, error) {
	if err := f.validate(target); err != nil {
		return nil, newError(KindBlocked, err)
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, target.Host()); err != nil {
			return nil, newError(KindRequest, err)
		}
	}

	if _, literal := target.Addr(); literal {
		return f.do(ctx, target, "")
	}

	addrs, err := f.resolve(ctx, target.Host())
	if err != nil {
		return nil, err
	}
	if len(addrs) > f.cfg.MaxResolvedIPAttempts {
		addrs = addrs[:f.cfg.MaxResolvedIPAttempts]
	}

	var lastErr error
	for _, addr := range addrs {
		pinned := netip.AddrPortFrom(addr, uint16(target.Port())).String() //nolint:gosec // ports are parser-bounded
		resp, err := f.do(ctx, target, pinned)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// resolve looks up host and returns its distinct addresses in resolver order.
// A single disallowed address rejects the host outright.
func (f *Fetcher) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, f.cfg.DNSLookupTimeout)
	defer cancel()

	found, err := f.resolver.LookupNetIP(lookupCtx, "ip", host)
	if err != nil {
		if errors.Is(lookupCtx.Err(), context.DeadlineExceeded) {
			return nil, newError(KindDNSTimeout, err)
		}
		return nil, newError(KindUnresolvable, err)
	}

	seen := make(map[netip.Addr]struct{}, len(found))
	addrs := make([]netip.Addr, 0, len(found))
	for _, addr := range found {
		addr = addr.Unmap()
		if !f.allowIP(addr) {
			return nil, newError(KindBlocked, &urlguard.Error{Reason: urlguard.ReasonBlockedAddress})
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, newError(KindUnresolvable, nil)
	}
	return addrs, nil
}

// do sends one GET. When pinnedAddr is set every connection dials that
// address while the request keeps the original Host header and TLS name.
func (f *Fetcher) do(ctx context.Context, target *urlguard.Target, pinnedAddr string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, newError(KindClientSetup, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	client := f.client(pinnedAddr)
	defer client.CloseIdleConnections()

	resp, err := client.Do(req) //nolint:bodyclose // closed by the caller
	if err != nil {
		return nil, newError(KindRequest, err)
	}
	return resp, nil
}

func (f *Fetcher) client(pinnedAddr string) *http.Client {
	dialer := &net.Dialer{
		Timeout:   f.cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	dial := dialer.DialContext
	if pinnedAddr != "" {
		dial = func(ctx context.Context, network, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, pinnedAddr)
		}
	}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dial,
		TLSHandshakeTimeout:   f.cfg.ConnectTimeout,
		ResponseHeaderTimeout: f.cfg.RequestTimeout,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          1,
		IdleConnTimeout:       5 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   f.cfg.RequestTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// readLimited reads body up to limit bytes and decodes it as UTF-8, replacing
// invalid sequences.
func readLimited(body io.Reader, limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return "", newError(KindBodyRead, err)
	}
	if int64(len(data)) > limit {
		return "", newError(KindBodyTooLarge, nil)
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
