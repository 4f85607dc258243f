package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkpreview/internal/preview"
	"github.com/JakeFAU/linkpreview/internal/screenshot"
	"github.com/JakeFAU/linkpreview/internal/urlguard"
)

type fakePreviewer struct {
	mu      sync.Mutex
	lastID  string
	lastRaw string
	result  preview.Result
	panic   bool
}

func (f *fakePreviewer) Preview(_ context.Context, raw, requestID string) (preview.Result, error) {
	if f.panic {
		panic("boom")
	}
	f.mu.Lock()
	f.lastID, f.lastRaw = requestID, raw
	f.mu.Unlock()
	if _, err := urlguard.ParseAndValidate(raw); err != nil {
		return preview.Result{}, err
	}
	return f.result, nil
}

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) RefreshBatch(ctx context.Context, raws []string, requestID string) screenshot.BatchSummary {
	args := m.Called(ctx, raws, requestID)
	return args.Get(0).(screenshot.BatchSummary) //nolint:forcetypeassert // set by the test
}

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() string { return f.id }

func newTestServer(t *testing.T, previewer Previewer, refresher BatchRefresher, cfg Config) *Server {
	t.Helper()
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 300 * time.Second
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = t.TempDir()
	}
	return NewServer(previewer, refresher, fixedIDs{id: "req-1-1"}, cfg, zap.NewNop())
}

func TestServer_PreviewSuccess(t *testing.T) {
	t.Parallel()

	previewer := &fakePreviewer{result: preview.Result{Payload: preview.Payload{
		OK: true, URL: "https://example.com/", Title: "Example",
	}}}
	server := newTestServer(t, previewer, &mockRefresher{}, Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/preview?url=https%3A%2F%2Fexample.com", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "Accept-Encoding", rec.Header().Get("Vary"))
	assert.Equal(t, "req-1-1", rec.Header().Get(RequestIDHeader))
	assert.JSONEq(t, `{"ok":true,"url":"https://example.com/","title":"Example"}`, rec.Body.String())
	assert.Equal(t, "https://example.com", previewer.lastRaw)
	assert.Equal(t, "req-1-1", previewer.lastID)
}

type blockingPreviewer struct{}

func (blockingPreviewer) Preview(ctx context.Context, _, _ string) (preview.Result, error) {
	<-ctx.Done()
	return preview.Result{}, ctx.Err()
}

func TestServer_PreviewTimeoutIsNotCacheable(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, blockingPreviewer{}, &mockRefresher{}, Config{PreviewTimeout: 50 * time.Millisecond})

	req := httptest.NewRequest(http.MethodGet, "/api/preview?url=https://example.com", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "req-1-1", rec.Header().Get(RequestIDHeader))
	assert.JSONEq(t, `{"ok":false,"error":"request timed out"}`, rec.Body.String())
}

func TestServer_PreviewWithinTimeoutKeepsCacheHeaders(t *testing.T) {
	t.Parallel()

	previewer := &fakePreviewer{result: preview.Result{Payload: preview.Payload{OK: true, URL: "https://example.com/"}}}
	server := newTestServer(t, previewer, &mockRefresher{}, Config{PreviewTimeout: time.Second})

	req := httptest.NewRequest(http.MethodGet, "/api/preview?url=https://example.com", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))
}

func TestServer_PreviewEchoesInboundRequestID(t *testing.T) {
	t.Parallel()

	previewer := &fakePreviewer{result: preview.Result{Payload: preview.Payload{OK: true}}}
	server := newTestServer(t, previewer, &mockRefresher{}, Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/preview?url=https://example.com", nil)
	req.Header.Set(RequestIDHeader, "  upstream-42 ")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "upstream-42", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "upstream-42", previewer.lastID)
}

func TestServer_PreviewRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakePreviewer{}, &mockRefresher{}, Config{})

	testCases := []struct {
		name    string
		query   string
		message string
	}{
		{"missing parameter", "", "invalid URL"},
		{"scheme", "?url=ftp://example.com", "URL scheme must be http or https"},
		{"localhost", "?url=http://localhost/", "local addresses are not allowed"},
		{"private address", "?url=http://10.0.0.1/", "host address is blocked"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/api/preview"+tc.query, nil)
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, tc.message, body["error"])
		})
	}
}

func TestServer_PanicIsRecovered(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakePreviewer{panic: true}, &mockRefresher{}, Config{})
	req := httptest.NewRequest(http.MethodGet, "/api/preview?url=https://example.com", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func writeURLList(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "urls.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestServer_RefreshScreenshots(t *testing.T) {
	t.Parallel()

	listPath := writeURLList(t, `{"urls":["https://a.example/","ftp://bad/"," "]}`)

	testCases := []struct {
		name   string
		cfg    Config
		auth   string
		status int
		body   string
	}{
		{"no token configured", Config{URLsConfigPath: listPath}, "Bearer s3cret", http.StatusServiceUnavailable,
			`{"ok":false,"error":"refresh token is not configured"}`},
		{"missing auth", Config{RefreshToken: "s3cret", URLsConfigPath: listPath}, "", http.StatusUnauthorized,
			`{"ok":false,"error":"unauthorized"}`},
		{"wrong token", Config{RefreshToken: "s3cret", URLsConfigPath: listPath}, "Bearer nope", http.StatusUnauthorized,
			`{"ok":false,"error":"unauthorized"}`},
		{"wrong scheme", Config{RefreshToken: "s3cret", URLsConfigPath: listPath}, "Basic s3cret", http.StatusUnauthorized,
			`{"ok":false,"error":"unauthorized"}`},
		{"unreadable list", Config{RefreshToken: "s3cret", URLsConfigPath: filepath.Join(t.TempDir(), "none.json")},
			"Bearer s3cret", http.StatusBadRequest, `{"ok":false,"error":"unable to read configured URL list"}`},
		{"success", Config{RefreshToken: "s3cret", URLsConfigPath: listPath}, "Bearer  s3cret ", http.StatusOK,
			`{"ok":true,"requestedUrls":2,"refreshed":1,"invalid":1,"failed":0}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			refresher := &mockRefresher{}
			if tc.status == http.StatusOK {
				refresher.On("RefreshBatch", mock.Anything, []string{"https://a.example/", "ftp://bad/"}, "req-1-1").
					Return(screenshot.BatchSummary{RequestedURLs: 2, Refreshed: 1, Invalid: 1}).Once()
			}
			server := newTestServer(t, &fakePreviewer{}, refresher, tc.cfg)

			req := httptest.NewRequest(http.MethodPost, "/internal/refresh-screenshots", nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
			assert.JSONEq(t, tc.body, rec.Body.String())
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			assert.Equal(t, "Authorization", rec.Header().Get("Vary"))
			refresher.AssertExpectations(t)
			if tc.status != http.StatusOK {
				refresher.AssertNotCalled(t, "RefreshBatch", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestServer_RefreshOutlivesClientDisconnect(t *testing.T) {
	t.Parallel()

	listPath := writeURLList(t, `["https://a.example/"]`)
	refresher := &mockRefresher{}
	refresher.On("RefreshBatch", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }),
		[]string{"https://a.example/"}, "req-1-1").
		Return(screenshot.BatchSummary{RequestedURLs: 1, Refreshed: 1}).Once()
	server := newTestServer(t, &fakePreviewer{}, refresher, Config{RefreshToken: "s3cret", URLsConfigPath: listPath})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/internal/refresh-screenshots", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	refresher.AssertExpectations(t)
}

func TestAuthorized(t *testing.T) {
	t.Parallel()

	assert.True(t, authorized("Bearer token", "token"))
	assert.True(t, authorized("Bearer   token  ", "token"))
	assert.False(t, authorized("bearer token", "token"))
	assert.False(t, authorized("Bearer ", "token"))
	assert.False(t, authorized("Bearer tokens", "token"))
	assert.False(t, authorized("", "token"))
}

func TestServer_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakePreviewer{}, &mockRefresher{}, Config{CaptureEnabled: true})

	for path, want := range map[string]string{
		"/healthz": `{"status":"ok"}`,
		"/readyz":  `{"status":"ready","screenshot_worker":"configured"}`,
	} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.JSONEq(t, want, rec.Body.String(), path)
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_StaticFallback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0o600))
	server := newTestServer(t, &fakePreviewer{}, &mockRefresher{}, Config{StaticDir: dir})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	asset := get("/assets/app.js")
	require.Equal(t, http.StatusOK, asset.Code)
	assert.Equal(t, "console.log(1)", asset.Body.String())

	for _, path := range []string{"/", "/projects/some-route"} {
		rec := get(path)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.True(t, strings.Contains(rec.Body.String(), "app"), path)
	}
}

func TestServer_StaticMissingIndex(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &fakePreviewer{}, &mockRefresher{}, Config{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nothing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
