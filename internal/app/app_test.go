// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkpreview/internal/app"
	"github.com/JakeFAU/linkpreview/internal/config"
	"github.com/JakeFAU/linkpreview/internal/urlguard"
)

func mustTarget(t *testing.T, raw string) *urlguard.Target {
	t.Helper()
	target, err := urlguard.Parse(raw)
	require.NoError(t, err)
	return target
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("SCREENSHOT_CACHE_INDEX_PATH", filepath.Join(t.TempDir(), "index.json"))
	t.Setenv("STATIC_DIR", t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNew_WiresServices(t *testing.T) {
	cfg := testConfig(t)

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	assert.NotNil(t, a.Server())
	assert.NotNil(t, a.Engine())
	assert.NotNil(t, a.Previews())
	assert.Equal(t, cfg, a.Config())
	assert.Regexp(t, `^req-\d+-1$`, a.NewRequestID())

	rec := httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","screenshot_worker":"unconfigured"}`, rec.Body.String())
}

func TestNew_ReadyReportsConfiguredWorker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Screenshot.WorkerURL = "http://127.0.0.1:1/"

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	rec := httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","screenshot_worker":"configured"}`, rec.Body.String())
}

func TestNew_BlockedPreviewIsRejected(t *testing.T) {
	a, err := app.New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/preview?url=http://127.0.0.1:8080/", nil)
	a.Server().Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"host address is blocked"}`, rec.Body.String())
}

func TestNew_LoadsExistingScreenshotIndex(t *testing.T) {
	cfg := testConfig(t)
	index := `{"entries":{"https://example.com/":{"image":"data:x","captured_at":1,"expires_at":4102444800,"source":"scheduled-refresh"}}}`
	require.NoError(t, os.WriteFile(cfg.Screenshot.CacheIndexPath, []byte(index), 0o600))

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	out := a.Engine().Resolve(context.Background(), mustTarget(t, "https://example.com/"), "req")
	assert.Equal(t, "data:x", out.Image)
}

func TestNew_IndexPathIsDirectory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Screenshot.CacheIndexPath = t.TempDir()

	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestClose_RespectsDeadline(t *testing.T) {
	a, err := app.New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Close(ctx))
}
