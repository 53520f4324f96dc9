// ABOUTME: Tests for the Tailscale Funnel provider that need no tailnet
// ABOUTME: Covers credential and state dir resolution and the local reverse proxy

package tunnel

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	assert.Error(t, err)

	key, err := resolveTailscaleAuthKey("tskey-auth-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-auth-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-auth-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-auth-env", key)

	key, err = resolveTailscaleAuthKey("tskey-auth-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-auth-config", key, "config wins over environment")
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/beacon/ts")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/beacon/ts", dir)

	home := t.TempDir()
	t.Setenv("HOME", home)
	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".local", "share", "beacon", "tailscale"), dir)
}

func TestNewLocalProxy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "proxied "+r.URL.Path)
	}))
	defer backend.Close()

	proxy, err := newLocalProxy(backend.URL)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "proxied /mcp", rec.Body.String())
}

func TestNewLocalProxy_SelfSignedBackend(t *testing.T) {
	backend := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "tls ok")
	}))
	defer backend.Close()

	proxy, err := newLocalProxy(backend.URL)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tls ok", rec.Body.String())
}

func TestNewLocalProxy_RejectsScheme(t *testing.T) {
	_, err := newLocalProxy("ftp://127.0.0.1:21")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "scheme"))
}

func TestFunnelProvider_RequiresAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	p := NewFunnelProvider(FunnelConfig{StateDir: t.TempDir()})
	assert.Equal(t, ProviderTailscaleFunnel, p.Type())
	assert.Equal(t, DefaultFunnelHostname, p.cfg.Hostname)

	_, err := p.Start(t.Context(), localTestURL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth key required")
}
