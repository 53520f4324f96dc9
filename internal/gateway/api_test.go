// ABOUTME: Tests for the HTTP routes: auth, health, metrics, MCP and the tunnel control API
// ABOUTME: Drives the handler through httptest with in-memory tunnel providers

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/beacon/internal/config"
	"github.com/2389/beacon/internal/tunnel"
)

type apiFixture struct {
	gw       *Gateway
	srv      *httptest.Server
	provider *fakeProvider
}

func newAPIFixture(t *testing.T, mutate ...func(*config.Config)) *apiFixture {
	t.Helper()

	cfg := testConfig(t)
	for _, m := range mutate {
		m(cfg)
	}

	provider := newFakeProvider(tunnel.ProviderCloudflareQuick, "https://calm-lake.trycloudflare.com")
	gw, err := New(context.Background(), cfg, testOptions(provider))
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	return &apiFixture{gw: gw, srv: srv, provider: provider}
}

func (f *apiFixture) request(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func waitForState(t *testing.T, gw *Gateway, want tunnel.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return gw.Tunnel().Status().State == want
	}, 5*time.Second, 10*time.Millisecond, "tunnel never reached %s", want)
}

func TestHealth_NoAuthRequired(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Correlation-ID"))
	health := decodeBody[HealthResponse](t, resp)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, testVersion, health.Version)
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	f := newAPIFixture(t)

	for _, path := range []string{"/mcp", "/api/tunnel", "/api/tunnel/events", "/api/nope", "/elsewhere"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(f.srv.URL + path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")
		})
	}

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/tunnel", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCorrelationID_Echoed(t *testing.T) {
	f := newAPIFixture(t)

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "req-42", resp.Header.Get("X-Correlation-ID"))
}

func TestUnknownAPIRoute(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodGet, "/api/agents", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", decodeBody[map[string]string](t, resp)["error"])
}

func TestMCP_ToolsListAndCall(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/mcp", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	var names []string
	for _, tool := range list.Result.Tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "get_server_info")
	assert.Contains(t, names, "get_tunnel_status")
	assert.Contains(t, names, "list_storage_locations")

	resp = f.request(t, http.MethodPost, "/mcp",
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_tunnel_status","arguments":{}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var call struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&call))
	require.Len(t, call.Result.Content, 1)
	assert.False(t, call.Result.IsError)
	assert.Contains(t, call.Result.Content[0].Text, `"state":"disconnected"`)
}

func TestTunnelStatus(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodGet, "/api/tunnel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[TunnelResponse](t, resp)
	assert.Equal(t, tunnel.StateDisconnected, body.State)
	assert.Equal(t, []tunnel.ProviderType{tunnel.ProviderCloudflareQuick}, body.Providers)
}

func TestTunnelStart_DefaultProvider(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/api/tunnel/start", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEqual(t, tunnel.StateDisconnected, decodeBody[TunnelResponse](t, resp).State)

	waitForState(t, f.gw, tunnel.StateConnected)
	assert.Equal(t, "https://calm-lake.trycloudflare.com", f.gw.Tunnel().Status().URL)

	select {
	case target := <-f.provider.targets:
		assert.True(t, strings.HasPrefix(target, "http://127.0.0.1:"), target)
	default:
		t.Fatal("provider was not started")
	}
}

func TestTunnelStart_Conflict(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/api/tunnel/start", `{"provider":"cloudflare_quick"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitForState(t, f.gw, tunnel.StateConnected)

	resp = f.request(t, http.MethodPost, "/api/tunnel/start", `{"provider":"cloudflare_quick"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, decodeBody[map[string]string](t, resp)["error"], "already active")
}

func TestTunnelStart_BadRequests(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{"provider":`, "invalid JSON body"},
		{"unknown provider", `{"provider":"ngrok"}`, "ngrok"},
		{"provider not configured", `{"provider":"cloudflare_named"}`, "cloudflare_named"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.request(t, http.MethodPost, "/api/tunnel/start", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, decodeBody[map[string]string](t, resp)["error"], tt.want)
		})
	}
	assert.Equal(t, tunnel.StateDisconnected, f.gw.Tunnel().Status().State)
}

func TestTunnelStart_BodyTooLarge(t *testing.T) {
	f := newAPIFixture(t, func(c *config.Config) { c.Server.MaxBodyBytes = 16 })

	resp := f.request(t, http.MethodPost, "/api/tunnel/start", `{"provider":"cloudflare_quick","padding":"xxxxxxxxxxxxxxxx"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTunnelStop(t *testing.T) {
	f := newAPIFixture(t)

	require.Equal(t, http.StatusAccepted, f.request(t, http.MethodPost, "/api/tunnel/start", "").StatusCode)
	waitForState(t, f.gw, tunnel.StateConnected)

	resp := f.request(t, http.MethodPost, "/api/tunnel/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, tunnel.StateDisconnected, decodeBody[TunnelResponse](t, resp).State)

	// stopping again is harmless
	resp = f.request(t, http.MethodPost, "/api/tunnel/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// sseReader reads "event:"/"data:" pairs from a stream.
type sseReader struct {
	scanner *bufio.Scanner
}

func (r *sseReader) next(t *testing.T) (string, tunnel.Status) {
	t.Helper()
	var event string
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var st tunnel.Status
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &st))
			return event, st
		}
	}
	t.Fatalf("stream ended: %v", r.scanner.Err())
	return "", tunnel.Status{}
}

func TestTunnelEvents_StreamsTransitions(t *testing.T) {
	f := newAPIFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/api/tunnel/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	events := &sseReader{scanner: bufio.NewScanner(resp.Body)}

	event, st := events.next(t)
	assert.Equal(t, "status", event)
	assert.Equal(t, tunnel.StateDisconnected, st.State)

	require.Equal(t, http.StatusAccepted, f.request(t, http.MethodPost, "/api/tunnel/start", "").StatusCode)

	_, st = events.next(t)
	assert.Equal(t, tunnel.StateConnecting, st.State)
	_, st = events.next(t)
	assert.Equal(t, tunnel.StateConnected, st.State)
	assert.Equal(t, "https://calm-lake.trycloudflare.com", st.URL)

	require.Equal(t, http.StatusOK, f.request(t, http.MethodPost, "/api/tunnel/stop", "").StatusCode)
	_, st = events.next(t)
	assert.Equal(t, tunnel.StateDisconnected, st.State)
}

func TestTunnelEvents_EndOnShutdown(t *testing.T) {
	f := newAPIFixture(t)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/tunnel/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	events := &sseReader{scanner: bufio.NewScanner(resp.Body)}
	events.next(t)

	require.NoError(t, f.gw.Tunnel().Close(context.Background()))

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("event stream stayed open after the tunnel manager closed")
	}
}

func TestMetrics(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		f := newAPIFixture(t, func(c *config.Config) {
			c.Metrics.Enabled = true
			c.Metrics.Path = "/metrics"
		})

		unauth, err := http.Get(f.srv.URL + "/metrics")
		require.NoError(t, err)
		unauth.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, unauth.StatusCode)

		resp := f.request(t, http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "beacon_auth_rejections_total{reason=\"missing_header\"} 1")
	})

	t.Run("disabled", func(t *testing.T) {
		f := newAPIFixture(t)
		resp := f.request(t, http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(testLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestLoggingMiddleware_Flushes(t *testing.T) {
	var flushed bool
	h := loggingMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok, "wrapped writer must support flushing")
		_, _ = io.WriteString(w, "x")
		f.Flush()
		flushed = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, flushed)
	assert.True(t, rec.Flushed)
}

func TestFormatSSEEvent(t *testing.T) {
	got := formatSSEEvent("status", `{"state":"connected"}`)
	assert.Equal(t, "event: status\ndata: {\"state\":\"connected\"}\n\n", got)
}
