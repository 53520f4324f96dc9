// ABOUTME: Tests for the tunnel state machine using in-memory providers
// ABOUTME: Covers ordering, rejections, startup timeout, crash, and stop from every state

package tunnel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/2389/beacon/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const localTestURL = "http://127.0.0.1:8080"

type fakeTunnel struct {
	url       string
	done      chan struct{}
	err       error
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeTunnel(url string) *fakeTunnel {
	return &fakeTunnel{url: url, done: make(chan struct{}), closed: make(chan struct{})}
}

func (f *fakeTunnel) URL() string { return f.url }
func (f *fakeTunnel) Done() <-chan struct{} { return f.done }
func (f *fakeTunnel) Err() error { return f.err }
func (f *fakeTunnel) crash(err error) { f.err = err; close(f.done) }
func (f *fakeTunnel) wasClosed() <-chan struct{} { return f.closed }

func (f *fakeTunnel) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

type fakeProvider struct {
	typ   ProviderType
	start func(ctx context.Context, localURL string) (Tunnel, error)
}

func (p *fakeProvider) Type() ProviderType { return p.typ }
func (p *fakeProvider) Start(ctx context.Context, localURL string) (Tunnel, error) {
	return p.start(ctx, localURL)
}

// immediate returns a provider that connects at once with tun.
func immediate(typ ProviderType, tun *fakeTunnel) *fakeProvider {
	return &fakeProvider{typ: typ, start: func(context.Context, string) (Tunnel, error) { return tun, nil }}
}

// blocking returns a provider that waits for ctx and reports its error.
func blocking(typ ProviderType, started chan<- struct{}) *fakeProvider {
	return &fakeProvider{typ: typ, start: func(ctx context.Context, _ string) (Tunnel, error) {
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

func newTestManager(t *testing.T, timeout time.Duration, providers ...Provider) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Providers:      providers,
		LocalURL:       localTestURL,
		StartupTimeout: timeout,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func next(t *testing.T, ch <-chan Status) Status {
	t.Helper()
	select {
	case st, ok := <-ch:
		require.True(t, ok, "status channel closed")
		return st
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for status")
		return Status{}
	}
}

func TestManager_StartConnects(t *testing.T) {
	tun := newFakeTunnel("https://quiet-river.trycloudflare.com")
	m := newTestManager(t, time.Second, immediate(ProviderCloudflareQuick, tun))
	updates := m.Subscribe(t.Context())

	assert.Equal(t, StateDisconnected, next(t, updates).State)
	require.NoError(t, m.Start(ProviderCloudflareQuick))

	connecting := next(t, updates)
	assert.Equal(t, StateConnecting, connecting.State)
	assert.Equal(t, ProviderCloudflareQuick, connecting.Provider)

	connected := next(t, updates)
	assert.Equal(t, StateConnected, connected.State)
	assert.Equal(t, "https://quiet-river.trycloudflare.com", connected.URL)
	assert.Equal(t, connected.URL, m.Status().URL)
}

func TestManager_RejectsWhileActive(t *testing.T) {
	started := make(chan struct{})
	m := newTestManager(t, time.Minute,
		blocking(ProviderCloudflareQuick, started),
		immediate(ProviderTailscaleFunnel, newFakeTunnel("https://beacon.tail.ts.net")))

	require.NoError(t, m.Start(ProviderCloudflareQuick))
	<-started

	assert.ErrorIs(t, m.Start(ProviderCloudflareQuick), ErrAlreadyActive)
	assert.ErrorIs(t, m.Start(ProviderTailscaleFunnel), ErrAlreadyActive)
	assert.Equal(t, StateConnecting, m.Status().State)
}

func TestManager_RejectsWhileConnected(t *testing.T) {
	m := newTestManager(t, time.Second, immediate(ProviderCloudflareQuick, newFakeTunnel("https://a.trycloudflare.com")))
	updates := m.Subscribe(t.Context())
	next(t, updates)

	require.NoError(t, m.Start(ProviderCloudflareQuick))
	next(t, updates)
	require.Equal(t, StateConnected, next(t, updates).State)

	assert.ErrorIs(t, m.Start(ProviderCloudflareQuick), ErrAlreadyActive)
}

func TestManager_UnknownProvider(t *testing.T) {
	m := newTestManager(t, time.Second)
	err := m.Start(ProviderCloudflareNamed)
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.Equal(t, StateDisconnected, m.Status().State)
}

func TestManager_StartupTimeout(t *testing.T) {
	m := newTestManager(t, 100*time.Millisecond, blocking(ProviderCloudflareQuick, nil))
	updates := m.Subscribe(t.Context())
	next(t, updates)

	require.NoError(t, m.Start(ProviderCloudflareQuick))
	assert.Equal(t, StateConnecting, next(t, updates).State)

	failed := next(t, updates)
	assert.Equal(t, StateError, failed.State)
	assert.Contains(t, failed.Message, "did not publish a URL within 100ms")
}

func TestManager_ProviderError(t *testing.T) {
	p := &fakeProvider{typ: ProviderCloudflareQuick, start: func(context.Context, string) (Tunnel, error) {
		return nil, ErrBinaryNotFound
	}}
	m := newTestManager(t, time.Second, p)
	updates := m.Subscribe(t.Context())
	next(t, updates)

	require.NoError(t, m.Start(ProviderCloudflareQuick))
	next(t, updates)
	failed := next(t, updates)
	assert.Equal(t, StateError, failed.State)
	assert.Contains(t, failed.Message, "binary not found")
}

func TestManager_CrashWhileConnected(t *testing.T) {
	tun := newFakeTunnel("https://a.trycloudflare.com")
	m := newTestManager(t, time.Second, immediate(ProviderCloudflareQuick, tun))
	updates := m.Subscribe(t.Context())
	next(t, updates)

	require.NoError(t, m.Start(ProviderCloudflareQuick))
	next(t, updates)
	require.Equal(t, StateConnected, next(t, updates).State)

	tun.crash(errors.New("exit status 1"))
	failed := next(t, updates)
	assert.Equal(t, StateError, failed.State)
	assert.Equal(t, "exit status 1", failed.Message)
	assert.Equal(t, ProviderCloudflareQuick, failed.Provider)
}

func TestManager_StopWhileConnecting(t *testing.T) {
	started := make(chan struct{})
	m := newTestManager(t, time.Minute, blocking(ProviderCloudflareQuick, started))
	updates := m.Subscribe(t.Context())
	next(t, updates)

	require.NoError(t, m.Start(ProviderCloudflareQuick))
	<-started
	require.NoError(t, m.Stop(context.Background()))

	assert.Equal(t, StateConnecting, next(t, updates).State)
	assert.Equal(t, StateDisconnected, next(t, updates).State)

	// Nothing from the cancelled attempt may follow.
	select {
	case st := <-updates:
		t.Fatalf("unexpected status after stop: %+v", st)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManager_StopWhileConnectedClosesTunnel(t *testing.T) {
	tun := newFakeTunnel("https://a.trycloudflare.com")
	m := newTestManager(t, time.Second, immediate(ProviderCloudflareQuick, tun))
	updates := m.Subscribe(t.Context())
	next(t, updates)

	require.NoError(t, m.Start(ProviderCloudflareQuick))
	next(t, updates)
	next(t, updates)

	require.NoError(t, m.Stop(context.Background()))
	select {
	case <-tun.wasClosed():
	default:
		t.Fatal("Stop returned before the tunnel was closed")
	}
	assert.Equal(t, StateDisconnected, next(t, updates).State)
}

func TestManager_StopFromEveryState(t *testing.T) {
	m := newTestManager(t, 50*time.Millisecond, blocking(ProviderCloudflareQuick, nil))

	// Disconnected
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, StateDisconnected, m.Status().State)

	// Error
	updates := m.Subscribe(t.Context())
	next(t, updates)
	require.NoError(t, m.Start(ProviderCloudflareQuick))
	next(t, updates)
	require.Equal(t, StateError, next(t, updates).State)

	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, StateDisconnected, next(t, updates).State)
}

func TestManager_RestartAfterFailure(t *testing.T) {
	var calls int
	var mu sync.Mutex
	p := &fakeProvider{typ: ProviderCloudflareQuick, start: func(context.Context, string) (Tunnel, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, errors.New("first attempt fails")
		}
		return newFakeTunnel("https://second.trycloudflare.com"), nil
	}}
	m := newTestManager(t, time.Second, p)
	updates := m.Subscribe(t.Context())
	next(t, updates)

	require.NoError(t, m.Start(ProviderCloudflareQuick))
	next(t, updates)
	require.Equal(t, StateError, next(t, updates).State)

	require.NoError(t, m.Start(ProviderCloudflareQuick))
	assert.Equal(t, StateConnecting, next(t, updates).State)
	connected := next(t, updates)
	assert.Equal(t, StateConnected, connected.State)
	assert.Equal(t, "https://second.trycloudflare.com", connected.URL)
}

func TestManager_LateSubscriberSeesCurrent(t *testing.T) {
	m := newTestManager(t, time.Second, immediate(ProviderCloudflareQuick, newFakeTunnel("https://a.trycloudflare.com")))
	first := m.Subscribe(t.Context())
	next(t, first)
	require.NoError(t, m.Start(ProviderCloudflareQuick))
	next(t, first)
	next(t, first)

	late := m.Subscribe(t.Context())
	st := next(t, late)
	assert.Equal(t, StateConnected, st.State)
	assert.Equal(t, "https://a.trycloudflare.com", st.URL)
}

func TestManager_RecordsTransitions(t *testing.T) {
	provider, err := telemetry.NewProvider()
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())
	metrics, err := provider.Metrics()
	require.NoError(t, err)

	tun := newFakeTunnel("https://a.trycloudflare.com")
	m, err := NewManager(Config{
		Providers: []Provider{immediate(ProviderCloudflareQuick, tun)},
		LocalURL:  "http://127.0.0.1:8080",
		Metrics:   metrics,
	})
	require.NoError(t, err)
	defer m.Close(context.Background())

	updates := m.Subscribe(t.Context())
	next(t, updates)
	require.NoError(t, m.Start(ProviderCloudflareQuick))
	next(t, updates)
	next(t, updates)

	for _, state := range []State{StateConnecting, StateConnected} {
		got, err := provider.CounterValue("beacon_tunnel_transitions_total", map[string]string{"state": string(state)})
		require.NoError(t, err)
		assert.Equal(t, 1.0, got, state)
	}
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Config{})
	assert.Error(t, err)

	p := immediate(ProviderCloudflareQuick, newFakeTunnel("x"))
	_, err = NewManager(Config{LocalURL: "http://127.0.0.1:1", Providers: []Provider{p, p}})
	assert.Error(t, err)

	m, err := NewManager(Config{LocalURL: "http://127.0.0.1:1", Providers: []Provider{
		immediate(ProviderTailscaleFunnel, newFakeTunnel("x")),
		p,
	}})
	require.NoError(t, err)
	assert.Equal(t, []ProviderType{ProviderCloudflareQuick, ProviderTailscaleFunnel}, m.Providers())
}

func TestParseProviderType(t *testing.T) {
	for _, p := range AllProviderTypes {
		got, err := ParseProviderType(string(p))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParseProviderType("ngrok")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestManager_SetLocalURL(t *testing.T) {
	targets := make(chan string, 1)
	p := &fakeProvider{typ: ProviderCloudflareQuick, start: func(_ context.Context, localURL string) (Tunnel, error) {
		targets <- localURL
		return newFakeTunnel("https://bound.trycloudflare.com"), nil
	}}
	m := newTestManager(t, time.Second, p)

	m.SetLocalURL("http://127.0.0.1:41234")
	require.NoError(t, m.Start(ProviderCloudflareQuick))

	select {
	case got := <-targets:
		assert.Equal(t, "http://127.0.0.1:41234", got)
	case <-time.After(5 * time.Second):
		t.Fatal("provider was not started")
	}
}
