// ABOUTME: Tunnel state machine that starts, supervises, and stops one tunnel at a time
// ABOUTME: Publishes every status transition to subscribers in order

package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/beacon/internal/telemetry"
)

// DefaultStartupTimeout bounds how long an attempt may wait for a public URL.
const DefaultStartupTimeout = 30 * time.Second

// Config holds the dependencies for a Manager.
type Config struct {
	Providers      []Provider
	LocalURL       string
	StartupTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *telemetry.Metrics
}

// Manager owns the single tunnel attempt and its observable status.
type Manager struct {
	providers      map[ProviderType]Provider
	localURL       string
	startupTimeout time.Duration
	logger         *slog.Logger
	metrics        *telemetry.Metrics

	// opMu serializes Start and Stop and guards localURL.
	opMu    sync.Mutex
	attempt *attempt

	// stateMu guards status and orders publications.
	stateMu sync.Mutex
	status  Status

	broadcaster *statusBroadcaster
}

// attempt is one Start call's background run.
type attempt struct {
	provider ProviderType
	localURL string
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.LocalURL == "" {
		return nil, errors.New("local URL is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}
	logger := cfg.Logger.With("component", "tunnel")

	providers := make(map[ProviderType]Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p == nil {
			continue
		}
		if _, dup := providers[p.Type()]; dup {
			return nil, fmt.Errorf("duplicate tunnel provider %q", p.Type())
		}
		providers[p.Type()] = p
	}

	st := Disconnected()
	st.ChangedAt = time.Now()
	return &Manager{
		providers:      providers,
		localURL:       cfg.LocalURL,
		startupTimeout: cfg.StartupTimeout,
		logger:         logger,
		metrics:        cfg.Metrics,
		status:         st,
		broadcaster:    newStatusBroadcaster(logger),
	}, nil
}

// Providers returns the configured provider types, sorted.
func (m *Manager) Providers() []ProviderType {
	out := make([]ProviderType, 0, len(m.providers))
	for t := range m.providers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetLocalURL changes the address later attempts forward to. An attempt
// already in progress keeps its original target.
func (m *Manager) SetLocalURL(localURL string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.localURL = localURL
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.status
}

// Subscribe returns a channel that receives the current status followed by
// every later transition, in order. It is closed when ctx is done.
func (m *Manager) Subscribe(ctx context.Context) <-chan Status {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.broadcaster.subscribe(ctx, m.status)
}

// Start begins a tunnel attempt with the given provider. It returns once
// Connecting has been published; the rest of the attempt runs in the background.
func (m *Manager) Start(providerType ProviderType) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	p, ok := m.providers[providerType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, providerType)
	}
	if cur := m.Status(); cur.State.Active() {
		return fmt.Errorf("%w: %s via %s", ErrAlreadyActive, cur.State, cur.Provider)
	}

	// A failed attempt's goroutine may still be releasing resources.
	m.reapLocked()

	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{
		provider: providerType,
		localURL: m.localURL,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	m.attempt = a
	m.publish(a.ctx, Connecting(providerType))

	go m.run(a, p)
	return nil
}

// reapLocked cancels and waits for the previous attempt. Caller holds opMu.
func (m *Manager) reapLocked() {
	if m.attempt == nil {
		return
	}
	m.attempt.cancel()
	<-m.attempt.done
	m.attempt = nil
}

// run drives one attempt from Connecting to Connected or Error.
func (m *Manager) run(a *attempt, p Provider) {
	defer close(a.done)
	logger := m.logger.With("provider", string(a.provider))

	startCtx, cancel := context.WithTimeout(a.ctx, m.startupTimeout)
	tun, err := p.Start(startCtx, a.localURL)
	cancel()

	if err != nil {
		if a.ctx.Err() != nil {
			logger.Debug("tunnel attempt cancelled")
			return
		}
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("tunnel did not publish a URL within %s", m.startupTimeout)
		}
		logger.Warn("tunnel failed to start", "error", msg)
		m.publish(a.ctx, Failed(a.provider, msg))
		return
	}

	if !m.publish(a.ctx, Connected(tun.URL(), a.provider)) {
		_ = tun.Close()
		return
	}
	logger.Info("tunnel connected", "url", tun.URL())

	select {
	case <-a.ctx.Done():
		if err := tun.Close(); err != nil {
			logger.Warn("error closing tunnel", "error", err)
		}
	case <-tun.Done():
		msg := "tunnel exited unexpectedly"
		if terr := tun.Err(); terr != nil {
			msg = terr.Error()
		}
		logger.Warn("tunnel crashed", "error", msg)
		m.publish(a.ctx, Failed(a.provider, msg))
		_ = tun.Close()
	}
}

// publish records st and fans it out unless ctx has been cancelled. A nil
// ctx always publishes. It reports whether st was published.
func (m *Manager) publish(ctx context.Context, st Status) bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if ctx != nil && ctx.Err() != nil {
		return false
	}
	st.ChangedAt = time.Now()
	m.status = st
	m.broadcaster.publish(st)

	m.metrics.RecordTunnelTransition(context.Background(), string(st.State), string(st.Provider))
	m.logger.Debug("tunnel status", "state", st.State, "provider", st.Provider, "url", st.URL)
	return true
}

// Stop cancels any attempt, waits for its tunnel to exit and publishes
// Disconnected. It is valid from every state.
func (m *Manager) Stop(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	var waitErr error
	if a := m.attempt; a != nil {
		a.cancel()
		select {
		case <-a.done:
			m.attempt = nil
		case <-ctx.Done():
			waitErr = fmt.Errorf("waiting for tunnel to stop: %w", ctx.Err())
		}
	}

	m.publish(nil, Disconnected())
	if waitErr == nil {
		m.logger.Info("tunnel stopped")
	}
	return waitErr
}

// Close stops the tunnel and closes every subscription.
func (m *Manager) Close(ctx context.Context) error {
	err := m.Stop(ctx)
	m.broadcaster.close()
	return err
}
