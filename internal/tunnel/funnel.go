// ABOUTME: Tailscale Funnel provider using an embedded tsnet node
// ABOUTME: Reverse-proxies public HTTPS traffic on the node's :443 to the local server

package tunnel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tailscale.com/tsnet"
)

// DefaultFunnelHostname is the tailnet machine name used when none is configured.
const DefaultFunnelHostname = "beacon"

// FunnelConfig configures the Tailscale Funnel provider.
type FunnelConfig struct {
	Hostname  string
	AuthKey   string
	StateDir  string
	Ephemeral bool
	Logger    *slog.Logger
}

// FunnelProvider exposes the local server through Tailscale Funnel.
type FunnelProvider struct {
	cfg    FunnelConfig
	logger *slog.Logger
}

// NewFunnelProvider creates a Funnel provider. Credentials are resolved on Start.
func NewFunnelProvider(cfg FunnelConfig) *FunnelProvider {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Hostname == "" {
		cfg.Hostname = DefaultFunnelHostname
	}
	return &FunnelProvider{
		cfg:    cfg,
		logger: cfg.Logger.With("provider", string(ProviderTailscaleFunnel)),
	}
}

func (p *FunnelProvider) Type() ProviderType { return ProviderTailscaleFunnel }

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tunnel.tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "beacon", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tunnel.tailscale.auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// newLocalProxy builds the reverse proxy from the funnel listener to the
// local server. Loopback https targets use beacon's self-signed certificate.
func newLocalProxy(localURL string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(localURL)
	if err != nil {
		return nil, fmt.Errorf("parsing local URL: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("unsupported local URL scheme %q", target.Scheme)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	if target.Scheme == "https" {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		proxy.Transport = transport
	}
	return proxy, nil
}

// Start brings up the tsnet node, listens on Funnel :443 and serves the proxy.
func (p *FunnelProvider) Start(ctx context.Context, localURL string) (Tunnel, error) {
	proxy, err := newLocalProxy(localURL)
	if err != nil {
		return nil, err
	}

	stateDir, err := resolveTailscaleStateDir(p.cfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(p.cfg.AuthKey)
	if err != nil {
		return nil, err
	}

	srv := &tsnet.Server{
		Hostname:  p.cfg.Hostname,
		Dir:       stateDir,
		Ephemeral: p.cfg.Ephemeral,
		AuthKey:   authKey,
		Logf: func(format string, args ...any) {
			p.logger.Debug(sanitize(fmt.Sprintf(format, args...), authKey))
		},
	}

	p.logger.Info("starting tailscale node", "hostname", p.cfg.Hostname, "state_dir", stateDir, "ephemeral", p.cfg.Ephemeral)
	status, err := srv.Up(ctx)
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("starting tailscale: %s", sanitize(err.Error(), authKey))
	}
	if status.Self == nil || status.Self.DNSName == "" {
		_ = srv.Close()
		return nil, errors.New("tailscale node has no DNS name; enable MagicDNS and HTTPS for the tailnet")
	}
	publicURL := "https://" + strings.TrimSuffix(status.Self.DNSName, ".")

	ln, err := srv.ListenFunnel("tcp", ":443")
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
	}

	t := &funnelTunnel{
		url:    publicURL,
		ts:     srv,
		server: &http.Server{Handler: proxy, ReadHeaderTimeout: 10 * time.Second},
		done:   make(chan struct{}),
		logger: p.logger,
	}
	go func() {
		err := t.server.Serve(ln)
		if !errors.Is(err, http.ErrServerClosed) {
			t.err = err
		}
		close(t.done)
	}()

	p.logger.Info("tailscale funnel ready", "url", publicURL)
	return t, nil
}

// funnelTunnel is a running Funnel listener and its tsnet node.
type funnelTunnel struct {
	url    string
	ts     *tsnet.Server
	server *http.Server
	done   chan struct{}
	err    error // written before done is closed
	logger *slog.Logger

	closeOnce sync.Once
}

func (t *funnelTunnel) URL() string { return t.url }

func (t *funnelTunnel) Done() <-chan struct{} { return t.done }

func (t *funnelTunnel) Err() error {
	select {
	case <-t.done:
		if t.err == nil {
			return errors.New("funnel listener closed")
		}
		return t.err
	default:
		return nil
	}
}

// Close shuts the proxy down and leaves the tailnet.
func (t *funnelTunnel) Close() error {
	var closeErr error
	t.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), stopGracePeriod)
		defer cancel()
		if err := t.server.Shutdown(ctx); err != nil {
			t.logger.Warn("funnel proxy shutdown", "error", err)
		}
		closeErr = t.ts.Close()
		<-t.done
	})
	return closeErr
}
