// ABOUTME: Gateway orchestrator that wires the store, auth, certificates, tools, and tunnel
// ABOUTME: Serves the MCP endpoint and tunnel API over HTTP(S) and manages their lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/2389/beacon/internal/builtins"
	"github.com/2389/beacon/internal/certs"
	"github.com/2389/beacon/internal/config"
	"github.com/2389/beacon/internal/mcp"
	"github.com/2389/beacon/internal/store"
	"github.com/2389/beacon/internal/telemetry"
	"github.com/2389/beacon/internal/tools"
	"github.com/2389/beacon/internal/tunnel"
)

// cloudflaredBinary is the tunnel client executable name.
const cloudflaredBinary = "cloudflared"

// Options carries values that do not come from the config file.
type Options struct {
	Version string
	Logger  *slog.Logger

	// Telemetry records metrics and serves /metrics. When nil and
	// metrics.enabled is set, the gateway creates one. The gateway shuts
	// it down either way.
	Telemetry *telemetry.Provider

	// TunnelProviders replaces the providers built from config.
	TunnelProviders []tunnel.Provider
}

// Gateway orchestrates the beacon server components.
type Gateway struct {
	config    *config.Config
	version   string
	logger    *slog.Logger
	startedAt time.Time

	store     store.SettingsStore
	telemetry *telemetry.Provider
	metrics   *telemetry.Metrics // nil when no provider is configured
	registry *tools.Registry
	handler  *mcp.Handler
	tunnel   *tunnel.Manager

	// certs and reloader are nil when TLS is disabled
	certs    *certs.Manager
	reloader *certs.Reloader

	httpServer *http.Server

	// ready is closed once the listener is bound; addr is valid after that
	ready chan struct{}
	addr  net.Addr
}

// initStore creates the settings store from config.
func initStore(cfg *config.Config, logger *slog.Logger) (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway. Credentials, certificates and schema are prepared
// here so that Run only has to bind and serve.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	gw, err := newWithStore(ctx, cfg, s, opts, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// newMetrics returns the telemetry provider and its instruments. Both are
// nil when metrics are disabled and no provider was supplied.
func newMetrics(cfg *config.Config, provider *telemetry.Provider) (*telemetry.Provider, *telemetry.Metrics, error) {
	if provider == nil {
		if !cfg.Metrics.Enabled {
			return nil, nil, nil
		}
		var err error
		if provider, err = telemetry.NewProvider(); err != nil {
			return nil, nil, err
		}
	}
	metrics, err := provider.Metrics()
	if err != nil {
		return nil, nil, fmt.Errorf("creating metrics: %w", err)
	}
	return provider, metrics, nil
}

func newWithStore(ctx context.Context, cfg *config.Config, s store.SettingsStore, opts Options, logger *slog.Logger) (*Gateway, error) {
	provider, metrics, err := newMetrics(cfg, opts.Telemetry)
	if err != nil {
		return nil, err
	}

	verifier, err := newVerifier(ctx, cfg.Auth, s, logger)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config:    cfg,
		version:   opts.Version,
		logger:    logger,
		startedAt: time.Now(),
		store:     s,
		telemetry: provider,
		metrics:   metrics,
		ready:     make(chan struct{}),
	}

	if cfg.TLS.Enabled {
		if err := gw.prepareTLS(ctx); err != nil {
			return nil, err
		}
	}

	gw.registry = tools.NewRegistry(logger)
	gw.handler, err = mcp.NewHandler(mcp.Config{
		Registry:      gw.registry,
		Logger:        logger.With("component", "mcp"),
		ServerName:    cfg.Server.Name,
		ServerVersion: opts.Version,
		ToolTimeout:   cfg.Server.ToolTimeout,
		Metrics:       metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating MCP handler: %w", err)
	}

	providers := opts.TunnelProviders
	if providers == nil {
		providers = buildTunnelProviders(cfg, logger)
	}
	gw.tunnel, err = tunnel.NewManager(tunnel.Config{
		Providers:      providers,
		LocalURL:       cfg.BaseURL(),
		StartupTimeout: cfg.Tunnel.StartupTimeout,
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating tunnel manager: %w", err)
	}

	if err := gw.registerBuiltins(); err != nil {
		return nil, err
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(verifier),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// prepareTLS loads or creates the serving certificate and, for custom
// keystores with watch enabled, sets up hot reload.
func (g *Gateway) prepareTLS(ctx context.Context) error {
	m, err := certs.NewManager(certs.Config{
		Dir:      g.config.TLS.Dir,
		Settings: g.store,
		Logger:   g.logger,
	})
	if err != nil {
		return fmt.Errorf("creating certificate manager: %w", err)
	}
	g.certs = m

	source := certs.Source(g.config.TLS.Source)
	switch source {
	case certs.SourceSelfSigned:
		mat, err := m.EnsureSelfSigned(ctx, g.config.TLS.Hostname)
		if err != nil {
			return fmt.Errorf("preparing self-signed certificate: %w", err)
		}
		g.logger.Info("TLS certificate ready", "source", source, "hostname", mat.Hostname, "not_after", mat.NotAfter)
	case certs.SourceCustom:
		mat, err := m.Load(ctx, certs.SourceCustom)
		if err != nil {
			return fmt.Errorf("loading custom certificate (import one with `beacon cert import`): %w", err)
		}
		g.logger.Info("TLS certificate ready", "source", source, "hostname", mat.Hostname, "not_after", mat.NotAfter)
		if g.config.TLS.Watch {
			g.reloader = certs.NewReloader(m, certs.SourceCustom, certs.DefaultDebounce, nil)
		}
	default:
		return fmt.Errorf("%w: %q", certs.ErrUnknownSource, source)
	}
	return nil
}

// registerBuiltins registers the built-in packs with the registry.
func (g *Gateway) registerBuiltins() error {
	deps := builtins.ServerDeps{
		Name:       g.config.Server.Name,
		Version:    g.version,
		StartedAt:  g.startedAt,
		TLSEnabled: g.config.TLS.Enabled,
		AuthMode:   g.config.Auth.Mode,
		Registry:   g.registry,
		Tunnel:     g.tunnel,
	}
	if g.certs != nil {
		deps.Certs = g.certs
	}
	if err := builtins.Register(g.registry,
		builtins.ServerPack(deps),
		builtins.StoragePack(g.store, g.logger),
	); err != nil {
		return fmt.Errorf("registering builtin tools: %w", err)
	}
	return nil
}

// defaultBinDirs lists where a bundled cloudflared is looked for.
func defaultBinDirs() []string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		dirs = append(dirs, exeDir, filepath.Join(exeDir, "bin"))
	}
	return append(dirs, filepath.Join(config.DataDir(), "bin"))
}

// buildTunnelProviders creates every provider the config allows.
func buildTunnelProviders(cfg *config.Config, logger *slog.Logger) []tunnel.Provider {
	cf := cfg.Tunnel.Cloudflared
	binDirs := cf.BinDirs
	if len(binDirs) == 0 {
		binDirs = defaultBinDirs()
	}
	resolver := tunnel.NewBundledResolver(cloudflaredBinary, binDirs, cf.SearchPathEnabled())

	providers := []tunnel.Provider{
		tunnel.NewQuickProvider(resolver, logger),
		tunnel.NewFunnelProvider(tunnel.FunnelConfig{
			Hostname:  cfg.Tunnel.Tailscale.Hostname,
			AuthKey:   cfg.Tunnel.Tailscale.AuthKey,
			StateDir:  cfg.Tunnel.Tailscale.StateDir,
			Ephemeral: cfg.Tunnel.Tailscale.Ephemeral,
			Logger:    logger,
		}),
	}

	if cf.Token != "" || cf.PublicURL != "" {
		named, err := tunnel.NewNamedProvider(tunnel.NamedConfig{
			Resolver:  resolver,
			Token:     cf.Token,
			PublicURL: cf.PublicURL,
			Logger:    logger,
		})
		if err != nil {
			logger.Warn("named cloudflare tunnel unavailable", "error", err)
		} else {
			providers = append(providers, named)
		}
	}
	return providers
}

// Registry returns the tool registry for registering additional capabilities.
func (g *Gateway) Registry() *tools.Registry {
	return g.registry
}

// Tunnel returns the tunnel manager.
func (g *Gateway) Tunnel() *tunnel.Manager {
	return g.tunnel
}

// Handler returns the HTTP handler with all routes and middleware.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Ready is closed once Run has bound its listener.
func (g *Gateway) Ready() <-chan struct{} {
	return g.ready
}

// Addr returns the bound listener address. Only valid after Ready is closed.
func (g *Gateway) Addr() net.Addr {
	return g.addr
}

// listen binds the HTTP listener, wrapping it in TLS when enabled.
func (g *Gateway) listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	if g.certs != nil {
		ln = tls.NewListener(ln, g.certs.TLSConfig())
	}
	return ln, nil
}

// localURL is the address tunnels forward to. Wildcard binds are reached
// over loopback.
func localURL(addr net.Addr, useTLS bool) string {
	scheme := "http"
	if useTLS {
		scheme = "https"
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return scheme + "://" + addr.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return scheme + "://" + net.JoinHostPort(host, port)
}

// startServers starts the HTTP server and the keystore reloader in goroutines.
func (g *Gateway) startServers(ctx context.Context, ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "tls", g.certs != nil)
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if g.reloader != nil {
		go func() {
			if err := g.reloader.Run(ctx); err != nil {
				g.logger.Warn("keystore watch stopped", "error", err)
			}
		}()
	}

	return errCh
}

// autoStartTunnel starts the configured tunnel when tunnel.enabled is set.
func (g *Gateway) autoStartTunnel() {
	if !g.config.Tunnel.Enabled {
		return
	}
	provider, err := tunnel.ParseProviderType(g.config.Tunnel.Provider)
	if err == nil {
		err = g.tunnel.Start(provider)
	}
	if err != nil {
		g.logger.Error("failed to start tunnel", "provider", g.config.Tunnel.Provider, "error", err)
	}
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts serving and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.listen()
	if err != nil {
		_ = g.gracefulShutdown()
		return err
	}
	g.addr = ln.Addr()
	g.tunnel.SetLocalURL(localURL(g.addr, g.certs != nil))
	close(g.ready)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := g.startServers(runCtx, ln)
	g.autoStartTunnel()

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	cancel()

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// ServeStdio serves the MCP handler over stdin/stdout until ctx is done or
// the input closes.
func (g *Gateway) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return mcp.ServeStdio(ctx, g.handler, in, out, g.logger.With("component", "stdio"))
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the tunnel, then the HTTP server, then closes the store
// and the telemetry provider.
// Stopping the tunnel first also ends open status streams.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "tunnel shutdown", g.tunnel.Close(ctx))
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "store close", g.store.Close())
	if g.telemetry != nil {
		errs = appendCloseError(errs, "telemetry shutdown", g.telemetry.Shutdown(ctx))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
