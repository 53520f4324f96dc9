// ABOUTME: cloudflared-backed providers for quick (anonymous) and named (token) tunnels
// ABOUTME: Quick tunnels publish a trycloudflare.com URL; named tunnels use a configured public URL

package tunnel

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
)

// quickURLPattern matches the URL cloudflared prints for a quick tunnel.
var quickURLPattern = regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`)

// quickAPIHost appears in cloudflared error output and is never a tunnel URL.
const quickAPIHost = "https://api.trycloudflare.com"

// namedReadyMarker is logged once a named tunnel has a registered edge connection.
const namedReadyMarker = "Registered tunnel connection"

// baseArgs returns the cloudflared arguments shared by both providers.
func baseArgs(localURL string) []string {
	args := []string{"tunnel", "--no-autoupdate"}
	if strings.HasPrefix(localURL, "https://") {
		// The local listener uses a self-signed certificate.
		args = append(args, "--no-tls-verify")
	}
	return args
}

// matchQuickURL extracts a quick tunnel URL from a line of cloudflared output.
func matchQuickURL(line string) (string, bool) {
	for _, u := range quickURLPattern.FindAllString(line, -1) {
		if u != quickAPIHost {
			return u, true
		}
	}
	return "", false
}

// QuickProvider runs `cloudflared tunnel --url` and waits for the
// generated trycloudflare.com URL.
type QuickProvider struct {
	resolver BinaryResolver
	logger   *slog.Logger
}

// NewQuickProvider creates a quick tunnel provider.
func NewQuickProvider(resolver BinaryResolver, logger *slog.Logger) *QuickProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuickProvider{
		resolver: resolver,
		logger:   logger.With("provider", string(ProviderCloudflareQuick)),
	}
}

func (p *QuickProvider) Type() ProviderType { return ProviderCloudflareQuick }

// Start launches cloudflared pointed at localURL.
func (p *QuickProvider) Start(ctx context.Context, localURL string) (Tunnel, error) {
	bin, err := p.resolver.Resolve()
	if err != nil {
		return nil, err
	}
	args := append(baseArgs(localURL), "--url", localURL)
	t, err := startProcess(ctx, processConfig{
		Bin:    bin,
		Args:   args,
		Match:  matchQuickURL,
		Logger: p.logger,
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// NamedConfig configures a managed cloudflared tunnel.
type NamedConfig struct {
	Resolver  BinaryResolver
	Token     string
	PublicURL string
	Logger    *slog.Logger
}

// NamedProvider runs `cloudflared tunnel run` with a tunnel token. The public
// hostname is configured in the Cloudflare dashboard, so the URL comes from config.
type NamedProvider struct {
	resolver  BinaryResolver
	token     string
	publicURL string
	logger    *slog.Logger
}

// NewNamedProvider validates cfg and creates a named tunnel provider.
func NewNamedProvider(cfg NamedConfig) (*NamedProvider, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("named tunnel: binary resolver is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("named tunnel: token is required")
	}
	if cfg.PublicURL == "" {
		return nil, errors.New("named tunnel: public_url is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &NamedProvider{
		resolver:  cfg.Resolver,
		token:     cfg.Token,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
		logger:    cfg.Logger.With("provider", string(ProviderCloudflareNamed)),
	}, nil
}

func (p *NamedProvider) Type() ProviderType { return ProviderCloudflareNamed }

// Start launches cloudflared with the token passed through the environment,
// and becomes ready when the first edge connection registers.
func (p *NamedProvider) Start(ctx context.Context, localURL string) (Tunnel, error) {
	bin, err := p.resolver.Resolve()
	if err != nil {
		return nil, err
	}
	args := append(baseArgs(localURL), "run", "--url", localURL)
	t, err := startProcess(ctx, processConfig{
		Bin:  bin,
		Args: args,
		Env:  []string{"TUNNEL_TOKEN=" + p.token},
		Match: func(line string) (string, bool) {
			if strings.Contains(line, namedReadyMarker) {
				return p.publicURL, true
			}
			return "", false
		},
		Secrets: []string{p.token},
		Logger:  p.logger,
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}
