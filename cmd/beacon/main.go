// ABOUTME: Entry point for the beacon MCP server
// ABOUTME: Dispatches serve, stdio, init, token, cert, health and version subcommands

package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/beacon/internal/certs"
	"github.com/2389/beacon/internal/config"
	"github.com/2389/beacon/internal/gateway"
	"github.com/2389/beacon/internal/store"
	"github.com/2389/beacon/internal/telemetry"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _
 | |__   ___  __ _  ___ ___  _ __
 | '_ \ / _ \/ _' |/ __/ _ \| '_ \
 | |_) |  __/ (_| | (_| (_) | | | |
 |_.__/ \___|\__,_|\___\___/|_| |_|
`

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: beacon [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                         Start the server (default)")
	fmt.Fprintln(w, "  stdio                         Serve MCP over stdin/stdout")
	fmt.Fprintln(w, "  init                          Create a new config file interactively")
	fmt.Fprintln(w, "  token [--subject S --ttl D]   Print the bearer token (or mint a JWT)")
	fmt.Fprintln(w, "  cert generate [HOST]          Create a self-signed certificate")
	fmt.Fprintln(w, "  cert import FILE [--password] Import a PKCS12 keystore")
	fmt.Fprintln(w, "  cert info                     Show the configured certificate")
	fmt.Fprintln(w, "  health                        Check server health")
	fmt.Fprintln(w, "  version                       Print the version")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := "serve"
	var args []string
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx)
	case "stdio":
		err = runStdio(ctx)
	case "init":
		err = runInit(ctx, os.Stdin)
	case "token":
		err = runToken(ctx, args)
	case "cert":
		err = runCert(ctx, args)
	case "health":
		err = runHealth(ctx)
	case "version", "--version", "-v":
		fmt.Println(version)
	case "help", "--help", "-h":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file, or defaults when none exists.
func loadConfig() (*config.Config, string, error) {
	cfg, path, err := config.LoadDefault()
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if configPath == "" {
		configPath = "(defaults)"
	}
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("URL:       %s\n", cfg.BaseURL())
	green.Print("    ▶ ")
	fmt.Printf("Auth:      %s\n", cfg.Auth.Mode)
	if cfg.TLS.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("TLS:       %s ", cfg.TLS.Source)
		cyan.Print(cfg.TLS.Hostname)
		if cfg.TLS.Watch {
			gray.Print(" (watching)")
		}
		fmt.Println()
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	if cfg.Tunnel.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tunnel:    ")
		yellow.Println(cfg.Tunnel.Provider)
	}
	fmt.Println()

	logger.Info("starting beacon",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"tls", cfg.TLS.Enabled,
		"tunnel", cfg.Tunnel.Enabled,
	)

	opts := gateway.Options{Version: version, Logger: logger}
	if cfg.Metrics.Enabled {
		provider, err := telemetry.NewProvider()
		if err != nil {
			return err
		}
		opts.Telemetry = provider
	}

	gw, err := gateway.New(ctx, cfg, opts)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runStdio serves MCP on stdin/stdout. Logs go to stderr.
func runStdio(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging, os.Stderr)

	gw, err := gateway.New(ctx, cfg, gateway.Options{Version: version, Logger: logger})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	serveErr := gw.ServeStdio(ctx, os.Stdin, os.Stdout)
	if errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(serveErr, gw.Shutdown(shutdownCtx))
}

// openStore opens the settings store with a quiet logger.
func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := store.NewSQLiteStore(cfg.Database.Path, quiet)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

// healthClient builds an HTTP client for the local server. With TLS
// enabled it trusts exactly the certificate the server is configured with.
func healthClient(ctx context.Context, cfg *config.Config) (*http.Client, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	if !cfg.TLS.Enabled {
		return client, nil
	}

	s, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	m, err := certs.NewManager(certs.Config{Dir: cfg.TLS.Dir, Settings: s})
	if err != nil {
		return nil, err
	}
	mat, err := m.Load(ctx, certs.Source(cfg.TLS.Source))
	if err != nil {
		return nil, fmt.Errorf("loading certificate: %w", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(mat.Leaf())
	client.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{
			RootCAs:    pool,
			ServerName: mat.Hostname,
			MinVersion: tls.VersionTLS12,
		},
	}
	return client, nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := healthClient(ctx, cfg)
	if err != nil {
		return err
	}

	url := cfg.BaseURL() + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
