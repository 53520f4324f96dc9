// ABOUTME: Setup subcommands: interactive init, token printing and certificate management
// ABOUTME: These operate on the config file and settings store without starting the server

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/beacon/internal/auth"
	"github.com/2389/beacon/internal/certs"
	"github.com/2389/beacon/internal/config"
	"github.com/2389/beacon/internal/gateway"
	"github.com/2389/beacon/internal/tunnel"
)

// defaultJWTTTL is the lifetime of tokens minted by `beacon token` in jwt mode.
const defaultJWTTTL = 30 * 24 * time.Hour

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

// buildInitConfig asks the init questions and returns the resulting config
// along with the output path.
func buildInitConfig(reader *bufio.Reader) (*config.Config, string, error) {
	cfg, err := config.Default()
	if err != nil {
		return nil, "", err
	}

	outputFile := prompt(reader, "Config file path (.yaml or .toml)", config.Path())
	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(prompt(reader, "File exists. Overwrite?", "no")) {
			return nil, "", nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	cfg.Server.HTTPAddr = prompt(reader, "HTTP address", cfg.Server.HTTPAddr)
	cfg.Database.Path = prompt(reader, "SQLite database path", cfg.Database.Path)

	fmt.Println("\n--- Authentication ---")
	cfg.Auth.Mode = prompt(reader, "Auth mode (static/jwt)", cfg.Auth.Mode)

	fmt.Println("\n--- TLS ---")
	cfg.TLS.Enabled = isYes(prompt(reader, "Enable HTTPS?", "no"))
	if cfg.TLS.Enabled {
		cfg.TLS.Source = prompt(reader, "Certificate source (self_signed/custom)", cfg.TLS.Source)
		if cfg.TLS.Source == config.TLSSourceSelfSigned {
			cfg.TLS.Hostname = prompt(reader, "Certificate hostname", cfg.TLS.Hostname)
		} else {
			cfg.TLS.Watch = isYes(prompt(reader, "Reload the keystore when it changes?", "yes"))
		}
	}

	fmt.Println("\n--- Tunnel ---")
	cfg.Tunnel.Provider = prompt(reader, "Tunnel provider (cloudflare_quick/cloudflare_named/tailscale_funnel)", cfg.Tunnel.Provider)
	cfg.Tunnel.Enabled = isYes(prompt(reader, "Start the tunnel with the server?", "no"))
	switch tunnel.ProviderType(cfg.Tunnel.Provider) {
	case tunnel.ProviderCloudflareNamed:
		cfg.Tunnel.Cloudflared.Token = prompt(reader, "Cloudflare tunnel token (or ${ENV_VAR})", "${CLOUDFLARED_TOKEN}")
		cfg.Tunnel.Cloudflared.PublicURL = prompt(reader, "Public URL", "")
	case tunnel.ProviderTailscaleFunnel:
		cfg.Tunnel.Tailscale.Hostname = prompt(reader, "Tailscale hostname", tunnel.DefaultFunnelHostname)
		cfg.Tunnel.Tailscale.AuthKey = prompt(reader, "Tailscale auth key (or ${ENV_VAR})", "${TS_AUTHKEY}")
		cfg.Tunnel.Tailscale.Ephemeral = isYes(prompt(reader, "Ephemeral node?", "no"))
	}

	fmt.Println("\n--- Logging ---")
	cfg.Logging.Level = prompt(reader, "Log level (debug/info/warn/error)", cfg.Logging.Level)
	cfg.Logging.Format = prompt(reader, "Log format (text/json)", cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, outputFile, nil
}

func runInit(ctx context.Context, in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("beacon configuration setup")
	fmt.Println("==========================")
	fmt.Println()

	cfg, outputFile, err := buildInitConfig(reader)
	if err != nil {
		return err
	}
	if cfg == nil {
		fmt.Println("Aborted.")
		return nil
	}

	if err := config.Write(outputFile, cfg); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("\n  ✓ Config written to %s\n", outputFile)

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	if cfg.Auth.Mode == config.AuthModeStatic {
		token, _, err := gateway.ResolveToken(ctx, s, cfg.Auth.Token)
		if err != nil {
			return err
		}
		green.Println("  ✓ Bearer token:")
		fmt.Printf("\n    %s\n", token)
	} else if _, err := gateway.ResolveJWTSecret(ctx, s, cfg.Auth.JWTSecret); err != nil {
		return err
	}

	fmt.Println("\nTo start the server:")
	fmt.Println("  beacon serve")
	return nil
}

func runToken(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "Subject for a minted JWT (jwt mode)")
	ttl := fs.Duration("ttl", defaultJWTTTL, "Lifetime of a minted JWT (jwt mode)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	switch cfg.Auth.Mode {
	case config.AuthModeJWT:
		if *subject == "" {
			return errors.New("--subject is required in jwt mode")
		}
		secret, err := gateway.ResolveJWTSecret(ctx, s, cfg.Auth.JWTSecret)
		if err != nil {
			return err
		}
		issuer, err := auth.NewJWTVerifier(secret)
		if err != nil {
			return err
		}
		token, err := issuer.Generate(*subject, *ttl)
		if err != nil {
			return fmt.Errorf("generating token: %w", err)
		}
		fmt.Println(token)
	default:
		token, _, err := gateway.ResolveToken(ctx, s, cfg.Auth.Token)
		if err != nil {
			return err
		}
		fmt.Println(token)
	}
	return nil
}

func runCert(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: beacon cert <generate|import|info>")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	m, err := certs.NewManager(certs.Config{Dir: cfg.TLS.Dir, Settings: s})
	if err != nil {
		return err
	}

	var mat *certs.Material
	switch args[0] {
	case "generate":
		fs := flag.NewFlagSet("cert generate", flag.ContinueOnError)
		hostname := fs.String("hostname", cfg.TLS.Hostname, "Hostname or IP the certificate is issued for")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() > 0 {
			*hostname = fs.Arg(0)
		}
		mat, err = m.GenerateSelfSigned(ctx, *hostname)

	case "import":
		fs := flag.NewFlagSet("cert import", flag.ContinueOnError)
		password := fs.String("password", os.Getenv("BEACON_KEYSTORE_PASSWORD"), "Keystore password")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return errors.New("usage: beacon cert import FILE [--password P]")
		}
		data, readErr := os.ReadFile(fs.Arg(0))
		if readErr != nil {
			return fmt.Errorf("reading keystore: %w", readErr)
		}
		mat, err = m.ImportCustom(ctx, data, *password)

	case "info":
		mat, err = m.Load(ctx, certs.Source(cfg.TLS.Source))

	default:
		return fmt.Errorf("unknown cert command: %s", args[0])
	}
	if err != nil {
		return err
	}

	printCertificate(m, mat)
	return nil
}

func printCertificate(m *certs.Manager, mat *certs.Material) {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Println("  Certificate")
	cyan.Println("  -----------")
	fmt.Printf("  Hostname:  %s\n", mat.Hostname)
	fmt.Printf("  Source:    %s\n", mat.Source)
	fmt.Printf("  Valid:     %s - %s\n", mat.NotBefore.Format(time.RFC3339), mat.NotAfter.Format(time.RFC3339))
	fmt.Printf("  Chain:     %d certificate(s)\n", mat.CertificateCount())
	fmt.Printf("  Keystore:  %s\n", m.Path(mat.Source))
	if !mat.HasKey() {
		yellow.Println("  No private key: this keystore cannot be served.")
	}
	if mat.Expired(time.Now()) {
		yellow.Println("  Expired.")
	}
}
