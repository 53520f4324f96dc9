// ABOUTME: Configuration loading and parsing for beacon
// ABOUTME: Supports YAML and TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Auth modes
const (
	AuthModeStatic = "static"
	AuthModeJWT    = "jwt"
)

// TLS certificate sources, matching certs.Source values.
const (
	TLSSourceSelfSigned = "self_signed"
	TLSSourceCustom     = "custom"
)

// Defaults
const (
	DefaultServerName     = "beacon"
	DefaultHTTPAddr       = "127.0.0.1:8765"
	DefaultToolTimeout    = 30 * time.Second
	DefaultMaxBodyBytes   = 4 << 20
	DefaultTLSHostname    = "localhost"
	DefaultTunnelProvider = "cloudflare_quick"
	DefaultStartupTimeout = 30 * time.Second
	DefaultMetricsPath    = "/metrics"
)

var tunnelProviders = []string{"cloudflare_quick", "cloudflare_named", "tailscale_funnel"}

// ErrUnsupportedFormat is returned for config files that are neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Config represents the complete beacon configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	TLS      TLSConfig      `yaml:"tls" toml:"tls"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Tunnel   TunnelConfig   `yaml:"tunnel" toml:"tunnel"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP listener and tool execution settings
type ServerConfig struct {
	Name         string        `yaml:"name" toml:"name"`
	HTTPAddr     string        `yaml:"http_addr" toml:"http_addr"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" toml:"max_body_bytes"`
	ToolTimeout  time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ToolTimeoutRaw string `yaml:"tool_timeout" toml:"tool_timeout"`
}

// AuthConfig holds bearer authentication configuration.
// An empty Token or JWTSecret is generated on first start and persisted.
type AuthConfig struct {
	Mode      string `yaml:"mode" toml:"mode"`
	Token     string `yaml:"token" toml:"token"`
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// TLSConfig holds the local HTTPS listener configuration
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Source   string `yaml:"source" toml:"source"`
	Hostname string `yaml:"hostname" toml:"hostname"`
	Dir      string `yaml:"dir" toml:"dir"`
	Watch    bool   `yaml:"watch" toml:"watch"` // reload custom keystores when the file changes
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// TunnelConfig holds public tunnel configuration
type TunnelConfig struct {
	Enabled        bool          `yaml:"enabled" toml:"enabled"` // start the tunnel with the server
	Provider       string        `yaml:"provider" toml:"provider"`
	StartupTimeout time.Duration `yaml:"-" toml:"-"`

	Cloudflared CloudflaredConfig `yaml:"cloudflared" toml:"cloudflared"`
	Tailscale   TailscaleConfig   `yaml:"tailscale" toml:"tailscale"`

	// Raw string values for unmarshaling
	StartupTimeoutRaw string `yaml:"startup_timeout" toml:"startup_timeout"`
}

// CloudflaredConfig configures the cloudflared binary and named tunnels
type CloudflaredConfig struct {
	BinDirs    []string `yaml:"bin_dirs" toml:"bin_dirs"`
	SearchPath *bool    `yaml:"search_path" toml:"search_path"`
	Token      string   `yaml:"token" toml:"token"`
	PublicURL  string   `yaml:"public_url" toml:"public_url"`
}

// SearchPathEnabled reports whether $PATH is searched for cloudflared. Defaults to true.
func (c CloudflaredConfig) SearchPathEnabled() bool {
	return c.SearchPath == nil || *c.SearchPath
}

// TailscaleConfig holds Tailscale tsnet configuration for Funnel tunnels
type TailscaleConfig struct {
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Path returns the config file location.
// Priority: BEACON_CONFIG env var > XDG_CONFIG_HOME/beacon/beacon.yaml > ~/.config/beacon/beacon.yaml
func Path() string {
	if envPath := os.Getenv("BEACON_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "beacon.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "beacon", "beacon.yaml")
}

// DataDir returns the beacon data directory.
// Priority: XDG_DATA_HOME/beacon > ~/.local/share/beacon
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "beacon")
}

// Default returns a validated configuration with only defaults and
// environment overrides applied.
func Default() (*Config, error) {
	var cfg Config
	if err := finish(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault loads the file at Path(). A missing file is not an error
// unless BEACON_CONFIG names it explicitly.
func LoadDefault() (*Config, string, error) {
	path := Path()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && os.Getenv("BEACON_CONFIG") == "" {
		cfg, err := Default()
		return cfg, "", err
	}
	cfg, err := Load(path)
	return cfg, path, err
}

// Load reads a configuration file from the given path and returns a parsed Config.
// The format is chosen by extension: .toml for TOML, anything else is YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, formatOf(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data in the given format ("yaml" or "toml") and finishes the Config.
func Parse(data []byte, format string) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case "yaml":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if err := finish(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}

// finish parses durations, applies overrides and defaults, and validates.
func finish(cfg *Config) error {
	if err := parseDurations(cfg); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return fmt.Errorf("applying environment overrides: %w", err)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides lets BEACON_* variables win over file values.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("BEACON_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("BEACON_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("BEACON_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("BEACON_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BEACON_TUNNEL_PROVIDER"); v != "" {
		cfg.Tunnel.Provider = v
	}
	if v := os.Getenv("BEACON_TLS"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BEACON_TLS %q: %w", v, err)
		}
		cfg.TLS.Enabled = enabled
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = DefaultServerName
	}
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Server.ToolTimeout == 0 {
		cfg.Server.ToolTimeout = DefaultToolTimeout
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = AuthModeStatic
	}
	if cfg.TLS.Source == "" {
		cfg.TLS.Source = TLSSourceSelfSigned
	}
	if cfg.TLS.Hostname == "" {
		cfg.TLS.Hostname = DefaultTLSHostname
	}
	if cfg.TLS.Dir == "" {
		cfg.TLS.Dir = filepath.Join(DataDir(), "certs")
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(DataDir(), "beacon.db")
	}
	if cfg.Tunnel.Provider == "" {
		cfg.Tunnel.Provider = DefaultTunnelProvider
	}
	if cfg.Tunnel.StartupTimeout == 0 {
		cfg.Tunnel.StartupTimeout = DefaultStartupTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required")
	}
	if c.Server.ToolTimeout < 0 {
		return errors.New("server.tool_timeout must not be negative")
	}
	if c.Server.MaxBodyBytes < 0 {
		return errors.New("server.max_body_bytes must not be negative")
	}

	switch c.Auth.Mode {
	case AuthModeStatic:
	case AuthModeJWT:
		// An empty secret is generated; a configured one must be strong enough.
		if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
			return errors.New("auth.jwt_secret must be at least 32 bytes")
		}
	default:
		return fmt.Errorf("auth.mode must be %q or %q, got %q", AuthModeStatic, AuthModeJWT, c.Auth.Mode)
	}

	switch c.TLS.Source {
	case TLSSourceSelfSigned, TLSSourceCustom:
	default:
		return fmt.Errorf("tls.source must be %q or %q, got %q", TLSSourceSelfSigned, TLSSourceCustom, c.TLS.Source)
	}

	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}

	if !validProvider(c.Tunnel.Provider) {
		return fmt.Errorf("tunnel.provider must be one of %s, got %q", strings.Join(tunnelProviders, ", "), c.Tunnel.Provider)
	}
	if c.Tunnel.StartupTimeout < 0 {
		return errors.New("tunnel.startup_timeout must not be negative")
	}
	if c.Tunnel.Enabled && c.Tunnel.Provider == "cloudflare_named" {
		if c.Tunnel.Cloudflared.Token == "" {
			return errors.New("tunnel.cloudflared.token is required for cloudflare_named")
		}
		if c.Tunnel.Cloudflared.PublicURL == "" {
			return errors.New("tunnel.cloudflared.public_url is required for cloudflare_named")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	return nil
}

func validProvider(p string) bool {
	for _, known := range tunnelProviders {
		if p == known {
			return true
		}
	}
	return false
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.ToolTimeoutRaw != "" {
		cfg.Server.ToolTimeout, err = time.ParseDuration(cfg.Server.ToolTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing tool_timeout %q: %w", cfg.Server.ToolTimeoutRaw, err)
		}
	}

	if cfg.Tunnel.StartupTimeoutRaw != "" {
		cfg.Tunnel.StartupTimeout, err = time.ParseDuration(cfg.Tunnel.StartupTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing startup_timeout %q: %w", cfg.Tunnel.StartupTimeoutRaw, err)
		}
	}

	return nil
}

// BaseURL returns the local URL the server is reachable on.
func (c *Config) BaseURL() string {
	scheme := "http"
	if c.TLS.Enabled {
		scheme = "https"
	}
	host := c.Server.HTTPAddr
	if strings.HasPrefix(host, ":") || strings.HasPrefix(host, "0.0.0.0:") {
		host = "127.0.0.1" + host[strings.LastIndex(host, ":"):]
	}
	return scheme + "://" + host
}
