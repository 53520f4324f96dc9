// Package config handles configuration loading for beacon.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. The package applies defaults, BEACON_* overrides and validation.
// Running without a config file is supported; everything has a default.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from BEACON_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/beacon/beacon.yaml
//  3. ~/.config/beacon/beacon.yaml
//
// Files ending in .toml are parsed as TOML; everything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	tunnel:
//	  cloudflared:
//	    token: "${CLOUDFLARED_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Overrides
//
// These variables win over the file: BEACON_TOKEN, BEACON_HTTP_ADDR,
// BEACON_DB_PATH, BEACON_LOG_LEVEL, BEACON_TUNNEL_PROVIDER, BEACON_TLS.
//
// # Configuration Sections
//
//	server:
//	  name: "beacon"
//	  http_addr: "127.0.0.1:8765"
//	  tool_timeout: "30s"
//	  max_body_bytes: 4194304
//
//	auth:
//	  mode: "static"       # static, jwt
//	  token: ""            # generated and stored on first start when empty
//	  jwt_secret: ""       # jwt mode only; generated when empty
//
//	tls:
//	  enabled: false
//	  source: "self_signed"  # self_signed, custom
//	  hostname: "localhost"
//	  dir: "~/.local/share/beacon/certs"
//	  watch: false
//
//	database:
//	  path: "~/.local/share/beacon/beacon.db"
//
//	tunnel:
//	  enabled: false                 # start with the server
//	  provider: "cloudflare_quick"   # cloudflare_quick, cloudflare_named, tailscale_funnel
//	  startup_timeout: "30s"
//	  cloudflared:
//	    bin_dirs: ["/opt/beacon/bin"]
//	    search_path: true
//	    token: "${CLOUDFLARED_TOKEN}"
//	    public_url: "https://beacon.example.com"
//	  tailscale:
//	    hostname: "beacon"
//	    auth_key: "${TS_AUTHKEY}"
//	    ephemeral: false
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: false
//	  path: "/metrics"
//
// # Usage
//
//	cfg, path, err := config.LoadDefault()
//	cfg, err := config.Load("/etc/beacon/beacon.toml")
package config
