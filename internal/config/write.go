// ABOUTME: Serializes a Config back to YAML or TOML for `beacon init`
// ABOUTME: Durations are written in their string form so the file round-trips

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const fileHeader = "# beacon configuration\n# Generated by beacon init\n\n"

// Marshal encodes cfg in the given format ("yaml" or "toml").
func Marshal(cfg *Config, format string) ([]byte, error) {
	out := *cfg
	out.Server.ToolTimeoutRaw = out.Server.ToolTimeout.String()
	out.Tunnel.StartupTimeoutRaw = out.Tunnel.StartupTimeout.String()

	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(&out); err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}
	case "toml":
		if err := toml.NewEncoder(&buf).Encode(&out); err != nil {
			return nil, fmt.Errorf("encoding toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return buf.Bytes(), nil
}

// Write saves cfg to path, choosing the format by extension. The file is
// created 0600 because it may contain the bearer token.
func Write(path string, cfg *Config) error {
	data, err := Marshal(cfg, formatOf(path))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
