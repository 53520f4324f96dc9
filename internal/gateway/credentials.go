// ABOUTME: Resolves the bearer token and JWT secret from config or the settings store
// ABOUTME: Missing credentials are generated once and persisted so restarts keep them

package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/beacon/internal/auth"
	"github.com/2389/beacon/internal/config"
	"github.com/2389/beacon/internal/store"
)

// generatedSecretBytes is the entropy of generated tokens and secrets.
const generatedSecretBytes = 32

// GenerateSecret returns a random hex string with generatedSecretBytes of entropy.
func GenerateSecret() (string, error) {
	buf := make([]byte, generatedSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// resolveSetting returns configured if set, else the stored value for key,
// else a newly generated secret that is persisted under key.
func resolveSetting(ctx context.Context, s store.SettingsStore, key, configured string) (value string, generated bool, err error) {
	if configured != "" {
		return configured, false, nil
	}

	stored, err := s.GetSetting(ctx, key)
	if err == nil && stored != "" {
		return stored, false, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}

	value, err = GenerateSecret()
	if err != nil {
		return "", false, err
	}
	if err := s.SetSetting(ctx, key, value); err != nil {
		return "", false, fmt.Errorf("saving %s: %w", key, err)
	}
	return value, true, nil
}

// ResolveToken returns the static bearer token, generating and storing one
// when neither config nor the store has it.
func ResolveToken(ctx context.Context, s store.SettingsStore, configured string) (string, bool, error) {
	return resolveSetting(ctx, s, store.KeyAuthToken, configured)
}

// ResolveJWTSecret returns the JWT signing secret, generating and storing
// one when neither config nor the store has it.
func ResolveJWTSecret(ctx context.Context, s store.SettingsStore, configured string) ([]byte, error) {
	secret, _, err := resolveSetting(ctx, s, store.KeyJWTSecret, configured)
	if err != nil {
		return nil, err
	}
	return []byte(secret), nil
}

// newVerifier builds the TokenVerifier for the configured auth mode.
func newVerifier(ctx context.Context, cfg config.AuthConfig, s store.SettingsStore, logger *slog.Logger) (auth.TokenVerifier, error) {
	switch cfg.Mode {
	case config.AuthModeJWT:
		secret, err := ResolveJWTSecret(ctx, s, cfg.JWTSecret)
		if err != nil {
			return nil, err
		}
		v, err := auth.NewJWTVerifier(secret)
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		logger.Info("bearer auth enabled", "mode", config.AuthModeJWT)
		return v, nil

	case config.AuthModeStatic, "":
		token, generated, err := ResolveToken(ctx, s, cfg.Token)
		if err != nil {
			return nil, err
		}
		if generated {
			logger.Warn("generated a new bearer token; run `beacon token` to print it")
		}
		v, err := auth.NewStaticVerifier(token)
		if err != nil {
			return nil, fmt.Errorf("creating static verifier: %w", err)
		}
		logger.Info("bearer auth enabled", "mode", config.AuthModeStatic)
		return v, nil

	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}
