// ABOUTME: Settings store interface and errors for beacon persistence
// ABOUTME: Settings are string key/value pairs used by certs, auth, and storage locations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested setting does not exist
var ErrNotFound = errors.New("not found")

// ErrEmptyKey is returned when a setting key is empty
var ErrEmptyKey = errors.New("setting key must not be empty")

// Setting is a single persisted key/value pair.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// SettingsStore is the persistence surface used by the rest of beacon.
type SettingsStore interface {
	// GetSetting returns the value for key, or ErrNotFound.
	GetSetting(ctx context.Context, key string) (string, error)

	// SetSetting inserts or replaces the value for key.
	SetSetting(ctx context.Context, key, value string) error

	// DeleteSetting removes key. Returns ErrNotFound if it does not exist.
	DeleteSetting(ctx context.Context, key string) error

	// ListSettings returns all settings ordered by key.
	ListSettings(ctx context.Context) ([]Setting, error)

	Close() error
}

// Well-known setting keys.
const (
	KeyAuthToken        = "auth.token"
	KeyJWTSecret        = "auth.jwt_secret"
	KeyKeystorePassword = "tls.keystore_password"
	KeyCustomPassword   = "tls.custom_password"
	KeyStorageLocations = "storage.locations"
)
