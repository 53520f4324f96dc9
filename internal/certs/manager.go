// ABOUTME: Certificate manager for self-signed generation, custom import, and the active TLS cert
// ABOUTME: Persists keystores atomically and keeps passwords in the settings store

package certs

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/beacon/internal/store"
)

// passwordBytes is the amount of randomness in a generated keystore password.
const passwordBytes = 32

// Certificate errors
var (
	ErrHostnameRequired  = errors.New("hostname is required")
	ErrIncorrectPassword = errors.New("incorrect keystore password")
	ErrInvalidKeystore   = errors.New("invalid keystore")
	ErrNoKeystore        = errors.New("keystore not found")
	ErrNoPrivateKey      = errors.New("keystore has no private key")
	ErrNoCertificate     = errors.New("no active certificate")
	ErrUnknownSource     = errors.New("unknown certificate source")
)

// Config holds the dependencies for a Manager.
type Config struct {
	Dir      string
	Settings store.SettingsStore
	Logger   *slog.Logger

	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time
}

// Manager owns the keystore files and the certificate currently served.
type Manager struct {
	dir      string
	settings store.SettingsStore
	logger   *slog.Logger
	now      func() time.Time

	// opMu serializes password creation and keystore writes.
	opMu   sync.Mutex
	active atomic.Pointer[Material]
}

// NewManager creates a Manager. The directory is created if needed.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, errors.New("certificate directory is required")
	}
	if cfg.Settings == nil {
		return nil, errors.New("settings store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating certificate directory: %w", err)
	}
	return &Manager{
		dir:      cfg.Dir,
		settings: cfg.Settings,
		logger:   cfg.Logger.With("component", "certs"),
		now:      cfg.Now,
	}, nil
}

// Dir returns the certificate directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Path returns the keystore file for a source.
func (m *Manager) Path(source Source) string {
	return filepath.Join(m.dir, source.filename())
}

// KeystorePassword returns the self-signed keystore password, generating and
// persisting it on first use. Every later call, including after a restart,
// returns the same value.
func (m *Manager) KeystorePassword(ctx context.Context) (string, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.keystorePasswordLocked(ctx)
}

func (m *Manager) keystorePasswordLocked(ctx context.Context) (string, error) {
	pw, err := m.settings.GetSetting(ctx, store.KeyKeystorePassword)
	if err == nil && pw != "" {
		return pw, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("reading keystore password: %w", err)
	}

	buf := make([]byte, passwordBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating keystore password: %w", err)
	}
	pw = hex.EncodeToString(buf)
	if err := m.settings.SetSetting(ctx, store.KeyKeystorePassword, pw); err != nil {
		return "", fmt.Errorf("saving keystore password: %w", err)
	}
	m.logger.Info("generated keystore password")
	return pw, nil
}

// GenerateSelfSigned creates a new self-signed certificate for hostname,
// overwrites the self-signed keystore and makes it active.
func (m *Manager) GenerateSelfSigned(ctx context.Context, hostname string) (*Material, error) {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return nil, ErrHostnameRequired
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	pw, err := m.keystorePasswordLocked(ctx)
	if err != nil {
		return nil, err
	}

	key, cert, err := newSelfSigned(hostname, m.now().Truncate(time.Second))
	if err != nil {
		return nil, err
	}
	data, err := encodeKeystore(key, cert, pw)
	if err != nil {
		return nil, err
	}
	mat, err := decodeKeystore(data, pw, SourceSelfSigned)
	if err != nil {
		return nil, fmt.Errorf("verifying generated keystore: %w", err)
	}

	if err := writeFileAtomic(m.Path(SourceSelfSigned), data); err != nil {
		return nil, err
	}
	m.active.Store(mat)

	m.logger.Info("generated self-signed certificate",
		"hostname", hostname,
		"not_after", mat.NotAfter.Format(time.RFC3339),
	)
	return mat, nil
}

// ImportCustom opens data as a PKCS12 keystore with password. On success the
// bytes are written to the custom slot and the password is persisted. The
// imported certificate becomes active only when it carries a private key.
// On failure nothing on disk or in memory changes.
func (m *Manager) ImportCustom(ctx context.Context, data []byte, password string) (*Material, error) {
	mat, err := decodeKeystore(data, password, SourceCustom)
	if err != nil {
		m.logger.Warn("rejected custom keystore", "error", err)
		return nil, err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	// The password goes first so the file on disk never pairs with a stale one.
	prevPassword, prevErr := m.settings.GetSetting(ctx, store.KeyCustomPassword)
	if err := m.settings.SetSetting(ctx, store.KeyCustomPassword, password); err != nil {
		return nil, fmt.Errorf("saving custom keystore password: %w", err)
	}
	if err := writeFileAtomic(m.Path(SourceCustom), data); err != nil {
		m.restoreCustomPassword(ctx, prevPassword, prevErr)
		return nil, err
	}

	if mat.HasKey() {
		m.active.Store(mat)
	}
	m.logger.Info("imported custom keystore",
		"hostname", mat.Hostname,
		"certificates", mat.CertificateCount(),
		"has_key", mat.HasKey(),
	)
	return mat, nil
}

// restoreCustomPassword puts back the password that matched the previous
// custom keystore after a failed import.
func (m *Manager) restoreCustomPassword(ctx context.Context, prev string, prevErr error) {
	var err error
	switch {
	case prevErr == nil:
		err = m.settings.SetSetting(ctx, store.KeyCustomPassword, prev)
	case errors.Is(prevErr, store.ErrNotFound):
		err = m.settings.DeleteSetting(ctx, store.KeyCustomPassword)
	default:
		err = prevErr
	}
	if err != nil {
		m.logger.Error("failed to restore custom keystore password", "error", err)
	}
}

// Load reads the keystore for source from disk and makes it active.
func (m *Manager) Load(ctx context.Context, source Source) (*Material, error) {
	if !source.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}

	data, err := os.ReadFile(m.Path(source))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoKeystore, m.Path(source))
	}
	if err != nil {
		return nil, fmt.Errorf("reading keystore: %w", err)
	}

	var pw string
	switch source {
	case SourceSelfSigned:
		pw, err = m.KeystorePassword(ctx)
	case SourceCustom:
		pw, err = m.settings.GetSetting(ctx, store.KeyCustomPassword)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s keystore password: %w", source, err)
	}

	mat, err := decodeKeystore(data, pw, source)
	if err != nil {
		return nil, err
	}
	if !mat.HasKey() {
		return nil, ErrNoPrivateKey
	}
	m.active.Store(mat)
	m.logger.Debug("loaded keystore", "source", source, "hostname", mat.Hostname)
	return mat, nil
}

// EnsureSelfSigned loads the self-signed keystore, generating a new one when
// it is missing, unreadable, expired, or bound to another hostname.
func (m *Manager) EnsureSelfSigned(ctx context.Context, hostname string) (*Material, error) {
	mat, err := m.Load(ctx, SourceSelfSigned)
	switch {
	case err != nil:
		if !errors.Is(err, ErrNoKeystore) {
			m.logger.Warn("regenerating unreadable self-signed keystore", "error", err)
		}
	case mat.Expired(m.now()):
		m.logger.Info("regenerating expired self-signed certificate", "not_after", mat.NotAfter)
	case hostname != "" && mat.Hostname != hostname:
		m.logger.Info("regenerating self-signed certificate for new hostname",
			"old", mat.Hostname, "new", hostname)
	default:
		return mat, nil
	}
	return m.GenerateSelfSigned(ctx, hostname)
}

// Active returns the certificate currently served, or nil.
func (m *Manager) Active() *Material {
	return m.active.Load()
}

// GetCertificate implements tls.Config.GetCertificate.
func (m *Manager) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	mat := m.active.Load()
	if !mat.HasKey() {
		return nil, ErrNoCertificate
	}
	return &mat.Certificate, nil
}

// TLSConfig returns a server tls.Config backed by the active certificate.
func (m *Manager) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: m.GetCertificate,
	}
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp keystore: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("writing temp keystore: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("syncing temp keystore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp keystore: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("setting keystore permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replacing keystore: %w", err)
	}
	return nil
}
