package security

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-accountlink/core"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	keyFileMode os.FileMode = 0o600
	keyDirMode  os.FileMode = 0o700
)

type KeyManagerOption func(*KeyManager)

func WithFilesystem(fs afero.Fs) KeyManagerOption {
	return func(m *KeyManager) {
		if fs != nil {
			m.fs = fs
		}
	}
}

func WithKeyLogger(logger core.Logger) KeyManagerOption {
	return func(m *KeyManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithKeyTelemetry(sink core.TelemetrySink) KeyManagerOption {
	return func(m *KeyManager) {
		m.telemetry = sink
	}
}

func WithKeyRandom(reader io.Reader) KeyManagerOption {
	return func(m *KeyManager) {
		if reader != nil {
			m.random = reader
		}
	}
}

func WithKeyClock(clock func() time.Time) KeyManagerOption {
	return func(m *KeyManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// KeyManager owns the single encryption key persisted at path. The key is
// created on first Load and reused afterwards. Regenerate is destructive:
// payloads sealed under the previous key can no longer be opened.
type KeyManager struct {
	fs        afero.Fs
	path      string
	logger    core.Logger
	telemetry core.TelemetrySink
	random    io.Reader
	now       func() time.Time

	mu          sync.RWMutex
	key         []byte
	fingerprint string
	loaded      bool
}

func NewKeyManager(path string, opts ...KeyManagerOption) (*KeyManager, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, core.NewValidationError(core.ErrorCodeBadInput, "security: key path is required")
	}
	m := &KeyManager{
		fs:     afero.NewOsFs(),
		path:   path,
		logger: glog.Nop(),
		random: rand.Reader,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(m)
	}
	return m, nil
}

func (m *KeyManager) Path() string {
	if m == nil {
		return ""
	}
	return m.path
}

func (m *KeyManager) Loaded() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Load reads the persisted key or, when none exists, generates and persists a
// new one before it is used. A present but unreadable artifact is an error;
// it is never replaced silently.
func (m *KeyManager) Load(ctx context.Context) error {
	if m == nil {
		return core.NewCryptoError(core.ErrKeyUnavailable, "security: key manager is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return nil
	}

	exists, err := afero.Exists(m.fs, m.path)
	if err != nil {
		return m.keyUnavailable(ctx, "load", err)
	}
	if !exists {
		key, err := m.generateKey()
		if err != nil {
			return m.keyUnavailable(ctx, "generate", err)
		}
		if err := m.persist(key); err != nil {
			return m.keyUnavailable(ctx, "generate", err)
		}
		m.install(key)
		m.logger.Info("encryption key generated", "key_fingerprint", m.fingerprint)
		core.EmitTelemetry(ctx, m.telemetry, core.ComponentKeyManager, "generate", nil, map[string]any{
			"key_fingerprint": m.fingerprint,
		})
		return nil
	}

	if err := m.checkPermissions(); err != nil {
		return m.keyUnavailable(ctx, "load", err)
	}
	raw, err := afero.ReadFile(m.fs, m.path)
	if err != nil {
		return m.keyUnavailable(ctx, "load", err)
	}
	key, err := decodeKey(raw)
	if err != nil {
		return m.keyUnavailable(ctx, "load", err)
	}
	m.install(key)
	core.EmitTelemetry(ctx, m.telemetry, core.ComponentKeyManager, "load", nil, map[string]any{
		"key_fingerprint": m.fingerprint,
	})
	return nil
}

// CurrentKey returns a copy of the active key.
func (m *KeyManager) CurrentKey() ([]byte, error) {
	if m == nil {
		return nil, core.NewCryptoError(core.ErrKeyUnavailable, "security: key manager is nil")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.loaded {
		return nil, core.NewCryptoError(core.ErrKeyUnavailable, "security: key is not loaded")
	}
	out := make([]byte, len(m.key))
	copy(out, m.key)
	return out, nil
}

func (m *KeyManager) Fingerprint() string {
	if m == nil {
		return ""
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fingerprint
}

// WithKey runs fn under the read lock, loading the key first if needed.
func (m *KeyManager) WithKey(ctx context.Context, fn func(key []byte, fingerprint string) error) error {
	if m == nil {
		return core.NewCryptoError(core.ErrKeyUnavailable, "security: key manager is nil")
	}
	if fn == nil {
		return nil
	}
	if !m.Loaded() {
		if err := m.Load(ctx); err != nil {
			return err
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.loaded {
		return core.NewCryptoError(core.ErrKeyUnavailable, "security: key is not loaded")
	}
	return fn(m.key, m.fingerprint)
}

// VerifyIntegrity seals and opens a synthetic value with the active key.
func (m *KeyManager) VerifyIntegrity(ctx context.Context) error {
	if m == nil {
		return core.NewCryptoError(core.ErrKeyUnavailable, "security: key manager is nil")
	}
	probe, err := NewAEADCipher(m)
	if err != nil {
		return err
	}
	sample := []byte("accountlink.integrity." + uuid.NewString())
	sealed, err := probe.Seal(ctx, sample)
	if err == nil {
		var opened []byte
		opened, err = probe.Open(ctx, sealed)
		if err == nil && !bytes.Equal(opened, sample) {
			err = core.NewCryptoError(core.ErrIntegrityFailure, "security: integrity probe mismatch")
		}
	}
	core.EmitTelemetry(ctx, m.telemetry, core.ComponentKeyManager, "verify_integrity", err, map[string]any{
		"key_fingerprint": m.Fingerprint(),
	})
	return err
}

// Regenerate replaces the key. It waits for in-flight seal/open calls and
// blocks new ones until the new key is persisted.
func (m *KeyManager) Regenerate(ctx context.Context) (core.KeyRotation, error) {
	if m == nil {
		return core.KeyRotation{}, core.NewCryptoError(core.ErrKeyUnavailable, "security: key manager is nil")
	}
	if err := ctx.Err(); err != nil {
		return core.KeyRotation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.fingerprint
	key, err := m.generateKey()
	if err != nil {
		return core.KeyRotation{}, m.keyUnavailable(ctx, "regenerate", err)
	}
	if err := m.persist(key); err != nil {
		return core.KeyRotation{}, m.keyUnavailable(ctx, "regenerate", err)
	}
	m.install(key)
	rotation := core.KeyRotation{
		PreviousFingerprint: previous,
		CurrentFingerprint:  m.fingerprint,
		RotatedAt:           m.now(),
	}
	m.logger.Warn("encryption key regenerated",
		"previous_fingerprint", rotation.PreviousFingerprint,
		"current_fingerprint", rotation.CurrentFingerprint,
	)
	core.EmitTelemetry(ctx, m.telemetry, core.ComponentKeyManager, "regenerate", nil, map[string]any{
		"previous_fingerprint": rotation.PreviousFingerprint,
		"current_fingerprint":  rotation.CurrentFingerprint,
	})
	return rotation, nil
}

func (m *KeyManager) install(key []byte) {
	m.key = key
	m.fingerprint = Fingerprint(key)
	m.loaded = true
}

func (m *KeyManager) generateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(m.random, key); err != nil {
		return nil, fmt.Errorf("security: key generation failed: %w", err)
	}
	return key, nil
}

// persist writes to a temp file next to path and renames it into place.
func (m *KeyManager) persist(key []byte) error {
	dir := filepath.Dir(m.path)
	if err := m.fs.MkdirAll(dir, keyDirMode); err != nil {
		return fmt.Errorf("security: create key directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key) + "\n"
	tmp := filepath.Join(dir, "."+filepath.Base(m.path)+".tmp-"+uuid.NewString())
	if err := afero.WriteFile(m.fs, tmp, []byte(encoded), keyFileMode); err != nil {
		_ = m.fs.Remove(tmp)
		return fmt.Errorf("security: write key: %w", err)
	}
	if err := m.fs.Chmod(tmp, keyFileMode); err != nil {
		_ = m.fs.Remove(tmp)
		return fmt.Errorf("security: chmod key: %w", err)
	}
	if err := m.fs.Rename(tmp, m.path); err != nil {
		_ = m.fs.Remove(tmp)
		return fmt.Errorf("security: install key: %w", err)
	}
	return nil
}

// checkPermissions tightens artifacts readable by group or others and fails
// when that is not possible.
func (m *KeyManager) checkPermissions() error {
	info, err := m.fs.Stat(m.path)
	if err != nil {
		return fmt.Errorf("security: stat key: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("security: key path %s is a directory", m.path)
	}
	if info.Mode().Perm()&0o077 == 0 {
		return nil
	}
	m.logger.Warn("encryption key permissions too broad, tightening",
		"key_path", m.path,
		"mode", info.Mode().Perm().String(),
	)
	if err := m.fs.Chmod(m.path, keyFileMode); err != nil {
		return fmt.Errorf("security: key permissions %s are broader than owner-only: %w", info.Mode().Perm(), err)
	}
	return nil
}

func (m *KeyManager) keyUnavailable(ctx context.Context, operation string, err error) error {
	wrapped := core.NewCryptoError(fmt.Errorf("%w: %v", core.ErrKeyUnavailable, err), "security: encryption key unavailable")
	m.logger.Error("encryption key "+operation+" failed", "error", core.RedactString(err.Error()), "key_path", m.path)
	core.EmitTelemetry(ctx, m.telemetry, core.ComponentKeyManager, operation, wrapped, map[string]any{
		"key_path": m.path,
	})
	return wrapped
}

func decodeKey(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("security: key artifact is empty")
	}
	key := make([]byte, base64.StdEncoding.DecodedLen(len(trimmed)))
	n, err := base64.StdEncoding.Decode(key, trimmed)
	if err != nil {
		return nil, fmt.Errorf("security: key artifact is not valid base64")
	}
	if n != keySize {
		return nil, fmt.Errorf("security: key artifact has %d bytes, want %d", n, keySize)
	}
	return key[:n], nil
}

// Fingerprint is a short, non-reversible identifier for key.
func Fingerprint(key []byte) string {
	if len(key) == 0 {
		return ""
	}
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:8])
}

var (
	_ KeySource             = (*KeyManager)(nil)
	_ core.KeyAdministrator = (*KeyManager)(nil)
)
