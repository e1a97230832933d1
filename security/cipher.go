package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/goliatone/go-accountlink/core"
	"golang.org/x/crypto/chacha20poly1305"
)

const keySize = 32

// KeySource hands out the active key for the duration of fn. Implementations
// must keep the key stable until fn returns.
type KeySource interface {
	WithKey(ctx context.Context, fn func(key []byte, fingerprint string) error) error
}

type aeadSpec struct {
	nonceSize int
	overhead  int
	build     func(key []byte) (cipher.AEAD, error)
}

var aeadSpecs = map[byte]aeadSpec{
	envelopeVersionAESGCM: {
		nonceSize: 12,
		overhead:  16,
		build: func(key []byte) (cipher.AEAD, error) {
			block, err := aes.NewCipher(key)
			if err != nil {
				return nil, fmt.Errorf("security: create cipher: %w", err)
			}
			gcm, err := cipher.NewGCM(block)
			if err != nil {
				return nil, fmt.Errorf("security: create gcm: %w", err)
			}
			return gcm, nil
		},
	},
	envelopeVersionXChaCha: {
		nonceSize: chacha20poly1305.NonceSizeX,
		overhead:  chacha20poly1305.Overhead,
		build: func(key []byte) (cipher.AEAD, error) {
			aead, err := chacha20poly1305.NewX(key)
			if err != nil {
				return nil, fmt.Errorf("security: create xchacha20-poly1305: %w", err)
			}
			return aead, nil
		},
	},
}

type Option func(*AEADCipher)

// WithAlgorithm selects the algorithm used for new payloads. Open accepts
// every supported version regardless.
func WithAlgorithm(algorithm string) Option {
	return func(c *AEADCipher) {
		c.algorithm = algorithm
	}
}

func WithRandom(reader io.Reader) Option {
	return func(c *AEADCipher) {
		if reader != nil {
			c.random = reader
		}
	}
}

// AEADCipher seals credential secrets with the key held by a KeySource.
type AEADCipher struct {
	keys      KeySource
	algorithm string
	version   byte
	random    io.Reader
}

func NewAEADCipher(keys KeySource, opts ...Option) (*AEADCipher, error) {
	if keys == nil {
		return nil, core.NewCryptoError(core.ErrKeyUnavailable, "security: key source is required")
	}
	c := &AEADCipher{
		keys:      keys,
		algorithm: core.AlgorithmAES256GCM,
		random:    rand.Reader,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	version, err := versionForAlgorithm(c.algorithm)
	if err != nil {
		return nil, err
	}
	c.version = version
	c.algorithm = algorithmForVersion(version)
	return c, nil
}

func (c *AEADCipher) Algorithm() string {
	if c == nil {
		return ""
	}
	return c.algorithm
}

// Seal encrypts plaintext with a fresh nonce. Empty plaintext is allowed.
func (c *AEADCipher) Seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	if c == nil || c.keys == nil {
		return nil, core.NewCryptoError(core.ErrKeyUnavailable, "security: cipher is not configured")
	}
	spec := aeadSpecs[c.version]
	var sealed []byte
	err := c.keys.WithKey(ctx, func(key []byte, fingerprint string) error {
		aead, err := spec.build(key)
		if err != nil {
			return err
		}
		nonce := make([]byte, spec.nonceSize)
		if _, err := io.ReadFull(c.random, nonce); err != nil {
			return fmt.Errorf("security: nonce generation failed: %w", err)
		}
		ciphertext := aead.Seal(nil, nonce, plaintext, associatedData(c.version, fingerprint))
		sealed = encodeEnvelope(envelope{Version: c.version, Nonce: nonce, Ciphertext: ciphertext})
		return nil
	})
	if err != nil {
		return nil, cryptoError(err, "security: seal failed")
	}
	return sealed, nil
}

// Open authenticates and decrypts a sealed payload. Any tampering, truncation
// or unknown version fails with an integrity error and no partial output.
func (c *AEADCipher) Open(ctx context.Context, sealed []byte) ([]byte, error) {
	if c == nil || c.keys == nil {
		return nil, core.NewCryptoError(core.ErrKeyUnavailable, "security: cipher is not configured")
	}
	env, err := decodeEnvelope(sealed)
	if err != nil {
		return nil, err
	}
	spec := aeadSpecs[env.Version]
	var plaintext []byte
	err = c.keys.WithKey(ctx, func(key []byte, fingerprint string) error {
		aead, err := spec.build(key)
		if err != nil {
			return err
		}
		opened, err := aead.Open(nil, env.Nonce, env.Ciphertext, associatedData(env.Version, fingerprint))
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrIntegrityFailure, err)
		}
		plaintext = opened
		return nil
	})
	if err != nil {
		return nil, cryptoError(err, "security: open failed")
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// SealBundle seals each secret of bundle separately.
func (c *AEADCipher) SealBundle(ctx context.Context, bundle core.CredentialBundle) (core.SealedCredentials, error) {
	return core.NewCipherCredentialCodec(c).Seal(ctx, bundle)
}

func (c *AEADCipher) OpenBundle(ctx context.Context, sealed core.SealedCredentials) (core.CredentialBundle, error) {
	return core.NewCipherCredentialCodec(c).Open(ctx, sealed)
}

func cryptoError(err error, message string) error {
	if core.KindOf(err) == core.ErrorKindCrypto {
		return err
	}
	return core.NewCryptoError(err, message)
}

var _ core.CredentialCipher = (*AEADCipher)(nil)
