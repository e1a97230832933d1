package core

import (
	"context"
	"fmt"
)

// CredentialCodec seals a bundle into per-secret blobs and back.
type CredentialCodec interface {
	Seal(ctx context.Context, bundle CredentialBundle) (SealedCredentials, error)
	Open(ctx context.Context, sealed SealedCredentials) (CredentialBundle, error)
}

// CipherCredentialCodec seals each secret independently so a single corrupt
// column never exposes or invalidates the others silently.
type CipherCredentialCodec struct {
	Cipher CredentialCipher
}

func NewCipherCredentialCodec(cipher CredentialCipher) CipherCredentialCodec {
	return CipherCredentialCodec{Cipher: cipher}
}

func (c CipherCredentialCodec) Seal(ctx context.Context, bundle CredentialBundle) (SealedCredentials, error) {
	if c.Cipher == nil {
		return SealedCredentials{}, NewCryptoError(ErrKeyUnavailable, "core: credential cipher is not configured")
	}
	sealed := SealedCredentials{}
	for _, name := range CredentialNames {
		blob, err := c.Cipher.Seal(ctx, []byte(bundle.Get(name)))
		if err != nil {
			return SealedCredentials{}, wrapCryptoError(err, fmt.Sprintf("core: seal %s failed", name))
		}
		sealed.set(name, blob)
	}
	return sealed, nil
}

func (c CipherCredentialCodec) Open(ctx context.Context, sealed SealedCredentials) (CredentialBundle, error) {
	if c.Cipher == nil {
		return CredentialBundle{}, NewCryptoError(ErrKeyUnavailable, "core: credential cipher is not configured")
	}
	bundle := CredentialBundle{}
	for _, name := range CredentialNames {
		blob := sealed.get(name)
		if len(blob) == 0 {
			continue
		}
		plaintext, err := c.Cipher.Open(ctx, blob)
		if err != nil {
			return CredentialBundle{}, wrapCryptoError(err, fmt.Sprintf("core: open %s failed", name))
		}
		bundle.Set(name, string(plaintext))
	}
	return bundle, nil
}

func (s SealedCredentials) get(name string) []byte {
	switch name {
	case CredentialSessionToken:
		return s.SessionToken
	case CredentialCSRFToken:
		return s.CSRFToken
	case CredentialAccountIDToken:
		return s.AccountIDToken
	case CredentialAccountChecksum:
		return s.AccountChecksum
	default:
		return nil
	}
}

func (s *SealedCredentials) set(name string, blob []byte) {
	switch name {
	case CredentialSessionToken:
		s.SessionToken = blob
	case CredentialCSRFToken:
		s.CSRFToken = blob
	case CredentialAccountIDToken:
		s.AccountIDToken = blob
	case CredentialAccountChecksum:
		s.AccountChecksum = blob
	}
}

func wrapCryptoError(err error, message string) error {
	if KindOf(err) == ErrorKindCrypto {
		return err
	}
	return NewCryptoError(err, message)
}
