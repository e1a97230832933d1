package security

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-accountlink/core"
)

// Sealed payload layout: version(1) || nonce || ciphertext+tag.
// The version byte selects the AEAD algorithm.
const (
	envelopeVersionAESGCM   byte = 0x01
	envelopeVersionXChaCha  byte = 0x02
	envelopeAssociatedLabel      = "accountlink.sealed.v1"
)

type envelope struct {
	Version    byte
	Nonce      []byte
	Ciphertext []byte
}

// EnvelopeMetadata describes a sealed payload without opening it.
type EnvelopeMetadata struct {
	Version   byte
	Algorithm string
	NonceSize int
	Size      int
}

func ParseEnvelopeMetadata(sealed []byte) (EnvelopeMetadata, error) {
	env, err := decodeEnvelope(sealed)
	if err != nil {
		return EnvelopeMetadata{}, err
	}
	return EnvelopeMetadata{
		Version:   env.Version,
		Algorithm: algorithmForVersion(env.Version),
		NonceSize: len(env.Nonce),
		Size:      len(sealed),
	}, nil
}

func encodeEnvelope(env envelope) []byte {
	out := make([]byte, 0, 1+len(env.Nonce)+len(env.Ciphertext))
	out = append(out, env.Version)
	out = append(out, env.Nonce...)
	out = append(out, env.Ciphertext...)
	return out
}

func decodeEnvelope(sealed []byte) (envelope, error) {
	if len(sealed) == 0 {
		return envelope{}, integrityError("security: sealed payload is empty")
	}
	version := sealed[0]
	spec, ok := aeadSpecs[version]
	if !ok {
		return envelope{}, integrityError(fmt.Sprintf("security: unknown envelope version %d", version))
	}
	body := sealed[1:]
	if len(body) < spec.nonceSize+spec.overhead {
		return envelope{}, integrityError("security: sealed payload is truncated")
	}
	return envelope{
		Version:    version,
		Nonce:      body[:spec.nonceSize],
		Ciphertext: body[spec.nonceSize:],
	}, nil
}

// associatedData binds the version byte and the key fingerprint, so a payload
// sealed under another key or relabelled version fails authentication.
func associatedData(version byte, fingerprint string) []byte {
	ad := make([]byte, 0, len(envelopeAssociatedLabel)+2+len(fingerprint))
	ad = append(ad, envelopeAssociatedLabel...)
	ad = append(ad, version, ':')
	ad = append(ad, fingerprint...)
	return ad
}

func versionForAlgorithm(algorithm string) (byte, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", core.AlgorithmAES256GCM:
		return envelopeVersionAESGCM, nil
	case core.AlgorithmXChaCha20Poly1305:
		return envelopeVersionXChaCha, nil
	default:
		return 0, fmt.Errorf("security: unsupported algorithm %q", algorithm)
	}
}

func algorithmForVersion(version byte) string {
	switch version {
	case envelopeVersionAESGCM:
		return core.AlgorithmAES256GCM
	case envelopeVersionXChaCha:
		return core.AlgorithmXChaCha20Poly1305
	default:
		return ""
	}
}

func integrityError(message string) error {
	return core.NewCryptoError(core.ErrIntegrityFailure, message)
}
