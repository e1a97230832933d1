package security

import (
	"bytes"
	"context"
	"testing"

	"github.com/goliatone/go-accountlink/core"
	"github.com/spf13/afero"
)

func newTestKeys(t *testing.T) *KeyManager {
	t.Helper()
	keys, err := NewKeyManager("/keys/accountlink.key", WithFilesystem(afero.NewMemMapFs()))
	if err != nil {
		t.Fatalf("new key manager: %v", err)
	}
	if err := keys.Load(context.Background()); err != nil {
		t.Fatalf("load key: %v", err)
	}
	return keys
}

func TestAEADCipher_RoundTrip(t *testing.T) {
	keys := newTestKeys(t)
	for _, algorithm := range []string{core.AlgorithmAES256GCM, core.AlgorithmXChaCha20Poly1305} {
		t.Run(algorithm, func(t *testing.T) {
			c, err := NewAEADCipher(keys, WithAlgorithm(algorithm))
			if err != nil {
				t.Fatalf("new cipher: %v", err)
			}
			for _, plaintext := range [][]byte{[]byte("SESSDATA-value-123"), {}} {
				sealed, err := c.Seal(context.Background(), plaintext)
				if err != nil {
					t.Fatalf("seal: %v", err)
				}
				if len(plaintext) > 0 && bytes.Contains(sealed, plaintext) {
					t.Fatalf("expected sealed payload to hide plaintext")
				}
				meta, err := ParseEnvelopeMetadata(sealed)
				if err != nil {
					t.Fatalf("parse metadata: %v", err)
				}
				if meta.Algorithm != algorithm {
					t.Fatalf("expected %s envelope, got %s", algorithm, meta.Algorithm)
				}
				opened, err := c.Open(context.Background(), sealed)
				if err != nil {
					t.Fatalf("open: %v", err)
				}
				if !bytes.Equal(opened, plaintext) {
					t.Fatalf("expected round-trip plaintext, got %q", opened)
				}
			}
		})
	}
}

func patternedPlaintext(length int) []byte {
	out := make([]byte, length)
	for i := range out {
		out[i] = byte(i*31 + 7)
	}
	return out
}

func TestAEADCipher_RoundTripEveryLength(t *testing.T) {
	ctx := context.Background()
	keys := newTestKeys(t)
	for _, algorithm := range []string{core.AlgorithmAES256GCM, core.AlgorithmXChaCha20Poly1305} {
		c, err := NewAEADCipher(keys, WithAlgorithm(algorithm))
		if err != nil {
			t.Fatalf("%s: new cipher: %v", algorithm, err)
		}
		for length := 0; length <= 80; length++ {
			plaintext := patternedPlaintext(length)
			sealed, err := c.Seal(ctx, plaintext)
			if err != nil {
				t.Fatalf("%s/%d: seal: %v", algorithm, length, err)
			}
			opened, err := c.Open(ctx, sealed)
			if err != nil {
				t.Fatalf("%s/%d: open: %v", algorithm, length, err)
			}
			if !bytes.Equal(opened, plaintext) {
				t.Fatalf("%s/%d: round-trip mismatch", algorithm, length)
			}
		}
	}
}

func TestAEADCipher_RejectsEverySingleByteChange(t *testing.T) {
	ctx := context.Background()
	keys := newTestKeys(t)
	for _, algorithm := range []string{core.AlgorithmAES256GCM, core.AlgorithmXChaCha20Poly1305} {
		c, err := NewAEADCipher(keys, WithAlgorithm(algorithm))
		if err != nil {
			t.Fatalf("%s: new cipher: %v", algorithm, err)
		}
		for _, length := range []int{0, 1, 17, 64} {
			sealed, err := c.Seal(ctx, patternedPlaintext(length))
			if err != nil {
				t.Fatalf("%s/%d: seal: %v", algorithm, length, err)
			}
			for position := range sealed {
				for _, mask := range []byte{0x01, 0x80, 0xff} {
					tampered := bytes.Clone(sealed)
					tampered[position] ^= mask
					opened, err := c.Open(ctx, tampered)
					if opened != nil || !core.HasTextCode(err, core.ErrorCodeCryptoIntegrity) {
						t.Fatalf("%s/%d: byte %d ^ %#x: expected integrity failure, got %v", algorithm, length, position, mask, err)
					}
				}
			}
		}
	}
}

func TestAEADCipher_FreshNoncePerSeal(t *testing.T) {
	c, err := NewAEADCipher(newTestKeys(t))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	first, _ := c.Seal(context.Background(), []byte("same"))
	second, _ := c.Seal(context.Background(), []byte("same"))
	if bytes.Equal(first, second) {
		t.Fatalf("expected distinct ciphertexts for repeated plaintext")
	}
}

func TestAEADCipher_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	c, err := NewAEADCipher(newTestKeys(t))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	sealed, err := c.Seal(ctx, []byte("bili_jct-value"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	cases := map[string][]byte{
		"flipped byte":    flipLast(sealed),
		"truncated":       sealed[:len(sealed)-5],
		"header only":     sealed[:1],
		"unknown version": append([]byte{0x7f}, sealed[1:]...),
		"empty":           nil,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			opened, err := c.Open(ctx, input)
			if err == nil {
				t.Fatalf("expected integrity failure")
			}
			if opened != nil {
				t.Fatalf("expected no partial output")
			}
			if !core.HasTextCode(err, core.ErrorCodeCryptoIntegrity) {
				t.Fatalf("expected CRYPTO_INTEGRITY_FAILURE, got %v", err)
			}
		})
	}
}

func TestAEADCipher_RejectsOtherKey(t *testing.T) {
	ctx := context.Background()
	issuer, _ := NewAEADCipher(newTestKeys(t))
	receiver, _ := NewAEADCipher(newTestKeys(t))

	sealed, err := issuer.Seal(ctx, []byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := receiver.Open(ctx, sealed); core.KindOf(err) != core.ErrorKindCrypto {
		t.Fatalf("expected crypto failure for foreign key, got %v", err)
	}
}

func TestAEADCipher_BundleHelpers(t *testing.T) {
	ctx := context.Background()
	c, _ := NewAEADCipher(newTestKeys(t), WithAlgorithm(core.AlgorithmXChaCha20Poly1305))
	bundle := core.CredentialBundle{
		SessionToken:    "sess",
		CSRFToken:       "csrf",
		AccountIDToken:  "42",
		AccountChecksum: "sum",
	}
	sealed, err := c.SealBundle(ctx, bundle)
	if err != nil {
		t.Fatalf("seal bundle: %v", err)
	}
	if bytes.Equal(sealed.SessionToken, sealed.CSRFToken) {
		t.Fatalf("expected independently sealed secrets")
	}
	opened, err := c.OpenBundle(ctx, sealed)
	if err != nil {
		t.Fatalf("open bundle: %v", err)
	}
	if opened != bundle {
		t.Fatalf("expected bundle round-trip")
	}
}

func TestNewAEADCipher_RejectsUnknownAlgorithm(t *testing.T) {
	if _, err := NewAEADCipher(newTestKeys(t), WithAlgorithm("des")); err == nil {
		t.Fatalf("expected unsupported algorithm error")
	}
	if _, err := NewAEADCipher(nil); !core.HasTextCode(err, core.ErrorCodeCryptoKeyUnavailable) {
		t.Fatalf("expected key unavailable without key source, got %v", err)
	}
}

func flipLast(in []byte) []byte {
	out := append([]byte(nil), in...)
	out[len(out)-1] ^= 0xff
	return out
}
