package otp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/mknight/gatehouse/internal/util"
)

const (
	payloadVersion = "v1"
	gcmNonceLen    = 12
	gcmTagLen      = 16
)

// EncryptSecret seals a TOTP secret for storage in configuration. The
// AES-256 key is derived as SHA-256 of the key passphrase; the payload is
// serialized as v1.<nonce>.<ciphertext>.<tag>, each segment unpadded
// base64url.
func EncryptSecret(secret, keyPhrase string) (string, error) {
	if keyPhrase == "" {
		return "", fmt.Errorf("encryption key must not be empty")
	}
	gcm, err := newGCM(keyPhrase)
	if err != nil {
		return "", err
	}
	nonce, err := util.RandomBytes(gcmNonceLen)
	if err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, nonce, []byte(secret), nil)
	ct, tag := sealed[:len(sealed)-gcmTagLen], sealed[len(sealed)-gcmTagLen:]
	return strings.Join([]string{
		payloadVersion,
		util.B64URLEncode(nonce),
		util.B64URLEncode(ct),
		util.B64URLEncode(tag),
	}, "."), nil
}

// DecryptSecret reverses EncryptSecret. It fails closed: a wrong version
// tag, malformed segment, or authentication failure all return an error.
// Callers treat that error as fatal configuration breakage, never as a
// per-request authentication failure.
func DecryptSecret(payload, keyPhrase string) (string, error) {
	parts := strings.Split(payload, ".")
	if len(parts) != 4 {
		return "", fmt.Errorf("encrypted secret: want 4 segments, got %d", len(parts))
	}
	if parts[0] != payloadVersion {
		return "", fmt.Errorf("encrypted secret: unsupported version %q", parts[0])
	}
	nonce, err := util.B64URLDecode(parts[1])
	if err != nil {
		return "", fmt.Errorf("encrypted secret: malformed nonce: %w", err)
	}
	if len(nonce) != gcmNonceLen {
		return "", fmt.Errorf("encrypted secret: nonce must be %d bytes, got %d", gcmNonceLen, len(nonce))
	}
	ct, err := util.B64URLDecode(parts[2])
	if err != nil {
		return "", fmt.Errorf("encrypted secret: malformed ciphertext: %w", err)
	}
	tag, err := util.B64URLDecode(parts[3])
	if err != nil {
		return "", fmt.Errorf("encrypted secret: malformed tag: %w", err)
	}
	if len(tag) != gcmTagLen {
		return "", fmt.Errorf("encrypted secret: tag must be %d bytes, got %d", gcmTagLen, len(tag))
	}

	gcm, err := newGCM(keyPhrase)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("encrypted secret: %w", err)
	}
	out := string(plain)
	util.WipeBytes(plain)
	return out, nil
}

// IsEncryptedPayload reports whether a configured secret value looks like
// a sealed v1 payload rather than a raw secret.
func IsEncryptedPayload(s string) bool {
	return strings.HasPrefix(s, payloadVersion+".") && strings.Count(s, ".") == 3
}

func newGCM(keyPhrase string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(keyPhrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
