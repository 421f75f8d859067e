package util

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// SessionTokenBytes is the entropy of a session token. 32 bytes gives
// 256 bits, which keeps bearer tokens outside brute-force range.
const SessionTokenBytes = 32

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// RandomToken returns n random bytes encoded as unpadded base64url,
// suitable for cookies and URLs.
func RandomToken(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
