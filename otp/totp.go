// Package otp implements the TOTP second factor and its supporting
// primitives: secret normalization, secret-at-rest encryption, and
// single-use recovery codes.
package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mknight/gatehouse/internal/util"
)

const (
	totpDigits = 6
	totpPeriod = 30
	// totpWindow is the accepted clock-skew tolerance in steps. The window
	// is inclusive: a code whose counter differs by exactly one step (30s)
	// still verifies; two steps (60s) does not.
	totpWindow = 1

	// minSecretLen is the minimum length for a raw value to be treated as
	// a pre-encoded base32 secret rather than a passphrase.
	minSecretLen = 16

	derivedSecretLen = 32
)

// NormalizeSecret canonicalizes an operator-supplied TOTP secret. Valid
// base32 input (RFC 4648 alphabet, at least 16 characters) is uppercased
// with padding stripped. Anything else is treated as a passphrase and
// deterministically expanded into a 32-character base32 secret via SHA-256.
func NormalizeSecret(raw string) string {
	candidate := strings.TrimRight(strings.ToUpper(strings.TrimSpace(raw)), "=")
	if len(candidate) >= minSecretLen && isBase32(candidate) {
		return candidate
	}
	sum := sha256.Sum256([]byte(raw))
	return util.Base32Encode(sum[:])[:derivedSecretLen]
}

func isBase32(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '2' || r > '7') {
			return false
		}
	}
	return len(s) > 0
}

// CodeAt computes the 6-digit TOTP code for the given secret and instant.
func CodeAt(secret string, at time.Time) (string, error) {
	key, err := util.Base32Decode(strings.ToUpper(secret))
	if err != nil {
		return "", fmt.Errorf("decoding totp secret: %w", err)
	}
	defer util.WipeBytes(key)

	counter := uint64(at.Unix() / totpPeriod)
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	// RFC 4226 dynamic truncation.
	offset := sum[len(sum)-1] & 0x0f
	binCode := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)
	return fmt.Sprintf("%0*d", totpDigits, binCode%1000000), nil
}

// VerifyCode checks a candidate code against the secret, tolerating one
// step of clock skew in either direction. Codes are fixed-width digit
// strings; anything that is not exactly six ASCII digits is rejected
// before any computation.
func VerifyCode(secret, code string, now time.Time) bool {
	if !validCode(code) {
		return false
	}
	for i := -totpWindow; i <= totpWindow; i++ {
		at := now.Add(time.Duration(i*totpPeriod) * time.Second)
		expected, err := CodeAt(secret, at)
		if err != nil {
			return false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

func validCode(code string) bool {
	if len(code) != totpDigits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ProvisioningURL builds the otpauth:// URI encoded into setup QR codes.
func ProvisioningURL(secret, issuer, account string) string {
	label := url.PathEscape(issuer + ":" + account)
	values := url.Values{}
	values.Set("secret", secret)
	values.Set("issuer", issuer)
	values.Set("algorithm", "SHA1")
	values.Set("digits", strconv.Itoa(totpDigits))
	values.Set("period", strconv.Itoa(totpPeriod))
	return "otpauth://totp/" + label + "?" + values.Encode()
}
