package otp

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/mknight/gatehouse/internal/util"
)

const (
	// RecoveryCodeCount is the size of a generated batch.
	RecoveryCodeCount = 8
	// recoveryCodeByteLen yields 12 hex characters, grouped XXXX-XXXX-XXXX.
	recoveryCodeByteLen = 6
)

// NormalizeRecoveryCode canonicalizes user input: NFKD normalization,
// uppercase, and all whitespace and hyphens removed. "ab12-cd34" and
// " AB12CD34 " hash identically.
func NormalizeRecoveryCode(code string) string {
	normalized := util.Normalize(code)
	var sb strings.Builder
	for _, r := range normalized {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
			continue
		}
		sb.WriteRune(r)
	}
	return strings.ToUpper(sb.String())
}

// HashRecoveryCode computes hex(SHA-256(secret || ":" || normalized)).
// The secret salts the hash so stored digests are useless without it;
// that in turn makes plain string equality on the fixed-width hex output
// acceptable at comparison sites.
func HashRecoveryCode(code, secret string) string {
	sum := sha256.Sum256([]byte(secret + ":" + NormalizeRecoveryCode(code)))
	return util.HexEncode(sum[:])
}

// MatchRecoveryCode checks a candidate code against the stored hashes and
// returns the matching hash. The scan always visits every entry so the
// number of configured codes does not leak through timing.
func MatchRecoveryCode(hashes []string, code, secret string) (string, bool) {
	candidate := HashRecoveryCode(code, secret)
	matched := ""
	for _, h := range hashes {
		if h == candidate {
			matched = h
		}
	}
	return matched, matched != ""
}

// GenerateRecoveryCodes creates a batch of single-use recovery codes,
// returning the plaintext codes (shown to the operator once) and their
// salted hashes (stored in configuration).
func GenerateRecoveryCodes(count int, secret string) ([]string, []string, error) {
	plaintext := make([]string, count)
	hashed := make([]string, count)
	for i := 0; i < count; i++ {
		buf, err := util.RandomBytes(recoveryCodeByteLen)
		if err != nil {
			return nil, nil, fmt.Errorf("generating recovery code: %w", err)
		}
		hexStr := strings.ToUpper(util.HexEncode(buf))
		code := hexStr[:4] + "-" + hexStr[4:8] + "-" + hexStr[8:12]
		plaintext[i] = code
		hashed[i] = HashRecoveryCode(code, secret)
	}
	return plaintext, hashed, nil
}
