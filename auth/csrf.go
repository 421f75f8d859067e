package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/mknight/gatehouse/internal/util"
)

const (
	csrfCookieName = "admin_csrf"
	// CSRFHeaderName is the request header collaborators must echo the
	// CSRF cookie value into on every mutating request.
	CSRFHeaderName = "X-CSRF-Token"

	csrfNonceBytes = 16
)

// csrfFailure is the diagnostic reason a double-submit check failed. It
// feeds logs only; the HTTP response is always the uniform CSRF_FAILED.
type csrfFailure string

const (
	csrfOK               csrfFailure = ""
	csrfMissing          csrfFailure = "missing"
	csrfMismatched       csrfFailure = "mismatched"
	csrfInvalidSignature csrfFailure = "invalid-signature"
)

// mintCSRFToken issues a token bound to one session: <nonce>.<sig> with
// sig = HMAC-SHA256(secret, sessionID + "." + nonce). Binding the
// signature to the session id means a token cannot be replayed against a
// different session, including one created after logout/login.
func mintCSRFToken(secret, sessionID string) (string, error) {
	nonce, err := util.RandomToken(csrfNonceBytes)
	if err != nil {
		return "", fmt.Errorf("generating csrf nonce: %w", err)
	}
	return nonce + "." + signCSRF(secret, sessionID, nonce), nil
}

func signCSRF(secret, sessionID, nonce string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(sessionID + "." + nonce))
	return util.B64URLEncode(mac.Sum(nil))
}

// verifyDoubleSubmitCSRF enforces the signed double-submit contract: the
// header and cookie tokens must both be present, byte-equal, and carry a
// signature that recomputes for this session id. A forged cross-origin
// POST can force the cookie to be sent but cannot read it to fill the
// header, and cannot forge the signature without the secret.
func verifyDoubleSubmitCSRF(secret, sessionID, headerToken, cookieToken string) csrfFailure {
	if headerToken == "" || cookieToken == "" {
		return csrfMissing
	}
	if subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookieToken)) != 1 {
		return csrfMismatched
	}

	nonce, sig, ok := strings.Cut(headerToken, ".")
	if !ok || nonce == "" || sig == "" {
		return csrfInvalidSignature
	}
	expected := signCSRF(secret, sessionID, nonce)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return csrfInvalidSignature
	}
	return csrfOK
}
