package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mknight/gatehouse/internal/config"
	"github.com/mknight/gatehouse/internal/util"
	"github.com/mknight/gatehouse/otp"
	"github.com/mknight/gatehouse/storage"
)

// secondFactorMethod tags how a verify attempt satisfied the second
// factor.
type secondFactorMethod string

const (
	MethodTOTP     secondFactorMethod = "totp"
	MethodRecovery secondFactorMethod = "recovery"
)

const totpIssuer = "gatehouse"

// AdminLogin checks the primary credential and, on success, issues the
// short-lived second-factor challenge cookie. No session exists yet.
func (a *API) AdminLogin(w http.ResponseWriter, r *http.Request) {
	cfg := a.snapshot()

	res := a.limiter.Check("admin-login:"+hashClientIP(r), cfg.LoginRate.Limit, cfg.LoginRate.Window)
	if !res.Allowed {
		a.audit.logFailure(AuditLoginRateLimited, r, "window exhausted")
		writeRateLimited(w, res.ResetAt.Sub(a.now()))
		return
	}

	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	// The password hash is always verified, even for a wrong username, so
	// the two failure causes are indistinguishable by timing.
	usernameOK := constantTimeEqual(req.Username, cfg.AdminUsername)
	passwordOK, err := cfg.VerifyAdminPassword(req.Password)
	if err != nil {
		a.writeInternalError(w, "verifying password", err)
		return
	}
	if !usernameOK || !passwordOK {
		a.audit.logFailure(AuditLoginFailure, r, "bad credentials")
		writeUnauthorized(w)
		return
	}

	secret, err := cfg.SessionSecret()
	if err != nil {
		a.writeInternalError(w, "reading session secret", err)
		return
	}
	challenge, err := mintLoginChallenge(secret, cfg.AdminUsername, a.now())
	if err != nil {
		a.writeInternalError(w, "issuing login challenge", err)
		return
	}
	writeSessionCookie(w, r, challengeCookieName, challenge, a.now().Add(challengeTTL))

	a.audit.logEvent(AuditLoginSuccess, r, cfg.AdminUsername)
	writeJSON(w, http.StatusOK, loginResponse{Status: "second_factor_required"})
}

// AdminVerify consumes the login challenge and checks the second factor:
// a current TOTP code or an unused recovery code. Success creates the
// admin session and its CSRF token; the challenge cookie is cleared on
// every attempt, pass or fail.
func (a *API) AdminVerify(w http.ResponseWriter, r *http.Request) {
	cfg := a.snapshot()

	res := a.limiter.Check("admin-verify:"+hashClientIP(r), cfg.VerifyRate.Limit, cfg.VerifyRate.Window)
	if !res.Allowed {
		a.audit.logFailure(AuditVerifyRateLimited, r, "window exhausted")
		writeRateLimited(w, res.ResetAt.Sub(a.now()))
		return
	}

	sessionSecret, err := cfg.SessionSecret()
	if err != nil {
		a.writeInternalError(w, "reading session secret", err)
		return
	}

	challengeVal := ""
	if c, err := r.Cookie(challengeCookieName); err == nil {
		challengeVal = c.Value
	}
	clearCookie(w, r, challengeCookieName)

	username, ok := readLoginChallenge(sessionSecret, challengeVal, a.now())
	if !ok {
		a.audit.logFailure(AuditVerifyFailure, r, "missing or expired challenge")
		writeUnauthorized(w)
		return
	}

	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	method, err := a.verifySecondFactor(r.Context(), cfg, sessionSecret, req.Code)
	if err != nil {
		a.writeInternalError(w, "verifying second factor", err)
		return
	}
	if method == "" {
		a.audit.logFailure(AuditVerifyFailure, r, "invalid code",
			slog.String("subject", username))
		writeUnauthorized(w)
		return
	}

	id, err := util.RandomToken(util.SessionTokenBytes)
	if err != nil {
		a.writeInternalError(w, "generating session id", err)
		return
	}
	now := a.now()
	sess := storage.Session{
		ID:         id,
		OwnerID:    username,
		CreatedAt:  now,
		ExpiresAt:  now.Add(cfg.AdminSessionTTL),
		LastSeenAt: now,
		IPHash:     hashClientIP(r),
		UserAgent:  r.UserAgent(),
	}
	if err := a.stores.AdminSessions.Create(r.Context(), sess); err != nil {
		a.writeInternalError(w, "creating session", err)
		return
	}

	csrfSecret, err := cfg.CSRFSecret()
	if err != nil {
		a.writeInternalError(w, "reading csrf secret", err)
		return
	}
	csrfToken, err := mintCSRFToken(csrfSecret, id)
	if err != nil {
		a.writeInternalError(w, "issuing csrf token", err)
		return
	}

	writeSessionCookie(w, r, sessionCookieName, id, sess.ExpiresAt)
	writeCSRFCookie(w, r, csrfToken, sess.ExpiresAt)

	a.audit.logEvent(AuditVerifySuccess, r, username, slog.String("method", string(method)))
	writeJSON(w, http.StatusOK, verifyResponse{Authenticated: true, Method: string(method)})
}

// verifySecondFactor returns the method that satisfied the code, or ""
// when nothing did. Recovery codes are single-use: a match is persisted
// as consumed before the attempt succeeds.
func (a *API) verifySecondFactor(ctx context.Context, cfg *config.Snapshot, sessionSecret, code string) (secondFactorMethod, error) {
	totpSecret, err := cfg.TOTPSecret()
	if err != nil {
		return "", err
	}
	if otp.VerifyCode(totpSecret, code, a.now()) {
		return MethodTOTP, nil
	}

	hash, ok := otp.MatchRecoveryCode(cfg.RecoveryCodeHashes, code, sessionSecret)
	if !ok {
		return "", nil
	}
	used, err := a.stores.RecoveryCodes.IsUsed(ctx, hash)
	if err != nil {
		return "", err
	}
	if used {
		return "", nil
	}
	if err := a.stores.RecoveryCodes.MarkUsed(ctx, hash); err != nil {
		return "", err
	}
	return MethodRecovery, nil
}

// AdminLogout deletes the session and clears its cookies.
func (a *API) AdminLogout(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	if err := a.stores.AdminSessions.Delete(r.Context(), p.SessionID); err != nil {
		a.writeInternalError(w, "deleting session", err)
		return
	}
	clearCookie(w, r, sessionCookieName)
	clearCookie(w, r, csrfCookieName)

	a.audit.logEvent(AuditLogout, r, p.OwnerID)
	writeJSON(w, http.StatusOK, statusResponse{Status: "logged_out"})
}

// AdminSessionInfo reports the authenticated principal and session expiry.
func (a *API) AdminSessionInfo(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	sess, err := a.stores.AdminSessions.Get(r.Context(), p.SessionID, false)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeUnauthorized(w)
			return
		}
		a.writeInternalError(w, "reading session", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionInfoResponse{
		Authenticated: true,
		Subject:       sess.OwnerID,
		Admin:         true,
		ExpiresAt:     sess.ExpiresAt,
	})
}

// TOTPSetup returns the otpauth:// provisioning URI for enrolling an
// authenticator app. Session-gated: the secret is only shown to an
// already-authenticated admin.
func (a *API) TOTPSetup(w http.ResponseWriter, r *http.Request) {
	cfg := a.snapshot()
	secret, err := cfg.TOTPSecret()
	if err != nil {
		a.writeInternalError(w, "reading totp secret", err)
		return
	}
	writeJSON(w, http.StatusOK, totpSetupResponse{
		ProvisioningURL: otp.ProvisioningURL(secret, totpIssuer, cfg.AdminUsername),
	})
}

// constantTimeEqual compares two strings without leaking length or
// content through timing. Inputs are hashed first so unequal lengths
// still take the same path.
func constantTimeEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
