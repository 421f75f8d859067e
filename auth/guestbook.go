package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mknight/gatehouse/internal/util"
	"github.com/mknight/gatehouse/storage"
)

const (
	minGuestbookUsernameLen = 3
	maxGuestbookUsernameLen = 32
	minGuestbookPasswordLen = 8
)

// GuestbookSignup creates a visitor thread and logs it in. Usernames are
// NFKD-normalized and lowercased so visually identical names collide
// instead of coexisting.
func (a *API) GuestbookSignup(w http.ResponseWriter, r *http.Request) {
	cfg := a.snapshot()

	res := a.limiter.Check("guestbook-signup:"+hashClientIP(r), cfg.SignupRate.Limit, cfg.SignupRate.Window)
	if !res.Allowed {
		a.audit.logFailure(AuditSignupRateLimited, r, "window exhausted")
		writeRateLimited(w, res.ResetAt.Sub(a.now()))
		return
	}

	var req guestbookSignupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	username, err := normalizeGuestbookUsername(req.Username)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, err.Error())
		return
	}
	if len(req.Password) < minGuestbookPasswordLen {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "password too short")
		return
	}

	hash, err := util.HashArgon2id(req.Password, util.DefaultArgon2idParams())
	if err != nil {
		a.writeInternalError(w, "hashing password", err)
		return
	}

	thread := storage.Thread{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    a.now(),
	}
	if err := a.stores.Threads.Create(r.Context(), thread); err != nil {
		if errors.Is(err, storage.ErrUsernameTaken) {
			writeError(w, http.StatusConflict, CodeInvalidInput, "username already taken")
			return
		}
		a.writeInternalError(w, "creating thread", err)
		return
	}

	if !a.startGuestbookSession(w, r, cfg.GuestbookSessionTTL, thread.ID) {
		return
	}
	a.audit.logEvent(AuditGuestbookSignup, r, thread.ID)
	writeJSON(w, http.StatusCreated, guestbookAuthResponse{ThreadID: thread.ID, Username: username})
}

// GuestbookLogin reopens an existing thread with its username/password.
func (a *API) GuestbookLogin(w http.ResponseWriter, r *http.Request) {
	cfg := a.snapshot()

	res := a.limiter.Check("guestbook-login:"+hashClientIP(r), cfg.LoginRate.Limit, cfg.LoginRate.Window)
	if !res.Allowed {
		a.audit.logFailure(AuditLoginRateLimited, r, "window exhausted",
			slog.String("surface", "guestbook"))
		writeRateLimited(w, res.ResetAt.Sub(a.now()))
		return
	}

	var req guestbookLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	username, err := normalizeGuestbookUsername(req.Username)
	if err != nil {
		a.audit.logFailure(AuditGuestbookLoginFailure, r, "invalid username")
		writeUnauthorized(w)
		return
	}

	thread, err := a.stores.Threads.GetByUsername(r.Context(), username)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			a.writeInternalError(w, "reading thread", err)
			return
		}
		// Burn a hash anyway so absent and present usernames cost the same.
		_, _ = util.VerifyArgon2id(req.Password, decoyArgon2idHash)
		a.audit.logFailure(AuditGuestbookLoginFailure, r, "unknown username")
		writeUnauthorized(w)
		return
	}

	ok, err := util.VerifyArgon2id(req.Password, thread.PasswordHash)
	if err != nil {
		a.writeInternalError(w, "verifying password", err)
		return
	}
	if !ok {
		a.audit.logFailure(AuditGuestbookLoginFailure, r, "bad password")
		writeUnauthorized(w)
		return
	}

	if !a.startGuestbookSession(w, r, cfg.GuestbookSessionTTL, thread.ID) {
		return
	}
	a.audit.logEvent(AuditGuestbookLogin, r, thread.ID)
	writeJSON(w, http.StatusOK, guestbookAuthResponse{ThreadID: thread.ID, Username: thread.Username})
}

// GuestbookLogout deletes the session and clears the cookie.
func (a *API) GuestbookLogout(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	if err := a.stores.GuestbookSessions.Delete(r.Context(), p.SessionID); err != nil {
		a.writeInternalError(w, "deleting session", err)
		return
	}
	clearCookie(w, r, guestbookSessionCookieName)

	a.audit.logEvent(AuditGuestbookLogout, r, p.OwnerID)
	writeJSON(w, http.StatusOK, statusResponse{Status: "logged_out"})
}

// GuestbookSessionInfo reports the thread behind the current session.
func (a *API) GuestbookSessionInfo(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	sess, err := a.stores.GuestbookSessions.Get(r.Context(), p.SessionID, false)
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
		ExpiresAt:     sess.ExpiresAt,
	})
}

// AdminDeleteThread is the moderation hook: removing a thread also
// invalidates every session that belonged to it.
func (a *API) AdminDeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if err := a.stores.Threads.Delete(r.Context(), threadID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "thread not found")
			return
		}
		a.writeInternalError(w, "deleting thread", err)
		return
	}

	p, _ := PrincipalFromContext(r.Context())
	a.audit.logEvent(AuditThreadDeleted, r, p.OwnerID, slog.String("thread_id", threadID))
	writeJSON(w, http.StatusOK, statusResponse{Status: "deleted"})
}

func (a *API) startGuestbookSession(w http.ResponseWriter, r *http.Request, ttl time.Duration, threadID string) bool {
	id, err := util.RandomToken(util.SessionTokenBytes)
	if err != nil {
		a.writeInternalError(w, "generating session id", err)
		return false
	}
	now := a.now()
	sess := storage.Session{
		ID:         id,
		OwnerID:    threadID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastSeenAt: now,
		IPHash:     hashClientIP(r),
		UserAgent:  r.UserAgent(),
	}
	if err := a.stores.GuestbookSessions.Create(r.Context(), sess); err != nil {
		a.writeInternalError(w, "creating session", err)
		return false
	}
	writeSessionCookie(w, r, guestbookSessionCookieName, id, sess.ExpiresAt)
	return true
}

func normalizeGuestbookUsername(raw string) (string, error) {
	username := strings.ToLower(strings.TrimSpace(util.Normalize(raw)))
	if len(username) < minGuestbookUsernameLen || len(username) > maxGuestbookUsernameLen {
		return "", errors.New("username must be 3-32 characters")
	}
	for _, r := range username {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' && r != '_' {
			return "", errors.New("username may contain lowercase letters, digits, '-' and '_'")
		}
	}
	return username, nil
}

// decoyArgon2idHash is a fixed hash of random material used to equalize
// login timing when the username does not exist.
const decoyArgon2idHash = "$argon2id$v=19$m=65536,t=1,p=4$" +
	"q83vASNFZ4mrze8BI0Vniw$G+uNhQJ1yJ1yOfcDqkY0nfc0Qhg6F0YmZ2mPq6KxTDg"
