package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mknight/gatehouse/internal/util"
	"github.com/mknight/gatehouse/storage"
)

type contextKey int

const principalKey contextKey = iota

const (
	sessionCookieName          = "admin_session"
	guestbookSessionCookieName = "guestbook_session"
)

// Principal identifies the authenticated caller on the request context.
// For admin sessions OwnerID is the admin username; for guestbook
// sessions it is the thread id.
type Principal struct {
	SessionID string
	OwnerID   string
	Admin     bool
}

// PrincipalFromContext returns the authenticated principal, if any.
// Collaborating services use it behind RequireSession middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// RequireSession authenticates the admin session cookie and stores the
// principal on the request context. The read touches last_seen_at but
// never extends expiry.
func (a *API) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := a.adminPrincipal(r)
		if !ok {
			writeUnauthorized(w)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSessionWithCSRF is RequireSession plus the signed double-submit
// check. Every state-changing admin route goes through it.
func (a *API) RequireSessionWithCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := a.adminPrincipal(r)
		if !ok {
			writeUnauthorized(w)
			return
		}

		secret, err := a.snapshot().CSRFSecret()
		if err != nil {
			a.writeInternalError(w, "reading csrf secret", err)
			return
		}
		header := r.Header.Get(CSRFHeaderName)
		cookie := ""
		if c, err := r.Cookie(csrfCookieName); err == nil {
			cookie = c.Value
		}
		if reason := verifyDoubleSubmitCSRF(secret, p.SessionID, header, cookie); reason != csrfOK {
			a.audit.logFailure(AuditCSRFFailure, r, string(reason),
				slog.String("path", r.URL.Path))
			writeCSRFFailed(w)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireGuestbookSession authenticates the guestbook session cookie.
func (a *API) RequireGuestbookSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(guestbookSessionCookieName)
		if err != nil || cookie.Value == "" {
			writeUnauthorized(w)
			return
		}
		sess, err := a.stores.GuestbookSessions.Get(r.Context(), cookie.Value, true)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				a.writeInternalError(w, "reading guestbook session", err)
				return
			}
			writeUnauthorized(w)
			return
		}
		p := Principal{SessionID: sess.ID, OwnerID: sess.OwnerID}
		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) adminPrincipal(r *http.Request) (Principal, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return Principal{}, false
	}
	sess, err := a.stores.AdminSessions.Get(r.Context(), cookie.Value, true)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			a.logger.Error("reading admin session", slog.String("error", err.Error()))
		}
		return Principal{}, false
	}
	return Principal{SessionID: sess.ID, OwnerID: sess.OwnerID, Admin: true}, true
}

func writeSessionCookie(w http.ResponseWriter, r *http.Request, name, value string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

// writeCSRFCookie deliberately omits HttpOnly: the double-submit scheme
// requires client scripts to read the token and echo it in the header.
func writeCSRFCookie(w http.ResponseWriter, r *http.Request, value string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    value,
		Path:     "/",
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

func clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: name != csrfCookieName,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// hashClientIP gives a stable identifier for rate-limit keys and audit
// entries without retaining the raw address.
func hashClientIP(r *http.Request) string {
	sum := sha256.Sum256([]byte(clientIP(r)))
	return util.HexEncode(sum[:])
}
