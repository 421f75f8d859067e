package auth

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess           AuditEvent = "login_success"
	AuditLoginFailure           AuditEvent = "login_failure"
	AuditLoginRateLimited       AuditEvent = "login_rate_limited"
	AuditVerifySuccess          AuditEvent = "verify_success"
	AuditVerifyFailure          AuditEvent = "verify_failure"
	AuditVerifyRateLimited      AuditEvent = "verify_rate_limited"
	AuditLogout                 AuditEvent = "logout"
	AuditCSRFFailure            AuditEvent = "csrf_failure"
	AuditGuestbookSignup        AuditEvent = "guestbook_signup"
	AuditSignupRateLimited      AuditEvent = "guestbook_signup_rate_limited"
	AuditGuestbookLogin         AuditEvent = "guestbook_login"
	AuditGuestbookLoginFailure  AuditEvent = "guestbook_login_failure"
	AuditGuestbookLogout        AuditEvent = "guestbook_logout"
	AuditThreadDeleted          AuditEvent = "thread_deleted"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// Entries carry the client IP hash, never the raw address, and never any
// credential material.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("ip_hash", hashClientIP(r)),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)

	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logEvent is a convenience for events attributed to a known principal.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, subject string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("subject", subject),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a rejected attempt. The reason is for operators; the
// HTTP response stays uniform.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
