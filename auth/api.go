// Package auth implements the authentication and session-security core:
// two-factor admin login, guestbook visitor identity, signed double-submit
// CSRF, and fixed-window rate limiting, exposed as a chi sub-router plus
// middleware for collaborating services.
package auth

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/mknight/gatehouse/internal/config"
	"github.com/mknight/gatehouse/storage"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Stores bundles the persistence dependencies. Admin and guestbook
// sessions are separate store instances and must never share rows.
type Stores struct {
	AdminSessions     storage.SessionStore
	GuestbookSessions storage.SessionStore
	Threads           storage.ThreadStore
	RecoveryCodes     storage.RecoveryCodeStore
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	cfg     atomic.Pointer[config.Snapshot]
	stores  Stores
	limiter *RateLimiter
	audit   *auditLogger
	logger  *slog.Logger
	now     func() time.Time
	alertFn AlertFunc
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit and error events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithClock overrides the time source. Tests use it to walk rate-limit
// windows and TOTP steps deterministically.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		a.now = now
	}
}

// WithAlertFunc installs the anomaly-detection callback.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// New creates a new API instance around an immutable configuration
// snapshot.
func New(cfg *config.Snapshot, stores Stores, opts ...Option) *API {
	a := &API{
		stores:  stores,
		limiter: NewRateLimiter(),
		now:     time.Now,
	}
	a.cfg.Store(cfg)

	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger)
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	a.limiter.now = a.now
	return a
}

// Reload swaps in a freshly loaded configuration snapshot. In-flight
// requests keep the snapshot they started with.
func (a *API) Reload(cfg *config.Snapshot) {
	a.cfg.Store(cfg)
	a.logger.Info("configuration reloaded")
}

func (a *API) snapshot() *config.Snapshot {
	return a.cfg.Load()
}

// Limiter exposes the rate limiter so the server can run its sweep loop.
func (a *API) Limiter() *RateLimiter {
	return a.limiter
}

// Router returns a chi.Router with all API routes mounted. The caller
// mounts it under /api/v1.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Post("/admin/login", a.AdminLogin)
	r.Post("/admin/verify", a.AdminVerify)
	r.With(a.RequireSessionWithCSRF).Post("/admin/logout", a.AdminLogout)
	r.With(a.RequireSession).Get("/admin/session", a.AdminSessionInfo)
	r.With(a.RequireSession).Get("/admin/totp-setup", a.TOTPSetup)

	r.Post("/guestbook/signup", a.GuestbookSignup)
	r.Post("/guestbook/login", a.GuestbookLogin)
	r.With(a.RequireGuestbookSession).Post("/guestbook/logout", a.GuestbookLogout)
	r.With(a.RequireGuestbookSession).Get("/guestbook/session", a.GuestbookSessionInfo)

	r.With(a.RequireSessionWithCSRF).Delete("/admin/guestbook/threads/{threadID}", a.AdminDeleteThread)

	return r
}
