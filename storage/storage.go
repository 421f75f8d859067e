// Package storage defines the typed persistence contracts for sessions,
// guestbook threads, and consumed recovery codes, with sqlite, bbolt, and
// in-memory implementations in subpackages.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested row does not exist or has
	// already expired.
	ErrNotFound = errors.New("not found")
	// ErrUsernameTaken is returned when a guestbook signup collides with
	// an existing thread username.
	ErrUsernameTaken = errors.New("username already taken")
)

// Session is one authenticated session row. OwnerID is the admin username
// for admin sessions and the thread id for guestbook sessions. ExpiresAt is
// fixed at creation; LastSeenAt is bookkeeping only and never extends the
// session.
type Session struct {
	ID         string
	OwnerID    string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastSeenAt time.Time
	IPHash     string
	UserAgent  string
}

// Expired reports whether the session is past its fixed expiry.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionStore persists sessions. Admin and guestbook sessions use two
// independent instances that share the implementation but never rows.
type SessionStore interface {
	// Create inserts a new session row.
	Create(ctx context.Context, s Session) error
	// Get returns a live session by id. Expired rows are deleted on read
	// and reported as ErrNotFound. With touch set, LastSeenAt is updated.
	Get(ctx context.Context, id string, touch bool) (*Session, error)
	// Delete removes a session. Deleting an absent session is not an error.
	Delete(ctx context.Context, id string) error
	// DeleteExpired sweeps all expired rows and returns how many were removed.
	DeleteExpired(ctx context.Context) (int, error)
}

// Thread is a visitor-owned guestbook conversation.
type Thread struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// ThreadStore persists guestbook threads. Deleting a thread cascades to its
// sessions.
type ThreadStore interface {
	Create(ctx context.Context, t Thread) error
	Get(ctx context.Context, id string) (*Thread, error)
	GetByUsername(ctx context.Context, username string) (*Thread, error)
	Delete(ctx context.Context, id string) error
}

// RecoveryCodeStore records which recovery-code hashes have been consumed,
// enforcing single use across restarts. Configuration stays immutable; only
// the used set lives here.
type RecoveryCodeStore interface {
	MarkUsed(ctx context.Context, hash string) error
	IsUsed(ctx context.Context, hash string) (bool, error)
}
