package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mknight/gatehouse/storage"
)

// SessionStore implements storage.SessionStore over one of the two session
// tables. The table name is a compile-time constant, never user input.
type SessionStore struct {
	db    *sql.DB
	table string
}

var _ storage.SessionStore = (*SessionStore)(nil)

// AdminSessions returns the store backed by the admin_sessions table.
func (s *Storage) AdminSessions() *SessionStore {
	return &SessionStore{db: s.db, table: "admin_sessions"}
}

// GuestbookSessions returns the store backed by the guestbook_sessions
// table. Rows are removed automatically when their thread is deleted.
func (s *Storage) GuestbookSessions() *SessionStore {
	return &SessionStore{db: s.db, table: "guestbook_sessions"}
}

func (st *SessionStore) Create(ctx context.Context, sess storage.Session) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, created_at, expires_at, last_seen_at, ip_hash, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, st.table)

	_, err := st.db.ExecContext(ctx, query,
		sess.ID,
		sess.OwnerID,
		sess.CreatedAt.UTC(),
		sess.ExpiresAt.UTC(),
		sess.LastSeenAt.UTC(),
		sess.IPHash,
		sess.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

func (st *SessionStore) Get(ctx context.Context, id string, touch bool) (*storage.Session, error) {
	query := fmt.Sprintf(`
		SELECT id, owner_id, created_at, expires_at, last_seen_at, ip_hash, user_agent
		FROM %s
		WHERE id = ?
	`, st.table)

	var sess storage.Session
	err := st.db.QueryRowContext(ctx, query, id).Scan(
		&sess.ID,
		&sess.OwnerID,
		&sess.CreatedAt,
		&sess.ExpiresAt,
		&sess.LastSeenAt,
		&sess.IPHash,
		&sess.UserAgent,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}

	// Lazy sweep: an expired row is deleted on read.
	if sess.Expired(time.Now()) {
		if err := st.Delete(ctx, id); err != nil {
			return nil, err
		}
		return nil, storage.ErrNotFound
	}

	if touch {
		now := time.Now().UTC()
		update := fmt.Sprintf(`UPDATE %s SET last_seen_at = ? WHERE id = ?`, st.table)
		if _, err := st.db.ExecContext(ctx, update, now, id); err != nil {
			return nil, fmt.Errorf("touching session: %w", err)
		}
		sess.LastSeenAt = now
	}
	return &sess, nil
}

func (st *SessionStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, st.table)
	if _, err := st.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (st *SessionStore) DeleteExpired(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= ?`, st.table)
	res, err := st.db.ExecContext(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweeping expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
