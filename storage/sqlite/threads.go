package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mknight/gatehouse/storage"
)

// ThreadStore implements storage.ThreadStore.
type ThreadStore struct {
	db *sql.DB
}

var _ storage.ThreadStore = (*ThreadStore)(nil)

func (s *Storage) Threads() *ThreadStore {
	return &ThreadStore{db: s.db}
}

func (ts *ThreadStore) Create(ctx context.Context, t storage.Thread) error {
	query := `
		INSERT INTO guestbook_threads (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := ts.db.ExecContext(ctx, query, t.ID, t.Username, t.PasswordHash, t.CreatedAt.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return storage.ErrUsernameTaken
		}
		return fmt.Errorf("creating thread: %w", err)
	}
	return nil
}

func (ts *ThreadStore) Get(ctx context.Context, id string) (*storage.Thread, error) {
	return ts.get(ctx, `WHERE id = ?`, id)
}

func (ts *ThreadStore) GetByUsername(ctx context.Context, username string) (*storage.Thread, error) {
	return ts.get(ctx, `WHERE username = ?`, username)
}

func (ts *ThreadStore) get(ctx context.Context, where string, arg any) (*storage.Thread, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM guestbook_threads
	` + where

	var t storage.Thread
	err := ts.db.QueryRowContext(ctx, query, arg).Scan(&t.ID, &t.Username, &t.PasswordHash, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("getting thread: %w", err)
	}
	return &t, nil
}

// Delete removes a thread. The guestbook_sessions foreign key cascades, so
// every session bound to the thread dies with it.
func (ts *ThreadStore) Delete(ctx context.Context, id string) error {
	res, err := ts.db.ExecContext(ctx, `DELETE FROM guestbook_threads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
