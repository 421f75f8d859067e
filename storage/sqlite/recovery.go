package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mknight/gatehouse/storage"
)

// RecoveryCodeStore implements storage.RecoveryCodeStore.
type RecoveryCodeStore struct {
	db *sql.DB
}

var _ storage.RecoveryCodeStore = (*RecoveryCodeStore)(nil)

func (s *Storage) RecoveryCodes() *RecoveryCodeStore {
	return &RecoveryCodeStore{db: s.db}
}

func (rs *RecoveryCodeStore) MarkUsed(ctx context.Context, hash string) error {
	query := `INSERT OR IGNORE INTO used_recovery_codes (hash, used_at) VALUES (?, ?)`
	if _, err := rs.db.ExecContext(ctx, query, hash, time.Now().UTC()); err != nil {
		return fmt.Errorf("marking recovery code used: %w", err)
	}
	return nil
}

func (rs *RecoveryCodeStore) IsUsed(ctx context.Context, hash string) (bool, error) {
	var found string
	err := rs.db.QueryRowContext(ctx, `SELECT hash FROM used_recovery_codes WHERE hash = ?`, hash).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checking recovery code: %w", err)
	}
	return true, nil
}
