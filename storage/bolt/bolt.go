// Package bolt provides an embedded BBolt backend for deployments that
// want a single data file without a relational database.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/mknight/gatehouse/storage"
)

var (
	bucketAdminSessions     = []byte("admin_sessions")
	bucketGuestbookSessions = []byte("guestbook_sessions")
	bucketThreads           = []byte("guestbook_threads")
	bucketThreadUsernames   = []byte("guestbook_thread_usernames")
	bucketUsedCodes         = []byte("used_recovery_codes")
)

// Storage wraps a BBolt database and exposes the per-entity stores.
type Storage struct {
	db *bbolt.DB
}

// Open opens (or creates) the database file at path and ensures all
// buckets exist.
func Open(path string) (*Storage, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketAdminSessions,
			bucketGuestbookSessions,
			bucketThreads,
			bucketThreadUsernames,
			bucketUsedCodes,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) AdminSessions() *SessionStore {
	return &SessionStore{db: s.db, bucket: bucketAdminSessions}
}

func (s *Storage) GuestbookSessions() *SessionStore {
	return &SessionStore{db: s.db, bucket: bucketGuestbookSessions}
}

func (s *Storage) Threads() *ThreadStore {
	return &ThreadStore{db: s.db}
}

func (s *Storage) RecoveryCodes() *RecoveryCodeStore {
	return &RecoveryCodeStore{db: s.db}
}

// SessionStore implements storage.SessionStore over one bucket.
type SessionStore struct {
	db     *bbolt.DB
	bucket []byte
}

var _ storage.SessionStore = (*SessionStore)(nil)

func (st *SessionStore) Create(_ context.Context, sess storage.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	return st.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(st.bucket).Put([]byte(sess.ID), data)
	})
}

func (st *SessionStore) Get(_ context.Context, id string, touch bool) (*storage.Session, error) {
	var sess storage.Session
	err := st.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(st.bucket)
		data := b.Get([]byte(id))
		if data == nil {
			return storage.ErrNotFound
		}
		if err := json.Unmarshal(data, &sess); err != nil {
			// Corrupt entry, remove it.
			_ = b.Delete([]byte(id))
			return storage.ErrNotFound
		}
		if sess.Expired(time.Now()) {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
			return storage.ErrNotFound
		}
		if touch {
			sess.LastSeenAt = time.Now().UTC()
			updated, err := json.Marshal(sess)
			if err != nil {
				return err
			}
			return b.Put([]byte(id), updated)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (st *SessionStore) Delete(_ context.Context, id string) error {
	return st.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(st.bucket).Delete([]byte(id))
	})
}

func (st *SessionStore) DeleteExpired(_ context.Context) (int, error) {
	n := 0
	err := st.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(st.bucket)
		now := time.Now()
		var stale [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var sess storage.Session
			if err := json.Unmarshal(v, &sess); err != nil || sess.Expired(now) {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ThreadStore implements storage.ThreadStore. A username index bucket maps
// usernames to thread ids for uniqueness and lookup.
type ThreadStore struct {
	db *bbolt.DB
}

var _ storage.ThreadStore = (*ThreadStore)(nil)

func (ts *ThreadStore) Create(_ context.Context, t storage.Thread) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding thread: %w", err)
	}
	return ts.db.Update(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketThreadUsernames)
		if idx.Get([]byte(t.Username)) != nil {
			return storage.ErrUsernameTaken
		}
		if err := tx.Bucket(bucketThreads).Put([]byte(t.ID), data); err != nil {
			return err
		}
		return idx.Put([]byte(t.Username), []byte(t.ID))
	})
}

func (ts *ThreadStore) Get(_ context.Context, id string) (*storage.Thread, error) {
	var t storage.Thread
	err := ts.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketThreads).Get([]byte(id))
		if data == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (ts *ThreadStore) GetByUsername(ctx context.Context, username string) (*storage.Thread, error) {
	var id []byte
	err := ts.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketThreadUsernames).Get([]byte(username))
		if v == nil {
			return storage.ErrNotFound
		}
		id = make([]byte, len(v))
		copy(id, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ts.Get(ctx, string(id))
}

// Delete removes a thread, its username index entry, and every guestbook
// session bound to it. There is no foreign key here, so the cascade is
// explicit.
func (ts *ThreadStore) Delete(_ context.Context, id string) error {
	return ts.db.Update(func(tx *bbolt.Tx) error {
		threads := tx.Bucket(bucketThreads)
		data := threads.Get([]byte(id))
		if data == nil {
			return storage.ErrNotFound
		}
		var t storage.Thread
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		if err := threads.Delete([]byte(id)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketThreadUsernames).Delete([]byte(t.Username)); err != nil {
			return err
		}

		sessions := tx.Bucket(bucketGuestbookSessions)
		var stale [][]byte
		c := sessions.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var sess storage.Session
			if err := json.Unmarshal(v, &sess); err != nil || sess.OwnerID == id {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
		}
		for _, k := range stale {
			if err := sessions.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecoveryCodeStore implements storage.RecoveryCodeStore.
type RecoveryCodeStore struct {
	db *bbolt.DB
}

var _ storage.RecoveryCodeStore = (*RecoveryCodeStore)(nil)

func (rs *RecoveryCodeStore) MarkUsed(_ context.Context, hash string) error {
	return rs.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsedCodes)
		if b.Get([]byte(hash)) != nil {
			return nil
		}
		return b.Put([]byte(hash), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
}

func (rs *RecoveryCodeStore) IsUsed(_ context.Context, hash string) (bool, error) {
	used := false
	err := rs.db.View(func(tx *bbolt.Tx) error {
		used = tx.Bucket(bucketUsedCodes).Get([]byte(hash)) != nil
		return nil
	})
	return used, err
}
