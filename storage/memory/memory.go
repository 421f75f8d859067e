// Package memory provides a thread-safe in-memory backend, used in tests
// and throwaway deployments. All state is lost on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mknight/gatehouse/storage"
)

// Storage holds all in-memory state behind one lock.
type Storage struct {
	mu                sync.RWMutex
	adminSessions     map[string]storage.Session
	guestbookSessions map[string]storage.Session
	threads           map[string]storage.Thread
	threadsByUsername map[string]string
	usedCodes         map[string]time.Time
}

func New() *Storage {
	return &Storage{
		adminSessions:     make(map[string]storage.Session),
		guestbookSessions: make(map[string]storage.Session),
		threads:           make(map[string]storage.Thread),
		threadsByUsername: make(map[string]string),
		usedCodes:         make(map[string]time.Time),
	}
}

func (s *Storage) AdminSessions() *SessionStore {
	return &SessionStore{parent: s, sessions: s.adminSessions}
}

func (s *Storage) GuestbookSessions() *SessionStore {
	return &SessionStore{parent: s, sessions: s.guestbookSessions}
}

func (s *Storage) Threads() *ThreadStore {
	return &ThreadStore{parent: s}
}

func (s *Storage) RecoveryCodes() *RecoveryCodeStore {
	return &RecoveryCodeStore{parent: s}
}

// SessionStore implements storage.SessionStore over one of the two maps.
type SessionStore struct {
	parent   *Storage
	sessions map[string]storage.Session
}

var _ storage.SessionStore = (*SessionStore)(nil)

func (st *SessionStore) Create(_ context.Context, sess storage.Session) error {
	st.parent.mu.Lock()
	defer st.parent.mu.Unlock()
	st.sessions[sess.ID] = sess
	return nil
}

func (st *SessionStore) Get(_ context.Context, id string, touch bool) (*storage.Session, error) {
	st.parent.mu.Lock()
	defer st.parent.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if sess.Expired(time.Now()) {
		delete(st.sessions, id)
		return nil, storage.ErrNotFound
	}
	if touch {
		sess.LastSeenAt = time.Now().UTC()
		st.sessions[id] = sess
	}
	out := sess
	return &out, nil
}

func (st *SessionStore) Delete(_ context.Context, id string) error {
	st.parent.mu.Lock()
	defer st.parent.mu.Unlock()
	delete(st.sessions, id)
	return nil
}

func (st *SessionStore) DeleteExpired(_ context.Context) (int, error) {
	st.parent.mu.Lock()
	defer st.parent.mu.Unlock()

	now := time.Now()
	n := 0
	for id, sess := range st.sessions {
		if sess.Expired(now) {
			delete(st.sessions, id)
			n++
		}
	}
	return n, nil
}

// ThreadStore implements storage.ThreadStore.
type ThreadStore struct {
	parent *Storage
}

var _ storage.ThreadStore = (*ThreadStore)(nil)

func (ts *ThreadStore) Create(_ context.Context, t storage.Thread) error {
	ts.parent.mu.Lock()
	defer ts.parent.mu.Unlock()

	if _, taken := ts.parent.threadsByUsername[t.Username]; taken {
		return storage.ErrUsernameTaken
	}
	ts.parent.threads[t.ID] = t
	ts.parent.threadsByUsername[t.Username] = t.ID
	return nil
}

func (ts *ThreadStore) Get(_ context.Context, id string) (*storage.Thread, error) {
	ts.parent.mu.RLock()
	defer ts.parent.mu.RUnlock()

	t, ok := ts.parent.threads[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := t
	return &out, nil
}

func (ts *ThreadStore) GetByUsername(_ context.Context, username string) (*storage.Thread, error) {
	ts.parent.mu.RLock()
	defer ts.parent.mu.RUnlock()

	id, ok := ts.parent.threadsByUsername[username]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := ts.parent.threads[id]
	return &out, nil
}

func (ts *ThreadStore) Delete(_ context.Context, id string) error {
	ts.parent.mu.Lock()
	defer ts.parent.mu.Unlock()

	t, ok := ts.parent.threads[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(ts.parent.threads, id)
	delete(ts.parent.threadsByUsername, t.Username)

	// Cascade: drop every session bound to the thread.
	for sid, sess := range ts.parent.guestbookSessions {
		if sess.OwnerID == id {
			delete(ts.parent.guestbookSessions, sid)
		}
	}
	return nil
}

// RecoveryCodeStore implements storage.RecoveryCodeStore.
type RecoveryCodeStore struct {
	parent *Storage
}

var _ storage.RecoveryCodeStore = (*RecoveryCodeStore)(nil)

func (rs *RecoveryCodeStore) MarkUsed(_ context.Context, hash string) error {
	rs.parent.mu.Lock()
	defer rs.parent.mu.Unlock()
	if _, ok := rs.parent.usedCodes[hash]; !ok {
		rs.parent.usedCodes[hash] = time.Now().UTC()
	}
	return nil
}

func (rs *RecoveryCodeStore) IsUsed(_ context.Context, hash string) (bool, error) {
	rs.parent.mu.RLock()
	defer rs.parent.mu.RUnlock()
	_, ok := rs.parent.usedCodes[hash]
	return ok, nil
}
