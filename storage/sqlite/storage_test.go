package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mknight/gatehouse/storage"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSession(id, owner string, ttl time.Duration) storage.Session {
	now := time.Now().UTC()
	return storage.Session{
		ID:         id,
		OwnerID:    owner,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastSeenAt: now,
		IPHash:     "deadbeef",
		UserAgent:  "test-agent",
	}
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	store := s.AdminSessions()

	require.NoError(t, store.Create(ctx, testSession("sess-1", "admin", time.Hour)))

	got, err := store.Get(ctx, "sess-1", false)
	require.NoError(t, err)
	assert.Equal(t, "admin", got.OwnerID)
	assert.Equal(t, "deadbeef", got.IPHash)
	assert.Equal(t, "test-agent", got.UserAgent)
}

func TestSessionStore_GetMissing(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.AdminSessions().Get(context.Background(), "nope", false)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSessionStore_TouchUpdatesLastSeen(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	store := s.AdminSessions()

	sess := testSession("sess-1", "admin", time.Hour)
	sess.LastSeenAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.Create(ctx, sess))

	got, err := store.Get(ctx, "sess-1", true)
	require.NoError(t, err)
	assert.True(t, got.LastSeenAt.After(sess.LastSeenAt), "touch should refresh last_seen_at")

	// Touch never moves the fixed expiry.
	assert.WithinDuration(t, sess.ExpiresAt, got.ExpiresAt, time.Second)

	// Without touch, last_seen_at stays put.
	again, err := store.Get(ctx, "sess-1", false)
	require.NoError(t, err)
	assert.WithinDuration(t, got.LastSeenAt, again.LastSeenAt, time.Second)
}

func TestSessionStore_ExpiredSweptOnRead(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	store := s.AdminSessions()

	require.NoError(t, store.Create(ctx, testSession("stale", "admin", -time.Minute)))

	_, err := store.Get(ctx, "stale", false)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The lazy sweep removed the row, not just hid it.
	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM admin_sessions`).Scan(&count))
	assert.Zero(t, count)
}

func TestSessionStore_Delete(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	store := s.AdminSessions()

	require.NoError(t, store.Create(ctx, testSession("sess-1", "admin", time.Hour)))
	require.NoError(t, store.Delete(ctx, "sess-1"))
	_, err := store.Get(ctx, "sess-1", false)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting twice is fine.
	assert.NoError(t, store.Delete(ctx, "sess-1"))
}

func TestSessionStore_DeleteExpired(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	store := s.AdminSessions()

	require.NoError(t, store.Create(ctx, testSession("live", "admin", time.Hour)))
	require.NoError(t, store.Create(ctx, testSession("stale-1", "admin", -time.Minute)))
	require.NoError(t, store.Create(ctx, testSession("stale-2", "admin", -time.Hour)))

	n, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.Get(ctx, "live", false)
	assert.NoError(t, err)
}

func TestSessionStore_AdminAndGuestbookIsolated(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	thread := storage.Thread{ID: "thread-1", Username: "visitor", PasswordHash: "x", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.Threads().Create(ctx, thread))

	require.NoError(t, s.AdminSessions().Create(ctx, testSession("shared-id", "admin", time.Hour)))
	require.NoError(t, s.GuestbookSessions().Create(ctx, testSession("shared-id", "thread-1", time.Hour)))

	a, err := s.AdminSessions().Get(ctx, "shared-id", false)
	require.NoError(t, err)
	g, err := s.GuestbookSessions().Get(ctx, "shared-id", false)
	require.NoError(t, err)
	assert.Equal(t, "admin", a.OwnerID)
	assert.Equal(t, "thread-1", g.OwnerID)
}

func TestThreadStore_CreateAndLookup(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	thread := storage.Thread{ID: "thread-1", Username: "visitor", PasswordHash: "hash", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.Threads().Create(ctx, thread))

	byID, err := s.Threads().Get(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "visitor", byID.Username)

	byName, err := s.Threads().GetByUsername(ctx, "visitor")
	require.NoError(t, err)
	assert.Equal(t, "thread-1", byName.ID)
}

func TestThreadStore_UsernameUnique(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Threads().Create(ctx, storage.Thread{ID: "a", Username: "visitor", PasswordHash: "x", CreatedAt: time.Now().UTC()}))
	err := s.Threads().Create(ctx, storage.Thread{ID: "b", Username: "visitor", PasswordHash: "x", CreatedAt: time.Now().UTC()})
	assert.ErrorIs(t, err, storage.ErrUsernameTaken)
}

func TestThreadStore_DeleteCascadesSessions(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Threads().Create(ctx, storage.Thread{ID: "thread-1", Username: "visitor", PasswordHash: "x", CreatedAt: time.Now().UTC()}))
	require.NoError(t, s.Threads().Create(ctx, storage.Thread{ID: "thread-2", Username: "other", PasswordHash: "x", CreatedAt: time.Now().UTC()}))
	require.NoError(t, s.GuestbookSessions().Create(ctx, testSession("gs-1", "thread-1", time.Hour)))
	require.NoError(t, s.GuestbookSessions().Create(ctx, testSession("gs-2", "thread-1", time.Hour)))
	require.NoError(t, s.GuestbookSessions().Create(ctx, testSession("gs-other", "thread-2", time.Hour)))

	require.NoError(t, s.Threads().Delete(ctx, "thread-1"))

	_, err := s.Threads().Get(ctx, "thread-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GuestbookSessions().Get(ctx, "gs-1", false)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GuestbookSessions().Get(ctx, "gs-2", false)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Unrelated thread sessions survive.
	_, err = s.GuestbookSessions().Get(ctx, "gs-other", false)
	assert.NoError(t, err)
}

func TestThreadStore_DeleteMissing(t *testing.T) {
	s := newTestStorage(t)
	err := s.Threads().Delete(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecoveryCodeStore(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	store := s.RecoveryCodes()

	used, err := store.IsUsed(ctx, "hash-1")
	require.NoError(t, err)
	assert.False(t, used)

	require.NoError(t, store.MarkUsed(ctx, "hash-1"))
	used, err = store.IsUsed(ctx, "hash-1")
	require.NoError(t, err)
	assert.True(t, used)

	// Marking twice is idempotent.
	assert.NoError(t, store.MarkUsed(ctx, "hash-1"))
}
