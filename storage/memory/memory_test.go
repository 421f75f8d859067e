package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mknight/gatehouse/storage"
)

func testSession(id, owner string, ttl time.Duration) storage.Session {
	now := time.Now().UTC()
	return storage.Session{
		ID:         id,
		OwnerID:    owner,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastSeenAt: now,
	}
}

func TestSessionStore_Lifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	store := s.AdminSessions()

	require.NoError(t, store.Create(ctx, testSession("sess-1", "admin", time.Hour)))

	got, err := store.Get(ctx, "sess-1", true)
	require.NoError(t, err)
	assert.Equal(t, "admin", got.OwnerID)

	require.NoError(t, store.Delete(ctx, "sess-1"))
	_, err = store.Get(ctx, "sess-1", false)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSessionStore_ExpiryAndSweep(t *testing.T) {
	s := New()
	ctx := context.Background()
	store := s.GuestbookSessions()

	require.NoError(t, store.Create(ctx, testSession("stale", "thread-1", -time.Second)))
	require.NoError(t, store.Create(ctx, testSession("live", "thread-1", time.Hour)))

	_, err := store.Get(ctx, "stale", false)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	n, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "lazy read already removed the expired row")

	_, err = store.Get(ctx, "live", false)
	assert.NoError(t, err)
}

func TestThreadStore_CascadeDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Threads().Create(ctx, storage.Thread{ID: "thread-1", Username: "visitor", PasswordHash: "x"}))
	err := s.Threads().Create(ctx, storage.Thread{ID: "thread-2", Username: "visitor", PasswordHash: "x"})
	assert.ErrorIs(t, err, storage.ErrUsernameTaken)

	require.NoError(t, s.GuestbookSessions().Create(ctx, testSession("gs-1", "thread-1", time.Hour)))
	require.NoError(t, s.Threads().Delete(ctx, "thread-1"))

	_, err = s.GuestbookSessions().Get(ctx, "gs-1", false)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.Threads().GetByUsername(ctx, "visitor")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecoveryCodeStore(t *testing.T) {
	s := New()
	ctx := context.Background()

	used, err := s.RecoveryCodes().IsUsed(ctx, "h")
	require.NoError(t, err)
	assert.False(t, used)

	require.NoError(t, s.RecoveryCodes().MarkUsed(ctx, "h"))
	used, err = s.RecoveryCodes().IsUsed(ctx, "h")
	require.NoError(t, err)
	assert.True(t, used)
}
