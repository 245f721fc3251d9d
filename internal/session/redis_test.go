package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc/veridoc/internal/log"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_SaveGet(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client, time.Hour, log.NewNop())
	ctx := context.Background()

	sess := New("s1")
	sess.Append(RoleUser, "question", Config{})
	sess.Append(RoleAssistant, "answer", Config{})
	sess.AddDocuments("a.pdf")

	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "question", got.Messages[0].Content)
	assert.Equal(t, RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, []string{"a.pdf"}, got.DocumentsUsed)
}

func TestRedisStore_GetMissing(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client, time.Hour, log.NewNop())

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Delete(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client, time.Hour, log.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, New("s1")))
	require.NoError(t, store.Delete(ctx, "s1"))

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is not an error.
	assert.NoError(t, store.Delete(ctx, "s1"))

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRedisStore_List(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client, time.Hour, log.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, New("s1")))
	require.NoError(t, store.Save(ctx, New("s2")))

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestRedisStore_ListPrunesExpired(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, time.Minute, log.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, New("s1")))
	require.NoError(t, store.Save(ctx, New("s2")))

	// Expire one session value; its index entry becomes stale.
	mr.FastForward(2 * time.Minute)
	require.NoError(t, store.Save(ctx, New("s2")))

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s2", sessions[0].ID)

	// Stale index entry was removed.
	ids, err := client.SMembers(ctx, sessionIndexKey).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, ids)
}

func TestRedisStore_TTL(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client, time.Minute, log.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, New("s1")))

	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisLock_AcquireRelease(t *testing.T) {
	_, client := newTestRedis(t)
	lock := NewRedisLock(client)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "s1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second acquire while held fails.
	ok, err = lock.Acquire(ctx, "s1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx, "s1"))

	ok, err = lock.Acquire(ctx, "s1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_ReleaseRequiresOwnership(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	first := NewRedisLock(client)
	second := NewRedisLock(client)

	ok, err := first.Acquire(ctx, "s1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// A different owner cannot free the lock.
	require.NoError(t, second.Release(ctx, "s1"))

	ok, err = second.Acquire(ctx, "s1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lock should still be held by the first owner")
}

func TestRedisLock_ExpiresByTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	lock := NewRedisLock(client)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "s1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = lock.Acquire(ctx, "s1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock should be acquirable")
}
