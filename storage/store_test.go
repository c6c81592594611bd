package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/minus-twelve/csrfguard/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionStore interface {
	Save(ctx context.Context, token string, session types.SessionData) error
	Get(ctx context.Context, token string) (types.SessionData, error)
	Delete(ctx context.Context, token string) error
	GetAllByUserID(ctx context.Context, userID string) ([]string, error)
	SwapCSRFToken(ctx context.Context, token, expected, next string) error
	Touch(ctx context.Context, token string) error
}

func newSession(userID, csrf string) types.SessionData {
	now := time.Now()
	return types.SessionData{
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		IP:           "10.0.0.1",
		CSRFToken:    csrf,
	}
}

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewRedisStore(types.RedisConfig{Addr: mr.Addr(), TTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func stores(t *testing.T) map[string]sessionStore {
	return map[string]sessionStore{
		"memory": NewMemoryStore(100),
		"redis":  newRedisStore(t),
	}
}

func TestStore_SaveGetDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, "tok-1", newSession("alice", "csrf-a")))

			got, err := store.Get(ctx, "tok-1")
			require.NoError(t, err)
			assert.Equal(t, "alice", got.UserID)
			assert.Equal(t, "csrf-a", got.CSRFToken)

			require.NoError(t, store.Delete(ctx, "tok-1"))
			_, err = store.Get(ctx, "tok-1")
			assert.ErrorIs(t, err, types.ErrSessionNotFound)

			assert.NoError(t, store.Delete(ctx, "tok-1"), "delete is idempotent")
		})
	}
}

func TestStore_GetAllByUserID(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, "a1", newSession("alice", "x")))
			require.NoError(t, store.Save(ctx, "a2", newSession("alice", "y")))
			require.NoError(t, store.Save(ctx, "b1", newSession("bob", "z")))

			tokens, err := store.GetAllByUserID(ctx, "alice")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a1", "a2"}, tokens)

			tokens, err = store.GetAllByUserID(ctx, "carol")
			require.NoError(t, err)
			assert.Empty(t, tokens)
		})
	}
}

func TestStore_SwapCSRFToken(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, "s", newSession("alice", "old")))

			require.NoError(t, store.SwapCSRFToken(ctx, "s", "old", "new"))
			got, err := store.Get(ctx, "s")
			require.NoError(t, err)
			assert.Equal(t, "new", got.CSRFToken)

			err = store.SwapCSRFToken(ctx, "s", "old", "newer")
			assert.ErrorIs(t, err, types.ErrCSRFTokenStale)

			err = store.SwapCSRFToken(ctx, "missing", "old", "new")
			assert.ErrorIs(t, err, types.ErrSessionNotFound)
		})
	}
}

func TestStore_Touch(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, "s", newSession("alice", "x")))

			assert.NoError(t, store.Touch(ctx, "s"))
			assert.ErrorIs(t, store.Touch(ctx, "missing"), types.ErrSessionNotFound)
		})
	}
}

func TestMemoryStore_TouchKeepsSessionAlive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	idle := newSession("alice", "x")
	idle.LastActivity = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Save(ctx, "active", idle))
	require.NoError(t, store.Touch(ctx, "active"))

	require.NoError(t, store.Cleanup(ctx, time.Hour))
	_, err := store.Get(ctx, "active")
	assert.NoError(t, err)
}

func TestRedisStore_TouchExtendsTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(types.RedisConfig{Addr: mr.Addr(), Prefix: "sess:", TTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Save(ctx, "s", newSession("alice", "x")))
	mr.FastForward(40 * time.Minute)
	assert.Equal(t, 20*time.Minute, mr.TTL("sess:session:s"))

	require.NoError(t, store.Touch(ctx, "s"))
	assert.Equal(t, time.Hour, mr.TTL("sess:session:s"))
	assert.Equal(t, time.Hour, mr.TTL("sess:user_sessions:alice"))
}

func TestMemoryStore_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2)

	old := newSession("alice", "x")
	old.LastActivity = time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(ctx, "old", old))
	require.NoError(t, store.Save(ctx, "mid", newSession("bob", "y")))
	require.NoError(t, store.Save(ctx, "new", newSession("carol", "z")))

	assert.Equal(t, 2, store.Len())
	_, err := store.Get(ctx, "old")
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
}

func TestMemoryStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	stale := newSession("alice", "x")
	stale.LastActivity = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Save(ctx, "stale", stale))
	require.NoError(t, store.Save(ctx, "fresh", newSession("alice", "y")))

	require.NoError(t, store.Cleanup(ctx, time.Hour))

	_, err := store.Get(ctx, "stale")
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
	_, err = store.Get(ctx, "fresh")
	assert.NoError(t, err)

	tokens, err := store.GetAllByUserID(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, tokens)
}

func TestRedisStore_PingFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisStore(types.RedisConfig{Addr: addr})
	assert.Error(t, err)
}
