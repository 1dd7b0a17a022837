package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"go-watchlist/internal/model"
)

type sessionStore interface {
	Create(ctx context.Context, s model.RefreshSession) error
	Rotate(ctx context.Context, userID string, sessionID string, presentedHash string, nextHash string, expiresAt time.Time) (model.RefreshSession, error)
	Revoke(ctx context.Context, sessionID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

func newRedisStore(t *testing.T) *RedisSessionRepository {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisSessionRepository(rdb, "test")
}

func sessionStores(t *testing.T) map[string]sessionStore {
	return map[string]sessionStore{
		"memory": NewMemorySessionRepository(),
		"redis":  newRedisStore(t),
	}
}

func seedSession(t *testing.T, store sessionStore, id string, userID string, hash string) {
	t.Helper()

	now := time.Now().UTC()
	require.NoError(t, store.Create(context.Background(), model.RefreshSession{
		ID:        id,
		UserID:    userID,
		TokenHash: hash,
		CreatedAt: now,
		RotatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))
}

func TestSessionStoreRotation(t *testing.T) {
	t.Parallel()

	for name, store := range sessionStores(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedSession(t, store, "s1", "u1", "hash-1")

			rotated, err := store.Rotate(ctx, "u1", "s1", "hash-1", "hash-2", time.Now().Add(2*time.Hour))
			require.NoError(t, err)
			require.Equal(t, "s1", rotated.ID)
			require.Equal(t, "u1", rotated.UserID)
			require.Equal(t, "hash-2", rotated.TokenHash)

			rotated, err = store.Rotate(ctx, "u1", "s1", "hash-2", "hash-3", time.Now().Add(2*time.Hour))
			require.NoError(t, err)
			require.Equal(t, "hash-3", rotated.TokenHash)
		})
	}
}

func TestSessionStoreReuseRevokesSession(t *testing.T) {
	t.Parallel()

	for name, store := range sessionStores(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedSession(t, store, "s1", "u1", "hash-1")

			_, err := store.Rotate(ctx, "u1", "s1", "hash-1", "hash-2", time.Now().Add(time.Hour))
			require.NoError(t, err)

			_, err = store.Rotate(ctx, "u1", "s1", "hash-1", "hash-x", time.Now().Add(time.Hour))
			require.ErrorIs(t, err, model.ErrTokenReuse)

			// the legitimate successor is gone as well
			_, err = store.Rotate(ctx, "u1", "s1", "hash-2", "hash-3", time.Now().Add(time.Hour))
			require.ErrorIs(t, err, model.ErrSessionNotFound)
		})
	}
}

func TestSessionStoreRejectsForeignUserAndUnknownSession(t *testing.T) {
	t.Parallel()

	for name, store := range sessionStores(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedSession(t, store, "s1", "u1", "hash-1")

			_, err := store.Rotate(ctx, "u1", "missing", "hash-1", "hash-2", time.Now().Add(time.Hour))
			require.ErrorIs(t, err, model.ErrSessionNotFound)

			_, err = store.Rotate(ctx, "u2", "s1", "hash-1", "hash-2", time.Now().Add(time.Hour))
			require.ErrorIs(t, err, model.ErrSessionNotFound)
		})
	}
}

func TestSessionStoreRevoke(t *testing.T) {
	t.Parallel()

	for name, store := range sessionStores(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedSession(t, store, "s1", "u1", "hash-1")
			seedSession(t, store, "s2", "u1", "hash-2")
			seedSession(t, store, "s3", "u2", "hash-3")

			require.NoError(t, store.Revoke(ctx, "s1"))
			require.NoError(t, store.Revoke(ctx, "s1"))
			_, err := store.Rotate(ctx, "u1", "s1", "hash-1", "next", time.Now().Add(time.Hour))
			require.ErrorIs(t, err, model.ErrSessionNotFound)

			require.NoError(t, store.RevokeAllForUser(ctx, "u1"))
			_, err = store.Rotate(ctx, "u1", "s2", "hash-2", "next", time.Now().Add(time.Hour))
			require.ErrorIs(t, err, model.ErrSessionNotFound)

			_, err = store.Rotate(ctx, "u2", "s3", "hash-3", "next", time.Now().Add(time.Hour))
			require.NoError(t, err)
		})
	}
}

func TestSessionStoreConcurrentRotateSingleWinner(t *testing.T) {
	t.Parallel()

	for name, store := range sessionStores(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedSession(t, store, "race", "u1", "current")

			const workers = 16
			start := make(chan struct{})
			results := make(chan error, workers)
			var wg sync.WaitGroup
			wg.Add(workers)

			for i := 0; i < workers; i++ {
				go func(i int) {
					defer wg.Done()
					<-start
					_, err := store.Rotate(ctx, "u1", "race", "current", fmt.Sprintf("next-%d", i), time.Now().Add(time.Hour))
					results <- err
				}(i)
			}

			close(start)
			wg.Wait()
			close(results)

			winners := 0
			for err := range results {
				switch {
				case err == nil:
					winners++
				case errors.Is(err, model.ErrTokenReuse), errors.Is(err, model.ErrSessionNotFound):
				default:
					t.Fatalf("unexpected rotate error: %v", err)
				}
			}
			require.Equal(t, 1, winners)
		})
	}
}

func TestMemorySessionRepositoryDeleteExpired(t *testing.T) {
	t.Parallel()

	repo := NewMemorySessionRepository()
	now := time.Now().UTC()
	repo.now = func() time.Time { return now }

	require.NoError(t, repo.Create(context.Background(), model.RefreshSession{ID: "old", UserID: "u1", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, repo.Create(context.Background(), model.RefreshSession{ID: "new", UserID: "u1", ExpiresAt: now.Add(time.Minute)}))

	removed, err := repo.DeleteExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
	require.Equal(t, 1, repo.Len())
}

func TestRedisSessionRepositoryDeleteExpiredPrunesIndex(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	repo := NewRedisSessionRepository(rdb, "test")

	seedSession(t, repo, "s1", "u1", "hash-1")
	mr.FastForward(2 * time.Hour)

	removed, err := repo.DeleteExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
}
