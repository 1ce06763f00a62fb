package redisclient

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (Locker, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisLocker(client, 2*time.Second), client
}

func TestWithLockRunsCriticalSection(t *testing.T) {
	locker, _ := newTestLocker(t)

	ran := false
	err := locker.WithLock(context.Background(), "lock:test", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestWithLockRejectsConcurrentHolder(t *testing.T) {
	locker, client := newTestLocker(t)

	// Simulate another holder.
	require.NoError(t, client.Set(context.Background(), "lock:busy", "other-token", time.Minute).Err())

	err := locker.WithLock(context.Background(), "lock:busy", func(ctx context.Context) error {
		t.Fatal("critical section must not run while lock is held")
		return nil
	})
	require.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestWithLockReleasesAfterwards(t *testing.T) {
	locker, client := newTestLocker(t)

	err := locker.WithLock(context.Background(), "lock:release", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	exists, err := client.Exists(context.Background(), "lock:release").Result()
	require.NoError(t, err)
	require.Zero(t, exists)
}

func TestWithLockDoesNotReleaseForeignToken(t *testing.T) {
	locker, client := newTestLocker(t)
	ctx := context.Background()

	err := locker.WithLock(ctx, "lock:foreign", func(fnCtx context.Context) error {
		// Another process stole the key after our lease expired.
		return client.Set(ctx, "lock:foreign", "stolen", time.Minute).Err()
	})
	require.NoError(t, err)

	val, err := client.Get(ctx, "lock:foreign").Result()
	require.NoError(t, err)
	require.Equal(t, "stolen", val)
}

func TestLockKeyNames(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	start := time.Unix(1700000000, 0)

	require.Equal(t, "lock:slot:6ba7b810-9dad-11d1-80b4-00c04fd430c8:1700000000", WindowLockKey(id, start))
	require.Equal(t, "lock:templates:6ba7b810-9dad-11d1-80b4-00c04fd430c8", TemplateLockKey(id))
}
