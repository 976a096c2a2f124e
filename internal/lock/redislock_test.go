package lock

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Locker{R: client, RetryBackoff: 5 * time.Millisecond}, mr
}

func TestWithLockRuns(t *testing.T) {
	locker, mr := newTestLocker(t)

	ran := false
	err := locker.WithLock(context.Background(), OrderKey(42), time.Second, func(context.Context) error {
		ran = true
		require.True(t, mr.Exists(OrderKey(42)), "lock key should be held during callback")
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.False(t, mr.Exists(OrderKey(42)), "lock key should be released after callback")
}

func TestWithLockReleasesOnError(t *testing.T) {
	locker, mr := newTestLocker(t)

	wantErr := context.DeadlineExceeded
	err := locker.WithLock(context.Background(), OrderKey(7), time.Second, func(context.Context) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	require.False(t, mr.Exists(OrderKey(7)))
}

func TestWithLockWaitsForHolder(t *testing.T) {
	locker, mr := newTestLocker(t)

	require.NoError(t, mr.Set(OrderKey(9), "held-elsewhere"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := locker.WithLock(ctx, OrderKey(9), time.Second, func(context.Context) error {
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Holder goes away, the next acquisition succeeds.
	mr.Del(OrderKey(9))
	err = locker.WithLock(context.Background(), OrderKey(9), time.Second, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestWithLockDoesNotReleaseForeignToken(t *testing.T) {
	locker, mr := newTestLocker(t)

	err := locker.WithLock(context.Background(), OrderKey(3), time.Second, func(ctx context.Context) error {
		// Simulate lock expiry plus takeover by another process.
		mr.Del(OrderKey(3))
		require.NoError(t, mr.Set(OrderKey(3), "other-holder"))
		return nil
	})
	require.NoError(t, err)
	got, err := mr.Get(OrderKey(3))
	require.NoError(t, err)
	require.Equal(t, "other-holder", got, "release must not delete another holder's lock")
}
