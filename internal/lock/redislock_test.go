package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lokamart/cart-api/internal/lock"
)

func newLocker(t *testing.T) lock.Locker {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
}

func TestWithLockSerializesSameCart(t *testing.T) {
	locker := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})

	go func() {
		err := locker.WithLock(ctx, "cart:lock:store-1:user-1", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
		require.NoError(t, err)
	}()

	<-firstDone

	go func() {
		err := locker.WithLock(ctx, "cart:lock:store-1:user-1", 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}()

	close(releaseFirst)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestWithLockReleasesOnError(t *testing.T) {
	locker := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	boom := func(context.Context) error { return context.Canceled }
	require.Error(t, locker.WithLock(ctx, "cart:lock:k", time.Second, boom))

	// The lock must be free again immediately.
	acquired := false
	require.NoError(t, locker.WithLock(ctx, "cart:lock:k", time.Second, func(context.Context) error {
		acquired = true
		return nil
	}))
	require.True(t, acquired)
}

func TestWithLockDifferentKeysDoNotBlock(t *testing.T) {
	locker := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	hold := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = locker.WithLock(ctx, "cart:lock:a", time.Second, func(context.Context) error {
			<-hold
			return nil
		})
	}()

	go func() {
		_ = locker.WithLock(ctx, "cart:lock:b", time.Second, func(context.Context) error {
			close(done)
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("second key must not wait on the first")
	}
	close(hold)
}
