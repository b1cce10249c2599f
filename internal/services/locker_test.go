package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func exerciseLocker(t *testing.T, locker Locker) {
	t.Helper()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "installation:shared")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)

	// distinct keys do not contend
	unlockA, err := locker.Lock(ctx, "installation:a")
	require.NoError(t, err)
	unlockB, err := locker.Lock(ctx, "installation:b")
	require.NoError(t, err)
	unlockA()
	unlockB()

	// a held key times out for a second caller
	unlock, err := locker.Lock(ctx, "installation:held")
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "installation:held")
	assert.ErrorIs(t, err, ErrLockTimeout)
	unlock()
	unlock()

	again, err := locker.Lock(ctx, "installation:held")
	require.NoError(t, err)
	again()
}

func TestKeyedMutex(t *testing.T) {
	km := NewKeyedMutex()
	exerciseLocker(t, km)

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks)
}

func TestRedisLocker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := NewRedisClient(ctx, endpoint, "", 0)
	require.NoError(t, err)
	defer client.Close()

	locker := NewRedisLocker(client, time.Minute)
	exerciseLocker(t, locker)

	t.Run("lease of a crashed holder expires", func(t *testing.T) {
		// a holder that died leaves its lease without renewal
		require.NoError(t, client.Set(ctx, "skillhub:lock:installation:crashed", "dead-holder", 50*time.Millisecond).Err())

		short := NewRedisLocker(client, 50*time.Millisecond)
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		unlock, err := short.Lock(waitCtx, "installation:crashed")
		require.NoError(t, err)
		unlock()
	})

	t.Run("lease is renewed while held", func(t *testing.T) {
		short := NewRedisLocker(client, 150*time.Millisecond)
		unlock, err := short.Lock(ctx, "installation:slow")
		require.NoError(t, err)

		// several lease periods pass while the section is still running
		time.Sleep(600 * time.Millisecond)

		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		_, err = short.Lock(waitCtx, "installation:slow")
		assert.ErrorIs(t, err, ErrLockTimeout)

		ttl, err := client.PTTL(ctx, "skillhub:lock:installation:slow").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))

		unlock()
		exists, err := client.Exists(ctx, "skillhub:lock:installation:slow").Result()
		require.NoError(t, err)
		assert.Zero(t, exists)
	})

	t.Run("renewal stops when the lease is taken over", func(t *testing.T) {
		short := NewRedisLocker(client, 150*time.Millisecond)
		unlock, err := short.Lock(ctx, "installation:stolen")
		require.NoError(t, err)
		defer unlock()

		require.NoError(t, client.Set(ctx, "skillhub:lock:installation:stolen", "someone-else", 150*time.Millisecond).Err())
		time.Sleep(400 * time.Millisecond)

		// the foreign lease was not extended by the original holder
		exists, err := client.Exists(ctx, "skillhub:lock:installation:stolen").Result()
		require.NoError(t, err)
		assert.Zero(t, exists)
	})

	t.Run("zero ttl uses default", func(t *testing.T) {
		assert.Equal(t, DefaultLockTTL, NewRedisLocker(client, 0).ttl)
	})

	t.Run("release keeps foreign token", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, "installation:token")
		require.NoError(t, err)
		require.NoError(t, client.Set(ctx, "skillhub:lock:installation:token", "someone-else", time.Minute).Err())
		unlock()

		val, err := client.Get(ctx, "skillhub:lock:installation:token").Result()
		require.NoError(t, err)
		assert.Equal(t, "someone-else", val)
		assert.NoError(t, client.Del(ctx, "skillhub:lock:installation:token").Err())
	})
}
