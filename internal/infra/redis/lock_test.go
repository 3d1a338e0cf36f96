//go:build !integration

package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memClient keeps keys in a map; enough for the locker and rate limiter.
type memClient struct {
	mu   sync.Mutex
	data map[string]string
	ints map[string]int64

	setNXErr error
}

func newMemClient() *memClient {
	return &memClient{data: map[string]string{}, ints: map[string]int64{}}
}

func (m *memClient) Ping(ctx context.Context) error { return nil }
func (m *memClient) Set(ctx context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	return nil
}
func (m *memClient) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", Nil
	}
	return v, nil
}
func (m *memClient) IncrWindow(ctx context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ints[key]++
	return m.ints[key], nil
}
func (m *memClient) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}
func (m *memClient) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	if m.setNXErr != nil {
		return false, m.setNXErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	return true, nil
}
func (m *memClient) DelIfEquals(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[key] != value {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}
func (m *memClient) Close() error { return nil }

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("should refuse a second holder until the first unlocks", func(t *testing.T) {
		// Arrange
		cli := newMemClient()
		locker := NewLocker(cli)
		locker.wait = time.Millisecond

		// Act
		token, err := locker.TryLock(ctx, "lock:cycle", time.Minute)
		require.NoError(t, err)
		_, errSecond := locker.TryLock(ctx, "lock:cycle", time.Minute)
		require.NoError(t, locker.Unlock(ctx, "lock:cycle", token))
		_, errThird := locker.TryLock(ctx, "lock:cycle", time.Minute)

		// Assert
		assert.ErrorIs(t, errSecond, ErrLockHeld)
		assert.NoError(t, errThird)
	})

	t.Run("should not release a lock owned by another token", func(t *testing.T) {
		// Arrange
		cli := newMemClient()
		locker := NewLocker(cli)
		locker.wait = time.Millisecond
		_, err := locker.TryLock(ctx, "lock:cycle", time.Minute)
		require.NoError(t, err)

		// Act
		require.NoError(t, locker.Unlock(ctx, "lock:cycle", "someone-else"))

		// Assert
		_, err = cli.Get(ctx, "lock:cycle")
		assert.NoError(t, err, "lock should still be held")
	})

	t.Run("should surface transport errors", func(t *testing.T) {
		// Arrange
		cli := newMemClient()
		cli.setNXErr = errors.New("connection refused")
		locker := NewLocker(cli)
		locker.wait = time.Millisecond

		// Act
		_, err := locker.TryLock(ctx, "lock:cycle", time.Minute)

		// Assert
		assert.EqualError(t, err, "connection refused")
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("should allow up to the limit within a window", func(t *testing.T) {
		// Arrange
		limiter := NewRateLimiter(newMemClient())
		key := UserFeatureKey("user-1", "resume_export")

		// Act
		var allowed []bool
		for i := 0; i < 3; i++ {
			ok, err := limiter.Allow(context.Background(), key, 2, time.Minute)
			require.NoError(t, err)
			allowed = append(allowed, ok)
		}

		// Assert
		assert.Equal(t, []bool{true, true, false}, allowed)
	})
}
