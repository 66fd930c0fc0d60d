package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fntelecomllc/writepath/internal/corerr"
	"github.com/fntelecomllc/writepath/internal/kv"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(kv.NewFromRedis(rdb))
}

func TestAcquireAndRelease(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, "auction:1", DefaultOptions())
	require.NoError(t, err)
	require.NotEmpty(t, l.Token)

	require.NoError(t, m.Release(ctx, l))

	l2, err := m.Acquire(ctx, "auction:1", DefaultOptions())
	require.NoError(t, err)
	require.NotEqual(t, l.Token, l2.Token)
}

func TestAcquireContendedExhaustsRetries(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "auction:2", DefaultOptions())
	require.NoError(t, err)

	opts := Options{TTL: time.Minute, Retries: 1, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, JitterFrac: 0}
	_, err = m.Acquire(ctx, "auction:2", opts)
	require.Error(t, err)

	cerr, ok := corerr.As(err)
	require.True(t, ok)
	require.Equal(t, corerr.LockUnavailable, cerr.KindValue())
}

func TestReleaseWithStaleTokenIsNoop(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, "auction:3", DefaultOptions())
	require.NoError(t, err)

	stolen := &Lock{Key: l.Key, Token: "not-the-real-token"}
	require.NoError(t, m.Release(ctx, stolen))

	l2, err := m.Acquire(ctx, "auction:3", Options{TTL: time.Minute, Retries: 0, BaseDelay: time.Millisecond})
	require.Error(t, err)
	require.Nil(t, l2)
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.Panics(t, func() {
		_ = m.WithLock(ctx, "auction:4", DefaultOptions(), func(ctx context.Context) error {
			panic("boom")
		})
	})

	l, err := m.Acquire(ctx, "auction:4", Options{TTL: time.Minute, Retries: 0, BaseDelay: time.Millisecond})
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestExtendOnlyMatchingToken(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, "auction:5", DefaultOptions())
	require.NoError(t, err)

	ok, err := m.Extend(ctx, l, 2*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	forged := &Lock{Key: l.Key, Token: "wrong"}
	ok, err = m.Extend(ctx, forged, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}
