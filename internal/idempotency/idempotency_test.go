package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fntelecomllc/writepath/internal/kv"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(kv.NewFromRedis(rdb), Config{InProgressTTL: time.Minute, CompletedTTL: time.Hour})
}

func TestDeriveKeyDeterministicAndStable(t *testing.T) {
	k1 := DeriveKey("", "actor-1", "reservation", "resource-1", "2026-08-01", "2026-08-03")
	k2 := DeriveKey("", "actor-1", "reservation", "resource-1", "2026-08-01", "2026-08-03")
	require.Equal(t, k1, k2)

	k3 := DeriveKey("", "actor-1", "reservation", "resource-1", "2026-08-01", "2026-08-04")
	require.NotEqual(t, k1, k3)
}

func TestDeriveKeyPrefersClientKey(t *testing.T) {
	k := DeriveKey("client-supplied", "actor-1", "reservation", "anything")
	require.Equal(t, "client-supplied", k)
}

func TestReserveFirstWriterWins(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	out, err := c.Reserve(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, Acquired, out.State)

	out, err = c.Reserve(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, InProgress, out.State)
}

func TestPublishThenReserveReplaysResult(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, err := c.Reserve(ctx, "key-2")
	require.NoError(t, err)

	type payload struct {
		ID string `json:"id"`
	}
	require.NoError(t, c.PublishJSON(ctx, "key-2", payload{ID: "abc"}))

	out, err := c.Reserve(ctx, "key-2")
	require.NoError(t, err)
	require.Equal(t, Completed, out.State)
	require.JSONEq(t, `{"id":"abc"}`, string(out.Result))
}

func TestAbandonClearsInProgressForRetry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, err := c.Reserve(ctx, "key-3")
	require.NoError(t, err)

	require.NoError(t, c.Abandon(ctx, "key-3"))

	out, err := c.Reserve(ctx, "key-3")
	require.NoError(t, err)
	require.Equal(t, Acquired, out.State)
}
