package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDocumentedDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, "release", cfg.Server.GinMode)
	require.Equal(t, 30*time.Second, cfg.Lock.DefaultTTL)
	require.Equal(t, 15*time.Minute, cfg.Reservation.HoldDuration)
	require.Equal(t, 5*time.Second, cfg.Auction.LockTTL)
	require.Equal(t, 10, cfg.Auction.BidRateLimitPerMinute)
	require.Equal(t, time.Minute, cfg.Trending.BucketWidth)
	require.Equal(t, 60*time.Minute, cfg.Trending.Window)
	require.Equal(t, 10, cfg.Trending.TopK)
	require.Empty(t, cfg.Trending.Categories)
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("CORE_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("CORE_AUCTION_BID_RATE_LIMIT_PER_MINUTE", "5")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	require.Equal(t, 5, cfg.Auction.BidRateLimitPerMinute)
}

func TestLoadRejectsEmptyDatabaseDSN(t *testing.T) {
	t.Setenv("CORE_DATABASE_DSN", "")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRejectsNonPositiveLockTTL(t *testing.T) {
	t.Setenv("CORE_LOCK_DEFAULT_TTL", "0")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRejectsWindowSmallerThanBucketWidth(t *testing.T) {
	t.Setenv("CORE_TRENDING_WINDOW", "10s")
	t.Setenv("CORE_TRENDING_BUCKET_WIDTH", "1m")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRejectsMissingConfigFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}
