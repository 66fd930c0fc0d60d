// Package config loads runtime configuration from the environment via
// viper, with defaults matched to the numbers the engines are tuned
// against (lock TTLs, hold durations, bucket sizes).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig holds the Postgres connection and pool settings.
type DatabaseConfig struct {
	DSN                   string        `mapstructure:"dsn"`
	MaxOpenConnections    int           `mapstructure:"max_open_connections"`
	MaxIdleConnections    int           `mapstructure:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `mapstructure:"connection_max_lifetime"`
	ConnectionMaxIdleTime time.Duration `mapstructure:"connection_max_idle_time"`
}

// RedisConfig holds the connection settings for the shared KV/lock/pubsub client.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// LockConfig holds Distributed Lock Manager settings (spec.md §4.1). Only
// DefaultTTL is validated by Load; services.Build does not pass any of these
// fields to the engines, which build their lock options in code
// (lock.DefaultOptions for reservations, the auction engine's own options).
type LockConfig struct {
	DefaultTTL     time.Duration `mapstructure:"default_ttl"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	JitterFraction float64       `mapstructure:"jitter_fraction"`
}

// IdempotencyConfig tunes the Idempotency Cache (spec.md §4.2).
type IdempotencyConfig struct {
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
	CompletedTTL  time.Duration `mapstructure:"completed_ttl"`
}

// ReservationConfig tunes the Resource-Reservation Engine (spec.md §4.4).
type ReservationConfig struct {
	HoldDuration    time.Duration `mapstructure:"hold_duration"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	AvailabilityTTL time.Duration `mapstructure:"availability_ttl"`
}

// AuctionConfig tunes the Auction-Bid State Machine (spec.md §4.5/§4.7).
// DefaultSnipeWindow is not read by the engine, which takes the snipe window
// from each auction's own SnipeProtectionMinutes.
type AuctionConfig struct {
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
	DefaultSnipeWindow    time.Duration `mapstructure:"default_snipe_window"`
	BidRateLimitPerMinute int           `mapstructure:"bid_rate_limit_per_minute"`
	SchedulerInterval     time.Duration `mapstructure:"scheduler_interval"`
}

// TrendingConfig tunes the Top-K Windowed Counter (spec.md §4.6).
type TrendingConfig struct {
	BucketWidth    time.Duration `mapstructure:"bucket_width"`
	Window         time.Duration `mapstructure:"window"`
	TopK           int           `mapstructure:"top_k"`
	UpdateInterval time.Duration `mapstructure:"update_interval"`
	// Categories lists the categories the Trending Service recomputes on
	// every tick, in addition to the always-present "all" aggregate.
	Categories []string `mapstructure:"categories"`
}

// ServerConfig tunes the HTTP/WebSocket listener.
type ServerConfig struct {
	Port    string `mapstructure:"port"`
	GinMode string `mapstructure:"gin_mode"`
}

// FanoutConfig tunes the Fan-out Gateway (spec.md §4.8). Only
// HeartbeatInterval is read; ClientDeadline and SendBufferSize are not
// passed to the gateway, whose clients use fixed values set in client.go.
type FanoutConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ClientDeadline    time.Duration `mapstructure:"client_deadline"`
	SendBufferSize    int           `mapstructure:"send_buffer_size"`
}

// Config is the root configuration object, populated by Load.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Lock        LockConfig        `mapstructure:"lock"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Reservation ReservationConfig `mapstructure:"reservation"`
	Auction     AuctionConfig     `mapstructure:"auction"`
	Trending    TrendingConfig    `mapstructure:"trending"`
	Fanout      FanoutConfig      `mapstructure:"fanout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.gin_mode", "release")

	v.SetDefault("database.dsn", "postgres://localhost:5432/core?sslmode=disable")
	v.SetDefault("database.max_open_connections", 50)
	v.SetDefault("database.max_idle_connections", 10)
	v.SetDefault("database.connection_max_lifetime", 30*time.Minute)
	v.SetDefault("database.connection_max_idle_time", 5*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 5)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.max_retries", 3)

	v.SetDefault("lock.default_ttl", 30*time.Second)
	v.SetDefault("lock.max_retries", 5)
	v.SetDefault("lock.backoff_base", 20*time.Millisecond)
	v.SetDefault("lock.backoff_max", 400*time.Millisecond)
	v.SetDefault("lock.jitter_fraction", 0.2)

	v.SetDefault("idempotency.in_progress_ttl", 30*time.Second)
	v.SetDefault("idempotency.completed_ttl", 24*time.Hour)

	v.SetDefault("reservation.hold_duration", 15*time.Minute)
	v.SetDefault("reservation.sweep_interval", 1*time.Minute)
	v.SetDefault("reservation.availability_ttl", 5*time.Minute)

	v.SetDefault("auction.lock_ttl", 5*time.Second)
	v.SetDefault("auction.default_snipe_window", 5*time.Minute)
	v.SetDefault("auction.bid_rate_limit_per_minute", 10)
	v.SetDefault("auction.scheduler_interval", 1*time.Second)

	v.SetDefault("trending.bucket_width", 1*time.Minute)
	v.SetDefault("trending.window", 60*time.Minute)
	v.SetDefault("trending.top_k", 10)
	v.SetDefault("trending.update_interval", 30*time.Second)
	v.SetDefault("trending.categories", []string{})

	v.SetDefault("fanout.heartbeat_interval", 30*time.Second)
	v.SetDefault("fanout.client_deadline", 90*time.Second)
	v.SetDefault("fanout.send_buffer_size", 256)
}

// Load reads configuration from environment variables (prefixed CORE_,
// nested fields joined by "_", e.g. CORE_REDIS_ADDR, CORE_AUCTION_LOCK_TTL)
// and an optional config file, falling back to the documented defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn must not be empty")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr must not be empty")
	}
	if c.Lock.DefaultTTL <= 0 {
		return fmt.Errorf("config: lock.default_ttl must be positive")
	}
	if c.Trending.TopK <= 0 {
		return fmt.Errorf("config: trending.top_k must be positive")
	}
	if c.Trending.Window < c.Trending.BucketWidth {
		return fmt.Errorf("config: trending.window must be >= trending.bucket_width")
	}
	return nil
}
