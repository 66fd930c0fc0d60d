// Package idempotency implements the Idempotency Cache: deterministic key
// derivation, a first-writer-wins stamp, and result memoization over two
// KV entries per key (spec.md §4.2).
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fntelecomllc/writepath/internal/kv"
	"github.com/fntelecomllc/writepath/internal/logging"
)

// State is the outcome of Reserve.
type State int

const (
	// Acquired means the caller is the first writer and must process the
	// request, then call Publish or Abandon.
	Acquired State = iota
	// InProgress means another writer is currently processing the same key.
	InProgress
	// Completed means a result is already stored; Result holds its bytes.
	Completed
)

// Outcome is returned by Reserve.
type Outcome struct {
	State  State
	Result []byte
}

func doneKey(key string) string     { return "idem:done:" + key }
func progressKey(key string) string { return "idem:progress:" + key }

// Config tunes the two KV entry TTLs.
type Config struct {
	InProgressTTL time.Duration
	CompletedTTL  time.Duration
}

// DefaultConfig matches spec.md §4.2's stated TTLs.
func DefaultConfig() Config {
	return Config{InProgressTTL: 30 * time.Second, CompletedTTL: 24 * time.Hour}
}

// Cache is the Idempotency Cache.
type Cache struct {
	kv     *kv.Client
	cfg    Config
	log    *logging.Logger
}

// New returns a Cache over client with the given Config.
func New(client *kv.Client, cfg Config) *Cache {
	return &Cache{kv: client, cfg: cfg, log: logging.New("idempotency")}
}

// DeriveKey builds a canonical key by SHA-256 hashing actorID, a
// resource/sub-resource pair, and the caller-supplied parts — callers pass
// a time-bounded bucket (e.g. floor(now/1s)) among parts so rapid
// double-clicks collapse to the same key. An explicit clientKey, when
// non-empty, is used verbatim instead (client-supplied override).
func DeriveKey(clientKey, actorID, resource string, parts ...string) string {
	if clientKey != "" {
		return clientKey
	}
	h := sha256.New()
	h.Write([]byte(actorID))
	h.Write([]byte{0})
	h.Write([]byte(resource))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Reserve performs the three-state check: Acquired (proceed), InProgress
// (a concurrent writer is already processing this key — caller should
// reject with Conflict), or Completed (the stored result, ready to replay
// verbatim to satisfy I2).
func (c *Cache) Reserve(ctx context.Context, key string) (Outcome, error) {
	if val, err := c.kv.Get(ctx, doneKey(key)); err == nil {
		return Outcome{State: Completed, Result: []byte(val)}, nil
	} else if !kv.IsNil(err) {
		return Outcome{}, err
	}

	acquired, err := c.kv.SetNX(ctx, progressKey(key), "1", c.cfg.InProgressTTL)
	if err != nil {
		return Outcome{}, err
	}
	if acquired {
		return Outcome{State: Acquired}, nil
	}
	return Outcome{State: InProgress}, nil
}

// Publish stores value as the key's final result and clears the in-progress
// stamp. Callers must invoke this only after the underlying DB COMMIT that
// realised the state change — never before.
func (c *Cache) Publish(ctx context.Context, key string, value []byte) error {
	if err := c.kv.Set(ctx, doneKey(key), string(value), c.cfg.CompletedTTL); err != nil {
		return err
	}
	return c.kv.Del(ctx, progressKey(key))
}

// PublishJSON marshals v and delegates to Publish.
func (c *Cache) PublishJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("idempotency: marshal result for %s: %w", key, err)
	}
	return c.Publish(ctx, key, data)
}

// Abandon clears the in-progress stamp without publishing a result, letting
// the next retry attempt proceed. Callers invoke this on any failure before
// COMMIT.
func (c *Cache) Abandon(ctx context.Context, key string) error {
	if err := c.kv.Del(ctx, progressKey(key)); err != nil {
		c.log.Warn(ctx, "abandon_failed", map[string]interface{}{"key": shortKey(key), "error": err.Error()})
		return err
	}
	return nil
}

func shortKey(key string) string {
	if len(key) <= 12 {
		return key
	}
	return key[:12]
}
