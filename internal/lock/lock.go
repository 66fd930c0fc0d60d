// Package lock implements the Distributed Lock Manager: SETNX+TTL locks
// with a unique owner token, bounded retry with exponential backoff and
// jitter, and atomic release/extend via compare-and-delete/compare-and-
// pexpire scripts. The lock is advisory — callers must still hold the
// authoritative DB row lock during the decisive check.
package lock

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/fntelecomllc/writepath/internal/corerr"
	"github.com/fntelecomllc/writepath/internal/kv"
	"github.com/fntelecomllc/writepath/internal/logging"
)

// Options tunes a single acquire call.
type Options struct {
	TTL        time.Duration
	Retries    int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	JitterFrac float64
}

// DefaultOptions matches spec.md's stated defaults for ordinary resource locks.
func DefaultOptions() Options {
	return Options{
		TTL:        30 * time.Second,
		Retries:    3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		JitterFrac: 0.2,
	}
}

// Lock is a handle returned by Acquire: the key it guards, the unique token
// that proves ownership, and when it was acquired.
type Lock struct {
	Key        string
	Token      string
	AcquiredAt time.Time
}

// Manager acquires and releases advisory locks backed by a kv.Client.
type Manager struct {
	kv  *kv.Client
	log *logging.Logger
}

// New returns a Manager over the given kv client.
func New(client *kv.Client) *Manager {
	return &Manager{kv: client, log: logging.New("lock")}
}

func lockKey(resource string) string { return "lock:" + resource }

// Acquire attempts to SETNX the resource's lock key to a fresh token,
// retrying with exponential backoff+jitter up to opts.Retries times.
// Returns a *corerr.Error with Kind LockUnavailable once retries are
// exhausted.
func (m *Manager) Acquire(ctx context.Context, resource string, opts Options) (*Lock, error) {
	key := lockKey(resource)
	token := uuid.NewString()

	delay := opts.BaseDelay
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		acquired, err := m.kv.SetNX(ctx, key, token, opts.TTL)
		if err != nil {
			return nil, corerr.New(corerr.Internal, err)
		}
		if acquired {
			return &Lock{Key: key, Token: token, AcquiredAt: time.Now()}, nil
		}

		if attempt == opts.Retries {
			break
		}

		wait := delay
		if opts.MaxDelay > 0 && wait > opts.MaxDelay {
			wait = opts.MaxDelay
		}
		if opts.JitterFrac > 0 {
			wait += time.Duration(rand.Int63n(int64(float64(wait) * opts.JitterFrac)))
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, corerr.New(corerr.Internal, ctx.Err())
		}
		delay *= 2
	}

	m.log.Warn(ctx, "acquire_exhausted", map[string]interface{}{"resource": resource, "retries": opts.Retries})
	return nil, corerr.Newf(corerr.LockUnavailable, "lock unavailable for %s after %d retries", resource, opts.Retries)
}

// Release atomically deletes the lock only if its stored value still equals
// l's token — a double-release (l already expired and reassigned) is a
// harmless no-op.
func (m *Manager) Release(ctx context.Context, l *Lock) error {
	if l == nil {
		return nil
	}
	_, err := m.kv.CompareAndDelete(ctx, l.Key, l.Token)
	return err
}

// Extend atomically resets l's TTL, only if its token still matches.
func (m *Manager) Extend(ctx context.Context, l *Lock, ttl time.Duration) (bool, error) {
	if l == nil {
		return false, nil
	}
	return m.kv.CompareAndPExpire(ctx, l.Key, l.Token, ttl)
}

// WithLock acquires resource, runs fn, and releases on every exit path —
// including a panic in fn, which is recovered, released past, then re-raised.
func (m *Manager) WithLock(ctx context.Context, resource string, opts Options, fn func(ctx context.Context) error) (err error) {
	l, err := m.Acquire(ctx, resource, opts)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			if relErr := m.Release(ctx, l); relErr != nil {
				m.log.Error(ctx, "release_after_panic", relErr, map[string]interface{}{"resource": resource})
			}
			panic(p)
		}
		if relErr := m.Release(ctx, l); relErr != nil {
			m.log.Error(ctx, "release", relErr, map[string]interface{}{"resource": resource})
		}
	}()

	return fn(ctx)
}
