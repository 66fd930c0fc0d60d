// File: internal/store/postgres/transaction_helpers.go
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// TransactionManager provides transaction lifecycle management: it begins a
// transaction, enforces a deadline, and guarantees rollback on every exit
// path (error, panic, or context cancellation) so callers never leak a
// held connection or a row lock.
type TransactionManager struct {
	db          *sqlx.DB
	mu          sync.RWMutex
	activeCount int64
	active      map[string]time.Time
}

// NewTransactionManager wraps db with leak-tracked transaction helpers.
func NewTransactionManager(db *sqlx.DB) *TransactionManager {
	return &TransactionManager{
		db:     db,
		active: make(map[string]time.Time),
	}
}

// DefaultTimeout bounds a whole WithTx call per spec.md §5 ("DB queries run
// under a per-request deadline, default 5s"): begin, every query fn issues
// (including any row-lock wait) and commit share this one deadline when the
// caller's ctx carries none of its own.
const DefaultTimeout = 5 * time.Second

// WithTx runs fn inside a transaction: begins, tracks, and on every exit
// path either commits (fn returned nil) or rolls back (fn returned an
// error, fn panicked, or ctx was cancelled). The panic is re-raised after
// rollback so callers see the original failure in their own recover, if any.
// fn is called synchronously with the deadline-bound context WithTx itself
// derives — callers must issue every query against that context (not the
// ctx passed into WithTx) so the per-request deadline from spec.md §5
// actually bounds the real DB calls, and so WithTx never rolls back a
// transaction out from under an in-flight query racing in its own goroutine.
func (tm *TransactionManager) WithTx(ctx context.Context, opts *sql.TxOptions, operation string, fn func(context.Context, *sqlx.Tx) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	tx, err := tm.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction for %s: %w", operation, err)
	}

	txID := fmt.Sprintf("%p", tx)
	start := time.Now()
	tm.mu.Lock()
	tm.activeCount++
	tm.active[txID] = start
	tm.mu.Unlock()

	defer func() {
		tm.mu.Lock()
		delete(tm.active, txID)
		tm.activeCount--
		tm.mu.Unlock()

		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !alreadyClosed(rbErr) {
				log.Printf("postgres: rollback after panic failed for %s: %v", operation, rbErr)
			}
			panic(p)
		}

		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !alreadyClosed(rbErr) {
				log.Printf("postgres: rollback failed for %s: %v (original error: %v)", operation, rbErr, err)
			}
			return
		}

		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("commit %s: %w", operation, commitErr)
		}
	}()

	err = fn(ctx, tx)
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%s cancelled: %w", operation, ctx.Err())
	}
	return err
}

// ActiveTransactionCount reports in-flight transactions; used by health checks.
func (tm *TransactionManager) ActiveTransactionCount() int64 {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.activeCount
}

// DetectLeaks returns descriptions of transactions open longer than maxAge.
func (tm *TransactionManager) DetectLeaks(maxAge time.Duration) []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	now := time.Now()
	var leaks []string
	for id, start := range tm.active {
		if now.Sub(start) > maxAge {
			leaks = append(leaks, fmt.Sprintf("transaction %s open for %v", id, now.Sub(start)))
		}
	}
	return leaks
}

func alreadyClosed(err error) bool {
	return strings.Contains(err.Error(), "transaction has already been committed or rolled back")
}

// IsRetryable reports whether a transaction failure is transient — a
// serialization conflict against another holder of the same row lock, or a
// connection hiccup — and therefore safe to retry by the caller (e.g. the
// DLM's retry+jitter loop already covers lock contention; this covers the
// rarer case of two FOR UPDATE waiters racing past Postgres itself).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"deadlock detected",
		"could not serialize access",
		"serialization failure",
		"connection reset",
		"connection refused",
	} {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}
