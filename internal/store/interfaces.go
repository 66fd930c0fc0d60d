// Package store defines the database-facing interfaces shared by every
// row store: a Querier abstraction that both *sqlx.DB and *sqlx.Tx satisfy,
// and a Transactor that begins transactions for callers that must hold a
// pessimistic row lock across more than one statement.
package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// Querier defines the methods that can be executed by both sqlx.DB and sqlx.Tx.
// Row stores hold no connection of their own and run every statement on the
// Querier they are given: a *sqlx.DB for a standalone statement, or a
// *sqlx.Tx to fold several statements into one transaction. A nil Querier
// is not accepted.
type Querier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	PrepareNamedContext(ctx context.Context, query string) (*sqlx.NamedStmt, error)
}

// Transactor starts a transaction for stores backed by Postgres.
type Transactor interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// ErrNoRows mirrors sql.ErrNoRows so callers of this package don't need to
// import database/sql purely to compare against it.
var ErrNoRows = sql.ErrNoRows

// Sentinel errors returned by every row store, translated from driver-level
// conditions (sql.ErrNoRows, pq unique_violation) so callers never import
// database/sql or lib/pq directly.
var (
	ErrNotFound     = errors.New("store: not found")
	ErrDuplicateKey = errors.New("store: duplicate key")
	ErrConflict     = errors.New("store: version conflict")
)
