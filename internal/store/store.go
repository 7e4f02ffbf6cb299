// Package store is the persistence layer. It wraps *sql.DB with the
// helpers every other package needs: transactions with serialization
// retry, provider-scoped advisory locks, and DB-error classification.
// This service talks to a relational schema over database/sql + lib/pq,
// since the core depends on the schema and transactional semantics
// rather than on any specific product.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"log"

	"github.com/lib/pq"
)

// ErrorKind classifies a failure returned from the store.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindConflict
	KindSerialization
	KindTransient
)

// Store wraps a *sql.DB connection pool.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

func New(db *sql.DB) *Store {
	return &Store{db: db, logger: log.New(log.Writer(), "[STORE] ", log.LstdFlags)}
}

func (s *Store) DB() *sql.DB { return s.db }

// Exec runs a statement outside any caller-managed transaction.
func (s *Store) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

// QueryRow runs a single-row query and scans it with fn.
func (s *Store) QueryRow(ctx context.Context, fn func(*sql.Row) error, query string, args ...interface{}) error {
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := fn(row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &StoreError{Kind: KindNotFound, cause: err}
		}
		return classify(err)
	}
	return nil
}

// Query runs a multi-row query, invoking fn once per row; fn is responsible
// for scanning.
func (s *Store) Query(ctx context.Context, fn func(*sql.Rows) error, query string, args ...interface{}) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return classify(rows.Err())
}

// Tx is the handle passed into a Transaction callback.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

func (t *Tx) QueryRow(ctx context.Context, fn func(*sql.Row) error, query string, args ...interface{}) error {
	row := t.tx.QueryRowContext(ctx, query, args...)
	if err := fn(row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &StoreError{Kind: KindNotFound, cause: err}
		}
		return classify(err)
	}
	return nil
}

func (t *Tx) Query(ctx context.Context, fn func(*sql.Rows) error, query string, args ...interface{}) error {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return classify(rows.Err())
}

// Transaction runs fn inside BEGIN/COMMIT at read-committed isolation,
// retrying once on a serialization failure (SQLSTATE 40001).
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	const maxAttempts = 2
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return classify(err)
		}
		tx := &Tx{tx: sqlTx}
		if err := fn(ctx, tx); err != nil {
			sqlTx.Rollback()
			lastErr = err
			if se, ok := err.(*StoreError); ok && se.Kind == KindSerialization && attempt < maxAttempts {
				continue
			}
			return err
		}
		if err := sqlTx.Commit(); err != nil {
			lastErr = classify(err)
			if se, ok := lastErr.(*StoreError); ok && se.Kind == KindSerialization && attempt < maxAttempts {
				continue
			}
			return lastErr
		}
		return nil
	}
	return lastErr
}

// AdvisoryLock derives a lock key by hashing (namespace, identifier) and
// holds a Postgres transaction-scoped advisory lock for fn's duration,
// e.g. the credential-refresh lock used by the vault.
func (s *Store) AdvisoryLock(ctx context.Context, namespace, identifier string, fn func(ctx context.Context, tx *Tx) error) error {
	key := lockKey(namespace, identifier)
	return s.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

// SessionLock is a session-scoped advisory lock pinned to a dedicated
// connection. Unlike AdvisoryLock it spans transactions: it is held from
// TrySessionLock until Unlock, so a long-running job can keep exclusive
// ownership of a logical resource across many short transactions.
type SessionLock struct {
	conn *sql.Conn
	key  int64
}

// TrySessionLock attempts pg_try_advisory_lock on a dedicated pooled
// connection. ok=false means another session already holds the lock.
// The caller must Unlock when done, which also releases the connection.
func (s *Store) TrySessionLock(ctx context.Context, namespace, identifier string) (lock *SessionLock, ok bool, err error) {
	key := lockKey(namespace, identifier)
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, false, classify(err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, false, classify(err)
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}
	return &SessionLock{conn: conn, key: key}, true, nil
}

// Unlock releases the advisory lock and returns its connection to the pool.
func (l *SessionLock) Unlock(ctx context.Context) error {
	_, err := l.conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	closeErr := l.conn.Close()
	if err != nil {
		return classify(err)
	}
	if closeErr != nil {
		return classify(closeErr)
	}
	return nil
}

func lockKey(namespace, identifier string) int64 {
	h := fnv.New64a()
	h.Write([]byte(namespace))
	h.Write([]byte(":"))
	h.Write([]byte(identifier))
	return int64(h.Sum64())
}

// StoreError is the error shape returned by every helper above.
type StoreError struct {
	Kind  ErrorKind
	cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.kindString(), e.cause)
}

func (e *StoreError) Unwrap() error { return e.cause }

func (e *StoreError) kindString() string {
	switch e.Kind {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindSerialization:
		return "serialization"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// classify maps a raw driver error to a StoreError using pq's SQLSTATE codes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return &StoreError{Kind: KindConflict, cause: err}
		case "40001": // serialization_failure
			return &StoreError{Kind: KindSerialization, cause: err}
		case "40P01": // deadlock_detected
			return &StoreError{Kind: KindSerialization, cause: err}
		case "08000", "08003", "08006": // connection errors
			return &StoreError{Kind: KindTransient, cause: err}
		}
	}
	return &StoreError{Kind: KindUnknown, cause: err}
}

// IsKind is a convenience check used by callers that only care about one
// classification.
func IsKind(err error, kind ErrorKind) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
