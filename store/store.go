// Copyright 2016 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-sql-driver/mysql"
	"k8s.io/klog/v2"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// ErrPublicKeyChanged is returned by InsertLog when a caller attempts to
// change the public key of a log that already exists.
var ErrPublicKeyChanged = errors.New("store: public key changed")

// ErrTreeSizeTooLarge is returned by InsertSTHDedup when tree_size exceeds
// what fits in a signed 64-bit column (2^63-1) — no row is written.
var ErrTreeSizeTooLarge = errors.New("store: tree size too large")

// mysqlSerializationFailure and mysqlLockWaitTimeout are the error numbers
// MySQL/InnoDB uses for a serializable-isolation conflict. Anything else is
// treated as potentially connection-corrupting, per the Store's contract.
const (
	mysqlSerializationFailure = 1213
	mysqlLockWaitTimeout      = 1205
)

// maxSerializableAttempts bounds the number of times RunSerializable retries
// a transaction that fails on a serialization conflict.
const maxSerializableAttempts = 5

// Store is a thin wrapper over a relational connection pool providing
// serializable and read-committed transactional helpers, plus the typed
// operations in operations.go. A *Store may be shared across any number of
// Log Workers and Read API request handlers; it multiplexes a bounded
// connection pool internally.
type Store struct {
	db *sql.DB
}

// Open opens a connection pool to dsn (a go-sql-driver/mysql DSN) and bounds
// it to maxConns open connections, matching the ~20-connection pool named in
// the concurrency model.
func Open(ctx context.Context, dsn string, maxConns int) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetConnMaxIdleTime(time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool. The caller must ensure no
// Worker or request handler is still using the Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// isSerializationConflict reports whether err is a transient MySQL
// serialization failure or lock-wait timeout that is safe to retry.
func isSerializationConflict(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == mysqlSerializationFailure || me.Number == mysqlLockWaitTimeout
}

// RunSerializable executes f inside a read-write transaction at serializable
// isolation. On a serialization conflict it retries with exponential backoff
// starting at ~10ms, up to five attempts; any other database error is
// returned unwrapped from the retry loop so the caller can treat it as
// process-fatal, per the Store's failure semantics. Errors returned by f
// itself (user-level errors, not database errors) propagate unchanged and
// are never retried.
func (s *Store) RunSerializable(ctx context.Context, f func(*sql.Tx) error) error {
	return s.runTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, f)
}

// RunReadCommitted executes f inside a read-write transaction at
// read-committed isolation. Used only by certificate ingest, whose per-leaf
// write set is small and conflict-free by construction (content-addressed
// inserts), so the stronger isolation level buys nothing.
func (s *Store) RunReadCommitted(ctx context.Context, f func(*sql.Tx) error) error {
	return s.runTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, f)
}

// userError wraps an error returned by the caller-supplied transaction body
// so the retry loop can tell it apart from a database-level error without
// retrying or escalating it.
type userError struct{ err error }

func (u *userError) Error() string { return u.err.Error() }
func (u *userError) Unwrap() error { return u.err }

func (s *Store) runTx(ctx context.Context, opts *sql.TxOptions, f func(*sql.Tx) error) error {
	op := func() (struct{}, error) {
		tx, err := s.db.BeginTx(ctx, opts)
		if err != nil {
			if isSerializationConflict(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(fmt.Errorf("store: begin tx: %w", err))
		}

		if err := f(tx); err != nil {
			_ = tx.Rollback()
			if isSerializationConflict(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(&userError{err: err})
		}

		if err := tx.Commit(); err != nil {
			if isSerializationConflict(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(fmt.Errorf("store: commit: %w", err))
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff(
			func(b *backoff.ExponentialBackOff) { b.InitialInterval = 10 * time.Millisecond },
		)),
		backoff.WithMaxTries(maxSerializableAttempts),
	)
	if err == nil {
		return nil
	}

	var ue *userError
	if errors.As(err, &ue) {
		return ue.err
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}

	klog.Errorf("store: transaction gave up after retries: %v", err)
	return fmt.Errorf("store: transaction failed after retries: %w", err)
}
