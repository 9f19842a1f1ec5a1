package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"

	"ozonassist/internal/config"
)

// Store manages complaint and image persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = busyRetryInitialBackoff
	policy.MaxInterval = busyRetryMaxBackoff
	policy.MaxElapsedTime = 0
	policy.Reset()

	bo := backoff.WithContext(backoff.WithMaxRetries(policy, busyRetryAttempts-1), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !isSQLiteBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// Open initializes or connects to the complaint database and applies pending
// schema migrations. Integrity repair is left to the caller so it runs exactly
// once per process start.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("%w: ensure directories: %v", ErrStoreUnavailable, err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dataSourceName(dbPath, cfg.Store))
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite db: %v", ErrStoreUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: connect sqlite db: %v", ErrStoreUnavailable, err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return store, nil
}

// dataSourceName carries the pragmas in the DSN so every pooled connection
// gets them. Transactions begin IMMEDIATE: a claim reads and then writes, and
// taking the write lock up front avoids the deferred-upgrade busy error.
func dataSourceName(path string, cfg config.Store) string {
	params := url.Values{}
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeoutMillis))
	if cfg.CacheKiB > 0 {
		params.Add("_pragma", fmt.Sprintf("cache_size(-%d)", cfg.CacheKiB))
	}
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Exec runs a write statement, retrying while the database is busy.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Query runs a read statement.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ensureContext(ctx), query, args...)
}

// QueryRow runs a single-row read statement.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ensureContext(ctx), query, args...)
}

// WithTx runs fn inside one transaction. The whole transaction is retried
// when SQLite reports the database busy; fn must therefore be free of side
// effects outside tx.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
