package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Writers retry on SQLITE_BUSY a few times before giving up. WAL mode
// keeps readers out of the way, so contention is writer-on-writer only.
const (
	busyRetries   = 3
	busyBaseDelay = 50 * time.Millisecond
)

// IsBusy reports whether err is an SQLite BUSY or locked condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx runs fn inside a transaction, retrying the whole transaction
// when SQLite reports BUSY. An error from fn aborts with a rollback and
// is returned unwrapped.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return withBusyRetry(ctx, "RunTx", func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("dbopen: begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dbopen: commit: %w", err)
		}
		return nil
	})
}

// Exec runs a single statement with BUSY retry.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := withBusyRetry(ctx, "Exec", func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func withBusyRetry(ctx context.Context, op string, fn func() error) error {
	delay := busyBaseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !IsBusy(err) {
			return err
		}
		if attempt == busyRetries {
			return fmt.Errorf("dbopen: %s: still busy after %d attempts: %w", op, busyRetries, err)
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("dbopen: %s: %w", op, ctx.Err())
		case <-t.C:
		}
		delay *= 2
	}
}
