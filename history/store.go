package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/domatlas/dbopen"
)

// Schema creates the export persistence table. Passed to dbopen.Open
// through WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS history_exports (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    url        TEXT NOT NULL,
    exported_at INTEGER NOT NULL,
    document   BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_exports_url ON history_exports(url, exported_at DESC);
`

// ErrNoExport is returned by Latest when no export exists for a URL.
var ErrNoExport = errors.New("history: no export stored")

// Store persists exported snapshot trees in SQLite.
type Store struct {
	DB *sql.DB
}

// Save stores an export document for a URL.
func (s *Store) Save(ctx context.Context, url string, doc []byte) error {
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO history_exports (url, exported_at, document) VALUES (?, ?, ?)`,
			url, time.Now().UnixMilli(), doc)
		return err
	})
	if err != nil {
		return fmt.Errorf("history: save export: %w", err)
	}
	return nil
}

// Latest returns the most recent export document for a URL.
func (s *Store) Latest(ctx context.Context, url string) ([]byte, error) {
	var doc []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT document FROM history_exports WHERE url = ? ORDER BY exported_at DESC, id DESC LIMIT 1`,
		url).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoExport, url)
	}
	if err != nil {
		return nil, fmt.Errorf("history: load export: %w", err)
	}
	return doc, nil
}

// Prune deletes exports older than the cutoff, returning the number
// removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := dbopen.Exec(ctx, s.DB,
		`DELETE FROM history_exports WHERE exported_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("history: prune exports: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
