// Package replaybackend provides the three backend implementations of
// replay.Backend: embedded SQLite, remote cache (Redis), and remote SQL
// (Postgres).
package replaybackend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clawee/clawee-core/internal/domain/replay"

	_ "modernc.org/sqlite"
)

// SQLite is the embedded, single-writer replay backend: an upsert with
// INSERT OR IGNORE, opportunistically sweeping expired rows before each
// write so the table does not grow unbounded between restarts.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) the replay table at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("replaybackend: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline
	const schema = `
CREATE TABLE IF NOT EXISTS replay_entries (
	namespace TEXT NOT NULL,
	hash TEXT NOT NULL,
	seen_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, hash)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("replaybackend: create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// RegisterIfAbsent implements replay.Backend.
func (s *SQLite) RegisterIfAbsent(ctx context.Context, namespace replay.Namespace, hash string, ttl time.Duration) (bool, error) {
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM replay_entries WHERE expires_at < ?`, now.Unix()); err != nil {
		return false, fmt.Errorf("replaybackend: sweep expired rows: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO replay_entries (namespace, hash, seen_at, expires_at) VALUES (?, ?, ?, ?)`,
		string(namespace), hash, now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return false, fmt.Errorf("replaybackend: insert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("replaybackend: rows affected: %w", err)
	}
	return affected == 1, nil
}
