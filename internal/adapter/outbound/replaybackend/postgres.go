package replaybackend

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/clawee/clawee-core/internal/domain/replay"

	_ "github.com/lib/pq"
)

// Postgres is the remote-SQL replay backend: INSERT ... ON CONFLICT DO
// NOTHING RETURNING over a (hash PRIMARY KEY, seen_at, expires_at) schema,
// with a periodic sweep on roughly 1-in-sweepEvery writes so expired rows
// do not accumulate without a dedicated janitor process.
type Postgres struct {
	db         *sql.DB
	sweepEvery int
}

const defaultSweepEvery = 64

// NewPostgres wraps an existing *sql.DB opened against the lib/pq driver.
// The caller owns the connection's lifecycle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, sweepEvery: defaultSweepEvery}
}

// EnsureSchema creates the replay table if it does not already exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS replay_entries (
	namespace TEXT NOT NULL,
	hash TEXT NOT NULL,
	seen_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (namespace, hash)
);`
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("replaybackend: create schema: %w", err)
	}
	return nil
}

// RegisterIfAbsent implements replay.Backend.
func (p *Postgres) RegisterIfAbsent(ctx context.Context, namespace replay.Namespace, hash string, ttl time.Duration) (bool, error) {
	if rand.Intn(p.sweepEvery) == 0 {
		if _, err := p.db.ExecContext(ctx, `DELETE FROM replay_entries WHERE expires_at < now()`); err != nil {
			return false, fmt.Errorf("replaybackend: sweep expired rows: %w", err)
		}
	}

	now := time.Now()
	var returnedHash string
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO replay_entries (namespace, hash, seen_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (namespace, hash) DO NOTHING
		 RETURNING hash`,
		string(namespace), hash, now, now.Add(ttl)).Scan(&returnedHash)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("replaybackend: insert: %w", err)
	}
	return true, nil
}
