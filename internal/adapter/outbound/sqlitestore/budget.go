package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clawee/clawee-core/internal/domain/budget"
)

// BudgetStore persists cost events and the singleton suspend-state row so
// a budget.Controller can be rehydrated across restarts.
type BudgetStore struct {
	db *sql.DB
}

// OpenBudgetStore opens (creating if necessary) the budget tables at path.
func OpenBudgetStore(path string) (*BudgetStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	const schema = `
CREATE TABLE IF NOT EXISTS cost_events (
	timestamp INTEGER NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	usd_cost REAL NOT NULL,
	request_path TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS cost_events_timestamp_idx ON cost_events(timestamp);
CREATE TABLE IF NOT EXISTS budget_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	suspended INTEGER NOT NULL,
	reason TEXT NOT NULL,
	triggered_at INTEGER,
	resumed_at INTEGER,
	resumed_by TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}
	return &BudgetStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *BudgetStore) Close() error {
	return s.db.Close()
}

// RecordEvent appends a cost event.
func (s *BudgetStore) RecordEvent(ctx context.Context, e budget.CostEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_events (timestamp, model, input_tokens, output_tokens, usd_cost, request_path)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Timestamp.Unix(), e.Model, e.InputTokens, e.OutputTokens, e.USDCost, e.RequestPath)
	if err != nil {
		return fmt.Errorf("sqlitestore: record cost event: %w", err)
	}
	return nil
}

// SaveState persists the suspend-state singleton row.
func (s *BudgetStore) SaveState(ctx context.Context, st budget.State) error {
	var triggeredAt, resumedAt interface{}
	if st.TriggeredAt != nil {
		triggeredAt = st.TriggeredAt.Unix()
	}
	if st.ResumedAt != nil {
		resumedAt = st.ResumedAt.Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_state (id, suspended, reason, triggered_at, resumed_at, resumed_by, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			suspended=excluded.suspended, reason=excluded.reason, triggered_at=excluded.triggered_at,
			resumed_at=excluded.resumed_at, resumed_by=excluded.resumed_by, updated_at=excluded.updated_at`,
		st.Suspended, st.Reason, triggeredAt, resumedAt, st.ResumedBy, st.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlitestore: save budget state: %w", err)
	}
	return nil
}

// WindowSum sums usd_cost for events with since <= timestamp <= until.
func (s *BudgetStore) WindowSum(ctx context.Context, since, until time.Time) (float64, error) {
	var sum sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(usd_cost) FROM cost_events WHERE timestamp >= ? AND timestamp <= ?`,
		since.Unix(), until.Unix()).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: window sum: %w", err)
	}
	return sum.Float64, nil
}

// Hydrate loads every persisted event since the start of the current UTC
// day (the widest window a Controller needs — the daily cap) plus the
// suspend state, and returns a Controller ready to serve requests.
func (s *BudgetStore) Hydrate(ctx context.Context, caps budget.Caps, dayStart time.Time) (*budget.Controller, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, model, input_tokens, output_tokens, usd_cost, request_path
		 FROM cost_events WHERE timestamp >= ? ORDER BY timestamp ASC`, dayStart.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: hydrate events: %w", err)
	}
	defer rows.Close()

	var events []budget.CostEvent
	for rows.Next() {
		var e budget.CostEvent
		var ts int64
		if err := rows.Scan(&ts, &e.Model, &e.InputTokens, &e.OutputTokens, &e.USDCost, &e.RequestPath); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan event: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var st budget.State
	var suspended int
	var triggeredAt, resumedAt sql.NullInt64
	var reason, resumedBy string
	var updatedAt int64
	err = s.db.QueryRowContext(ctx,
		`SELECT suspended, reason, triggered_at, resumed_at, resumed_by, updated_at FROM budget_state WHERE id = 1`,
	).Scan(&suspended, &reason, &triggeredAt, &resumedAt, &resumedBy, &updatedAt)
	switch {
	case err == sql.ErrNoRows:
		// no persisted state yet; Controller starts unsuspended.
	case err != nil:
		return nil, fmt.Errorf("sqlitestore: hydrate state: %w", err)
	default:
		st.Suspended = suspended != 0
		st.Reason = reason
		st.ResumedBy = resumedBy
		st.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		if triggeredAt.Valid {
			t := time.Unix(triggeredAt.Int64, 0).UTC()
			st.TriggeredAt = &t
		}
		if resumedAt.Valid {
			t := time.Unix(resumedAt.Int64, 0).UTC()
			st.ResumedAt = &t
		}
	}

	return budget.NewControllerWithState(caps, st, events), nil
}
