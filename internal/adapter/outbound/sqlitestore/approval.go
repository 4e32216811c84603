// Package sqlitestore provides embedded-SQLite persistence for the
// approval and budget domains. Approval requests written through
// ApprovalStore survive process restarts; budget events and suspend state
// survive only as far as they are written through BudgetStore. It
// mirrors the single-writer discipline used by the replay SQLite backend:
// one open connection, opportunistic schema creation, no ORM.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/clawee/clawee-core/internal/domain/approval"

	_ "modernc.org/sqlite"
)

// ApprovalStore is a SQLite-backed approval.Store. Status, fingerprint,
// use_count, max_uses and expires_at are promoted to real columns so
// Consume can run as one conditional UPDATE matching the exact predicate
// the in-memory Record.Consume checks; every other field rides along as a
// JSON blob.
type ApprovalStore struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenApprovalStore opens (creating if necessary) the approvals table at path.
func OpenApprovalStore(path string) (*ApprovalStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	const schema = `
CREATE TABLE IF NOT EXISTS approvals (
	id TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	status TEXT NOT NULL,
	use_count INTEGER NOT NULL,
	max_uses INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	record_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS approvals_fingerprint_idx ON approvals(fingerprint);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}
	return &ApprovalStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *ApprovalStore) Close() error {
	return s.db.Close()
}

// wireRecord is the JSON shape stored in record_json — a direct mirror of
// approval.Record with set fields flattened to slices for serialization.
type wireRecord struct {
	ID                 string            `json:"id"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	ExpiresAt          time.Time         `json:"expires_at"`
	Status             approval.Status   `json:"status"`
	RequiredApprovals  int               `json:"required_approvals"`
	RequiredRoles      []string          `json:"required_roles"`
	ApprovalActors     []string          `json:"approval_actors"`
	ApprovalActorRoles map[string]string `json:"approval_actor_roles"`
	MaxUses            int               `json:"max_uses"`
	UseCount           int               `json:"use_count"`
	LastUsedAt         *time.Time        `json:"last_used_at"`
	RequestFingerprint string            `json:"request_fingerprint"`
	Reason             string            `json:"reason"`
	Metadata           map[string]interface{} `json:"metadata"`
	ResolvedBy         string            `json:"resolved_by"`
	ResolvedAt         *time.Time        `json:"resolved_at"`
}

func toWire(r *approval.Record) wireRecord {
	roles := make([]string, 0, len(r.RequiredRoles))
	for role := range r.RequiredRoles {
		roles = append(roles, role)
	}
	actors := make([]string, 0, len(r.ApprovalActors))
	for actor := range r.ApprovalActors {
		actors = append(actors, actor)
	}
	return wireRecord{
		ID: r.ID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, ExpiresAt: r.ExpiresAt,
		Status: r.Status, RequiredApprovals: r.RequiredApprovals, RequiredRoles: roles,
		ApprovalActors: actors, ApprovalActorRoles: r.ApprovalActorRoles,
		MaxUses: r.MaxUses, UseCount: r.UseCount, LastUsedAt: r.LastUsedAt,
		RequestFingerprint: r.RequestFingerprint, Reason: r.Reason, Metadata: r.Metadata,
		ResolvedBy: r.ResolvedBy, ResolvedAt: r.ResolvedAt,
	}
}

func (w wireRecord) toRecord() *approval.Record {
	roles := make(map[string]struct{}, len(w.RequiredRoles))
	for _, role := range w.RequiredRoles {
		roles[role] = struct{}{}
	}
	actors := make(map[string]struct{}, len(w.ApprovalActors))
	for _, actor := range w.ApprovalActors {
		actors[actor] = struct{}{}
	}
	actorRoles := w.ApprovalActorRoles
	if actorRoles == nil {
		actorRoles = map[string]string{}
	}
	return &approval.Record{
		ID: w.ID, CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt, ExpiresAt: w.ExpiresAt,
		Status: w.Status, RequiredApprovals: w.RequiredApprovals, RequiredRoles: roles,
		ApprovalActors: actors, ApprovalActorRoles: actorRoles,
		MaxUses: w.MaxUses, UseCount: w.UseCount, LastUsedAt: w.LastUsedAt,
		RequestFingerprint: w.RequestFingerprint, Reason: w.Reason, Metadata: w.Metadata,
		ResolvedBy: w.ResolvedBy, ResolvedAt: w.ResolvedAt,
	}
}

func (s *ApprovalStore) put(ctx context.Context, r *approval.Record) error {
	blob, err := json.Marshal(toWire(r))
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO approvals (id, fingerprint, status, use_count, max_uses, expires_at, record_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			fingerprint=excluded.fingerprint, status=excluded.status, use_count=excluded.use_count,
			max_uses=excluded.max_uses, expires_at=excluded.expires_at, record_json=excluded.record_json`,
		r.ID, r.RequestFingerprint, string(r.Status), r.UseCount, r.MaxUses, r.ExpiresAt.Unix(), string(blob))
	if err != nil {
		return fmt.Errorf("sqlitestore: upsert record: %w", err)
	}
	return nil
}

func (s *ApprovalStore) getByID(ctx context.Context, id string) (*approval.Record, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT record_json FROM approvals WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: select record: %w", err)
	}
	var w wireRecord
	if err := json.Unmarshal([]byte(blob), &w); err != nil {
		return nil, fmt.Errorf("sqlitestore: unmarshal record: %w", err)
	}
	return w.toRecord(), nil
}

func (s *ApprovalStore) getByFingerprint(ctx context.Context, fingerprint string) (*approval.Record, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT record_json FROM approvals WHERE fingerprint = ? ORDER BY expires_at DESC LIMIT 1`, fingerprint).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: select by fingerprint: %w", err)
	}
	var w wireRecord
	if err := json.Unmarshal([]byte(blob), &w); err != nil {
		return nil, fmt.Errorf("sqlitestore: unmarshal record: %w", err)
	}
	return w.toRecord(), nil
}

// GetOrCreatePending implements approval.Store. The mutex makes the whole
// read-modify-write atomic across concurrent callers, matching the
// single-writer discipline of the SQLite connection.
func (s *ApprovalStore) GetOrCreatePending(ctx context.Context, fingerprint string, policy approval.Policy, maxUses int, ttl time.Duration, reason string, now time.Time) (*approval.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.ExpireIfDue(now)
		if existing.Status == approval.StatusPending {
			existing.Upgrade(policy.RequiredApprovals, policy.RequiredRoles, maxUses, now)
		}
		if existing.Status != approval.StatusExpired {
			if err := s.put(ctx, existing); err != nil {
				return nil, err
			}
			return existing, nil
		}
	}

	fresh := approval.NewRecord(fingerprint, reason, policy, maxUses, ttl, now)
	if err := s.put(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Get implements approval.Store.
func (s *ApprovalStore) Get(ctx context.Context, id string) (*approval.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getByID(ctx, id)
}

// Approve implements approval.Store.
func (s *ApprovalStore) Approve(ctx context.Context, id, actor, role string, now time.Time) (*approval.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.getByID(ctx, id)
	if err != nil || r == nil {
		return r, err
	}
	r.ExpireIfDue(now)
	r.Approve(actor, role, now)
	if err := s.put(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Deny implements approval.Store.
func (s *ApprovalStore) Deny(ctx context.Context, id, actor string, now time.Time) (*approval.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.getByID(ctx, id)
	if err != nil || r == nil {
		return r, err
	}
	r.ExpireIfDue(now)
	r.Deny(actor, now)
	if err := s.put(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Consume implements approval.Store as a single conditional UPDATE
// matching Record.Consume's exact predicate: status=approved AND
// fingerprint matches AND not expired AND use_count<max_uses.
func (s *ApprovalStore) Consume(ctx context.Context, id, fingerprint string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET use_count = use_count + 1
		 WHERE id = ? AND fingerprint = ? AND status = ? AND expires_at >= ? AND use_count < max_uses`,
		id, fingerprint, string(approval.StatusApproved), now.Unix())
	if err != nil {
		return false, fmt.Errorf("sqlitestore: consume: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlitestore: rows affected: %w", err)
	}
	if affected != 1 {
		return false, nil
	}

	r, err := s.getByID(ctx, id)
	if err != nil || r == nil {
		return affected == 1, err
	}
	r.UseCount++
	r.LastUsedAt = &now
	if err := s.put(ctx, r); err != nil {
		return false, err
	}
	return true, nil
}

// List implements approval.Store.
func (s *ApprovalStore) List(ctx context.Context, status approval.Status) ([]*approval.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT record_json FROM approvals WHERE status = ?`, string(status))
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()

	var out []*approval.Record
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan: %w", err)
		}
		var w wireRecord
		if err := json.Unmarshal([]byte(blob), &w); err != nil {
			return nil, fmt.Errorf("sqlitestore: unmarshal: %w", err)
		}
		out = append(out, w.toRecord())
	}
	return out, rows.Err()
}

var _ approval.Store = (*ApprovalStore)(nil)
