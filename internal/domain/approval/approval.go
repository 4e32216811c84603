// Package approval implements the quorum/role/use-count approval state
// machine: pending records accumulate approving actors until quorum and
// role coverage are satisfied, then become consumable a fixed number of
// times before a fingerprint-bound request can no longer ride on them.
package approval

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is one of the state machine's four states. pending is the only
// non-terminal one.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Policy is the default/override approval requirement: how many distinct
// approving actors are needed and which roles must be represented among
// them.
type Policy struct {
	RequiredApprovals int      `json:"required_approvals"` // 1..5
	RequiredRoles     []string `json:"required_roles"`
}

// Rules is the signed approval-policy catalog: a default policy plus
// override maps keyed by risk class, tool name, and "channel:action".
// Merge rule when several overrides apply to one request: union of
// required roles, max of required approvals.
type Rules struct {
	Default          Policy            `json:"default"`
	ByRiskClass       map[string]Policy `json:"by_risk_class"`
	ByTool            map[string]Policy `json:"by_tool"`
	ByChannelAction   map[string]Policy `json:"by_channel_action"`
}

// Merge produces the effective policy for a request by unioning roles and
// maxing required approvals across the default and every override that
// applies.
func (r Rules) Merge(riskClass, tool, channelAction string) Policy {
	merged := r.Default
	roleSet := make(map[string]struct{})
	for _, role := range merged.RequiredRoles {
		roleSet[role] = struct{}{}
	}

	apply := func(p Policy, ok bool) {
		if !ok {
			return
		}
		if p.RequiredApprovals > merged.RequiredApprovals {
			merged.RequiredApprovals = p.RequiredApprovals
		}
		for _, role := range p.RequiredRoles {
			roleSet[role] = struct{}{}
		}
	}
	if p, ok := r.ByRiskClass[riskClass]; ok {
		apply(p, true)
	}
	if p, ok := r.ByTool[tool]; ok {
		apply(p, true)
	}
	if p, ok := r.ByChannelAction[channelAction]; ok {
		apply(p, true)
	}

	merged.RequiredRoles = make([]string, 0, len(roleSet))
	for role := range roleSet {
		merged.RequiredRoles = append(merged.RequiredRoles, role)
	}
	return merged
}

// Record is a stored approval. Once Status leaves pending, ApprovalActors
// and RequiredRoles are frozen — see §4.3's absorbing-terminal-state rule.
type Record struct {
	ID                 string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ExpiresAt          time.Time
	Status             Status
	RequiredApprovals  int
	RequiredRoles      map[string]struct{}
	ApprovalActors     map[string]struct{}
	ApprovalActorRoles map[string]string // actor -> role
	MaxUses            int
	UseCount           int
	LastUsedAt         *time.Time
	RequestFingerprint string
	Reason             string
	Metadata           map[string]interface{}
	ResolvedBy         string
	ResolvedAt         *time.Time
}

// NewRecord constructs a fresh pending record for fingerprint under policy.
func NewRecord(fingerprint, reason string, policy Policy, maxUses int, ttl time.Duration, now time.Time) *Record {
	roles := make(map[string]struct{}, len(policy.RequiredRoles))
	for _, r := range policy.RequiredRoles {
		roles[r] = struct{}{}
	}
	return &Record{
		ID:                 uuid.NewString(),
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.Add(ttl),
		Status:             StatusPending,
		RequiredApprovals:  policy.RequiredApprovals,
		RequiredRoles:      roles,
		ApprovalActors:     make(map[string]struct{}),
		ApprovalActorRoles: make(map[string]string),
		MaxUses:            maxUses,
		RequestFingerprint: fingerprint,
		Reason:             reason,
	}
}

// ExpireIfDue lazily transitions a pending record past its expiry to
// expired, per §4.3's "on every read" rule. Returns whether a transition
// happened.
func (r *Record) ExpireIfDue(now time.Time) bool {
	if r.Status != StatusPending || now.Before(r.ExpiresAt) {
		return false
	}
	r.Status = StatusExpired
	r.UpdatedAt = now
	return true
}

// Upgrade merges a new approval request into an existing pending record
// for the same fingerprint: required_approvals becomes the max, roles are
// unioned, and max_uses is raised to the max. No-op on non-pending records.
func (r *Record) Upgrade(requiredApprovals int, requiredRoles []string, maxUses int, now time.Time) {
	if r.Status != StatusPending {
		return
	}
	if requiredApprovals > r.RequiredApprovals {
		r.RequiredApprovals = requiredApprovals
	}
	for _, role := range requiredRoles {
		r.RequiredRoles[role] = struct{}{}
	}
	if maxUses > r.MaxUses {
		r.MaxUses = maxUses
	}
	r.UpdatedAt = now
}

// Approve records one approving actor. Transitions to approved once
// quorum and role coverage are both satisfied. No-op on non-pending
// records.
func (r *Record) Approve(actor, role string, now time.Time) {
	if r.Status != StatusPending {
		return
	}
	r.ApprovalActors[actor] = struct{}{}
	if role != "" {
		r.ApprovalActorRoles[actor] = role
	}
	r.UpdatedAt = now

	if len(r.ApprovalActors) < r.RequiredApprovals {
		return
	}
	if !r.hasAllRequiredRoles() {
		return
	}
	r.Status = StatusApproved
	r.ResolvedBy = actor
	r.ResolvedAt = &now
}

func (r *Record) hasAllRequiredRoles() bool {
	represented := make(map[string]struct{}, len(r.ApprovalActorRoles))
	for _, role := range r.ApprovalActorRoles {
		represented[role] = struct{}{}
	}
	for role := range r.RequiredRoles {
		if _, ok := represented[role]; !ok {
			return false
		}
	}
	return true
}

// Deny transitions a pending record to denied. No-op on non-pending
// records — once resolved, deny no longer applies.
func (r *Record) Deny(actor string, now time.Time) {
	if r.Status != StatusPending {
		return
	}
	r.Status = StatusDenied
	r.ResolvedBy = actor
	r.ResolvedAt = &now
	r.UpdatedAt = now
}

// Consume performs the atomic conditional update described in §4.3:
// increment use_count iff status=approved, fingerprint matches, the
// record has not expired, and use_count < max_uses. Returns whether the
// record was updated. Callers against a real store must perform this as a
// single conditional UPDATE; this in-memory version is for tests and the
// reference in-process Store below.
func (r *Record) Consume(fingerprint string, now time.Time) bool {
	if r.Status != StatusApproved {
		return false
	}
	if r.RequestFingerprint != fingerprint {
		return false
	}
	if now.After(r.ExpiresAt) {
		return false
	}
	if r.UseCount >= r.MaxUses {
		return false
	}
	r.UseCount++
	r.LastUsedAt = &now
	return true
}

// Store is the persistence contract the pipeline's approval gate depends
// on. A SQLite-backed implementation lives in
// internal/adapter/outbound/sqlitestore; it must honor the same
// get-or-create-under-a-single-write idempotency rule this interface
// implies for GetOrCreatePending.
type Store interface {
	// GetOrCreatePending returns the existing pending/approved record for
	// fingerprint if one exists (upgrading it per Record.Upgrade when it
	// is still pending), or creates a new pending record otherwise. This
	// must be atomic across concurrent callers racing on the same
	// fingerprint.
	GetOrCreatePending(ctx context.Context, fingerprint string, policy Policy, maxUses int, ttl time.Duration, reason string, now time.Time) (*Record, error)
	Get(ctx context.Context, id string) (*Record, error)
	Approve(ctx context.Context, id, actor, role string, now time.Time) (*Record, error)
	Deny(ctx context.Context, id, actor string, now time.Time) (*Record, error)
	Consume(ctx context.Context, id, fingerprint string, now time.Time) (bool, error)
	List(ctx context.Context, status Status) ([]*Record, error)
}
