// Package invariant maintains the fixed catalog of eight named runtime
// security invariants that every gate checks into, and exposes their
// definition hash so a conformance report can detect unauthorized catalog
// drift.
package invariant

import (
	"sort"
	"sync"
	"time"

	"github.com/clawee/clawee-core/internal/domain/canon"
	"github.com/prometheus/client_golang/prometheus"
)

// ID is one of the eight fixed invariant identifiers.
type ID string

const (
	IDEgressGate      ID = "INV-001-EGRESS-GATE"
	IDCapabilityGate  ID = "INV-002-CAPABILITY-GATE"
	IDModelGate       ID = "INV-003-MODEL-GATE"
	IDPolicyGate      ID = "INV-004-POLICY-GATE"
	IDApprovalGate    ID = "INV-005-APPROVAL-GATE"
	IDBudgetGate      ID = "INV-006-BUDGET-GATE"
	IDReplayProtected ID = "INV-007-REPLAY-PROTECTED"
	IDLedgerChained   ID = "INV-008-LEDGER-CHAINED"
)

// definitions is the fixed, ordered catalog. Order matters only for the
// stability of definitionHash, which canonicalizes the sorted slice anyway.
var definitions = []ID{
	IDEgressGate,
	IDCapabilityGate,
	IDModelGate,
	IDPolicyGate,
	IDApprovalGate,
	IDBudgetGate,
	IDReplayProtected,
	IDLedgerChained,
}

// Status is the last observed outcome for an invariant.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusUnknown Status = "unknown"
)

// State is the counter snapshot for a single invariant.
type State struct {
	ID                 ID
	Passes             uint64
	Failures           uint64
	LastStatus         Status
	LastCheckedAt      time.Time
	LastFailureReason  string
	LastFailureContext map[string]interface{}
}

// Registry tracks pass/fail counts for the fixed invariant catalog, backed
// by a prometheus.CounterVec so every counted boundary is scrape-visible
// even though the scrape endpoint itself lives outside this module.
type Registry struct {
	mu     sync.Mutex
	states map[ID]*State
	counter *prometheus.CounterVec
}

// NewRegistry builds a Registry and registers its CounterVec against reg.
// Passing a fresh prometheus.NewRegistry() in tests avoids collisions with
// the default global registry.
func NewRegistry(reg prometheus.Registerer) *Registry {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clawee",
		Subsystem: "invariant",
		Name:      "checks_total",
		Help:      "Count of invariant checks by id and outcome status.",
	}, []string{"invariant_id", "status"})
	if reg != nil {
		reg.MustRegister(counter)
	}

	states := make(map[ID]*State, len(definitions))
	for _, id := range definitions {
		states[id] = &State{ID: id, LastStatus: StatusUnknown}
	}
	return &Registry{states: states, counter: counter}
}

// Check records the outcome of evaluating invariant id. reason and context
// are only retained on failure.
func (r *Registry) Check(id ID, passed bool, reason string, context map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[id]
	if !ok {
		// Defensive: an id outside the fixed catalog is a programming
		// error in a gate, not a runtime condition to tolerate silently.
		st = &State{ID: id}
		r.states[id] = st
	}

	st.LastCheckedAt = now()
	if passed {
		st.Passes++
		st.LastStatus = StatusPass
		r.counter.WithLabelValues(string(id), string(StatusPass)).Inc()
		return
	}
	st.Failures++
	st.LastStatus = StatusFail
	st.LastFailureReason = reason
	st.LastFailureContext = context
	r.counter.WithLabelValues(string(id), string(StatusFail)).Inc()
}

// Snapshot returns a copy of all invariant states, sorted by id.
func (r *Registry) Snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]State, 0, len(r.states))
	for _, st := range r.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DefinitionHash returns the SHA-256 of the canonical, sorted invariant
// catalog. A conformance report embeds this as invariant_catalog_hash so a
// verifier can detect that the running binary's invariant set differs from
// the one the report was produced against.
func DefinitionHash() (string, error) {
	ids := make([]string, len(definitions))
	for i, id := range definitions {
		ids[i] = string(id)
	}
	sort.Strings(ids)
	return canon.Fingerprint(ids)
}

// now is overridable in tests; production code always uses time.Now.
var now = time.Now
