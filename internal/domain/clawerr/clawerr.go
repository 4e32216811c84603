// Package clawerr defines the typed error taxonomy returned by the gate
// pipeline and its supporting stores. Every denial, every transient backend
// failure, and every malformed-input condition surfaces as an *Error with a
// fixed Kind so callers can branch on category without string matching.
package clawerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the fixed error categories the core ever returns.
type Kind string

const (
	KindConfiguration     Kind = "configuration_error"
	KindSignatureMismatch Kind = "signature_mismatch"
	KindPolicyDeny        Kind = "policy_deny"
	KindEgressDeny        Kind = "egress_deny"
	KindCapabilityDeny    Kind = "capability_deny"
	KindModelDeny         Kind = "model_deny"
	KindDestinationDeny   Kind = "destination_deny"
	KindApprovalRequired  Kind = "approval_required"
	KindBudgetSuspended   Kind = "budget_suspended"
	KindReplayDetected    Kind = "replay_detected"
	KindTransientBackend  Kind = "transient_backend_error"
)

// denyKinds is the subset of Kind values that represent a gate denial
// (as opposed to an approval pause, a suspension, or an infrastructure fault).
var denyKinds = map[Kind]bool{
	KindPolicyDeny:      true,
	KindEgressDeny:      true,
	KindCapabilityDeny:  true,
	KindModelDeny:       true,
	KindDestinationDeny: true,
}

// Error is the structured error type returned by gates, catalogs, and stores.
type Error struct {
	Kind    Kind
	Reason  string
	GateID  string // which gate produced this, when applicable
	Cause   error
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap builds an *Error that wraps cause, preserving it for errors.Is/As.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// WithGate returns a copy of e tagged with the gate id that produced it.
func (e *Error) WithGate(gateID string) *Error {
	cp := *e
	cp.GateID = gateID
	return &cp
}

func (e *Error) Error() string {
	if e.GateID != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.GateID, e.Reason, e.Cause)
		}
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.GateID, e.Reason)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, clawerr.New(kind, "")) to match purely on Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// IsDeny reports whether err represents a gate denial (policy, egress,
// capability, model, or destination) as opposed to a pause or a fault.
func IsDeny(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return denyKinds[e.Kind]
}

// IsTransient reports whether err is a backend fault that the caller may
// retry, as distinct from a definitive security decision.
func IsTransient(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindTransientBackend
}

// KindOf extracts the Kind from err, returning ("", false) if err is not
// a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Kind, true
}
