// Package modelregistry gates outbound requests on a signed catalog of
// approved (model_id, modality) entries, each individually signed over its
// own canonical payload rather than sharing one catalog-wide signature.
package modelregistry

import (
	"sync/atomic"
	"time"

	"github.com/clawee/clawee-core/internal/domain/canon"
	"github.com/clawee/clawee-core/internal/domain/clawerr"
	"github.com/clawee/clawee-core/internal/domain/signing"
)

// Modality is one of the fixed modalities a model entry may serve.
type Modality string

const (
	ModalityText      Modality = "text"
	ModalityVision    Modality = "vision"
	ModalityAudio     Modality = "audio"
	ModalitySafety    Modality = "safety"
	ModalityEmbedding Modality = "embedding"
)

// WildcardModelID is the fallback model id checked when no entry matches
// the requested model exactly.
const WildcardModelID = "*"

// Entry is one signed model-registry row. Signature covers the canonical
// form of every field below except Signature itself.
type Entry struct {
	ModelID        string     `json:"model_id"`
	Modality       Modality   `json:"modality"`
	ArtifactDigest string     `json:"artifact_digest"`
	Approved       bool       `json:"approved"`
	ValidFrom      *time.Time `json:"valid_from,omitempty"`
	ValidTo        *time.Time `json:"valid_to,omitempty"`
	Signature      string     `json:"signature"`
}

func (e Entry) payload() interface{} {
	return map[string]interface{}{
		"model_id":        e.ModelID,
		"modality":        e.Modality,
		"artifact_digest": e.ArtifactDigest,
		"approved":        e.Approved,
		"valid_from":      e.ValidFrom,
		"valid_to":        e.ValidTo,
	}
}

func (e Entry) validAt(t time.Time) bool {
	if e.ValidFrom != nil && t.Before(*e.ValidFrom) {
		return false
	}
	if e.ValidTo != nil && t.After(*e.ValidTo) {
		return false
	}
	return true
}

// Registry holds the currently loaded, individually-verified entries.
// Reload publishes a new snapshot atomically via Store/Load.
type Registry struct {
	entries atomic.Pointer[[]Entry]
}

// NewRegistry builds an empty Registry; Check on an empty registry always
// denies.
func NewRegistry() *Registry {
	return &Registry{}
}

// Load verifies every entry's signature against kr (or staticKey if kr is
// nil) and, only if every single entry verifies, publishes the new
// snapshot. One bad entry fails the entire load, per the registry's
// load-time invariant.
func (r *Registry) Load(entries []Entry, kr *signing.Keyring, staticKey []byte) error {
	for _, e := range entries {
		canonical, err := canon.Canonicalize(e.payload())
		if err != nil {
			return clawerr.Wrap(clawerr.KindConfiguration, "modelregistry: canonicalize entry failed", err).WithGate("modelregistry")
		}
		var ok bool
		switch {
		case kr != nil:
			ok, _ = signing.VerifyAny(canonical, e.Signature, kr)
		case len(staticKey) > 0:
			ok = signing.VerifyStatic(canonical, e.Signature, staticKey)
		default:
			return clawerr.New(clawerr.KindConfiguration, "modelregistry: no verification key configured").WithGate("modelregistry")
		}
		if !ok {
			return clawerr.New(clawerr.KindSignatureMismatch, "modelregistry: entry "+e.ModelID+"/"+string(e.Modality)+" failed signature verification").
				WithGate("modelregistry")
		}
	}
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	r.entries.Store(&cp)
	return nil
}

// Check reports whether modelID/modality has an approved, currently-valid
// entry, falling back to the "*" wildcard model id if no exact match is
// currently valid.
func (r *Registry) Check(modelID string, modality Modality, now time.Time) (bool, string) {
	entries := r.entries.Load()
	if entries == nil {
		return false, "model registry has no entries loaded"
	}

	if ok := matchApproved(*entries, modelID, modality, now); ok {
		return true, ""
	}
	if modelID != WildcardModelID {
		if ok := matchApproved(*entries, WildcardModelID, modality, now); ok {
			return true, ""
		}
	}
	return false, "no approved, currently-valid entry for model " + modelID + " modality " + string(modality)
}

func matchApproved(entries []Entry, modelID string, modality Modality, now time.Time) bool {
	for _, e := range entries {
		if e.ModelID != modelID || e.Modality != modality {
			continue
		}
		if e.Approved && e.validAt(now) {
			return true
		}
	}
	return false
}
