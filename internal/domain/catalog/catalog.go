// Package catalog implements the generic signed-catalog envelope shared by
// every rule set the core loads: policy rules, capability rules, the model
// registry, approval policy, destination policy, the connector catalog, the
// pricing catalog, and the control-token catalog.
//
// A catalog file is a JSON object carrying an arbitrary "rules" payload plus
// either a legacy `signature` (64 hex chars) or a `signature_v2: {kid, sig}`
// envelope. Loading verifies the signature, then hands back the normalized
// rules together with a fingerprint and a descriptor of which signing mode
// produced it.
package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/clawee/clawee-core/internal/domain/canon"
	"github.com/clawee/clawee-core/internal/domain/clawerr"
	"github.com/clawee/clawee-core/internal/domain/signing"
)

// SigningMode records which signature path validated a catalog at load
// time. Once loaded, this value is immutable until the next reload.
type SigningMode string

const (
	SigningModeNone    SigningMode = "none"
	SigningModeStatic  SigningMode = "static"
	SigningModeKeyring SigningMode = "keyring"
)

// envelope is the on-disk shape of any signed catalog file.
type envelope struct {
	Rules        json.RawMessage `json:"rules"`
	Signature    string          `json:"signature,omitempty"`
	SignatureV2  *signing.Signature `json:"signature_v2,omitempty"`
}

// Options controls how a catalog is verified at load time. Exactly one
// verification path should be configured; Keyring takes precedence over
// StaticKey if both are set, and if neither is set the catalog loads
// unsigned (SigningModeNone), which is only appropriate for fixtures and
// tests, never production catalogs — callers enforce that policy.
type Options struct {
	Keyring   *signing.Keyring
	StaticKey []byte
	// AllowUnsigned permits SigningModeNone; production loaders should
	// leave this false so a catalog with neither a keyring nor a static
	// key configured fails closed instead of loading unsigned.
	AllowUnsigned bool
}

// SignedCatalog is the normalized result of loading and verifying a catalog
// file: the decoded rules of type T, their fingerprint, and a descriptor of
// the signing mode used.
type SignedCatalog[T any] struct {
	Rules       T
	Fingerprint string
	SigningMode SigningMode
	ActiveKid   string // only set when SigningMode == keyring
}

// Load parses raw, verifies its signature per opts, and decodes its rules
// field into T. The fingerprint is always computed over the canonical form
// of the rules payload alone (not the envelope), so that re-signing a
// catalog with a rotated key does not change its fingerprint.
func Load[T any](raw []byte, opts Options) (SignedCatalog[T], error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return SignedCatalog[T]{}, clawerr.Wrap(clawerr.KindConfiguration, "catalog: malformed envelope", err)
	}
	if len(env.Rules) == 0 {
		return SignedCatalog[T]{}, clawerr.New(clawerr.KindConfiguration, "catalog: missing rules field")
	}

	var genericRules interface{}
	if err := json.Unmarshal(env.Rules, &genericRules); err != nil {
		return SignedCatalog[T]{}, clawerr.Wrap(clawerr.KindConfiguration, "catalog: rules field is not valid JSON", err)
	}
	canonicalRules, err := canon.Canonicalize(genericRules)
	if err != nil {
		return SignedCatalog[T]{}, clawerr.Wrap(clawerr.KindConfiguration, "catalog: canonicalization failed", err)
	}

	mode, activeKid, err := verify(canonicalRules, env, opts)
	if err != nil {
		return SignedCatalog[T]{}, err
	}

	var rules T
	if err := json.Unmarshal(env.Rules, &rules); err != nil {
		return SignedCatalog[T]{}, clawerr.Wrap(clawerr.KindConfiguration, "catalog: rules do not match expected shape", err)
	}

	return SignedCatalog[T]{
		Rules:       rules,
		Fingerprint: canon.HashBytes(canonicalRules),
		SigningMode: mode,
		ActiveKid:   activeKid,
	}, nil
}

func verify(canonicalRules []byte, env envelope, opts Options) (SigningMode, string, error) {
	switch {
	case opts.Keyring != nil:
		if env.SignatureV2 != nil {
			ok, err := signing.VerifyKid(canonicalRules, *env.SignatureV2, opts.Keyring)
			if err != nil {
				return "", "", clawerr.Wrap(clawerr.KindSignatureMismatch, "catalog: signature_v2 verification error", err)
			}
			if !ok {
				return "", "", clawerr.New(clawerr.KindSignatureMismatch, "catalog: signature_v2 does not match")
			}
			return SigningModeKeyring, env.SignatureV2.Kid, nil
		}
		if env.Signature != "" {
			valid, kid := signing.VerifyAny(canonicalRules, env.Signature, opts.Keyring)
			if !valid {
				return "", "", clawerr.New(clawerr.KindSignatureMismatch, "catalog: legacy signature does not match any key in keyring")
			}
			return SigningModeKeyring, kid, nil
		}
		return "", "", clawerr.New(clawerr.KindConfiguration, "catalog: keyring configured but catalog carries no signature")

	case len(opts.StaticKey) > 0:
		if env.Signature == "" {
			return "", "", clawerr.New(clawerr.KindConfiguration, "catalog: static key configured but catalog carries no signature")
		}
		if !signing.VerifyStatic(canonicalRules, env.Signature, opts.StaticKey) {
			return "", "", clawerr.New(clawerr.KindSignatureMismatch, "catalog: static signature does not match")
		}
		return SigningModeStatic, "", nil

	case opts.AllowUnsigned:
		return SigningModeNone, "", nil

	default:
		return "", "", clawerr.New(clawerr.KindConfiguration, "catalog: no verification key configured and unsigned catalogs are not allowed")
	}
}

// Sign produces a ready-to-write catalog envelope for rules, signed under
// kr, suitable for round-tripping through Load. Used by tests and by the
// conformance-export tooling that needs to produce fixtures.
func Sign[T any](rules T, kr *signing.Keyring) ([]byte, error) {
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("catalog: marshal rules: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(rulesJSON, &generic); err != nil {
		return nil, fmt.Errorf("catalog: re-decode rules: %w", err)
	}
	canonicalRules, err := canon.Canonicalize(generic)
	if err != nil {
		return nil, fmt.Errorf("catalog: canonicalize rules: %w", err)
	}
	sig, err := signing.Sign(canonicalRules, kr)
	if err != nil {
		return nil, fmt.Errorf("catalog: sign rules: %w", err)
	}
	return json.MarshalIndent(envelope{Rules: rulesJSON, SignatureV2: &sig}, "", "  ")
}
