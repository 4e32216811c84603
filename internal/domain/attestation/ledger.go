// Package attestation implements the hash-chained, append-only ledger
// shared by the three attestation surfaces (approval decisions, audit
// actions, security-conformance reports), plus the sealed-snapshot and
// chain-log layer that lets those ledgers survive process restarts.
package attestation

import (
	"time"

	"github.com/clawee/clawee-core/internal/domain/canon"
	"github.com/clawee/clawee-core/internal/domain/signing"
)

// GenesisHash is 64 characters of ASCII "0", representing a 32-byte zero
// hash in hex — the previous_hash of the first entry in any chain.
const GenesisHash = "0000000000000000" + "0000000000000000" + "0000000000000000" + "0000000000000000"

// Entry is one link in an attestation chain: a record of type T plus the
// hash chaining fields.
type Entry[T any] struct {
	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`
	Record       T      `json:"record"`
}

// entryHashInput is the exact struct canonicalized to compute entry_hash,
// so that verification recomputes the identical bytes that generation
// hashed.
type entryHashInput struct {
	PreviousHash string      `json:"previous_hash"`
	Record       interface{} `json:"record"`
}

// chainEntries folds records into a hash chain starting from GenesisHash
// (or from startHash if continuing an existing chain).
func chainEntries[T any](records []T, startHash string) ([]Entry[T], error) {
	out := make([]Entry[T], 0, len(records))
	prev := startHash
	for _, rec := range records {
		hash, err := canon.Fingerprint(entryHashInput{PreviousHash: prev, Record: rec})
		if err != nil {
			return nil, err
		}
		out = append(out, Entry[T]{PreviousHash: prev, EntryHash: hash, Record: rec})
		prev = hash
	}
	return out, nil
}

// Payload is the signed export produced by Generate: the chained entries
// plus the query window that produced them and the resulting final hash.
type Payload[T any] struct {
	GeneratedAt time.Time  `json:"generated_at"`
	Since       *time.Time `json:"since,omitempty"`
	Count       int        `json:"count"`
	Entries     []Entry[T] `json:"entries"`
	FinalHash   string     `json:"final_hash"`
	Signature   *signing.Signature `json:"signature,omitempty"`
	LegacySignature string `json:"signature_legacy,omitempty"`
}

// signingFields is the exact struct canonicalized for the payload
// signature: every Payload field except the signature itself.
type signingFields struct {
	GeneratedAt time.Time  `json:"generated_at"`
	Since       *time.Time `json:"since,omitempty"`
	Count       int        `json:"count"`
	Entries     interface{} `json:"entries"`
	FinalHash   string     `json:"final_hash"`
}

func (p Payload[T]) signingPayload() signingFields {
	return signingFields{GeneratedAt: p.GeneratedAt, Since: p.Since, Count: p.Count, Entries: p.Entries, FinalHash: p.FinalHash}
}

// Generate reads records in stable order (the caller is responsible for
// that ordering — created_at ASC, id ASC for approvals; monotone insertion
// order for audit), chains them from GenesisHash, and signs the resulting
// payload with kr.
func Generate[T any](records []T, since *time.Time, kr *signing.Keyring, now time.Time) (Payload[T], error) {
	entries, err := chainEntries(records, GenesisHash)
	if err != nil {
		return Payload[T]{}, err
	}
	finalHash := GenesisHash
	if len(entries) > 0 {
		finalHash = entries[len(entries)-1].EntryHash
	}

	payload := Payload[T]{
		GeneratedAt: now,
		Since:       since,
		Count:       len(entries),
		Entries:     entries,
		FinalHash:   finalHash,
	}

	canonical, err := canon.Canonicalize(payload.signingPayload())
	if err != nil {
		return Payload[T]{}, err
	}
	sig, err := signing.Sign(canonical, kr)
	if err != nil {
		return Payload[T]{}, err
	}
	payload.Signature = &sig
	return payload, nil
}

// VerifyResult is the structured outcome of verifying a payload or a
// sealed chain: valid plus, on failure, a precise reason identifying the
// first offending entry.
type VerifyResult struct {
	Valid  bool
	Reason string
}

// VerifyPayload recomputes every entry hash, checks the chain, and
// verifies the signature using the recorded kid against kr (or staticKey
// in legacy mode).
func VerifyPayload[T any](payload Payload[T], kr *signing.Keyring, staticKey []byte) VerifyResult {
	prev := GenesisHash
	for i, e := range payload.Entries {
		if e.PreviousHash != prev {
			return VerifyResult{Valid: false, Reason: entryMismatch(i, "previous_hash does not match prior entry's hash")}
		}
		recomputed, err := canon.Fingerprint(entryHashInput{PreviousHash: e.PreviousHash, Record: e.Record})
		if err != nil {
			return VerifyResult{Valid: false, Reason: entryMismatch(i, "failed to recompute entry hash: "+err.Error())}
		}
		if recomputed != e.EntryHash {
			return VerifyResult{Valid: false, Reason: entryMismatch(i, "entry_hash does not match recomputed hash")}
		}
		prev = e.EntryHash
	}

	expectedFinal := GenesisHash
	if len(payload.Entries) > 0 {
		expectedFinal = payload.Entries[len(payload.Entries)-1].EntryHash
	}
	if payload.FinalHash != expectedFinal {
		return VerifyResult{Valid: false, Reason: "final_hash does not match the last chained entry_hash"}
	}

	canonical, err := canon.Canonicalize(payload.signingPayload())
	if err != nil {
		return VerifyResult{Valid: false, Reason: "failed to canonicalize payload for signature check: " + err.Error()}
	}

	switch {
	case payload.Signature != nil && kr != nil:
		ok, err := signing.VerifyKid(canonical, *payload.Signature, kr)
		if err != nil || !ok {
			return VerifyResult{Valid: false, Reason: "signature does not verify against keyring"}
		}
	case payload.LegacySignature != "" && len(staticKey) > 0:
		if !signing.VerifyStatic(canonical, payload.LegacySignature, staticKey) {
			return VerifyResult{Valid: false, Reason: "legacy signature does not verify against static key"}
		}
	case payload.LegacySignature != "" && kr != nil:
		ok, _ := signing.VerifyAny(canonical, payload.LegacySignature, kr)
		if !ok {
			return VerifyResult{Valid: false, Reason: "legacy signature does not match any keyring key"}
		}
	default:
		return VerifyResult{Valid: false, Reason: "no signature present to verify, or no verification key configured"}
	}

	return VerifyResult{Valid: true}
}

func entryMismatch(index int, reason string) string {
	return "entry " + itoaIndex(index) + ": " + reason
}

func itoaIndex(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [12]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
