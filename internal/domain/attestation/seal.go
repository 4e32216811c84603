package attestation

import (
	"time"

	"github.com/clawee/clawee-core/internal/domain/canon"
)

// SealEntry is one line of a ledger's chain log: it attests that a
// specific sealed snapshot file, containing a specific payload, was
// exported at a specific time, chained to the seal before it.
type SealEntry struct {
	SealedAt             time.Time `json:"sealed_at"`
	SnapshotPath         string    `json:"snapshot_path"`
	PayloadHash          string    `json:"payload_hash"`
	PreviousSnapshotHash string    `json:"previous_snapshot_hash"`
	// GeneratedAt mirrors the sealed payload's own GeneratedAt, so a
	// verifier reading only the chain-log file (without opening the
	// referenced snapshot) can see when the underlying payload was
	// produced, as distinct from SealedAt (when this link was appended).
	GeneratedAt time.Time `json:"generated_at"`
	// Signature and SignatureKid mirror the sealed payload's own HMAC
	// signature, when the payload was signed. Both are empty for an
	// unsigned (dev-mode) payload.
	Signature           string `json:"signature,omitempty"`
	SignatureKid        string `json:"signature_kid,omitempty"`
	CurrentSnapshotHash string `json:"current_snapshot_hash"`
}

// sealFields is canonicalized (excluding CurrentSnapshotHash, which it
// produces) to compute CurrentSnapshotHash.
type sealFields struct {
	SealedAt             time.Time `json:"sealed_at"`
	SnapshotPath         string    `json:"snapshot_path"`
	PayloadHash          string    `json:"payload_hash"`
	PreviousSnapshotHash string    `json:"previous_snapshot_hash"`
	GeneratedAt          time.Time `json:"generated_at"`
	Signature            string    `json:"signature,omitempty"`
	SignatureKid         string    `json:"signature_kid,omitempty"`
}

func toSealFields(e SealEntry) sealFields {
	return sealFields{
		SealedAt:             e.SealedAt,
		SnapshotPath:         e.SnapshotPath,
		PayloadHash:          e.PayloadHash,
		PreviousSnapshotHash: e.PreviousSnapshotHash,
		GeneratedAt:          e.GeneratedAt,
		Signature:            e.Signature,
		SignatureKid:         e.SignatureKid,
	}
}

// Seal computes payload_hash for payload and builds the SealEntry that
// chains it to previousSnapshotHash (GenesisHash for the first seal in a
// chain-log file). generated_at and the signature fields are carried over
// from payload itself rather than recomputed.
func Seal[T any](payload Payload[T], snapshotPath, previousSnapshotHash string, now time.Time) (SealEntry, error) {
	payloadHash, err := canon.Fingerprint(payload)
	if err != nil {
		return SealEntry{}, err
	}

	entry := SealEntry{
		SealedAt:             now,
		SnapshotPath:         snapshotPath,
		PayloadHash:          payloadHash,
		PreviousSnapshotHash: previousSnapshotHash,
		GeneratedAt:          payload.GeneratedAt,
	}
	if payload.Signature != nil {
		entry.Signature = payload.Signature.Sig
		entry.SignatureKid = payload.Signature.Kid
	}

	currentHash, err := canon.Fingerprint(toSealFields(entry))
	if err != nil {
		return SealEntry{}, err
	}
	entry.CurrentSnapshotHash = currentHash

	return entry, nil
}

// VerifySealedChain walks seals in append order, verifying each links to
// the previous seal's CurrentSnapshotHash and that CurrentSnapshotHash was
// computed correctly. It does not itself open referenced snapshot files —
// callers that want verifyPayload re-run per snapshot should do so using
// the SnapshotPath and PayloadHash in each entry alongside their own
// snapshot loader.
func VerifySealedChain(seals []SealEntry) VerifyResult {
	prev := GenesisHash
	for i, seal := range seals {
		if seal.PreviousSnapshotHash != prev {
			return VerifyResult{Valid: false, Reason: entryMismatch(i, "previous_snapshot_hash does not match prior seal")}
		}
		recomputed, err := canon.Fingerprint(toSealFields(seal))
		if err != nil {
			return VerifyResult{Valid: false, Reason: entryMismatch(i, "failed to recompute current_snapshot_hash: "+err.Error())}
		}
		if recomputed != seal.CurrentSnapshotHash {
			return VerifyResult{Valid: false, Reason: entryMismatch(i, "current_snapshot_hash does not match recomputed hash")}
		}
		prev = seal.CurrentSnapshotHash
	}
	return VerifyResult{Valid: true}
}

// VerifySnapshotAgainstSeal checks that a loaded payload's recomputed
// canonical hash matches the payload_hash recorded in seal — the "open
// each referenced snapshot" half of verifySealedChain.
func VerifySnapshotAgainstSeal[T any](payload Payload[T], seal SealEntry) VerifyResult {
	hash, err := canon.Fingerprint(payload)
	if err != nil {
		return VerifyResult{Valid: false, Reason: "failed to hash snapshot payload: " + err.Error()}
	}
	if hash != seal.PayloadHash {
		return VerifyResult{Valid: false, Reason: "snapshot payload_hash does not match the sealed value"}
	}
	return VerifyResult{Valid: true}
}
