package chainlog

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/clawee/clawee-core/internal/domain/attestation"
)

// SealedLedger pairs a snapshot directory with a seal chain log, giving a
// ledger durable, restart-surviving export and verification.
type SealedLedger[T any] struct {
	snapshotDir string
	seals       *Log[attestation.SealEntry]
}

// NewSealedLedger opens (or creates) the seal chain log at sealsPath,
// writing snapshot files under snapshotDir.
func NewSealedLedger[T any](snapshotDir, sealsPath string) *SealedLedger[T] {
	return &SealedLedger[T]{snapshotDir: snapshotDir, seals: NewLog[attestation.SealEntry](sealsPath, nil)}
}

// tailHash returns the CurrentSnapshotHash of the last seal, or genesis
// if the chain log is empty.
func (l *SealedLedger[T]) tailHash() (string, error) {
	seals, err := l.seals.ReadAll()
	if err != nil {
		return "", err
	}
	if len(seals) == 0 {
		return attestation.GenesisHash, nil
	}
	return seals[len(seals)-1].CurrentSnapshotHash, nil
}

// ExportSealedSnapshot writes payload to snapshotName under snapshotDir
// (atomically, via SaveSnapshot's write-tmp-then-rename), then appends a
// seal entry chaining to the chain log's current tail. The snapshot file
// exists on disk before the seal line is appended, so a crash between the
// two steps leaves an unsealed snapshot rather than a seal pointing at a
// missing file.
func (l *SealedLedger[T]) ExportSealedSnapshot(payload attestation.Payload[T], snapshotName string, now time.Time) (attestation.SealEntry, error) {
	snapshotPath := filepath.Join(l.snapshotDir, snapshotName)
	if err := SaveSnapshot(snapshotPath, payload); err != nil {
		return attestation.SealEntry{}, fmt.Errorf("chainlog: write snapshot: %w", err)
	}

	previous, err := l.tailHash()
	if err != nil {
		return attestation.SealEntry{}, fmt.Errorf("chainlog: read chain tail: %w", err)
	}

	seal, err := attestation.Seal(payload, snapshotPath, previous, now)
	if err != nil {
		return attestation.SealEntry{}, fmt.Errorf("chainlog: compute seal: %w", err)
	}
	if err := l.seals.Append(seal); err != nil {
		return attestation.SealEntry{}, fmt.Errorf("chainlog: append seal: %w", err)
	}
	return seal, nil
}

// VerifySealedChain reads every seal and verifies the seal chain, then
// opens each referenced snapshot and checks its payload_hash, returning
// the first failure encountered.
func (l *SealedLedger[T]) VerifySealedChain() attestation.VerifyResult {
	seals, err := l.seals.ReadAll()
	if err != nil {
		return attestation.VerifyResult{Valid: false, Reason: "failed to read chain log: " + err.Error()}
	}
	if result := attestation.VerifySealedChain(seals); !result.Valid {
		return result
	}
	for _, seal := range seals {
		payload, err := LoadSnapshot[attestation.Payload[T]](seal.SnapshotPath)
		if err != nil {
			return attestation.VerifyResult{Valid: false, Reason: "failed to open snapshot " + seal.SnapshotPath + ": " + err.Error()}
		}
		if result := attestation.VerifySnapshotAgainstSeal(payload, seal); !result.Valid {
			return result
		}
	}
	return attestation.VerifyResult{Valid: true}
}
