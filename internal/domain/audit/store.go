package audit

import "context"

// AuditStore persists audit records.
// Interface owned by domain per hexagonal architecture.
// Implementation handles batching and async writes.
type AuditStore interface {
	// Append stores audit records. Must be non-blocking from caller perspective.
	Append(ctx context.Context, records ...AuditRecord) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}
