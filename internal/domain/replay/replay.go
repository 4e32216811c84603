// Package replay provides the replay-protection store: a uniform
// register-if-absent contract over three pluggable backends, with TTL
// floor clamping shared across all of them so the floor logic is not
// duplicated per backend.
package replay

import (
	"context"
	"log/slog"
	"time"

	"github.com/clawee/clawee-core/internal/domain/clawerr"
)

// Namespace partitions the hash space the store tracks; a nonce and an
// event-key with the same hash bytes never collide with each other.
type Namespace string

const (
	NamespaceNonce    Namespace = "nonce"
	NamespaceEventKey Namespace = "event-key"
)

// TTL floors per §4.5: registering with a shorter TTL than the floor is
// silently raised to the floor, with a warning logged so operators notice
// a misconfigured caller.
const (
	NonceTTLFloor    = 1 * time.Second
	EventKeyTTLFloor = 60 * time.Second
)

// Backend is the pluggable atomicity contract every replay backend must
// provide: register returns true iff hash was absent (caller may proceed)
// and false on replay. Implementations must be linearizable within
// themselves; a backend that cannot guarantee this must return an error.
// Store wraps any backend error as a transient backend error and reports
// the hash as not registered, so callers fail closed instead of serving
// unsafe results.
type Backend interface {
	RegisterIfAbsent(ctx context.Context, namespace Namespace, hash string, ttl time.Duration) (registered bool, err error)
}

// Store wraps a Backend with TTL floor enforcement. It is the only thing
// gate code talks to; which concrete Backend is behind it is a deployment
// decision.
type Store struct {
	backend Backend
	log     *slog.Logger
}

// New wraps backend with floor clamping. A nil logger falls back to
// slog.Default().
func New(backend Backend, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{backend: backend, log: log}
}

// RegisterNonce registers a one-time-use nonce hash, clamping ttl to
// NonceTTLFloor if it is shorter.
func (s *Store) RegisterNonce(ctx context.Context, hash string, ttl time.Duration) (bool, error) {
	return s.register(ctx, NamespaceNonce, hash, ttl, NonceTTLFloor)
}

// RegisterEventKey registers an idempotency-key hash, clamping ttl to
// EventKeyTTLFloor if it is shorter.
func (s *Store) RegisterEventKey(ctx context.Context, hash string, ttl time.Duration) (bool, error) {
	return s.register(ctx, NamespaceEventKey, hash, ttl, EventKeyTTLFloor)
}

func (s *Store) register(ctx context.Context, ns Namespace, hash string, ttl, floor time.Duration) (bool, error) {
	if ttl < floor {
		s.log.Warn("replay: ttl below floor, clamping",
			slog.String("namespace", string(ns)),
			slog.Duration("requested_ttl", ttl),
			slog.Duration("floor", floor))
		ttl = floor
	}
	registered, err := s.backend.RegisterIfAbsent(ctx, ns, hash, ttl)
	if err != nil {
		return false, clawerr.Wrap(clawerr.KindTransientBackend, "replay: backend unavailable", err)
	}
	return registered, nil
}
