package replay

import (
	"context"
	"testing"
	"time"
)

func TestRegisterNonceFirstTimeSucceeds(t *testing.T) {
	store := New(newMemoryBackend(), nil)
	ok, err := store.RegisterNonce(context.Background(), "abc123", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected first registration to succeed")
	}
}

func TestRegisterNonceReplayFails(t *testing.T) {
	store := New(newMemoryBackend(), nil)
	ctx := context.Background()
	store.RegisterNonce(ctx, "abc123", time.Minute)
	ok, err := store.RegisterNonce(ctx, "abc123", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected replayed nonce to be rejected")
	}
}

func TestRegisterNonceClampsBelowFloor(t *testing.T) {
	backend := newMemoryBackend()
	store := New(backend, nil)
	ctx := context.Background()

	store.RegisterNonce(ctx, "short-ttl", 1*time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	// If the floor were not enforced, the 1ms TTL would have expired by
	// now and this would succeed; the floor (1s) means it must still be
	// registered.
	ok, err := store.RegisterNonce(ctx, "short-ttl", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected nonce TTL to have been clamped to the 1s floor")
	}
}

func TestNamespacesDoNotCollide(t *testing.T) {
	store := New(newMemoryBackend(), nil)
	ctx := context.Background()
	hash := "same-hash-bytes"

	ok1, _ := store.RegisterNonce(ctx, hash, time.Minute)
	ok2, _ := store.RegisterEventKey(ctx, hash, time.Minute)
	if !ok1 || !ok2 {
		t.Fatal("expected the same hash to register independently in each namespace")
	}
}
