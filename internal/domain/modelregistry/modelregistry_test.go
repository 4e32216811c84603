package modelregistry

import (
	"testing"
	"time"

	"github.com/clawee/clawee-core/internal/domain/canon"
	"github.com/clawee/clawee-core/internal/domain/signing"
)

func signEntry(t *testing.T, kr *signing.Keyring, e Entry) Entry {
	t.Helper()
	canonical, err := canon.Canonicalize(e.payload())
	if err != nil {
		t.Fatal(err)
	}
	sig, err := signing.Sign(canonical, kr)
	if err != nil {
		t.Fatal(err)
	}
	e.Signature = sig.Sig
	return e
}

func testKeyring(t *testing.T) *signing.Keyring {
	t.Helper()
	kr, err := signing.NewKeyring(map[string][]byte{"k1": []byte("registry-secret")}, "k1")
	if err != nil {
		t.Fatal(err)
	}
	return kr
}

func TestLoadAndCheckApprovedEntry(t *testing.T) {
	kr := testKeyring(t)
	entry := signEntry(t, kr, Entry{ModelID: "gpt-5", Modality: ModalityText, Approved: true})

	reg := NewRegistry()
	if err := reg.Load([]Entry{entry}, kr, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ok, _ := reg.Check("gpt-5", ModalityText, time.Now())
	if !ok {
		t.Fatal("expected approved entry to pass check")
	}
}

func TestCheckRejectsUnapprovedEntry(t *testing.T) {
	kr := testKeyring(t)
	entry := signEntry(t, kr, Entry{ModelID: "gpt-5", Modality: ModalityText, Approved: false})

	reg := NewRegistry()
	if err := reg.Load([]Entry{entry}, kr, nil); err != nil {
		t.Fatal(err)
	}
	if ok, _ := reg.Check("gpt-5", ModalityText, time.Now()); ok {
		t.Fatal("expected unapproved entry to fail check")
	}
}

func TestCheckRespectsValidityWindow(t *testing.T) {
	kr := testKeyring(t)
	past := time.Now().Add(-48 * time.Hour)
	yesterday := time.Now().Add(-24 * time.Hour)
	entry := signEntry(t, kr, Entry{ModelID: "gpt-5", Modality: ModalityText, Approved: true, ValidFrom: &past, ValidTo: &yesterday})

	reg := NewRegistry()
	if err := reg.Load([]Entry{entry}, kr, nil); err != nil {
		t.Fatal(err)
	}
	if ok, _ := reg.Check("gpt-5", ModalityText, time.Now()); ok {
		t.Fatal("expected expired entry to fail check")
	}
}

func TestCheckFallsBackToWildcardModel(t *testing.T) {
	kr := testKeyring(t)
	entry := signEntry(t, kr, Entry{ModelID: WildcardModelID, Modality: ModalityText, Approved: true})

	reg := NewRegistry()
	if err := reg.Load([]Entry{entry}, kr, nil); err != nil {
		t.Fatal(err)
	}
	if ok, _ := reg.Check("unknown-model", ModalityText, time.Now()); !ok {
		t.Fatal("expected wildcard model entry to satisfy unknown model")
	}
}

func TestLoadFailsWholeBatchOnOneBadSignature(t *testing.T) {
	kr := testKeyring(t)
	good := signEntry(t, kr, Entry{ModelID: "gpt-5", Modality: ModalityText, Approved: true})
	bad := Entry{ModelID: "gpt-6", Modality: ModalityText, Approved: true, Signature: "deadbeef"}

	reg := NewRegistry()
	err := reg.Load([]Entry{good, bad}, kr, nil)
	if err == nil {
		t.Fatal("expected load to fail when any entry has a bad signature")
	}

	// The registry must not have published a partial/torn snapshot.
	if ok, _ := reg.Check("gpt-5", ModalityText, time.Now()); ok {
		t.Fatal("expected registry to remain empty after a failed load")
	}
}
