package signing

import "testing"

func testKeyring(t *testing.T) *Keyring {
	t.Helper()
	kr, err := NewKeyring(map[string][]byte{
		"k1": []byte("secret-one"),
		"k2": []byte("secret-two"),
	}, "k2")
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	return kr
}

func TestSignVerifyKidRoundTrip(t *testing.T) {
	kr := testKeyring(t)
	canonical := []byte(`{"a":1}`)

	sig, err := Sign(canonical, kr)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if sig.Kid != "k2" {
		t.Fatalf("expected active kid k2, got %s", sig.Kid)
	}

	ok, err := VerifyKid(canonical, sig, kr)
	if err != nil {
		t.Fatalf("VerifyKid: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}
}

func TestVerifyKidRejectsTamperedPayload(t *testing.T) {
	kr := testKeyring(t)
	sig, err := Sign([]byte(`{"a":1}`), kr)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := VerifyKid([]byte(`{"a":2}`), sig, kr)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("tampered payload must not verify")
	}
}

func TestVerifyKidUnknownKid(t *testing.T) {
	kr := testKeyring(t)
	_, err := VerifyKid([]byte(`{}`), Signature{Kid: "missing", Sig: "00"}, kr)
	if err != ErrUnknownKid {
		t.Fatalf("expected ErrUnknownKid, got %v", err)
	}
}

func TestVerifyAnyFindsRotatedKey(t *testing.T) {
	kr := testKeyring(t)
	canonical := []byte(`{"legacy":true}`)
	sigHex := SignStatic(canonical, []byte("secret-one"))

	valid, matched := VerifyAny(canonical, sigHex, kr)
	if !valid || matched != "k1" {
		t.Fatalf("expected match on k1, got valid=%v matched=%s", valid, matched)
	}
}

func TestVerifyAnyNoMatch(t *testing.T) {
	kr := testKeyring(t)
	valid, matched := VerifyAny([]byte(`{}`), "deadbeef", kr)
	if valid || matched != "" {
		t.Fatalf("expected no match, got valid=%v matched=%s", valid, matched)
	}
}

func TestNewKeyringRejectsUnknownActive(t *testing.T) {
	_, err := NewKeyring(map[string][]byte{"k1": []byte("s")}, "k9")
	if err != ErrNoActiveKey {
		t.Fatalf("expected ErrNoActiveKey, got %v", err)
	}
}

func TestNewKeyringRejectsEmpty(t *testing.T) {
	_, err := NewKeyring(map[string][]byte{}, "k1")
	if err != ErrEmptyKeyring {
		t.Fatalf("expected ErrEmptyKeyring, got %v", err)
	}
}

func TestWithActiveKidRotation(t *testing.T) {
	kr := testKeyring(t)
	rotated, err := kr.WithActiveKid("k1")
	if err != nil {
		t.Fatal(err)
	}
	if rotated.ActiveKid() != "k1" {
		t.Fatalf("expected active kid k1, got %s", rotated.ActiveKid())
	}
	if kr.ActiveKid() != "k2" {
		t.Fatal("original keyring must remain unmodified")
	}
}

func TestWithoutKeyRefusesActive(t *testing.T) {
	kr := testKeyring(t)
	if _, err := kr.WithoutKey("k2"); err == nil {
		t.Fatal("expected error removing active key")
	}
}

func TestVerifyStaticRoundTrip(t *testing.T) {
	key := []byte("static-secret")
	canonical := []byte(`{"x":1}`)
	sig := SignStatic(canonical, key)
	if !VerifyStatic(canonical, sig, key) {
		t.Fatal("expected static signature to verify")
	}
	if VerifyStatic([]byte(`{"x":2}`), sig, key) {
		t.Fatal("tampered static payload must not verify")
	}
}
