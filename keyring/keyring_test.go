package keyring

import (
	"bytes"
	"testing"
)

func TestNewManagerCreatesCurrentKey(t *testing.T) {
	m, err := NewManager(AlgorithmHS256)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	kid, priv := m.SigningKey()
	if kid == "" || len(priv) == 0 {
		t.Fatal("no current signing key after construction")
	}
	if m.KeyCount() != 1 {
		t.Fatalf("key count = %d, want 1", m.KeyCount())
	}
}

func TestUnsupportedAlgorithm(t *testing.T) {
	if _, err := NewManager(Algorithm("RS9000")); err != ErrUnsupportedAlgorithm {
		t.Fatalf("err = %v, want ErrUnsupportedAlgorithm", err)
	}
}

func TestRotateDemotesPreviousKey(t *testing.T) {
	m, err := NewManager(AlgorithmHS256)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	oldID := m.CurrentKeyID()

	newID, err := m.Rotate()
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if newID == oldID {
		t.Fatal("rotation did not change the current key id")
	}
	if m.CurrentKeyID() != newID {
		t.Fatalf("current = %s, want %s", m.CurrentKeyID(), newID)
	}

	old, ok := m.KeyInfo(oldID)
	if !ok {
		t.Fatal("rotated key was removed; old tokens would become unverifiable")
	}
	if old.Active {
		t.Fatal("rotated key still marked active")
	}

	// Old key remains retrievable for verification.
	kid, material := m.VerificationKey(oldID)
	if kid != oldID || len(material) == 0 {
		t.Fatalf("VerificationKey(%s) = (%s, %d bytes)", oldID, kid, len(material))
	}
}

func TestVerificationKeyFallsBackToCurrent(t *testing.T) {
	m, err := NewManager(AlgorithmEd25519)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	kid, material := m.VerificationKey("no-such-kid")
	if kid != m.CurrentKeyID() {
		t.Fatalf("fallback kid = %s, want current %s", kid, m.CurrentKeyID())
	}

	_, current := m.VerificationKey(m.CurrentKeyID())
	if !bytes.Equal(material, current) {
		t.Fatal("fallback returned non-current material")
	}
}

func TestEd25519KeyPairDiffers(t *testing.T) {
	m, err := NewManager(AlgorithmEd25519)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	kid, priv := m.SigningKey()
	_, pub := m.VerificationKey(kid)
	if bytes.Equal(priv, pub) {
		t.Fatal("asymmetric key pair has identical halves")
	}
}
