package engine

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	e := New()

	pair, err := e.GenerateKeyPair("alice")
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if len(pair.Public) != X25519KeySize {
		t.Errorf("Expected %d-byte public key, got %d", X25519KeySize, len(pair.Public))
	}
	if pair.Fingerprint != Fingerprint(pair.Public) {
		t.Error("Fingerprint does not match public key")
	}

	// Re-registration overwrites the prior pair
	pair2, err := e.GenerateKeyPair("alice")
	if err != nil {
		t.Fatalf("Second GenerateKeyPair failed: %v", err)
	}
	if bytes.Equal(pair.Public, pair2.Public) {
		t.Error("Re-registration returned the same public key")
	}

	stored, err := e.PublicKey("alice")
	if err != nil {
		t.Fatalf("PublicKey failed: %v", err)
	}
	if !bytes.Equal(stored, pair2.Public) {
		t.Error("Stored public key is not the most recent pair")
	}
}

func TestDeriveSharedSecret_BothDirections(t *testing.T) {
	e := New()

	alice, err := e.GenerateKeyPair("alice")
	if err != nil {
		t.Fatalf("alice keygen failed: %v", err)
	}
	bob, err := e.GenerateKeyPair("bob")
	if err != nil {
		t.Fatalf("bob keygen failed: %v", err)
	}

	aliceKey, err := e.DeriveSharedSecret("alice", bob.Public)
	if err != nil {
		t.Fatalf("alice derive failed: %v", err)
	}
	bobKey, err := e.DeriveSharedSecret("bob", alice.Public)
	if err != nil {
		t.Fatalf("bob derive failed: %v", err)
	}

	if !bytes.Equal(aliceKey, bobKey) {
		t.Fatal("Shared keys do not match")
	}

	// End to end: both directions decrypt
	plaintext := []byte("meet at the usual place")
	env, err := Encrypt(plaintext, aliceKey)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	decrypted, err := Decrypt(env, bobKey)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("Round trip mismatch")
	}
}

func TestDeriveSharedSecret_Errors(t *testing.T) {
	e := New()
	if _, err := e.GenerateKeyPair("alice"); err != nil {
		t.Fatalf("keygen failed: %v", err)
	}

	if _, err := e.DeriveSharedSecret("nobody", make([]byte, 32)); !errors.Is(err, ErrUnknownOwner) {
		t.Errorf("Expected ErrUnknownOwner, got %v", err)
	}

	if _, err := e.DeriveSharedSecret("alice", []byte("short")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey for short key, got %v", err)
	}

	// All-zero public key is a low-order point
	if _, err := e.DeriveSharedSecret("alice", make([]byte, 32)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey for low-order point, got %v", err)
	}
}

func TestRemoveKeyPair(t *testing.T) {
	e := New()
	if _, err := e.GenerateKeyPair("alice"); err != nil {
		t.Fatalf("keygen failed: %v", err)
	}

	e.RemoveKeyPair("alice")
	if _, err := e.PublicKey("alice"); !errors.Is(err, ErrUnknownOwner) {
		t.Errorf("Expected ErrUnknownOwner after removal, got %v", err)
	}

	// Removing twice is a no-op
	e.RemoveKeyPair("alice")
}

func TestSignVerify(t *testing.T) {
	e := New()
	pair, err := e.GenerateKeyPair("alice")
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}

	message := []byte("signed statement")
	sig, err := e.Sign("alice", message)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if !Verify(pair.SignPublic, message, sig) {
		t.Error("Valid signature rejected")
	}
	if Verify(pair.SignPublic, []byte("other message"), sig) {
		t.Error("Signature accepted for wrong message")
	}
	if Verify(pair.SignPublic[:16], message, sig) {
		t.Error("Verify with truncated key should return false, not panic")
	}
	if Verify(nil, message, nil) {
		t.Error("Verify with nil inputs should return false")
	}

	if _, err := e.Sign("nobody", message); !errors.Is(err, ErrUnknownOwner) {
		t.Errorf("Expected ErrUnknownOwner, got %v", err)
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	key := []byte("some public key bytes")
	fp1 := Fingerprint(key)
	fp2 := Fingerprint(key)
	if fp1 != fp2 {
		t.Error("Fingerprint is not deterministic")
	}
	if len(fp1) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(fp1))
	}
	if fp1 == Fingerprint([]byte("other key")) {
		t.Error("Different keys produced the same fingerprint")
	}
}
