package security

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	hash, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !h.Verify(hash, "correct horse") {
		t.Fatal("expected password to verify")
	}
	if h.Verify(hash, "wrong") {
		t.Fatal("expected wrong password to fail")
	}
	if h.Verify("not-a-hash", "correct horse") {
		t.Fatal("expected malformed hash to fail")
	}
}
