package auth

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash equals plaintext")
	}

	if !VerifyPassword("correct horse battery staple", hash) {
		t.Error("correct password rejected")
	}
	if VerifyPassword("wrong password", hash) {
		t.Error("wrong password accepted")
	}
}

func TestHashesAreSalted(t *testing.T) {
	t.Parallel()

	a, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	b, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	if a == b {
		t.Error("two hashes of the same password are identical")
	}
}

func TestBurnVerificationDoesNotPanic(t *testing.T) {
	t.Parallel()

	BurnVerification("anything")
}
