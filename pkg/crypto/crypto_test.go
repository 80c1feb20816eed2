package crypto

import (
	"bytes"
	"testing"
)

func TestHashPasswordDeterministic(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	a := HashPassword("hunter2", salt)
	b := HashPassword("hunter2", salt)
	if !bytes.Equal(a, b) {
		t.Error("same password and salt produced different hashes")
	}
}

func TestHashPasswordSaltSensitive(t *testing.T) {
	s1, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	s2, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	if bytes.Equal(s1, s2) {
		t.Fatal("two generated salts are identical")
	}
	if bytes.Equal(HashPassword("hunter2", s1), HashPassword("hunter2", s2)) {
		t.Error("different salts produced the same hash")
	}
}

func TestVerifyPassword(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	hash := HashPassword("correct horse", salt)

	if !VerifyPassword("correct horse", salt, hash) {
		t.Error("correct password rejected")
	}
	if VerifyPassword("battery staple", salt, hash) {
		t.Error("wrong password accepted")
	}
}

func TestGenerateToken(t *testing.T) {
	t1, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	t2, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if len(t1) != 64 {
		t.Errorf("token length = %d, want 64", len(t1))
	}
	if t1 == t2 {
		t.Error("two generated tokens are identical")
	}
}

func TestHashTokenStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Error("token hash is not stable")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("distinct tokens hashed to the same value")
	}
}
