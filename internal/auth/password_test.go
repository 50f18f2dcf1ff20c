package auth

import (
	"strings"
	"testing"
)

func TestHashPassword_Opacity(t *testing.T) {
	password := "P@ssword1"

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	if hash == password {
		t.Error("hash must not equal the password")
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("expected bcrypt hash, got %q", hash)
	}

	if !CheckPassword(password, hash) {
		t.Error("expected matching password to verify")
	}
	if CheckPassword("p@ssword1", hash) {
		t.Error("expected non-matching password to fail")
	}
}

func TestHashPassword_SaltedPerHash(t *testing.T) {
	a, _ := HashPassword("P@ssword1")
	b, _ := HashPassword("P@ssword1")
	if a == b {
		t.Error("expected per-password salt to produce distinct hashes")
	}
}

func TestHashPassword_Truncation(t *testing.T) {
	long := strings.Repeat("a", 80)
	if !PasswordTruncated(long) {
		t.Fatal("expected 80-byte password to be flagged as truncated")
	}

	hash, err := HashPassword(long)
	if err != nil {
		t.Fatal(err)
	}

	// Bytes beyond 72 do not participate in the hash.
	if !CheckPassword(strings.Repeat("a", 72)+"different-suffix", hash) {
		t.Error("expected passwords sharing the first 72 bytes to verify")
	}
	// A difference inside the first 72 bytes does.
	if CheckPassword(strings.Repeat("b", 80), hash) {
		t.Error("expected differing prefix to fail")
	}
}
