package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt operates on at most 72 bytes of input. Longer passwords are
// truncated before hashing for compatibility with existing stored hashes.
const bcryptMaxPasswordBytes = 72

// HashPassword returns the bcrypt hash of the password. Input beyond 72
// bytes is truncated; callers should warn when that happens (see
// Service.Register).
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(truncatePassword(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether the password matches the stored hash using
// the library's constant-time comparison.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), truncatePassword(password)) == nil
}

func truncatePassword(password string) []byte {
	b := []byte(password)
	if len(b) > bcryptMaxPasswordBytes {
		b = b[:bcryptMaxPasswordBytes]
	}
	return b
}

// PasswordTruncated reports whether the password exceeds the bcrypt input
// limit and would be truncated.
func PasswordTruncated(password string) bool {
	return len(password) > bcryptMaxPasswordBytes
}
