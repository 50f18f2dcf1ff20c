// Package models provides domain types for the stockd backend.
package models

import "time"

// User is a registered account. Passwords are stored as bcrypt hashes and
// never leave the auth package.
type User struct {
	// ID is the unique user identifier (UUID).
	ID string `json:"id"`

	// Email is the unique, lowercased login email.
	Email string `json:"email"`

	// PasswordHash is the bcrypt hash of the password. Never serialized.
	PasswordHash string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserSnapshot is the externally visible shape of a user.
type UserSnapshot struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot returns the externally visible view of the user.
func (u *User) Snapshot() UserSnapshot {
	return UserSnapshot{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}
