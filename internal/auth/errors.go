package auth

import "errors"

// Failure modes of the session and identity core.
var (
	// ErrInvalidCredentials covers both unknown emails and wrong passwords so
	// responses cannot be used to probe for accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken indicates a malformed, mis-signed, or expired token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenType indicates an access token used where a refresh token was
	// expected, or vice versa.
	ErrTokenType = errors.New("token type mismatch")

	// ErrSessionExpired indicates the server-side session is gone; the
	// refresh token is no longer honored regardless of its signature.
	ErrSessionExpired = errors.New("session expired")

	// ErrUserNotFound indicates the token subject no longer exists.
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateEmail indicates a registration against a taken email.
	ErrDuplicateEmail = errors.New("email already registered")
)
