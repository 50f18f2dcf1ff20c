package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenIssuer signs and verifies the access/refresh token pair.
//
// Access tokens are stateless: they stay valid until their signed expiry
// regardless of session state. Refresh tokens carry a session ID and are only
// honored while that session exists in the KV store.
type TokenIssuer struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenIssuer builds a token issuer. Algorithm defaults to HS256.
func NewTokenIssuer(secret, algorithm string, accessTTL, refreshTTL time.Duration) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}

	method := jwt.GetSigningMethod(strings.ToUpper(strings.TrimSpace(algorithm)))
	if method == nil {
		method = jwt.SigningMethodHS256
	}
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", algorithm)
	}

	return &TokenIssuer{
		secret:     []byte(secret),
		method:     method,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// AccessTTL returns the access-token lifetime.
func (t *TokenIssuer) AccessTTL() time.Duration { return t.accessTTL }

// RefreshTTL returns the refresh-token lifetime, which is also the
// server-side session TTL.
func (t *TokenIssuer) RefreshTTL() time.Duration { return t.refreshTTL }

type tokenClaims struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// MintAccess issues a signed access token for the user.
func (t *TokenIssuer) MintAccess(userID string) (string, time.Time, error) {
	return t.mint(userID, tokenTypeAccess, "", t.accessTTL)
}

// MintRefresh issues a signed refresh token bound to a session.
func (t *TokenIssuer) MintRefresh(userID, sessionID string) (string, time.Time, error) {
	return t.mint(userID, tokenTypeRefresh, sessionID, t.refreshTTL)
}

func (t *TokenIssuer) mint(userID, tokenType, sessionID string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, fmt.Errorf("user id required")
	}
	expiresAt := time.Now().Add(ttl)

	claims := tokenClaims{
		Type:      tokenType,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(t.method, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAccess validates an access token and returns the subject user ID.
func (t *TokenIssuer) ParseAccess(token string) (string, error) {
	claims, err := t.parse(token)
	if err != nil {
		return "", err
	}
	if claims.Type != tokenTypeAccess {
		return "", ErrTokenType
	}
	return claims.Subject, nil
}

// ParseRefresh validates a refresh token and returns the subject user ID and
// the bound session ID.
func (t *TokenIssuer) ParseRefresh(token string) (userID, sessionID string, err error) {
	claims, err := t.parse(token)
	if err != nil {
		return "", "", err
	}
	if claims.Type != tokenTypeRefresh {
		return "", "", ErrTokenType
	}
	if strings.TrimSpace(claims.SessionID) == "" {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.SessionID, nil
}

func (t *TokenIssuer) parse(token string) (*tokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
