// Package auth implements the session and identity core: bcrypt-hashed
// credentials, short-lived access tokens, and refresh tokens bound to
// server-side sessions held in a TTL-keyed KV store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/stockd/internal/storage"
	"github.com/haasonsaas/stockd/pkg/models"
)

// TokenPair is the credential bundle returned on register/login/refresh.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Service implements registration, login, refresh, and logout.
type Service struct {
	users    storage.UserStore
	sessions *SessionStore
	tokens   *TokenIssuer
	logger   *slog.Logger
}

// NewService constructs the auth service.
func NewService(users storage.UserStore, sessions *SessionStore, tokens *TokenIssuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		logger:   logger.With("component", "auth"),
	}
}

// Register creates a user and opens a session, returning the user and both
// tokens.
func (s *Service) Register(ctx context.Context, email, password string) (*models.User, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, nil, fmt.Errorf("invalid email: %w", err)
	}
	if len(password) < 8 {
		return nil, nil, fmt.Errorf("password must be at least 8 characters")
	}
	if PasswordTruncated(password) {
		// bcrypt only consumes 72 bytes; longer input is silently truncated
		// for hash compatibility, but operators should know.
		s.logger.Warn("password exceeds 72 bytes and will be truncated", "email", email)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, nil, ErrDuplicateEmail
		}
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	pair, err := s.openSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, pair, nil
}

// Login verifies credentials and opens a session.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, *TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("lookup user: %w", err)
	}

	if !CheckPassword(password, user.PasswordHash) {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.openSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Refresh re-mints both tokens for a valid refresh token whose session still
// exists, extending the session TTL. The session ID is retained.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, sessionID, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	owner, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if owner != userID {
		return nil, ErrInvalidToken
	}

	if err := s.sessions.Extend(ctx, sessionID, s.tokens.RefreshTTL()); err != nil {
		return nil, err
	}
	return s.mintPair(userID, sessionID)
}

// Logout destroys the session bound to the refresh token. Subsequent
// refreshes fail even though the token signature remains valid.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	_, sessionID, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return err
	}
	return s.sessions.Delete(ctx, sessionID)
}

// VerifyAccess validates an access token and returns the subject user ID.
// Access tokens are verified statelessly; session deletion does not revoke
// them before their signed expiry.
func (s *Service) VerifyAccess(token string) (string, error) {
	return s.tokens.ParseAccess(token)
}

// CurrentUser resolves the access token to its user record.
func (s *Service) CurrentUser(ctx context.Context, token string) (*models.User, error) {
	userID, err := s.VerifyAccess(token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *Service) openSession(ctx context.Context, userID string) (*TokenPair, error) {
	sessionID, err := s.sessions.Create(ctx, userID, s.tokens.RefreshTTL())
	if err != nil {
		return nil, err
	}
	return s.mintPair(userID, sessionID)
}

func (s *Service) mintPair(userID, sessionID string) (*TokenPair, error) {
	access, expiresAt, err := s.tokens.MintAccess(userID)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.tokens.MintRefresh(userID, sessionID)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresAt:    expiresAt,
	}, nil
}
