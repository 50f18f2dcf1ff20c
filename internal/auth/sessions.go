package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

// SessionStore holds server-side sessions in a TTL-keyed KV store. A refresh
// token is only valid while its session key exists here.
type SessionStore struct {
	client *redis.Client
}

// NewSessionStore creates a session store over the given Redis client.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

// Create mints a fresh session for the user with the given TTL and returns
// the opaque session ID.
func (s *SessionStore) Create(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	sessionID := uuid.NewString()
	if err := s.client.Set(ctx, sessionKeyPrefix+sessionID, userID, ttl).Err(); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sessionID, nil
}

// Get returns the owning user ID for the session, or ErrSessionExpired when
// the key is absent.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (string, error) {
	userID, err := s.client.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrSessionExpired
		}
		return "", fmt.Errorf("get session: %w", err)
	}
	return userID, nil
}

// Extend re-arms the session TTL. Missing sessions surface ErrSessionExpired.
func (s *SessionStore) Extend(ctx context.Context, sessionID string, ttl time.Duration) error {
	ok, err := s.client.Expire(ctx, sessionKeyPrefix+sessionID, ttl).Result()
	if err != nil {
		return fmt.Errorf("extend session: %w", err)
	}
	if !ok {
		return ErrSessionExpired
	}
	return nil
}

// Delete destroys the session. Deleting an absent session is not an error.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
