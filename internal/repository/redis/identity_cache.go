package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/loverose/auth-service/internal/core/domain"
	"github.com/loverose/auth-service/internal/core/port"
	"github.com/loverose/auth-service/internal/repository"
)

const defaultIdentityStatePrefix = "auth:identity_state"

// IdentityCache caches identity state (role, active, verified flags) so the
// authorization guard avoids a database round trip per request.
type IdentityCache struct {
	client *red.Client
	prefix string
}

// NewIdentityCache constructs the identity state cache helper.
func NewIdentityCache(client *red.Client, keyPrefix string) *IdentityCache {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultIdentityStatePrefix
	}

	return &IdentityCache{client: client, prefix: prefix}
}

type identityStatePayload struct {
	Role       string `json:"role"`
	IsActive   bool   `json:"is_active"`
	IsVerified bool   `json:"is_verified"`
}

// GetIdentityState fetches the cached state, returning repository.ErrNotFound
// on a cache miss.
func (c *IdentityCache) GetIdentityState(ctx context.Context, userID string) (*domain.IdentityState, error) {
	key := c.key(userID)
	if key == "" {
		return nil, fmt.Errorf("user id is required")
	}

	result, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get identity state: %w", err)
	}

	var payload identityStatePayload
	if err := json.Unmarshal([]byte(result), &payload); err != nil {
		return nil, fmt.Errorf("decode cached identity state: %w", err)
	}

	role, ok := domain.ParseRole(payload.Role)
	if !ok {
		return nil, fmt.Errorf("cached identity state for %s has unknown role %q", userID, payload.Role)
	}

	return &domain.IdentityState{
		UserID:     strings.TrimSpace(userID),
		Role:       role,
		IsActive:   payload.IsActive,
		IsVerified: payload.IsVerified,
	}, nil
}

// SetIdentityState stores the state with the provided TTL. The caller is
// responsible for keeping the TTL at or below the access token lifetime.
func (c *IdentityCache) SetIdentityState(ctx context.Context, state domain.IdentityState, ttl time.Duration) error {
	key := c.key(state.UserID)
	if key == "" {
		return fmt.Errorf("user id is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	payload, err := json.Marshal(identityStatePayload{
		Role:       string(state.Role),
		IsActive:   state.IsActive,
		IsVerified: state.IsVerified,
	})
	if err != nil {
		return fmt.Errorf("encode identity state: %w", err)
	}

	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set identity state: %w", err)
	}

	return nil
}

// DeleteIdentityState evicts the cached entry, forcing the next authorization
// check to re-read the user row.
func (c *IdentityCache) DeleteIdentityState(ctx context.Context, userID string) error {
	key := c.key(userID)
	if key == "" {
		return fmt.Errorf("user id is required")
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete identity state: %w", err)
	}

	return nil
}

func (c *IdentityCache) key(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.prefix, userID)
}

var _ port.IdentityCache = (*IdentityCache)(nil)
