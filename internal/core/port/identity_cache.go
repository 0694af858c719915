package port

import (
	"context"
	"time"

	"github.com/loverose/auth-service/internal/core/domain"
)

// IdentityCache caches per-request identity state (role, active, verified)
// so the authorization guard does not hit the database on every call.
// Entries must expire no later than the access token lifetime.
type IdentityCache interface {
	GetIdentityState(ctx context.Context, userID string) (*domain.IdentityState, error)
	SetIdentityState(ctx context.Context, state domain.IdentityState, ttl time.Duration) error
	DeleteIdentityState(ctx context.Context, userID string) error
}
