package port

import (
	"context"
	"time"

	"github.com/loverose/auth-service/internal/core/domain"
)

// UserRepository exposes the slice of user persistence this subsystem needs.
// Account creation and profile management live in the user-management service;
// here we only read identity state and stamp logins. The password rewrite
// happens inside the redeem transaction owned by TokenRepository.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}
