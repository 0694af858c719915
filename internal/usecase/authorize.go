package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/loverose/auth-service/internal/core/domain"
	"github.com/loverose/auth-service/internal/core/port"
	"github.com/loverose/auth-service/internal/infra/config"
	"github.com/loverose/auth-service/internal/repository"
)

var (
	// ErrForbidden indicates the bearer lacks the role required for the resource.
	ErrForbidden = errors.New("insufficient role")
	// ErrAccountUnverified indicates the account has not completed verification.
	ErrAccountUnverified = errors.New("account is not verified")
)

// AuthorizeService is the per-request authorization guard. It verifies the
// access token offline, then consults the current identity state (cached with
// a TTL no longer than the access token lifetime) so deactivations and role
// changes take effect within one token cycle even though issued tokens are
// never recalled.
type AuthorizeService struct {
	cfg        *config.AppConfig
	users      port.UserRepository
	identities port.IdentityCache
	tokens     *TokenService
	logger     *zap.Logger
}

// NewAuthorizeService constructs an AuthorizeService.
func NewAuthorizeService(cfg *config.AppConfig, users port.UserRepository, identities port.IdentityCache, tokens *TokenService, logger *zap.Logger) *AuthorizeService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuthorizeService{
		cfg:        cfg,
		users:      users,
		identities: identities,
		tokens:     tokens,
		logger:     logger,
	}
}

// Authorization is the verdict handed to request handlers.
type Authorization struct {
	Claims *AccessTokenClaims
	State  domain.IdentityState
}

// Authorize validates the access token and checks the live identity state
// against the required roles. An empty role list only requires a valid,
// active, verified identity. Admins pass every role requirement.
func (s *AuthorizeService) Authorize(ctx context.Context, accessToken string, required ...domain.Role) (*Authorization, error) {
	claims, err := s.tokens.ParseAccessToken(accessToken)
	if err != nil {
		return nil, err
	}

	state, err := s.identityState(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidAccessToken
		}
		return nil, err
	}

	if !state.IsActive {
		return nil, ErrInactiveAccount
	}
	if !state.IsVerified {
		return nil, ErrAccountUnverified
	}

	if len(required) > 0 && !roleAllowed(state.Role, required) {
		return nil, ErrForbidden
	}

	return &Authorization{Claims: claims, State: *state}, nil
}

// identityState reads through the cache: a hit is served as-is, a miss falls
// back to the user row and repopulates the cache. Cache failures other than a
// miss degrade to the database so authorization keeps working without Redis.
func (s *AuthorizeService) identityState(ctx context.Context, userID string) (*domain.IdentityState, error) {
	if s.identities != nil {
		state, err := s.identities.GetIdentityState(ctx, userID)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("identity state cache lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	state := domain.StateOf(*user)

	if s.identities != nil {
		if ttl := s.stateTTL(); ttl > 0 {
			if err := s.identities.SetIdentityState(ctx, state, ttl); err != nil {
				s.logger.Warn("identity state cache store failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}

	return &state, nil
}

// stateTTL clamps the configured cache TTL to the access token lifetime.
func (s *AuthorizeService) stateTTL() time.Duration {
	if s.cfg == nil {
		return 0
	}
	ttl := s.cfg.Redis.IdentityStateTTL
	if access := s.cfg.JWT.AccessTokenTTL; access > 0 && ttl > access {
		ttl = access
	}
	return ttl
}

func roleAllowed(role domain.Role, required []domain.Role) bool {
	if role == domain.RoleAdmin {
		return true
	}
	for _, candidate := range required {
		if role == candidate {
			return true
		}
	}
	return false
}
