package port

import (
	"context"
	"time"

	"github.com/loverose/auth-service/internal/core/domain"
)

// TokenRepository manages refresh and password reset token records.
//
// RotateRefreshToken and RedeemPasswordReset are the two transactional
// operations of the subsystem: each must apply all of its writes atomically
// so no intermediate state is ever observable.
type TokenRepository interface {
	CreateRefreshToken(ctx context.Context, token domain.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	// RotateRefreshToken consumes the refresh token identified by currentID
	// and inserts its successor in one transaction. The consume step is a
	// conditional update on the unused, unrevoked row; when another request
	// already consumed it the whole transaction rolls back and
	// repository.ErrAlreadyRotated is returned.
	RotateRefreshToken(ctx context.Context, currentID string, usedAt time.Time, successor domain.RefreshToken) error
	RevokeRefreshToken(ctx context.Context, refreshTokenID string, reason string) error
	RevokeRefreshTokensByFamily(ctx context.Context, familyID string, reason string) (int, error)
	RevokeRefreshTokensForUser(ctx context.Context, userID string, reason string) (int, error)

	CreatePasswordReset(ctx context.Context, token domain.PasswordResetToken) error
	GetPasswordResetByHash(ctx context.Context, hash string) (*domain.PasswordResetToken, error)
	// RedeemPasswordReset consumes the reset token, rewrites the user's
	// password hash, and revokes every refresh token of that user in one
	// transaction. It returns the number of refresh tokens revoked.
	RedeemPasswordReset(ctx context.Context, tokenID string, userID string, newPasswordHash string, at time.Time) (int, error)

	// DeleteExpiredTokens prunes refresh and reset records that expired
	// before the given cutoff. Returns the number of rows removed.
	DeleteExpiredTokens(ctx context.Context, expiresBefore time.Time) (int, error)
}
