package handlers

import (
	"context"
	"time"

	"github.com/loverose/auth-service/internal/core/domain"
	"github.com/loverose/auth-service/internal/repository"
)

// stubTokenStore serves preset records regardless of the presented hash.
type stubTokenStore struct {
	refresh    *domain.RefreshToken
	refreshErr error
	reset      *domain.PasswordResetToken
	resetErr   error

	familiesRevoked int
}

func (s *stubTokenStore) CreateRefreshToken(context.Context, domain.RefreshToken) error {
	return nil
}

func (s *stubTokenStore) GetRefreshTokenByHash(context.Context, string) (*domain.RefreshToken, error) {
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	if s.refresh == nil {
		return nil, repository.ErrNotFound
	}
	record := *s.refresh
	return &record, nil
}

func (s *stubTokenStore) RotateRefreshToken(context.Context, string, time.Time, domain.RefreshToken) error {
	return nil
}

func (s *stubTokenStore) RevokeRefreshToken(context.Context, string, string) error {
	return nil
}

func (s *stubTokenStore) RevokeRefreshTokensByFamily(context.Context, string, string) (int, error) {
	s.familiesRevoked++
	return 1, nil
}

func (s *stubTokenStore) RevokeRefreshTokensForUser(context.Context, string, string) (int, error) {
	return 0, nil
}

func (s *stubTokenStore) CreatePasswordReset(context.Context, domain.PasswordResetToken) error {
	return nil
}

func (s *stubTokenStore) GetPasswordResetByHash(context.Context, string) (*domain.PasswordResetToken, error) {
	if s.resetErr != nil {
		return nil, s.resetErr
	}
	if s.reset == nil {
		return nil, repository.ErrNotFound
	}
	record := *s.reset
	return &record, nil
}

func (s *stubTokenStore) RedeemPasswordReset(context.Context, string, string, string, time.Time) (int, error) {
	return 0, nil
}

func (s *stubTokenStore) DeleteExpiredTokens(context.Context, time.Time) (int, error) {
	return 0, nil
}

type stubUserStore struct {
	user *domain.User
	err  error
}

func (s *stubUserStore) GetByID(context.Context, string) (*domain.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.user == nil {
		return nil, repository.ErrNotFound
	}
	user := *s.user
	return &user, nil
}

func (s *stubUserStore) GetByEmail(context.Context, string) (*domain.User, error) {
	return s.GetByID(context.Background(), "")
}

func (s *stubUserStore) UpdateLastLogin(context.Context, string, time.Time) error {
	return nil
}
