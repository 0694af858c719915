package usecase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/loverose/auth-service/internal/core/domain"
	"github.com/loverose/auth-service/internal/core/port"
	"github.com/loverose/auth-service/internal/infra/config"
	"github.com/loverose/auth-service/internal/infra/security"
	"github.com/loverose/auth-service/internal/repository"
)

type stubUserRepository struct {
	users           map[string]domain.User
	lastLoginStamps map[string]time.Time
	passwordUpdates map[string]string
	getByIDCalls    int
}

func newStubUserRepository(users ...domain.User) *stubUserRepository {
	repo := &stubUserRepository{
		users:           make(map[string]domain.User),
		lastLoginStamps: make(map[string]time.Time),
		passwordUpdates: make(map[string]string),
	}
	for _, user := range users {
		repo.users[user.ID] = user
	}
	return repo
}

func (r *stubUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.getByIDCalls++
	if user, ok := r.users[id]; ok {
		copy := user
		return &copy, nil
	}
	return nil, repository.ErrNotFound
}

func (r *stubUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	for _, user := range r.users {
		if user.Email == email {
			copy := user
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubUserRepository) UpdatePassword(_ context.Context, id string, passwordHash string, changedAt time.Time) error {
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.PasswordChangedAt = changedAt
	r.users[id] = user
	r.passwordUpdates[id] = passwordHash
	return nil
}

func (r *stubUserRepository) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	r.lastLoginStamps[id] = at
	return nil
}

var _ port.UserRepository = (*stubUserRepository)(nil)

//

type stubTokenRepository struct {
	refreshTokens map[string]domain.RefreshToken // keyed by ID
	resetTokens   map[string]domain.PasswordResetToken
	users         *stubUserRepository

	rotateCalls     int
	revokedFamilies []string
	revokeReasons   []string
}

func newStubTokenRepository(users *stubUserRepository) *stubTokenRepository {
	return &stubTokenRepository{
		refreshTokens: make(map[string]domain.RefreshToken),
		resetTokens:   make(map[string]domain.PasswordResetToken),
		users:         users,
	}
}

func (r *stubTokenRepository) CreateRefreshToken(_ context.Context, token domain.RefreshToken) error {
	r.refreshTokens[token.ID] = token
	return nil
}

func (r *stubTokenRepository) GetRefreshTokenByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	for _, token := range r.refreshTokens {
		if token.TokenHash == hash {
			copy := token
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubTokenRepository) RotateRefreshToken(_ context.Context, currentID string, usedAt time.Time, successor domain.RefreshToken) error {
	r.rotateCalls++
	current, ok := r.refreshTokens[currentID]
	if !ok || current.UsedAt != nil || current.RevokedAt != nil {
		return repository.ErrAlreadyRotated
	}
	current.MarkUsed(usedAt)
	current.Revoke(usedAt)
	r.refreshTokens[currentID] = current
	r.refreshTokens[successor.ID] = successor
	return nil
}

func (r *stubTokenRepository) RevokeRefreshToken(_ context.Context, id string, _ string) error {
	token, ok := r.refreshTokens[id]
	if !ok {
		return repository.ErrNotFound
	}
	token.Revoke(time.Now().UTC())
	r.refreshTokens[id] = token
	return nil
}

func (r *stubTokenRepository) RevokeRefreshTokensByFamily(_ context.Context, familyID string, reason string) (int, error) {
	r.revokedFamilies = append(r.revokedFamilies, familyID)
	r.revokeReasons = append(r.revokeReasons, reason)
	count := 0
	for id, token := range r.refreshTokens {
		if token.FamilyID == familyID && token.RevokedAt == nil {
			token.Revoke(time.Now().UTC())
			r.refreshTokens[id] = token
			count++
		}
	}
	return count, nil
}

func (r *stubTokenRepository) RevokeRefreshTokensForUser(_ context.Context, userID string, _ string) (int, error) {
	count := 0
	for id, token := range r.refreshTokens {
		if token.UserID == userID && token.RevokedAt == nil {
			token.Revoke(time.Now().UTC())
			r.refreshTokens[id] = token
			count++
		}
	}
	return count, nil
}

func (r *stubTokenRepository) CreatePasswordReset(_ context.Context, token domain.PasswordResetToken) error {
	r.resetTokens[token.ID] = token
	return nil
}

func (r *stubTokenRepository) GetPasswordResetByHash(_ context.Context, hash string) (*domain.PasswordResetToken, error) {
	for _, token := range r.resetTokens {
		if token.TokenHash == hash {
			copy := token
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubTokenRepository) RedeemPasswordReset(ctx context.Context, tokenID string, userID string, newPasswordHash string, at time.Time) (int, error) {
	token, ok := r.resetTokens[tokenID]
	if !ok || token.UsedAt != nil || token.RevokedAt != nil {
		return 0, repository.ErrAlreadyRedeemed
	}
	token.Consume(at)
	r.resetTokens[tokenID] = token

	if r.users != nil {
		if err := r.users.UpdatePassword(ctx, userID, newPasswordHash, at); err != nil {
			return 0, err
		}
	}

	return r.RevokeRefreshTokensForUser(ctx, userID, "password_reset")
}

func (r *stubTokenRepository) DeleteExpiredTokens(_ context.Context, expiresBefore time.Time) (int, error) {
	removed := 0
	for id, token := range r.refreshTokens {
		if token.ExpiresAt.Before(expiresBefore) {
			delete(r.refreshTokens, id)
			removed++
		}
	}
	for id, token := range r.resetTokens {
		if token.ExpiresAt.Before(expiresBefore) {
			delete(r.resetTokens, id)
			removed++
		}
	}
	return removed, nil
}

var _ port.TokenRepository = (*stubTokenRepository)(nil)

//

type recordingPublisher struct {
	loggedIn        []domain.UserLoggedInEvent
	passwordChanged []domain.PasswordChangedEvent
	resetRequested  []domain.PasswordResetRequestedEvent
	sessionRevoked  []domain.SessionRevokedEvent
	reuseDetected   []domain.TokenReuseDetectedEvent
}

func (p *recordingPublisher) PublishUserLoggedIn(_ context.Context, event domain.UserLoggedInEvent) error {
	p.loggedIn = append(p.loggedIn, event)
	return nil
}

func (p *recordingPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.passwordChanged = append(p.passwordChanged, event)
	return nil
}

func (p *recordingPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	p.resetRequested = append(p.resetRequested, event)
	return nil
}

func (p *recordingPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	p.sessionRevoked = append(p.sessionRevoked, event)
	return nil
}

func (p *recordingPublisher) PublishTokenReuseDetected(_ context.Context, event domain.TokenReuseDetectedEvent) error {
	p.reuseDetected = append(p.reuseDetected, event)
	return nil
}

var _ port.EventPublisher = (*recordingPublisher)(nil)

//

type recordingNotifier struct {
	emails  []string
	secrets []string
	fail    error
}

func (n *recordingNotifier) SendResetNotice(_ context.Context, email string, secret string) error {
	if n.fail != nil {
		return n.fail
	}
	n.emails = append(n.emails, email)
	n.secrets = append(n.secrets, secret)
	return nil
}

var _ port.ResetNotifier = (*recordingNotifier)(nil)

//

type stubIdentityCache struct {
	states  map[string]domain.IdentityState
	ttls    map[string]time.Duration
	deletes []string
}

func newStubIdentityCache() *stubIdentityCache {
	return &stubIdentityCache{
		states: make(map[string]domain.IdentityState),
		ttls:   make(map[string]time.Duration),
	}
}

func (c *stubIdentityCache) GetIdentityState(_ context.Context, userID string) (*domain.IdentityState, error) {
	if state, ok := c.states[userID]; ok {
		copy := state
		return &copy, nil
	}
	return nil, repository.ErrNotFound
}

func (c *stubIdentityCache) SetIdentityState(_ context.Context, state domain.IdentityState, ttl time.Duration) error {
	c.states[state.UserID] = state
	c.ttls[state.UserID] = ttl
	return nil
}

func (c *stubIdentityCache) DeleteIdentityState(_ context.Context, userID string) error {
	delete(c.states, userID)
	c.deletes = append(c.deletes, userID)
	return nil
}

var _ port.IdentityCache = (*stubIdentityCache)(nil)

//

type denyingRateLimiter struct{}

func (denyingRateLimiter) TrimWindow(context.Context, string, time.Duration, time.Time) error {
	return nil
}
func (denyingRateLimiter) CountAttempts(context.Context, string, time.Duration, time.Time) (int, error) {
	return 1000, nil
}
func (denyingRateLimiter) RecordAttempt(context.Context, string, time.Time) error {
	return errors.New("unexpected call: RecordAttempt")
}
func (denyingRateLimiter) OldestAttempt(_ context.Context, _ string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	return reference.Add(-window / 2), true, nil
}

var _ port.RateLimitStore = denyingRateLimiter{}

//

func newTestKeyProvider(t *testing.T) *security.StaticKeyProvider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	return &security.StaticKeyProvider{Key: key, KID: "test-kid"}
}

func newTestConfig() *config.AppConfig {
	cfg := &config.AppConfig{}
	cfg.App.Name = "auth-service"
	cfg.JWT.AccessTokenTTL = 15 * time.Minute
	cfg.JWT.RefreshTokenTTL = 168 * time.Hour
	cfg.JWT.ClockSkew = 30 * time.Second
	cfg.Reset.TokenTTL = time.Hour
	cfg.Redis.IdentityStateTTL = 5 * time.Minute
	cfg.RateLimit.WindowDuration = 15 * time.Minute
	cfg.RateLimit.LoginMaxAttempts = 10
	cfg.RateLimit.RefreshMaxAttempts = 30
	cfg.RateLimit.PasswordResetMaxAttempts = 3
	return cfg
}

const testPassword = "Corr3ct-horse-battery!"

func newTestUser(id string) domain.User {
	hash, err := security.HashPassword(testPassword)
	if err != nil {
		panic(err)
	}
	return domain.User{
		ID:                id,
		Email:             id + "@example.com",
		Username:          id,
		PasswordHash:      hash,
		Role:              domain.RoleUser,
		IsActive:          true,
		IsVerified:        true,
		CreatedAt:         time.Now().UTC().Add(-24 * time.Hour),
		PasswordChangedAt: time.Now().UTC().Add(-24 * time.Hour),
	}
}
