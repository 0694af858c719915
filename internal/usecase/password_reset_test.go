package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/loverose/auth-service/internal/core/domain"
	"github.com/loverose/auth-service/internal/infra/security"
)

func newResetFixture(t *testing.T, users ...domain.User) (*PasswordResetService, *stubUserRepository, *stubTokenRepository, *recordingPublisher, *recordingNotifier, *stubIdentityCache) {
	t.Helper()

	userRepo := newStubUserRepository(users...)
	tokenRepo := newStubTokenRepository(userRepo)
	publisher := &recordingPublisher{}
	notifier := &recordingNotifier{}
	cache := newStubIdentityCache()

	service := NewPasswordResetService(newTestConfig(), userRepo, tokenRepo, nil, publisher, notifier, cache, nil, zaptest.NewLogger(t))
	return service, userRepo, tokenRepo, publisher, notifier, cache
}

func TestRequestPasswordResetIssuesHashedToken(t *testing.T) {
	user := newTestUser("user-1")
	service, _, tokenRepo, publisher, notifier, _ := newResetFixture(t, user)

	result, err := service.RequestPasswordReset(context.Background(), PasswordResetRequestInput{Email: user.Email, IP: "203.0.113.9"})
	if err != nil {
		t.Fatalf("RequestPasswordReset returned error: %v", err)
	}
	if result.RequestID == "" {
		t.Fatal("expected a request id")
	}

	if len(notifier.secrets) != 1 {
		t.Fatalf("expected notifier to receive one secret, got %d", len(notifier.secrets))
	}
	secret := notifier.secrets[0]

	stored, err := tokenRepo.GetPasswordResetByHash(context.Background(), security.HashToken(secret))
	if err != nil {
		t.Fatalf("stored reset token not found by hash: %v", err)
	}
	if stored.TokenHash == secret {
		t.Fatal("token must be stored hashed, not in plaintext")
	}
	if stored.UserID != user.ID {
		t.Fatalf("expected token bound to %s, got %s", user.ID, stored.UserID)
	}
	if !stored.ExpiresAt.Equal(result.ExpiresAt) {
		t.Fatal("result expiry must match the stored token")
	}

	if len(publisher.resetRequested) != 1 {
		t.Fatalf("expected one reset requested event, got %d", len(publisher.resetRequested))
	}
	if publisher.resetRequested[0].MaskedDestination == user.Email {
		t.Fatal("event must not carry the raw destination")
	}
}

func TestRequestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	service, _, tokenRepo, publisher, notifier, _ := newResetFixture(t, newTestUser("user-1"))

	result, err := service.RequestPasswordReset(context.Background(), PasswordResetRequestInput{Email: "nobody@example.com"})
	if err != nil {
		t.Fatalf("expected generic success for unknown email, got %v", err)
	}
	if result.RequestID == "" {
		t.Fatal("unknown emails must still produce a plausible result")
	}

	if len(tokenRepo.resetTokens) != 0 {
		t.Fatal("no token may be stored for an unknown email")
	}
	if len(notifier.secrets) != 0 {
		t.Fatal("no notice may be sent for an unknown email")
	}
	if len(publisher.resetRequested) != 0 {
		t.Fatal("no event may be published for an unknown email")
	}
}

func TestRequestPasswordResetUnknownEmailMatchesKnownShape(t *testing.T) {
	user := newTestUser("user-1")
	service, _, _, _, _, _ := newResetFixture(t, user)

	at := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	service.WithClock(func() time.Time { return at })

	known, err := service.RequestPasswordReset(context.Background(), PasswordResetRequestInput{Email: user.Email})
	if err != nil {
		t.Fatalf("known email request failed: %v", err)
	}

	unknown, err := service.RequestPasswordReset(context.Background(), PasswordResetRequestInput{Email: "nobody@example.com"})
	if err != nil {
		t.Fatalf("unknown email request failed: %v", err)
	}

	if unknown.RequestID == "" || unknown.RequestID == known.RequestID {
		t.Fatal("unknown emails must get their own plausible request id")
	}
	if !unknown.ExpiresAt.Equal(known.ExpiresAt) {
		t.Fatalf("both outcomes must advertise the same expiry: %v vs %v", known.ExpiresAt, unknown.ExpiresAt)
	}
}

func TestRequestPasswordResetInactiveAccountIsSilent(t *testing.T) {
	user := newTestUser("user-1")
	user.IsActive = false
	service, _, tokenRepo, _, _, _ := newResetFixture(t, user)

	if _, err := service.RequestPasswordReset(context.Background(), PasswordResetRequestInput{Email: user.Email}); err != nil {
		t.Fatalf("expected generic success for inactive account, got %v", err)
	}
	if len(tokenRepo.resetTokens) != 0 {
		t.Fatal("no token may be stored for an inactive account")
	}
}

func TestRedeemPasswordResetRewritesPasswordAndRevokesSessions(t *testing.T) {
	user := newTestUser("user-1")
	service, userRepo, tokenRepo, publisher, notifier, cache := newResetFixture(t, user)

	// Two live refresh tokens from earlier logins.
	for _, id := range []string{"rt-1", "rt-2"} {
		if err := tokenRepo.CreateRefreshToken(context.Background(), domain.RefreshToken{
			ID:        id,
			UserID:    user.ID,
			TokenHash: security.HashToken(id),
			FamilyID:  "family-" + id,
			CreatedAt: time.Now().UTC(),
			ExpiresAt: time.Now().UTC().Add(100 * time.Hour),
		}); err != nil {
			t.Fatalf("seed refresh token: %v", err)
		}
	}

	if _, err := service.RequestPasswordReset(context.Background(), PasswordResetRequestInput{Email: user.Email}); err != nil {
		t.Fatalf("RequestPasswordReset returned error: %v", err)
	}
	secret := notifier.secrets[0]

	result, err := service.RedeemPasswordReset(context.Background(), PasswordResetRedeemInput{
		Token:       secret,
		NewPassword: "Tr1cky-new-passphrase!",
	})
	if err != nil {
		t.Fatalf("RedeemPasswordReset returned error: %v", err)
	}

	if result.TokensRevoked != 2 {
		t.Fatalf("expected 2 revoked refresh tokens, got %d", result.TokensRevoked)
	}

	newHash, ok := userRepo.passwordUpdates[user.ID]
	if !ok {
		t.Fatal("expected the password hash to be rewritten")
	}
	match, err := security.VerifyPassword("Tr1cky-new-passphrase!", newHash)
	if err != nil || !match {
		t.Fatalf("new password does not verify against stored hash: %v", err)
	}

	if len(publisher.passwordChanged) != 1 {
		t.Fatalf("expected one password changed event, got %d", len(publisher.passwordChanged))
	}
	if publisher.passwordChanged[0].SessionsRevoked != 2 {
		t.Fatalf("expected event to carry 2 revoked sessions, got %d", publisher.passwordChanged[0].SessionsRevoked)
	}
	if len(cache.deletes) != 1 {
		t.Fatal("expected identity state eviction after the reset")
	}
}

func TestRedeemPasswordResetSingleUse(t *testing.T) {
	user := newTestUser("user-1")
	service, _, _, _, notifier, _ := newResetFixture(t, user)

	if _, err := service.RequestPasswordReset(context.Background(), PasswordResetRequestInput{Email: user.Email}); err != nil {
		t.Fatalf("RequestPasswordReset returned error: %v", err)
	}
	secret := notifier.secrets[0]

	if _, err := service.RedeemPasswordReset(context.Background(), PasswordResetRedeemInput{Token: secret, NewPassword: "Tr1cky-new-passphrase!"}); err != nil {
		t.Fatalf("first redeem failed: %v", err)
	}

	if _, err := service.RedeemPasswordReset(context.Background(), PasswordResetRedeemInput{Token: secret, NewPassword: "An0ther-passphrase?"}); !errors.Is(err, ErrPasswordResetTokenInvalid) {
		t.Fatalf("expected second redeem to fail with ErrPasswordResetTokenInvalid, got %v", err)
	}
}

func TestRedeemPasswordResetExpired(t *testing.T) {
	user := newTestUser("user-1")
	service, _, _, _, notifier, _ := newResetFixture(t, user)

	if _, err := service.RequestPasswordReset(context.Background(), PasswordResetRequestInput{Email: user.Email}); err != nil {
		t.Fatalf("RequestPasswordReset returned error: %v", err)
	}
	secret := notifier.secrets[0]

	service.WithClock(func() time.Time { return time.Now().UTC().Add(2 * time.Hour) })

	if _, err := service.RedeemPasswordReset(context.Background(), PasswordResetRedeemInput{Token: secret, NewPassword: "Tr1cky-new-passphrase!"}); !errors.Is(err, ErrPasswordResetTokenExpired) {
		t.Fatalf("expected ErrPasswordResetTokenExpired, got %v", err)
	}
}

func TestRedeemPasswordResetUnknownToken(t *testing.T) {
	service, _, _, _, _, _ := newResetFixture(t, newTestUser("user-1"))

	if _, err := service.RedeemPasswordReset(context.Background(), PasswordResetRedeemInput{Token: "bogus", NewPassword: "Tr1cky-new-passphrase!"}); !errors.Is(err, ErrPasswordResetTokenInvalid) {
		t.Fatalf("expected ErrPasswordResetTokenInvalid, got %v", err)
	}
}

func TestRedeemPasswordResetWeakPassword(t *testing.T) {
	user := newTestUser("user-1")
	service, _, _, _, notifier, _ := newResetFixture(t, user)

	if _, err := service.RequestPasswordReset(context.Background(), PasswordResetRequestInput{Email: user.Email}); err != nil {
		t.Fatalf("RequestPasswordReset returned error: %v", err)
	}
	secret := notifier.secrets[0]

	_, err := service.RedeemPasswordReset(context.Background(), PasswordResetRedeemInput{Token: secret, NewPassword: "short"})

	var validationErr *security.PasswordValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected PasswordValidationError, got %v", err)
	}
}

func TestRedeemPasswordResetSamePassword(t *testing.T) {
	user := newTestUser("user-1")
	service, _, _, _, notifier, _ := newResetFixture(t, user)

	if _, err := service.RequestPasswordReset(context.Background(), PasswordResetRequestInput{Email: user.Email}); err != nil {
		t.Fatalf("RequestPasswordReset returned error: %v", err)
	}
	secret := notifier.secrets[0]

	if _, err := service.RedeemPasswordReset(context.Background(), PasswordResetRedeemInput{Token: secret, NewPassword: testPassword}); !errors.Is(err, ErrSamePassword) {
		t.Fatalf("expected ErrSamePassword, got %v", err)
	}
}

func TestRequestPasswordResetRateLimited(t *testing.T) {
	user := newTestUser("user-1")
	userRepo := newStubUserRepository(user)
	tokenRepo := newStubTokenRepository(userRepo)

	service := NewPasswordResetService(newTestConfig(), userRepo, tokenRepo, denyingRateLimiter{}, nil, nil, nil, nil, zaptest.NewLogger(t))

	_, err := service.RequestPasswordReset(context.Background(), PasswordResetRequestInput{Email: user.Email})

	var rateErr *RateLimitExceededError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitExceededError, got %v", err)
	}
	if rateErr.Scope != "password_reset" {
		t.Fatalf("expected password_reset scope, got %s", rateErr.Scope)
	}
}
