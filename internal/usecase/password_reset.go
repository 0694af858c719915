package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loverose/auth-service/internal/core/domain"
	"github.com/loverose/auth-service/internal/core/port"
	"github.com/loverose/auth-service/internal/infra/config"
	"github.com/loverose/auth-service/internal/infra/security"
	"github.com/loverose/auth-service/internal/infra/telemetry"
	"github.com/loverose/auth-service/internal/repository"
)

const (
	resetDeliveryEmail = "email"
	defaultResetTTL    = time.Hour

	passwordResetRateLimitScope = "password_reset"
	passwordResetReason         = "password_reset"
)

var (
	// ErrPasswordResetTokenInvalid indicates the supplied reset secret is unknown, revoked, or already used.
	ErrPasswordResetTokenInvalid = errors.New("password reset token invalid")
	// ErrPasswordResetTokenExpired indicates the supplied reset secret has expired.
	ErrPasswordResetTokenExpired = errors.New("password reset token expired")
	// ErrSamePassword indicates the replacement password equals the current one.
	ErrSamePassword = errors.New("new password must differ from the current password")
)

// PasswordResetService coordinates the forgot-password flow: issuing hashed
// single-use reset secrets and atomically redeeming them.
type PasswordResetService struct {
	cfg        *config.AppConfig
	users      port.UserRepository
	tokens     port.TokenRepository
	rateLimits port.RateLimitStore
	events     port.EventPublisher
	notifier   port.ResetNotifier
	identities port.IdentityCache
	metrics    *telemetry.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// PasswordResetRequestInput carries the payload to start a reset.
type PasswordResetRequestInput struct {
	Email     string
	IP        string
	UserAgent string
}

// PasswordResetRequestResult is intentionally identical for known and unknown
// accounts so the endpoint cannot be used to probe registered emails.
type PasswordResetRequestResult struct {
	RequestID string
	ExpiresAt time.Time
}

// PasswordResetRedeemInput carries the payload to finalize a reset.
type PasswordResetRedeemInput struct {
	Token       string
	NewPassword string
	IP          string
	UserAgent   string
}

// PasswordResetRedeemResult describes a completed reset.
type PasswordResetRedeemResult struct {
	UserID        string
	ChangedAt     time.Time
	TokensRevoked int
}

// NewPasswordResetService constructs a PasswordResetService.
func NewPasswordResetService(
	cfg *config.AppConfig,
	users port.UserRepository,
	tokens port.TokenRepository,
	rateLimits port.RateLimitStore,
	events port.EventPublisher,
	notifier port.ResetNotifier,
	identities port.IdentityCache,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
) *PasswordResetService {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &PasswordResetService{
		cfg:        cfg,
		users:      users,
		tokens:     tokens,
		rateLimits: rateLimits,
		events:     events,
		notifier:   notifier,
		identities: identities,
		metrics:    metrics,
		logger:     logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *PasswordResetService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// RequestPasswordReset issues a reset secret for the account behind the email
// and hands it to the notifier. Unknown and inactive accounts get the same
// result as real ones; only the rate limiter may reject the call outright.
func (s *PasswordResetService) RequestPasswordReset(ctx context.Context, input PasswordResetRequestInput) (*PasswordResetRequestResult, error) {
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	now := s.now().UTC()
	if err := enforceRateLimit(ctx, s.rateLimits, s.logger, passwordResetRateLimitScope, email, s.resetAttemptLimit(), s.rateLimitWindow(), now); err != nil {
		return nil, err
	}

	result := &PasswordResetRequestResult{
		RequestID: uuid.NewString(),
		ExpiresAt: now.Add(s.resetTTL()),
	}

	// The secret is derived before the account lookup so suppressed and
	// issued requests perform the same crypto work.
	raw, err := security.GenerateSecureToken(security.SecretByteLength)
	if err != nil {
		return nil, fmt.Errorf("generate reset token: %w", err)
	}
	tokenHash := security.HashToken(raw)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.countReset("suppressed")
			return result, nil
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.CanAuthenticate() {
		s.countReset("suppressed")
		return result, nil
	}

	record := domain.PasswordResetToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: tokenHash,
		IP:        stringPtrOrNil(input.IP),
		UserAgent: stringPtrOrNil(input.UserAgent),
		CreatedAt: now,
		ExpiresAt: result.ExpiresAt,
		Metadata:  map[string]any{"request_id": result.RequestID},
	}

	if err := s.tokens.CreatePasswordReset(ctx, record); err != nil {
		return nil, fmt.Errorf("store reset token: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.SendResetNotice(ctx, user.Email, raw); err != nil {
			// The stored token stays valid; delivery can be retried out of band.
			s.logger.Error("deliver reset notice failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	s.publishResetRequested(ctx, *user, record, result.RequestID, input.IP)
	s.countReset("issued")

	return result, nil
}

// RedeemPasswordReset exchanges a valid reset secret for a new password.
// Consuming the token, rewriting the password hash, and revoking every
// refresh token of the user happen in one transaction; a second redeem of the
// same secret fails without side effects.
func (s *PasswordResetService) RedeemPasswordReset(ctx context.Context, input PasswordResetRedeemInput) (*PasswordResetRedeemResult, error) {
	secret := strings.TrimSpace(input.Token)
	if secret == "" {
		return nil, ErrPasswordResetTokenInvalid
	}

	record, err := s.tokens.GetPasswordResetByHash(ctx, security.HashToken(secret))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.countReset("rejected")
			return nil, ErrPasswordResetTokenInvalid
		}
		return nil, fmt.Errorf("lookup reset token: %w", err)
	}

	now := s.now().UTC()
	if record.IsExpired(now) {
		s.countReset("rejected")
		return nil, ErrPasswordResetTokenExpired
	}
	if !record.IsRedeemable(now) {
		s.countReset("rejected")
		return nil, ErrPasswordResetTokenInvalid
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPasswordResetTokenInvalid
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if err := s.validateNewPassword(input.NewPassword, *user); err != nil {
		return nil, err
	}

	newHash, err := security.HashPassword(input.NewPassword)
	if err != nil {
		return nil, fmt.Errorf("hash new password: %w", err)
	}

	revoked, err := s.tokens.RedeemPasswordReset(ctx, record.ID, user.ID, newHash, now)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyRedeemed) {
			s.countReset("rejected")
			return nil, ErrPasswordResetTokenInvalid
		}
		return nil, fmt.Errorf("redeem reset token: %w", err)
	}

	if s.identities != nil {
		if err := s.identities.DeleteIdentityState(ctx, user.ID); err != nil {
			s.logger.Warn("evict identity state failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	s.publishPasswordChanged(ctx, *user, now, revoked)
	s.countReset("completed")

	return &PasswordResetRedeemResult{
		UserID:        user.ID,
		ChangedAt:     now,
		TokensRevoked: revoked,
	}, nil
}

// validateNewPassword runs the password policy and rejects a password equal
// to the one being replaced.
func (s *PasswordResetService) validateNewPassword(password string, user domain.User) error {
	validator := security.DefaultResetPasswordValidator(user.Email, user.Username)
	if err := validator.Validate(password); err != nil {
		return err
	}

	same, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("compare with current password: %w", err)
	}
	if same {
		return ErrSamePassword
	}

	return nil
}

func (s *PasswordResetService) publishResetRequested(ctx context.Context, user domain.User, record domain.PasswordResetToken, requestID string, ip string) {
	if s.events == nil {
		return
	}

	event := domain.PasswordResetRequestedEvent{
		EventID:           uuid.NewString(),
		UserID:            user.ID,
		RequestID:         requestID,
		RequestedAt:       record.CreatedAt,
		MaskedDestination: maskDestination(resetDeliveryEmail, user.Email),
		IPAddress:         stringPtrOrNil(ip),
		ExpiresAt:         record.ExpiresAt,
	}

	if err := s.events.PublishPasswordResetRequested(ctx, event); err != nil {
		s.logger.Warn("publish reset requested event failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

func (s *PasswordResetService) publishPasswordChanged(ctx context.Context, user domain.User, changedAt time.Time, revoked int) {
	if s.events == nil {
		return
	}

	event := domain.PasswordChangedEvent{
		EventID:         uuid.NewString(),
		UserID:          user.ID,
		ChangedAt:       changedAt,
		ChangedBy:       user.ID,
		SessionsRevoked: revoked,
		Metadata:        map[string]any{"reason": passwordResetReason},
	}

	if err := s.events.PublishPasswordChanged(ctx, event); err != nil {
		s.logger.Warn("publish password changed event failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

func (s *PasswordResetService) countReset(outcome string) {
	if s.metrics != nil {
		s.metrics.ResetRequests.WithLabelValues(outcome).Inc()
	}
}

func (s *PasswordResetService) resetTTL() time.Duration {
	if s.cfg != nil && s.cfg.Reset.TokenTTL > 0 {
		return s.cfg.Reset.TokenTTL
	}
	return defaultResetTTL
}

func (s *PasswordResetService) resetAttemptLimit() int {
	if s.cfg == nil {
		return 0
	}
	return s.cfg.RateLimit.PasswordResetMaxAttempts
}

func (s *PasswordResetService) rateLimitWindow() time.Duration {
	if s.cfg != nil && s.cfg.RateLimit.WindowDuration > 0 {
		return s.cfg.RateLimit.WindowDuration
	}
	return time.Hour
}

// maskDestination hides most of a delivery address for event payloads.
func maskDestination(delivery, value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	if delivery == resetDeliveryEmail {
		if idx := strings.Index(trimmed, "@"); idx > 0 {
			local := trimmed[:idx]
			domainPart := trimmed[idx:]
			if len(local) <= 3 {
				return "***" + domainPart
			}
			return local[:3] + "***" + domainPart
		}
	}

	if len(trimmed) <= 3 {
		return "***"
	}
	return trimmed[:3] + "***"
}
