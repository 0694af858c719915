package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/loverose/auth-service/internal/core/domain"
	"github.com/loverose/auth-service/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for
// development environments and for deployments without a broker.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("stub event published",
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishUserLoggedIn logs auth.user.logged_in events.
func (p *StubPublisher) PublishUserLoggedIn(_ context.Context, event domain.UserLoggedInEvent) error {
	payload := map[string]any{
		"user_id":    event.UserID,
		"role":       event.Role,
		"logged_at":  event.LoggedAt,
		"ip_address": event.IPAddress,
		"user_agent": event.UserAgent,
		"metadata":   event.Metadata,
	}
	p.logEvent("auth.user.logged_in", event.UserID, event.LoggedAt, payload)
	return nil
}

// PublishPasswordChanged logs auth.user.password.changed events.
func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	payload := map[string]any{
		"user_id":          event.UserID,
		"changed_at":       event.ChangedAt,
		"changed_by":       event.ChangedBy,
		"sessions_revoked": event.SessionsRevoked,
		"metadata":         event.Metadata,
	}
	p.logEvent("auth.user.password.changed", event.UserID, event.ChangedAt, payload)
	return nil
}

// PublishPasswordResetRequested logs auth.user.password.reset_requested events.
func (p *StubPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	payload := map[string]any{
		"user_id":            event.UserID,
		"request_id":         event.RequestID,
		"requested_at":       event.RequestedAt,
		"masked_destination": event.MaskedDestination,
		"ip_address":         event.IPAddress,
		"expires_at":         event.ExpiresAt,
		"metadata":           event.Metadata,
	}
	p.logEvent("auth.user.password.reset_requested", event.UserID, event.RequestedAt, payload)
	return nil
}

// PublishSessionRevoked logs auth.session.revoked events.
func (p *StubPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	payload := map[string]any{
		"user_id":        event.UserID,
		"family_id":      event.FamilyID,
		"revoked_at":     event.RevokedAt,
		"revoked_by":     event.RevokedBy,
		"reason":         event.Reason,
		"tokens_revoked": event.TokensRevoked,
		"ip_address":     event.IPAddress,
		"metadata":       event.Metadata,
	}
	p.logEvent("auth.session.revoked", event.UserID, event.RevokedAt, payload)
	return nil
}

// PublishTokenReuseDetected logs auth.token.reuse_detected events.
func (p *StubPublisher) PublishTokenReuseDetected(_ context.Context, event domain.TokenReuseDetectedEvent) error {
	payload := map[string]any{
		"user_id":        event.UserID,
		"family_id":      event.FamilyID,
		"detected_at":    event.DetectedAt,
		"tokens_revoked": event.TokensRevoked,
		"ip_address":     event.IPAddress,
		"user_agent":     event.UserAgent,
		"metadata":       event.Metadata,
	}
	p.logEvent("auth.token.reuse_detected", event.UserID, event.DetectedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
