package port

import (
	"context"

	"github.com/loverose/auth-service/internal/core/domain"
)

// EventPublisher publishes security events to the message bus.
type EventPublisher interface {
	PublishUserLoggedIn(ctx context.Context, event domain.UserLoggedInEvent) error
	PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error
	PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error
	PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error
	PublishTokenReuseDetected(ctx context.Context, event domain.TokenReuseDetectedEvent) error
}

// ResetNotifier delivers the plaintext reset secret to the account owner.
// Implementations are owned by the notification service; the secret must
// never be logged or echoed back in an API response.
type ResetNotifier interface {
	SendResetNotice(ctx context.Context, email string, secret string) error
}
