package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/loverose/auth-service/internal/core/port"
	applogger "github.com/loverose/auth-service/internal/infra/logger"
)

// LoggingResetNotifier records reset dispatch events for observability
// without delivering them. It stands in for the notification service in
// environments where no delivery channel is wired. The reset secret itself
// is never written to the log.
type LoggingResetNotifier struct {
	logger *zap.Logger
}

// NewLoggingResetNotifier constructs a reset notifier backed by structured logging.
func NewLoggingResetNotifier(logger *zap.Logger) port.ResetNotifier {
	if logger == nil {
		return NoopResetNotifier{}
	}
	return &LoggingResetNotifier{logger: logger}
}

func (n *LoggingResetNotifier) SendResetNotice(ctx context.Context, email string, secret string) error {
	if n == nil || n.logger == nil {
		return nil
	}

	n.logger.Info("dispatch password reset notice",
		zap.String("delivery", "email"),
		zap.String("destination", applogger.MaskEmail(email)),
		zap.Int("secret_length", len(secret)),
	)
	return nil
}

// NoopResetNotifier drops reset notices entirely.
type NoopResetNotifier struct{}

func (NoopResetNotifier) SendResetNotice(ctx context.Context, email string, secret string) error {
	return nil
}
