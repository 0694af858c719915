package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loverose/auth-service/internal/core/port"
)

// RateLimitExceededError reports that the caller exhausted the attempt budget
// for a rate limited scope. RetryAfter is zero when the window is unknown.
type RateLimitExceededError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Scope, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Scope)
}

// ClientContext carries request attribution recorded alongside issued tokens.
type ClientContext struct {
	IP        string
	UserAgent string
}

// enforceRateLimit applies the sliding-window limiter for one scope. Limiter
// outages degrade open: the attempt is allowed and the failure is logged.
func enforceRateLimit(ctx context.Context, store port.RateLimitStore, logger *zap.Logger, scope, identifier string, limit int, window time.Duration, now time.Time) error {
	if store == nil || limit <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Hour
	}

	key := normalizeIdentifierKey(identifier)
	if key == "" {
		return nil
	}
	storageKey := fmt.Sprintf("%s:%s", scope, key)

	if err := store.TrimWindow(ctx, storageKey, window, now); err != nil {
		logger.Warn("rate limit trim failed", zap.String("scope", scope), zap.Error(err))
		return nil
	}

	count, err := store.CountAttempts(ctx, storageKey, window, now)
	if err != nil {
		logger.Warn("rate limit count failed", zap.String("scope", scope), zap.Error(err))
		return nil
	}

	if count >= limit {
		retryAfter := time.Duration(0)
		if oldest, ok, err := store.OldestAttempt(ctx, storageKey, window, now); err == nil && ok {
			if reset := oldest.Add(window); reset.After(now) {
				retryAfter = reset.Sub(now)
			}
		} else if err != nil {
			logger.Warn("rate limit oldest lookup failed", zap.String("scope", scope), zap.Error(err))
		}
		return &RateLimitExceededError{Scope: scope, RetryAfter: retryAfter}
	}

	if err := store.RecordAttempt(ctx, storageKey, now); err != nil {
		logger.Warn("rate limit record failed", zap.String("scope", scope), zap.Error(err))
	}

	return nil
}

func normalizeIdentifierKey(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func metadataCopy(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func stringPtr(value string) *string {
	return &value
}

func stringPtrOrNil(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return stringPtr(trimmed)
}
