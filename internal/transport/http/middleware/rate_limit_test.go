package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

type stubAttemptLog struct {
	trimErr   error
	count     int
	countErr  error
	oldest    time.Time
	hasOldest bool
	oldestErr error
	recordErr error

	recordedKeys []string
}

func (s *stubAttemptLog) TrimWindow(_ context.Context, _ string, _ time.Duration, _ time.Time) error {
	return s.trimErr
}

func (s *stubAttemptLog) CountAttempts(_ context.Context, _ string, _ time.Duration, _ time.Time) (int, error) {
	return s.count, s.countErr
}

func (s *stubAttemptLog) RecordAttempt(_ context.Context, identifier string, _ time.Time) error {
	s.recordedKeys = append(s.recordedKeys, identifier)
	return s.recordErr
}

func (s *stubAttemptLog) OldestAttempt(_ context.Context, _ string, _ time.Duration, _ time.Time) (time.Time, bool, error) {
	return s.oldest, s.hasOldest, s.oldestErr
}

func loginRule(limit int) RateLimitRule {
	return RateLimitRule{
		Name:       "auth_login_ip",
		Scope:      "login",
		Limit:      limit,
		Window:     time.Minute,
		Identifier: func(c *gin.Context) (string, bool) { return "198.51.100.7", true },
	}
}

func limitedRouter(t *testing.T, log *stubAttemptLog, now time.Time, rule RateLimitRule) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiter := NewRateLimiter(log, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })

	router := gin.New()
	router.POST("/api/v1/auth/login", limiter.RateLimit(rule), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestRateLimitLoginBelowLimit(t *testing.T) {
	now := time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)
	log := &stubAttemptLog{count: 2, oldest: now.Add(-30 * time.Second), hasOldest: true}

	router := limitedRouter(t, log, now, loginRule(5))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(log.recordedKeys) != 1 {
		t.Fatalf("expected one recorded attempt, got %d", len(log.recordedKeys))
	}
	if key := log.recordedKeys[0]; !strings.HasPrefix(key, "auth_login_ip:") {
		t.Fatalf("attempt key must carry the rule name, got %q", key)
	}

	if got := rr.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("expected limit header 5, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Fatalf("expected remaining header 2, got %q", got)
	}

	wantReset := log.oldest.Add(time.Minute).Unix()
	if got := rr.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(wantReset, 10) {
		t.Fatalf("expected reset header %d, got %q", wantReset, got)
	}
	if got := rr.Header().Get("Retry-After"); got != "" {
		t.Fatalf("expected no retry-after header below the limit, got %q", got)
	}
}

func TestRateLimitLoginExhausted(t *testing.T) {
	now := time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)
	log := &stubAttemptLog{count: 5, oldest: now.Add(-30 * time.Second), hasOldest: true}

	router := limitedRouter(t, log, now, loginRule(5))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if len(log.recordedKeys) != 0 {
		t.Fatalf("rejected requests must not be recorded, got %d records", len(log.recordedKeys))
	}
	if got := rr.Header().Get("Retry-After"); got != "30" {
		t.Fatalf("expected retry-after 30, got %q", got)
	}

	var problem ProblemDetails
	if err := json.Unmarshal(rr.Body.Bytes(), &problem); err != nil {
		t.Fatalf("decode problem payload: %v", err)
	}
	if problem.Status != http.StatusTooManyRequests {
		t.Fatalf("unexpected problem status %d", problem.Status)
	}
	if problem.RetryAfter != 30 {
		t.Fatalf("expected problem retry_after 30, got %d", problem.RetryAfter)
	}
	if !strings.Contains(problem.Detail, "login") {
		t.Fatalf("detail must name the limited scope, got %q", problem.Detail)
	}
}

func TestRateLimitDegradesOpenOnStoreFailure(t *testing.T) {
	now := time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)
	log := &stubAttemptLog{trimErr: errors.New("redis down")}

	router := limitedRouter(t, log, now, loginRule(5))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected the limiter to degrade open, got %d", rr.Code)
	}
	if len(log.recordedKeys) != 0 {
		t.Fatalf("expected no recorded attempts on store failure, got %d", len(log.recordedKeys))
	}
}

func TestRateLimitSkipsUnusableRules(t *testing.T) {
	now := time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)
	log := &stubAttemptLog{count: 100}

	rule := loginRule(0) // no limit configured

	router := limitedRouter(t, log, now, rule)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected unusable rule to be dropped, got %d", rr.Code)
	}
}
