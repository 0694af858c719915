package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/loverose/auth-service/internal/core/domain"
	"github.com/loverose/auth-service/internal/repository"
	"github.com/loverose/auth-service/internal/usecase"
)

func newAuthRouter(t *testing.T, tokens *stubTokenStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	service := usecase.NewAuthService(nil, &stubUserStore{}, tokens, nil, nil, nil, nil, nil, zaptest.NewLogger(t))

	router := gin.New()
	NewAuthHandler(service).RegisterRoutes(router.Group("/api/v1/auth"), nil)
	return router
}

func postRefresh(t *testing.T, router *gin.Engine, token string) *httptest.ResponseRecorder {
	t.Helper()

	body := strings.NewReader(`{"refresh_token":"` + token + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", body)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRefreshExpiredAndUnknownAnswerIdentically(t *testing.T) {
	expired := &domain.RefreshToken{
		ID:        "rt-1",
		UserID:    "user-1",
		TokenHash: "hash",
		FamilyID:  "fam-1",
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}

	expiredResp := postRefresh(t, newAuthRouter(t, &stubTokenStore{refresh: expired}), "expired-secret")
	unknownResp := postRefresh(t, newAuthRouter(t, &stubTokenStore{}), "unknown-secret")

	if expiredResp.Code != http.StatusUnauthorized || unknownResp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", expiredResp.Code, unknownResp.Code)
	}

	if !bytes.Equal(expiredResp.Body.Bytes(), unknownResp.Body.Bytes()) {
		t.Fatalf("expired and unknown refresh tokens must be indistinguishable: %s vs %s",
			expiredResp.Body.String(), unknownResp.Body.String())
	}
}

func TestRefreshReuseStaysDistinguishable(t *testing.T) {
	usedAt := time.Now().UTC().Add(-time.Minute)
	used := &domain.RefreshToken{
		ID:        "rt-1",
		UserID:    "user-1",
		TokenHash: "hash",
		FamilyID:  "fam-1",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
		UsedAt:    &usedAt,
	}

	tokens := &stubTokenStore{refresh: used}
	rr := postRefresh(t, newAuthRouter(t, tokens), "replayed-secret")

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "reuse") {
		t.Fatalf("reuse response must name the condition, got %s", rr.Body.String())
	}
	if tokens.familiesRevoked != 1 {
		t.Fatalf("expected the token family to be revoked once, got %d", tokens.familiesRevoked)
	}
}

func TestRefreshStorageOutageAnswers503(t *testing.T) {
	tokens := &stubTokenStore{refreshErr: repository.ErrStorageUnavailable}
	rr := postRefresh(t, newAuthRouter(t, tokens), "any-secret")

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After hint on storage outage")
	}
	if !strings.Contains(rr.Body.String(), msgStorageUnavailable) {
		t.Fatalf("expected storage unavailable message, got %s", rr.Body.String())
	}
}

func TestLogoutStorageOutageAnswers503(t *testing.T) {
	tokens := &stubTokenStore{refreshErr: repository.ErrStorageUnavailable}
	router := newAuthRouter(t, tokens)

	body := strings.NewReader(`{"refresh_token":"some-secret"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", body)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestLogoutUnknownTokenStaysIdempotent(t *testing.T) {
	router := newAuthRouter(t, &stubTokenStore{})

	body := strings.NewReader(`{"refresh_token":"never-issued"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", body)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for an unknown token, got %d", rr.Code)
	}
}
