package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loverose/auth-service/internal/transport/http/middleware"
	"github.com/loverose/auth-service/internal/usecase"
)

// AuthHandler exposes login, refresh, logout, and session introspection.
type AuthHandler struct {
	auth *usecase.AuthService
}

// NewAuthHandler builds an AuthHandler backed by the given service.
func NewAuthHandler(auth *usecase.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// RegisterRoutes wires the auth endpoints into the provided router group.
// Additional middlewares (typically IP rate limiting) apply to login only;
// refresh carries its own per-client limit inside the service.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, authMiddleware gin.HandlerFunc, loginMiddlewares ...gin.HandlerFunc) {
	loginChain := append([]gin.HandlerFunc{}, loginMiddlewares...)
	loginChain = append(loginChain, h.Login)

	r.POST("/login", loginChain...)
	r.POST("/refresh", h.Refresh)
	r.POST("/logout", h.Logout)

	if authMiddleware != nil {
		r.GET("/session", authMiddleware, h.Session)
	}
}

// Login godoc
// @Summary Authenticate with email and password
// @Description Verifies credentials and issues an access/refresh token pair.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	if h.auth == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "auth handler not configured"))
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	client := clientContextFrom(c)

	result, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, client)
	if err != nil {
		var rateErr *usecase.RateLimitExceededError
		if errors.As(err, &rateErr) {
			respondRateLimitExceeded(c, rateErr)
			return
		}

		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid email or password"},
			{Err: usecase.ErrInactiveAccount, Status: http.StatusForbidden, Message: "account is deactivated"},
		}, http.StatusInternalServerError, "login failed")
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		TokenType:    result.Tokens.TokenType,
		ExpiresIn:    result.Tokens.ExpiresIn,
		ExpiresAt:    accessExpiry(result.Tokens),
		User:         userSummaryFrom(result.User),
	})
}

// Refresh godoc
// @Summary Rotate a refresh token
// @Description Consumes the presented refresh token and issues a new pair.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh request"
// @Success 200 {object} RefreshResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	if h.auth == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "auth handler not configured"))
		return
	}

	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid refresh payload"))
		return
	}

	pair, err := h.auth.RefreshSession(c.Request.Context(), req.RefreshToken, clientContextFrom(c))
	if err != nil {
		var rateErr *usecase.RateLimitExceededError
		if errors.As(err, &rateErr) {
			respondRateLimitExceeded(c, rateErr)
			return
		}

		// Expired and unknown tokens share one message; only detected
		// reuse gets its own.
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrRefreshTokenReuse, Status: http.StatusUnauthorized, Message: "refresh token reuse detected; session revoked"},
			{Err: usecase.ErrExpiredRefreshToken, Status: http.StatusUnauthorized, Message: msgBadRefreshToken},
			{Err: usecase.ErrInvalidRefreshToken, Status: http.StatusUnauthorized, Message: msgBadRefreshToken},
			{Err: usecase.ErrInactiveAccount, Status: http.StatusForbidden, Message: "account is deactivated"},
		}, http.StatusInternalServerError, "refresh failed")
		return
	}

	c.JSON(http.StatusOK, RefreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
		ExpiresAt:    accessExpiry(*pair),
	})
}

// Logout godoc
// @Summary End a session
// @Description Revokes the presented refresh token and its whole family. Idempotent: an unknown token still yields 204.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LogoutRequest true "Logout request"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	if h.auth == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "auth handler not configured"))
		return
	}

	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid logout payload"))
		return
	}

	err := h.auth.Logout(c.Request.Context(), req.RefreshToken, clientContextFrom(c))
	if err != nil && !errors.Is(err, usecase.ErrInvalidRefreshToken) {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "logout failed")
		return
	}

	c.Status(http.StatusNoContent)
}

// Session godoc
// @Summary Inspect the current session
// @Description Returns the identity behind the presented access token.
// @Tags Auth
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Success 200 {object} SessionResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /api/v1/auth/session [get]
func (h *AuthHandler) Session(c *gin.Context) {
	auth, ok := middleware.GetAuthorization(c)
	if !ok || auth == nil || auth.Claims == nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	resp := SessionResponse{
		UserID:     auth.State.UserID,
		Role:       auth.State.Role,
		IsVerified: auth.State.IsVerified,
	}
	if auth.Claims.ExpiresAt != nil {
		resp.ExpiresAt = auth.Claims.ExpiresAt.Time
	}

	c.JSON(http.StatusOK, resp)
}

// accessExpiry derives the wall-clock expiry advertised alongside expires_in.
func accessExpiry(pair usecase.TokenPair) time.Time {
	return time.Now().UTC().Add(time.Duration(pair.ExpiresIn) * time.Second)
}

func clientContextFrom(c *gin.Context) usecase.ClientContext {
	return usecase.ClientContext{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

func respondRateLimitExceeded(c *gin.Context, rateErr *usecase.RateLimitExceededError) {
	retrySeconds := int(math.Ceil(rateErr.RetryAfter.Seconds()))
	if retrySeconds < 0 {
		retrySeconds = 0
	}
	if retrySeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(retrySeconds))
	}

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	problem := middleware.ProblemDetails{
		Type:       "https://auth.loverose.example.com/errors/rate-limit-exceeded",
		Title:      "Rate Limit Exceeded",
		Status:     http.StatusTooManyRequests,
		Detail:     "Too many " + rateErr.Scope + " attempts. Try again later.",
		Instance:   instance,
		RetryAfter: retrySeconds,
		TraceID:    middleware.GetTraceID(c),
	}

	c.JSON(http.StatusTooManyRequests, problem)
}
