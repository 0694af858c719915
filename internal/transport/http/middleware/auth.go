package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loverose/auth-service/internal/core/domain"
	"github.com/loverose/auth-service/internal/repository"
	"github.com/loverose/auth-service/internal/usecase"
)

// AuthorizationKey is the context key holding the resolved authorization.
const AuthorizationKey = "auth"

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// newErrorResponse creates an error response with trace ID
func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// RequireAuth validates the Authorization header against the guard and, when
// roles are given, enforces that the caller holds at least one of them. The
// guard consults cached identity state, so a deactivated account is rejected
// even while its access token is still cryptographically valid.
func RequireAuth(guard *usecase.AuthorizeService, required ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			return
		}

		auth, err := guard.Authorize(c.Request.Context(), token, required...)
		if err != nil {
			abortUnauthorized(c, err)
			return
		}

		c.Set(UserIDKey, auth.Claims.UserID)
		c.Set("claims", auth.Claims)
		c.Set(AuthorizationKey, auth)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = auth.Claims.UserID
		}

		c.Next()
	}
}

// RequireRole is RequireAuth with a mandatory role requirement; admins always
// pass regardless of the listed roles.
func RequireRole(guard *usecase.AuthorizeService, roles ...domain.Role) gin.HandlerFunc {
	return RequireAuth(guard, roles...)
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized,
			newErrorResponse(c, "missing authorization header"))
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		c.AbortWithStatusJSON(http.StatusUnauthorized,
			newErrorResponse(c, "invalid authorization format: expected 'Bearer <token>'"))
		return "", false
	}

	if !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized,
			newErrorResponse(c, "invalid authorization format: must start with 'Bearer'"))
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized,
			newErrorResponse(c, "missing access token"))
		return "", false
	}

	return token, true
}

func abortUnauthorized(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrExpiredAccessToken):
		c.AbortWithStatusJSON(http.StatusUnauthorized,
			newErrorResponse(c, "access token expired"))
	case errors.Is(err, usecase.ErrInvalidAccessToken):
		c.AbortWithStatusJSON(http.StatusUnauthorized,
			newErrorResponse(c, "invalid access token"))
	case errors.Is(err, usecase.ErrInactiveAccount):
		c.AbortWithStatusJSON(http.StatusForbidden,
			newErrorResponse(c, "account is deactivated"))
	case errors.Is(err, usecase.ErrAccountUnverified):
		c.AbortWithStatusJSON(http.StatusForbidden,
			newErrorResponse(c, "account is not verified"))
	case errors.Is(err, usecase.ErrForbidden):
		c.AbortWithStatusJSON(http.StatusForbidden,
			newErrorResponse(c, "insufficient permissions"))
	case errors.Is(err, repository.ErrStorageUnavailable):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable,
			newErrorResponse(c, "storage temporarily unavailable"))
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError,
			newErrorResponse(c, "authentication failed"))
	}
}

// GetAuthorization retrieves the resolved authorization from the context.
func GetAuthorization(c *gin.Context) (*usecase.Authorization, bool) {
	val, exists := c.Get(AuthorizationKey)
	if !exists {
		return nil, false
	}

	auth, ok := val.(*usecase.Authorization)
	return auth, ok
}

// GetAuthenticatedUserID retrieves the user ID from context (helper for handlers)
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}

	if id, ok := userID.(string); ok {
		return id, true
	}

	return "", false
}
