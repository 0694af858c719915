package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loverose/auth-service/internal/infra/security"
	"github.com/loverose/auth-service/internal/usecase"
)

// PasswordResetHandler exposes the password reset request/redeem endpoints.
type PasswordResetHandler struct {
	reset *usecase.PasswordResetService
}

// NewPasswordResetHandler builds a handler backed by the reset service.
func NewPasswordResetHandler(reset *usecase.PasswordResetService) *PasswordResetHandler {
	return &PasswordResetHandler{reset: reset}
}

// RegisterRoutes wires the reset endpoints into the provided router group.
func (h *PasswordResetHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/request", h.Request)
	r.POST("/redeem", h.Redeem)
}

// Request godoc
// @Summary Initiate a password reset
// @Description Starts the reset flow and always returns an accepted response to avoid account enumeration.
// @Tags Password
// @Accept json
// @Produce json
// @Param request body PasswordResetRequest true "Password reset request"
// @Success 202 {object} PasswordResetRequestResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/auth/password-reset/request [post]
func (h *PasswordResetHandler) Request(c *gin.Context) {
	if h.reset == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "password reset handler not configured"))
		return
	}

	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password reset payload"))
		return
	}

	input := usecase.PasswordResetRequestInput{
		Email:     strings.TrimSpace(req.Email),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}

	result, err := h.reset.RequestPasswordReset(c.Request.Context(), input)
	if err != nil {
		var rateErr *usecase.RateLimitExceededError
		if errors.As(err, &rateErr) {
			respondRateLimitExceeded(c, rateErr)
			return
		}

		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to initiate password reset")
		return
	}

	c.JSON(http.StatusAccepted, PasswordResetRequestResponse{
		Message:   "If the account exists, instructions have been sent",
		RequestID: result.RequestID,
		ExpiresAt: result.ExpiresAt,
	})
}

// Redeem godoc
// @Summary Complete a password reset
// @Description Rewrites the password with the emailed secret and revokes every active refresh token.
// @Tags Password
// @Accept json
// @Produce json
// @Param request body PasswordResetRedeemRequest true "Password reset redeem request"
// @Success 200 {object} PasswordResetRedeemResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/auth/password-reset/redeem [post]
func (h *PasswordResetHandler) Redeem(c *gin.Context) {
	if h.reset == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "password reset handler not configured"))
		return
	}

	var req PasswordResetRedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid redeem payload"))
		return
	}

	input := usecase.PasswordResetRedeemInput{
		Token:       strings.TrimSpace(req.Token),
		NewPassword: req.NewPassword,
		IP:          c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
	}

	result, err := h.reset.RedeemPasswordReset(c.Request.Context(), input)
	if err != nil {
		var policyErr *security.PasswordValidationError
		if errors.As(err, &policyErr) {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, policyErr.Message))
			return
		}

		// Expired and unknown secrets collapse into one answer so the
		// endpoint reveals nothing about stored token state.
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrPasswordResetTokenExpired, Status: http.StatusBadRequest, Message: msgBadResetToken},
			{Err: usecase.ErrPasswordResetTokenInvalid, Status: http.StatusBadRequest, Message: msgBadResetToken},
			{Err: usecase.ErrSamePassword, Status: http.StatusBadRequest, Message: "new password must differ from the current one"},
		}, http.StatusInternalServerError, "failed to complete password reset")
		return
	}

	c.JSON(http.StatusOK, PasswordResetRedeemResponse{
		Message:       "Password reset successful",
		UserID:        result.UserID,
		ChangedAt:     result.ChangedAt,
		RevokedTokens: result.TokensRevoked,
	})
}
