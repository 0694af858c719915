package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loverose/auth-service/internal/repository"
)

// Response messages shared across endpoints. Unknown and expired secrets
// answer with the same text so a caller cannot learn which condition it hit;
// only detected reuse is allowed to be distinguishable.
const (
	msgBadRefreshToken     = "invalid or expired refresh token"
	msgBadResetToken       = "invalid or expired reset token"
	msgStorageUnavailable  = "storage temporarily unavailable"
	storageRetryAfterValue = "5"
)

// ErrorCase pairs a sentinel error with the HTTP answer it maps to.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// RespondWithMappedError resolves err against the endpoint's cases and falls
// back to the given status when nothing matches. Storage outages take
// precedence over every case: an error chain carrying
// repository.ErrStorageUnavailable answers 503 with a Retry-After hint.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	if errors.Is(err, repository.ErrStorageUnavailable) {
		respondStorageUnavailable(c)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

func respondStorageUnavailable(c *gin.Context) {
	c.Header("Retry-After", storageRetryAfterValue)
	c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, msgStorageUnavailable))
}
