package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GlobalSushrut/mcp-zero/pkg/models"
)

// kindStatus maps an error to its kind label and HTTP status. Policy and
// resource denials keep their contract statuses (403, 429) so callers can
// distinguish them without parsing bodies.
func kindStatus(err error) (string, int) {
	switch {
	case errors.Is(err, models.ErrPolicyViolation):
		return "policy_violation", http.StatusForbidden
	case errors.Is(err, models.ErrResourceLimit):
		return "resource_limit", http.StatusTooManyRequests
	case errors.Is(err, models.ErrAuthentication):
		return "authentication", http.StatusUnauthorized
	case errors.Is(err, models.ErrNotFound):
		return "not_found", http.StatusNotFound
	case errors.Is(err, models.ErrValidation):
		return "validation", http.StatusBadRequest
	case errors.Is(err, models.ErrIntegrity):
		return "integrity", http.StatusBadRequest
	case errors.Is(err, models.ErrAgreementState):
		return "agreement_state", http.StatusConflict
	case errors.Is(err, models.ErrConnection):
		return "connection", http.StatusServiceUnavailable
	case errors.Is(err, models.ErrStorage):
		return "storage", http.StatusInternalServerError
	case errors.Is(err, models.ErrInternalCrypto):
		return "internal_crypto", http.StatusInternalServerError
	default:
		return "internal", http.StatusInternalServerError
	}
}

// writeError converts a service error into the JSON error body the RPC
// contract promises: {error: <kind>} plus a human-readable detail.
func writeError(c *gin.Context, err error) {
	kind, status := kindStatus(err)
	c.JSON(status, gin.H{"error": kind, "details": err.Error()})
}
