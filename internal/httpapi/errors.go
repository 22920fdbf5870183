// Package httpapi maps the shared error taxonomy onto HTTP responses so
// every handler reports failures the same way.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"carbon-bridge/marketplace-backend/pkg/apperrors"
)

// WriteError translates a service error into a status code and JSON body.
// Callers return immediately after.
func WriteError(c *gin.Context, err error) {
	var (
		validation   *apperrors.ValidationError
		authz        *apperrors.AuthorizationError
		state        *apperrors.StateError
		conflict     *apperrors.ConflictError
		notApproved  *apperrors.NotApprovedError
		frozen       *apperrors.FrozenAssetError
		insufficient *apperrors.InsufficientSupplyError
		noPayment    *apperrors.PaymentNotFoundError
		refund       *apperrors.RefundRequiredError
		unavailable  *apperrors.LedgerUnavailableError
		rejected     *apperrors.LedgerRejectedError
	)

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.As(err, &authz):
		c.JSON(http.StatusForbidden, gin.H{"error": authz.Error()})
	case errors.As(err, &noPayment):
		// Retryable: the reservation is intact, the caller re-submits once
		// the payment settles
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":     noPayment.Error(),
			"retryable": true,
		})
	case errors.As(err, &refund):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":           refund.Error(),
			"refund_required": true,
			"attempt_id":      refund.AttemptID,
		})
	case errors.As(err, &state):
		c.JSON(http.StatusConflict, gin.H{"error": state.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error()})
	case errors.As(err, &notApproved):
		c.JSON(http.StatusConflict, gin.H{"error": notApproved.Error()})
	case errors.As(err, &frozen):
		c.JSON(http.StatusConflict, gin.H{"error": frozen.Error()})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusConflict, gin.H{
			"error":             insufficient.Error(),
			"remaining_stroops": insufficient.RemainingStroops,
		})
	case errors.As(err, &unavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": unavailable.Error()})
	case errors.As(err, &rejected):
		c.JSON(http.StatusBadGateway, gin.H{"error": rejected.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
