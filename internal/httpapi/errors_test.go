package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-bridge/marketplace-backend/pkg/apperrors"
)

func record(err error) (*httptest.ResponseRecorder, map[string]interface{}) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	WriteError(c, err)

	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &apperrors.ValidationError{Field: "quantity", Reason: "must be greater than 0"}, http.StatusBadRequest},
		{"authorization", &apperrors.AuthorizationError{Reason: "admin role required"}, http.StatusForbidden},
		{"payment not found", &apperrors.PaymentNotFoundError{Buyer: "G...", AmountStroops: 10}, http.StatusPaymentRequired},
		{"illegal transition", &apperrors.StateError{Entity: "swap attempt", From: "FAILED_CLEAN"}, http.StatusConflict},
		{"duplicate series", &apperrors.ConflictError{Resource: "asset", Key: "MANGROVE_2023"}, http.StatusConflict},
		{"no active grant", &apperrors.NotApprovedError{AssetCode: "MANGROVE_2023", Status: "PENDING"}, http.StatusConflict},
		{"frozen", &apperrors.FrozenAssetError{AssetCode: "MANGROVE_2023"}, http.StatusConflict},
		{"oversell", &apperrors.InsufficientSupplyError{AssetCode: "MANGROVE_2023", RequestedStroops: 10, RemainingStroops: 5}, http.StatusConflict},
		{"ledger down", &apperrors.LedgerUnavailableError{Op: "invoke", Err: errors.New("timeout")}, http.StatusServiceUnavailable},
		{"ledger rejection", &apperrors.LedgerRejectedError{Op: "invoke", ResultCode: "tx_failed"}, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, body := record(tc.err)
			assert.Equal(t, tc.status, w.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRefundRequiredCarriesFlag(t *testing.T) {
	err := &apperrors.RefundRequiredError{AttemptID: "abc-123", Cause: errors.New("transfer rejected")}
	w, body := record(err)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, true, body["refund_required"])
	assert.Equal(t, "abc-123", body["attempt_id"])
}

func TestPaymentNotFoundIsMarkedRetryable(t *testing.T) {
	w, body := record(&apperrors.PaymentNotFoundError{Buyer: "G...", AmountStroops: 10})
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, true, body["retryable"])
}
