package swap

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stellar/go/amount"

	"carbon-bridge/marketplace-backend/internal/auth"
	"carbon-bridge/marketplace-backend/internal/httpapi"
	"carbon-bridge/marketplace-backend/pkg/apperrors"
	"carbon-bridge/marketplace-backend/pkg/pdf"
)

type Handler struct {
	coordinator *Coordinator
}

func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/assets/atomic-swap", h.Initiate)
	api.POST("/assets/complete-swap", h.Complete)
	api.GET("/swap/attempts/:id", h.Get)
	api.GET("/swap/attempts/:id/certificate", h.Certificate)
}

type initiateRequest struct {
	AssetCode    string `json:"asset_code" binding:"required"`
	BuyerAddress string `json:"buyer_address" binding:"required"`
	Payment      string `json:"payment" binding:"required"`
}

func (h *Handler) Initiate(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var payload initiateRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payment, err := amount.ParseInt64(payload.Payment)
	if err != nil {
		httpapi.WriteError(c, &apperrors.ValidationError{Field: "payment", Reason: "must be a decimal amount with at most 7 fractional digits"})
		return
	}

	result, err := h.coordinator.Initiate(c.Request.Context(), actor, InitiateInput{
		AssetCode:      payload.AssetCode,
		BuyerAddress:   payload.BuyerAddress,
		PaymentStroops: payment,
	})
	if err != nil {
		httpapi.WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

type completeRequest struct {
	AttemptID    string `json:"attempt_id"`
	AssetCode    string `json:"asset_code"`
	BuyerAddress string `json:"buyer_address"`
	Payment      string `json:"payment"`
}

func (h *Handler) Complete(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var payload completeRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	input := CompleteInput{
		AssetCode:    payload.AssetCode,
		BuyerAddress: payload.BuyerAddress,
	}
	if payload.Payment != "" {
		payment, err := amount.ParseInt64(payload.Payment)
		if err != nil {
			httpapi.WriteError(c, &apperrors.ValidationError{Field: "payment", Reason: "must be a decimal amount with at most 7 fractional digits"})
			return
		}
		input.PaymentStroops = &payment
	}
	if payload.AttemptID != "" {
		id, err := uuid.Parse(payload.AttemptID)
		if err != nil {
			httpapi.WriteError(c, &apperrors.ValidationError{Field: "attempt_id", Reason: "must be a UUID"})
			return
		}
		input.AttemptID = &id
	} else if payload.AssetCode == "" || payload.BuyerAddress == "" {
		httpapi.WriteError(c, &apperrors.ValidationError{Field: "attempt_id", Reason: "either attempt_id or asset_code and buyer_address are required"})
		return
	}

	attempt, err := h.coordinator.Complete(c.Request.Context(), actor, input)
	if err != nil {
		httpapi.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, attempt)
}

func (h *Handler) Get(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpapi.WriteError(c, &apperrors.ValidationError{Field: "id", Reason: "must be a UUID"})
		return
	}

	attempt, err := h.coordinator.GetAttempt(c.Request.Context(), actor, id)
	if err != nil {
		httpapi.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// Certificate renders a PDF purchase certificate for a completed swap.
func (h *Handler) Certificate(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpapi.WriteError(c, &apperrors.ValidationError{Field: "id", Reason: "must be a UUID"})
		return
	}

	attempt, asset, err := h.coordinator.CompletedAttempt(c.Request.Context(), actor, id)
	if err != nil {
		httpapi.WriteError(c, err)
		return
	}

	data := pdf.CertificateData{
		AttemptID:     attempt.ID.String(),
		AssetCode:     asset.AssetCode,
		VintageYear:   asset.VintageYear,
		BuyerAddress:  attempt.BuyerAddress,
		TokenAmount:   amount.StringFromInt64(attempt.TokenStroops),
		PaymentAmount: amount.StringFromInt64(attempt.PaymentStroops),
		CompletedAt:   attempt.UpdatedAt,
	}
	if attempt.TransferTxHash != nil {
		data.TransferTxHash = *attempt.TransferTxHash
	}

	c.Header("Content-Disposition", `attachment; filename="certificate-`+attempt.ID.String()+`.pdf"`)
	c.Header("Content-Type", "application/pdf")
	c.Status(http.StatusOK)
	if err := pdf.RenderPurchaseCertificate(c.Writer, data); err != nil {
		// Headers are out; all we can do is log through gin's error sink
		_ = c.Error(err)
	}
}
