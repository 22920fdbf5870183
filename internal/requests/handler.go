package requests

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stellar/go/amount"

	"carbon-bridge/marketplace-backend/internal/auth"
	"carbon-bridge/marketplace-backend/internal/httpapi"
	"carbon-bridge/marketplace-backend/pkg/apperrors"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/tokenization/create", h.Create)

	admin := api.Group("/admin/tokenization-requests")
	{
		admin.GET("", h.ListPending)
		admin.POST("/:id/approve", h.Approve)
		admin.POST("/:id/reject", h.Reject)
		admin.POST("/:id/retry-deployment", h.RetryDeployment)
	}
}

type createRequest struct {
	ProjectID         string  `json:"project_id" binding:"required"`
	VintageYear       int     `json:"vintage_year" binding:"required"`
	Quantity          string  `json:"quantity" binding:"required"`
	PricePerUnit      string  `json:"price_per_unit"`
	SerialNumberStart *string `json:"serial_number_start"`
	SerialNumberEnd   *string `json:"serial_number_end"`
	ProofDocumentRef  string  `json:"proof_document_ref" binding:"required"`
}

func (h *Handler) Create(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var payload createRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	projectID, err := uuid.Parse(payload.ProjectID)
	if err != nil {
		httpapi.WriteError(c, &apperrors.ValidationError{Field: "project_id", Reason: "must be a UUID"})
		return
	}

	quantity, err := amount.ParseInt64(payload.Quantity)
	if err != nil {
		httpapi.WriteError(c, &apperrors.ValidationError{Field: "quantity", Reason: "must be a decimal amount with at most 7 fractional digits"})
		return
	}

	var price *int64
	if payload.PricePerUnit != "" {
		p, err := amount.ParseInt64(payload.PricePerUnit)
		if err != nil {
			httpapi.WriteError(c, &apperrors.ValidationError{Field: "price_per_unit", Reason: "must be a decimal amount with at most 7 fractional digits"})
			return
		}
		price = &p
	}

	req, err := h.service.Submit(c.Request.Context(), actor, SubmitInput{
		ProjectID:           projectID,
		VintageYear:         payload.VintageYear,
		QuantityStroops:     quantity,
		PricePerUnitStroops: price,
		SerialNumberStart:   payload.SerialNumberStart,
		SerialNumberEnd:     payload.SerialNumberEnd,
		ProofDocumentRef:    payload.ProofDocumentRef,
	})
	if err != nil {
		httpapi.WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, req)
}

func (h *Handler) ListPending(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	list, err := h.service.ListPending(c.Request.Context(), actor)
	if err != nil {
		httpapi.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type reviewRequest struct {
	Note string `json:"note"`
}

func (h *Handler) Approve(c *gin.Context) {
	h.review(c, DecisionApprove)
}

func (h *Handler) Reject(c *gin.Context) {
	h.review(c, DecisionReject)
}

func (h *Handler) review(c *gin.Context, decision ReviewDecision) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpapi.WriteError(c, &apperrors.ValidationError{Field: "id", Reason: "must be a UUID"})
		return
	}

	var payload reviewRequest
	_ = c.ShouldBindJSON(&payload)

	result, err := h.service.Review(c.Request.Context(), actor, requestID, decision, payload.Note)
	if err != nil {
		httpapi.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) RetryDeployment(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpapi.WriteError(c, &apperrors.ValidationError{Field: "id", Reason: "must be a UUID"})
		return
	}

	result, err := h.service.RetryDeployment(c.Request.Context(), actor, requestID)
	if err != nil {
		httpapi.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
