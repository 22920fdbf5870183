package preapproval

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carbon-bridge/marketplace-backend/internal/auth"
	"carbon-bridge/marketplace-backend/internal/httpapi"
	"carbon-bridge/marketplace-backend/pkg/apperrors"
)

type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/issuer/approve-admin-all", h.ApproveAll)
	api.GET("/assets/:id/preapproval", h.Status)
	api.POST("/admin/assets/:id/approve-admin", h.ApproveAsset)
}

func (h *Handler) ApproveAll(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	grants, err := h.registry.ApproveAll(c.Request.Context(), actor)
	if err != nil {
		httpapi.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grants": grants})
}

func (h *Handler) Status(c *gin.Context) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpapi.WriteError(c, &apperrors.ValidationError{Field: "id", Reason: "must be a UUID"})
		return
	}

	status, record, err := h.registry.StatusFor(c.Request.Context(), assetID)
	if err != nil {
		httpapi.WriteError(c, err)
		return
	}

	resp := gin.H{"asset_id": assetID, "status": status}
	if record != nil {
		resp["approved_amount_stroops"] = record.ApprovedAmountStroops
		resp["fallback_command"] = record.FallbackCommand
		if record.ErrorDetail != nil {
			resp["error_detail"] = *record.ErrorDetail
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ApproveAsset(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpapi.WriteError(c, &apperrors.ValidationError{Field: "id", Reason: "must be a UUID"})
		return
	}

	record, err := h.registry.ApproveAsset(c.Request.Context(), actor, assetID)
	if err != nil {
		// A failed grant attempt still produced a durable record worth
		// returning alongside the error detail
		if record != nil {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":            err.Error(),
				"status":           record.Status,
				"fallback_command": record.FallbackCommand,
			})
			return
		}
		httpapi.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}
