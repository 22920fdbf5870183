package assets

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carbon-bridge/marketplace-backend/internal/auth"
	"carbon-bridge/marketplace-backend/internal/httpapi"
	"carbon-bridge/marketplace-backend/pkg/apperrors"
)

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/assets", h.List)
	api.GET("/assets/:id", h.Get)
	api.GET("/issuer/assets", h.ListMine)
}

func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context())
	if err != nil {
		httpapi.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpapi.WriteError(c, &apperrors.ValidationError{Field: "id", Reason: "must be a UUID"})
		return
	}

	asset, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		httpapi.WriteError(c, err)
		return
	}
	if asset == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
		return
	}
	c.JSON(http.StatusOK, asset)
}

func (h *Handler) ListMine(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	if err := actor.RequireIssuer(); err != nil {
		httpapi.WriteError(c, err)
		return
	}

	list, err := h.repo.ListByIssuer(c.Request.Context(), actor.UserID)
	if err != nil {
		httpapi.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
