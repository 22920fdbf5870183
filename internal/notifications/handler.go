package notifications

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carbon-bridge/marketplace-backend/internal/auth"
	"carbon-bridge/marketplace-backend/internal/httpapi"
)

type Handler struct {
	service *Service
	hub     *Hub
}

func NewHandler(service *Service, hub *Hub) *Handler {
	return &Handler{service: service, hub: hub}
}

func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/notifications", h.list)
	router.POST("/notifications/:id/read", h.markRead)
	router.GET("/notifications/ws", h.subscribe)
}

func (h *Handler) list(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	items, err := h.service.List(c.Request.Context(), actor.UserID)
	if err != nil {
		httpapi.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items, "count": len(items)})
}

func (h *Handler) markRead(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "notification id must be a UUID"})
		return
	}
	updated, err := h.service.MarkRead(c.Request.Context(), actor.UserID, id)
	if err != nil {
		httpapi.WriteError(c, err)
		return
	}
	if !updated {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": true})
}

func (h *Handler) subscribe(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	if err := h.hub.Subscribe(c.Writer, c.Request, actor.UserID); err != nil {
		// Upgrade failures already wrote a response
		return
	}
}
