package reports

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

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

func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	admin := router.Group("/admin")
	admin.GET("/reports/sales", h.sales)
}

// sales streams an xlsx of completed swaps. Defaults to the last 30 days;
// from/to accept RFC 3339 timestamps.
func (h *Handler) sales(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	if err := actor.RequireAdmin(); err != nil {
		httpapi.WriteError(c, err)
		return
	}

	to := time.Now()
	from := to.AddDate(0, 0, -30)
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpapi.WriteError(c, &apperrors.ValidationError{Field: "from", Reason: "must be RFC 3339"})
			return
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpapi.WriteError(c, &apperrors.ValidationError{Field: "to", Reason: "must be RFC 3339"})
			return
		}
		to = parsed
	}

	rows, err := h.service.Sales(c.Request.Context(), from, to)
	if err != nil {
		httpapi.WriteError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="sales-report.xlsx"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Status(http.StatusOK)
	if err := WriteSalesWorkbook(c.Writer, rows); err != nil {
		_ = c.Error(err)
	}
}
