package reports

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/api"
	"carbon-scribe/marketplace/marketplace-backend/internal/auth"
)

// Handler handles HTTP requests for inventory reports
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new reports handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers report routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/projects/:id/reconciliation", h.reconcile)
}

// reconcile handles GET /api/v1/projects/:id/reconciliation
func (h *Handler) reconcile(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	report, err := h.service.Reconcile(c.Request.Context(), auth.ActorFrom(c), id)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
