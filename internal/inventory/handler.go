package inventory

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/api"
	"carbon-scribe/marketplace/marketplace-backend/internal/auth"
)

// Handler handles HTTP requests for projects and their credit inventory
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new inventory handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers project routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	projects := router.Group("/projects")
	{
		projects.GET("/:id", h.getProject)
		projects.GET("/:id/availability", h.getAvailability)

		admin := projects.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleSystem))
		admin.POST("", h.registerProject)
		admin.POST("/:id/approve", h.approveProject)
		admin.POST("/:id/status", h.updateStatus)
		admin.POST("/:id/release", h.release)
	}
}

// registerProject handles POST /api/v1/projects
func (h *Handler) registerProject(c *gin.Context) {
	var req RegisterProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}

	project, err := h.service.RegisterProject(c.Request.Context(), auth.ActorFrom(c), req)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// getProject handles GET /api/v1/projects/:id
func (h *Handler) getProject(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	project, err := h.service.GetProject(c.Request.Context(), id)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// getAvailability handles GET /api/v1/projects/:id/availability
func (h *Handler) getAvailability(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	availability, err := h.service.Availability(c.Request.Context(), id)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, availability)
}

// approveProject handles POST /api/v1/projects/:id/approve
func (h *Handler) approveProject(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	project, err := h.service.ApproveProject(c.Request.Context(), auth.ActorFrom(c), id)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// updateStatus handles POST /api/v1/projects/:id/status
func (h *Handler) updateStatus(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req UpdateProjectStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	project, err := h.service.UpdateProjectStatus(c.Request.Context(), auth.ActorFrom(c), id, req.Status)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// release handles POST /api/v1/projects/:id/release
func (h *Handler) release(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	restored, err := h.service.Release(c.Request.Context(), id, req.Amount)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	availability, err := h.service.Availability(c.Request.Context(), id)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": restored, "availability": availability})
}
