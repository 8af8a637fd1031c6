package sponsorships

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/api"
	"carbon-scribe/marketplace/marketplace-backend/internal/auth"
)

// Handler handles HTTP requests for sponsorships
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new sponsorship handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers sponsorship routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	sponsorships := router.Group("/sponsorships")
	{
		sponsorships.POST("", h.create)
		sponsorships.GET("/:id", h.get)
		sponsorships.PUT("/:id/trees", h.updateTrees)
		sponsorships.POST("/:id/status", h.updateStatus)
		sponsorships.POST("/:id/updates", h.addGrowthUpdate)
		sponsorships.POST("/:id/certificate", h.issueCertificate)
		sponsorships.GET("/:id/certificate.pdf", h.downloadCertificate)
	}
}

// create handles POST /api/v1/sponsorships
func (h *Handler) create(c *gin.Context) {
	var req CreateSponsorshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	sp, err := h.service.Create(c.Request.Context(), auth.ActorFrom(c), req)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, sp)
}

// get handles GET /api/v1/sponsorships/:id
func (h *Handler) get(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	sp, err := h.service.Get(c.Request.Context(), auth.ActorFrom(c), id)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sponsorship":    sp,
		"totalCO2ToDate": sp.TotalCO2ToDate(),
	})
}

// updateTrees handles PUT /api/v1/sponsorships/:id/trees
func (h *Handler) updateTrees(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req UpdateTreesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	sp, err := h.service.UpdateTrees(c.Request.Context(), auth.ActorFrom(c), id, req)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sp)
}

// updateStatus handles POST /api/v1/sponsorships/:id/status
func (h *Handler) updateStatus(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	sp, err := h.service.UpdateStatus(c.Request.Context(), auth.ActorFrom(c), id, req.Status)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sp)
}

// addGrowthUpdate handles POST /api/v1/sponsorships/:id/updates
func (h *Handler) addGrowthUpdate(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req GrowthUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	sp, err := h.service.AddGrowthUpdate(c.Request.Context(), auth.ActorFrom(c), id, req)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, sp)
}

// issueCertificate handles POST /api/v1/sponsorships/:id/certificate
func (h *Handler) issueCertificate(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	sp, err := h.service.IssueCertificate(c.Request.Context(), auth.ActorFrom(c), id)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sp)
}

// downloadCertificate handles GET /api/v1/sponsorships/:id/certificate.pdf
func (h *Handler) downloadCertificate(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	sp, out, err := h.service.Certificate(c.Request.Context(), auth.ActorFrom(c), id)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", *sp.CertificateNumber+".pdf"))
	c.Data(http.StatusOK, "application/pdf", out)
}
