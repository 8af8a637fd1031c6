package investments

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/api"
	"carbon-scribe/marketplace/marketplace-backend/internal/auth"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handler handles HTTP requests for investments and portfolios
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new investment handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers investment and portfolio routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	investments := router.Group("/investments")
	{
		investments.POST("", h.create)
		investments.GET("/:id", h.get)
		investments.POST("/:id/status", h.updateStatus)
		investments.POST("/:id/returns", h.addReturn)
		investments.POST("/:id/returns/:returnId/confirm", h.confirmReturn)
	}

	investors := router.Group("/investors")
	{
		investors.GET("/:id/portfolio", h.portfolio)
		investors.GET("/:id/portfolio.xlsx", h.exportPortfolio)
	}
}

// create handles POST /api/v1/investments
func (h *Handler) create(c *gin.Context) {
	var req CreateInvestmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	inv, err := h.service.Create(c.Request.Context(), auth.ActorFrom(c), req)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, NewView(inv))
}

// get handles GET /api/v1/investments/:id
func (h *Handler) get(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	inv, err := h.service.Get(c.Request.Context(), auth.ActorFrom(c), id)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, NewView(inv))
}

// updateStatus handles POST /api/v1/investments/:id/status
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
	inv, err := h.service.UpdateStatus(c.Request.Context(), auth.ActorFrom(c), id, req.Status)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, NewView(inv))
}

// addReturn handles POST /api/v1/investments/:id/returns
func (h *Handler) addReturn(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req AddReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	inv, err := h.service.AddReturn(c.Request.Context(), auth.ActorFrom(c), id, req)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, NewView(inv))
}

// confirmReturn handles POST /api/v1/investments/:id/returns/:returnId/confirm
func (h *Handler) confirmReturn(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	returnID, ok := api.UUIDParam(c, "returnId")
	if !ok {
		return
	}
	var req ConfirmReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	inv, err := h.service.ConfirmReturn(c.Request.Context(), auth.ActorFrom(c), id, returnID, req.Status)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, NewView(inv))
}

// portfolio handles GET /api/v1/investors/:id/portfolio
func (h *Handler) portfolio(c *gin.Context) {
	summary, list, err := h.service.Portfolio(c.Request.Context(), auth.ActorFrom(c), c.Param("id"))
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	views := make([]View, 0, len(list))
	for i := range list {
		views = append(views, NewView(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"summary":     summary,
		"investments": views,
	})
}

// exportPortfolio handles GET /api/v1/investors/:id/portfolio.xlsx
func (h *Handler) exportPortfolio(c *gin.Context) {
	investorID := c.Param("id")
	summary, list, err := h.service.Portfolio(c.Request.Context(), auth.ActorFrom(c), investorID)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	out, err := ExportPortfolio(summary, list)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "portfolio-"+investorID+".xlsx"))
	c.Data(http.StatusOK, xlsxContentType, out)
}
