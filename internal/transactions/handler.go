package transactions

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/api"
	"carbon-scribe/marketplace/marketplace-backend/internal/auth"
)

// Handler handles HTTP requests for orders
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new order handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers order and payment routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	orders := router.Group("/orders")
	{
		orders.POST("", h.createOrder)
		orders.GET("/:id", h.getOrder)
		orders.POST("/:id/complete", h.completeOrder)
		orders.POST("/:id/transition", h.transitionOrder)
		orders.POST("/:id/dispute", h.disputeOrder)
		orders.POST("/:id/resolve", auth.RequireRole(auth.RoleAdmin, auth.RoleSystem), h.resolveDispute)
	}

	router.POST("/payments/confirm", auth.RequireRole(auth.RoleSystem, auth.RoleAdmin), h.confirmPayment)
}

// createOrder handles POST /api/v1/orders
func (h *Handler) createOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}

	txn, err := h.service.CreateOrder(c.Request.Context(), auth.ActorFrom(c), req)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

// getOrder handles GET /api/v1/orders/:id
func (h *Handler) getOrder(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	txn, err := h.service.Get(c.Request.Context(), auth.ActorFrom(c), id)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// completeOrder handles POST /api/v1/orders/:id/complete
func (h *Handler) completeOrder(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	txn, err := h.service.Complete(c.Request.Context(), auth.ActorFrom(c), id)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// transitionOrder handles POST /api/v1/orders/:id/transition
func (h *Handler) transitionOrder(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	txn, err := h.service.Transition(c.Request.Context(), auth.ActorFrom(c), id, req.Status, req.Note)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// disputeOrder handles POST /api/v1/orders/:id/dispute
func (h *Handler) disputeOrder(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	txn, err := h.service.Dispute(c.Request.Context(), auth.ActorFrom(c), id, req.Reason)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// resolveDispute handles POST /api/v1/orders/:id/resolve
func (h *Handler) resolveDispute(c *gin.Context) {
	id, ok := api.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	txn, err := h.service.Resolve(c.Request.Context(), auth.ActorFrom(c), id, req.Resolution, req.Note)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// confirmPayment handles POST /api/v1/payments/confirm
func (h *Handler) confirmPayment(c *gin.Context) {
	var req PaymentConfirmation
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	txn, err := h.service.PaymentConfirmed(c.Request.Context(), req.TransactionID, req.PaymentMethod, req.Reference)
	if err != nil {
		api.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}
