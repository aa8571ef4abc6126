package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/productivity-tools/m4a-notes/internal/api/middleware"
	"github.com/productivity-tools/m4a-notes/internal/entitlement"
	"github.com/productivity-tools/m4a-notes/internal/purchase"
)

// PurchaseHandler serves checkout pre-validation.
type PurchaseHandler struct {
	validator *purchase.Validator
	logger    zerolog.Logger
}

// NewPurchaseHandler creates a PurchaseHandler.
func NewPurchaseHandler(v *purchase.Validator, logger zerolog.Logger) *PurchaseHandler {
	return &PurchaseHandler{
		validator: v,
		logger:    logger.With().Str("component", "purchase_handler").Logger(),
	}
}

// RegisterRoutes registers purchase routes.
func (h *PurchaseHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/validate-purchase", h.Validate)
}

// Validate classifies the requested plan against the caller's entitlement.
// Rejections are 200 responses with valid=false.
// POST /api/validate-purchase
func (h *PurchaseHandler) Validate(c *gin.Context) {
	uid := middleware.UserID(c)
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var in purchase.Intent
	if err := c.ShouldBindJSON(&in); err != nil {
		h.logger.Warn().Err(err).Str("user_id", uid).Msg("unreadable purchase request")
		c.JSON(http.StatusInternalServerError, purchase.ServerError())
		return
	}

	result, err := h.validator.Validate(c.Request.Context(), uid, in)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result)
	case errors.Is(err, purchase.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.Is(err, purchase.ErrConfiguration):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Configuration error"})
	case errors.Is(err, purchase.ErrPriceRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Price ID is required"})
	case errors.Is(err, entitlement.ErrUnknownPlan):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid price ID or plan key"})
	default:
		h.logger.Error().Err(err).Str("user_id", uid).Msg("purchase validation failed")
		c.JSON(http.StatusInternalServerError, purchase.ServerError())
	}
}
