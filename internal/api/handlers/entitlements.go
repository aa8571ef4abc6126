package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/productivity-tools/m4a-notes/internal/api/middleware"
	"github.com/productivity-tools/m4a-notes/internal/entitlement"
)

var timeNow = time.Now

// EntitlementStore reads persisted entitlements.
type EntitlementStore interface {
	GetEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error)
}

// EntitlementsHandler serves the caller's entitlement and, when a store is
// configured, the internal per-user lookup.
type EntitlementsHandler struct {
	client     *entitlement.Client
	store      EntitlementStore
	configured bool
	logger     zerolog.Logger
}

// NewEntitlementsHandler creates an EntitlementsHandler. configured reports
// whether the internal secret is set; store may be nil.
func NewEntitlementsHandler(client *entitlement.Client, store EntitlementStore, configured bool, logger zerolog.Logger) *EntitlementsHandler {
	return &EntitlementsHandler{
		client:     client,
		store:      store,
		configured: configured,
		logger:     logger.With().Str("component", "entitlements_handler").Logger(),
	}
}

// RegisterRoutes registers the caller-facing route.
func (h *EntitlementsHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/me/entitlements", h.Me)
}

// RegisterInternalRoutes registers the store-backed lookup. Callers must
// install the internal secret guard on r.
func (h *EntitlementsHandler) RegisterInternalRoutes(r gin.IRouter) {
	r.GET("/entitlements/:userId", h.Lookup)
}

// Me returns the authenticated caller's entitlement. Lookup failures fall back
// to the free default with a 200.
// GET /api/me/entitlements
func (h *EntitlementsHandler) Me(c *gin.Context) {
	uid := middleware.UserID(c)
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if !h.configured {
		h.logger.Error().Msg("internal API secret is not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Configuration error"})
		return
	}

	snap := h.client.Resolve(c.Request.Context(), uid)
	c.JSON(http.StatusOK, gin.H{"entitlements": snap.Entitlement})
}

// Lookup returns the stored entitlement for a user id.
// GET /api/entitlements/:userId
func (h *EntitlementsHandler) Lookup(c *gin.Context) {
	userID := c.Param("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User ID is required"})
		return
	}

	e, err := h.store.GetEntitlement(c.Request.Context(), userID)
	if errors.Is(err, entitlement.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entitlement not found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to load entitlement")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load entitlement"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entitlements": e})
}
