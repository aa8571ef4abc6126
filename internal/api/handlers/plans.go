package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/productivity-tools/m4a-notes/internal/api/middleware"
	"github.com/productivity-tools/m4a-notes/internal/entitlement"
)

// PlanOffer is a catalog plan annotated for the calling user.
type PlanOffer struct {
	entitlement.PlanInfo
	CanPurchase bool                             `json:"canPurchase"`
	Subscribed  bool                             `json:"subscribed"`
	Hint        *entitlement.SubscriptionMessage `json:"hint,omitempty"`
}

// PlansResponse is the body of GET /api/plans.
type PlansResponse struct {
	Plans       []PlanOffer        `json:"plans"`
	Packs       []entitlement.Pack `json:"packs"`
	CurrentPlan entitlement.Plan   `json:"currentPlan"`
	Features    map[string]bool    `json:"features"`
}

// PlansHandler serves the purchasable catalog.
type PlansHandler struct {
	catalog      *entitlement.Catalog
	entitlements *entitlement.Client
}

// NewPlansHandler creates a PlansHandler. entitlements may be nil, in which
// case offers are computed for the free default.
func NewPlansHandler(catalog *entitlement.Catalog, entitlements *entitlement.Client) *PlansHandler {
	if catalog == nil {
		catalog = entitlement.DefaultCatalog()
	}
	return &PlansHandler{catalog: catalog, entitlements: entitlements}
}

// RegisterRoutes registers catalog routes.
func (h *PlansHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/plans", h.List)
}

// List returns plans and packs. Authenticated callers get purchase hints
// relative to their current plan.
// GET /api/plans
func (h *PlansHandler) List(c *gin.Context) {
	current := entitlement.Default("", timeNow())
	if uid := middleware.UserID(c); uid != "" && h.entitlements != nil {
		current = h.entitlements.Resolve(c.Request.Context(), uid).Entitlement
	}

	resp := PlansResponse{
		Packs:       h.catalog.Packs(),
		CurrentPlan: current.CurrentPlan(),
		Features:    map[string]bool{},
	}
	active := entitlement.HasActiveSubscription(current)
	for _, info := range h.catalog.SubscriptionPlans() {
		offer := PlanOffer{
			PlanInfo:    info,
			CanPurchase: entitlement.CanPurchase(current, info.Key),
			Subscribed:  active && entitlement.IsPlan(current, info.Key),
		}
		if msg, ok := entitlement.DescribeTarget(current, info.Key); ok {
			offer.Hint = &msg
		}
		resp.Plans = append(resp.Plans, offer)
	}
	for _, f := range []entitlement.Feature{entitlement.FeatureBasic, entitlement.FeaturePro, entitlement.FeatureBusiness} {
		resp.Features[string(f)] = entitlement.HasAccess(current, f)
	}

	c.JSON(http.StatusOK, resp)
}
