// Package entitlement holds the subscription plan catalog, the pure purchase
// policy over a user's entitlement, and the client that fetches entitlements
// from the worker.
package entitlement

import (
	"errors"
	"sort"
	"strings"
)

// ErrUnknownPlan is returned when a plan key or price id matches no catalog plan.
var ErrUnknownPlan = errors.New("entitlement: unknown plan")

// Plan is a subscription plan key.
type Plan string

const (
	// PlanFree is the default plan with no checkout.
	PlanFree Plan = "free"
	// PlanPro is the entry paid plan (sold as "Lite").
	PlanPro Plan = "pro"
	// PlanBusiness is the top plan.
	PlanBusiness Plan = "business"
)

// planRanks is the strict total order used for upgrade decisions.
var planRanks = map[Plan]int{
	PlanFree:     0,
	PlanPro:      1,
	PlanBusiness: 2,
}

// IsValid reports whether p is one of the three known plans.
func (p Plan) IsValid() bool {
	_, ok := planRanks[p]
	return ok
}

// Rank returns the plan's position in the upgrade order. Unknown plans rank as free.
func (p Plan) Rank() int {
	return planRanks[p]
}

// ParsePlan resolves a plan key case-insensitively.
func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", ErrUnknownPlan
	}
	return p, nil
}

// ValidPlans returns the plans in rank order.
func ValidPlans() []Plan {
	return []Plan{PlanFree, PlanPro, PlanBusiness}
}

// PlanInfo is the catalog entry for a subscription plan.
type PlanInfo struct {
	Key      Plan     `json:"key"`
	Name     string   `json:"name"`
	Price    float64  `json:"price"`
	PriceID  string   `json:"priceId,omitempty"`
	Features []string `json:"features"`
}

// Pack is a one-time purchase of transcription hours.
type Pack struct {
	Key         string  `json:"key"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	PriceID     string  `json:"priceId"`
	Description string  `json:"description"`
	Hours       int     `json:"hours"`
}

// Catalog is the set of purchasable plans and packs.
type Catalog struct {
	plans map[Plan]PlanInfo
	packs []Pack
}

// DefaultCatalog returns the built-in plan catalog.
func DefaultCatalog() *Catalog {
	return &Catalog{
		plans: map[Plan]PlanInfo{
			PlanFree: {
				Key:   PlanFree,
				Name:  "Free",
				Price: 0,
				Features: []string{
					"30 minutes of transcription",
					"Basic accuracy",
					"Standard processing speed",
					"Export to TXT",
				},
			},
			PlanPro: {
				Key:     PlanPro,
				Name:    "Lite",
				Price:   19,
				PriceID: "pri_01k399jhfp27dnef4eah1z28y2",
				Features: []string{
					"10 hours of transcription/month",
					"High accuracy (95%+)",
					"Priority processing",
					"Export to TXT, DOCX, PDF",
					"Speaker identification",
					"Timestamps",
				},
			},
			PlanBusiness: {
				Key:   PlanBusiness,
				Name:  "Business",
				Price: 49,
				// no price id until the plan is published
				Features: []string{
					"50 hours of transcription/month",
					"Highest accuracy (98%+)",
					"Fastest processing",
					"All export formats",
					"Advanced speaker identification",
					"Custom vocabulary",
					"API access",
					"Priority support",
				},
			},
		},
		packs: []Pack{
			{
				Key:         "small_pack",
				Name:        "Small Pack",
				Price:       9.99,
				PriceID:     "pri_small_pack_id",
				Description: "5 hours of transcription",
				Hours:       5,
			},
			{
				Key:         "large_pack",
				Name:        "Large Pack",
				Price:       29.99,
				PriceID:     "pri_large_pack_id",
				Description: "20 hours of transcription",
				Hours:       20,
			},
		},
	}
}

// WithPriceIDs returns a copy of the catalog with price ids replaced for the
// given plan keys. Unknown keys and empty ids are ignored.
func (c *Catalog) WithPriceIDs(overrides map[string]string) *Catalog {
	out := &Catalog{
		plans: make(map[Plan]PlanInfo, len(c.plans)),
		packs: append([]Pack(nil), c.packs...),
	}
	for k, v := range c.plans {
		out.plans[k] = v
	}
	for key, id := range overrides {
		p, err := ParsePlan(key)
		if err != nil || id == "" {
			continue
		}
		info := out.plans[p]
		info.PriceID = id
		out.plans[p] = info
	}
	return out
}

// PlanByKey looks up a plan by key, case-insensitively.
func (c *Catalog) PlanByKey(key string) (PlanInfo, bool) {
	p, err := ParsePlan(key)
	if err != nil {
		return PlanInfo{}, false
	}
	info, ok := c.plans[p]
	return info, ok
}

// PlanByPriceID finds the plan sold under a billing price id.
func (c *Catalog) PlanByPriceID(priceID string) (PlanInfo, bool) {
	if priceID == "" {
		return PlanInfo{}, false
	}
	for _, p := range ValidPlans() {
		if info, ok := c.plans[p]; ok && info.PriceID == priceID {
			return info, true
		}
	}
	return PlanInfo{}, false
}

// Plans returns every plan in rank order.
func (c *Catalog) Plans() []PlanInfo {
	out := make([]PlanInfo, 0, len(c.plans))
	for _, p := range ValidPlans() {
		if info, ok := c.plans[p]; ok {
			out = append(out, info)
		}
	}
	return out
}

// SubscriptionPlans returns the plans that can be checked out, in rank order.
func (c *Catalog) SubscriptionPlans() []PlanInfo {
	var out []PlanInfo
	for _, info := range c.Plans() {
		if info.PriceID != "" {
			out = append(out, info)
		}
	}
	return out
}

// Packs returns the one-time purchases sorted by price.
func (c *Catalog) Packs() []Pack {
	out := append([]Pack(nil), c.packs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// DisplayName returns the marketing name of a plan, or the key itself if unknown.
func (c *Catalog) DisplayName(p Plan) string {
	if info, ok := c.plans[p]; ok {
		return info.Name
	}
	return string(p)
}
