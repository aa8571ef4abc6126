package entitlement

import (
	"strings"
	"time"
)

// DefaultProvider is the billing provider recorded on entitlements.
const DefaultProvider = "paddle"

// Status is the billing state of an entitlement, independent of its plan.
type Status string

const (
	StatusNone     Status = "none"
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// NormalizeStatus maps a provider status string onto a known Status.
// Anything unrecognized collapses to none.
func NormalizeStatus(s string) Status {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled:
		return st
	case "cancelled":
		return StatusCanceled
	default:
		return StatusNone
	}
}

// Entitlement is a user's subscription plan and billing status.
type Entitlement struct {
	UserID    string         `json:"userId"`
	Plan      Plan           `json:"plan"`
	Status    Status         `json:"status"`
	Provider  string         `json:"provider"`
	Meta      map[string]any `json:"meta"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Default returns the entitlement assumed when none can be found: free plan, no subscription.
func Default(userID string, now time.Time) Entitlement {
	return Entitlement{
		UserID:    userID,
		Plan:      PlanFree,
		Status:    StatusNone,
		Provider:  DefaultProvider,
		Meta:      map[string]any{},
		UpdatedAt: now.UTC(),
	}
}

// CurrentPlan returns the plan used for policy decisions.
// Missing or unrecognized plans are treated as free.
func (e Entitlement) CurrentPlan() Plan {
	p, err := ParsePlan(string(e.Plan))
	if err != nil {
		return PlanFree
	}
	return p
}

// normalize fills the fields a partial record may omit.
func (e *Entitlement) normalize(userID string, now time.Time) {
	if e.UserID == "" {
		e.UserID = userID
	}
	if e.Plan == "" {
		e.Plan = PlanFree
	}
	e.Status = NormalizeStatus(string(e.Status))
	if e.Provider == "" {
		e.Provider = DefaultProvider
	}
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now.UTC()
	}
}
