// Package purchase decides whether a checkout may proceed for a user, given
// the plan they already hold.
package purchase

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/productivity-tools/m4a-notes/internal/entitlement"
	"github.com/productivity-tools/m4a-notes/internal/metrics"
)

var (
	// ErrUnauthenticated is returned when no user identity accompanies the request.
	ErrUnauthenticated = errors.New("purchase: unauthenticated")
	// ErrConfiguration is returned when the internal secret is not configured.
	ErrConfiguration = errors.New("purchase: configuration error")
	// ErrPriceRequired is returned when the intent names neither a price nor a plan.
	ErrPriceRequired = errors.New("purchase: price id or plan key required")
)

// ServerErrorMessage accompanies a server_error verdict.
const ServerErrorMessage = "Failed to validate purchase. Please try again."

// Intent is what the user asked to buy.
type Intent struct {
	PriceID string `json:"priceId"`
	PlanKey string `json:"planKey"`
}

// Result is a verdict decorated with display names for both plans.
type Result struct {
	entitlement.Verdict
	CurrentPlanName string `json:"currentPlanName"`
	TargetPlanName  string `json:"targetPlanName"`
}

// ServerError is the result reported when validation could not run.
func ServerError() Result {
	return Result{Verdict: entitlement.Verdict{
		Valid:   false,
		Reason:  entitlement.ReasonServerError,
		Message: ServerErrorMessage,
	}}
}

// ValidatorConfig holds the validator's collaborators.
type ValidatorConfig struct {
	Entitlements *entitlement.Client
	Catalog      *entitlement.Catalog
	// InternalSecret authenticates entitlement lookups; validation refuses to
	// run without it.
	InternalSecret string
	Metrics        *metrics.PrometheusMetrics
	Logger         zerolog.Logger
}

// Validator classifies purchase intents with the entitlement policy.
type Validator struct {
	entitlements *entitlement.Client
	catalog      *entitlement.Catalog
	configured   bool
	metrics      *metrics.PrometheusMetrics
	logger       zerolog.Logger
}

// NewValidator creates a purchase validator. A nil catalog uses the default.
func NewValidator(cfg ValidatorConfig) *Validator {
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = entitlement.DefaultCatalog()
	}
	return &Validator{
		entitlements: cfg.Entitlements,
		catalog:      catalog,
		configured:   cfg.InternalSecret != "",
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With().Str("component", "purchase_validator").Logger(),
	}
}

// Validate checks userID's intent. Policy rejections are returned as a
// Result with Valid=false; errors are reserved for requests that cannot be
// classified at all.
func (v *Validator) Validate(ctx context.Context, userID string, in Intent) (Result, error) {
	if userID == "" {
		return Result{}, ErrUnauthenticated
	}
	if !v.configured {
		v.logger.Error().Msg("internal API secret is not configured")
		return Result{}, ErrConfiguration
	}
	in.PriceID = strings.TrimSpace(in.PriceID)
	in.PlanKey = strings.TrimSpace(in.PlanKey)
	if in.PriceID == "" && in.PlanKey == "" {
		return Result{}, ErrPriceRequired
	}

	log := v.logger.With().
		Str("user_id", userID).
		Str("price_id", in.PriceID).
		Str("plan_key", in.PlanKey).
		Logger()

	snap := v.entitlements.Resolve(ctx, userID)

	target, err := v.resolveTarget(in)
	if err != nil {
		log.Info().Msg("purchase intent names no known plan")
		v.metrics.RecordPurchaseVerdict("invalid_plan")
		return Result{}, err
	}

	verdict, err := entitlement.Classify(snap.Entitlement, target)
	if err != nil {
		v.metrics.RecordPurchaseVerdict("invalid_plan")
		return Result{}, err
	}

	v.metrics.RecordPurchaseVerdict(string(verdict.Reason))
	log.Info().
		Str("current_plan", string(verdict.CurrentPlan)).
		Str("target_plan", string(verdict.TargetPlan)).
		Str("reason", string(verdict.Reason)).
		Bool("degraded", snap.Degraded).
		Msg("purchase validated")

	return Result{
		Verdict:         verdict,
		CurrentPlanName: v.catalog.DisplayName(verdict.CurrentPlan),
		TargetPlanName:  v.catalog.DisplayName(verdict.TargetPlan),
	}, nil
}

// resolveTarget prefers the plan key and falls back to a price id lookup.
func (v *Validator) resolveTarget(in Intent) (entitlement.Plan, error) {
	if in.PlanKey != "" {
		info, ok := v.catalog.PlanByKey(in.PlanKey)
		if !ok {
			return "", entitlement.ErrUnknownPlan
		}
		return info.Key, nil
	}
	info, ok := v.catalog.PlanByPriceID(in.PriceID)
	if !ok {
		return "", entitlement.ErrUnknownPlan
	}
	return info.Key, nil
}
