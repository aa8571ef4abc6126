package entitlement

import "fmt"

// Reason classifies a purchase decision.
type Reason string

const (
	ReasonAlreadySubscribed    Reason = "already_subscribed"
	ReasonDowngradeNotAllowed  Reason = "downgrade_not_allowed"
	ReasonValidUpgrade         Reason = "valid_upgrade"
	ReasonValidNewSubscription Reason = "valid_new_subscription"
	ReasonServerError          Reason = "server_error"
)

// Verdict is the outcome of classifying a purchase against an entitlement.
type Verdict struct {
	Valid                 bool   `json:"valid"`
	Reason                Reason `json:"reason"`
	Message               string `json:"message"`
	CurrentPlan           Plan   `json:"currentPlan"`
	TargetPlan            Plan   `json:"targetPlan"`
	HasActiveSubscription bool   `json:"hasActiveSubscription"`
	IsUpgrade             bool   `json:"isUpgrade"`
}

// HasActiveSubscription reports whether the entitlement is active or trialing.
func HasActiveSubscription(e Entitlement) bool {
	return e.Status == StatusActive || e.Status == StatusTrialing
}

// CanUpgradeTo reports whether target ranks strictly above the current plan.
func CanUpgradeTo(e Entitlement, target Plan) bool {
	if !target.IsValid() {
		return false
	}
	return target.Rank() > e.CurrentPlan().Rank()
}

// Classify decides whether a user holding e may buy target. Rules apply in order:
// an unknown target is an error, an active subscription to the same plan is
// already_subscribed, an active subscription to a plan ranked at or above
// target is downgrade_not_allowed, and anything else is valid.
func Classify(e Entitlement, target Plan) (Verdict, error) {
	if !target.IsValid() {
		return Verdict{}, ErrUnknownPlan
	}

	current := e.CurrentPlan()
	active := HasActiveSubscription(e)
	canUpgrade := CanUpgradeTo(e, target)

	v := Verdict{
		CurrentPlan:           current,
		TargetPlan:            target,
		HasActiveSubscription: active,
	}

	switch {
	case active && target == current:
		v.Reason = ReasonAlreadySubscribed
		v.Message = fmt.Sprintf("You already have an active %s subscription", current)
	case active && !canUpgrade:
		v.Reason = ReasonDowngradeNotAllowed
		v.Message = fmt.Sprintf("You cannot downgrade from %s to %s. Please cancel your current subscription first.", current, target)
	default:
		v.Valid = true
		v.IsUpgrade = active && canUpgrade
		if v.IsUpgrade {
			v.Reason = ReasonValidUpgrade
			v.Message = fmt.Sprintf("Valid upgrade from %s to %s", current, target)
		} else {
			v.Reason = ReasonValidNewSubscription
			v.Message = fmt.Sprintf("Valid new %s subscription", target)
		}
	}
	return v, nil
}

// CanPurchase reports whether a checkout for target should be offered.
func CanPurchase(e Entitlement, target Plan) bool {
	if !HasActiveSubscription(e) {
		return true
	}
	return CanUpgradeTo(e, target)
}

// MessageType classifies a subscription hint shown next to a plan.
type MessageType string

const (
	MessageCurrent   MessageType = "current"
	MessageDowngrade MessageType = "downgrade"
	MessageUpgrade   MessageType = "upgrade"
)

// SubscriptionMessage is a short hint describing target relative to the user's plan.
type SubscriptionMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// DescribeTarget returns a hint for target, or false when the user has no
// active subscription and no hint applies.
func DescribeTarget(e Entitlement, target Plan) (SubscriptionMessage, bool) {
	if !HasActiveSubscription(e) {
		return SubscriptionMessage{}, false
	}
	current := e.CurrentPlan()
	switch {
	case target == current:
		return SubscriptionMessage{MessageCurrent, fmt.Sprintf("You're currently on the %s plan", target)}, true
	case !CanUpgradeTo(e, target):
		return SubscriptionMessage{MessageDowngrade, fmt.Sprintf("You're already on a higher plan (%s)", current)}, true
	default:
		return SubscriptionMessage{MessageUpgrade, fmt.Sprintf("Upgrade from %s to %s", current, target)}, true
	}
}

// Feature is an access level gated by plan.
type Feature string

const (
	FeatureBasic    Feature = "basic"
	FeaturePro      Feature = "pro"
	FeatureBusiness Feature = "business"
)

// featureMinPlan maps each feature to the lowest plan that unlocks it.
var featureMinPlan = map[Feature]Plan{
	FeatureBasic:    PlanFree,
	FeaturePro:      PlanPro,
	FeatureBusiness: PlanBusiness,
}

// HasAccess reports whether e unlocks feature. Basic is open to everyone;
// paid features need an active subscription on a plan at or above the feature's.
func HasAccess(e Entitlement, feature Feature) bool {
	minPlan, ok := featureMinPlan[feature]
	if !ok {
		return false
	}
	if minPlan == PlanFree {
		return true
	}
	return HasActiveSubscription(e) && e.Plan.IsValid() && e.Plan.Rank() >= minPlan.Rank()
}

// IsPlan reports whether the entitlement's recorded plan is p.
func IsPlan(e Entitlement, p Plan) bool {
	return e.Plan == p
}
