package entitlement

import (
	"errors"
	"testing"
	"time"
)

func ent(plan Plan, status Status) Entitlement {
	return Entitlement{UserID: "user_1", Plan: plan, Status: status}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		ent         Entitlement
		target      Plan
		wantValid   bool
		wantReason  Reason
		wantUpgrade bool
		wantMessage string
	}{
		{
			name:        "free user buys pro",
			ent:         ent(PlanFree, StatusNone),
			target:      PlanPro,
			wantValid:   true,
			wantReason:  ReasonValidNewSubscription,
			wantMessage: "Valid new pro subscription",
		},
		{
			name:        "active pro buys pro",
			ent:         ent(PlanPro, StatusActive),
			target:      PlanPro,
			wantReason:  ReasonAlreadySubscribed,
			wantMessage: "You already have an active pro subscription",
		},
		{
			name:        "trialing business buys pro",
			ent:         ent(PlanBusiness, StatusTrialing),
			target:      PlanPro,
			wantReason:  ReasonDowngradeNotAllowed,
			wantMessage: "You cannot downgrade from business to pro. Please cancel your current subscription first.",
		},
		{
			name:        "active pro buys business",
			ent:         ent(PlanPro, StatusActive),
			target:      PlanBusiness,
			wantValid:   true,
			wantReason:  ReasonValidUpgrade,
			wantUpgrade: true,
			wantMessage: "Valid upgrade from pro to business",
		},
		{
			name:       "canceled business buys pro",
			ent:        ent(PlanBusiness, StatusCanceled),
			target:     PlanPro,
			wantValid:  true,
			wantReason: ReasonValidNewSubscription,
		},
		{
			name:       "past due pro buys pro",
			ent:        ent(PlanPro, StatusPastDue),
			target:     PlanPro,
			wantValid:  true,
			wantReason: ReasonValidNewSubscription,
		},
		{
			name:       "active free buys free",
			ent:        ent(PlanFree, StatusActive),
			target:     PlanFree,
			wantReason: ReasonAlreadySubscribed,
		},
		{
			name:       "active business buys free",
			ent:        ent(PlanBusiness, StatusActive),
			target:     PlanFree,
			wantReason: ReasonDowngradeNotAllowed,
		},
		{
			name:        "missing plan treated as free",
			ent:         ent("", StatusActive),
			target:      PlanPro,
			wantValid:   true,
			wantReason:  ReasonValidUpgrade,
			wantUpgrade: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Classify(tt.ent, tt.target)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if v.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v", v.Valid, tt.wantValid)
			}
			if v.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", v.Reason, tt.wantReason)
			}
			if v.IsUpgrade != tt.wantUpgrade {
				t.Errorf("IsUpgrade = %v, want %v", v.IsUpgrade, tt.wantUpgrade)
			}
			if tt.wantMessage != "" && v.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", v.Message, tt.wantMessage)
			}
			if v.TargetPlan != tt.target {
				t.Errorf("TargetPlan = %q, want %q", v.TargetPlan, tt.target)
			}
			if v.HasActiveSubscription != HasActiveSubscription(tt.ent) {
				t.Errorf("HasActiveSubscription mismatch")
			}
		})
	}
}

func TestClassify_UnknownTarget(t *testing.T) {
	_, err := Classify(ent(PlanFree, StatusNone), "enterprise")
	if !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
}

// Every (status, current, target) combination agrees with the rule order.
func TestClassify_Exhaustive(t *testing.T) {
	statuses := []Status{StatusNone, StatusActive, StatusTrialing, StatusPastDue, StatusCanceled}
	for _, st := range statuses {
		for _, cur := range ValidPlans() {
			for _, target := range ValidPlans() {
				v, err := Classify(ent(cur, st), target)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				active := st == StatusActive || st == StatusTrialing
				switch {
				case active && cur == target:
					if v.Reason != ReasonAlreadySubscribed {
						t.Errorf("%s/%s->%s: got %s", st, cur, target, v.Reason)
					}
				case active && target.Rank() <= cur.Rank():
					if v.Reason != ReasonDowngradeNotAllowed {
						t.Errorf("%s/%s->%s: got %s", st, cur, target, v.Reason)
					}
				case active:
					if !v.Valid || !v.IsUpgrade {
						t.Errorf("%s/%s->%s: expected upgrade, got %+v", st, cur, target, v)
					}
				default:
					if !v.Valid || v.IsUpgrade || v.Reason != ReasonValidNewSubscription {
						t.Errorf("%s/%s->%s: expected new subscription, got %+v", st, cur, target, v)
					}
				}
			}
		}
	}
}

func TestRanksStrictlyOrdered(t *testing.T) {
	plans := ValidPlans()
	for i := 1; i < len(plans); i++ {
		if plans[i-1].Rank() >= plans[i].Rank() {
			t.Errorf("rank(%s) must be < rank(%s)", plans[i-1], plans[i])
		}
	}
	seen := map[int]Plan{}
	for _, p := range plans {
		if other, ok := seen[p.Rank()]; ok {
			t.Errorf("%s and %s share rank %d", p, other, p.Rank())
		}
		seen[p.Rank()] = p
	}
}

func TestCanUpgradeTo(t *testing.T) {
	if !CanUpgradeTo(ent(PlanFree, StatusNone), PlanPro) {
		t.Error("free should upgrade to pro")
	}
	if CanUpgradeTo(ent(PlanPro, StatusActive), PlanPro) {
		t.Error("same plan is not an upgrade")
	}
	if CanUpgradeTo(ent(PlanFree, StatusNone), "platinum") {
		t.Error("unknown target is never an upgrade")
	}
}

func TestCanPurchase(t *testing.T) {
	tests := []struct {
		ent    Entitlement
		target Plan
		want   bool
	}{
		{ent(PlanBusiness, StatusCanceled), PlanPro, true},
		{ent(PlanPro, StatusActive), PlanPro, false},
		{ent(PlanPro, StatusTrialing), PlanBusiness, true},
		{ent(PlanBusiness, StatusActive), PlanPro, false},
	}
	for _, tt := range tests {
		if got := CanPurchase(tt.ent, tt.target); got != tt.want {
			t.Errorf("CanPurchase(%s/%s, %s) = %v, want %v", tt.ent.Plan, tt.ent.Status, tt.target, got, tt.want)
		}
	}
}

func TestDescribeTarget(t *testing.T) {
	tests := []struct {
		name     string
		ent      Entitlement
		target   Plan
		wantOK   bool
		wantType MessageType
		wantMsg  string
	}{
		{"inactive has no hint", ent(PlanPro, StatusNone), PlanPro, false, "", ""},
		{"current plan", ent(PlanPro, StatusActive), PlanPro, true, MessageCurrent, "You're currently on the pro plan"},
		{"lower plan", ent(PlanBusiness, StatusActive), PlanPro, true, MessageDowngrade, "You're already on a higher plan (business)"},
		{"upgrade", ent(PlanPro, StatusTrialing), PlanBusiness, true, MessageUpgrade, "Upgrade from pro to business"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := DescribeTarget(tt.ent, tt.target)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if msg.Type != tt.wantType || msg.Message != tt.wantMsg {
				t.Errorf("got %+v", msg)
			}
		})
	}
}

func TestHasAccess(t *testing.T) {
	tests := []struct {
		name    string
		ent     Entitlement
		feature Feature
		want    bool
	}{
		{"basic for everyone", ent(PlanFree, StatusNone), FeatureBasic, true},
		{"pro needs active", ent(PlanPro, StatusCanceled), FeaturePro, false},
		{"active pro gets pro", ent(PlanPro, StatusActive), FeaturePro, true},
		{"business gets pro", ent(PlanBusiness, StatusTrialing), FeaturePro, true},
		{"pro lacks business", ent(PlanPro, StatusActive), FeatureBusiness, false},
		{"active business gets business", ent(PlanBusiness, StatusActive), FeatureBusiness, true},
		{"unknown feature", ent(PlanBusiness, StatusActive), "enterprise", false},
		{"unknown plan", ent("platinum", StatusActive), FeaturePro, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasAccess(tt.ent, tt.feature); got != tt.want {
				t.Errorf("HasAccess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsPlan(t *testing.T) {
	e := ent(PlanPro, StatusNone)
	if !IsPlan(e, PlanPro) || IsPlan(e, PlanFree) {
		t.Error("IsPlan mismatch")
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]Status{
		"active":    StatusActive,
		"TRIALING":  StatusTrialing,
		"past_due":  StatusPastDue,
		"cancelled": StatusCanceled,
		"paused":    StatusNone,
		"":          StatusNone,
	}
	for in, want := range tests {
		if got := NormalizeStatus(in); got != want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDefault(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	d := Default("user_9", now)
	if d.Plan != PlanFree || d.Status != StatusNone || d.Provider != "paddle" {
		t.Errorf("unexpected default %+v", d)
	}
	if d.Meta == nil {
		t.Error("meta should be an empty map")
	}
	if d.UpdatedAt.Location() != time.UTC {
		t.Error("updatedAt should be UTC")
	}
}
