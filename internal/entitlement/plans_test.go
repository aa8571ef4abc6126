package entitlement

import (
	"errors"
	"testing"
)

func TestParsePlan(t *testing.T) {
	for _, in := range []string{"pro", "PRO", " Business "} {
		if _, err := ParsePlan(in); err != nil {
			t.Errorf("ParsePlan(%q) error = %v", in, err)
		}
	}
	for _, in := range []string{"", "unknown", "lite"} {
		if _, err := ParsePlan(in); !errors.Is(err, ErrUnknownPlan) {
			t.Errorf("ParsePlan(%q) expected ErrUnknownPlan, got %v", in, err)
		}
	}
}

func TestCatalog_Lookup(t *testing.T) {
	c := DefaultCatalog()

	info, ok := c.PlanByKey("PRO")
	if !ok || info.Name != "Lite" || info.Price != 19 {
		t.Errorf("PlanByKey(PRO) = %+v, %v", info, ok)
	}

	info, ok = c.PlanByPriceID("pri_01k399jhfp27dnef4eah1z28y2")
	if !ok || info.Key != PlanPro {
		t.Errorf("PlanByPriceID() = %+v, %v", info, ok)
	}

	if _, ok := c.PlanByPriceID(""); ok {
		t.Error("empty price id must not match the free plan")
	}
	if _, ok := c.PlanByPriceID("pri_unknown"); ok {
		t.Error("unknown price id matched")
	}
	if got := c.DisplayName(PlanBusiness); got != "Business" {
		t.Errorf("DisplayName() = %q", got)
	}
	if got := c.DisplayName("platinum"); got != "platinum" {
		t.Errorf("DisplayName(unknown) = %q", got)
	}
}

func TestCatalog_SubscriptionPlans(t *testing.T) {
	c := DefaultCatalog()
	plans := c.SubscriptionPlans()
	if len(plans) != 1 || plans[0].Key != PlanPro {
		t.Fatalf("expected only pro to be purchasable, got %+v", plans)
	}

	c2 := c.WithPriceIDs(map[string]string{"business": "pri_business", "gold": "pri_gold", "pro": ""})
	plans = c2.SubscriptionPlans()
	if len(plans) != 2 || plans[1].Key != PlanBusiness || plans[1].PriceID != "pri_business" {
		t.Fatalf("unexpected plans after override: %+v", plans)
	}

	// receiver catalog untouched
	if info, _ := c.PlanByKey("business"); info.PriceID != "" {
		t.Error("WithPriceIDs mutated the source catalog")
	}
}

func TestCatalog_Packs(t *testing.T) {
	packs := DefaultCatalog().Packs()
	if len(packs) != 2 {
		t.Fatalf("expected 2 packs, got %d", len(packs))
	}
	if packs[0].Key != "small_pack" || packs[0].Hours != 5 {
		t.Errorf("unexpected first pack %+v", packs[0])
	}
	if packs[1].Price != 29.99 || packs[1].Hours != 20 {
		t.Errorf("unexpected second pack %+v", packs[1])
	}
}
