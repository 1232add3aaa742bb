package entitlement

import "testing"

func TestComputePricingNoMatches(t *testing.T) {
	for _, basePrice := range []int64{0, 1, 100, 12345} {
		got := ComputePricing(nil, basePrice)
		if got.Benefit != BenefitFullPrice {
			t.Fatalf("Benefit = %q, want FullPrice", got.Benefit)
		}
		if got.DisplayPrice != basePrice || got.OriginalPrice != basePrice {
			t.Fatalf("prices = %d/%d, want %d/%d", got.DisplayPrice, got.OriginalPrice, basePrice, basePrice)
		}
		if got.IsFree || got.IsDiscounted || got.DiscountPercentage != 0 || got.Badge != "" {
			t.Fatalf("no-match pricing granted a benefit: %+v", got)
		}
	}
}

func TestComputePricing(t *testing.T) {
	tests := []struct {
		name         string
		matched      []Rule
		basePrice    int64
		wantDisplay  int64
		wantFree     bool
		wantDiscount bool
		wantPercent  int
		wantBadge    string
	}{
		{
			name:        "free rule zeroes the price",
			matched:     []Rule{{Audience: AudienceStudent, Plan: PlanSubscriber, Benefit: BenefitFree}},
			basePrice:   100,
			wantDisplay: 0,
			wantFree:    true,
			wantBadge:   BadgeFree,
		},
		{
			name:         "half price rounds half up",
			matched:      []Rule{{Audience: AudienceStudent, Plan: PlanDefault, Benefit: BenefitHalfPrice}},
			basePrice:    99,
			wantDisplay:  50,
			wantDiscount: true,
			wantPercent:  50,
			wantBadge:    BadgeHalfPrice,
		},
		{
			name:         "half price of even base",
			matched:      []Rule{{Benefit: BenefitHalfPrice}},
			basePrice:    100,
			wantDisplay:  50,
			wantDiscount: true,
			wantPercent:  50,
			wantBadge:    BadgeHalfPrice,
		},
		{
			name:         "half price of zero stays zero and is free",
			matched:      []Rule{{Benefit: BenefitHalfPrice}},
			basePrice:    0,
			wantDisplay:  0,
			wantFree:     true,
			wantDiscount: true,
			wantPercent:  50,
			wantBadge:    BadgeHalfPrice,
		},
		{
			name:         "half price of one rounds up to one",
			matched:      []Rule{{Benefit: BenefitHalfPrice}},
			basePrice:    1,
			wantDisplay:  1,
			wantDiscount: true,
			wantPercent:  50,
			wantBadge:    BadgeHalfPrice,
		},
		{
			name:        "full price match keeps base price",
			matched:     []Rule{{Audience: AudienceCorporate, Plan: PlanDefault, Benefit: BenefitFullPrice}},
			basePrice:   250,
			wantDisplay: 250,
		},
		{
			name: "best benefit wins across all matched lectures",
			matched: []Rule{
				{Benefit: BenefitFullPrice},
				{Benefit: BenefitHalfPrice},
				{Audience: AudienceStudent, Plan: PlanSubscriber, Benefit: BenefitFree},
				{Benefit: BenefitFullPrice},
			},
			basePrice:   400,
			wantDisplay: 0,
			wantFree:    true,
			wantBadge:   BadgeFree,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputePricing(tt.matched, tt.basePrice)
			if got.DisplayPrice != tt.wantDisplay {
				t.Fatalf("DisplayPrice = %d, want %d", got.DisplayPrice, tt.wantDisplay)
			}
			if got.OriginalPrice != tt.basePrice {
				t.Fatalf("OriginalPrice = %d, want %d", got.OriginalPrice, tt.basePrice)
			}
			if got.IsFree != tt.wantFree {
				t.Fatalf("IsFree = %t, want %t", got.IsFree, tt.wantFree)
			}
			if got.IsDiscounted != tt.wantDiscount {
				t.Fatalf("IsDiscounted = %t, want %t", got.IsDiscounted, tt.wantDiscount)
			}
			if got.DiscountPercentage != tt.wantPercent {
				t.Fatalf("DiscountPercentage = %d, want %d", got.DiscountPercentage, tt.wantPercent)
			}
			if got.Badge != tt.wantBadge {
				t.Fatalf("Badge = %q, want %q", got.Badge, tt.wantBadge)
			}
		})
	}
}

func TestComputePricingCarriesBestRuleTuple(t *testing.T) {
	matched := []Rule{
		{Audience: AudienceStudent, Plan: PlanDefault, Benefit: BenefitFullPrice},
		{Audience: AudienceCorporate, Plan: PlanSubscriber, Benefit: BenefitHalfPrice},
	}

	got := ComputePricing(matched, 80)
	if got.Audience != AudienceCorporate || got.Plan != PlanSubscriber {
		t.Fatalf("pricing tuple = (%q, %q), want best rule's (Corporate, Subscriber)", got.Audience, got.Plan)
	}
	if got.DisplayPrice != 40 {
		t.Fatalf("DisplayPrice = %d, want 40", got.DisplayPrice)
	}
}

func TestBenefitPriceNeverNegative(t *testing.T) {
	if got := ComputePricing([]Rule{{Benefit: BenefitHalfPrice}}, -50); got.DisplayPrice != 0 {
		t.Fatalf("DisplayPrice = %d, want 0 for negative base", got.DisplayPrice)
	}
}
