package entitlement

// Badge labels shown next to a discounted display price.
const (
	BadgeFree      = "Free"
	BadgeHalfPrice = "-50%"
)

// Pricing is the course-level price derived from the rules matched during
// sanitization. Prices are in minor currency units.
type Pricing struct {
	Benefit            Benefit  `json:"benefit"`
	Plan               Plan     `json:"plan"`
	Audience           Audience `json:"audience"`
	DisplayPrice       int64    `json:"displayPrice"`
	OriginalPrice      int64    `json:"originalPrice"`
	IsFree             bool     `json:"isFree"`
	IsDiscounted       bool     `json:"isDiscounted"`
	DiscountPercentage int      `json:"discountPercentage"`
	Badge              string   `json:"badge,omitempty"`
}

// ComputePricing maps the rules matched across all of a course's lectures
// and the course's base price to one display price for the whole course.
//
// The single most generous benefit across all matched lectures wins, so one
// free lecture prices the entire course as free. That mirrors the
// platform's loss-leader behavior and is intentional.
//
// With no matched rules the result is the conservative default: full price,
// no discount, no badge. A discount is never granted without an explicit
// matched rule.
func ComputePricing(matched []Rule, basePrice int64) Pricing {
	if basePrice < 0 {
		basePrice = 0
	}

	if len(matched) == 0 {
		return Pricing{
			Benefit:       BenefitFullPrice,
			Plan:          PlanDefault,
			Audience:      AudienceStudent,
			DisplayPrice:  basePrice,
			OriginalPrice: basePrice,
		}
	}

	best := bestByBenefit(matched)
	display := benefitPrice(best.Benefit, basePrice)

	p := Pricing{
		Benefit:       best.Benefit,
		Plan:          best.Plan,
		Audience:      best.Audience,
		DisplayPrice:  display,
		OriginalPrice: basePrice,
		IsFree:        display == 0,
		IsDiscounted:  best.Benefit == BenefitHalfPrice,
	}
	switch best.Benefit {
	case BenefitFree:
		p.Badge = BadgeFree
	case BenefitHalfPrice:
		p.Badge = BadgeHalfPrice
		p.DiscountPercentage = 50
	}
	return p
}

// benefitPrice applies a benefit to a non-negative base price. HalfPrice
// rounds half away from zero and never goes below 0.
func benefitPrice(benefit Benefit, basePrice int64) int64 {
	switch benefit {
	case BenefitFree:
		return 0
	case BenefitHalfPrice:
		return (basePrice + 1) / 2
	default:
		return basePrice
	}
}
