// Package entitlement decides, per lecture, whether a viewer may see a piece
// of course content and at what price. Every entry point is a pure function
// over immutable inputs; the package performs no I/O and is safe for
// concurrent use without synchronization.
package entitlement

import "encoding/json"

// Audience is the viewer segment a rule applies to.
type Audience string

const (
	AudienceStudent   Audience = "Student"
	AudienceCorporate Audience = "Corporate"
)

// Plan is the subscription tier a rule applies to.
type Plan string

const (
	PlanDefault    Plan = "Default"
	PlanSubscriber Plan = "Subscriber"
)

// Benefit is the commercial treatment a matched rule grants. Benefits are
// totally ordered by generosity: Free beats HalfPrice beats FullPrice.
type Benefit string

const (
	BenefitFree      Benefit = "Free"
	BenefitHalfPrice Benefit = "HalfPrice"
	BenefitFullPrice Benefit = "FullPrice"
)

// benefitRank orders benefits by desirability for the viewer; lower is better.
func benefitRank(b Benefit) int {
	switch b {
	case BenefitFree:
		return 0
	case BenefitHalfPrice:
		return 1
	default:
		return 2
	}
}

// Rule grants a benefit to one (audience, plan) pair. A Rule in circulation
// is always fully populated; construct rules via NormalizeRule or
// ParseRules rather than by hand when the input is untrusted.
type Rule struct {
	Audience Audience `json:"audience"`
	Plan     Plan     `json:"plan"`
	Benefit  Benefit  `json:"benefit"`
}

// DefaultRule is the rule substituted for missing or invalid entitlement
// data: full price for default-plan students.
func DefaultRule() Rule {
	return Rule{
		Audience: AudienceStudent,
		Plan:     PlanDefault,
		Benefit:  BenefitFullPrice,
	}
}

// NormalizeRule replaces any out-of-domain field value with the
// corresponding default. It never fails; entitlement data is
// operator-authored content and degrades to defaults rather than erroring.
func NormalizeRule(r Rule) Rule {
	out := DefaultRule()
	switch r.Audience {
	case AudienceStudent, AudienceCorporate:
		out.Audience = r.Audience
	}
	switch r.Plan {
	case PlanDefault, PlanSubscriber:
		out.Plan = r.Plan
	}
	switch r.Benefit {
	case BenefitFree, BenefitHalfPrice, BenefitFullPrice:
		out.Benefit = r.Benefit
	}
	return out
}

// NormalizeRules maps NormalizeRule over rules, preserving order and length.
// A nil or empty input yields the singleton default rule set, so a
// normalized rule set is never empty.
func NormalizeRules(rules []Rule) []Rule {
	if len(rules) == 0 {
		return []Rule{DefaultRule()}
	}
	out := make([]Rule, len(rules))
	for i, r := range rules {
		out[i] = NormalizeRule(r)
	}
	return out
}

// ParseRules converts a raw JSON payload (as stored on a lecture row or
// submitted by an admin UI) into a normalized rule set. Unparseable or
// non-array payloads degrade to the default rule set; this is the single
// boundary where untyped rule data enters the system.
func ParseRules(payload json.RawMessage) []Rule {
	if len(payload) == 0 {
		return NormalizeRules(nil)
	}
	var rules []Rule
	if err := json.Unmarshal(payload, &rules); err != nil {
		return NormalizeRules(nil)
	}
	return NormalizeRules(rules)
}

// SegmentForAccountType maps a viewer's account type onto the entitlement
// segment axis. This is the single source of truth for who a viewer is from
// the engine's point of view: corporate accounts form their own segment,
// everyone else (students, admins, instructors, anonymous) evaluates as
// Student.
func SegmentForAccountType(accountType string) Audience {
	if accountType == string(AudienceCorporate) {
		return AudienceCorporate
	}
	return AudienceStudent
}
