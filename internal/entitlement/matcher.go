package entitlement

// Mode selects how strictly content is filtered for a viewer.
type Mode int

const (
	// ModeStrict drops content the viewer has no matching rule for. Used
	// for end-user-facing responses.
	ModeStrict Mode = iota
	// ModePreview retains all content regardless of entitlement, annotated
	// with best-effort applied rules. Used for privileged views.
	ModePreview
)

func (m Mode) String() string {
	if m == ModePreview {
		return "preview"
	}
	return "strict"
}

// SelectRule picks the single rule from rules that applies to a viewer in
// the given segment on the given plan. The precedence order is the entire
// authorization policy of the platform and must not be reordered:
//
//  1. Only rules for the viewer's own segment are candidates. If none exist,
//     ModeStrict yields no match; ModePreview widens to the full rule set.
//  2. Within the candidates, an exact plan match is preferred, then rules
//     for the default plan, then the whole candidate pool.
//  3. From the surviving subset, the most generous benefit wins; ties keep
//     the earliest rule in the original order.
//
// The input is normalized before matching, so malformed rules never fail;
// the second return value is false only when step 1 eliminates everything.
func SelectRule(rules []Rule, segment Audience, plan Plan, mode Mode) (Rule, bool) {
	normalized := NormalizeRules(rules)

	candidates := filterRules(normalized, func(r Rule) bool { return r.Audience == segment })
	if len(candidates) == 0 {
		if mode != ModePreview {
			return Rule{}, false
		}
		candidates = normalized
	}

	if exact := filterRules(candidates, func(r Rule) bool { return r.Plan == plan }); len(exact) > 0 {
		return bestByBenefit(exact), true
	}
	if defaults := filterRules(candidates, func(r Rule) bool { return r.Plan == PlanDefault }); len(defaults) > 0 {
		return bestByBenefit(defaults), true
	}
	return bestByBenefit(candidates), true
}

func filterRules(rules []Rule, keep func(Rule) bool) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// bestByBenefit returns the rule with the lowest benefit rank; on ties the
// earliest rule wins, matching a stable sort over the original order.
func bestByBenefit(rules []Rule) Rule {
	best := rules[0]
	for _, r := range rules[1:] {
		if benefitRank(r.Benefit) < benefitRank(best.Benefit) {
			best = r
		}
	}
	return best
}
