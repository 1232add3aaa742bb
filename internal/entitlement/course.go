package entitlement

// Lecture is the engine-side view of a single piece of course content. The
// AppliedRule field is nil on input; the sanitizer fills it in on output
// projections.
type Lecture struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	DurationSeconds int64  `json:"durationSeconds"`
	VideoURL        string `json:"videoUrl,omitempty"`
	Rules           []Rule `json:"pricingRules"`
	AppliedRule     *Rule  `json:"appliedRule,omitempty"`
}

// Section is an ordered group of lectures within a course.
type Section struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Lectures []Lecture `json:"lectures"`
}

// Course is an ordered tree of sections and lectures with a base price in
// minor currency units. The engine never mutates a Course; it only derives
// read-only projections from it.
type Course struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
	Sections    []Section `json:"sections"`
}

// SanitizeResult is the viewer-scoped projection of one course.
type SanitizeResult struct {
	// Course is the filtered, annotated projection, or nil when the input
	// course was nil.
	Course *Course
	// MatchedRules collects the rule matched for every surviving lecture,
	// in tree order. Pricing aggregates over this slice.
	MatchedRules []Rule
	// Accessible reports whether at least one lecture resolved to a rule;
	// listings use it to decide whether to show the course at all.
	Accessible bool
	Segment    Audience
	Plan       Plan
}

// SanitizeCourse walks the course tree and produces the projection a viewer
// with the given account type and plan is entitled to see.
//
// In ModeStrict, lectures with no applicable rule are dropped, and sections
// left with no lectures are dropped with them. In ModePreview every lecture
// is kept: when no rule applies, the first normalized rule is attached as a
// best-effort annotation so privileged viewers still see a display price.
//
// Role-based bypass is deliberately not handled here; the engine only
// understands (segment, plan, mode), and callers that exempt privileged
// roles do so by choosing ModePreview and skipping the Accessible check.
func SanitizeCourse(course *Course, accountType string, plan Plan, mode Mode) SanitizeResult {
	if course == nil {
		return SanitizeResult{
			MatchedRules: []Rule{},
			Segment:      SegmentForAccountType(accountType),
			Plan:         plan,
		}
	}

	segment := SegmentForAccountType(accountType)
	matched := make([]Rule, 0)
	sections := make([]Section, 0, len(course.Sections))

	for _, section := range course.Sections {
		lectures := make([]Lecture, 0, len(section.Lectures))

		for _, lecture := range section.Lectures {
			normalized := NormalizeRules(lecture.Rules)

			applied, ok := SelectRule(normalized, segment, plan, mode)
			if !ok && mode == ModeStrict {
				continue
			}
			if !ok {
				// Preview fallback: annotate with the first rule so the
				// lecture still carries a concrete price treatment.
				applied = normalized[0]
			} else {
				matched = append(matched, applied)
			}

			kept := lecture
			kept.Rules = normalized
			rule := applied
			kept.AppliedRule = &rule
			lectures = append(lectures, kept)
		}

		if len(lectures) == 0 && mode == ModeStrict {
			continue
		}
		kept := section
		kept.Lectures = lectures
		sections = append(sections, kept)
	}

	projected := *course
	projected.Sections = sections

	return SanitizeResult{
		Course:       &projected,
		MatchedRules: matched,
		Accessible:   len(matched) > 0,
		Segment:      segment,
		Plan:         plan,
	}
}
