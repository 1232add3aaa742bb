// Package service orchestrates the entitlement engine over the persisted
// course catalog: it owns the course cache, applies the privileged-role
// bypass, and produces the viewer-scoped projections the HTTP layer
// serializes.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"coursegate/internal/entitlement"
	"coursegate/internal/repository"
	"coursegate/internal/viewer"
)

const (
	defaultCacheResyncInterval = time.Minute
	cacheReloadTimeout         = 5 * time.Second
)

var (
	ErrCourseNotFound     = errors.New("course not found")
	ErrLectureNotFound    = errors.New("lecture not found")
	ErrNotAccessible      = errors.New("course not accessible")
	ErrInvalidRules       = errors.New("invalid rules")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository is the persistence surface the service depends on.
type Repository interface {
	GetCourse(ctx context.Context, id string) (repository.Course, error)
	ListCourses(ctx context.Context) ([]repository.Course, error)
	CreateCourse(ctx context.Context, course repository.Course) (repository.Course, error)
	UpdateCourse(ctx context.Context, course repository.Course) (repository.Course, error)
	DeleteCourse(ctx context.Context, id string) error
	UpdateLectureRules(ctx context.Context, lectureID string, rules json.RawMessage) (string, error)
	GetUserByEmail(ctx context.Context, email string) (repository.User, error)
	ListPlans(ctx context.Context) ([]repository.SubscriptionPlan, error)
}

// CourseView is one course prepared for one viewer: the sanitized tree,
// the derived pricing, and the accessibility verdict.
type CourseView struct {
	Course        *entitlement.Course  `json:"course"`
	Pricing       entitlement.Pricing  `json:"pricing"`
	Accessible    bool                 `json:"accessible"`
	Segment       entitlement.Audience `json:"segment"`
	Plan          entitlement.Plan     `json:"plan"`
	TotalDuration string               `json:"totalDuration"`
}

// CourseSummary is the listing-level view of a course.
type CourseSummary struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Price       int64               `json:"price"`
	Pricing     entitlement.Pricing `json:"pricing"`
}

// Quote is the checkout-time price for one course and one viewer. Free
// quotes must not result in a payment session.
type Quote struct {
	CourseID    string              `json:"courseId"`
	AmountMinor int64               `json:"amountMinor"`
	Free        bool                `json:"free"`
	Pricing     entitlement.Pricing `json:"pricing"`
}

// Service evaluates entitlement over cached course aggregates.
type Service struct {
	repo   Repository
	log    *slog.Logger
	bypass func(accountType string) bool

	resyncInterval time.Duration
	onEvaluation   func(benefit string)
	onFiltered     func(count int)
	onCacheLoad    func()
	setCacheSize   func(n float64)

	mu    sync.RWMutex
	cache map[string]repository.Course
}

// Option configures optional service parameters.
type Option func(*Service)

// WithLogger sets the structured logger used for background cache work.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithBypassPredicate overrides the privileged-role predicate that decides
// which account types see courses unfiltered.
func WithBypassPredicate(bypass func(accountType string) bool) Option {
	return func(s *Service) {
		if bypass != nil {
			s.bypass = bypass
		}
	}
}

// WithEvaluationMetric registers a callback invoked with the winning
// benefit of every pricing computation.
func WithEvaluationMetric(fn func(benefit string)) Option {
	return func(s *Service) { s.onEvaluation = fn }
}

// WithFilterMetric registers a callback invoked with the number of lectures
// a strict projection dropped for the viewer.
func WithFilterMetric(fn func(count int)) Option {
	return func(s *Service) { s.onFiltered = fn }
}

// WithCacheMetrics registers callbacks for cache reloads and cache size.
func WithCacheMetrics(onLoad func(), setSize func(n float64)) Option {
	return func(s *Service) {
		s.onCacheLoad = onLoad
		s.setCacheSize = setSize
	}
}

// WithCacheResyncInterval overrides the safety-net interval at which the
// course cache is reloaded from the database.
func WithCacheResyncInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.resyncInterval = interval
		}
	}
}

// New creates a Service, eagerly loading the course cache, and starts the
// periodic cache resync bound to ctx.
func New(ctx context.Context, repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is nil")
	}

	svc := &Service{
		repo:           repo,
		log:            slog.Default(),
		bypass:         viewer.DefaultPrivilegedRoles().CanBypassEntitlement,
		resyncInterval: defaultCacheResyncInterval,
		cache:          make(map[string]repository.Course),
	}
	for _, opt := range opts {
		opt(svc)
	}

	if err := svc.LoadCache(ctx); err != nil {
		return nil, err
	}
	go svc.resyncLoop(ctx)

	return svc, nil
}

// LoadCache replaces the in-memory course cache with the repository's
// current contents.
func (s *Service) LoadCache(ctx context.Context) error {
	courses, err := s.repo.ListCourses(ctx)
	if err != nil {
		return fmt.Errorf("load courses: %w", err)
	}

	next := make(map[string]repository.Course, len(courses))
	for _, course := range courses {
		next[course.ID] = course
	}

	s.mu.Lock()
	s.cache = next
	s.mu.Unlock()

	if s.onCacheLoad != nil {
		s.onCacheLoad()
	}
	if s.setCacheSize != nil {
		s.setCacheSize(float64(len(next)))
	}

	return nil
}

// ViewCourse returns the projection of one course for one viewer.
// Privileged account types get the unfiltered preview projection; everyone
// else gets strict filtering, and ErrNotAccessible when nothing survives.
func (s *Service) ViewCourse(ctx context.Context, id string, vc viewer.Context) (CourseView, error) {
	mode := entitlement.ModeStrict
	if s.bypass(vc.AccountType) {
		mode = entitlement.ModePreview
	}

	view, err := s.projectCourse(ctx, id, vc, mode)
	if err != nil {
		return CourseView{}, err
	}

	if mode == entitlement.ModeStrict && len(view.Course.Sections) == 0 {
		return CourseView{}, ErrNotAccessible
	}

	return view, nil
}

// PreviewCourse returns the unfiltered, annotated projection regardless of
// the viewer's entitlement. Access control for this path lives in the HTTP
// layer.
func (s *Service) PreviewCourse(ctx context.Context, id string, vc viewer.Context) (CourseView, error) {
	return s.projectCourse(ctx, id, vc, entitlement.ModePreview)
}

// ListCourses returns listing summaries for the viewer. Courses the viewer
// cannot access are omitted unless the viewer's role bypasses entitlement.
func (s *Service) ListCourses(ctx context.Context, vc viewer.Context) ([]CourseSummary, error) {
	privileged := s.bypass(vc.AccountType)
	mode := entitlement.ModeStrict
	if privileged {
		mode = entitlement.ModePreview
	}

	s.mu.RLock()
	courses := make([]repository.Course, 0, len(s.cache))
	for _, course := range s.cache {
		courses = append(courses, course)
	}
	s.mu.RUnlock()

	sort.Slice(courses, func(i, j int) bool {
		if courses[i].Name != courses[j].Name {
			return courses[i].Name < courses[j].Name
		}
		return courses[i].ID < courses[j].ID
	})

	summaries := make([]CourseSummary, 0, len(courses))
	for _, course := range courses {
		result := entitlement.SanitizeCourse(toEngineCourse(course), vc.AccountType, vc.Plan, mode)
		if !result.Accessible && !privileged {
			continue
		}

		pricing := s.computePricing(result.MatchedRules, course.Price)
		summaries = append(summaries, CourseSummary{
			ID:          course.ID,
			Name:        course.Name,
			Description: course.Description,
			Price:       course.Price,
			Pricing:     pricing,
		})
	}

	return summaries, nil
}

// QuoteCourse computes the checkout price for a course. Checkout is always
// strict: privileged roles buy at the same terms as the segment they
// evaluate into, and inaccessible courses cannot be quoted.
func (s *Service) QuoteCourse(ctx context.Context, id string, vc viewer.Context) (Quote, error) {
	course, err := s.getCourse(ctx, id)
	if err != nil {
		return Quote{}, err
	}

	result := entitlement.SanitizeCourse(toEngineCourse(course), vc.AccountType, vc.Plan, entitlement.ModeStrict)
	s.recordFiltered(course, result.Course)
	if !result.Accessible {
		return Quote{}, ErrNotAccessible
	}

	pricing := s.computePricing(result.MatchedRules, course.Price)
	return Quote{
		CourseID:    course.ID,
		AmountMinor: pricing.DisplayPrice,
		Free:        pricing.IsFree,
		Pricing:     pricing,
	}, nil
}

// CreateCourse stores a new course aggregate after validating its rule
// payloads.
func (s *Service) CreateCourse(ctx context.Context, course repository.Course) (repository.Course, error) {
	if strings.TrimSpace(course.Name) == "" {
		return repository.Course{}, errors.New("course name is required")
	}
	if err := validateCourseRules(course); err != nil {
		return repository.Course{}, err
	}

	created, err := s.repo.CreateCourse(ctx, course)
	if err != nil {
		return repository.Course{}, fmt.Errorf("create course: %w", err)
	}

	s.setCachedCourse(created)
	return created, nil
}

// UpdateCourse updates a course's scalar fields.
func (s *Service) UpdateCourse(ctx context.Context, course repository.Course) (repository.Course, error) {
	if strings.TrimSpace(course.ID) == "" {
		return repository.Course{}, errors.New("course id is required")
	}

	updated, err := s.repo.UpdateCourse(ctx, course)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.deleteCachedCourse(course.ID)
			return repository.Course{}, ErrCourseNotFound
		}
		return repository.Course{}, fmt.Errorf("update course: %w", err)
	}

	s.setCachedCourse(updated)
	return updated, nil
}

// DeleteCourse removes a course aggregate.
func (s *Service) DeleteCourse(ctx context.Context, id string) error {
	if err := s.repo.DeleteCourse(ctx, id); err != nil {
		s.deleteCachedCourse(id)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCourseNotFound
		}
		return fmt.Errorf("delete course: %w", err)
	}

	s.deleteCachedCourse(id)
	return nil
}

// UpdateLectureRules replaces one lecture's entitlement rules and
// refreshes the owning course in the cache.
func (s *Service) UpdateLectureRules(ctx context.Context, lectureID string, rules json.RawMessage) error {
	if err := validateRulesJSON(rules); err != nil {
		return err
	}

	courseID, err := s.repo.UpdateLectureRules(ctx, lectureID, rules)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLectureNotFound
		}
		return fmt.Errorf("update lecture rules: %w", err)
	}

	course, err := s.repo.GetCourse(ctx, courseID)
	if err != nil {
		// The write committed; the resync loop repairs the cache.
		s.deleteCachedCourse(courseID)
		return nil
	}
	s.setCachedCourse(course)
	return nil
}

// Login verifies an email/password pair and returns the matching
// principal. Both unknown accounts and wrong passwords map to
// ErrInvalidCredentials so callers cannot distinguish them.
func (s *Service) Login(ctx context.Context, email, password string) (viewer.Principal, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return viewer.Principal{}, ErrInvalidCredentials
		}
		return viewer.Principal{}, fmt.Errorf("look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return viewer.Principal{}, ErrInvalidCredentials
	}

	plan := entitlement.Plan(user.SubscriptionPlan)
	if user.SubscriptionPlan == "" {
		plan = entitlement.PlanDefault
	}

	return viewer.Principal{
		UserID:      user.ID,
		Email:       user.Email,
		AccountType: user.AccountType,
		Plan:        plan,
	}, nil
}

// ListPlans returns the active subscription plans.
func (s *Service) ListPlans(ctx context.Context) ([]repository.SubscriptionPlan, error) {
	plans, err := s.repo.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

func (s *Service) projectCourse(ctx context.Context, id string, vc viewer.Context, mode entitlement.Mode) (CourseView, error) {
	course, err := s.getCourse(ctx, id)
	if err != nil {
		return CourseView{}, err
	}

	result := entitlement.SanitizeCourse(toEngineCourse(course), vc.AccountType, vc.Plan, mode)
	if mode == entitlement.ModeStrict {
		s.recordFiltered(course, result.Course)
	}
	pricing := s.computePricing(result.MatchedRules, course.Price)

	return CourseView{
		Course:        result.Course,
		Pricing:       pricing,
		Accessible:    result.Accessible,
		Segment:       result.Segment,
		Plan:          result.Plan,
		TotalDuration: formatDuration(totalDurationSeconds(result.Course)),
	}, nil
}

// recordFiltered reports how many lectures a strict projection dropped
// relative to the stored aggregate.
func (s *Service) recordFiltered(course repository.Course, projected *entitlement.Course) {
	if s.onFiltered == nil || projected == nil {
		return
	}
	total := 0
	for _, section := range course.Sections {
		total += len(section.Lectures)
	}
	kept := 0
	for _, section := range projected.Sections {
		kept += len(section.Lectures)
	}
	if dropped := total - kept; dropped > 0 {
		s.onFiltered(dropped)
	}
}

func (s *Service) computePricing(matched []entitlement.Rule, basePrice int64) entitlement.Pricing {
	pricing := entitlement.ComputePricing(matched, basePrice)
	if s.onEvaluation != nil {
		s.onEvaluation(string(pricing.Benefit))
	}
	return pricing
}

func (s *Service) getCourse(ctx context.Context, id string) (repository.Course, error) {
	if course, ok := s.getCachedCourse(id); ok {
		return course, nil
	}

	course, err := s.repo.GetCourse(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Course{}, ErrCourseNotFound
		}
		return repository.Course{}, fmt.Errorf("get course: %w", err)
	}

	s.setCachedCourse(course)
	return course, nil
}

func (s *Service) getCachedCourse(id string) (repository.Course, bool) {
	s.mu.RLock()
	course, ok := s.cache[id]
	s.mu.RUnlock()
	return course, ok
}

func (s *Service) setCachedCourse(course repository.Course) {
	s.mu.Lock()
	s.cache[course.ID] = course
	size := len(s.cache)
	s.mu.Unlock()

	if s.setCacheSize != nil {
		s.setCacheSize(float64(size))
	}
}

func (s *Service) deleteCachedCourse(id string) {
	s.mu.Lock()
	delete(s.cache, id)
	size := len(s.cache)
	s.mu.Unlock()

	if s.setCacheSize != nil {
		s.setCacheSize(float64(size))
	}
}

func (s *Service) resyncLoop(ctx context.Context) {
	ticker := time.NewTicker(s.resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reloadCtx, cancel := context.WithTimeout(ctx, cacheReloadTimeout)
			if err := s.LoadCache(reloadCtx); err != nil {
				s.log.Warn("course cache resync failed", "error", err)
			}
			cancel()
		}
	}
}

// toEngineCourse converts a stored aggregate into the engine's typed tree,
// parsing each lecture's raw rule payload at this boundary.
func toEngineCourse(course repository.Course) *entitlement.Course {
	sections := make([]entitlement.Section, 0, len(course.Sections))
	for _, section := range course.Sections {
		lectures := make([]entitlement.Lecture, 0, len(section.Lectures))
		for _, lecture := range section.Lectures {
			lectures = append(lectures, entitlement.Lecture{
				ID:              lecture.ID,
				Title:           lecture.Title,
				DurationSeconds: lecture.DurationSeconds,
				VideoURL:        lecture.VideoURL,
				Rules:           entitlement.ParseRules(lecture.PricingRules),
			})
		}
		sections = append(sections, entitlement.Section{
			ID:       section.ID,
			Name:     section.Name,
			Lectures: lectures,
		})
	}

	return &entitlement.Course{
		ID:          course.ID,
		Name:        course.Name,
		Description: course.Description,
		Price:       course.Price,
		Sections:    sections,
	}
}

// validateCourseRules checks every lecture's rule payload in a new course
// aggregate. Authoring is strict where serving is lenient: a broken
// payload is rejected here instead of being silently defaulted later.
func validateCourseRules(course repository.Course) error {
	for _, section := range course.Sections {
		for _, lecture := range section.Lectures {
			if err := validateRulesJSON(lecture.PricingRules); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateRulesJSON(payload json.RawMessage) error {
	if len(payload) == 0 {
		return nil
	}
	var rules []entitlement.Rule
	if err := json.Unmarshal(payload, &rules); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	return nil
}

func totalDurationSeconds(course *entitlement.Course) int64 {
	if course == nil {
		return 0
	}
	var total int64
	for _, section := range course.Sections {
		for _, lecture := range section.Lectures {
			if lecture.DurationSeconds > 0 {
				total += lecture.DurationSeconds
			}
		}
	}
	return total
}

// formatDuration renders a lecture-time total like "2h 5m" or "45s".
func formatDuration(totalSeconds int64) string {
	if totalSeconds <= 0 {
		return "0s"
	}

	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
