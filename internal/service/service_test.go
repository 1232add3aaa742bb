package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"coursegate/internal/entitlement"
	"coursegate/internal/repository"
	"coursegate/internal/viewer"
)

type fakeRepository struct {
	courses map[string]repository.Course
	users   map[string]repository.User
	plans   []repository.SubscriptionPlan

	listErr   error
	listCalls int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		courses: make(map[string]repository.Course),
		users:   make(map[string]repository.User),
	}
}

func (f *fakeRepository) GetCourse(_ context.Context, id string) (repository.Course, error) {
	course, ok := f.courses[id]
	if !ok {
		return repository.Course{}, fmt.Errorf("get course: %w", pgx.ErrNoRows)
	}
	return course, nil
}

func (f *fakeRepository) ListCourses(_ context.Context) ([]repository.Course, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]repository.Course, 0, len(f.courses))
	for _, course := range f.courses {
		out = append(out, course)
	}
	return out, nil
}

func (f *fakeRepository) CreateCourse(_ context.Context, course repository.Course) (repository.Course, error) {
	if course.ID == "" {
		course.ID = fmt.Sprintf("course-%d", len(f.courses)+1)
	}
	f.courses[course.ID] = course
	return course, nil
}

func (f *fakeRepository) UpdateCourse(_ context.Context, course repository.Course) (repository.Course, error) {
	existing, ok := f.courses[course.ID]
	if !ok {
		return repository.Course{}, fmt.Errorf("update course: %w", pgx.ErrNoRows)
	}
	existing.Name = course.Name
	existing.Description = course.Description
	existing.Price = course.Price
	f.courses[course.ID] = existing
	return existing, nil
}

func (f *fakeRepository) DeleteCourse(_ context.Context, id string) error {
	if _, ok := f.courses[id]; !ok {
		return fmt.Errorf("delete course: %w", pgx.ErrNoRows)
	}
	delete(f.courses, id)
	return nil
}

func (f *fakeRepository) UpdateLectureRules(_ context.Context, lectureID string, rules json.RawMessage) (string, error) {
	for courseID, course := range f.courses {
		for si, section := range course.Sections {
			for li, lecture := range section.Lectures {
				if lecture.ID == lectureID {
					course.Sections[si].Lectures[li].PricingRules = rules
					f.courses[courseID] = course
					return courseID, nil
				}
			}
		}
	}
	return "", fmt.Errorf("update lecture rules: %w", pgx.ErrNoRows)
}

func (f *fakeRepository) GetUserByEmail(_ context.Context, email string) (repository.User, error) {
	user, ok := f.users[email]
	if !ok {
		return repository.User{}, fmt.Errorf("get user: %w", pgx.ErrNoRows)
	}
	return user, nil
}

func (f *fakeRepository) ListPlans(_ context.Context) ([]repository.SubscriptionPlan, error) {
	return f.plans, nil
}

func rulesJSON(t *testing.T, rules []entitlement.Rule) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(rules)
	if err != nil {
		t.Fatalf("marshal rules: %v", err)
	}
	return payload
}

// seedCourse stores a two-lecture course: the first lecture is open to
// everyone at full price, the second is free for student subscribers only.
func seedCourse(t *testing.T, repo *fakeRepository) repository.Course {
	t.Helper()
	course := repository.Course{
		ID:    "go-101",
		Name:  "Go from Scratch",
		Price: 100,
		Sections: []repository.Section{
			{
				ID:   "s1",
				Name: "Basics",
				Lectures: []repository.Lecture{
					{
						ID:              "l1",
						Title:           "Hello",
						DurationSeconds: 300,
						PricingRules: rulesJSON(t, []entitlement.Rule{
							{Audience: entitlement.AudienceStudent, Plan: entitlement.PlanDefault, Benefit: entitlement.BenefitFullPrice},
						}),
					},
					{
						ID:              "l2",
						Title:           "Types",
						DurationSeconds: 600,
						PricingRules: rulesJSON(t, []entitlement.Rule{
							{Audience: entitlement.AudienceStudent, Plan: entitlement.PlanSubscriber, Benefit: entitlement.BenefitFree},
						}),
					},
				},
			},
		},
	}
	repo.courses[course.ID] = course
	return course
}

func newTestService(t *testing.T, repo Repository, opts ...Option) *Service {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc, err := New(ctx, repo, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestViewCourseStudentDefault(t *testing.T) {
	repo := newFakeRepository()
	seedCourse(t, repo)
	svc := newTestService(t, repo)

	view, err := svc.ViewCourse(context.Background(), "go-101", viewer.DefaultContext())
	if err != nil {
		t.Fatalf("ViewCourse: %v", err)
	}

	if !view.Accessible {
		t.Fatal("expected accessible course")
	}
	if got := len(view.Course.Sections[0].Lectures); got != 1 {
		t.Fatalf("expected 1 surviving lecture, got %d", got)
	}
	if view.Course.Sections[0].Lectures[0].ID != "l1" {
		t.Fatalf("wrong lecture survived: %s", view.Course.Sections[0].Lectures[0].ID)
	}
	if view.Pricing.DisplayPrice != 100 {
		t.Fatalf("expected full price 100, got %d", view.Pricing.DisplayPrice)
	}
	if view.TotalDuration != "5m 0s" {
		t.Fatalf("unexpected total duration %q", view.TotalDuration)
	}
}

func TestViewCourseSubscriberGetsFreeQuote(t *testing.T) {
	repo := newFakeRepository()
	seedCourse(t, repo)
	svc := newTestService(t, repo)

	vc := viewer.Context{AccountType: "Student", Plan: entitlement.PlanSubscriber}
	view, err := svc.ViewCourse(context.Background(), "go-101", vc)
	if err != nil {
		t.Fatalf("ViewCourse: %v", err)
	}

	// Both lectures match for the subscriber; the free lecture drags the
	// whole course price down to zero.
	if got := len(view.Course.Sections[0].Lectures); got != 2 {
		t.Fatalf("expected both lectures, got %d", got)
	}
	if !view.Pricing.IsFree || view.Pricing.DisplayPrice != 0 {
		t.Fatalf("expected free pricing, got %+v", view.Pricing)
	}
	if view.Pricing.Badge != entitlement.BadgeFree {
		t.Fatalf("expected badge %q, got %q", entitlement.BadgeFree, view.Pricing.Badge)
	}
}

func TestViewCourseCorporateNotAccessible(t *testing.T) {
	repo := newFakeRepository()
	seedCourse(t, repo)
	svc := newTestService(t, repo)

	vc := viewer.Context{AccountType: "Corporate", Plan: entitlement.PlanDefault}
	_, err := svc.ViewCourse(context.Background(), "go-101", vc)
	if !errors.Is(err, ErrNotAccessible) {
		t.Fatalf("expected ErrNotAccessible, got %v", err)
	}
}

func TestViewCourseAdminBypassesFiltering(t *testing.T) {
	repo := newFakeRepository()
	seedCourse(t, repo)
	svc := newTestService(t, repo)

	vc := viewer.Context{AccountType: "Admin", Plan: entitlement.PlanDefault}
	view, err := svc.ViewCourse(context.Background(), "go-101", vc)
	if err != nil {
		t.Fatalf("ViewCourse: %v", err)
	}

	if got := len(view.Course.Sections[0].Lectures); got != 2 {
		t.Fatalf("admin should see all lectures, got %d", got)
	}
	for _, lecture := range view.Course.Sections[0].Lectures {
		if lecture.AppliedRule == nil {
			t.Fatalf("lecture %s missing applied rule annotation", lecture.ID)
		}
	}
}

func TestViewCourseNotFound(t *testing.T) {
	svc := newTestService(t, newFakeRepository())

	_, err := svc.ViewCourse(context.Background(), "missing", viewer.DefaultContext())
	if !errors.Is(err, ErrCourseNotFound) {
		t.Fatalf("expected ErrCourseNotFound, got %v", err)
	}
}

func TestPreviewCourseIgnoresViewerEntitlement(t *testing.T) {
	repo := newFakeRepository()
	seedCourse(t, repo)
	svc := newTestService(t, repo)

	vc := viewer.Context{AccountType: "Corporate", Plan: entitlement.PlanDefault}
	view, err := svc.PreviewCourse(context.Background(), "go-101", vc)
	if err != nil {
		t.Fatalf("PreviewCourse: %v", err)
	}

	if got := len(view.Course.Sections[0].Lectures); got != 2 {
		t.Fatalf("preview should keep all lectures, got %d", got)
	}
	if view.Accessible {
		t.Fatal("corporate viewer matched no rules; accessible should be false")
	}
}

func TestListCoursesOmitsInaccessible(t *testing.T) {
	repo := newFakeRepository()
	seedCourse(t, repo)
	repo.courses["corp-only"] = repository.Course{
		ID:    "corp-only",
		Name:  "Compliance Training",
		Price: 500,
		Sections: []repository.Section{{
			ID: "s1", Name: "Intro",
			Lectures: []repository.Lecture{{
				ID: "cl1", Title: "Welcome",
				PricingRules: rulesJSON(t, []entitlement.Rule{
					{Audience: entitlement.AudienceCorporate, Plan: entitlement.PlanDefault, Benefit: entitlement.BenefitFullPrice},
				}),
			}},
		}},
	}
	svc := newTestService(t, repo)

	student, err := svc.ListCourses(context.Background(), viewer.DefaultContext())
	if err != nil {
		t.Fatalf("ListCourses: %v", err)
	}
	if len(student) != 1 || student[0].ID != "go-101" {
		t.Fatalf("student should see only go-101, got %+v", student)
	}

	admin, err := svc.ListCourses(context.Background(), viewer.Context{AccountType: "Admin", Plan: entitlement.PlanDefault})
	if err != nil {
		t.Fatalf("ListCourses: %v", err)
	}
	if len(admin) != 2 {
		t.Fatalf("admin should see both courses, got %d", len(admin))
	}
	// Sorted by name.
	if admin[0].Name != "Compliance Training" || admin[1].Name != "Go from Scratch" {
		t.Fatalf("unexpected order: %q, %q", admin[0].Name, admin[1].Name)
	}
}

func TestQuoteCourse(t *testing.T) {
	repo := newFakeRepository()
	seedCourse(t, repo)
	svc := newTestService(t, repo)

	t.Run("default student pays full price", func(t *testing.T) {
		quote, err := svc.QuoteCourse(context.Background(), "go-101", viewer.DefaultContext())
		if err != nil {
			t.Fatalf("QuoteCourse: %v", err)
		}
		if quote.AmountMinor != 100 || quote.Free {
			t.Fatalf("unexpected quote %+v", quote)
		}
	})

	t.Run("subscriber quote is free", func(t *testing.T) {
		vc := viewer.Context{AccountType: "Student", Plan: entitlement.PlanSubscriber}
		quote, err := svc.QuoteCourse(context.Background(), "go-101", vc)
		if err != nil {
			t.Fatalf("QuoteCourse: %v", err)
		}
		if !quote.Free || quote.AmountMinor != 0 {
			t.Fatalf("unexpected quote %+v", quote)
		}
	})

	t.Run("inaccessible course cannot be quoted", func(t *testing.T) {
		vc := viewer.Context{AccountType: "Corporate", Plan: entitlement.PlanDefault}
		if _, err := svc.QuoteCourse(context.Background(), "go-101", vc); !errors.Is(err, ErrNotAccessible) {
			t.Fatalf("expected ErrNotAccessible, got %v", err)
		}
	})

	t.Run("admin quotes at strict terms", func(t *testing.T) {
		vc := viewer.Context{AccountType: "Admin", Plan: entitlement.PlanDefault}
		// Admin evaluates into the student segment for checkout; no
		// preview widening applies to money.
		quote, err := svc.QuoteCourse(context.Background(), "go-101", vc)
		if err != nil {
			t.Fatalf("QuoteCourse: %v", err)
		}
		if quote.AmountMinor != 100 {
			t.Fatalf("expected 100, got %d", quote.AmountMinor)
		}
	})
}

func TestCreateCourseRejectsInvalidRules(t *testing.T) {
	svc := newTestService(t, newFakeRepository())

	course := repository.Course{
		Name: "Broken",
		Sections: []repository.Section{{
			Name: "S",
			Lectures: []repository.Lecture{{
				Title:        "L",
				PricingRules: json.RawMessage(`{"not":"an array"}`),
			}},
		}},
	}
	if _, err := svc.CreateCourse(context.Background(), course); !errors.Is(err, ErrInvalidRules) {
		t.Fatalf("expected ErrInvalidRules, got %v", err)
	}
}

func TestUpdateLectureRules(t *testing.T) {
	repo := newFakeRepository()
	seedCourse(t, repo)
	svc := newTestService(t, repo)

	newRules := rulesJSON(t, []entitlement.Rule{
		{Audience: entitlement.AudienceCorporate, Plan: entitlement.PlanDefault, Benefit: entitlement.BenefitHalfPrice},
	})
	if err := svc.UpdateLectureRules(context.Background(), "l1", newRules); err != nil {
		t.Fatalf("UpdateLectureRules: %v", err)
	}

	// The rewritten rules take effect without waiting for a resync.
	vc := viewer.Context{AccountType: "Corporate", Plan: entitlement.PlanDefault}
	view, err := svc.ViewCourse(context.Background(), "go-101", vc)
	if err != nil {
		t.Fatalf("ViewCourse after rule update: %v", err)
	}
	if view.Pricing.DisplayPrice != 50 {
		t.Fatalf("expected half price 50, got %d", view.Pricing.DisplayPrice)
	}

	t.Run("unknown lecture", func(t *testing.T) {
		if err := svc.UpdateLectureRules(context.Background(), "nope", newRules); !errors.Is(err, ErrLectureNotFound) {
			t.Fatalf("expected ErrLectureNotFound, got %v", err)
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		if err := svc.UpdateLectureRules(context.Background(), "l1", json.RawMessage(`not json`)); !errors.Is(err, ErrInvalidRules) {
			t.Fatalf("expected ErrInvalidRules, got %v", err)
		}
	})
}

func TestDeleteCourseEvictsCache(t *testing.T) {
	repo := newFakeRepository()
	seedCourse(t, repo)
	svc := newTestService(t, repo)

	if err := svc.DeleteCourse(context.Background(), "go-101"); err != nil {
		t.Fatalf("DeleteCourse: %v", err)
	}
	if _, err := svc.ViewCourse(context.Background(), "go-101", viewer.DefaultContext()); !errors.Is(err, ErrCourseNotFound) {
		t.Fatalf("expected ErrCourseNotFound after delete, got %v", err)
	}

	if err := svc.DeleteCourse(context.Background(), "go-101"); !errors.Is(err, ErrCourseNotFound) {
		t.Fatalf("expected ErrCourseNotFound on second delete, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	repo := newFakeRepository()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	repo.users["ana@example.com"] = repository.User{
		ID:               "u1",
		Email:            "ana@example.com",
		PasswordHash:     string(hash),
		AccountType:      "Student",
		SubscriptionPlan: "Subscriber",
	}
	svc := newTestService(t, repo)

	t.Run("valid credentials", func(t *testing.T) {
		principal, err := svc.Login(context.Background(), "  Ana@Example.com ", "s3cret")
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
		if principal.UserID != "u1" || principal.Plan != entitlement.PlanSubscriber {
			t.Fatalf("unexpected principal %+v", principal)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := svc.Login(context.Background(), "ana@example.com", "nope"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		if _, err := svc.Login(context.Background(), "ghost@example.com", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})
}

func TestCacheResync(t *testing.T) {
	repo := newFakeRepository()
	seedCourse(t, repo)

	loads := make(chan struct{}, 16)
	svc := newTestService(t, repo,
		WithCacheResyncInterval(10*time.Millisecond),
		WithCacheMetrics(func() {
			select {
			case loads <- struct{}{}:
			default:
			}
		}, nil),
	)

	// Drop the initial eager load signal.
	<-loads

	// Mutate the repository behind the service's back; the resync loop
	// must pick it up.
	repo.courses["new-course"] = repository.Course{
		ID:    "new-course",
		Name:  "New",
		Price: 10,
		Sections: []repository.Section{{
			ID: "s", Name: "S",
			Lectures: []repository.Lecture{{ID: "l", Title: "L"}},
		}},
	}

	select {
	case <-loads:
	case <-time.After(2 * time.Second):
		t.Fatal("cache was never resynced")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := svc.getCachedCourse("new-course"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("resynced cache never contained new-course")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEvaluationMetricFires(t *testing.T) {
	repo := newFakeRepository()
	seedCourse(t, repo)

	var benefits []string
	svc := newTestService(t, repo, WithEvaluationMetric(func(b string) {
		benefits = append(benefits, b)
	}))

	if _, err := svc.ViewCourse(context.Background(), "go-101", viewer.DefaultContext()); err != nil {
		t.Fatalf("ViewCourse: %v", err)
	}
	if len(benefits) != 1 || benefits[0] != string(entitlement.BenefitFullPrice) {
		t.Fatalf("unexpected benefit observations %v", benefits)
	}
}

func TestFilterMetricCountsDroppedLectures(t *testing.T) {
	repo := newFakeRepository()
	seedCourse(t, repo)

	filtered := 0
	svc := newTestService(t, repo, WithFilterMetric(func(n int) {
		filtered += n
	}))

	// The default student viewer loses the subscriber-only lecture.
	if _, err := svc.ViewCourse(context.Background(), "go-101", viewer.DefaultContext()); err != nil {
		t.Fatalf("ViewCourse: %v", err)
	}
	if filtered != 1 {
		t.Fatalf("filtered = %d, want 1", filtered)
	}

	// Subscribers keep every lecture; the counter must not move.
	sub := viewer.Context{AccountType: "Student", Plan: entitlement.PlanSubscriber}
	if _, err := svc.ViewCourse(context.Background(), "go-101", sub); err != nil {
		t.Fatalf("ViewCourse subscriber: %v", err)
	}
	if filtered != 1 {
		t.Fatalf("filtered = %d after subscriber view, want 1", filtered)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "0s"},
		{-5, "0s"},
		{45, "45s"},
		{90, "1m 30s"},
		{3600, "1h 0m"},
		{7530, "2h 5m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.seconds); got != tt.want {
			t.Errorf("formatDuration(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}
