package server

import (
	"context"
	"encoding/json"

	"coursegate/internal/repository"
	"coursegate/internal/service"
	"coursegate/internal/viewer"
)

type Service interface {
	ViewCourse(ctx context.Context, id string, vc viewer.Context) (service.CourseView, error)
	PreviewCourse(ctx context.Context, id string, vc viewer.Context) (service.CourseView, error)
	ListCourses(ctx context.Context, vc viewer.Context) ([]service.CourseSummary, error)
	QuoteCourse(ctx context.Context, id string, vc viewer.Context) (service.Quote, error)
	CreateCourse(ctx context.Context, course repository.Course) (repository.Course, error)
	UpdateCourse(ctx context.Context, course repository.Course) (repository.Course, error)
	DeleteCourse(ctx context.Context, id string) error
	UpdateLectureRules(ctx context.Context, lectureID string, rules json.RawMessage) error
	Login(ctx context.Context, email, password string) (viewer.Principal, error)
	ListPlans(ctx context.Context) ([]repository.SubscriptionPlan, error)
}

var _ Service = (*service.Service)(nil)
