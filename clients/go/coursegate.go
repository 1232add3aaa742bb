// Package coursegate provides client interfaces and domain types for the
// coursegate course entitlement service.
//
// Use the http sub-package to create a transport client:
//
//	import cghttp "coursegate/clients/go/http"
package coursegate

import (
	"context"
)

// CourseBrowser covers the viewer-facing read surface.
type CourseBrowser interface {
	ListCourses(ctx context.Context) ([]CourseSummary, error)
	GetCourse(ctx context.Context, id string) (CourseView, error)
	QuoteCourse(ctx context.Context, id string) (Quote, error)
	ListPlans(ctx context.Context) ([]Plan, error)
}

// CatalogManager covers the privileged authoring surface.
type CatalogManager interface {
	PreviewCourse(ctx context.Context, id string) (CourseView, error)
	CreateCourse(ctx context.Context, course Course) (Course, error)
	UpdateCourse(ctx context.Context, course Course) (Course, error)
	DeleteCourse(ctx context.Context, id string) error
	UpdateLectureRules(ctx context.Context, lectureID string, rules []Rule) error
}

// Authenticator exchanges credentials for a bearer token.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (Session, error)
}

// Rule grants a benefit to one audience and plan combination.
type Rule struct {
	Audience string `json:"audience"`
	Plan     string `json:"plan"`
	Benefit  string `json:"benefit"`
}

// Lecture is a single unit of course content.
type Lecture struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	DurationSeconds int64  `json:"durationSeconds"`
	VideoURL        string `json:"videoUrl"`
	Rules           []Rule `json:"pricingRules"`
	AppliedRule     *Rule  `json:"appliedRule,omitempty"`
}

// Section groups lectures within a course.
type Section struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Lectures []Lecture `json:"lectures"`
}

// Course is a course aggregate as served by the API.
type Course struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
	Sections    []Section `json:"sections"`
}

// Pricing is the price derived for one course and one viewer.
type Pricing struct {
	Benefit            string `json:"benefit"`
	Plan               string `json:"plan"`
	Audience           string `json:"audience"`
	DisplayPrice       int64  `json:"displayPrice"`
	OriginalPrice      int64  `json:"originalPrice"`
	IsFree             bool   `json:"isFree"`
	IsDiscounted       bool   `json:"isDiscounted"`
	DiscountPercentage int    `json:"discountPercentage"`
	Badge              string `json:"badge,omitempty"`
}

// CourseView is one course prepared for the requesting viewer.
type CourseView struct {
	Course        *Course `json:"course"`
	Pricing       Pricing `json:"pricing"`
	Accessible    bool    `json:"accessible"`
	Segment       string  `json:"segment"`
	Plan          string  `json:"plan"`
	TotalDuration string  `json:"totalDuration"`
}

// CourseSummary is the listing-level view of a course.
type CourseSummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       int64   `json:"price"`
	Pricing     Pricing `json:"pricing"`
}

// Quote is a checkout-time price.
type Quote struct {
	CourseID    string  `json:"courseId"`
	AmountMinor int64   `json:"amountMinor"`
	Free        bool    `json:"free"`
	Pricing     Pricing `json:"pricing"`
}

// Plan describes a purchasable subscription plan.
type Plan struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

// Session is the result of a successful login.
type Session struct {
	Token string      `json:"token"`
	User  SessionUser `json:"user"`
}

// SessionUser identifies the logged-in account.
type SessionUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	AccountType string `json:"accountType"`
	Plan        string `json:"plan"`
}
