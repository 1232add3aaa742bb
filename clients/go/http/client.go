// Package http provides an HTTP client for the coursegate service.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	coursegate "coursegate/clients/go"
)

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL is the base URL of the coursegate server, e.g.
	// "http://localhost:8080".
	BaseURL string
	// Token is an optional bearer token obtained from Login. Requests
	// without a token evaluate as the anonymous default viewer.
	Token string
	// HTTPClient is optional; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client implements coursegate.CourseBrowser, coursegate.CatalogManager,
// and coursegate.Authenticator over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewHTTPClient returns a new HTTP client for the coursegate service.
func NewHTTPClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{cfg: cfg, httpClient: hc}
}

// SetToken replaces the bearer token used on subsequent requests.
func (c *Client) SetToken(token string) {
	c.cfg.Token = token
}

// APIError is returned when the server responds with an HTTP error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coursegate: HTTP %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("coursegate: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("coursegate: create request: %w", err)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coursegate: http: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

func decodeInto(resp *http.Response, dst any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("coursegate: decode response: %w", err)
	}
	return nil
}

// ListCourses returns the course listing visible to the client's viewer.
func (c *Client) ListCourses(ctx context.Context) ([]coursegate.CourseSummary, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/courses", nil)
	if err != nil {
		return nil, err
	}
	var out []coursegate.CourseSummary
	if err := decodeInto(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCourse returns one course filtered for the client's viewer.
func (c *Client) GetCourse(ctx context.Context, id string) (coursegate.CourseView, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/courses/"+id, nil)
	if err != nil {
		return coursegate.CourseView{}, err
	}
	var out coursegate.CourseView
	if err := decodeInto(resp, &out); err != nil {
		return coursegate.CourseView{}, err
	}
	return out, nil
}

// PreviewCourse returns the unfiltered, annotated course. Requires a token
// for a privileged account.
func (c *Client) PreviewCourse(ctx context.Context, id string) (coursegate.CourseView, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/courses/"+id+"/preview", nil)
	if err != nil {
		return coursegate.CourseView{}, err
	}
	var out coursegate.CourseView
	if err := decodeInto(resp, &out); err != nil {
		return coursegate.CourseView{}, err
	}
	return out, nil
}

// QuoteCourse returns the checkout price for a course.
func (c *Client) QuoteCourse(ctx context.Context, id string) (coursegate.Quote, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/courses/"+id+"/quote", nil)
	if err != nil {
		return coursegate.Quote{}, err
	}
	var out coursegate.Quote
	if err := decodeInto(resp, &out); err != nil {
		return coursegate.Quote{}, err
	}
	return out, nil
}

// CreateCourse creates a course. Requires a privileged token.
func (c *Client) CreateCourse(ctx context.Context, course coursegate.Course) (coursegate.Course, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/courses", course)
	if err != nil {
		return coursegate.Course{}, err
	}
	var out coursegate.Course
	if err := decodeInto(resp, &out); err != nil {
		return coursegate.Course{}, err
	}
	return out, nil
}

// UpdateCourse updates a course's scalar fields. Requires a privileged
// token.
func (c *Client) UpdateCourse(ctx context.Context, course coursegate.Course) (coursegate.Course, error) {
	if course.ID == "" {
		return coursegate.Course{}, fmt.Errorf("coursegate: course id is required")
	}
	resp, err := c.do(ctx, http.MethodPut, "/v1/courses/"+course.ID, course)
	if err != nil {
		return coursegate.Course{}, err
	}
	var out coursegate.Course
	if err := decodeInto(resp, &out); err != nil {
		return coursegate.Course{}, err
	}
	return out, nil
}

// DeleteCourse deletes a course. Requires a privileged token.
func (c *Client) DeleteCourse(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/v1/courses/"+id, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// UpdateLectureRules replaces one lecture's entitlement rules. Requires a
// privileged token.
func (c *Client) UpdateLectureRules(ctx context.Context, lectureID string, rules []coursegate.Rule) error {
	payload := struct {
		Rules []coursegate.Rule `json:"rules"`
	}{Rules: rules}
	resp, err := c.do(ctx, http.MethodPut, "/v1/lectures/"+lectureID+"/rules", payload)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ListPlans returns the active subscription plans.
func (c *Client) ListPlans(ctx context.Context) ([]coursegate.Plan, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/plans", nil)
	if err != nil {
		return nil, err
	}
	var out []coursegate.Plan
	if err := decodeInto(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Login exchanges credentials for a session and stores the returned token
// on the client.
func (c *Client) Login(ctx context.Context, email, password string) (coursegate.Session, error) {
	payload := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Email: email, Password: password}

	resp, err := c.do(ctx, http.MethodPost, "/v1/auth/login", payload)
	if err != nil {
		return coursegate.Session{}, err
	}
	var out coursegate.Session
	if err := decodeInto(resp, &out); err != nil {
		return coursegate.Session{}, err
	}
	c.cfg.Token = out.Token
	return out, nil
}

var (
	_ coursegate.CourseBrowser  = (*Client)(nil)
	_ coursegate.CatalogManager = (*Client)(nil)
	_ coursegate.Authenticator  = (*Client)(nil)
)
