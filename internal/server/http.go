package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"coursegate/internal/middleware"
	"coursegate/internal/repository"
	"coursegate/internal/service"
	"coursegate/internal/viewer"
)

const defaultMaxJSONBodyBytes = 1 << 20

var errJSONBodyTooLarge = errors.New("json request body too large")

// ViewerResolver resolves viewer contexts, verifies bearer tokens, and
// issues new ones at login. *viewer.Resolver satisfies it.
type ViewerResolver interface {
	FromRequest(r *http.Request) viewer.Context
	VerifyToken(token string) (viewer.Claims, error)
	IssueToken(p viewer.Principal, now time.Time) (string, error)
}

type HTTPServer struct {
	service       Service
	viewers       ViewerResolver
	roles         viewer.RoleSet
	authOpts      []middleware.AuthOption
	maxBodyBytes  int64
	metricsPage   http.Handler
	requestsTotal atomic.Uint64
}

// HandlerOption configures the HTTP handler.
type HandlerOption func(*HTTPServer)

// WithPrivilegedRoles overrides the account types allowed on preview and
// catalog mutation routes.
func WithPrivilegedRoles(roles viewer.RoleSet) HandlerOption {
	return func(s *HTTPServer) {
		if roles != nil {
			s.roles = roles
		}
	}
}

// WithAuthOptions forwards options (failure metrics, rate limiting) to the
// privileged-route guard.
func WithAuthOptions(opts ...middleware.AuthOption) HandlerOption {
	return func(s *HTTPServer) { s.authOpts = opts }
}

// WithMaxBodyBytes overrides the JSON request body size limit.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(s *HTTPServer) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithMetricsHandler serves the given handler on /metrics instead of the
// built-in request counter page.
func WithMetricsHandler(h http.Handler) HandlerOption {
	return func(s *HTTPServer) { s.metricsPage = h }
}

type loginJSONRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginJSONResponse struct {
	Token string        `json:"token"`
	User  loginJSONUser `json:"user"`
}

type loginJSONUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	AccountType string `json:"accountType"`
	Plan        string `json:"plan"`
}

type updateRulesJSONRequest struct {
	Rules json.RawMessage `json:"rules"`
}

func NewHTTPHandler(svc Service, viewers ViewerResolver, opts ...HandlerOption) http.Handler {
	if svc == nil {
		panic("service is nil")
	}
	if viewers == nil {
		panic("viewer resolver is nil")
	}

	server := &HTTPServer{
		service:      svc,
		viewers:      viewers,
		roles:        viewer.DefaultPrivilegedRoles(),
		maxBodyBytes: defaultMaxJSONBodyBytes,
	}
	for _, opt := range opts {
		opt(server)
	}

	privileged := middleware.RequirePrivileged(viewers, server.roles, server.authOpts...)
	guard := func(h http.HandlerFunc) http.Handler { return privileged(h) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/courses", server.handleListCourses)
	mux.HandleFunc("GET /v1/courses/{id}", server.handleGetCourse)
	mux.Handle("GET /v1/courses/{id}/preview", guard(server.handlePreviewCourse))
	mux.HandleFunc("POST /v1/courses/{id}/quote", server.handleQuoteCourse)
	mux.Handle("POST /v1/courses", guard(server.handleCreateCourse))
	mux.Handle("PUT /v1/courses/{id}", guard(server.handleUpdateCourse))
	mux.Handle("DELETE /v1/courses/{id}", guard(server.handleDeleteCourse))
	mux.Handle("PUT /v1/lectures/{id}/rules", guard(server.handleUpdateLectureRules))
	mux.HandleFunc("GET /v1/plans", server.handleListPlans)
	mux.HandleFunc("POST /v1/auth/login", server.handleLogin)
	mux.HandleFunc("GET /healthz", server.handleHealthz)
	mux.HandleFunc("GET /metrics", server.handleMetrics)

	return server.withRequestCount(middleware.Authenticate(viewers)(mux))
}

func (s *HTTPServer) withRequestCount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestsTotal.Add(1)
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleListCourses(w http.ResponseWriter, r *http.Request) {
	vc := s.viewers.FromRequest(r)
	courses, err := s.service.ListCourses(r.Context(), vc)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, courses)
}

func (s *HTTPServer) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "course id is required")
		return
	}

	vc := s.viewers.FromRequest(r)
	view, err := s.service.ViewCourse(r.Context(), id, vc)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handlePreviewCourse(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "course id is required")
		return
	}

	vc := s.viewers.FromRequest(r)
	view, err := s.service.PreviewCourse(r.Context(), id, vc)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleQuoteCourse(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "course id is required")
		return
	}

	vc := s.viewers.FromRequest(r)
	quote, err := s.service.QuoteCourse(r.Context(), id, vc)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

func (s *HTTPServer) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var course repository.Course
	if err := s.decodeJSONBody(w, r, &course); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if strings.TrimSpace(course.Name) == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	created, err := s.service.CreateCourse(r.Context(), course)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleUpdateCourse(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "course id is required")
		return
	}

	var course repository.Course
	if err := s.decodeJSONBody(w, r, &course); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if strings.TrimSpace(course.ID) != "" && course.ID != id {
		writeJSONError(w, http.StatusBadRequest, "path id and body id must match")
		return
	}
	course.ID = id

	updated, err := s.service.UpdateCourse(r.Context(), course)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "course id is required")
		return
	}

	if err := s.service.DeleteCourse(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleUpdateLectureRules(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "lecture id is required")
		return
	}

	var request updateRulesJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}
	if len(request.Rules) == 0 {
		writeJSONError(w, http.StatusBadRequest, "rules is required")
		return
	}

	if err := s.service.UpdateLectureRules(r.Context(), id, request.Rules); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.service.ListPlans(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, plans)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var request loginJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if strings.TrimSpace(request.Email) == "" || request.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	principal, err := s.service.Login(r.Context(), request.Email, request.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	token, err := s.viewers.IssueToken(principal, time.Now())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, loginJSONResponse{
		Token: token,
		User: loginJSONUser{
			ID:          principal.UserID,
			Email:       principal.Email,
			AccountType: principal.AccountType,
			Plan:        string(principal.Plan),
		},
	})
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metricsPage != nil {
		s.metricsPage.ServeHTTP(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = fmt.Fprintf(w, "# HELP coursegate_http_requests_total Total number of HTTP requests.\n")
	_, _ = fmt.Fprintf(w, "# TYPE coursegate_http_requests_total counter\n")
	_, _ = fmt.Fprintf(w, "coursegate_http_requests_total %d\n", s.requestsTotal.Load())
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRules):
		writeJSONError(w, http.StatusBadRequest, serviceErrorMessage(err))
	case errors.Is(err, service.ErrCourseNotFound), errors.Is(err, service.ErrLectureNotFound):
		writeJSONError(w, http.StatusNotFound, serviceErrorMessage(err))
	case errors.Is(err, service.ErrNotAccessible):
		writeJSONError(w, http.StatusForbidden, serviceErrorMessage(err))
	case errors.Is(err, service.ErrInvalidCredentials):
		writeJSONError(w, http.StatusUnauthorized, serviceErrorMessage(err))
	case errors.Is(err, context.Canceled):
		writeJSONError(w, http.StatusRequestTimeout, serviceErrorMessage(err))
	default:
		writeJSONError(w, http.StatusInternalServerError, serviceErrorMessage(err))
	}
}

func serviceErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidRules):
		return "invalid rules"
	case errors.Is(err, service.ErrCourseNotFound):
		return "course not found"
	case errors.Is(err, service.ErrLectureNotFound):
		return "lecture not found"
	case errors.Is(err, service.ErrNotAccessible):
		return "course not accessible"
	case errors.Is(err, service.ErrInvalidCredentials):
		return "invalid credentials"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	default:
		return "internal server error"
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
