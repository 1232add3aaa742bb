package middleware

import (
	"errors"
	"net/http"
	"strings"

	"coursegate/internal/entitlement"
	"coursegate/internal/viewer"
)

var errInvalidAuthorizationHeader = errors.New("invalid authorization header")

// TokenVerifier verifies a bearer token and returns its claims.
type TokenVerifier interface {
	VerifyToken(token string) (viewer.Claims, error)
}

// AuthOption configures optional auth middleware parameters.
type AuthOption func(*authConfig)

type authConfig struct {
	onFailure   func()
	rateLimiter *RateLimiter
}

// WithOnAuthFailure registers a callback invoked on every authentication
// failure (e.g. to increment a Prometheus counter).
func WithOnAuthFailure(fn func()) AuthOption {
	return func(c *authConfig) { c.onFailure = fn }
}

// WithRateLimiter attaches a per-IP rate limiter that throttles repeated
// authentication failures.
func WithRateLimiter(rl *RateLimiter) AuthOption {
	return func(c *authConfig) { c.rateLimiter = rl }
}

// Authenticate attaches the authenticated principal to the request context
// when a valid bearer token is present. It never rejects: anonymous and
// unverifiable requests pass through unauthenticated and evaluate as the
// default viewer downstream.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := principalFromHeader(r.Header.Get("Authorization"), verifier)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(viewer.NewContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// RequirePrivileged guards handlers that expose unfiltered course data or
// mutate the catalog. Requests without a valid token get 401; valid tokens
// whose account type is not in roles get 403. Repeated 401s from one IP
// are throttled when a rate limiter is attached.
func RequirePrivileged(verifier TokenVerifier, roles viewer.RoleSet, opts ...AuthOption) func(http.Handler) http.Handler {
	cfg := authConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := viewer.PrincipalFromContext(r.Context())
			if !ok {
				var err error
				principal, err = principalFromHeader(r.Header.Get("Authorization"), verifier)
				if err != nil {
					if cfg.onFailure != nil {
						cfg.onFailure()
					}
					if cfg.rateLimiter != nil {
						ip := ExtractIP(r.RemoteAddr)
						if !cfg.rateLimiter.RecordFailureAndAllow(ip) {
							http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
							return
						}
					}
					writeHTTPUnauthorized(w)
					return
				}
			}

			if !roles.CanBypassEntitlement(principal.AccountType) {
				if cfg.onFailure != nil {
					cfg.onFailure()
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(viewer.NewContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func principalFromHeader(authorizationHeader string, verifier TokenVerifier) (viewer.Principal, error) {
	if verifier == nil {
		return viewer.Principal{}, errors.New("token verifier is nil")
	}

	token, err := parseBearerToken(authorizationHeader)
	if err != nil {
		return viewer.Principal{}, err
	}
	claims, err := verifier.VerifyToken(token)
	if err != nil {
		return viewer.Principal{}, err
	}

	accountType := claims.AccountType
	if strings.TrimSpace(accountType) == "" {
		accountType = string(entitlement.AudienceStudent)
	}
	plan := entitlement.Plan(claims.SubscriptionPlan)
	if strings.TrimSpace(claims.SubscriptionPlan) == "" {
		plan = entitlement.PlanDefault
	}

	return viewer.Principal{
		UserID:      claims.Subject,
		Email:       claims.Email,
		AccountType: accountType,
		Plan:        plan,
	}, nil
}

func parseBearerToken(authorizationHeader string) (string, error) {
	parts := strings.Fields(authorizationHeader)
	if len(parts) != 2 {
		return "", errInvalidAuthorizationHeader
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", errInvalidAuthorizationHeader
	}
	if parts[1] == "" {
		return "", errInvalidAuthorizationHeader
	}

	return parts[1], nil
}

func writeHTTPUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
}
