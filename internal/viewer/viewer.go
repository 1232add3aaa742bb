// Package viewer derives the entitlement-relevant identity of the current
// request: an account type and a subscription plan. Resolution is
// best-effort and never fails; anonymous or unverifiable requests evaluate
// as the most restrictive viewer so public browsing still produces a sane
// result.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"coursegate/internal/entitlement"
)

const defaultTokenTTL = 24 * time.Hour

var errEmptySecret = errors.New("token secret is empty")

// Context is the viewer identity the entitlement engine consumes. It is
// derived per request and never persisted.
type Context struct {
	AccountType string           `json:"accountType"`
	Plan        entitlement.Plan `json:"plan"`
}

// DefaultContext is the conservative fallback: an anonymous default-plan
// student.
func DefaultContext() Context {
	return Context{
		AccountType: string(entitlement.AudienceStudent),
		Plan:        entitlement.PlanDefault,
	}
}

// Principal is a fully authenticated user, attached to the request context
// by the authentication middleware after token verification.
type Principal struct {
	UserID      string
	Email       string
	AccountType string
	Plan        entitlement.Plan
}

type contextKey string

const principalKey contextKey = "principal"

// NewContextWithPrincipal returns a context carrying the authenticated
// principal.
func NewContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext retrieves the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// Claims is the JWT claim set issued at login and consumed during viewer
// resolution.
type Claims struct {
	Email            string `json:"email,omitempty"`
	AccountType      string `json:"accountType,omitempty"`
	SubscriptionPlan string `json:"subscriptionPlan,omitempty"`
	jwt.RegisteredClaims
}

// Resolver verifies and issues bearer credentials using an explicitly
// injected secret. No ambient environment state is read at call time.
type Resolver struct {
	secret   []byte
	tokenTTL time.Duration
}

// ResolverOption configures optional resolver parameters.
type ResolverOption func(*Resolver)

// WithTokenTTL overrides the lifetime of issued tokens.
func WithTokenTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.tokenTTL = ttl
		}
	}
}

// NewResolver creates a Resolver that verifies HS256 tokens signed with
// secret.
func NewResolver(secret []byte, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		secret:   secret,
		tokenTTL: defaultTokenTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FromRequest resolves the viewer context for an HTTP request.
//
// A principal attached by the authentication middleware wins. Otherwise the
// Authorization header is decoded best-effort: a valid bearer token yields
// the claims' account type and plan, and anything else (missing header,
// malformed token, bad signature, expiry) degrades silently to
// DefaultContext.
func (r *Resolver) FromRequest(req *http.Request) Context {
	if req == nil {
		return DefaultContext()
	}

	if p, ok := PrincipalFromContext(req.Context()); ok {
		return contextForClaims(p.AccountType, string(p.Plan))
	}

	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		return DefaultContext()
	}
	claims, err := r.VerifyToken(token)
	if err != nil {
		return DefaultContext()
	}
	return contextForClaims(claims.AccountType, claims.SubscriptionPlan)
}

// VerifyToken parses and verifies a bearer token, returning its claims.
func (r *Resolver) VerifyToken(token string) (Claims, error) {
	if len(r.secret) == 0 {
		return Claims{}, errEmptySecret
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return r.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	return claims, nil
}

// IssueToken signs a token for the given principal.
func (r *Resolver) IssueToken(p Principal, now time.Time) (string, error) {
	if len(r.secret) == 0 {
		return "", errEmptySecret
	}

	claims := Claims{
		Email:            p.Email,
		AccountType:      p.AccountType,
		SubscriptionPlan: string(p.Plan),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.tokenTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func contextForClaims(accountType, plan string) Context {
	ctx := DefaultContext()
	if strings.TrimSpace(accountType) != "" {
		ctx.AccountType = accountType
	}
	if strings.TrimSpace(plan) != "" {
		ctx.Plan = entitlement.Plan(plan)
	}
	return ctx
}

func bearerToken(header string) (string, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errors.New("invalid authorization header")
	}
	return parts[1], nil
}
