package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/room-reservation/internal/application"
)

const (
	schemeBearer = "bearer"
	schemeAPIKey = "apikey"
)

// validMethods are the signing algorithms accepted on bearer tokens.
var validMethods = []string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS512.Alg()}

// tokenClaims is the wire shape of a bearer token. Older tokens carry a single
// role claim; newer ones a roles array. Both are honoured.
type tokenClaims struct {
	jwt.RegisteredClaims
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// ResolverConfig configures credential verification.
type ResolverConfig struct {
	Secret []byte
	// Issuers lists accepted iss values. Empty accepts any issuer.
	Issuers     []string
	ServiceKeys *ServiceKeyring
	Now         func() time.Time
}

// Resolver validates credentials. It is safe for concurrent use.
type Resolver struct {
	secret  []byte
	issuers []string
	keys    *ServiceKeyring
	now     func() time.Time
}

// NewResolver builds a resolver. A secret is required.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: token secret is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	issuers := make([]string, 0, len(cfg.Issuers))
	for _, iss := range cfg.Issuers {
		if iss = strings.TrimSpace(iss); iss != "" {
			issuers = append(issuers, iss)
		}
	}
	return &Resolver{
		secret:  slices.Clone(cfg.Secret),
		issuers: issuers,
		keys:    cfg.ServiceKeys,
		now:     cfg.Now,
	}, nil
}

// Resolve implements application.CredentialResolver. Every failure wraps
// application.ErrUnauthenticated.
func (r *Resolver) Resolve(ctx context.Context, credential string) (application.Principal, error) {
	if r == nil {
		return application.Principal{}, fmt.Errorf("Resolver is nil")
	}
	if err := ctx.Err(); err != nil {
		return application.Principal{}, err
	}

	scheme, value, ok := strings.Cut(strings.TrimSpace(credential), " ")
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return application.Principal{}, unauthenticated("credential is missing or malformed")
	}

	switch strings.ToLower(scheme) {
	case schemeBearer:
		return r.resolveToken(value)
	case schemeAPIKey:
		return r.resolveServiceKey(value)
	default:
		return application.Principal{}, unauthenticated("unsupported credential scheme")
	}
}

func (r *Resolver) resolveToken(raw string) (application.Principal, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return r.secret, nil
	},
		jwt.WithValidMethods(validMethods),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return application.Principal{}, mapJWTError(err)
	}

	if claims.ExpiresAt == nil {
		return application.Principal{}, unauthenticated("token exp is required")
	}
	now := r.now().UTC()
	if !claims.ExpiresAt.Time.After(now) {
		return application.Principal{}, unauthenticated("token is expired")
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return application.Principal{}, unauthenticated("token not active yet")
	}
	if len(r.issuers) > 0 && !slices.Contains(r.issuers, claims.Issuer) {
		return application.Principal{}, unauthenticated("token issuer mismatch")
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return application.Principal{}, unauthenticated("token sub is required")
	}

	return application.Principal{UserID: subject, Roles: claimRoles(claims)}, nil
}

func (r *Resolver) resolveServiceKey(raw string) (application.Principal, error) {
	name, secret, ok := strings.Cut(raw, ".")
	if !ok || name == "" || secret == "" {
		return application.Principal{}, unauthenticated("service key is malformed")
	}
	if err := r.keys.Verify(name, secret); err != nil {
		return application.Principal{}, unauthenticated("service key rejected")
	}
	return application.Principal{
		UserID: "service:" + name,
		Roles:  []string{application.RoleService},
	}, nil
}

// claimRoles merges the single and multi valued role claims, dropping blanks
// and duplicates.
func claimRoles(claims tokenClaims) []string {
	roles := make([]string, 0, len(claims.Roles)+1)
	for _, role := range append([]string{claims.Role}, claims.Roles...) {
		role = strings.TrimSpace(role)
		if role == "" || slices.Contains(roles, role) {
			continue
		}
		roles = append(roles, role)
	}
	return roles
}

// mapJWTError translates jwt library errors to ErrUnauthenticated with a reason.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return unauthenticated("token is malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return unauthenticated("token signature is invalid")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return unauthenticated("token alg is invalid")
	default:
		return unauthenticated(err.Error())
	}
}

func unauthenticated(reason string) error {
	return fmt.Errorf("%w: %s", application.ErrUnauthenticated, reason)
}
