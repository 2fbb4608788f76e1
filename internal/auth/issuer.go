package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer mints bearer tokens for development and operator tooling. Production
// tokens come from the identity provider.
type Issuer struct {
	secret []byte
	issuer string
	method jwt.SigningMethod
	now    func() time.Time
}

// NewIssuer returns an issuer signing with HS512, as the identity provider does.
func NewIssuer(secret []byte, issuer string, now func() time.Time) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: token secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		secret: slices.Clone(secret),
		issuer: strings.TrimSpace(issuer),
		method: jwt.SigningMethodHS512,
		now:    now,
	}, nil
}

// Mint signs a token for subject carrying roles that expires after ttl.
func (i *Issuer) Mint(subject string, roles []string, ttl time.Duration) (string, error) {
	if i == nil {
		return "", fmt.Errorf("Issuer is nil")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("auth: subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("auth: ttl must be positive")
	}

	now := i.now().UTC()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: slices.Clone(roles),
	}
	if len(roles) == 1 {
		claims.Role = roles[0]
		claims.Roles = nil
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
