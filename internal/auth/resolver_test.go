package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/room-reservation/internal/application"
)

var testSecret = []byte("test-secret-with-enough-entropy")

func testClock() time.Time {
	return time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
}

func signToken(t *testing.T, method jwt.SigningMethod, secret []byte, claims tokenClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func claimsFor(sub string, exp time.Time) tokenClaims {
	return tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
}

func newTestResolver(t *testing.T, cfg ResolverConfig) *Resolver {
	t.Helper()
	if cfg.Secret == nil {
		cfg.Secret = testSecret
	}
	if cfg.Now == nil {
		cfg.Now = testClock
	}
	r, err := NewResolver(cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return r
}

func TestNewResolver_RequiresSecret(t *testing.T) {
	if _, err := NewResolver(ResolverConfig{}); err == nil {
		t.Fatalf("expected error for missing secret")
	}
}

func TestResolver_Resolve(t *testing.T) {
	resolver := newTestResolver(t, ResolverConfig{})
	valid := claimsFor("alice", testClock().Add(time.Hour))

	t.Run("single role claim", func(t *testing.T) {
		claims := valid
		claims.Role = "ADMIN"
		token := signToken(t, jwt.SigningMethodHS512, testSecret, claims)

		p, err := resolver.Resolve(context.Background(), "Bearer "+token)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if p.UserID != "alice" || !p.IsAdmin() {
			t.Fatalf("unexpected principal %+v", p)
		}
	})

	t.Run("roles array merged with role", func(t *testing.T) {
		claims := valid
		claims.Role = "STAFF"
		claims.Roles = []string{"FACULTY", "STAFF", " "}
		token := signToken(t, jwt.SigningMethodHS256, testSecret, claims)

		p, err := resolver.Resolve(context.Background(), "bearer "+token)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(p.Roles) != 2 || p.Roles[0] != "STAFF" || p.Roles[1] != "FACULTY" {
			t.Fatalf("expected [STAFF FACULTY], got %v", p.Roles)
		}
	})

	failures := []struct {
		name       string
		credential func(t *testing.T) string
	}{
		{name: "absent", credential: func(t *testing.T) string { return "" }},
		{name: "scheme only", credential: func(t *testing.T) string { return "Bearer" }},
		{name: "wrong scheme", credential: func(t *testing.T) string {
			return "Basic " + signToken(t, jwt.SigningMethodHS256, testSecret, valid)
		}},
		{name: "not a jwt", credential: func(t *testing.T) string { return "Bearer not.a.jwt" }},
		{name: "expired", credential: func(t *testing.T) string {
			return "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, claimsFor("alice", testClock().Add(-time.Second)))
		}},
		{name: "missing exp", credential: func(t *testing.T) string {
			return "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, tokenClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"}})
		}},
		{name: "missing sub", credential: func(t *testing.T) string {
			return "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, claimsFor(" ", testClock().Add(time.Hour)))
		}},
		{name: "forged signature", credential: func(t *testing.T) string {
			return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other-secret"), valid)
		}},
		{name: "disallowed algorithm", credential: func(t *testing.T) string {
			return "Bearer " + signToken(t, jwt.SigningMethodHS384, testSecret, valid)
		}},
		{name: "unknown service key", credential: func(t *testing.T) string { return "ApiKey billing.secret" }},
	}

	for _, tc := range failures {
		t.Run(tc.name, func(t *testing.T) {
			_, err := resolver.Resolve(context.Background(), tc.credential(t))
			if !errors.Is(err, application.ErrUnauthenticated) {
				t.Fatalf("expected ErrUnauthenticated, got %v", err)
			}
		})
	}
}

func TestResolver_Issuer(t *testing.T) {
	resolver := newTestResolver(t, ResolverConfig{Issuers: []string{"idp.example.edu"}})

	claims := claimsFor("alice", testClock().Add(time.Hour))
	claims.Issuer = "idp.example.edu"
	if _, err := resolver.Resolve(context.Background(), "Bearer "+signToken(t, jwt.SigningMethodHS512, testSecret, claims)); err != nil {
		t.Fatalf("expected matching issuer to pass, got %v", err)
	}

	claims.Issuer = "elsewhere"
	if _, err := resolver.Resolve(context.Background(), "Bearer "+signToken(t, jwt.SigningMethodHS512, testSecret, claims)); !errors.Is(err, application.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for foreign issuer, got %v", err)
	}
}

func TestResolver_ServiceKey(t *testing.T) {
	hash, err := HashServiceKey("s3cret", fastParams)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ring, err := ParseServiceKeys([]string{FormatServiceKeyEntry("billing", hash)})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	resolver := newTestResolver(t, ResolverConfig{ServiceKeys: ring})

	p, err := resolver.Resolve(context.Background(), "ApiKey billing.s3cret")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p.UserID != "service:billing" || !p.HasRole(application.RoleService) {
		t.Fatalf("unexpected principal %+v", p)
	}

	if _, err := resolver.Resolve(context.Background(), "ApiKey billing.wrong"); !errors.Is(err, application.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestIssuer_MintRoundTrip(t *testing.T) {
	issuer, err := NewIssuer(testSecret, "idp.example.edu", testClock)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	resolver := newTestResolver(t, ResolverConfig{Issuers: []string{"idp.example.edu"}})

	token, err := issuer.Mint("bob", []string{"STUDENT"}, time.Hour)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	p, err := resolver.Resolve(context.Background(), "Bearer "+token)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p.UserID != "bob" || !p.HasRole("student") {
		t.Fatalf("unexpected principal %+v", p)
	}

	later := newTestResolver(t, ResolverConfig{Now: func() time.Time { return testClock().Add(2 * time.Hour) }})
	if _, err := later.Resolve(context.Background(), "Bearer "+token); !errors.Is(err, application.ErrUnauthenticated) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}

	if _, err := issuer.Mint("", nil, time.Hour); err == nil {
		t.Fatalf("expected error for empty subject")
	}
}

func TestResolver_CancelledContext(t *testing.T) {
	resolver := newTestResolver(t, ResolverConfig{})
	token := signToken(t, jwt.SigningMethodHS256, testSecret, claimsFor("alice", testClock().Add(time.Hour)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := resolver.Resolve(ctx, "Bearer "+token)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, application.ErrUnauthenticated) {
		t.Fatalf("expected cancellation not to be reported as unauthenticated, got %v", err)
	}
}
