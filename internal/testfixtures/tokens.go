package testfixtures

import (
	"testing"
	"time"

	"github.com/example/room-reservation/internal/auth"
)

// TokenSecret signs every token minted by a TokenFactory.
var TokenSecret = []byte("testfixtures-token-secret")

// TokenFactory mints bearer credentials and resolves them against the same
// clock, so tests can expire tokens by advancing time.
type TokenFactory struct {
	Clock    *Clock
	Issuer   *auth.Issuer
	Resolver *auth.Resolver
}

// NewTokenFactory builds a factory driven by clock.
func NewTokenFactory(tb testing.TB, clock *Clock) *TokenFactory {
	tb.Helper()
	if clock == nil {
		clock = NewClock(time.Time{})
	}

	issuer, err := auth.NewIssuer(TokenSecret, "", clock.NowFunc())
	if err != nil {
		tb.Fatalf("failed to create issuer: %v", err)
	}
	resolver, err := auth.NewResolver(auth.ResolverConfig{Secret: TokenSecret, Now: clock.NowFunc()})
	if err != nil {
		tb.Fatalf("failed to create resolver: %v", err)
	}
	return &TokenFactory{Clock: clock, Issuer: issuer, Resolver: resolver}
}

// Bearer returns an "Authorization" value for subject valid for one hour.
func (f *TokenFactory) Bearer(tb testing.TB, subject string, roles ...string) string {
	tb.Helper()
	return f.BearerFor(tb, subject, time.Hour, roles...)
}

// BearerFor returns an "Authorization" value for subject valid for ttl.
func (f *TokenFactory) BearerFor(tb testing.TB, subject string, ttl time.Duration, roles ...string) string {
	tb.Helper()
	token, err := f.Issuer.Mint(subject, roles, ttl)
	if err != nil {
		tb.Fatalf("failed to mint token: %v", err)
	}
	return "Bearer " + token
}

// Expired returns a credential for subject that expired a minute before the
// clock's current time.
func (f *TokenFactory) Expired(tb testing.TB, subject string, roles ...string) string {
	tb.Helper()
	now := f.Clock.Now()
	f.Clock.Set(now.Add(-2 * time.Minute))
	credential := f.BearerFor(tb, subject, time.Minute, roles...)
	f.Clock.Set(now)
	return credential
}
