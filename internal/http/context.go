package http

import (
	"context"

	"github.com/example/room-reservation/internal/application"
)

type contextKey string

const (
	principalContextKey  contextKey = "principal"
	credentialContextKey contextKey = "credential"
)

// ContextWithPrincipal returns a derived context containing the authenticated principal.
func ContextWithPrincipal(ctx context.Context, principal application.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// PrincipalFromContext extracts the authenticated principal from context if available.
func PrincipalFromContext(ctx context.Context) (application.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(application.Principal)
	return principal, ok
}

// ContextWithCredential stores the raw Authorization value so handlers can
// hand it to the booking coordinator, which resolves it again per call.
func ContextWithCredential(ctx context.Context, credential string) context.Context {
	return context.WithValue(ctx, credentialContextKey, credential)
}

// CredentialFromContext returns the credential stored by Authenticate.
func CredentialFromContext(ctx context.Context) string {
	credential, _ := ctx.Value(credentialContextKey).(string)
	return credential
}
