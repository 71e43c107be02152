// Package auth defines the authenticated principal attached to requests
// and the error taxonomy shared by the trust-boundary components.
package auth

import "context"

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	// KindAccess marks a short-lived token carrying authorization claims.
	KindAccess TokenKind = "access"
	// KindRefresh marks a long-lived token used only to mint new access tokens.
	KindRefresh TokenKind = "refresh"
)

// Principal represents the verified identity of a caller.
type Principal struct {
	// Subject is the stable unique identifier of the caller.
	Subject string

	// Email is the caller's email address, if present in the token.
	Email string

	// Role is the caller's role name as carried in the token.
	Role string

	// Department is the organizational unit the caller belongs to.
	Department string

	// Permissions holds custom permission grants beyond the role baseline.
	Permissions []string

	// Kind reports whether the backing token was an access or refresh token.
	Kind TokenKind

	// TokenID is the unique identifier of the backing token.
	TokenID string
}

// Authenticated reports whether the principal was established from a
// verified access token.
func (p *Principal) Authenticated() bool {
	return p != nil && p.Subject != "" && p.Kind == KindAccess
}

// principalContextKey is the context key for the principal.
type principalContextKey struct{}

// ContextWithPrincipal returns a new context carrying the principal.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from the context.
// Returns nil if no principal is present.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok {
		return nil
	}
	return p
}
