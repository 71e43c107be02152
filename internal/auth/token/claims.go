// Package token issues and verifies the signed tokens that establish
// caller identity at the trust boundary.
package token

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/GandRedZ/RedZ/internal/auth"
)

// Claims is the claim set carried by issued tokens. Refresh tokens
// carry only the registered claims and the kind marker; authorization
// claims are minted fresh when the refresh token is exchanged.
type Claims struct {
	// Email is the caller's email address.
	Email string `json:"email,omitempty"`

	// Role is the caller's role name.
	Role string `json:"role,omitempty"`

	// Department is the caller's organizational unit.
	Department string `json:"department,omitempty"`

	// Permissions holds custom permission grants beyond the role baseline.
	Permissions []string `json:"permissions,omitempty"`

	// Kind marks the token as access or refresh.
	Kind string `json:"kind"`

	jwt.RegisteredClaims
}

// Principal converts the claims to the principal they authenticate.
func (c *Claims) Principal() *auth.Principal {
	return &auth.Principal{
		Subject:     c.Subject,
		Email:       c.Email,
		Role:        c.Role,
		Department:  c.Department,
		Permissions: c.Permissions,
		Kind:        auth.TokenKind(c.Kind),
		TokenID:     c.ID,
	}
}
