// Package auth issues and validates the bearer tokens that protect the
// admin HTTP API.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Role is the closed set of admin API roles. There is no user store
// behind this API: operators mint tokens out of band (see
// cmd/galaxycache-node's "admin-token" command) against the shared
// AdminAPIConfig.JWT.Secret, choosing the role to embed.
type Role string

const (
	// RoleAdmin can read status/diagnostics and trigger eviction/demote.
	RoleAdmin Role = "admin"
	// RoleViewer can only read status and diagnostics.
	RoleViewer Role = "viewer"
)

// Claims are the JWT claims carried by an admin API token.
type Claims struct {
	jwt.RegisteredClaims

	// Role authorizes this token's holder (RoleAdmin or RoleViewer).
	Role Role `json:"role"`
}

// IsAdmin reports whether these claims carry the admin role.
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}
