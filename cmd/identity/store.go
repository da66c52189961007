package identity

import (
	"context"
	"time"
)

// Principal is Relay's canonical security principal.
// Once resolved for a request it is treated as immutable; role changes take
// effect on the next token issuance, not mid-request.
type Principal struct {
	ID           string
	Username     string
	UsernameNorm string
	DisplayName  string
	Roles        []string

	// PasswordHash is the encoded argon2id hash (cmd/security/password format).
	// Empty for principals created via external OAuth exchange.
	PasswordHash string

	CreatedAt time.Time
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CreatePrincipalInput describes a registration request.
type CreatePrincipalInput struct {
	Username     string
	DisplayName  string
	Roles        []string
	PasswordHash string
	Now          time.Time
}

// Store is the principal persistence boundary.
//
// GetByID is on the token-refresh hot path (roles are re-fetched on every
// rotation); implementations should keep it a single indexed lookup.
type Store interface {
	Create(ctx context.Context, in CreatePrincipalInput) (Principal, error)
	GetByID(ctx context.Context, id string) (Principal, error)
	GetByUsername(ctx context.Context, username string) (Principal, error)

	// SetRoles replaces the role set for a principal.
	SetRoles(ctx context.Context, id string, roles []string) error
}
