package auth

import "context"

// Principal is the identity slice the token layer cares about. The full
// account record lives elsewhere; tokens only carry id and roles.
type Principal struct {
	ID          string
	DisplayName string
	Roles       []string
}

// Identity resolves principals for the token service. OAuth code exchange
// is a black box behind ResolveAuthorizationCode; the provider round-trip
// happens on the other side of this interface.
type Identity interface {
	// Lookup returns the current principal for an id. Called on every
	// refresh so role changes take effect without waiting for re-login.
	Lookup(ctx context.Context, principalID string) (Principal, error)

	// ResolveAuthorizationCode exchanges a third-party authorization code
	// for a principal, provisioning the account on first sight.
	ResolveAuthorizationCode(ctx context.Context, code string) (Principal, error)
}
