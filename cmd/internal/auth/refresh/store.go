package refresh

import (
	"context"
	"errors"
	"time"
)

// ErrNoRecord is returned by Store.Find when a principal has no refresh
// record at all (never issued, or removed).
var ErrNoRecord = errors.New("no refresh record")

// Record is the server-side state for a principal's current refresh token.
// TokenHash is the hex digest of the signed token (see cmd/security/token);
// the plain token is never persisted.
type Record struct {
	PrincipalID string
	TokenHash   string
	ExpiresAt   time.Time
	Revoked     bool
}

// Store is the persistence boundary for refresh records.
//
// Save must atomically replace any prior record for the same principal:
// there is never a window in which two records for one principal are
// visible. Find returns the latest record even when it is revoked, so the
// caller can distinguish reuse of a superseded token from a principal that
// was never issued one.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Find(ctx context.Context, principalID string) (Record, error)
	Revoke(ctx context.Context, principalID string) error
}
