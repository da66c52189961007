package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"relay/cmd/internal/auth/token"
	sectoken "relay/cmd/security/token"
)

// Outcome classifies a refresh-token consumption attempt. Callers must
// handle every branch; only OutcomeOK continues the session.
type Outcome int

const (
	// OutcomeOK: the presented token is the current active record.
	OutcomeOK Outcome = iota
	// OutcomeReuseDetected: a superseded or revoked token was presented.
	// The active record has been revoked; the principal must log in again.
	OutcomeReuseDetected
	// OutcomeExpired: the current record matched but is past its expiry.
	OutcomeExpired
	// OutcomeNotFound: the principal has no record at all.
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeReuseDetected:
		return "reuse_detected"
	case OutcomeExpired:
		return "expired"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Manager issues, validates, and rotates refresh tokens on top of a Store.
//
// Every mutation for a principal runs under that principal's lock, so the
// store-level replace is single-writer-per-key even when the backing store
// has no transactional guarantees of its own.
type Manager struct {
	codec *token.Codec
	store Store
	ttl   time.Duration

	locks keyedMutex
}

// NewManager constructs a Manager. ttl is the refresh-token lifetime.
func NewManager(codec *token.Codec, store Store, ttl time.Duration) (*Manager, error) {
	if codec == nil {
		return nil, errors.New("refresh: nil codec")
	}
	if store == nil {
		return nil, errors.New("refresh: nil store")
	}
	if ttl <= 0 {
		return nil, errors.New("refresh: non-positive ttl")
	}
	return &Manager{codec: codec, store: store, ttl: ttl}, nil
}

// Issue mints a fresh refresh token for principalID and atomically replaces
// any prior record. The returned plain token is shown to the client exactly
// once and never persisted.
func (m *Manager) Issue(ctx context.Context, now time.Time, principalID string) (plain string, expiresAt time.Time, err error) {
	unlock := m.locks.lock(principalID)
	defer unlock()

	return m.issueLocked(ctx, now, principalID)
}

func (m *Manager) issueLocked(ctx context.Context, now time.Time, principalID string) (string, time.Time, error) {
	exp := now.Add(m.ttl)

	plain, err := m.codec.Sign(principalID, nil, now, exp)
	if err != nil {
		return "", time.Time{}, err
	}

	err = m.store.Save(ctx, Record{
		PrincipalID: principalID,
		TokenHash:   sectoken.HashRefreshTokenHex(plain),
		ExpiresAt:   exp,
		Revoked:     false,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return plain, exp, nil
}

// ValidateAndConsume checks presented against the principal's current record.
// On reuse (mismatch or revoked record) the active record is revoked before
// returning, locking the principal out until a fresh login.
func (m *Manager) ValidateAndConsume(ctx context.Context, now time.Time, principalID, presented string) (Outcome, error) {
	unlock := m.locks.lock(principalID)
	defer unlock()

	return m.consumeLocked(ctx, now, principalID, presented)
}

func (m *Manager) consumeLocked(ctx context.Context, now time.Time, principalID, presented string) (Outcome, error) {
	rec, err := m.store.Find(ctx, principalID)
	if errors.Is(err, ErrNoRecord) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeNotFound, err
	}

	hash := sectoken.HashRefreshTokenHex(presented)
	if rec.Revoked || !sectoken.Equal(hash, rec.TokenHash) {
		// Defensive lockout: a superseded token in flight means the real
		// token may be in someone else's hands.
		if err := m.store.Revoke(ctx, principalID); err != nil {
			return OutcomeReuseDetected, err
		}
		return OutcomeReuseDetected, nil
	}

	// Exclusive expiry, matching the codec.
	if !rec.ExpiresAt.After(now) {
		return OutcomeExpired, nil
	}
	return OutcomeOK, nil
}

// Rotate validates presented and, on success, replaces it with a fresh token
// in the same critical section. Of two concurrent rotations with the same
// token, exactly one returns OutcomeOK; the loser observes the replaced hash
// and reports reuse.
func (m *Manager) Rotate(ctx context.Context, now time.Time, principalID, presented string) (plain string, expiresAt time.Time, outcome Outcome, err error) {
	unlock := m.locks.lock(principalID)
	defer unlock()

	outcome, err = m.consumeLocked(ctx, now, principalID, presented)
	if err != nil || outcome != OutcomeOK {
		return "", time.Time{}, outcome, err
	}

	plain, expiresAt, err = m.issueLocked(ctx, now, principalID)
	if err != nil {
		return "", time.Time{}, OutcomeOK, err
	}
	return plain, expiresAt, OutcomeOK, nil
}

// Revoke marks the principal's active record revoked (logout path).
func (m *Manager) Revoke(ctx context.Context, principalID string) error {
	unlock := m.locks.lock(principalID)
	defer unlock()

	return m.store.Revoke(ctx, principalID)
}

// keyedMutex hands out one mutex per in-flight key. Entries are refcounted
// and removed when the last holder unlocks, so the map does not grow with
// the principal population.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
