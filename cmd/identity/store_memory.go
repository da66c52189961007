package identity

import (
	"context"
	"sync"
	"time"

	"relay/cmd/identity/ids"
)

// MemoryStore is an in-memory Store for dev and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]Principal
	byNorm map[string]string // username_norm -> id
}

// NewMemoryStore constructs an empty in-memory principal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]Principal),
		byNorm: make(map[string]string),
	}
}

// Create inserts a new principal. Username uniqueness is case-insensitive.
func (s *MemoryStore) Create(ctx context.Context, in CreatePrincipalInput) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	norm := NormalizeUsername(in.Username)
	if norm == "" {
		return Principal{}, OpError{Op: "identity.Create", Kind: ErrInvalidInput, Msg: "empty username"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Principal{}, err
	}

	display := in.DisplayName
	if display == "" {
		display = in.Username
	}

	p := Principal{
		ID:           id,
		Username:     in.Username,
		UsernameNorm: norm,
		DisplayName:  display,
		Roles:        append([]string(nil), in.Roles...),
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byNorm[norm]; exists {
		return Principal{}, ConflictError{Op: "identity.Create", Field: "username"}
	}
	s.byID[id] = p
	s.byNorm[norm] = id
	return clonePrincipal(p), nil
}

// GetByID loads a principal by id.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return Principal{}, OpError{Op: "identity.GetByID", Kind: ErrNotFound}
	}
	return clonePrincipal(p), nil
}

// GetByUsername loads a principal by (normalized) username.
func (s *MemoryStore) GetByUsername(ctx context.Context, username string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byNorm[NormalizeUsername(username)]
	if !ok {
		return Principal{}, OpError{Op: "identity.GetByUsername", Kind: ErrNotFound}
	}
	return clonePrincipal(s.byID[id]), nil
}

// SetRoles replaces the role set for a principal.
func (s *MemoryStore) SetRoles(ctx context.Context, id string, roles []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return OpError{Op: "identity.SetRoles", Kind: ErrNotFound}
	}
	p.Roles = append([]string(nil), roles...)
	s.byID[id] = p
	return nil
}

func clonePrincipal(p Principal) Principal {
	p.Roles = append([]string(nil), p.Roles...)
	return p
}
