package refresh

import (
	"context"
	"sync"
)

// MemoryStore keeps refresh records in process memory. Dev/test only: records
// do not survive a restart, which logs every principal out.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]Record
}

// NewMemoryStore constructs an empty in-memory refresh store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

// Save replaces the record for rec.PrincipalID.
func (s *MemoryStore) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.recs[rec.PrincipalID] = rec
	s.mu.Unlock()
	return nil
}

// Find returns the latest record for principalID, revoked or not.
func (s *MemoryStore) Find(ctx context.Context, principalID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.RLock()
	rec, ok := s.recs[principalID]
	s.mu.RUnlock()

	if !ok {
		return Record{}, ErrNoRecord
	}
	return rec, nil
}

// Revoke marks the current record revoked. No-op when absent.
func (s *MemoryStore) Revoke(ctx context.Context, principalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[principalID]
	if !ok {
		return nil
	}
	rec.Revoked = true
	s.recs[principalID] = rec
	return nil
}
