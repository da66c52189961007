package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MembershipStore defines the authorization boundary for room membership.
type MembershipStore interface {
	// IsMember returns true if participantID is an active member of roomID.
	IsMember(ctx context.Context, participantID, roomID string) (bool, error)
}

// PostgresMembershipStore checks membership via relay.room_members.
type PostgresMembershipStore struct {
	pool   *pgxpool.Pool
	schema string
}

// MembershipOption configures PostgresMembershipStore behavior.
type MembershipOption func(*PostgresMembershipStore) error

// WithMembershipSchema sets the DB schema used by the membership store (default: "relay").
func WithMembershipSchema(schema string) MembershipOption {
	return func(s *PostgresMembershipStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresMembershipStore constructs a membership store backed by PostgreSQL.
func NewPostgresMembershipStore(pool *pgxpool.Pool, opts ...MembershipOption) (*PostgresMembershipStore, error) {
	st := &PostgresMembershipStore{
		pool:   pool,
		schema: "relay",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// IsMember checks if participantID is a member of roomID.
func (s *PostgresMembershipStore) IsMember(ctx context.Context, participantID, roomID string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, errors.New("realtime: nil membership store")
	}
	participantID = strings.TrimSpace(participantID)
	roomID = strings.TrimSpace(roomID)
	if participantID == "" || roomID == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	members := pgIdent(s.schema, "room_members")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+members+` WHERE room_id = $1 AND participant_id = $2`,
		roomID, participantID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MemoryMembershipStore is an in-memory ACL for dev and tests.
type MemoryMembershipStore struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // room_id -> participant_id set
}

// NewMemoryMembershipStore constructs an empty in-memory ACL.
func NewMemoryMembershipStore() *MemoryMembershipStore {
	return &MemoryMembershipStore{members: make(map[string]map[string]struct{})}
}

// Grant adds participantID to roomID.
func (s *MemoryMembershipStore) Grant(roomID, participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[roomID]
	if !ok {
		set = make(map[string]struct{})
		s.members[roomID] = set
	}
	set[participantID] = struct{}{}
}

// Revoke removes participantID from roomID.
func (s *MemoryMembershipStore) Revoke(roomID, participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.members[roomID]; ok {
		delete(set, participantID)
	}
}

// IsMember checks the in-memory ACL.
func (s *MemoryMembershipStore) IsMember(_ context.Context, participantID, roomID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.members[roomID]
	if !ok {
		return false, nil
	}
	_, ok = set[participantID]
	return ok, nil
}
