package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

const (
	memMaxMessagesPerRoom = 10_000
)

// InMemoryStore is a dev-only fallback when DB is not configured.
// It supports:
//   - AppendMessage: idempotent + seq allocation
//   - FetchHistory: paging by after_seq (for CI/smoke determinism)
type InMemoryStore struct {
	mu    sync.Mutex
	rooms map[string]*memRoom
}

type memRoom struct {
	seq    int64
	dedupe map[string]StoredMessage // client_msg_id -> stored message
	msgs   []StoredMessage          // ordered by seq
}

// NewInMemoryStore constructs an in-memory MessageStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rooms: make(map[string]*memRoom),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// AppendMessage persists a message with idempotency and monotonic sequence allocation.
func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	if in.RoomID == "" || in.ClientMsgID == "" || in.Sender == "" {
		return AppendMessageResult{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[in.RoomID]
	if r == nil {
		r = &memRoom{
			dedupe: make(map[string]StoredMessage),
			msgs:   make([]StoredMessage, 0, 256),
		}
		s.rooms[in.RoomID] = r
	}

	if existing, ok := r.dedupe[in.ClientMsgID]; ok {
		return AppendMessageResult{Stored: existing, Duplicated: true}, nil
	}

	r.seq++
	msg := StoredMessage{
		RoomID:      in.RoomID,
		ClientMsgID: in.ClientMsgID,
		ServerMsgID: mintServerMsgID(now),
		Seq:         r.seq,
		Sender:      in.Sender,
		Text:        in.Text,
		ServerTS:    now,
	}
	r.dedupe[in.ClientMsgID] = msg
	r.msgs = append(r.msgs, msg)

	// Bound memory to avoid unbounded growth in dev.
	if len(r.msgs) > memMaxMessagesPerRoom {
		r.msgs = r.msgs[len(r.msgs)-memMaxMessagesPerRoom:]
	}

	return AppendMessageResult{Stored: msg, Duplicated: false}, nil
}

// FetchHistory returns messages ordered by seq ASC with paging via after_seq.
func (s *InMemoryStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
	if in.RoomID == "" {
		return FetchHistoryResult{}, errors.New("missing room_id")
	}
	if err := ctx.Err(); err != nil {
		return FetchHistoryResult{}, err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	fetch := limit + 1

	s.mu.Lock()
	r := s.rooms[in.RoomID]
	var snap []StoredMessage
	if r != nil {
		snap = append([]StoredMessage(nil), r.msgs...)
	}
	s.mu.Unlock()

	if len(snap) == 0 {
		return FetchHistoryResult{Messages: nil, HasMore: false}, nil
	}

	// Ensure ordering defensively.
	sort.Slice(snap, func(i, j int) bool { return snap[i].Seq < snap[j].Seq })

	start := 0
	if in.AfterSeq != nil {
		after := *in.AfterSeq
		start = sort.Search(len(snap), func(i int) bool { return snap[i].Seq > after })
		if start >= len(snap) {
			return FetchHistoryResult{Messages: nil, HasMore: false}, nil
		}
	}

	end := start + fetch
	if end > len(snap) {
		end = len(snap)
	}
	out := snap[start:end]

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}

	return FetchHistoryResult{Messages: out, HasMore: hasMore}, nil
}
