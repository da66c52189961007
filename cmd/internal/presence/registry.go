package presence

import (
	"sort"
	"sync"
	"time"
)

// Handle is the transport-owned half of a session. The presence layer only
// ever closes it: when a newer connection supersedes it, or when the
// sweeper reclaims it.
type Handle interface {
	Close()
}

// Member is a point-in-time view of one live session.
type Member struct {
	ParticipantID string
	LastActiveAt  time.Time
}

// Eviction records one session removed by Sweep.
type Eviction struct {
	RoomID        string
	ParticipantID string
	Handle        Handle
}

type session struct {
	handle       Handle
	lastActiveAt time.Time
}

type roomState struct {
	mu       sync.Mutex
	sessions map[string]*session

	// dead is set under mu when Sweep drops the room from the map; a Join
	// holding a stale pointer must re-fetch instead of writing into it.
	dead bool
}

// Registry maps room → participant → live session. The outer lock guards
// only the room map; each room carries its own mutex, so traffic in
// unrelated rooms never contends.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*roomState
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*roomState)}
}

func (r *Registry) room(roomID string, create bool) *roomState {
	r.mu.RLock()
	rs, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if ok || !create {
		return rs
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rs, ok := r.rooms[roomID]; ok {
		return rs
	}
	rs = &roomState{sessions: make(map[string]*session)}
	r.rooms[roomID] = rs
	return rs
}

// Join registers h as the session for (roomID, participantID). A prior
// session for the same key is superseded: Join returns its handle and
// replaced=true so the caller can close it. Last writer wins.
func (r *Registry) Join(roomID, participantID string, h Handle, now time.Time) (prev Handle, replaced bool) {
	for {
		rs := r.room(roomID, true)

		rs.mu.Lock()
		if rs.dead {
			rs.mu.Unlock()
			continue
		}
		if old, ok := rs.sessions[participantID]; ok {
			prev, replaced = old.handle, true
		}
		rs.sessions[participantID] = &session{handle: h, lastActiveAt: now}
		rs.mu.Unlock()
		return prev, replaced
	}
}

// Leave removes the session for (roomID, participantID). Absent keys are a
// no-op; removed reports whether anything actually went away. When only is
// non-nil the removal happens just if the live session still belongs to
// that handle, so a superseded connection's teardown cannot evict its
// replacement.
func (r *Registry) Leave(roomID, participantID string, only Handle) (h Handle, removed bool) {
	rs := r.room(roomID, false)
	if rs == nil {
		return nil, false
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	s, ok := rs.sessions[participantID]
	if !ok {
		return nil, false
	}
	if only != nil && s.handle != only {
		return nil, false
	}
	delete(rs.sessions, participantID)
	return s.handle, true
}

// Touch refreshes lastActiveAt for (roomID, participantID). Called on every
// inbound frame; a miss means the session is already gone.
func (r *Registry) Touch(roomID, participantID string, now time.Time) bool {
	rs := r.room(roomID, false)
	if rs == nil {
		return false
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	s, ok := rs.sessions[participantID]
	if !ok {
		return false
	}
	if now.After(s.lastActiveAt) {
		s.lastActiveAt = now
	}
	return true
}

// Sweep removes every session whose lastActiveAt is at least idleWindow in
// the past (now >= lastActiveAt + idleWindow) and returns the evictions.
// Rooms left empty are dropped from the map.
func (r *Registry) Sweep(now time.Time, idleWindow time.Duration) []Eviction {
	r.mu.RLock()
	roomIDs := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		roomIDs = append(roomIDs, id)
	}
	r.mu.RUnlock()

	var evicted []Eviction
	var emptied []string

	for _, roomID := range roomIDs {
		rs := r.room(roomID, false)
		if rs == nil {
			continue
		}

		rs.mu.Lock()
		for pid, s := range rs.sessions {
			if !now.Before(s.lastActiveAt.Add(idleWindow)) {
				delete(rs.sessions, pid)
				evicted = append(evicted, Eviction{RoomID: roomID, ParticipantID: pid, Handle: s.handle})
			}
		}
		empty := len(rs.sessions) == 0
		rs.mu.Unlock()

		if empty {
			emptied = append(emptied, roomID)
		}
	}

	if len(emptied) > 0 {
		r.mu.Lock()
		for _, roomID := range emptied {
			rs, ok := r.rooms[roomID]
			if !ok {
				continue
			}
			// Re-check under the room lock; a join may have landed since.
			rs.mu.Lock()
			if len(rs.sessions) == 0 {
				rs.dead = true
				delete(r.rooms, roomID)
			}
			rs.mu.Unlock()
		}
		r.mu.Unlock()
	}

	return evicted
}

// ListLive returns a snapshot of the room's sessions, sorted by participant.
func (r *Registry) ListLive(roomID string) []Member {
	rs := r.room(roomID, false)
	if rs == nil {
		return nil
	}

	rs.mu.Lock()
	members := make([]Member, 0, len(rs.sessions))
	for pid, s := range rs.sessions {
		members = append(members, Member{ParticipantID: pid, LastActiveAt: s.lastActiveAt})
	}
	rs.mu.Unlock()

	sort.Slice(members, func(i, j int) bool { return members[i].ParticipantID < members[j].ParticipantID })
	return members
}
