package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// CountUpdate is the payload published on presence.count after every count
// mutation. AtMS is epoch milliseconds.
type CountUpdate struct {
	RoomID string `json:"room_id"`
	Count  int    `json:"count"`
	AtMS   int64  `json:"at_ms"`
}

// RosterUpdate is the payload published on room.<id>.participants.
type RosterUpdate struct {
	RoomID       string   `json:"room_id"`
	Participants []string `json:"participants"`
	AtMS         int64    `json:"at_ms"`
}

// Tracker composes the registry and the counter and keeps them consistent:
// the count is bumped only on joins that did not replace an existing
// session, and lowered only on removals that actually happened. After any
// join, leave, or sweep settles, Count(room) == len(ListLive(room)).
//
// Broadcasts go out after the mutation commits, never under a registry or
// counter lock. Publish failures are logged and do not affect the state.
type Tracker struct {
	log      *slog.Logger
	registry *Registry
	counter  *Counter
	pub      Publisher
}

// NewTracker constructs a Tracker over a fresh registry and counter.
func NewTracker(log *slog.Logger, pub Publisher) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Tracker{
		log:      log,
		registry: NewRegistry(),
		counter:  NewCounter(),
		pub:      pub,
	}
}

// InitRoom registers a room at count zero and announces it.
func (t *Tracker) InitRoom(ctx context.Context, now time.Time, roomID string) {
	t.counter.InitRoom(roomID)
	t.publishCount(ctx, now, roomID, t.counter.Count(roomID))
}

// RemoveRoom drops a room's count.
func (t *Tracker) RemoveRoom(roomID string) {
	t.counter.RemoveRoom(roomID)
}

// Join registers h as the live session for (roomID, participantID). A
// superseded session is closed here; the count moves only when the join
// added a participant rather than replacing one.
func (t *Tracker) Join(ctx context.Context, now time.Time, roomID, participantID string, h Handle) (replaced bool) {
	prev, replaced := t.registry.Join(roomID, participantID, h, now)
	if replaced {
		if prev != nil {
			prev.Close()
		}
		t.log.Info("presence.join.superseded", "room_id", roomID, "participant_id", participantID)
		return true
	}

	n := t.counter.Increment(roomID)
	t.log.Info("presence.join", "room_id", roomID, "participant_id", participantID, "count", n)
	t.publishCount(ctx, now, roomID, n)
	t.publishRoster(ctx, now, roomID)
	return false
}

// Leave removes the session for (roomID, participantID) and broadcasts the
// lowered count. Absent keys are a no-op. When only is non-nil the session
// is removed just if it still belongs to that handle. The handle is left
// open: an explicit leave keeps the connection usable, and the disconnect
// path owns closing its own handle. Only supersession and sweep eviction
// close here.
func (t *Tracker) Leave(ctx context.Context, now time.Time, roomID, participantID string, only Handle) (removed bool) {
	_, removed = t.registry.Leave(roomID, participantID, only)
	if !removed {
		return false
	}

	n := t.counter.Decrement(roomID)
	t.log.Info("presence.leave", "room_id", roomID, "participant_id", participantID, "count", n)
	t.publishCount(ctx, now, roomID, n)
	t.publishRoster(ctx, now, roomID)
	return true
}

// Touch refreshes the session's liveness timestamp. Called on every inbound
// frame.
func (t *Tracker) Touch(roomID, participantID string, now time.Time) bool {
	return t.registry.Touch(roomID, participantID, now)
}

// Sweep evicts sessions idle for at least idleWindow, closes their handles,
// lowers the affected counts, and broadcasts once per touched room. Returns
// the number of evictions.
func (t *Tracker) Sweep(ctx context.Context, now time.Time, idleWindow time.Duration) int {
	evicted := t.registry.Sweep(now, idleWindow)
	if len(evicted) == 0 {
		return 0
	}

	touched := make(map[string]int, len(evicted))
	for _, ev := range evicted {
		if ev.Handle != nil {
			ev.Handle.Close()
		}
		touched[ev.RoomID] = t.counter.Decrement(ev.RoomID)
		t.log.Info("presence.sweep.evict", "room_id", ev.RoomID, "participant_id", ev.ParticipantID)
	}

	for roomID, n := range touched {
		t.publishCount(ctx, now, roomID, n)
		t.publishRoster(ctx, now, roomID)
	}
	return len(evicted)
}

// ListLive returns the room's live sessions, sorted by participant.
func (t *Tracker) ListLive(roomID string) []Member {
	return t.registry.ListLive(roomID)
}

// Count returns the room's current participant count.
func (t *Tracker) Count(roomID string) int {
	return t.counter.Count(roomID)
}

// Counts returns every room's count, for metrics scrapes.
func (t *Tracker) Counts() map[string]int {
	return t.counter.Snapshot()
}

func (t *Tracker) publishCount(ctx context.Context, now time.Time, roomID string, count int) {
	payload, err := json.Marshal(CountUpdate{RoomID: roomID, Count: count, AtMS: now.UnixMilli()})
	if err != nil {
		t.log.Error("presence.publish.encode", "room_id", roomID, "err", err)
		return
	}
	if err := t.pub.Publish(ctx, TopicPresenceCount, payload); err != nil {
		t.log.Warn("presence.publish.count_failed", "room_id", roomID, "err", err)
	}
}

func (t *Tracker) publishRoster(ctx context.Context, now time.Time, roomID string) {
	members := t.registry.ListLive(roomID)
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ParticipantID)
	}

	payload, err := json.Marshal(RosterUpdate{RoomID: roomID, Participants: ids, AtMS: now.UnixMilli()})
	if err != nil {
		t.log.Error("presence.publish.encode", "room_id", roomID, "err", err)
		return
	}
	if err := t.pub.Publish(ctx, TopicRoomParticipants(roomID), payload); err != nil {
		t.log.Warn("presence.publish.roster_failed", "room_id", roomID, "err", err)
	}
}
