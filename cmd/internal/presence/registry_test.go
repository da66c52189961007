package presence

import (
	"sync"
	"testing"
	"time"
)

type fakeHandle struct {
	mu     sync.Mutex
	closed bool
}

func (h *fakeHandle) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func TestRegistry_JoinReplacesSameKey(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	first := &fakeHandle{}
	if prev, replaced := r.Join("room-a", "alice", first, now); replaced || prev != nil {
		t.Fatalf("first join: prev=%v replaced=%v", prev, replaced)
	}

	second := &fakeHandle{}
	prev, replaced := r.Join("room-a", "alice", second, now.Add(time.Second))
	if !replaced {
		t.Fatalf("second join should replace")
	}
	if prev != Handle(first) {
		t.Fatalf("superseded handle mismatch")
	}

	// Still exactly one session for the key.
	if got := r.ListLive("room-a"); len(got) != 1 || got[0].ParticipantID != "alice" {
		t.Fatalf("ListLive = %+v", got)
	}
}

func TestRegistry_LeaveAbsentIsNoop(t *testing.T) {
	r := NewRegistry()

	if _, removed := r.Leave("room-a", "ghost", nil); removed {
		t.Fatalf("leave of absent key reported a removal")
	}

	now := time.Now()
	h := &fakeHandle{}
	r.Join("room-a", "alice", h, now)

	got, removed := r.Leave("room-a", "alice", nil)
	if !removed || got != Handle(h) {
		t.Fatalf("leave: removed=%v handle=%v", removed, got)
	}
	if _, removed := r.Leave("room-a", "alice", nil); removed {
		t.Fatalf("double leave reported a removal")
	}
}

func TestRegistry_SweepEvictsIdleExclusive(t *testing.T) {
	r := NewRegistry()
	t0 := time.Now()
	window := 5 * time.Minute

	r.Join("room-a", "idle", &fakeHandle{}, t0)
	r.Join("room-a", "active", &fakeHandle{}, t0)
	r.Touch("room-a", "active", t0.Add(4*time.Minute))

	// One instant before the idle boundary: nobody goes.
	if got := r.Sweep(t0.Add(window-time.Millisecond), window); len(got) != 0 {
		t.Fatalf("early sweep evicted %+v", got)
	}

	// Exactly at the boundary the idle session is reclaimed.
	got := r.Sweep(t0.Add(window), window)
	if len(got) != 1 || got[0].ParticipantID != "idle" || got[0].RoomID != "room-a" {
		t.Fatalf("sweep = %+v", got)
	}

	live := r.ListLive("room-a")
	if len(live) != 1 || live[0].ParticipantID != "active" {
		t.Fatalf("ListLive = %+v", live)
	}
}

func TestRegistry_TouchKeepsSessionAlive(t *testing.T) {
	r := NewRegistry()
	t0 := time.Now()
	window := time.Minute

	r.Join("room-a", "alice", &fakeHandle{}, t0)

	for i := 1; i <= 5; i++ {
		at := t0.Add(time.Duration(i) * 30 * time.Second)
		if !r.Touch("room-a", "alice", at) {
			t.Fatalf("touch %d missed", i)
		}
		if got := r.Sweep(at, window); len(got) != 0 {
			t.Fatalf("sweep after touch %d evicted %+v", i, got)
		}
	}

	if r.Touch("room-a", "ghost", t0) {
		t.Fatalf("touch of absent key reported a hit")
	}
}

func TestRegistry_SweepDropsEmptyRoomsAndRejoinWorks(t *testing.T) {
	r := NewRegistry()
	t0 := time.Now()

	r.Join("room-a", "alice", &fakeHandle{}, t0)
	if got := r.Sweep(t0.Add(time.Hour), time.Minute); len(got) != 1 {
		t.Fatalf("sweep = %+v", got)
	}

	// The room map entry is gone; a rejoin must still land.
	if _, replaced := r.Join("room-a", "alice", &fakeHandle{}, t0.Add(2*time.Hour)); replaced {
		t.Fatalf("rejoin after sweep saw a stale session")
	}
	if got := r.ListLive("room-a"); len(got) != 1 {
		t.Fatalf("ListLive = %+v", got)
	}
}

func TestRegistry_ConcurrentJoinsSameKeySingleSession(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	const n = 32
	handles := make([]*fakeHandle, n)
	replaced := make([]Handle, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		handles[i] = &fakeHandle{}
		go func(i int) {
			defer wg.Done()
			prev, _ := r.Join("room-a", "alice", handles[i], now)
			replaced[i] = prev
		}(i)
	}
	wg.Wait()

	if got := r.ListLive("room-a"); len(got) != 1 {
		t.Fatalf("ListLive = %+v, want a single session", got)
	}

	// Every handle except the final winner was handed back exactly once as
	// a superseded session.
	superseded := make(map[Handle]int)
	for _, prev := range replaced {
		if prev != nil {
			superseded[prev]++
		}
	}
	if len(superseded) != n-1 {
		t.Fatalf("superseded %d distinct handles, want %d", len(superseded), n-1)
	}
	for h, c := range superseded {
		if c != 1 {
			t.Fatalf("handle %v superseded %d times", h, c)
		}
	}
}

func TestRegistry_UnrelatedRoomsDoNotInterfere(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	var wg sync.WaitGroup
	rooms := []string{"r1", "r2", "r3", "r4"}
	for _, room := range rooms {
		wg.Add(1)
		go func(room string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Join(room, "p", &fakeHandle{}, now)
				r.Touch(room, "p", now.Add(time.Second))
				r.Leave(room, "p", nil)
			}
			r.Join(room, "p", &fakeHandle{}, now)
		}(room)
	}
	wg.Wait()

	for _, room := range rooms {
		if got := r.ListLive(room); len(got) != 1 {
			t.Fatalf("room %s: ListLive = %+v", room, got)
		}
	}
}
