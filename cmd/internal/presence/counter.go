package presence

import "sync"

// Counter keeps the authoritative per-room participant count. Counts never
// go negative: a decrement against zero stays at zero.
type Counter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewCounter constructs an empty Counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int)}
}

// InitRoom registers a room at count zero. Re-initializing an existing room
// leaves its count untouched.
func (c *Counter) InitRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.counts[roomID]; !ok {
		c.counts[roomID] = 0
	}
}

// RemoveRoom drops a room and its count.
func (c *Counter) RemoveRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, roomID)
}

// Increment bumps the room's count and returns the new value.
func (c *Counter) Increment(roomID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[roomID]++
	return c.counts[roomID]
}

// Decrement lowers the room's count, flooring at zero, and returns the new
// value. A decrement against an unknown room is a no-op: a late leave or
// sweep arriving after RemoveRoom must not resurrect the entry.
func (c *Counter) Decrement(roomID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counts[roomID]
	if !ok || n <= 0 {
		return 0
	}
	c.counts[roomID] = n - 1
	return n - 1
}

// Count returns the room's current count. Unknown rooms read as zero.
func (c *Counter) Count(roomID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[roomID]
}

// Snapshot copies every room's count, for metrics scrapes.
func (c *Counter) Snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counts))
	for id, n := range c.counts {
		out[id] = n
	}
	return out
}
