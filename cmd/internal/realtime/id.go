package realtime

import (
	"time"

	"relay/cmd/identity/ids"
)

// NewSessionID returns a ULID used as websocket session id.
// Must be 26 chars to satisfy DB constraints / FKs.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewServerMsgID returns a ULID used as server_msg_id.
// This keeps IDs uniform across the system.
func NewServerMsgID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// mintServerMsgID is the store-side id allocator. ULID is preferred so ids
// sort by time; random hex is the fallback when the entropy source fails.
func mintServerMsgID(now time.Time) string {
	id, err := NewServerMsgID(now)
	if err != nil || id == "" {
		return NewRandomHex(16)
	}
	return id
}
