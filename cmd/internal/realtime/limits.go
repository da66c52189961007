package realtime

import "time"

const (
	// Hard cap on a single websocket frame read.
	maxFrameBytes = 64 << 10

	// Longest accepted message text, in runes.
	maxMessageChars = 4000
)

const (
	// Heartbeat defaults; RELAY_WS_HEARTBEAT_* env vars override.
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Default per-connection inbound rate: events per sliding window.
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
