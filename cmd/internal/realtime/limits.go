package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 256 << 10 // 256 KiB

	// Activity timeout advertised in pusher:connection_established (seconds).
	activityTimeoutSeconds = 120
)

const (
	// Heartbeat defaults (can be overridden by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound frame limits (frames per window).
	rateLimitEvents = 240
	rateLimitWindow = 10 * time.Second
)
