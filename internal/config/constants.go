package config

import "time"

// Connection lifecycle
const (
	// ConnectionTimeout bounds how long a tenant may sit on an issued QR code
	// before the session is torn down and rebuilt.
	ConnectionTimeout = 10 * time.Second

	// ReconnectGrace lets the underlying browser session release its
	// resources between destroy and the next initialize.
	ReconnectGrace = 2 * time.Second
)

// In-memory buffers
const (
	MessageBufferCap   = 1000
	RecentMessagesCap  = 100
	RecentChatsToLoad  = 10
	MessagesPerChat    = 5
	DefaultReadLimit   = 50
	MaxReadLimit       = 1000
	MaxMessageLength   = 4096
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for startup checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const ArchiveCleanupInterval = 1 * time.Hour
