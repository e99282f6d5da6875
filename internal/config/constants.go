package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = time.Minute

// Rate limit windows
const (
	GlobalRateLimitWindow   = time.Minute
	LocationThrottleWindow  = time.Second
	SessionCreateRateWindow = time.Minute
)

// Websocket transport
const (
	WSWriteWait      = 10 * time.Second
	WSPingPeriod     = 30 * time.Second
	WSPongWait       = 60 * time.Second
	WSMaxMessageSize = 4 << 10
	WSSendBufferSize = 128
)
