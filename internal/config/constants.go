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
const RetentionJobInterval = 6 * time.Hour

// Default rate limiting for parent accounts
const DefaultRateLimitPerMin = 60

// Heartbeat cadence expected from clients. The server does not enforce it,
// but the per-IP limiter is sized from it.
const HeartbeatInterval = 60 * time.Second
