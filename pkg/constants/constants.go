// Package constants defines process-wide timeouts and intervals that are not
// worth exposing as configuration.
package constants

import "time"

const (
	// GracefulShutdownTimeout bounds HTTP drain plus call log flush on exit
	GracefulShutdownTimeout = 30 * time.Second

	// RedisHealthCheckInterval is how often degraded mode is re-evaluated
	RedisHealthCheckInterval = 10 * time.Second

	// DatabaseConnectRetries is the number of CockroachDB connection attempts at startup
	DatabaseConnectRetries = 5

	// SchemaSetupTimeout bounds call log schema creation at startup
	SchemaSetupTimeout = 30 * time.Second

	// ProfileCacheTTL is how long display profiles are cached
	ProfileCacheTTL = 5 * time.Minute
)
