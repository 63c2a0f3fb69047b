package constants

import "time"

// Lock identifiers shared by every dispatch-lock driver. Postgres maps them
// to advisory lock keys, the file and redis drivers to lock names.
const (
	DispatchLock = iota
	MigrationLock
)

var Locks = []int{
	DispatchLock,
	MigrationLock,
}

const (
	MaxRetryAttempt = 3

	// Leadership is handed off once a heartbeat lapses past this.
	LeaderLeaseTTL    = 5 * time.Second
	HeartbeatInterval = 2 * time.Second

	DefaultAttemptTimeout  = 15 * time.Second
	DefaultInitialBackoff  = 2 * time.Second
	DefaultMaxBackoff      = 2 * time.Minute
	DefaultProbeInterval   = 15 * time.Second
	DefaultRetryKick       = 30 * time.Second
	DefaultStaleInFlight   = 5 * time.Minute
	DefaultStorageQuota    = 10_000
	DefaultAdminPort  uint = 8725
)
