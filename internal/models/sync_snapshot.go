package models

import "time"

// SyncSnapshot is the summary the UI consumes: the badge is rendered from
// this and nothing else.
type SyncSnapshot struct {
	Online        bool      `json:"online"`
	IsSyncing     bool      `json:"is_syncing"`
	PendingCount  int       `json:"pending_count"`
	InFlightCount int       `json:"in_flight_count"`
	FailedCount   int       `json:"failed_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Dirty reports whether any user action is still waiting to reach the server.
func (s SyncSnapshot) Dirty() bool {
	return s.PendingCount > 0 || s.InFlightCount > 0 || s.FailedCount > 0
}

// SubmitResult is returned by the client facade. Immediate means the call
// reached the server synchronously; otherwise RecordID names the queued
// mutation.
type SubmitResult struct {
	Immediate bool
	RecordID  string
	// Response carries the server body on an immediate success, nil otherwise.
	Response []byte
}
