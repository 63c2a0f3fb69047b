package models

import (
	"encoding/json"
	"time"

	"fieldsync/internal/state"
)

// MutationRecord is one deferred write captured on behalf of the user. The
// record carries everything needed to replay the call after a restart, so
// nothing may depend on in-process closures.
type MutationRecord struct {
	ID            string             `json:"id"`
	Operation     Operation          `json:"operation"`
	Target        Target             `json:"target"`
	Payload       json.RawMessage    `json:"payload"`
	Status        state.RecordStatus `json:"status"`
	Attempts      int                `json:"attempts"`
	MaxAttempts   int                `json:"max_attempts"`
	LastError     *string            `json:"last_error,omitempty"`
	NextAttemptAt *time.Time         `json:"next_attempt_at,omitempty"`
	LockedBy      *string            `json:"locked_by,omitempty"`
	LockedAt      *time.Time         `json:"locked_at,omitempty"`
	// CreatedAt is the moment of the user action, not of the send. Replay
	// order and effective time both follow it.
	CreatedAt time.Time `json:"created_at"`
	// Seq breaks CreatedAt ties by insertion order.
	Seq uint64 `json:"seq"`
}

// RecordPatch is a partial update applied atomically by the queue store.
// Nil fields are left untouched; the Clear flags reset their fields to null.
type RecordPatch struct {
	Status        *state.RecordStatus
	Attempts      *int
	LastError     *string
	NextAttemptAt *time.Time
	LockedBy      *string
	LockedAt      *time.Time
	ClearLock     bool
	ClearError    bool
	ClearBackoff  bool
}

// TargetKey identifies the remote resource a record mutates. Records sharing
// a key must be applied in CreatedAt order.
func (r *MutationRecord) TargetKey() string {
	return r.Target.Key()
}

// Before orders records by user intent: CreatedAt first, insertion sequence
// next. The id is the last tie breaker, since independent writers sharing a
// queue directory can hand out the same sequence number; every client must
// still arrive at the same total order.
func (r *MutationRecord) Before(other *MutationRecord) bool {
	if !r.CreatedAt.Equal(other.CreatedAt) {
		return r.CreatedAt.Before(other.CreatedAt)
	}
	if r.Seq != other.Seq {
		return r.Seq < other.Seq
	}
	return r.ID < other.ID
}
