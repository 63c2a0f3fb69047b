package store

import (
	"context"
	"time"

	"fieldsync/internal/models"
	"fieldsync/internal/state"
)

// QueueStore is the durable outbox. Implementations must keep every
// operation atomic with respect to concurrent clients sharing the store; the
// dispatcher additionally claims records through MarkInFlight so a record is
// never sent twice.
type QueueStore interface {
	// Enqueue appends a record, assigning its insertion sequence. Fails with
	// syncerrors.ErrStorageFull when the quota is exhausted.
	Enqueue(ctx context.Context, record *models.MutationRecord) error

	// ListPending returns records with status pending or failed, ordered by
	// CreatedAt with the insertion sequence breaking ties.
	ListPending(ctx context.Context) ([]models.MutationRecord, error)

	// Get returns a single record by id.
	Get(ctx context.Context, id string) (*models.MutationRecord, error)

	// Update applies a partial update atomically.
	Update(ctx context.Context, id string, patch models.RecordPatch) error

	// MarkInFlight claims a pending record for the named owner. Returns false
	// without error when the record is no longer pending.
	MarkInFlight(ctx context.Context, id string, owner string) (bool, error)

	// Remove deletes a record that reached done, or a failed record the user
	// discarded.
	Remove(ctx context.Context, id string) error

	// ReleaseStaleInFlight returns records stuck in_flight longer than the
	// given age to pending. Crash recovery on startup.
	ReleaseStaleInFlight(ctx context.Context, olderThan time.Duration) (int, error)

	// CountByStatus returns record counts grouped by status, with zero
	// entries for absent statuses.
	CountByStatus(ctx context.Context) (map[state.RecordStatus]int, error)

	Close() error
}
