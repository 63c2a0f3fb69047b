package postgres

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/models"
	"fieldsync/internal/state"
	"fieldsync/internal/syncerrors"
)

type noopLock struct{}

func (noopLock) Acquire(lockID int) error            { return nil }
func (noopLock) TryAcquire(lockID int) (bool, error) { return true, nil }
func (noopLock) Release(lockID int) error            { return nil }

// Tests run against a real database and skip unless FIELDSYNC_TEST_POSTGRES_URL
// is set, e.g. "host=localhost user=postgres dbname=fieldsync_test sslmode=disable".
func openTestStore(t *testing.T, quota int) *QueueStore {
	t.Helper()

	dsn := os.Getenv("FIELDSYNC_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("FIELDSYNC_TEST_POSTGRES_URL not set")
	}

	db, err := Init(dsn, noopLock{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`DELETE FROM fieldsync_schema.mutation_records`)
	require.NoError(t, err)

	return NewQueueStore(db, quota)
}

func newRecord(op models.Operation, path string, at time.Time) *models.MutationRecord {
	return &models.MutationRecord{
		ID:          uuid.NewString(),
		Operation:   op,
		Target:      models.Target{Method: "POST", Path: path},
		Payload:     json.RawMessage(`{"job_id":"j-1"}`),
		Status:      state.StatusPending,
		MaxAttempts: 3,
		CreatedAt:   at,
	}
}

func TestPostgresStore_EnqueueAndListOrder(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	b := newRecord(models.OpCheckOut, "/tech/checkout", base.Add(time.Second))
	a := newRecord(models.OpCheckIn, "/tech/checkin", base)
	require.NoError(t, s.Enqueue(ctx, b))
	require.NoError(t, s.Enqueue(ctx, a))
	assert.Greater(t, a.Seq, b.Seq, "sequence follows insertion, not created_at")

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, a.ID, pending[0].ID, "created_at drives replay order")
	assert.Equal(t, b.ID, pending[1].ID)
}

func TestPostgresStore_QuotaExhaustion(t *testing.T) {
	s := openTestStore(t, 1)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, newRecord(models.OpCheckIn, "/tech/checkin", time.Now().UTC())))
	err := s.Enqueue(ctx, newRecord(models.OpCheckOut, "/tech/checkout", time.Now().UTC()))
	assert.ErrorIs(t, err, syncerrors.ErrStorageFull)
}

func TestPostgresStore_MarkInFlightClaimsOnce(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()

	rec := newRecord(models.OpCheckIn, "/tech/checkin", time.Now().UTC())
	require.NoError(t, s.Enqueue(ctx, rec))

	claimed, err := s.MarkInFlight(ctx, rec.ID, "tab-a")
	require.NoError(t, err)
	assert.True(t, claimed)

	again, err := s.MarkInFlight(ctx, rec.ID, "tab-b")
	require.NoError(t, err)
	assert.False(t, again, "a claimed record cannot be claimed twice")

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusInFlight, got.Status)
	require.NotNil(t, got.LockedBy)
	assert.Equal(t, "tab-a", *got.LockedBy)
}

func TestPostgresStore_UpdatePatchAndClears(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()

	rec := newRecord(models.OpUpdateNotes, "/jobs/j-1/notes", time.Now().UTC())
	require.NoError(t, s.Enqueue(ctx, rec))

	failed := state.StatusFailed
	attempts := 2
	msg := "remote rejected request: status 422"
	next := time.Now().Add(time.Minute).UTC()
	require.NoError(t, s.Update(ctx, rec.ID, models.RecordPatch{
		Status:        &failed,
		Attempts:      &attempts,
		LastError:     &msg,
		NextAttemptAt: &next,
	}))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, got.Status)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.LastError)
	require.NotNil(t, got.NextAttemptAt)

	pending := state.StatusPending
	require.NoError(t, s.Update(ctx, rec.ID, models.RecordPatch{
		Status:       &pending,
		ClearError:   true,
		ClearBackoff: true,
		ClearLock:    true,
	}))

	got, err = s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastError)
	assert.Nil(t, got.NextAttemptAt)
	assert.Nil(t, got.LockedBy)

	err = s.Update(ctx, "00000000-0000-0000-0000-000000000000", models.RecordPatch{Status: &pending})
	assert.ErrorIs(t, err, syncerrors.ErrRecordMissing)
}

func TestPostgresStore_ReleaseStaleInFlight(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()

	rec := newRecord(models.OpCheckIn, "/tech/checkin", time.Now().UTC())
	require.NoError(t, s.Enqueue(ctx, rec))
	claimed, err := s.MarkInFlight(ctx, rec.ID, "ghost-tab")
	require.NoError(t, err)
	require.True(t, claimed)

	stale := time.Now().Add(-10 * time.Minute).UTC()
	require.NoError(t, s.Update(ctx, rec.ID, models.RecordPatch{LockedAt: &stale}))

	released, err := s.ReleaseStaleInFlight(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, got.Status)
	assert.Nil(t, got.LockedBy)
}

func TestPostgresStore_CountByStatusZeroFills(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, newRecord(models.OpCheckIn, "/tech/checkin", time.Now().UTC())))

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[state.StatusPending])
	assert.Equal(t, 0, counts[state.StatusFailed])
	assert.Equal(t, 0, counts[state.StatusInFlight])
}

func TestPostgresStore_Remove(t *testing.T) {
	s := openTestStore(t, 100)
	ctx := context.Background()

	rec := newRecord(models.OpCheckIn, "/tech/checkin", time.Now().UTC())
	require.NoError(t, s.Enqueue(ctx, rec))
	require.NoError(t, s.Remove(ctx, rec.ID))

	_, err := s.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, syncerrors.ErrRecordMissing)
	assert.ErrorIs(t, s.Remove(ctx, rec.ID), syncerrors.ErrRecordMissing)
}
