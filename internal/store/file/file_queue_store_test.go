package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/models"
	"fieldsync/internal/state"
	"fieldsync/internal/syncerrors"
)

func newRecord(op models.Operation, path string, createdAt time.Time) *models.MutationRecord {
	return &models.MutationRecord{
		ID:          uuid.NewString(),
		Operation:   op,
		Target:      models.Target{Method: "POST", Path: path},
		Payload:     json.RawMessage(`{"job_id":"j-1"}`),
		Status:      state.StatusPending,
		MaxAttempts: 3,
		CreatedAt:   createdAt,
	}
}

func TestEnqueueAndListPending_Order(t *testing.T) {
	s, err := Open(t.TempDir(), 100)
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	first := newRecord(models.OpCheckIn, "/tech/checkin", base)
	second := newRecord(models.OpUpdateNotes, "/jobs/j-1/notes", base.Add(time.Second))
	// Same createdAt as first: insertion sequence must break the tie.
	tied := newRecord(models.OpCheckOut, "/tech/checkout", base)

	require.NoError(t, s.Enqueue(ctx, first))
	require.NoError(t, s.Enqueue(ctx, second))
	require.NoError(t, s.Enqueue(ctx, tied))

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, tied.ID, pending[1].ID)
	assert.Equal(t, second.ID, pending[2].ID)
}

func TestEnqueue_StorageQuota(t *testing.T) {
	s, err := Open(t.TempDir(), 2)
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.Enqueue(ctx, newRecord(models.OpCheckIn, "/tech/checkin", now)))
	require.NoError(t, s.Enqueue(ctx, newRecord(models.OpCheckOut, "/tech/checkout", now)))

	err = s.Enqueue(ctx, newRecord(models.OpUpdateNotes, "/jobs/j-1/notes", now))
	require.Error(t, err)
	assert.True(t, syncerrors.IsStorageFull(err))

	// Removing a record frees quota again.
	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx, pending[0].ID))
	assert.NoError(t, s.Enqueue(ctx, newRecord(models.OpUpdateNotes, "/jobs/j-1/notes", now)))
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir, 100)
	require.NoError(t, err)
	rec := newRecord(models.OpPartsCheckout, "/tech/parts/checkout", time.Now().UTC())
	require.NoError(t, s.Enqueue(ctx, rec))
	require.NoError(t, s.Close())

	reopened, err := Open(dir, 100)
	require.NoError(t, err)
	pending, err := reopened.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rec.ID, pending[0].ID)
	assert.Equal(t, rec.Payload, pending[0].Payload)

	// New enqueues must not reuse the persisted sequence.
	later := newRecord(models.OpCheckIn, "/tech/checkin", time.Now().UTC())
	require.NoError(t, reopened.Enqueue(ctx, later))
	assert.Greater(t, later.Seq, pending[0].Seq)
}

func TestMarkInFlight_OnlyClaimsPending(t *testing.T) {
	s, err := Open(t.TempDir(), 100)
	require.NoError(t, err)
	ctx := context.Background()

	rec := newRecord(models.OpCheckIn, "/tech/checkin", time.Now())
	require.NoError(t, s.Enqueue(ctx, rec))

	ok, err := s.MarkInFlight(ctx, rec.ID, "tab-a")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim loses: the record is already in flight.
	ok, err = s.MarkInFlight(ctx, rec.ID, "tab-b")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusInFlight, got.Status)
	require.NotNil(t, got.LockedBy)
	assert.Equal(t, "tab-a", *got.LockedBy)
}

func TestUpdate_PatchAndClear(t *testing.T) {
	s, err := Open(t.TempDir(), 100)
	require.NoError(t, err)
	ctx := context.Background()

	rec := newRecord(models.OpUpdateNotes, "/jobs/j-1/notes", time.Now())
	require.NoError(t, s.Enqueue(ctx, rec))

	ok, err := s.MarkInFlight(ctx, rec.ID, "tab-a")
	require.NoError(t, err)
	require.True(t, ok)

	errMsg := "503 from backend"
	attempts := 1
	backTo := state.StatusPending
	next := time.Now().Add(2 * time.Second).UTC()
	require.NoError(t, s.Update(ctx, rec.ID, models.RecordPatch{
		Status:        &backTo,
		Attempts:      &attempts,
		LastError:     &errMsg,
		NextAttemptAt: &next,
		ClearLock:     true,
	}))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Equal(t, errMsg, *got.LastError)
	assert.Nil(t, got.LockedBy)
	assert.Nil(t, got.LockedAt)

	require.NoError(t, s.Update(ctx, rec.ID, models.RecordPatch{ClearError: true, ClearBackoff: true}))
	got, err = s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastError)
	assert.Nil(t, got.NextAttemptAt)
}

func TestUpdate_MissingRecord(t *testing.T) {
	s, err := Open(t.TempDir(), 100)
	require.NoError(t, err)

	err = s.Update(context.Background(), "nope", models.RecordPatch{})
	assert.ErrorIs(t, err, syncerrors.ErrRecordMissing)
}

func TestReleaseStaleInFlight(t *testing.T) {
	s, err := Open(t.TempDir(), 100)
	require.NoError(t, err)
	ctx := context.Background()

	stale := newRecord(models.OpCheckIn, "/tech/checkin", time.Now())
	fresh := newRecord(models.OpCheckOut, "/tech/checkout", time.Now())
	require.NoError(t, s.Enqueue(ctx, stale))
	require.NoError(t, s.Enqueue(ctx, fresh))

	for _, rec := range []*models.MutationRecord{stale, fresh} {
		ok, err := s.MarkInFlight(ctx, rec.ID, "tab-a")
		require.NoError(t, err)
		require.True(t, ok)
	}

	old := time.Now().Add(-10 * time.Minute).UTC()
	require.NoError(t, s.Update(ctx, stale.ID, models.RecordPatch{LockedAt: &old}))

	released, err := s.ReleaseStaleInFlight(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	got, err := s.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusPending, got.Status)

	got, err = s.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusInFlight, got.Status)
}

func TestCountByStatus(t *testing.T) {
	s, err := Open(t.TempDir(), 100)
	require.NoError(t, err)
	ctx := context.Background()

	a := newRecord(models.OpCheckIn, "/tech/checkin", time.Now())
	b := newRecord(models.OpCheckOut, "/tech/checkout", time.Now())
	require.NoError(t, s.Enqueue(ctx, a))
	require.NoError(t, s.Enqueue(ctx, b))

	failed := state.StatusFailed
	require.NoError(t, s.Update(ctx, b.ID, models.RecordPatch{Status: &failed}))

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[state.StatusPending])
	assert.Equal(t, 1, counts[state.StatusFailed])
	assert.Equal(t, 0, counts[state.StatusInFlight])
	assert.Equal(t, 0, counts[state.StatusDone])
}

func TestListPending_SkipsCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 100)
	require.NoError(t, err)
	ctx := context.Background()

	rec := newRecord(models.OpCheckIn, "/tech/checkin", time.Now())
	require.NoError(t, s.Enqueue(ctx, rec))
	require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("%s.json", uuid.NewString())), []byte("{not json"), 0o644))

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rec.ID, pending[0].ID)
}
