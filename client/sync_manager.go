package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fieldsync/internal/config"
	"fieldsync/internal/connectivity"
	"fieldsync/internal/dispatcher"
	"fieldsync/internal/models"
	"fieldsync/internal/state"
	"fieldsync/internal/status"
	"fieldsync/internal/store"
	"fieldsync/internal/syncerrors"
	"fieldsync/internal/transport"
)

var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrNotCancelable    = errors.New("record can no longer be cancelled")
	ErrNotFailed        = errors.New("record is not in a failed state")
)

// SyncManager is the single entry point application code uses for mutations
// that may need to be deferred. Online with a clean queue it sends directly;
// otherwise it records the mutation durably and lets the dispatcher replay it.
type SyncManager struct {
	queueStore store.QueueStore
	caller     transport.RemoteCaller
	dispatcher *dispatcher.Dispatcher
	monitor    *connectivity.Monitor
	publisher  *status.Publisher

	maxAttempts int
	stagingDir  string

	// Mutations that could not be persisted because the quota was hit. Held
	// in memory only and flushed back into the store as soon as space frees.
	mu       sync.Mutex
	overflow []*models.MutationRecord
}

func NewSyncManager(
	cfg *config.Config,
	queueStore store.QueueStore,
	caller transport.RemoteCaller,
	disp *dispatcher.Dispatcher,
	monitor *connectivity.Monitor,
	publisher *status.Publisher,
) *SyncManager {
	return &SyncManager{
		queueStore:  queueStore,
		caller:      caller,
		dispatcher:  disp,
		monitor:     monitor,
		publisher:   publisher,
		maxAttempts: cfg.MaxAttempts,
		stagingDir:  cfg.FileStoreDir,
	}
}

// Submit records a mutating user action. The result says whether the call was
// applied immediately or queued for replay. Retryable transport conditions
// never surface as errors here; callers only see programmer errors, terminal
// rejections from an immediate attempt, and storage exhaustion.
func (m *SyncManager) Submit(ctx context.Context, op models.Operation, target models.Target, payload json.RawMessage) (*models.SubmitResult, error) {
	if !op.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}

	m.drainOverflow(ctx)

	rec := &models.MutationRecord{
		ID:          uuid.NewString(),
		Operation:   op,
		Target:      target,
		Payload:     payload,
		Status:      state.StatusPending,
		MaxAttempts: m.maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}

	// A direct send is only safe while nothing is queued: replaying queued
	// records after this call could apply an older mutation on the same
	// target over a newer one.
	if m.monitor.IsOnline() && m.queueClean(ctx) {
		resp, err := m.caller.Call(ctx, rec)
		if err == nil {
			return &models.SubmitResult{Immediate: true, RecordID: rec.ID, Response: resp}, nil
		}
		if !syncerrors.IsRetryable(err) {
			return nil, err
		}
		msg := err.Error()
		rec.Attempts = 1
		rec.LastError = &msg
		logrus.WithFields(logrus.Fields{
			"record_id": rec.ID,
			"operation": op,
		}).Warn("direct send failed, queueing for replay")
	}

	return m.enqueue(ctx, rec)
}

// SubmitUpload stages nothing itself; the file must already be under the
// staging directory (see StageFile). The multipart body is built at send time
// so the bytes survive process restarts without living in the queue record.
func (m *SyncManager) SubmitUpload(ctx context.Context, payload models.UploadPayload) (*models.SubmitResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode upload payload: %w", err)
	}
	return m.Submit(ctx, models.OpUploadFile, models.Target{Method: http.MethodPost, Path: "/upload"}, body)
}

// Cancel withdraws a record that has not been sent yet. In-flight records
// cannot be cancelled; their outcome is always recorded.
func (m *SyncManager) Cancel(ctx context.Context, id string) error {
	rec, err := m.queueStore.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != state.StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotCancelable, id, rec.Status)
	}
	if err := m.queueStore.Remove(ctx, id); err != nil {
		return err
	}
	m.publishCounts(ctx)
	m.drainOverflow(ctx)
	return nil
}

// Retry puts a failed record back in line with a fresh attempt budget and
// kicks the dispatcher.
func (m *SyncManager) Retry(ctx context.Context, id string) error {
	rec, err := m.queueStore.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != state.StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, id, rec.Status)
	}

	pending := state.StatusPending
	zero := 0
	if err := m.queueStore.Update(ctx, id, models.RecordPatch{
		Status:       &pending,
		Attempts:     &zero,
		ClearError:   true,
		ClearBackoff: true,
		ClearLock:    true,
	}); err != nil {
		return err
	}
	m.publishCounts(ctx)
	m.Trigger(ctx)
	return nil
}

// Discard drops a failed record for good.
func (m *SyncManager) Discard(ctx context.Context, id string) error {
	rec, err := m.queueStore.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != state.StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, id, rec.Status)
	}
	if err := m.queueStore.Remove(ctx, id); err != nil {
		return err
	}
	m.publishCounts(ctx)
	m.drainOverflow(ctx)
	return nil
}

// Records lists everything still waiting or failed, in replay order.
func (m *SyncManager) Records(ctx context.Context) ([]models.MutationRecord, error) {
	return m.queueStore.ListPending(ctx)
}

// Trigger flushes any overflowed mutations into the store and schedules a
// replay pass.
func (m *SyncManager) Trigger(ctx context.Context) {
	m.drainOverflow(ctx)
	m.dispatcher.Trigger(ctx)
}

func (m *SyncManager) Snapshot() models.SyncSnapshot {
	return m.publisher.Current()
}

func (m *SyncManager) SubscribeStatus() <-chan models.SyncSnapshot {
	return m.publisher.Subscribe()
}

func (m *SyncManager) IsOnline() bool {
	return m.monitor.IsOnline()
}

// OverflowCount reports mutations currently held only in memory.
func (m *SyncManager) OverflowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.overflow)
}

func (m *SyncManager) enqueue(ctx context.Context, rec *models.MutationRecord) (*models.SubmitResult, error) {
	if err := m.queueStore.Enqueue(ctx, rec); err != nil {
		if syncerrors.IsStorageFull(err) {
			m.mu.Lock()
			m.overflow = append(m.overflow, rec)
			m.mu.Unlock()
			logrus.WithField("record_id", rec.ID).Error("storage quota reached, holding mutation in memory")
			return nil, err
		}
		return nil, err
	}

	m.publishCounts(ctx)
	if m.monitor.IsOnline() {
		m.dispatcher.Trigger(ctx)
	}
	return &models.SubmitResult{Immediate: false, RecordID: rec.ID}, nil
}

// drainOverflow moves in-memory mutations back into durable storage, oldest
// first, stopping at the first record that still does not fit.
func (m *SyncManager) drainOverflow(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.overflow) > 0 {
		rec := m.overflow[0]
		if err := m.queueStore.Enqueue(ctx, rec); err != nil {
			if !syncerrors.IsStorageFull(err) {
				logrus.WithError(err).WithField("record_id", rec.ID).Error("failed to persist overflowed mutation")
			}
			return
		}
		m.overflow = m.overflow[1:]
		logrus.WithField("record_id", rec.ID).Info("overflowed mutation persisted")
	}
}

func (m *SyncManager) queueClean(ctx context.Context) bool {
	counts, err := m.queueStore.CountByStatus(ctx)
	if err != nil {
		return false
	}
	for _, n := range counts {
		if n > 0 {
			return false
		}
	}
	return true
}

func (m *SyncManager) publishCounts(ctx context.Context) {
	counts, err := m.queueStore.CountByStatus(ctx)
	if err != nil {
		logrus.WithError(err).Warn("failed to count queue records")
		return
	}
	m.publisher.Publish(counts, m.monitor.IsOnline(), false)
}
