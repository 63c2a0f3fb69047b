package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"fieldsync/internal/config"
	"fieldsync/internal/constants"
	"fieldsync/internal/lock"
	"fieldsync/internal/models"
	"fieldsync/internal/state"
	"fieldsync/internal/status"
	"fieldsync/internal/store"
	"fieldsync/internal/syncerrors"
	"fieldsync/internal/transport"
)

// Dispatcher drains the queue against the remote API. Only one replay pass
// runs at a time: an in-process weight-1 semaphore coalesces local triggers,
// and the dispatch lock keeps concurrent clients sharing a store to a single
// active dispatcher.
type Dispatcher struct {
	queueStore  store.QueueStore
	caller      transport.RemoteCaller
	lockManager lock.DispatchLockManager
	publisher   *status.Publisher
	isOnline    func() bool

	instance       string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	staleAfter     time.Duration

	guard *semaphore.Weighted
}

func New(
	cfg *config.Config,
	queueStore store.QueueStore,
	caller transport.RemoteCaller,
	lockManager lock.DispatchLockManager,
	publisher *status.Publisher,
	isOnline func() bool,
) *Dispatcher {
	return &Dispatcher{
		queueStore:     queueStore,
		caller:         caller,
		lockManager:    lockManager,
		publisher:      publisher,
		isOnline:       isOnline,
		instance:       cfg.Instance,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		staleAfter:     cfg.StaleInFlight,
		guard:          semaphore.NewWeighted(1),
	}
}

// Trigger schedules a replay pass in the background. Triggers arriving while
// a pass runs are coalesced into it.
func (d *Dispatcher) Trigger(ctx context.Context) {
	go func() {
		if err := d.RunPass(ctx); err != nil {
			logrus.WithError(err).Error("replay pass failed")
		}
	}()
}

// RunPass executes one replay pass synchronously. Returns nil without doing
// work when a pass is already running, when another client holds the dispatch
// lock, or when the backend is offline.
func (d *Dispatcher) RunPass(ctx context.Context) error {
	if !d.guard.TryAcquire(1) {
		return nil
	}
	defer d.guard.Release(1)

	if !d.isOnline() {
		return nil
	}

	held, err := d.lockManager.TryAcquire(constants.DispatchLock)
	if err != nil {
		return fmt.Errorf("dispatch lock: %w", err)
	}
	if !held {
		return nil
	}
	defer d.lockManager.Release(constants.DispatchLock)

	d.publish(ctx, true)
	defer func() {
		d.publish(ctx, false)
		d.publisher.Metrics().PassCompleted()
	}()

	// Claims left behind by a crashed sibling client, or by an aborted pass,
	// go back to pending here so the records stay replayable mid-run, not
	// only after a restart.
	released, err := d.queueStore.ReleaseStaleInFlight(ctx, d.staleAfter)
	if err != nil {
		return fmt.Errorf("release stale claims: %w", err)
	}
	if released > 0 {
		logrus.WithField("released", released).Warn("reclaimed stale in-flight records")
	}

	records, err := d.queueStore.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	logrus.WithField("pending", len(records)).Info("starting replay pass")

	// Targets of terminally failed records hold back their later siblings.
	blocked := make(map[string]bool)
	now := time.Now()

	for i := range records {
		rec := &records[i]

		if rec.Status == state.StatusFailed {
			blocked[rec.TargetKey()] = true
			continue
		}
		if blocked[rec.TargetKey()] {
			continue
		}
		if rec.NextAttemptAt != nil && rec.NextAttemptAt.After(now) {
			// Backoff has not elapsed. Skipping ahead would reorder intent,
			// so the pass ends here; the retry kick picks it up later.
			break
		}

		claimed, err := d.queueStore.MarkInFlight(ctx, rec.ID, d.instance)
		if err != nil {
			return fmt.Errorf("claim %s: %w", rec.ID, err)
		}
		if !claimed {
			continue
		}
		d.publish(ctx, true)

		stop, err := d.dispatchOne(ctx, rec, blocked)
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}
	return nil
}

// dispatchOne sends a claimed record and settles its outcome. The returned
// bool asks the pass to stop (retryable failure below the attempt cap).
func (d *Dispatcher) dispatchOne(ctx context.Context, rec *models.MutationRecord, blocked map[string]bool) (bool, error) {
	log := logrus.WithFields(logrus.Fields{
		"record_id": rec.ID,
		"operation": rec.Operation,
		"target":    rec.TargetKey(),
		"attempt":   rec.Attempts + 1,
	})

	_, callErr := d.caller.Call(ctx, rec)
	if callErr == nil {
		// Done is terminal: the record leaves the store entirely, which is
		// what makes replay after restart idempotent.
		if err := d.queueStore.Remove(ctx, rec.ID); err != nil {
			return false, fmt.Errorf("remove %s: %w", rec.ID, err)
		}
		d.publisher.Metrics().AttemptFinished(status.OutcomeSuccess)
		log.Info("mutation applied")
		return false, nil
	}

	attempts := rec.Attempts + 1
	errMsg := failureMessage(callErr)

	if syncerrors.IsRetryable(callErr) {
		maxAttempts := rec.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = d.maxAttempts
		}

		if attempts < maxAttempts {
			pending := state.StatusPending
			next := time.Now().Add(d.backoff(attempts)).UTC()
			if err := d.queueStore.Update(ctx, rec.ID, models.RecordPatch{
				Status:        &pending,
				Attempts:      &attempts,
				LastError:     &errMsg,
				NextAttemptAt: &next,
				ClearLock:     true,
			}); err != nil {
				return false, fmt.Errorf("requeue %s: %w", rec.ID, err)
			}
			d.publisher.Metrics().AttemptFinished(status.OutcomeRetryable)
			log.WithField("next_attempt_at", next).Warn("retryable failure, pass stopped")
			return true, nil
		}

		if err := d.markFailed(ctx, rec.ID, attempts, errMsg); err != nil {
			return false, err
		}
		blocked[rec.TargetKey()] = true
		d.publisher.Metrics().AttemptFinished(status.OutcomeRetryable)
		log.Error("retry attempts exhausted, record failed")
		return false, nil
	}

	// Non-retryable rejection or conflict: terminal right away. Later
	// records on the same target are held back; everything else continues.
	if err := d.markFailed(ctx, rec.ID, attempts, errMsg); err != nil {
		return false, err
	}
	blocked[rec.TargetKey()] = true
	if syncerrors.IsConflict(callErr) {
		d.publisher.Metrics().AttemptFinished(status.OutcomeConflict)
		log.Error("remote state conflict, record failed")
	} else {
		d.publisher.Metrics().AttemptFinished(status.OutcomeNonRetryable)
		log.Error("request rejected, record failed")
	}
	return false, nil
}

func (d *Dispatcher) markFailed(ctx context.Context, id string, attempts int, errMsg string) error {
	failed := state.StatusFailed
	if err := d.queueStore.Update(ctx, id, models.RecordPatch{
		Status:       &failed,
		Attempts:     &attempts,
		LastError:    &errMsg,
		ClearLock:    true,
		ClearBackoff: true,
	}); err != nil {
		return fmt.Errorf("fail %s: %w", id, err)
	}
	return nil
}

// backoff grows exponentially with the attempt count, capped.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.initialBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.maxBackoff {
			return d.maxBackoff
		}
	}
	if delay > d.maxBackoff {
		return d.maxBackoff
	}
	return delay
}

func (d *Dispatcher) publish(ctx context.Context, isSyncing bool) {
	counts, err := d.queueStore.CountByStatus(ctx)
	if err != nil {
		logrus.WithError(err).Warn("failed to count queue records")
		return
	}
	d.publisher.Publish(counts, d.isOnline(), isSyncing)
}

// failureMessage keeps enough context on the record for manual review; a
// conflict carries the server response verbatim.
func failureMessage(err error) string {
	var conflict *syncerrors.ConflictError
	if errors.As(err, &conflict) && len(conflict.Response) > 0 {
		return fmt.Sprintf("%s: %s", conflict.Error(), conflict.Response)
	}
	return err.Error()
}
