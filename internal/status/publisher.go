package status

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fieldsync/internal/models"
	"fieldsync/internal/state"
)

// Publisher derives the sync summary from queue counts and connectivity, and
// broadcasts it to UI subscribers. Deriving is side-effect-free and O(1) over
// the counts handed in; it runs on every queue mutation.
type Publisher struct {
	mu       sync.Mutex
	snapshot models.SyncSnapshot
	subs     []chan models.SyncSnapshot
	metrics  *Metrics
}

func NewPublisher(reg prometheus.Registerer) *Publisher {
	return &Publisher{
		metrics: NewMetrics(reg),
	}
}

// Publish recomputes the snapshot and notifies subscribers.
func (p *Publisher) Publish(counts map[state.RecordStatus]int, online, isSyncing bool) models.SyncSnapshot {
	snap := models.SyncSnapshot{
		Online:        online,
		IsSyncing:     isSyncing,
		PendingCount:  counts[state.StatusPending],
		InFlightCount: counts[state.StatusInFlight],
		FailedCount:   counts[state.StatusFailed],
		UpdatedAt:     time.Now().UTC(),
	}

	p.mu.Lock()
	p.snapshot = snap
	subs := make([]chan models.SyncSnapshot, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	p.metrics.Observe(snap)

	for _, sub := range subs {
		select {
		case sub <- snap:
		default:
			// UI consumers poll Current when they fall behind.
		}
	}
	return snap
}

// Current returns the latest snapshot.
func (p *Publisher) Current() models.SyncSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// Subscribe returns a buffered channel of snapshots.
func (p *Publisher) Subscribe() <-chan models.SyncSnapshot {
	ch := make(chan models.SyncSnapshot, 16)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

// Metrics exposes the Publisher's Metrics for dispatcher counters.
func (p *Publisher) Metrics() *Metrics {
	return p.metrics
}
