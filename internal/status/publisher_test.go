package status

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"fieldsync/internal/state"
)

func TestPublish_DerivesSnapshot(t *testing.T) {
	p := NewPublisher(prometheus.NewRegistry())

	snap := p.Publish(map[state.RecordStatus]int{
		state.StatusPending:  3,
		state.StatusInFlight: 1,
		state.StatusFailed:   2,
	}, true, true)

	assert.Equal(t, 3, snap.PendingCount)
	assert.Equal(t, 1, snap.InFlightCount)
	assert.Equal(t, 2, snap.FailedCount)
	assert.True(t, snap.Online)
	assert.True(t, snap.IsSyncing)
	assert.True(t, snap.Dirty())

	assert.Equal(t, snap, p.Current())
}

func TestPublish_NotifiesSubscribers(t *testing.T) {
	p := NewPublisher(prometheus.NewRegistry())
	sub := p.Subscribe()

	p.Publish(map[state.RecordStatus]int{state.StatusPending: 1}, false, false)

	snap := <-sub
	assert.Equal(t, 1, snap.PendingCount)
	assert.False(t, snap.Online)
}

func TestPublish_CleanQueue(t *testing.T) {
	p := NewPublisher(prometheus.NewRegistry())
	snap := p.Publish(map[state.RecordStatus]int{}, true, false)
	assert.False(t, snap.Dirty())
}

func TestMetrics_TrackGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPublisher(reg)

	p.Publish(map[state.RecordStatus]int{
		state.StatusPending: 5,
		state.StatusFailed:  1,
	}, true, false)

	assert.Equal(t, 5.0, testutil.ToFloat64(p.metrics.pending))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.failed))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.online))

	p.Publish(map[state.RecordStatus]int{}, false, false)
	assert.Equal(t, 0.0, testutil.ToFloat64(p.metrics.online))
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.PassCompleted()
	m.PassCompleted()
	m.AttemptFinished(OutcomeSuccess)
	m.AttemptFinished(OutcomeRetryable)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.passesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attemptsTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attemptsTotal.WithLabelValues(OutcomeRetryable)))
}
