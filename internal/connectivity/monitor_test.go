package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu  sync.Mutex
	err error
}

func (p *fakeProber) Probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProber) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func TestMonitor_TransitionsAndState(t *testing.T) {
	m := NewMonitor(&fakeProber{}, time.Minute)
	sub := m.Subscribe()

	assert.False(t, m.IsOnline())

	m.SetOnline(true)
	assert.True(t, m.IsOnline())
	tr := <-sub
	assert.False(t, tr.From)
	assert.True(t, tr.To)

	// Same state again: no event.
	m.SetOnline(true)
	select {
	case <-sub:
		t.Fatal("duplicate transition emitted")
	case <-time.After(50 * time.Millisecond):
	}

	m.SetOnline(false)
	tr = <-sub
	assert.True(t, tr.From)
	assert.False(t, tr.To)
}

func TestMonitor_StartProbesImmediately(t *testing.T) {
	m := NewMonitor(&fakeProber{}, time.Minute)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	assert.True(t, m.IsOnline())
}

func TestMonitor_ProbeFailureMeansOffline(t *testing.T) {
	p := &fakeProber{}
	p.setErr(errors.New("dial tcp: connection refused"))

	m := NewMonitor(p, time.Minute)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	assert.False(t, m.IsOnline())
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPProber(srv.URL, "/api/health", time.Second)
	assert.NoError(t, p.Probe(context.Background()))

	srv.Close()
	assert.Error(t, p.Probe(context.Background()))
}

func TestHTTPProber_ServerErrorStillReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProber(srv.URL, "/api/health", time.Second)
	assert.NoError(t, p.Probe(context.Background()))
}
