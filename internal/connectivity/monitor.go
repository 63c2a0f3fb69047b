package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Transition is emitted on every online/offline flip.
type Transition struct {
	From bool
	To   bool
	At   time.Time
}

// Prober answers whether the backend is reachable right now. A nil error
// means reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// HTTPProber hits a lightweight backend endpoint. Any HTTP response counts as
// reachable; only transport-level failures mean offline, since "online per OS
// but backend unreachable" is exactly what the probe exists to catch.
type HTTPProber struct {
	client *http.Client
	url    string
}

func NewHTTPProber(baseURL, path string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{Timeout: timeout},
		url:    baseURL + path,
	}
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Monitor keeps the isOnline signal and notifies subscribers on change.
// Platform-level events feed in through SetOnline; the active probe runs on a
// cron schedule.
type Monitor struct {
	prober   Prober
	interval time.Duration

	mu     sync.Mutex
	online bool
	subs   []chan Transition
	cron   *cron.Cron
}

func NewMonitor(prober Prober, interval time.Duration) *Monitor {
	return &Monitor{
		prober:   prober,
		interval: interval,
	}
}

// Start probes once immediately, then on every interval tick.
func (m *Monitor) Start(ctx context.Context) error {
	m.probe(ctx)

	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", m.interval), func() {
		m.probe(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule probe: %w", err)
	}
	c.Start()

	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()
	return nil
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a connectivity change, from the probe or from a
// platform-level network event. Subscribers only hear actual flips.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	from := m.online
	m.online = online
	subs := make([]chan Transition, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{"from": from, "to": online}).Info("connectivity changed")

	t := Transition{From: from, To: online, At: time.Now()}
	for _, sub := range subs {
		select {
		case sub <- t:
		default:
			// A stalled subscriber must not block the monitor.
		}
	}
}

// Subscribe returns a channel of transitions. The channel is buffered; slow
// consumers lose intermediate flips, never the latest state (re-read with
// IsOnline).
func (m *Monitor) Subscribe() <-chan Transition {
	ch := make(chan Transition, 8)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	err := m.prober.Probe(probeCtx)
	m.SetOnline(err == nil)
}
