package syncengine

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"fieldsync/app"
	"fieldsync/client"
	"fieldsync/internal/config"
	"fieldsync/internal/connectivity"
	"fieldsync/internal/state"
	"fieldsync/web"
)

// Engine owns the background services around the sync queue: the connectivity
// monitor, the periodic retry kick, and the optional admin HTTP surface.
type Engine struct {
	container *app.Container
	cron      *cron.Cron
	cancel    context.CancelFunc
}

// SetUp wires every dependency and returns an engine ready to Start.
//
// It performs the following steps:
//  1. Builds the dependency container for the configured storage and lock
//     drivers (file by default, postgres for shared depot deployments).
//  2. Runs schema migrations when postgres backs the queue, protected by the
//     migration lock so concurrent clients do not race.
//  3. Constructs the remote API client, connectivity monitor, dispatcher and
//     the sync manager facade application code talks to.
func SetUp(ctx context.Context, cfg *config.Config, opts ...app.ContainerOption) (*Engine, error) {
	container, err := app.NewContainer(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Engine{container: container}, nil
}

// Manager returns the facade application code submits mutations through.
func (e *Engine) Manager() *client.SyncManager {
	return e.container.SyncManager
}

// Start launches the background services. Claims left in flight by a crashed
// process are released first so their records replay.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	c := e.container
	cfg := c.Config

	released, err := c.QueueStore.ReleaseStaleInFlight(ctx, cfg.StaleInFlight)
	if err != nil {
		return fmt.Errorf("release stale claims: %w", err)
	}
	if released > 0 {
		logrus.WithField("released", released).Warn("released stale in-flight records from a previous run")
	}

	// Subscribe before the monitor starts probing so no transition can slip
	// past between the first probe and the watcher coming up.
	sub := c.Monitor.Subscribe()
	if err := c.Monitor.Start(ctx); err != nil {
		return err
	}
	go e.watchTransitions(ctx, sub)

	e.cron = cron.New()
	if _, err := e.cron.AddFunc(fmt.Sprintf("@every %s", cfg.RetryKick), func() {
		c.SyncManager.Trigger(ctx)
	}); err != nil {
		return fmt.Errorf("schedule retry kick: %w", err)
	}
	e.cron.Start()

	if cfg.AdminEnabled {
		go func() {
			handler := web.NewRouteHandler(c.SyncManager, c.Registry, cfg.AdminPort)
			if err := handler.Serve(ctx); err != nil {
				logrus.WithError(err).Error("admin server stopped")
			}
		}()
	}

	// Anything queued before this run starts replaying right away.
	c.SyncManager.Trigger(ctx)

	logrus.WithFields(logrus.Fields{
		"instance": cfg.Instance,
		"storage":  cfg.StorageDriver,
		"lock":     cfg.LockDriver,
	}).Info("sync engine started")
	return nil
}

// Stop halts background services and closes connections.
func (e *Engine) Stop() error {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	e.container.Monitor.Stop()
	if e.cancel != nil {
		e.cancel()
	}
	return e.container.Close()
}

// Run starts the engine and blocks until the context ends or the process
// receives SIGINT/SIGTERM, then shuts down cleanly.
func (e *Engine) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := e.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logrus.Info("shutting down")
	return e.Stop()
}

// watchTransitions kicks a replay pass every time the backend comes back.
func (e *Engine) watchTransitions(ctx context.Context, sub <-chan connectivity.Transition) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-sub:
			if !ok {
				return
			}
			if tr.To {
				logrus.Info("backend reachable again, starting replay")
				e.container.SyncManager.Trigger(ctx)
			} else {
				// Going offline only needs a status refresh.
				e.container.Publisher.Publish(e.counts(ctx), false, false)
			}
		}
	}
}

func (e *Engine) counts(ctx context.Context) map[state.RecordStatus]int {
	counts, err := e.container.QueueStore.CountByStatus(ctx)
	if err != nil {
		logrus.WithError(err).Warn("failed to count queue records")
		return nil
	}
	return counts
}
