package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"fieldsync/client"
	"fieldsync/internal/syncerrors"
)

// RouteHandler serves the local admin surface: queue inspection, manual
// retry/discard of failed records, and metrics. It binds to localhost; the
// agent has no remote-facing server.
type RouteHandler struct {
	manager  *client.SyncManager
	registry *prometheus.Registry
	port     uint
}

func NewRouteHandler(manager *client.SyncManager, registry *prometheus.Registry, port uint) *RouteHandler {
	return &RouteHandler{
		manager:  manager,
		registry: registry,
		port:     port,
	}
}

func (h *RouteHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/status", h.handleStatus)
	r.Get("/records", h.handleRecords)
	r.Post("/records/{id}/retry", h.handleRetry)
	r.Delete("/records/{id}", h.handleDelete)
	r.Post("/sync", h.handleSync)
	r.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))

	return r
}

// Serve blocks until the context ends, then drains in-flight requests.
func (h *RouteHandler) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", h.port),
		Handler: h.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logrus.WithField("addr", srv.Addr).Info("admin server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (h *RouteHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Snapshot())
}

func (h *RouteHandler) handleRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.manager.Records(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

func (h *RouteHandler) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.manager.Retry(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "pending"})
}

// handleDelete cancels a pending record or discards a failed one.
func (h *RouteHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.manager.Cancel(r.Context(), id)
	if errors.Is(err, client.ErrNotCancelable) {
		err = h.manager.Discard(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RouteHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	h.manager.Trigger(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Warn("failed to encode admin response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, syncerrors.ErrRecordMissing):
		code = http.StatusNotFound
	case errors.Is(err, client.ErrNotFailed), errors.Is(err, client.ErrNotCancelable):
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
