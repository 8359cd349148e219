package httpapi

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/redstone/orderflow/internal/eventlog"
)

// Health serves the liveness and broker checks. It reports unavailable until
// SetReady(true) is called once the broker connections are up.
type Health struct {
	ready   atomic.Bool
	brokers []string
	ping    func(ctx context.Context, brokers []string) error
}

func NewHealth(brokers []string) *Health {
	return &Health{brokers: brokers, ping: eventlog.Ping}
}

func (h *Health) SetReady(ready bool) { h.ready.Store(ready) }

func (h *Health) Mount(r chi.Router) {
	r.Get("/healthz", h.healthz)
	r.Get("/health", h.healthz)
	r.Get("/healthz/broker", h.broker)
}

func (h *Health) healthz(w http.ResponseWriter, _ *http.Request) {
	if !h.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (h *Health) broker(w http.ResponseWriter, r *http.Request) {
	if err := h.ping(r.Context(), h.brokers); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unreachable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}
