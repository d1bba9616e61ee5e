package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"recon_automation/internal/config"
	"recon_automation/internal/events"
	"recon_automation/internal/metrics"
	"recon_automation/internal/store"
)

// StatusStore is the store surface the ops endpoints read.
type StatusStore interface {
	Health(ctx context.Context) error
	RecentHeaders(ctx context.Context, limit int) ([]store.Header, error)
}

// Router builds HTTP handlers for /ops and /metrics.
type Router struct {
	cfg     config.Config
	store   StatusStore
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewRouter(cfg config.Config, st StatusStore, bus *events.Bus, m *metrics.Metrics, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{cfg: cfg, store: st, bus: bus, metrics: m, logger: logger}
}

func (r *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ops/status", r.status)
	mux.HandleFunc("/ops/health", r.health)
	mux.HandleFunc("/ops/headers", r.headers)
	if r.metrics != nil {
		mux.Handle("/metrics", r.metrics.Handler())
	}
}

func (r *Router) status(w http.ResponseWriter, req *http.Request) {
	headers, err := r.store.RecentHeaders(req.Context(), 5)
	if err != nil {
		r.logger.Warn("status headers", zap.Error(err))
	}
	var outcomes []any
	if r.bus != nil {
		outcomes = r.bus.Recent()
	}
	r.respondJSON(w, map[string]any{
		"environment": r.cfg.Environment,
		"processes":   []string{r.cfg.Load.Name, r.cfg.Update.Name},
		"vendors":     r.cfg.ActiveVendors(),
		"outcomes":    outcomes,
		"headers":     headers,
	})
}

func (r *Router) headers(w http.ResponseWriter, req *http.Request) {
	limit := 50
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	list, err := r.store.RecentHeaders(req.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	r.respondJSON(w, list)
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	if err := r.store.Health(req.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) respondJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.logger.Warn("write json", zap.Error(err))
	}
}
