package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors on a private registry. A nil
// *Metrics records nothing.
type Metrics struct {
	registry            *prometheus.Registry
	filesProcessed      *prometheus.CounterVec
	rowsUpdated         *prometheus.CounterVec
	notificationsFailed *prometheus.CounterVec
	actionDuration      *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		filesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recon_files_processed_total",
			Help: "Files processed by a watch process, by outcome status.",
		}, []string{"process", "status"}),
		rowsUpdated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recon_indicator_rows_updated_total",
			Help: "Detail rows whose indicator was set by reconciliation.",
		}, []string{"indicator"}),
		notificationsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recon_notifications_failed_total",
			Help: "Outcome notifications that could not be delivered.",
		}, []string{"process"}),
		actionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recon_action_duration_seconds",
			Help:    "Wall time of a load or update action.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"process"}),
	}
}

func (m *Metrics) ObserveAction(process, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.filesProcessed.WithLabelValues(process, status).Inc()
	m.actionDuration.WithLabelValues(process).Observe(d.Seconds())
}

func (m *Metrics) AddRowsUpdated(indicator string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsUpdated.WithLabelValues(indicator).Add(float64(n))
}

func (m *Metrics) NotificationFailed(process string) {
	if m == nil {
		return
	}
	m.notificationsFailed.WithLabelValues(process).Inc()
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
