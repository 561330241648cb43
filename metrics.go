package popx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/popxhq/popx/gateway"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "popx"

// Metrics groups the prometheus collectors of the application. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry             *prometheus.Registry
	gatewayCalls         *prometheus.CounterVec
	reconciles           *prometheus.CounterVec
	reconcileDuration    prometheus.Histogram
	clients              prometheus.Gauge
	authenticatedClients prometheus.Gauge
}

// NewMetrics registers the collectors on a fresh registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "gateway_calls_total",
			Help:      "Auth gateway calls by operation and HTTP status.",
		}, []string{"operation", "status"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_reconciles_total",
			Help:      "Session reconciliations by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "session_reconcile_duration_seconds",
			Help:      "Time spent reconciling a gateway session into the store.",
			Buckets:   prometheus.DefBuckets,
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "clients",
			Help:      "Browser clients currently held in memory.",
		}),
		authenticatedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "authenticated_clients",
			Help:      "Browser clients whose session store holds a session.",
		}),
	}

	m.registry.MustRegister(
		m.gatewayCalls,
		m.reconciles,
		m.reconcileDuration,
		m.clients,
		m.authenticatedClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveGateway counts a gateway call. It matches gateway.Observer.
func (m *Metrics) ObserveGateway(operation string, status int, err error) {
	if m == nil {
		return
	}
	label := strconv.Itoa(status)
	if status == 0 {
		label = "error"
	}
	m.gatewayCalls.WithLabelValues(operation, label).Inc()
}

var _ gateway.Observer = (*Metrics)(nil).ObserveGateway

func (m *Metrics) observeReconcile(trigger, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(trigger, outcome).Inc()
	m.reconcileDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) setClients(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}

func (m *Metrics) authenticated(delta float64) {
	if m == nil {
		return
	}
	m.authenticatedClients.Add(delta)
}
