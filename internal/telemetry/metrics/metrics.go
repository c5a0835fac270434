// Package metrics exposes the pool/transport/queue/approval gauges and
// counters named in SPEC_FULL.md's Telemetry module, grounded on the
// prometheus/client_golang NewXMetricsWithRegisterer + GaugeVec/CounterVec
// pattern observed in the pack's observability tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every Prometheus collector the core registers. Scraping
// them over HTTP is the dashboard's job and out of scope here; this type
// only owns instrumentation and registration.
type Metrics struct {
	poolSize            prometheus.Gauge
	poolMaxProcesses     prometheus.Gauge
	transportMessages    *prometheus.CounterVec
	transportUptime      *prometheus.GaugeVec
	queueDepth           *prometheus.GaugeVec
	approvalPending      prometheus.Gauge
	approvalResolved     *prometheus.CounterVec
}

// New registers all collectors against the default Prometheus registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers all collectors against reg, allowing tests to
// pass a fresh prometheus.NewRegistry() and avoid cross-test collisions.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iris_pool_size",
			Help: "Number of live transports currently held by the process pool.",
		}),
		poolMaxProcesses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iris_pool_max_processes",
			Help: "Configured upper bound on live transports.",
		}),
		transportMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iris_transport_messages_processed_total",
			Help: "Tells completed by a transport, by fromTeam-toTeam key.",
		}, []string{"key"}),
		transportUptime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "iris_transport_uptime_seconds",
			Help: "Seconds since a transport was spawned, by key.",
		}, []string{"key"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "iris_queue_depth",
			Help: "Pending tasks in a target's FIFO.",
		}, []string{"target"}),
		approvalPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iris_approval_pending",
			Help: "Outstanding pending-approval entries.",
		}),
		approvalResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iris_approval_resolved_total",
			Help: "Resolved approvals by outcome (approved, denied, timed out, canceled, shutting down).",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.poolSize,
		m.poolMaxProcesses,
		m.transportMessages,
		m.transportUptime,
		m.queueDepth,
		m.approvalPending,
		m.approvalResolved,
	)
	return m
}

func (m *Metrics) SetPoolSize(n int)        { m.poolSize.Set(float64(n)) }
func (m *Metrics) SetPoolMaxProcesses(n int) { m.poolMaxProcesses.Set(float64(n)) }

func (m *Metrics) IncTransportMessages(key string) {
	m.transportMessages.WithLabelValues(key).Inc()
}

func (m *Metrics) SetTransportUptime(key string, seconds float64) {
	m.transportUptime.WithLabelValues(key).Set(seconds)
}

func (m *Metrics) DeleteTransport(key string) {
	m.transportUptime.DeleteLabelValues(key)
}

func (m *Metrics) SetQueueDepth(target string, n int) {
	m.queueDepth.WithLabelValues(target).Set(float64(n))
}

func (m *Metrics) SetApprovalPending(n int) { m.approvalPending.Set(float64(n)) }

func (m *Metrics) IncApprovalResolved(outcome string) {
	m.approvalResolved.WithLabelValues(outcome).Inc()
}
