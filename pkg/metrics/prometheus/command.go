package prometheus

import (
	"time"

	"github.com/marmos91/stockd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// commandMetrics is the Prometheus implementation of metrics.CommandMetrics.
type commandMetrics struct {
	commandsTotal       *prometheus.CounterVec
	commandDuration     *prometheus.HistogramVec
	queueDepth          prometheus.Gauge
	busyWorkers         prometheus.Gauge
	taskDuration        prometheus.Histogram
	taskPanics          prometheus.Counter
	inFlight            prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	connectionsRejected *prometheus.CounterVec
}

// NewCommandMetrics creates a Prometheus-backed CommandMetrics.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewCommandMetrics() metrics.CommandMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopCommandMetrics()
	}

	reg := metrics.GetRegistry()

	return &commandMetrics{
		commandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockd_commands_total",
				Help: "Total number of dispatched commands by verb, status and error kind",
			},
			[]string{"verb", "status", "kind"},
		),
		commandDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "stockd_command_duration_milliseconds",
				Help: "Duration of command dispatch in milliseconds",
				Buckets: []float64{
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					1000, // 1s
				},
			},
			[]string{"verb"},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "stockd_pool_queue_depth",
				Help: "Tasks waiting for a worker",
			},
		),
		busyWorkers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "stockd_pool_busy_workers",
				Help: "Workers currently running a task",
			},
		),
		taskDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stockd_pool_task_duration_seconds",
				Help:    "Duration of worker pool tasks",
				Buckets: prometheus.DefBuckets,
			},
		),
		taskPanics: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "stockd_pool_task_panics_total",
				Help: "Tasks that panicked and were recovered",
			},
		),
		inFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "stockd_admission_in_flight",
				Help: "Admission slots currently held",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "stockd_connections_accepted_total",
				Help: "Total number of connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "stockd_connections_closed_total",
				Help: "Total number of connections closed",
			},
		),
		connectionsRejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockd_connections_rejected_total",
				Help: "Connections closed before dispatch, by reason",
			},
			[]string{"reason"},
		),
	}
}

func (m *commandMetrics) ObserveCommand(verb string, ok bool, kind string, d time.Duration) {
	status := "ok"
	if !ok {
		status = "error"
	}

	m.commandsTotal.WithLabelValues(verb, status, kind).Inc()
	m.commandDuration.WithLabelValues(verb).Observe(d.Seconds() * 1000)
}

func (m *commandMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *commandMetrics) SetBusyWorkers(n int) {
	m.busyWorkers.Set(float64(n))
}

func (m *commandMetrics) ObserveTask(d time.Duration, panicked bool) {
	m.taskDuration.Observe(d.Seconds())
	if panicked {
		m.taskPanics.Inc()
	}
}

func (m *commandMetrics) SetInFlight(n int) {
	m.inFlight.Set(float64(n))
}

func (m *commandMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *commandMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *commandMetrics) RecordConnectionRejected(reason string) {
	m.connectionsRejected.WithLabelValues(reason).Inc()
}
