package prometheus

import (
	"errors"
	"time"

	"github.com/marmos91/stockd/pkg/metrics"
	"github.com/marmos91/stockd/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type storeMetrics struct {
	backend           string
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewStoreMetrics creates a Prometheus-backed StoreMetrics labelled with the
// backend type ("csv", "sqlite", ...), or a no-op one when metrics are disabled.
func NewStoreMetrics(backend string) metrics.StoreMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopStoreMetrics()
	}

	reg := metrics.GetRegistry()

	return &storeMetrics{
		backend: backend,
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockd_store_operations_total",
				Help: "Record Store calls by backend, operation, domain and status",
			},
			[]string{"backend", "operation", "domain", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "stockd_store_operation_duration_seconds",
				Help: "Duration of Record Store calls in seconds, lock wait included",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
					5.0,    // 5s, slow S3 round trips
				},
			},
			[]string{"backend", "operation"},
		),
	}
}

func (m *storeMetrics) RecordOperation(operation, domain string, d time.Duration, err error) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, store.ErrStoreIO):
		status = "io_error"
	default:
		// Rejected by the caller's update function, e.g. insufficient holdings.
		status = "rejected"
	}

	m.operationsTotal.WithLabelValues(m.backend, operation, domain, status).Inc()
	m.operationDuration.WithLabelValues(m.backend, operation).Observe(d.Seconds())
}
