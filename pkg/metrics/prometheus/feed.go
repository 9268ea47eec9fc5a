package prometheus

import (
	"time"

	"github.com/marmos91/stockd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type feedMetrics struct {
	fetchesTotal  *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	lastRefresh   prometheus.Gauge
}

// NewFeedMetrics creates a Prometheus-backed FeedMetrics, or a no-op one when
// metrics are disabled.
func NewFeedMetrics() metrics.FeedMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopFeedMetrics()
	}

	reg := metrics.GetRegistry()

	return &feedMetrics{
		fetchesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockd_feed_fetches_total",
				Help: "Quote fetches by symbol and status",
			},
			[]string{"symbol", "status"},
		),
		fetchDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stockd_feed_fetch_duration_seconds",
				Help:    "Duration of quote fetches",
				Buckets: prometheus.DefBuckets,
			},
		),
		lastRefresh: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "stockd_feed_last_refresh_timestamp_seconds",
				Help: "Unix time of the last completed market refresh",
			},
		),
	}
}

func (m *feedMetrics) RecordFetch(symbol string, ok bool, d time.Duration) {
	status := "success"
	if !ok {
		status = "error"
	}
	m.fetchesTotal.WithLabelValues(symbol, status).Inc()
	m.fetchDuration.Observe(d.Seconds())
}

func (m *feedMetrics) SetLastRefresh(t time.Time) {
	m.lastRefresh.Set(float64(t.Unix()))
}
