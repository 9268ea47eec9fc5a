package metrics_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/stockd/pkg/metrics"
	"github.com/marmos91/stockd/pkg/metrics/prometheus"
	"github.com/marmos91/stockd/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopMetrics(t *testing.T) {
	m := metrics.NewNoopCommandMetrics()
	m.ObserveCommand("LOGIN", true, "", time.Millisecond)
	m.RecordConnectionRejected("admission")

	f := metrics.NewNoopFeedMetrics()
	f.RecordFetch("AAPL", false, time.Second)
	f.SetLastRefresh(time.Now())

	metrics.NewNoopStoreMetrics().RecordOperation("read", "users", time.Millisecond, nil)
}

// Runs before InitRegistry is called anywhere in this package's tests.
func TestConstructorsDisabled(t *testing.T) {
	if metrics.IsEnabled() {
		t.Skip("registry already initialized")
	}
	assert.Equal(t, metrics.NewNoopCommandMetrics(), prometheus.NewCommandMetrics())

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPrometheusExport(t *testing.T) {
	metrics.InitRegistry()
	require.True(t, metrics.IsEnabled())

	m := prometheus.NewCommandMetrics()
	m.ObserveCommand("BUY", false, "unknown ticker", 2*time.Millisecond)
	m.ObserveTask(time.Millisecond, true)
	m.SetInFlight(3)
	m.RecordConnectionAccepted()
	m.RecordConnectionRejected("throttled")

	f := prometheus.NewFeedMetrics()
	f.RecordFetch("AAPL", true, time.Millisecond)

	s := prometheus.NewStoreMetrics("csv")
	s.RecordOperation("update", "holdings", time.Millisecond, nil)
	s.RecordOperation("read", "market", time.Millisecond, fmt.Errorf("read market: %w: disk gone", store.ErrStoreIO))
	s.RecordOperation("update", "holdings", time.Millisecond, errors.New("insufficient holdings"))

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, want := range []string{
		`stockd_commands_total{kind="unknown ticker",status="error",verb="BUY"} 1`,
		`stockd_pool_task_panics_total 1`,
		`stockd_admission_in_flight 3`,
		`stockd_connections_rejected_total{reason="throttled"} 1`,
		`stockd_feed_fetches_total{status="success",symbol="AAPL"} 1`,
		`stockd_store_operations_total{backend="csv",domain="holdings",operation="update",status="success"} 1`,
		`stockd_store_operations_total{backend="csv",domain="holdings",operation="update",status="rejected"} 1`,
		`stockd_store_operations_total{backend="csv",domain="market",operation="read",status="io_error"} 1`,
	} {
		assert.True(t, strings.Contains(body, want), "missing %s", want)
	}
}

func TestIndexAndNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
