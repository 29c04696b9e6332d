package prometheus

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(CollectorConfig{Namespace: "crimesight", Subsystem: "test"}, logging.NewNopLogger())
	require.NoError(t, err)
	return c
}

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestNewCollector_RequiresNamespace(t *testing.T) {
	_, err := NewCollector(CollectorConfig{}, nil)
	assert.Error(t, err)
}

func TestNewCollector_RuntimeCollectors(t *testing.T) {
	c, err := NewCollector(CollectorConfig{Namespace: "crimesight", EnableGoMetrics: true, EnableProcessMetrics: true}, nil)
	require.NoError(t, err)
	assert.Contains(t, scrape(t, c), "go_goroutines")
}

func TestCollector_CounterIsIdempotent(t *testing.T) {
	c := newTestCollector(t)
	a := c.Counter("hits_total", "hits", "route")
	b := c.Counter("hits_total", "hits", "route")
	assert.Same(t, a, b)

	a.WithLabelValues("/x").Inc()
	b.WithLabelValues("/x").Inc()
	assert.Equal(t, 2.0, testutil.ToFloat64(a.WithLabelValues("/x")))
	assert.Contains(t, scrape(t, c), "crimesight_test_hits_total")
}

func TestCollector_TypeMismatchReturnsUsableVector(t *testing.T) {
	c := newTestCollector(t)
	c.Counter("shared", "as counter")

	g := c.Gauge("shared", "as gauge")
	require.NotNil(t, g)
	g.WithLabelValues().Set(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(g.WithLabelValues()))
}

func TestCollector_HistogramDefaultBuckets(t *testing.T) {
	c := newTestCollector(t)
	h := c.Histogram("latency_seconds", "latency", nil, "op")
	h.WithLabelValues("bin").Observe(0.02)
	assert.Contains(t, scrape(t, c), `crimesight_test_latency_seconds_bucket{op="bin",le="0.025"} 1`)
}

func TestTimer_ObserveDuration(t *testing.T) {
	c := newTestCollector(t)
	h := c.Histogram("timer_seconds", "timer", nil)
	timer := NewTimer(h.WithLabelValues())
	time.Sleep(time.Millisecond)
	assert.Greater(t, timer.ObserveDuration(), time.Duration(0))
	assert.Equal(t, 1, testutil.CollectAndCount(h))

	assert.NotPanics(t, func() { NewTimer(nil).ObserveDuration() })
}
