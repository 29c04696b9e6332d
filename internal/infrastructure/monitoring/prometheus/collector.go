// Package prometheus owns the process metrics registry and the engine metric
// families.  Callers never touch the default global registry.
package prometheus

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
)

// DefaultDurationBuckets covers sub-millisecond spatial binning up to
// multi-second forecasts.
var DefaultDurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// CollectorConfig configures the registry.
type CollectorConfig struct {
	Namespace            string            `mapstructure:"namespace"`
	Subsystem            string            `mapstructure:"subsystem"`
	EnableProcessMetrics bool              `mapstructure:"enable_process_metrics"`
	EnableGoMetrics      bool              `mapstructure:"enable_go_metrics"`
	ConstLabels          map[string]string `mapstructure:"const_labels"`
}

// Collector wraps a private prometheus.Registry.  Registering the same name
// twice returns the existing vector; a registration conflict is logged and
// yields an unregistered vector so that callers never have to nil-check.
type Collector struct {
	registry *prometheus.Registry
	cfg      CollectorConfig
	logger   logging.Logger

	mu   sync.Mutex
	vecs map[string]prometheus.Collector
}

// NewCollector creates a Collector.  Namespace is mandatory.
func NewCollector(cfg CollectorConfig, logger logging.Logger) (*Collector, error) {
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("prometheus: namespace is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	reg := prometheus.NewRegistry()
	if cfg.EnableProcessMetrics {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: cfg.Namespace}))
	}
	if cfg.EnableGoMetrics {
		reg.MustRegister(collectors.NewGoCollector())
	}
	return &Collector{registry: reg, cfg: cfg, logger: logger, vecs: make(map[string]prometheus.Collector)}, nil
}

// Registry exposes the underlying registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (c *Collector) register(name, kind string, vec prometheus.Collector) prometheus.Collector {
	c.mu.Lock()
	defer c.mu.Unlock()

	fq := prometheus.BuildFQName(c.cfg.Namespace, c.cfg.Subsystem, name)
	if existing, ok := c.vecs[fq]; ok {
		return existing
	}
	if err := c.registry.Register(vec); err != nil {
		c.logger.Error("metric registration failed",
			logging.String("name", fq), logging.String("kind", kind), logging.Err(err))
		return vec
	}
	c.vecs[fq] = vec
	return vec
}

// Counter registers (or returns) a counter vector.
func (c *Collector) Counter(name, help string, labels ...string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.cfg.Namespace, Subsystem: c.cfg.Subsystem, Name: name, Help: help, ConstLabels: c.cfg.ConstLabels,
	}, labels)
	if got, ok := c.register(name, "counter", vec).(*prometheus.CounterVec); ok {
		return got
	}
	c.logger.Warn("metric type mismatch", logging.String("name", name), logging.String("kind", "counter"))
	return vec
}

// Gauge registers (or returns) a gauge vector.
func (c *Collector) Gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.cfg.Namespace, Subsystem: c.cfg.Subsystem, Name: name, Help: help, ConstLabels: c.cfg.ConstLabels,
	}, labels)
	if got, ok := c.register(name, "gauge", vec).(*prometheus.GaugeVec); ok {
		return got
	}
	c.logger.Warn("metric type mismatch", logging.String("name", name), logging.String("kind", "gauge"))
	return vec
}

// Histogram registers (or returns) a histogram vector.  nil buckets use
// DefaultDurationBuckets.
func (c *Collector) Histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = DefaultDurationBuckets
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.cfg.Namespace, Subsystem: c.cfg.Subsystem, Name: name, Help: help,
		ConstLabels: c.cfg.ConstLabels, Buckets: buckets,
	}, labels)
	if got, ok := c.register(name, "histogram", vec).(*prometheus.HistogramVec); ok {
		return got
	}
	c.logger.Warn("metric type mismatch", logging.String("name", name), logging.String("kind", "histogram"))
	return vec
}

// Timer observes elapsed seconds into a histogram.
type Timer struct {
	obs   prometheus.Observer
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer(obs prometheus.Observer) *Timer { return &Timer{obs: obs, start: time.Now()} }

// ObserveDuration records the elapsed time and returns it.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	if t.obs != nil {
		t.obs.Observe(d.Seconds())
	}
	return d
}
