// Package worker turns the incident ingest stream into periodic hotspot and
// zone-risk scans.  Every replica persists what it consumes; a Redis lease
// elects the replica that runs each scan.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/turtacn/CrimeSight-Intelligence/internal/application/engine"
	"github.com/turtacn/CrimeSight-Intelligence/internal/config"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/hotspot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/common"
)

// Ingest outcomes, used as the metric label.
const (
	IngestAccepted  = "accepted"
	IngestDuplicate = "duplicate"
	IngestRejected  = "rejected"
	IngestFailed    = "failed"
)

// Engines resolves the engine instance a scan runs on.
type Engines interface {
	Get(name string) (engine.Service, error)
}

// IncidentSink persists ingested incidents.
type IncidentSink interface {
	Insert(ctx context.Context, incs []incident.Incident) (int64, error)
}

// Lease is a cross-replica mutual exclusion, held for one scan.
type Lease interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Decoder turns a consumed message into an incident.
type Decoder func(msg *common.ConsumerMessage) (incident.Incident, error)

// Config tunes a Worker.
type Config struct {
	Engine        string
	WindowSize    int
	WindowPeriod  time.Duration
	FlushInterval time.Duration
}

// ConfigFrom maps the service configuration.
func ConfigFrom(c config.WorkerConfig) Config {
	return Config{
		Engine:        c.Engine,
		WindowSize:    c.WindowSize,
		WindowPeriod:  c.WindowPeriod,
		FlushInterval: c.FlushInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.Engine == "" {
		c.Engine = "crime_analysis"
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 10000
	}
	if c.WindowPeriod <= 0 {
		c.WindowPeriod = 7 * 24 * time.Hour
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Minute
	}
	return c
}

// ScanResult summarizes one Flush.
type ScanResult struct {
	Persisted int64 `json:"persisted"`
	Incidents int   `json:"incidents"`
	Hotspots  int   `json:"hotspots"`
	Scores    int   `json:"scores"`
	// Skipped is set when another replica held the lease.
	Skipped bool `json:"skipped"`
}

// Worker buffers ingested incidents and scans them on a ticker.
type Worker struct {
	cfg           Config
	engines       Engines
	sink          IncidentSink
	lease         Lease
	history       func(since time.Time) []incident.Incident
	jurisdictions func() incident.JurisdictionSet
	clock         clockwork.Clock
	metrics       *prometheus.EngineMetrics
	logger        logging.Logger

	mu      sync.Mutex
	window  *Window
	pending []incident.Incident
	running atomic.Bool
}

// Option customizes a Worker.
type Option func(*Worker)

// WithSink persists accepted incidents on every flush.
func WithSink(s IncidentSink) Option { return func(w *Worker) { w.sink = s } }

// WithLease runs scans only while holding l.
func WithLease(l Lease) Option { return func(w *Worker) { w.lease = l } }

// WithHistory merges incidents seen by other replicas, typically the
// snapshot's recent incidents, into each scan.
func WithHistory(fn func(since time.Time) []incident.Incident) Option {
	return func(w *Worker) { w.history = fn }
}

// WithJurisdictions restricts accepted incidents to the returned set.
func WithJurisdictions(fn func() incident.JurisdictionSet) Option {
	return func(w *Worker) { w.jurisdictions = fn }
}

func WithClock(c clockwork.Clock) Option { return func(w *Worker) { w.clock = c } }

func WithMetrics(m *prometheus.EngineMetrics) Option { return func(w *Worker) { w.metrics = m } }

// New builds a Worker.
func New(cfg Config, engines Engines, log logging.Logger, opts ...Option) *Worker {
	cfg = cfg.withDefaults()
	w := &Worker{
		cfg:     cfg,
		engines: engines,
		clock:   clockwork.NewRealClock(),
		logger:  log.Named("worker").With(logging.String("engine", cfg.Engine)),
		window:  NewWindow(cfg.WindowSize, cfg.WindowPeriod),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Handler adapts Ingest to a consumer message handler.  Undecodable
// messages are rejected like invalid ones.
func (w *Worker) Handler(decode Decoder) common.MessageHandler {
	return func(_ context.Context, msg *common.ConsumerMessage) error {
		inc, err := decode(msg)
		if err != nil {
			w.metrics.RecordIngest(IngestRejected)
			if !errors.IsValidation(err) {
				err = errors.Wrap(err, errors.ErrCodeValidation, "undecodable incident message")
			}
			return err
		}
		return w.Ingest(inc)
	}
}

// Ingest validates inc and adds it to the window.  Invalid incidents return
// a validation error so the consumer dead-letters them without retrying.
func (w *Worker) Ingest(inc incident.Incident) error {
	err := w.validate(inc)
	if err != nil {
		w.metrics.RecordIngest(IngestRejected)
		w.logger.Debug("incident rejected", logging.String("incident", inc.ID), logging.Err(err))
		return err
	}

	w.mu.Lock()
	added := w.window.Add(inc)
	if added {
		w.pending = append(w.pending, inc)
	}
	w.mu.Unlock()

	if added {
		w.metrics.RecordIngest(IngestAccepted)
	} else {
		w.metrics.RecordIngest(IngestDuplicate)
	}
	return nil
}

func (w *Worker) validate(inc incident.Incident) error {
	if inc.ID == "" {
		return errors.NewValidationError("incident id is required")
	}
	var set incident.JurisdictionSet
	if w.jurisdictions != nil {
		set = w.jurisdictions()
	}
	return inc.Validate(set)
}

// Buffered reports the window size and the incidents not yet persisted.
func (w *Worker) Buffered() (window, pending int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.window.Len(), len(w.pending)
}

// Flush persists pending incidents and, when this replica wins the lease,
// detects hotspots and scores zones over the window.  The engine publishes
// the resulting events.
func (w *Worker) Flush(ctx context.Context) (ScanResult, error) {
	var res ScanResult
	now := w.clock.Now()

	n, err := w.persist(ctx)
	res.Persisted = n
	if err != nil {
		return res, err
	}

	if w.lease != nil {
		ok, err := w.lease.TryLock(ctx)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Skipped = true
			return res, nil
		}
		defer func() {
			if err := w.lease.Unlock(context.WithoutCancel(ctx)); err != nil {
				w.logger.Warn("scan lease release failed", logging.Err(err))
			}
		}()
	}

	incs := w.scanSet(now)
	res.Incidents = len(incs)
	if len(incs) == 0 {
		return res, nil
	}

	svc, err := w.engines.Get(w.cfg.Engine)
	if err != nil {
		return res, err
	}
	hs, err := svc.DetectHotspots(ctx, &engine.HotspotRequest{
		Incidents: incs,
		Window:    hotspot.TimeWindow{Start: now.Add(-w.cfg.WindowPeriod)},
	})
	if err != nil {
		return res, errors.Wrap(err, errors.CodeUnknown, "hotspot scan")
	}
	res.Hotspots = len(hs.Hotspots)

	rr, err := svc.ScoreRisk(ctx, &engine.RiskRequest{Incidents: incs, Scope: engine.ScopeZones, AsOf: now})
	if errors.IsCode(err, errors.ErrCodeSnapshotUnavailable) {
		// No zones loaded yet; fall back to cells.
		rr, err = svc.ScoreRisk(ctx, &engine.RiskRequest{Incidents: incs, Scope: engine.ScopeCells, AsOf: now})
	}
	if err != nil {
		return res, errors.Wrap(err, errors.CodeUnknown, "risk scan")
	}
	res.Scores = len(rr.Scores)

	w.logger.Info("scan complete",
		logging.Int("incidents", res.Incidents),
		logging.Int("hotspots", res.Hotspots),
		logging.Int("scores", res.Scores),
		logging.Int64("persisted", res.Persisted))
	return res, nil
}

// persist writes pending incidents.  On failure they stay pending for the
// next flush.
func (w *Worker) persist(ctx context.Context) (int64, error) {
	if w.sink == nil {
		w.mu.Lock()
		w.pending = nil
		w.mu.Unlock()
		return 0, nil
	}
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()
	if len(batch) == 0 {
		return 0, nil
	}

	n, err := w.sink.Insert(ctx, batch)
	if err != nil {
		w.mu.Lock()
		w.pending = append(batch, w.pending...)
		w.mu.Unlock()
		w.metrics.RecordIngest(IngestFailed)
		w.logger.Warn("persisting incidents failed, will retry", logging.Int("pending", len(batch)), logging.Err(err))
		return 0, err
	}
	return n, nil
}

// scanSet prunes the window, merges in history bounded the same way, and
// drops rows that no longer validate.  History comes from storage and the
// jurisdiction set may have changed since ingest, so one stale row must not
// fail the whole scan.
func (w *Worker) scanSet(now time.Time) []incident.Incident {
	w.mu.Lock()
	w.window.Prune(now)
	local := w.window.Incidents()
	w.mu.Unlock()

	incs := local
	if w.history != nil {
		merged := NewWindow(w.cfg.WindowSize, w.cfg.WindowPeriod)
		for _, inc := range w.history(now.Add(-w.cfg.WindowPeriod)) {
			merged.Add(inc)
		}
		for _, inc := range local {
			merged.Add(inc)
		}
		merged.Prune(now)
		incs = merged.Incidents()
	}

	valid := incs[:0]
	var dropped int
	for _, inc := range incs {
		if err := w.validate(inc); err != nil {
			dropped++
			w.logger.Debug("incident left out of scan", logging.String("incident", inc.ID), logging.Err(err))
			continue
		}
		valid = append(valid, inc)
	}
	if dropped > 0 {
		w.logger.Warn("invalid incidents left out of scan", logging.Int("dropped", dropped))
	}
	return valid
}

// Run flushes on every tick until ctx ends, then persists what is left.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New(errors.ErrCodeConflict, "worker already running")
	}
	defer w.running.Store(false)

	ticker := w.clock.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			_, err := w.persist(final)
			cancel()
			return err
		case <-ticker.Chan():
			if _, err := w.Flush(ctx); err != nil {
				w.logger.Error("scan failed", logging.Err(err))
			}
		}
	}
}
