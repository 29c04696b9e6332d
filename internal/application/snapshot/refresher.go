package snapshot

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

// Source loads the reference data.  Implementations should honour ctx.
type Source interface {
	Load(ctx context.Context) (*Data, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*Data, error)

// Load implements Source.
func (f SourceFunc) Load(ctx context.Context) (*Data, error) { return f(ctx) }

// Archiver stores published snapshots for audit.
type Archiver interface {
	Archive(ctx context.Context, snap *Snapshot) error
}

// RefresherConfig tunes a Refresher.
type RefresherConfig struct {
	Name        string
	Interval    time.Duration
	LoadTimeout time.Duration
}

func (c RefresherConfig) withDefaults() RefresherConfig {
	if c.Name == "" {
		c.Name = "reference"
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 30 * time.Second
	}
	return c
}

// Refresher reloads a Store from a Source on a fixed interval.  Only one Run
// may be active per Refresher.
type Refresher struct {
	cfg      RefresherConfig
	store    *Store
	source   Source
	archiver Archiver
	clock    clockwork.Clock
	metrics  *prometheus.EngineMetrics
	logger   logging.Logger
	running  atomic.Bool
	onSwap   func(*Snapshot)
}

// RefresherOption customizes a Refresher.
type RefresherOption func(*Refresher)

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) RefresherOption { return func(r *Refresher) { r.clock = c } }

// WithArchiver archives each published snapshot.
func WithArchiver(a Archiver) RefresherOption { return func(r *Refresher) { r.archiver = a } }

// WithMetrics records refresh outcomes.
func WithMetrics(m *prometheus.EngineMetrics) RefresherOption {
	return func(r *Refresher) { r.metrics = m }
}

// OnSwap registers a callback invoked after every successful swap.
func OnSwap(fn func(*Snapshot)) RefresherOption { return func(r *Refresher) { r.onSwap = fn } }

// NewRefresher wires a Refresher.
func NewRefresher(cfg RefresherConfig, store *Store, source Source, logger logging.Logger, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		cfg:    cfg.withDefaults(),
		store:  store,
		source: source,
		clock:  clockwork.NewRealClock(),
		logger: logger.Named("snapshot"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Refresh loads once and publishes the result.  On failure the current
// snapshot stays in force and the error is returned.
func (r *Refresher) Refresh(ctx context.Context) (*Snapshot, error) {
	loadCtx, cancel := context.WithTimeout(ctx, r.cfg.LoadTimeout)
	defer cancel()

	data, err := r.source.Load(loadCtx)
	if err == nil && data == nil {
		err = errors.New(errors.ErrCodeSnapshotLoadFailed, "source returned no data")
	}
	if err != nil {
		err = errors.Wrap(err, errors.ErrCodeSnapshotLoadFailed, "snapshot load failed")
		r.metrics.RecordSnapshot(r.cfg.Name, 0, 0, err)
		r.logger.Warn("snapshot refresh failed, keeping previous version",
			logging.Err(err), logging.Bool("has_previous", r.store.Ready()))
		return nil, err
	}

	snap := r.store.Swap(*data, r.clock.Now())
	r.metrics.RecordSnapshot(r.cfg.Name, int64(snap.Version), len(snap.Incidents), nil)
	r.logger.Info("snapshot published",
		logging.Int64("version", int64(snap.Version)),
		logging.String("label", snap.Label),
		logging.Int("zones", len(snap.Zones)),
		logging.Int("resources", len(snap.Resources)),
		logging.Int("incidents", len(snap.Incidents)))
	if rej := snap.Rejected; rej.Total() > 0 {
		r.metrics.RecordSnapshotRejected(r.cfg.Name, "zones", rej.Zones)
		r.metrics.RecordSnapshotRejected(r.cfg.Name, "resources", rej.Resources)
		r.metrics.RecordSnapshotRejected(r.cfg.Name, "incidents", rej.Incidents)
		r.logger.Warn("invalid reference rows left out of snapshot",
			logging.Int64("version", int64(snap.Version)),
			logging.Int("zones", rej.Zones),
			logging.Int("resources", rej.Resources),
			logging.Int("incidents", rej.Incidents),
			logging.Strings("examples", snap.Problems))
	}

	if r.archiver != nil {
		if aerr := r.archiver.Archive(ctx, snap); aerr != nil {
			r.logger.Warn("snapshot archive failed", logging.Err(aerr), logging.Int64("version", int64(snap.Version)))
		}
	}
	if r.onSwap != nil {
		r.onSwap(snap)
	}
	return snap, nil
}

// Run refreshes immediately and then on every tick until ctx is done.
// Load failures are logged and retried on the next tick.
func (r *Refresher) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New(errors.ErrCodeConflict, "snapshot refresher already running")
	}
	defer r.running.Store(false)

	_, _ = r.Refresh(ctx)
	ticker := r.clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			_, _ = r.Refresh(ctx)
		}
	}
}
