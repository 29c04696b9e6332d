// Package engine exposes the crime-analysis components as one Service
// contract.  Named engines (crime_analysis, predictive_ai, city_brain, ...)
// are instances of the same implementation that differ only in their
// RunConfig.
package engine

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/turtacn/CrimeSight-Intelligence/internal/application/snapshot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/event"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

// Service is the contract every named engine implements.
type Service interface {
	Name() string
	RunConfig() RunConfig

	Bin(ctx context.Context, req *BinRequest) (*BinResponse, error)
	ScoreRisk(ctx context.Context, req *RiskRequest) (*RiskResponse, error)
	ScoreEntities(ctx context.Context, req *EntityRequest) (*EntityResponse, error)
	DetectHotspots(ctx context.Context, req *HotspotRequest) (*HotspotResponse, error)
	TrackEvolution(ctx context.Context, req *EvolutionRequest) (*EvolutionResponse, error)
	Forecast(ctx context.Context, req *ForecastRequest) (*ForecastResponse, error)
	OptimizePatrol(ctx context.Context, req *PatrolRequest) (*PatrolResponse, error)
	AllocateResources(ctx context.Context, req *AllocationRequest) (*AllocationResponse, error)
	SnapshotInfo(ctx context.Context) (*SnapshotInfoResponse, error)
}

// ResultCache memoizes responses.  It matches the GetOrSet of the Redis
// cache adapter.
type ResultCache interface {
	GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, loader func(ctx context.Context) (interface{}, error)) error
}

// Deps are the collaborators shared by every engine instance.  Only Store is
// required.
type Deps struct {
	Store     *snapshot.Store
	Cache     ResultCache
	Publisher event.Publisher
	Metrics   *prometheus.EngineMetrics
	Clock     clockwork.Clock
	Logger    logging.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Store == nil {
		d.Store = snapshot.NewStore()
	}
	if d.Publisher == nil {
		d.Publisher = event.NopPublisher{}
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = logging.NewNopLogger()
	}
	return d
}

type service struct {
	name   string
	cfg    atomic.Pointer[RunConfig]
	deps   Deps
	logger logging.Logger
}

func newService(name string, rc RunConfig, deps Deps) *service {
	s := &service{
		name:   name,
		deps:   deps,
		logger: deps.Logger.Named("engine").With(logging.String("engine", name)),
	}
	s.cfg.Store(&rc)
	return s
}

func (s *service) Name() string { return s.name }

// RunConfig returns the configuration new calls start with.
func (s *service) RunConfig() RunConfig { return *s.cfg.Load() }

func (s *service) setRunConfig(rc RunConfig) { s.cfg.Store(&rc) }

// ─────────────────────────────────────────────────────────────────────────────
// Call plumbing
// ─────────────────────────────────────────────────────────────────────────────

// call carries the per-invocation state a compute function reads and the
// side results it produces.
type call struct {
	rc       RunConfig
	snap     *snapshot.Snapshot
	asOf     time.Time
	at       time.Time
	src      event.Source
	notes    []string
	events   []event.Event
	degraded string
}

func (c *call) snapshotVersion() uint64 {
	if c.snap == nil {
		return 0
	}
	return c.snap.Version
}

func (c *call) snapshot() (*snapshot.Snapshot, error) {
	if c.snap == nil {
		return nil, errors.New(errors.ErrCodeSnapshotUnavailable, "reference snapshot not loaded yet")
	}
	return c.snap, nil
}

// incidents returns own after validating it, or the snapshot's incidents
// when own is empty.
func (c *call) incidents(own []incident.Incident) ([]incident.Incident, error) {
	if len(own) > 0 {
		if err := incident.ValidateAll(own, c.jurisdictions()); err != nil {
			return nil, err
		}
		return own, nil
	}
	snap, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Incidents, nil
}

func (c *call) jurisdictions() incident.JurisdictionSet {
	if c.snap == nil {
		return nil
	}
	return c.snap.JurisdictionSet()
}

func (c *call) note(msg string) { c.notes = append(c.notes, msg) }

func (c *call) emit(events ...event.Event) { c.events = append(c.events, events...) }

type callOptions struct {
	snapshotBacked bool
	asOf           time.Time
}

type response[R any] interface {
	*R
	meta() *Meta
}

func (r *BinResponse) meta() *Meta        { return &r.Meta }
func (r *RiskResponse) meta() *Meta       { return &r.Meta }
func (r *EntityResponse) meta() *Meta     { return &r.Meta }
func (r *HotspotResponse) meta() *Meta    { return &r.Meta }
func (r *EvolutionResponse) meta() *Meta  { return &r.Meta }
func (r *ForecastResponse) meta() *Meta   { return &r.Meta }
func (r *PatrolResponse) meta() *Meta     { return &r.Meta }
func (r *AllocationResponse) meta() *Meta { return &r.Meta }

// run resolves the RunConfig and snapshot once, applies the deadline,
// consults the cache for snapshot-backed requests and records the outcome.
func run[R any, P response[R]](ctx context.Context, s *service, op string, req interface{}, opts callOptions, compute func(context.Context, *call) (P, error)) (P, error) {
	start := s.deps.Clock.Now()
	rc := s.RunConfig()
	c := &call{rc: rc, at: start.UTC()}

	if snap, err := s.deps.Store.Load(); err == nil {
		c.snap = snap
	} else if opts.snapshotBacked {
		s.finish(op, start, c, err)
		return nil, err
	}
	c.asOf = opts.asOf
	if c.asOf.IsZero() {
		if opts.snapshotBacked {
			c.asOf = c.snap.LoadedAt
		} else {
			c.asOf = start
		}
	}
	c.asOf = c.asOf.UTC()
	c.src = event.Source{Engine: s.name, ConfigVersion: rc.Version, SnapshotVersion: c.snapshotVersion()}

	if rc.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.Deadline)
		defer cancel()
	}

	withMeta := func(ctx context.Context, c *call) (P, error) {
		resp, err := compute(ctx, c)
		if err != nil {
			return nil, err
		}
		m := resp.meta()
		m.AsOf = c.asOf
		m.Notes = c.notes
		return resp, nil
	}

	var (
		resp   P
		cached bool
		err    error
	)
	if opts.snapshotBacked && s.deps.Cache != nil && rc.CacheTTL > 0 {
		resp, cached, err = cachedCompute[R, P](ctx, s, op, req, c, withMeta)
	} else {
		resp, err = withMeta(ctx, c)
	}
	if err != nil {
		s.finish(op, start, c, err)
		return nil, err
	}

	m := resp.meta()
	m.RequestID = uuid.NewString()
	m.Engine = s.name
	m.ConfigVersion = rc.Version
	m.SnapshotVersion = c.snapshotVersion()
	m.Cached = cached
	if !cached {
		s.publish(ctx, c.events)
	}
	s.finish(op, start, c, nil)
	return resp, nil
}

var errSkipCache = errors.New(errors.ErrCodeInternal, "result not cacheable")

// cachedCompute serves from the cache when possible.  Degraded results are
// never stored, and a failing cache falls through to direct computation.
// A caller that shared a degraded load with another caller (the cache
// returns errSkipCache without running its loader) computes its own result.
func cachedCompute[R any, P response[R]](ctx context.Context, s *service, op string, req interface{}, c *call, compute func(context.Context, *call) (P, error)) (P, bool, error) {
	key, err := CacheKey(s.name, op, c.rc.Version, c.snapshotVersion(), req)
	if err != nil {
		s.deps.Metrics.RecordCache(s.name, op, "error")
		resp, err := compute(ctx, c)
		return resp, false, err
	}

	var (
		fresh      P
		computeErr error
		loaded     bool
	)
	dest := P(new(R))
	err = s.deps.Cache.GetOrSet(ctx, key, dest, c.rc.CacheTTL, func(ctx context.Context) (interface{}, error) {
		loaded = true
		fresh, computeErr = compute(ctx, c)
		if computeErr != nil {
			return nil, computeErr
		}
		if c.degraded != "" {
			return nil, errSkipCache
		}
		return fresh, nil
	})
	switch {
	case loaded:
		s.deps.Metrics.RecordCache(s.name, op, "miss")
		return fresh, false, computeErr
	case err == nil:
		s.deps.Metrics.RecordCache(s.name, op, "hit")
		return dest, true, nil
	case stderrors.Is(err, errSkipCache):
		s.deps.Metrics.RecordCache(s.name, op, "skip")
		s.logger.Debug("shared result was degraded, computing directly", logging.String("operation", op))
		resp, err := compute(ctx, c)
		return resp, false, err
	default:
		s.deps.Metrics.RecordCache(s.name, op, "error")
		s.logger.Warn("result cache unavailable, computing directly",
			logging.String("operation", op), logging.Err(err))
		resp, err := compute(ctx, c)
		return resp, false, err
	}
}

func (s *service) finish(op string, start time.Time, c *call, err error) {
	d := s.deps.Clock.Since(start)
	status := prometheus.StatusOK
	switch {
	case err != nil && errors.IsValidation(err):
		status = prometheus.StatusInvalid
	case err != nil:
		status = prometheus.StatusError
	case c.degraded != "":
		status = prometheus.StatusDegraded
	}
	s.deps.Metrics.RecordRequest(s.name, op, status, d)

	fields := []logging.Field{logging.String("operation", op), logging.Duration("elapsed", d)}
	switch status {
	case prometheus.StatusDegraded:
		s.deps.Metrics.RecordDegraded(s.name, op, c.degraded)
		s.logger.Warn("degraded result", append(fields, logging.String("reason", c.degraded))...)
	case prometheus.StatusError:
		s.logger.Error("operation failed", append(fields, logging.Err(err))...)
	case prometheus.StatusInvalid:
		s.logger.Debug("rejected request", append(fields, logging.Err(err))...)
	default:
		s.logger.Debug("operation completed", fields...)
	}
}

// publish hands events to the publisher.  Failures are logged and counted
// but never fail the call.
func (s *service) publish(ctx context.Context, events []event.Event) {
	if len(events) == 0 {
		return
	}
	err := s.deps.Publisher.Publish(context.WithoutCancel(ctx), events...)
	for _, e := range events {
		s.deps.Metrics.RecordEvent(string(e.Type), err)
	}
	if err != nil {
		s.logger.Warn("event publish failed", logging.Err(err), logging.Int("events", len(events)))
	}
}
