package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/turtacn/CrimeSight-Intelligence/internal/application/engine"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/spatial"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/client"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

// remoteEngine runs engine operations on an API server.
type remoteEngine struct {
	ec *client.EngineClient
	rc engine.RunConfig
}

var _ engine.Service = (*remoteEngine)(nil)

// dialEngine looks name up on the server at addr.  Only the engine name,
// config version and resolution of the RunConfig are known remotely.
func dialEngine(ctx context.Context, addr, name string, timeout time.Duration, logger logging.Logger) (*remoteEngine, error) {
	c, err := client.NewClient(addr,
		client.WithTimeout(timeout),
		client.WithLogger(clientLogger{logger}),
		client.WithUserAgent("crimesight-cli/"+Version))
	if err != nil {
		return nil, err
	}
	list, err := c.Engines(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnknown, "list engines on "+addr)
	}
	for _, e := range list.Engines {
		if e.Name == name {
			return &remoteEngine{
				ec: c.Engine(name),
				rc: engine.RunConfig{Engine: name, Version: e.ConfigVersion, Resolution: spatial.Resolution(e.Resolution)},
			}, nil
		}
	}
	return nil, errors.Newf(errors.ErrCodeEngineNotFound, "engine %q is not configured on %s", name, addr)
}

func (r *remoteEngine) Name() string                { return r.ec.Name() }
func (r *remoteEngine) RunConfig() engine.RunConfig { return r.rc }

func (r *remoteEngine) Bin(ctx context.Context, req *engine.BinRequest) (*engine.BinResponse, error) {
	return r.ec.Bin(ctx, req)
}

func (r *remoteEngine) ScoreRisk(ctx context.Context, req *engine.RiskRequest) (*engine.RiskResponse, error) {
	return r.ec.ScoreRisk(ctx, req)
}

func (r *remoteEngine) ScoreEntities(ctx context.Context, req *engine.EntityRequest) (*engine.EntityResponse, error) {
	return r.ec.ScoreEntities(ctx, req)
}

func (r *remoteEngine) DetectHotspots(ctx context.Context, req *engine.HotspotRequest) (*engine.HotspotResponse, error) {
	return r.ec.DetectHotspots(ctx, req)
}

func (r *remoteEngine) TrackEvolution(ctx context.Context, req *engine.EvolutionRequest) (*engine.EvolutionResponse, error) {
	return r.ec.TrackEvolution(ctx, req)
}

func (r *remoteEngine) Forecast(ctx context.Context, req *engine.ForecastRequest) (*engine.ForecastResponse, error) {
	return r.ec.Forecast(ctx, req)
}

func (r *remoteEngine) OptimizePatrol(ctx context.Context, req *engine.PatrolRequest) (*engine.PatrolResponse, error) {
	return r.ec.OptimizePatrol(ctx, req)
}

func (r *remoteEngine) AllocateResources(ctx context.Context, req *engine.AllocationRequest) (*engine.AllocationResponse, error) {
	return r.ec.AllocateResources(ctx, req)
}

func (r *remoteEngine) SnapshotInfo(ctx context.Context) (*engine.SnapshotInfoResponse, error) {
	return r.ec.SnapshotInfo(ctx)
}

// clientLogger forwards client request traces to the CLI logger.
type clientLogger struct{ l logging.Logger }

func (c clientLogger) Debugf(format string, args ...interface{}) {
	c.l.Debug(fmt.Sprintf(format, args...))
}

func (c clientLogger) Infof(format string, args ...interface{}) {
	c.l.Info(fmt.Sprintf(format, args...))
}

func (c clientLogger) Errorf(format string, args ...interface{}) {
	c.l.Error(fmt.Sprintf(format, args...))
}
