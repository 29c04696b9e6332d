package client

import (
	"context"
	"net/http"
	"net/url"
)

// EngineClient calls the operations of one engine instance.
type EngineClient struct {
	client *Client
	name   string
}

// Name is the engine instance this client targets.
func (e *EngineClient) Name() string { return e.name }

func (e *EngineClient) path(op string) string {
	return "/api/v1/engines/" + url.PathEscape(e.name) + op
}

func call[Req any, Resp any](ctx context.Context, e *EngineClient, op string, req *Req) (*Resp, error) {
	if req == nil {
		req = new(Req)
	}
	out := new(Resp)
	if err := e.client.do(ctx, http.MethodPost, e.path(op), req, out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// SnapshotInfo describes the snapshot the engine currently serves from.
func (e *EngineClient) SnapshotInfo(ctx context.Context) (*SnapshotInfo, error) {
	out := new(SnapshotInfo)
	if err := e.client.do(ctx, http.MethodGet, e.path("/snapshot"), nil, out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *EngineClient) Bin(ctx context.Context, req *BinRequest) (*BinResponse, error) {
	return call[BinRequest, BinResponse](ctx, e, "/spatial/bin", req)
}

func (e *EngineClient) ScoreRisk(ctx context.Context, req *RiskRequest) (*RiskResponse, error) {
	return call[RiskRequest, RiskResponse](ctx, e, "/risk/score", req)
}

func (e *EngineClient) ScoreEntities(ctx context.Context, req *EntityRequest) (*EntityResponse, error) {
	return call[EntityRequest, EntityResponse](ctx, e, "/risk/entities", req)
}

func (e *EngineClient) DetectHotspots(ctx context.Context, req *HotspotRequest) (*HotspotResponse, error) {
	return call[HotspotRequest, HotspotResponse](ctx, e, "/hotspots/detect", req)
}

func (e *EngineClient) TrackEvolution(ctx context.Context, req *EvolutionRequest) (*EvolutionResponse, error) {
	return call[EvolutionRequest, EvolutionResponse](ctx, e, "/hotspots/evolution", req)
}

func (e *EngineClient) Forecast(ctx context.Context, req *ForecastRequest) (*ForecastResponse, error) {
	return call[ForecastRequest, ForecastResponse](ctx, e, "/forecast", req)
}

func (e *EngineClient) OptimizePatrol(ctx context.Context, req *PatrolRequest) (*PatrolResponse, error) {
	return call[PatrolRequest, PatrolResponse](ctx, e, "/patrol/route", req)
}

func (e *EngineClient) AllocateResources(ctx context.Context, req *AllocationRequest) (*AllocationResponse, error) {
	return call[AllocationRequest, AllocationResponse](ctx, e, "/allocation/optimize", req)
}
