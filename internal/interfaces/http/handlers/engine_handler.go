package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/CrimeSight-Intelligence/internal/application/engine"
)

// Engines is the part of engine.Registry the handlers use.
type Engines interface {
	Get(name string) (engine.Service, error)
	Names() []string
	Version() string
}

// EngineHandler exposes every Service operation as a POST JSON endpoint
// under /api/v1/engines/{engine}.
type EngineHandler struct {
	engines Engines
	maxBody int64
}

// NewEngineHandler limits request bodies to maxBody bytes; zero means no
// limit.
func NewEngineHandler(engines Engines, maxBody int64) *EngineHandler {
	return &EngineHandler{engines: engines, maxBody: maxBody}
}

// EngineSummary is one entry of the engine list.
type EngineSummary struct {
	Name          string `json:"name"`
	ConfigVersion string `json:"config_version"`
	Resolution    int    `json:"resolution"`
}

// EngineListResponse is the body of GET /api/v1/engines.
type EngineListResponse struct {
	ConfigVersion string          `json:"config_version"`
	Engines       []EngineSummary `json:"engines"`
}

// List handles GET /api/v1/engines.
func (h *EngineHandler) List(w http.ResponseWriter, r *http.Request) {
	resp := EngineListResponse{ConfigVersion: h.engines.Version(), Engines: []EngineSummary{}}
	for _, name := range h.engines.Names() {
		svc, err := h.engines.Get(name)
		if err != nil {
			// removed by a concurrent reload
			continue
		}
		rc := svc.RunConfig()
		resp.Engines = append(resp.Engines, EngineSummary{
			Name:          name,
			ConfigVersion: rc.Version,
			Resolution:    int(rc.Resolution),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Snapshot handles GET /api/v1/engines/{engine}/snapshot.
func (h *EngineHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	svc, err := h.engines.Get(chi.URLParam(r, "engine"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	resp, err := svc.SnapshotInfo(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *EngineHandler) Bin(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, engine.Service.Bin)
}

func (h *EngineHandler) ScoreRisk(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, engine.Service.ScoreRisk)
}

func (h *EngineHandler) ScoreEntities(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, engine.Service.ScoreEntities)
}

func (h *EngineHandler) DetectHotspots(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, engine.Service.DetectHotspots)
}

func (h *EngineHandler) TrackEvolution(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, engine.Service.TrackEvolution)
}

func (h *EngineHandler) Forecast(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, engine.Service.Forecast)
}

func (h *EngineHandler) OptimizePatrol(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, engine.Service.OptimizePatrol)
}

func (h *EngineHandler) AllocateResources(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, engine.Service.AllocateResources)
}

// serve resolves the engine, decodes the request and writes the response.
func serve[Req, Resp any](h *EngineHandler, w http.ResponseWriter, r *http.Request,
	op func(engine.Service, context.Context, *Req) (*Resp, error)) {
	svc, err := h.engines.Get(chi.URLParam(r, "engine"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	var req Req
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		writeAppError(w, err)
		return
	}
	resp, err := op(svc, r.Context(), &req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
