package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// HealthChecker is a dependency checked by the readiness endpoint.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc struct {
	Component string
	Fn        func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.Component }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// HealthHandler serves the liveness and readiness endpoints.
type HealthHandler struct {
	checkers []HealthChecker
	ready    func() bool
	version  string
	clock    clockwork.Clock
	startAt  time.Time
}

// NewHealthHandler reports not-ready until ready returns true, then checks
// every checker.  ready may be nil.
func NewHealthHandler(version string, ready func() bool, clock clockwork.Clock, checkers ...HealthChecker) *HealthHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ready == nil {
		ready = func() bool { return true }
	}
	return &HealthHandler{checkers: checkers, ready: ready, version: version, clock: clock, startAt: clock.Now()}
}

// LivenessResponse is the body of GET /healthz.
type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ReadinessResponse is the body of GET /readyz.
type ReadinessResponse struct {
	Status     string                    `json:"status"`
	Snapshot   string                    `json:"snapshot"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
}

// ComponentCheck is one dependency's check result.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Liveness always answers 200 while the process runs.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "alive",
		Version: h.version,
		Uptime:  h.clock.Since(h.startAt).Truncate(time.Second).String(),
	})
}

// Readiness answers 503 until the first snapshot is loaded or while any
// dependency fails its check.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	resp := ReadinessResponse{Status: "ready", Snapshot: "loaded"}
	ok := true
	if !h.ready() {
		resp.Snapshot = "pending"
		ok = false
	}

	if len(h.checkers) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		resp.Components = h.checkAll(ctx)
		for _, c := range resp.Components {
			if c.Status != "healthy" {
				ok = false
			}
		}
	}

	if !ok {
		resp.Status = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) checkAll(ctx context.Context) map[string]ComponentCheck {
	results := make(map[string]ComponentCheck, len(h.checkers))
	var mu sync.Mutex
	var g errgroup.Group

	for _, checker := range h.checkers {
		c := checker
		g.Go(func() error {
			start := h.clock.Now()
			err := c.Check(ctx)
			cc := ComponentCheck{Status: "healthy", Latency: h.clock.Since(start).Truncate(time.Microsecond).String()}
			if err != nil {
				cc.Status = "unhealthy"
				cc.Error = err.Error()
			}
			mu.Lock()
			results[c.Name()] = cc
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
