package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/CrimeSight-Intelligence/internal/application/engine"
	"github.com/turtacn/CrimeSight-Intelligence/internal/application/snapshot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/config"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/CrimeSight-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/CrimeSight-Intelligence/internal/interfaces/http/middleware"
	"github.com/turtacn/CrimeSight-Intelligence/internal/testutil"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

type testAPI struct {
	handler   http.Handler
	store     *snapshot.Store
	metrics   *prometheus.EngineMetrics
	collector *prometheus.Collector
}

func loadCity(store *snapshot.Store) {
	d := testutil.City(11)
	store.Swap(snapshot.Data{
		Zones:         d.Zones,
		Resources:     d.Resources,
		Incidents:     d.Incidents,
		Jurisdictions: d.Jurisdictions,
	}, testutil.AsOf)
}

func newTestAPI(t *testing.T, loaded bool, mutate func(*RouterConfig)) *testAPI {
	t.Helper()
	store := snapshot.NewStore()
	if loaded {
		loadCity(store)
	}
	clock := clockwork.NewFakeClockAt(testutil.AsOf)
	reg, err := engine.NewRegistry(config.EngineConfig{
		Version:   "v7",
		Instances: map[string]config.EngineSettings{"crime_analysis": {}, "city_brain": {Resolution: 8}},
	}, engine.Deps{Store: store, Clock: clock})
	require.NoError(t, err)

	collector, err := prometheus.NewCollector(prometheus.CollectorConfig{Namespace: "crimesight", Subsystem: "http_test"}, logging.NewNopLogger())
	require.NoError(t, err)
	metrics := prometheus.NewEngineMetrics(collector)

	cfg := RouterConfig{
		EngineHandler: handlers.NewEngineHandler(reg, 1<<20),
		HealthHandler: handlers.NewHealthHandler("test", store.Ready, clock),
		Metrics:       metrics,
		Collector:     collector,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &testAPI{handler: NewRouter(cfg), store: store, metrics: metrics, collector: collector}
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) handlers.ErrorResponse {
	t.Helper()
	var e handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestRouter_HealthProbes(t *testing.T) {
	api := newTestAPI(t, false, nil)

	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/healthz", "").Code)

	rec := api.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"snapshot":"pending"`)

	loadCity(api.store)
	rec = api.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"snapshot":"loaded"`)
}

func TestRouter_ListEngines(t *testing.T) {
	api := newTestAPI(t, true, nil)
	rec := api.do(http.MethodGet, "/api/v1/engines", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.EngineListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "v7", resp.ConfigVersion)
	require.Len(t, resp.Engines, 2)
	assert.Equal(t, "city_brain", resp.Engines[0].Name)
	assert.Equal(t, 8, resp.Engines[0].Resolution)
	assert.Equal(t, "crime_analysis", resp.Engines[1].Name)
}

func TestRouter_SnapshotInfo(t *testing.T) {
	api := newTestAPI(t, true, nil)
	rec := api.do(http.MethodGet, "/api/v1/engines/crime_analysis/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp engine.SnapshotInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "crime_analysis", resp.Engine)
	assert.Equal(t, uint64(1), resp.Snapshot.Version)
	assert.Equal(t, 4, resp.Snapshot.Zones)
}

func TestRouter_EngineOperations(t *testing.T) {
	api := newTestAPI(t, true, nil)

	paths := []struct {
		path string
		body string
	}{
		{"/spatial/bin", ``},
		{"/risk/score", `{"scope":"zones"}`},
		{"/risk/entities", `{}`},
		{"/hotspots/detect", `{"window":{"start":"2024-01-01T00:00:00Z","end":"2024-12-31T00:00:00Z"}}`},
		{"/forecast", `{"counts":[3,4,5,6,5,4,6,7,8,7,6,8]}`},
		{"/patrol/route", `{"unit_id":"u1","start":{"lat":41.8781,"lon":-87.6298}}`},
		{"/allocation/optimize", `{"objectives":["maximize_coverage"]}`},
	}
	for _, p := range paths {
		t.Run(p.path, func(t *testing.T) {
			rec := api.do(http.MethodPost, "/api/v1/engines/crime_analysis"+p.path, p.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp struct {
				Meta engine.Meta `json:"meta"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "crime_analysis", resp.Meta.Engine)
			assert.Equal(t, "v7", resp.Meta.ConfigVersion)
		})
	}
}

func TestRouter_ErrorMapping(t *testing.T) {
	api := newTestAPI(t, true, nil)

	t.Run("unknown engine", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/api/v1/engines/nope/spatial/bin", `{}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, string(errors.ErrCodeEngineNotFound), decodeError(t, rec).Code)
	})
	t.Run("malformed json", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/api/v1/engines/crime_analysis/spatial/bin", `{"resolution":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("unknown field", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/api/v1/engines/crime_analysis/spatial/bin", `{"resolutoin":9}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("invalid resolution", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/api/v1/engines/crime_analysis/spatial/bin", `{"resolution":12}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(errors.ErrCodeInvalidResolution), decodeError(t, rec).Code)
	})
	t.Run("no objectives", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/api/v1/engines/crime_analysis/allocation/optimize", `{"objectives":[]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(errors.ErrCodeEmptyObjectives), decodeError(t, rec).Code)
	})
	t.Run("wrong method", func(t *testing.T) {
		rec := api.do(http.MethodGet, "/api/v1/engines/crime_analysis/spatial/bin", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestRouter_SnapshotNotLoaded(t *testing.T) {
	api := newTestAPI(t, false, nil)
	rec := api.do(http.MethodPost, "/api/v1/engines/crime_analysis/risk/score", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.HasPrefix(decodeError(t, rec).Code, "SNP_"))
}

func TestRouter_MetricsUseRoutePattern(t *testing.T) {
	api := newTestAPI(t, true, nil)
	api.do(http.MethodPost, "/api/v1/engines/crime_analysis/spatial/bin", ``)
	api.do(http.MethodPost, "/api/v1/engines/city_brain/spatial/bin", ``)

	route := "/api/v1/engines/{engine}/spatial/bin"
	assert.Equal(t, 2.0, promtest.ToFloat64(api.metrics.HTTPRequestsTotal.WithLabelValues(http.MethodPost, route, "200")))

	rec := api.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "crimesight_http_test_http_requests_total")
}

func TestRouter_RateLimit(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testutil.AsOf)
	api := newTestAPI(t, true, func(c *RouterConfig) {
		c.RateLimiter = middleware.NewTokenBucketLimiter(1, 2, clock)
	})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/engines", "").Code)
	}
	rec := api.do(http.MethodGet, "/api/v1/engines", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/healthz", "").Code, "probes are outside /api/v1")

	clock.Advance(time.Second)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/engines", "").Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = []string{"https://dispatch.example.org"}
	api := newTestAPI(t, true, func(c *RouterConfig) { c.CORS = &cors })

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/engines/crime_analysis/forecast", nil)
	req.Header.Set("Origin", "https://dispatch.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dispatch.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/engines", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
