package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/CrimeSight-Intelligence/internal/application/engine"
	"github.com/turtacn/CrimeSight-Intelligence/internal/application/snapshot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/risk"
	"github.com/turtacn/CrimeSight-Intelligence/internal/testutil"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

func writeJSON(t *testing.T, name string, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func citySnapshot(t *testing.T) string {
	t.Helper()
	d := testutil.City(11)
	return writeJSON(t, "city.json", snapshot.Data{
		Zones:         d.Zones,
		Resources:     d.Resources,
		Incidents:     d.Incidents,
		Jurisdictions: d.Jurisdictions,
	})
}

// withCity prepends the city snapshot flags, pinned to the fixture date.
func withCity(t *testing.T, args ...string) []string {
	t.Helper()
	return append([]string{"--snapshot", citySnapshot(t), "--as-of", "2024-06-01T00:00:00Z"}, args...)
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--no-color", "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func decodeOut[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "crimesight", cmd.Use)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t,
		[]string{"bin", "score", "hotspots", "evolution", "forecast", "route", "allocate", "version"}, names)

	for _, flag := range []string{"config", "output", "no-color", "engine", "snapshot", "as-of", "timeout", "log-level", "server"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
	assert.Equal(t, FormatText, cmd.PersistentFlags().Lookup("output").DefValue)
}

func TestVersion_SkipsEngineSetup(t *testing.T) {
	out, err := run(t, "", "--engine", "missing", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "crimesight dev")
	assert.Contains(t, out, "commit: unknown")
}

func TestBin_JSONFromSnapshot(t *testing.T) {
	out, err := run(t, "", withCity(t, "-o", "json", "bin", "--resolution", "8")...)
	require.NoError(t, err)

	resp := decodeOut[engine.BinResponse](t, out)
	assert.Equal(t, "crime_analysis", resp.Meta.Engine)
	assert.Equal(t, uint64(1), resp.Meta.SnapshotVersion)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 8, int(resp.Result.Resolution))
	assert.Positive(t, resp.Result.Accepted)
	assert.NotEmpty(t, resp.Result.Cells)
}

func TestBin_RequestFromStdin(t *testing.T) {
	d := testutil.City(3)
	body, err := json.Marshal(engine.BinRequest{Incidents: d.Incidents[:5]})
	require.NoError(t, err)

	out, err := run(t, string(body), "bin", "-f", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "Spatial bins")
	assert.Contains(t, out, "accepted: 5  rejected: 0")
	assert.Contains(t, out, "cell=")
}

func TestScore_ZonesTable(t *testing.T) {
	out, err := run(t, "", withCity(t, "-o", "table", "score", "--scope", "zones")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Risk scores")
	assert.Contains(t, out, "TARGET")
	for _, id := range []string{"z00", "z01", "z02", "z03"} {
		assert.Contains(t, out, id)
	}
}

func TestScore_Entities(t *testing.T) {
	out, err := run(t, "", withCity(t, "-o", "json", "score", "--entities")...)
	require.NoError(t, err)

	resp := decodeOut[engine.EntityResponse](t, out)
	require.NotEmpty(t, resp.Scores)
	for _, s := range resp.Scores {
		assert.Equal(t, risk.TargetKind("offender"), s.Kind)
	}
}

func TestHotspots_WindowFlags(t *testing.T) {
	out, err := run(t, "", withCity(t, "-o", "json", "hotspots",
		"--start", "2024-05-01T00:00:00Z", "--end", "2024-06-01T00:00:00Z")...)
	require.NoError(t, err)
	resp := decodeOut[engine.HotspotResponse](t, out)
	require.NotEmpty(t, resp.Hotspots)
	for _, h := range resp.Hotspots {
		assert.Equal(t, "2024-05-01T00:00:00Z", h.Window.Start.Format("2006-01-02T15:04:05Z07:00"))
	}

	_, err = run(t, "", withCity(t, "hotspots", "--start", "yesterday")...)
	assert.True(t, errors.IsValidation(err), "%v", err)
}

func TestEvolution_RequiresFile(t *testing.T) {
	_, err := run(t, "", withCity(t, "evolution")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file")
}

func TestEvolution_PeriodsFromSnapshot(t *testing.T) {
	req := writeJSON(t, "evolution.json", map[string]interface{}{
		"periods": []map[string]string{
			{"label": "w1", "start": "2024-05-18T00:00:00Z", "end": "2024-05-25T00:00:00Z"},
			{"label": "w2", "start": "2024-05-25T00:00:00Z", "end": "2024-06-01T00:00:00Z"},
		},
	})
	out, err := run(t, "", withCity(t, "-o", "json", "evolution", "-f", req)...)
	require.NoError(t, err)

	resp := decodeOut[engine.EvolutionResponse](t, out)
	for _, r := range resp.Records {
		assert.Equal(t, []string{"w1", "w2"}, r.Periods)
	}
}

func TestForecast_Horizon(t *testing.T) {
	out, err := run(t, "", withCity(t, "-o", "json", "forecast", "--horizon", "2")...)
	require.NoError(t, err)

	resp := decodeOut[engine.ForecastResponse](t, out)
	require.NotNil(t, resp.Window)
	assert.Equal(t, 2, resp.Window.Horizon)
	assert.GreaterOrEqual(t, resp.Window.Confidence, 0.0)
}

func TestRoute_StartFromFlags(t *testing.T) {
	out, err := run(t, "", withCity(t, "-o", "json", "route",
		"--lat", "41.8781", "--lon", "-87.6298", "--waypoints", "3", "--unit", "unit-7")...)
	require.NoError(t, err)

	resp := decodeOut[engine.PatrolResponse](t, out)
	require.NotNil(t, resp.Route)
	assert.Equal(t, testutil.Origin, resp.Route.Start)
	assert.Equal(t, 3, resp.Route.Requested)
	assert.LessOrEqual(t, len(resp.Route.Waypoints), 3)
}

func TestAllocate_TextAndJSON(t *testing.T) {
	out, err := run(t, "", withCity(t, "-o", "json", "allocate", "--objective", "maximize_coverage")...)
	require.NoError(t, err)
	resp := decodeOut[engine.AllocationResponse](t, out)
	require.NotNil(t, resp.Result)
	require.Len(t, resp.Result.Objectives, 1)
	assert.Equal(t, "maximize_coverage", string(resp.Result.Objectives[0]))

	out, err = run(t, "", withCity(t, "allocate", "--objective", "balance_workload")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Resource allocation")
	assert.Contains(t, out, "status: ")
	assert.Contains(t, out, "coverage: ")
}

func TestErrors(t *testing.T) {
	t.Run("snapshot required", func(t *testing.T) {
		_, err := run(t, "", "bin")
		assert.True(t, errors.IsCode(err, errors.ErrCodeSnapshotUnavailable), "%v", err)
	})
	t.Run("unknown engine", func(t *testing.T) {
		_, err := run(t, "", withCity(t, "--engine", "nope", "bin")...)
		assert.True(t, errors.IsCode(err, errors.ErrCodeEngineNotFound), "%v", err)
	})
	t.Run("unknown output format", func(t *testing.T) {
		_, err := run(t, "", "-o", "yaml", "bin")
		assert.True(t, errors.IsValidation(err), "%v", err)
	})
	t.Run("unknown request field", func(t *testing.T) {
		req := writeJSON(t, "bad.json", map[string]int{"radius": 3})
		_, err := run(t, "", withCity(t, "bin", "-f", req)...)
		assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest), "%v", err)
	})
	t.Run("invalid resolution", func(t *testing.T) {
		_, err := run(t, "", withCity(t, "bin", "--resolution", "12")...)
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidResolution), "%v", err)
	})
	t.Run("empty objectives", func(t *testing.T) {
		_, err := run(t, "", withCity(t, "allocate")...)
		assert.True(t, errors.IsCode(err, errors.ErrCodeEmptyObjectives), "%v", err)
	})
	t.Run("corrupt snapshot", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
		_, err := run(t, "", "--snapshot", path, "bin")
		assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization), "%v", err)
	})
}

func TestColorizeLevel(t *testing.T) {
	for _, lvl := range []risk.Level{risk.LevelLow, risk.LevelElevated, risk.LevelHigh, risk.LevelCritical} {
		assert.Contains(t, colorizeLevel(lvl), strings.ToUpper(string(lvl)))
	}
}

func TestPrintError(t *testing.T) {
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetErr(&buf)
	PrintError(cmd, errors.New(errors.ErrCodeEngineNotFound, "engine \"x\" is not configured"))
	assert.Contains(t, buf.String(), string(errors.ErrCodeEngineNotFound))
	PrintError(cmd, nil)
}
