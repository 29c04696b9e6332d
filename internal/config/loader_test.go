package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
server:
  http:
    port: 8081
log:
  level: debug
database:
  enabled: true
  host: db.internal
  user: crimesight
  password: secret
kafka:
  enabled: true
  brokers: ["kafka-1:9092", "kafka-2:9092"]
snapshot:
  refresh_interval: 2m
  jurisdictions: ["district-1", "district-2"]
engine:
  version: "2024.06"
  defaults:
    resolution: 8
    hotspot:
      min_cluster_size: 6
    forecast:
      confidence_floor: 0.15
  instances:
    predictive_ai:
      forecast:
        horizon: 4
    city_brain:
      resolution: 10
      toggles:
        enable_bias_detection: true
`

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ValidFile(t *testing.T) {
	cfg, err := Load(createTempConfigFile(t, validConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.HTTP.Port)
	assert.Equal(t, DefaultGRPCPort, cfg.Server.GRPC.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, DefaultDBPort, cfg.Database.Port)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 2*time.Minute, cfg.Snapshot.RefreshInterval)
	assert.Equal(t, "2024.06", cfg.Engine.Version)
}

func TestLoad_InstancesInheritDefaults(t *testing.T) {
	cfg, err := Load(createTempConfigFile(t, validConfigYAML))
	require.NoError(t, err)

	require.Equal(t, []string{"city_brain", "predictive_ai"}, cfg.Engine.InstanceNames())

	p := cfg.Engine.Instances["predictive_ai"]
	assert.Equal(t, 8, p.Resolution)
	assert.Equal(t, 4, p.Forecast.Horizon)
	assert.Equal(t, 6, p.Hotspot.MinClusterSize)
	assert.InDelta(t, 0.15, p.Forecast.ConfidenceFloor, 1e-9)
	assert.False(t, p.Toggles.EnableBiasDetection)

	c := cfg.Engine.Instances["city_brain"]
	assert.Equal(t, 10, c.Resolution)
	assert.Equal(t, 6, c.Hotspot.MinClusterSize)
	assert.True(t, c.Toggles.EnableBiasDetection)
	assert.Equal(t, DefaultEngineDeadline, c.Deadline)

	assert.Equal(t, "city_brain", cfg.Worker.Engine)
}

func TestLoad_NoInstancesUsesDefaultNames(t *testing.T) {
	cfg, err := LoadFromReader("log:\n  level: warn\n")
	require.NoError(t, err)
	assert.ElementsMatch(t, DefaultInstances, cfg.Engine.InstanceNames())
	assert.Equal(t, DefaultResolution, cfg.Engine.Instances["predictive_ai"].Resolution)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad log level", "log:\n  level: loud\n"},
		{"bad resolution", "engine:\n  defaults:\n    resolution: 12\n"},
		{"negative weight", "engine:\n  instances:\n    x:\n      risk:\n        category_weights:\n          violent: -1\n"},
		{"refresh too fast", "snapshot:\n  refresh_interval: 10ms\n"},
		{"unknown worker engine", "worker:\n  engine: nope\n"},
		{"redis without addrs", "redis:\n  enabled: true\n  mode: cluster\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(tt.yaml)
			assert.Error(t, err)
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CRIMESIGHT_SERVER_HTTP_PORT", "9999")
	t.Setenv("CRIMESIGHT_DATABASE_HOST", "pg.env")
	t.Setenv("CRIMESIGHT_ENGINE_VERSION", "env-7")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.HTTP.Port)
	assert.Equal(t, "pg.env", cfg.Database.Host)
	assert.Equal(t, "env-7", cfg.Engine.Version)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CRIMESIGHT_LOG_LEVEL", "error")
	cfg, err := Load(createTempConfigFile(t, validConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestMustLoad_Panics(t *testing.T) {
	assert.Panics(t, func() { MustLoad("/nonexistent/config.yaml") })
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)

	var version atomic.Value
	require.NoError(t, Watch(path, func(c *Config) { version.Store(c.Engine.Version) }, nil))

	updated := strings.Replace(validConfigYAML, `version: "2024.06"`, `version: "2024.07"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	assert.Eventually(t, func() bool {
		v, _ := version.Load().(string)
		return v == "2024.07"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatch_InvalidChangeReportsError(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)

	var errs atomic.Int32
	var changes atomic.Int32
	require.NoError(t, Watch(path, func(*Config) { changes.Add(1) }, func(error) { errs.Add(1) }))

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o600))

	assert.Eventually(t, func() bool { return errs.Load() > 0 }, 5*time.Second, 20*time.Millisecond)
	assert.Zero(t, changes.Load())
}

func TestWatch_MissingFile(t *testing.T) {
	assert.Error(t, Watch(filepath.Join(t.TempDir(), "none.yaml"), func(*Config) {}, nil))
}
