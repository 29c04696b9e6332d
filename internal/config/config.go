// Package config defines the configuration structures for the CrimeSight
// engine.  No I/O lives here, only plain data types and validation.
package config

import (
	"fmt"
	"sort"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Infrastructure sections
// ─────────────────────────────────────────────────────────────────────────────

// HTTPConfig holds HTTP server tunables.
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	// RateLimitRPS limits requests per client address; zero disables it.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// GRPCConfig holds the health-check gRPC listener settings.
type GRPCConfig struct {
	Port    int  `mapstructure:"port"`
	Enabled bool `mapstructure:"enabled"`
}

// ServerConfig groups the network listeners.
type ServerConfig struct {
	HTTP HTTPConfig `mapstructure:"http"`
	GRPC GRPCConfig `mapstructure:"grpc"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level       string   `mapstructure:"level"`  // debug | info | warn | error
	Format      string   `mapstructure:"format"` // json | console
	OutputPaths []string `mapstructure:"output_paths"`
}

// DatabaseConfig holds PostgreSQL parameters for the snapshot source.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN renders the connection URL understood by pgx and golang-migrate.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// RedisConfig holds result-cache parameters.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Mode         string        `mapstructure:"mode"` // standalone | sentinel | cluster
	Addr         string        `mapstructure:"addr"`
	Addrs        []string      `mapstructure:"addrs"`
	MasterName   string        `mapstructure:"master_name"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds event publishing and ingest consumption parameters.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	GroupID      string        `mapstructure:"group_id"`
	TopicPrefix  string        `mapstructure:"topic_prefix"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	StartOffset  string        `mapstructure:"start_offset"` // earliest | latest
}

// MinIOConfig holds the snapshot archive parameters.
type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
	// RetentionDays expires archived snapshots; zero keeps them forever.
	RetentionDays int `mapstructure:"retention_days"`
}

// SnapshotConfig controls the reference snapshot refresher.
type SnapshotConfig struct {
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	IncidentLookback time.Duration `mapstructure:"incident_lookback"`
	LoadTimeout      time.Duration `mapstructure:"load_timeout"`
	Archive          bool          `mapstructure:"archive"`
	Jurisdictions    []string      `mapstructure:"jurisdictions"`
}

// MetricsConfig controls the Prometheus registry.
type MetricsConfig struct {
	Namespace            string `mapstructure:"namespace"`
	EnableGoMetrics      bool   `mapstructure:"enable_go_metrics"`
	EnableProcessMetrics bool   `mapstructure:"enable_process_metrics"`
}

// WorkerConfig controls the ingest worker.
type WorkerConfig struct {
	Engine        string        `mapstructure:"engine"`
	WindowSize    int           `mapstructure:"window_size"`
	WindowPeriod  time.Duration `mapstructure:"window_period"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Engine settings
// ─────────────────────────────────────────────────────────────────────────────

// RiskSettings tunes the risk scorer.  Zero values fall back to the scorer's
// built-in defaults, except ProximityBoost: unset means the default and an
// explicit 0 disables the proximity term.
type RiskSettings struct {
	CategoryWeights       map[string]float64 `mapstructure:"category_weights"`
	HalfLife              time.Duration      `mapstructure:"half_life"`
	ProximityRadiusMeters float64            `mapstructure:"proximity_radius_m"`
	ProximityBoost        *float64           `mapstructure:"proximity_boost"`
	EscalationWeight      float64            `mapstructure:"escalation_weight"`
	RepeatWeight          float64            `mapstructure:"repeat_weight"`
	AffiliationWeight     float64            `mapstructure:"affiliation_weight"`
}

// HotspotSettings tunes detection and evolution tracking.
type HotspotSettings struct {
	EpsilonMeters      float64 `mapstructure:"epsilon_m"`
	MinClusterSize     int     `mapstructure:"min_cluster_size"`
	MinRadiusMeters    float64 `mapstructure:"min_radius_m"`
	EmergingThreshold  float64 `mapstructure:"emerging_threshold"`
	DecliningThreshold float64 `mapstructure:"declining_threshold"`
}

// ForecastSettings tunes the forecast engine.
type ForecastSettings struct {
	Horizon             int           `mapstructure:"horizon"`
	PeriodLength        time.Duration `mapstructure:"period_length"`
	RecentWindow        time.Duration `mapstructure:"recent_window"`
	MinSamples          int           `mapstructure:"min_samples"`
	ConfidenceFloor     float64       `mapstructure:"confidence_floor"`
	TemporalWeight      float64       `mapstructure:"temporal_weight"`
	SpatialWeight       float64       `mapstructure:"spatial_weight"`
	DisagreementPenalty float64       `mapstructure:"disagreement_penalty"`
	SmoothingAlpha      float64       `mapstructure:"smoothing_alpha"`
	Tolerance           float64       `mapstructure:"tolerance"`
	MaxIterations       int           `mapstructure:"max_iterations"`
	SpatialResolution   int           `mapstructure:"spatial_resolution"`
	TopCells            int           `mapstructure:"top_cells"`
	MovingAverageWindow int           `mapstructure:"moving_average_window"`
}

// PatrolSettings tunes the route optimizer.
type PatrolSettings struct {
	MaxDistanceMeters    float64 `mapstructure:"max_distance_m"`
	WaypointCount        int     `mapstructure:"waypoint_count"`
	DistancePenaltyPerKm float64 `mapstructure:"distance_penalty_per_km"`
	CoverageRadiusMeters float64 `mapstructure:"coverage_radius_m"`
	SpeedKmh             float64 `mapstructure:"speed_kmh"`
}

// AllocationSettings tunes the resource allocation optimizer.
type AllocationSettings struct {
	Tolerance          float64            `mapstructure:"tolerance"`
	RelocationSpeedKmh float64            `mapstructure:"relocation_speed_kmh"`
	RelocationHours    float64            `mapstructure:"relocation_hours"`
	MaxMoves           int                `mapstructure:"max_moves"`
	ObjectiveWeights   map[string]float64 `mapstructure:"objective_weights"`
}

// ToggleSettings are the behaviour switches carried in every run config.
type ToggleSettings struct {
	EnableAutoCorrection bool    `mapstructure:"enable_auto_correction"`
	EnableBiasDetection  bool    `mapstructure:"enable_bias_detection"`
	BiasShareThreshold   float64 `mapstructure:"bias_share_threshold"`
}

// EngineSettings is the full per-instance tuning.  An instance inherits every
// key of engine.defaults it does not override.
type EngineSettings struct {
	Description      string             `mapstructure:"description"`
	Resolution       int                `mapstructure:"resolution"`
	Deadline         time.Duration      `mapstructure:"deadline"`
	CacheTTL         time.Duration      `mapstructure:"cache_ttl"`
	ZoneRadiusMeters float64            `mapstructure:"zone_radius_m"` // catchment of snapshot zones
	AlertLevel       string             `mapstructure:"alert_level"`   // lowest level raising a tactical alert
	Risk             RiskSettings       `mapstructure:"risk"`
	Hotspot          HotspotSettings    `mapstructure:"hotspot"`
	Forecast         ForecastSettings   `mapstructure:"forecast"`
	Patrol           PatrolSettings     `mapstructure:"patrol"`
	Allocation       AllocationSettings `mapstructure:"allocation"`
	Toggles          ToggleSettings     `mapstructure:"toggles"`
}

// EngineConfig is the versioned engine section.  Instances is resolved by the
// loader from engine.defaults merged with engine.instances.<name>.
type EngineConfig struct {
	Version   string                    `mapstructure:"version"`
	Defaults  EngineSettings            `mapstructure:"defaults"`
	Instances map[string]EngineSettings `mapstructure:"-"`
}

// InstanceNames returns the configured engine names in sorted order.
func (e EngineConfig) InstanceNames() []string {
	names := make([]string, 0, len(e.Instances))
	for n := range e.Instances {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of a defaulted Config and returns the
// first problem found.
func (c *Config) Validate() error {
	for name, port := range map[string]int{"server.http.port": c.Server.HTTP.Port, "server.grpc.port": c.Server.GRPC.Port} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("config: %s %d is out of range [1, 65535]", name, port)
		}
	}
	if c.Server.GRPC.Enabled && c.Server.GRPC.Port == c.Server.HTTP.Port {
		return fmt.Errorf("config: server.grpc.port must differ from server.http.port")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}
	if c.Database.Enabled && (c.Database.Host == "" || c.Database.DBName == "") {
		return fmt.Errorf("config: database.host and database.db_name are required when database is enabled")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("config: database.min_conns (%d) exceeds database.max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	if c.Redis.Enabled {
		switch c.Redis.Mode {
		case "standalone":
			if c.Redis.Addr == "" {
				return fmt.Errorf("config: redis.addr is required in standalone mode")
			}
		case "sentinel", "cluster":
			if len(c.Redis.Addrs) == 0 {
				return fmt.Errorf("config: redis.addrs is required in %s mode", c.Redis.Mode)
			}
		default:
			return fmt.Errorf("config: redis.mode %q is invalid", c.Redis.Mode)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers must not be empty when kafka is enabled")
	}
	if c.MinIO.Enabled && (c.MinIO.Endpoint == "" || c.MinIO.Bucket == "") {
		return fmt.Errorf("config: minio.endpoint and minio.bucket are required when minio is enabled")
	}
	if c.Snapshot.RefreshInterval < time.Second {
		return fmt.Errorf("config: snapshot.refresh_interval %s is below 1s", c.Snapshot.RefreshInterval)
	}
	if c.Engine.Version == "" {
		return fmt.Errorf("config: engine.version is required")
	}
	if len(c.Engine.Instances) == 0 {
		return fmt.Errorf("config: at least one engine instance is required")
	}
	for _, name := range c.Engine.InstanceNames() {
		if err := c.Engine.Instances[name].validate(); err != nil {
			return fmt.Errorf("config: engine.instances.%s: %w", name, err)
		}
	}
	if c.Worker.Engine != "" {
		if _, ok := c.Engine.Instances[c.Worker.Engine]; !ok {
			return fmt.Errorf("config: worker.engine %q is not a configured instance", c.Worker.Engine)
		}
	}
	return nil
}

func (s EngineSettings) validate() error {
	if s.Resolution != 0 && (s.Resolution < 7 || s.Resolution > 10) {
		return fmt.Errorf("resolution %d outside 7..10", s.Resolution)
	}
	switch s.AlertLevel {
	case "", "low", "elevated", "high", "critical":
	default:
		return fmt.Errorf("alert_level %q is invalid", s.AlertLevel)
	}
	if s.ZoneRadiusMeters < 0 {
		return fmt.Errorf("zone_radius_m must not be negative")
	}
	if s.Deadline < 0 || s.CacheTTL < 0 {
		return fmt.Errorf("deadline and cache_ttl must not be negative")
	}
	for cat, w := range s.Risk.CategoryWeights {
		if w < 0 {
			return fmt.Errorf("risk.category_weights.%s is negative", cat)
		}
	}
	if s.Hotspot.MinClusterSize < 0 || s.Hotspot.EpsilonMeters < 0 {
		return fmt.Errorf("hotspot parameters must not be negative")
	}
	if s.Forecast.ConfidenceFloor < 0 || s.Forecast.ConfidenceFloor > 1 {
		return fmt.Errorf("forecast.confidence_floor %.3f outside [0,1]", s.Forecast.ConfidenceFloor)
	}
	if s.Forecast.DisagreementPenalty < 0 || s.Forecast.DisagreementPenalty > 1 {
		return fmt.Errorf("forecast.disagreement_penalty %.3f outside [0,1]", s.Forecast.DisagreementPenalty)
	}
	if s.Patrol.MaxDistanceMeters < 0 || s.Patrol.WaypointCount < 0 {
		return fmt.Errorf("patrol parameters must not be negative")
	}
	if s.Allocation.Tolerance < 0 {
		return fmt.Errorf("allocation.tolerance must not be negative")
	}
	for obj, w := range s.Allocation.ObjectiveWeights {
		if w < 0 {
			return fmt.Errorf("allocation.objective_weights.%s is negative", obj)
		}
	}
	if t := s.Toggles.BiasShareThreshold; t < 0 || t > 1 {
		return fmt.Errorf("toggles.bias_share_threshold %.3f outside [0,1]", t)
	}
	return nil
}
