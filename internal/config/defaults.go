package config

import "time"

// Default value constants.
const (
	DefaultHTTPPort        = 8080
	DefaultGRPCPort        = 9090
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 20 * time.Second
	DefaultMaxBodySize     = 8 << 20

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBName     = "crimesight"
	DefaultDBSSLMode  = "disable"
	DefaultDBMaxConns = 10

	DefaultRedisMode      = "standalone"
	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisPoolSize  = 20
	DefaultRedisKeyPrefix = "crimesight:"

	DefaultKafkaBroker       = "localhost:9092"
	DefaultKafkaGroupID      = "crimesight-worker"
	DefaultKafkaBatchSize    = 100
	DefaultKafkaBatchTimeout = 50 * time.Millisecond
	DefaultKafkaMaxRetries   = 3
	DefaultKafkaStartOffset  = "latest"

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "crimesight-snapshots"

	DefaultSnapshotRefresh  = 5 * time.Minute
	DefaultIncidentLookback = 365 * 24 * time.Hour
	DefaultSnapshotTimeout  = 30 * time.Second

	DefaultMetricsNamespace = "crimesight"

	DefaultWorkerWindowSize    = 50000
	DefaultWorkerWindowPeriod  = 30 * 24 * time.Hour
	DefaultWorkerFlushInterval = time.Minute

	DefaultEngineVersion  = "v1"
	DefaultEngineDeadline = 10 * time.Second
	DefaultEngineCacheTTL = 2 * time.Minute
	DefaultResolution     = 9
	DefaultZoneRadius     = 1000.0
	DefaultAlertLevel     = "high"
)

// DefaultInstances are the engine names created when none are configured.
var DefaultInstances = []string{"crime_analysis", "predictive_ai", "city_brain"}

// ApplyDefaults fills every zero-value infrastructure field with its default.
// Engine tuning knobs left at zero stay zero; the domain packages own those
// defaults.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	h := &cfg.Server.HTTP
	setInt(&h.Port, DefaultHTTPPort)
	setDuration(&h.ReadTimeout, DefaultReadTimeout)
	setDuration(&h.WriteTimeout, DefaultWriteTimeout)
	setDuration(&h.ShutdownTimeout, DefaultShutdownTimeout)
	if h.MaxBodySize == 0 {
		h.MaxBodySize = DefaultMaxBodySize
	}
	setInt(&cfg.Server.GRPC.Port, DefaultGRPCPort)

	setString(&cfg.Log.Level, DefaultLogLevel)
	setString(&cfg.Log.Format, DefaultLogFormat)
	if len(cfg.Log.OutputPaths) == 0 {
		cfg.Log.OutputPaths = []string{"stdout"}
	}

	db := &cfg.Database
	setString(&db.Host, DefaultDBHost)
	setInt(&db.Port, DefaultDBPort)
	setString(&db.DBName, DefaultDBName)
	setString(&db.SSLMode, DefaultDBSSLMode)
	if db.MaxConns == 0 {
		db.MaxConns = DefaultDBMaxConns
	}

	r := &cfg.Redis
	setString(&r.Mode, DefaultRedisMode)
	setString(&r.Addr, DefaultRedisAddr)
	setInt(&r.PoolSize, DefaultRedisPoolSize)
	setString(&r.KeyPrefix, DefaultRedisKeyPrefix)

	k := &cfg.Kafka
	if len(k.Brokers) == 0 {
		k.Brokers = []string{DefaultKafkaBroker}
	}
	setString(&k.GroupID, DefaultKafkaGroupID)
	setInt(&k.BatchSize, DefaultKafkaBatchSize)
	setDuration(&k.BatchTimeout, DefaultKafkaBatchTimeout)
	setInt(&k.MaxRetries, DefaultKafkaMaxRetries)
	setString(&k.StartOffset, DefaultKafkaStartOffset)

	setString(&cfg.MinIO.Endpoint, DefaultMinIOEndpoint)
	setString(&cfg.MinIO.Bucket, DefaultMinIOBucket)

	s := &cfg.Snapshot
	setDuration(&s.RefreshInterval, DefaultSnapshotRefresh)
	setDuration(&s.IncidentLookback, DefaultIncidentLookback)
	setDuration(&s.LoadTimeout, DefaultSnapshotTimeout)

	setString(&cfg.Metrics.Namespace, DefaultMetricsNamespace)

	w := &cfg.Worker
	setInt(&w.WindowSize, DefaultWorkerWindowSize)
	setDuration(&w.WindowPeriod, DefaultWorkerWindowPeriod)
	setDuration(&w.FlushInterval, DefaultWorkerFlushInterval)

	e := &cfg.Engine
	setString(&e.Version, DefaultEngineVersion)
	applyEngineDefaults(&e.Defaults)
	if len(e.Instances) == 0 {
		e.Instances = make(map[string]EngineSettings, len(DefaultInstances))
		for _, name := range DefaultInstances {
			e.Instances[name] = e.Defaults
		}
	}
	for name, inst := range e.Instances {
		applyEngineDefaults(&inst)
		e.Instances[name] = inst
	}
	setString(&w.Engine, e.InstanceNames()[0])
}

func applyEngineDefaults(s *EngineSettings) {
	setInt(&s.Resolution, DefaultResolution)
	setDuration(&s.Deadline, DefaultEngineDeadline)
	setDuration(&s.CacheTTL, DefaultEngineCacheTTL)
	if s.ZoneRadiusMeters == 0 {
		s.ZoneRadiusMeters = DefaultZoneRadius
	}
	setString(&s.AlertLevel, DefaultAlertLevel)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}
