package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all settings.
const envPrefix = "CRIMESIGHT"

// envKeys are bound explicitly so that LoadFromEnv works without a config
// file; viper's AutomaticEnv only resolves keys it already knows about.
var envKeys = []string{
	"server.http.port", "server.grpc.port", "server.grpc.enabled",
	"log.level", "log.format",
	"database.enabled", "database.host", "database.port", "database.user",
	"database.password", "database.db_name", "database.ssl_mode", "database.auto_migrate",
	"redis.enabled", "redis.mode", "redis.addr", "redis.password", "redis.db",
	"kafka.enabled", "kafka.brokers", "kafka.group_id", "kafka.topic_prefix",
	"minio.enabled", "minio.endpoint", "minio.access_key", "minio.secret_key", "minio.bucket", "minio.use_ssl",
	"minio.retention_days",
	"snapshot.refresh_interval", "snapshot.incident_lookback", "snapshot.jurisdictions",
	"metrics.namespace",
	"worker.engine", "worker.flush_interval",
	"engine.version",
}

// newViper builds a Viper instance with YAML type, CRIMESIGHT_ env prefix and
// a "." → "_" key replacer so that "database.host" resolves to
// CRIMESIGHT_DATABASE_HOST.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}
	return v
}

// Load reads the YAML file at configPath, merges CRIMESIGHT_* overrides,
// applies defaults and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from CRIMESIGHT_* environment variables alone.
//
//	CRIMESIGHT_<SECTION>_<FIELD>   e.g.  CRIMESIGHT_DATABASE_HOST
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

// LoadFromReader parses YAML content; used by tests and embedded configs.
func LoadFromReader(content string) (*Config, error) {
	v := newViper()
	if err := v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("config: failed to parse config: %w", err)
	}
	return unmarshalAndFinalize(v)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}
	instances, err := resolveInstances(v)
	if err != nil {
		return nil, err
	}
	cfg.Engine.Instances = instances

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// resolveInstances overlays each engine.instances.<name> subtree on
// engine.defaults.  A name with an empty body inherits the defaults verbatim.
func resolveInstances(v *viper.Viper) (map[string]EngineSettings, error) {
	raw := v.GetStringMap("engine.instances")
	if len(raw) == 0 {
		return nil, nil
	}
	base := v.GetStringMap("engine.defaults")

	out := make(map[string]EngineSettings, len(raw))
	for name, body := range raw {
		merged := viper.New()
		if err := merged.MergeConfigMap(base); err != nil {
			return nil, fmt.Errorf("config: engine.defaults: %w", err)
		}
		if overrides, ok := body.(map[string]interface{}); ok {
			if err := merged.MergeConfigMap(overrides); err != nil {
				return nil, fmt.Errorf("config: engine.instances.%s: %w", name, err)
			}
		}
		var s EngineSettings
		if err := merged.Unmarshal(&s); err != nil {
			return nil, fmt.Errorf("config: engine.instances.%s: %w", name, err)
		}
		out[name] = s
	}
	return out, nil
}

// Watch monitors configPath and calls onChange with the re-parsed Config each
// time the file changes.  A change that fails to parse or validate is passed
// to onError and the previous configuration stays in force.  Watch does not
// block; viper owns the fsnotify goroutine.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// MustLoad wraps Load and panics on any error.  Intended for main().
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
