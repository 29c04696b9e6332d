// Package bootstrap connects the optional backends shared by the server
// and worker processes and assembles the snapshot pipeline on top of them.
package bootstrap

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/turtacn/CrimeSight-Intelligence/internal/application/engine"
	"github.com/turtacn/CrimeSight-Intelligence/internal/application/snapshot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/config"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/event"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/database/postgres"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/database/redis"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/storage/minio"
	"github.com/turtacn/CrimeSight-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
)

// Infrastructure holds the clients of every enabled backend.  Disabled
// backends stay nil.
type Infrastructure struct {
	cfg    *config.Config
	logger logging.Logger

	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Archive  *minio.Archive
	Producer *kafka.Producer
}

// Open connects the backends enabled in cfg.  On error everything opened
// so far is closed again.
func Open(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Infrastructure, error) {
	infra := &Infrastructure{cfg: cfg, logger: logger.Named("bootstrap")}

	if cfg.Database.Enabled {
		if cfg.Database.AutoMigrate {
			if err := postgres.RunMigrations(cfg.Database.DSN()); err != nil {
				return nil, err
			}
			infra.logger.Info("database migrations applied")
		}
		pool, err := postgres.NewConnectionPool(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		infra.Pool = pool
	}

	if cfg.Redis.Enabled {
		client, err := redis.NewClient(cfg.Redis, logger)
		if err != nil {
			infra.Close()
			return nil, err
		}
		infra.Redis = client
	}

	if cfg.MinIO.Enabled {
		api, err := minio.NewClient(ctx, cfg.MinIO, logger)
		if err != nil {
			infra.Close()
			return nil, err
		}
		infra.Archive = minio.NewArchive(api, cfg.MinIO.Bucket, "reference", logger)
		if err := infra.Archive.EnsureRetention(ctx, cfg.MinIO.RetentionDays); err != nil {
			// The archive still works without an expiry rule.
			infra.logger.Warn("archive retention not applied", logging.Err(err))
		}
	}

	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(kafka.ProducerConfigFrom(cfg.Kafka), logger)
		if err != nil {
			infra.Close()
			return nil, err
		}
		infra.Producer = producer
	}

	infra.logger.Info("infrastructure ready",
		logging.Bool("postgres", infra.Pool != nil),
		logging.Bool("redis", infra.Redis != nil),
		logging.Bool("minio", infra.Archive != nil),
		logging.Bool("kafka", infra.Producer != nil))
	return infra, nil
}

// Close releases every open client.
func (i *Infrastructure) Close() {
	if i.Producer != nil {
		if err := i.Producer.Close(); err != nil {
			i.logger.Warn("kafka producer close failed", logging.Err(err))
		}
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			i.logger.Warn("redis close failed", logging.Err(err))
		}
	}
	if i.Pool != nil {
		i.Pool.Close()
	}
}

// EnsureTopics creates the engine topics when Kafka is enabled.
func (i *Infrastructure) EnsureTopics(ctx context.Context, replication int) error {
	if i.Producer == nil {
		return nil
	}
	tm, err := kafka.NewTopicManager(i.cfg.Kafka.Brokers, i.logger)
	if err != nil {
		return err
	}
	defer tm.Close()
	return tm.EnsureTopics(ctx, kafka.DefaultTopics(i.cfg.Kafka.TopicPrefix, replication))
}

// Publisher returns the Kafka event publisher, or nil when Kafka is off.
func (i *Infrastructure) Publisher(source string, metrics *prometheus.EngineMetrics) event.Publisher {
	if i.Producer == nil {
		return nil
	}
	return kafka.NewEventPublisher(i.Producer, i.cfg.Kafka.TopicPrefix, source, metrics, i.logger)
}

// Cache returns the Redis result cache, or nil when Redis is off.
func (i *Infrastructure) Cache() *redis.Cache {
	if i.Redis == nil {
		return nil
	}
	return redis.NewCache(i.Redis, i.logger)
}

// Checkers reports the health of the open backends.
func (i *Infrastructure) Checkers() []handlers.HealthChecker {
	var out []handlers.HealthChecker
	if i.Pool != nil {
		pool := i.Pool
		out = append(out, handlers.CheckFunc{Component: "postgres", Fn: func(ctx context.Context) error {
			return postgres.HealthCheck(ctx, pool)
		}})
	}
	if i.Redis != nil {
		out = append(out, handlers.CheckFunc{Component: "redis", Fn: i.Redis.Ping})
	}
	return out
}

// Source picks where snapshots come from: Postgres when enabled, otherwise
// a zone-less snapshot carrying only the configured jurisdictions.
func (i *Infrastructure) Source(clock clockwork.Clock) snapshot.Source {
	var src snapshot.Source = StaticSource(i.cfg.Snapshot.Jurisdictions)
	if i.Pool != nil {
		src = postgres.NewSnapshotSource(i.Pool, i.cfg.Snapshot.IncidentLookback, clock, i.logger)
	}
	return WithJurisdictions(src, i.cfg.Snapshot.Jurisdictions)
}

// Refresher wires a refresher over Source, archiving to MinIO when both the
// archive and snapshot.archive are enabled.
func (i *Infrastructure) Refresher(store *snapshot.Store, clock clockwork.Clock, metrics *prometheus.EngineMetrics, opts ...snapshot.RefresherOption) *snapshot.Refresher {
	opts = append([]snapshot.RefresherOption{snapshot.WithClock(clock), snapshot.WithMetrics(metrics)}, opts...)
	if i.Archive != nil && i.cfg.Snapshot.Archive {
		opts = append(opts, snapshot.WithArchiver(i.Archive))
	}
	return snapshot.NewRefresher(snapshot.RefresherConfig{
		Name:        "reference",
		Interval:    i.cfg.Snapshot.RefreshInterval,
		LoadTimeout: i.cfg.Snapshot.LoadTimeout,
	}, store, i.Source(clock), i.logger, opts...)
}

// WarmStart publishes the newest archived snapshot so the process is ready
// before the first live load finishes.  It reports whether it did.
func (i *Infrastructure) WarmStart(ctx context.Context, store *snapshot.Store, clock clockwork.Clock, onSwap func(*snapshot.Snapshot)) bool {
	if i.Archive == nil || store.Ready() {
		return false
	}
	return warmStart(ctx, i.Archive, store, clock, i.cfg.Snapshot.LoadTimeout, onSwap, i.logger)
}

func warmStart(ctx context.Context, src snapshot.Source, store *snapshot.Store, clock clockwork.Clock, timeout time.Duration, onSwap func(*snapshot.Snapshot), logger logging.Logger) bool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	data, err := src.Load(ctx)
	if err != nil {
		logger.Info("no archived snapshot for warm start", logging.Err(err))
		return false
	}
	snap := store.Swap(*data, clock.Now())
	logger.Info("warm start from archive",
		logging.Int64("version", int64(snap.Version)), logging.Int("incidents", len(snap.Incidents)),
		logging.Int("rejected", snap.Rejected.Total()))
	if onSwap != nil {
		onSwap(snap)
	}
	return true
}

// StaticSource serves a snapshot with jurisdictions and nothing else.
func StaticSource(jurisdictions []string) snapshot.Source {
	return snapshot.SourceFunc(func(context.Context) (*snapshot.Data, error) {
		return &snapshot.Data{Jurisdictions: append([]string(nil), jurisdictions...)}, nil
	})
}

// WithJurisdictions fills in the configured jurisdictions when src loads
// none.
func WithJurisdictions(src snapshot.Source, jurisdictions []string) snapshot.Source {
	if len(jurisdictions) == 0 {
		return src
	}
	return snapshot.SourceFunc(func(ctx context.Context) (*snapshot.Data, error) {
		d, err := src.Load(ctx)
		if err != nil || d == nil {
			return d, err
		}
		if len(d.Jurisdictions) == 0 {
			d.Jurisdictions = append([]string(nil), jurisdictions...)
		}
		return d, nil
	})
}

// ResultCache adapts a possibly nil *redis.Cache to the engine interface
// without producing a typed-nil interface value.
func ResultCache(c *redis.Cache) engine.ResultCache {
	if c == nil {
		return nil
	}
	return c
}

// ErrNoBackend is returned by components that need a backend that is off.
func ErrNoBackend(name string) error {
	return errors.Newf(errors.ErrCodeServiceUnavailable, "%s is not enabled", name)
}
