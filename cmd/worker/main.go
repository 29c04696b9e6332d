// Command worker consumes ingested incidents, persists them and periodically
// publishes hotspot and zone-risk events for the recent window.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/CrimeSight-Intelligence/internal/application/engine"
	"github.com/turtacn/CrimeSight-Intelligence/internal/application/snapshot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/application/worker"
	"github.com/turtacn/CrimeSight-Intelligence/internal/bootstrap"
	"github.com/turtacn/CrimeSight-Intelligence/internal/config"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/incident"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/database/postgres"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/database/redis"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/prometheus"
	httpserver "github.com/turtacn/CrimeSight-Intelligence/internal/interfaces/http"
	"github.com/turtacn/CrimeSight-Intelligence/internal/interfaces/http/handlers"
)

var version = "dev"

const (
	defaultWorkerConfigPath = "configs/config.yaml"
	scanLockName            = "worker:scan"
)

func main() {
	configPath := flag.String("config", defaultWorkerConfigPath, "path to configuration file (empty: environment only)")
	healthPort := flag.Int("health-port", 0, "port for /healthz, /readyz and /metrics (overrides server.http.port)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *healthPort > 0 {
		cfg.Server.HTTP.Port = *healthPort
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Info("starting CrimeSight worker",
		logging.String("version", version),
		logging.String("engine", cfg.Worker.Engine),
		logging.Duration("flush_interval", cfg.Worker.FlushInterval),
		logging.Duration("window_period", cfg.Worker.WindowPeriod))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker failed", logging.Err(err))
	}
	logger.Info("CrimeSight worker stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromEnv()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && path == defaultWorkerConfigPath {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}

func run(cfg *config.Config, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, err := prometheus.NewCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Metrics.Namespace,
		Subsystem:            "worker",
		EnableGoMetrics:      cfg.Metrics.EnableGoMetrics,
		EnableProcessMetrics: cfg.Metrics.EnableProcessMetrics,
	}, logger)
	if err != nil {
		return err
	}
	metrics := prometheus.NewEngineMetrics(collector)

	infra, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer infra.Close()
	if infra.Producer == nil {
		return bootstrap.ErrNoBackend("kafka")
	}
	if err := infra.EnsureTopics(ctx, 1); err != nil {
		logger.Warn("kafka topics not ensured", logging.Err(err))
	}

	clock := clockwork.NewRealClock()
	store := snapshot.NewStore()
	registry, err := engine.NewRegistry(cfg.Engine, engine.Deps{
		Store:     store,
		Publisher: infra.Publisher("worker", metrics),
		Metrics:   metrics,
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	refresher := infra.Refresher(store, clock, metrics)

	opts := []worker.Option{
		worker.WithClock(clock),
		worker.WithMetrics(metrics),
		worker.WithJurisdictions(func() incident.JurisdictionSet {
			if snap, err := store.Load(); err == nil {
				return snap.JurisdictionSet()
			}
			return incident.NewJurisdictionSet(cfg.Snapshot.Jurisdictions...)
		}),
		worker.WithHistory(func(since time.Time) []incident.Incident {
			if snap, err := store.Load(); err == nil {
				return snap.IncidentsSince(since)
			}
			return nil
		}),
	}
	if infra.Pool != nil {
		opts = append(opts, worker.WithSink(postgres.NewIncidentWriter(infra.Pool)))
	}
	if infra.Redis != nil {
		opts = append(opts, worker.WithLease(redis.NewMutex(infra.Redis, scanLockName, logger,
			redis.WithLockTTL(cfg.Worker.FlushInterval),
			redis.WithWatchdog(cfg.Worker.FlushInterval/3))))
	}
	w := worker.New(worker.ConfigFrom(cfg.Worker), registry, logger, opts...)

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfigFrom(cfg.Kafka, kafka.TopicIncidentIngested), infra.Producer, logger)
	if err != nil {
		return err
	}
	defer consumer.Close()
	consumer.Subscribe(cfg.Kafka.TopicPrefix+kafka.TopicIncidentIngested, w.Handler(kafka.DecodeIncident))

	router := httpserver.NewRouter(httpserver.RouterConfig{
		HealthHandler: handlers.NewHealthHandler(version, store.Ready, clock, infra.Checkers()...),
		Logger:        logger,
		Metrics:       metrics,
		Collector:     collector,
	})
	healthSrv := httpserver.NewServer(cfg.Server.HTTP, router, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return refresher.Run(gctx) })
	g.Go(func() error { return w.Run(gctx) })
	g.Go(healthSrv.Start)
	g.Go(func() error { return consumer.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down worker")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := healthSrv.Stop(shutdownCtx); err != nil {
			logger.Error("health server shutdown error", logging.Err(err))
		}
		return nil
	})
	return g.Wait()
}
