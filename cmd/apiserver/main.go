// Command apiserver serves the engine API over HTTP and the health service
// over gRPC, refreshing the reference snapshot in the background.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/CrimeSight-Intelligence/internal/application/engine"
	"github.com/turtacn/CrimeSight-Intelligence/internal/application/snapshot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/bootstrap"
	"github.com/turtacn/CrimeSight-Intelligence/internal/config"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/prometheus"
	grpcserver "github.com/turtacn/CrimeSight-Intelligence/internal/interfaces/grpc"
	httpserver "github.com/turtacn/CrimeSight-Intelligence/internal/interfaces/http"
	"github.com/turtacn/CrimeSight-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/CrimeSight-Intelligence/internal/interfaces/http/middleware"
)

// Set through -ldflags at build time.
var version = "dev"

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file (empty: environment only)")
	httpPort := flag.Int("http-port", 0, "HTTP server port (overrides config)")
	grpcPort := flag.Int("grpc-port", 0, "gRPC server port (overrides config)")
	watch := flag.Bool("watch", true, "reload engine config when the file changes")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *httpPort > 0 {
		cfg.Server.HTTP.Port = *httpPort
	}
	if *grpcPort > 0 {
		cfg.Server.GRPC.Port = *grpcPort
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
	logger.Info("starting CrimeSight API server",
		logging.String("version", version),
		logging.String("engine_config", cfg.Engine.Version),
		logging.Strings("engines", cfg.Engine.InstanceNames()),
		logging.Int("http_port", cfg.Server.HTTP.Port),
		logging.Int("grpc_port", cfg.Server.GRPC.Port))

	if err := run(cfg, *configPath, *watch, logger); err != nil {
		logger.Fatal("api server failed", logging.Err(err))
	}
	logger.Info("CrimeSight API server stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromEnv()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && path == defaultConfigPath {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}

func run(cfg *config.Config, configPath string, watch bool, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, err := prometheus.NewCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Metrics.Namespace,
		Subsystem:            "api",
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
	if err := infra.EnsureTopics(ctx, 1); err != nil {
		logger.Warn("kafka topics not ensured", logging.Err(err))
	}

	clock := clockwork.NewRealClock()
	store := snapshot.NewStore()
	cache := infra.Cache()
	registry, err := engine.NewRegistry(cfg.Engine, engine.Deps{
		Store:     store,
		Cache:     bootstrap.ResultCache(cache),
		Publisher: infra.Publisher("apiserver", metrics),
		Metrics:   metrics,
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	grpcSrv := grpcserver.NewServer(cfg.Server.GRPC, logger)
	grpcSrv.SetEngines(registry.Names())
	ready := func(*snapshot.Snapshot) { grpcSrv.MarkReady() }
	infra.WarmStart(ctx, store, clock, ready)
	refresher := infra.Refresher(store, clock, metrics, snapshot.OnSwap(ready))

	var rl *middleware.TokenBucketLimiter
	if cfg.Server.HTTP.RateLimitRPS > 0 {
		rl = middleware.NewTokenBucketLimiter(cfg.Server.HTTP.RateLimitRPS, cfg.Server.HTTP.RateLimitBurst, clock)
	}
	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.Server.HTTP.AllowedOrigins
	router := httpserver.NewRouter(httpserver.RouterConfig{
		EngineHandler: handlers.NewEngineHandler(registry, cfg.Server.HTTP.MaxBodySize),
		HealthHandler: handlers.NewHealthHandler(version, store.Ready, clock, infra.Checkers()...),
		CORS:          &cors,
		RateLimiter:   rl,
		Logger:        logger,
		Metrics:       metrics,
		Collector:     collector,
	})
	httpSrv := httpserver.NewServer(cfg.Server.HTTP, router, logger)

	if watch && configPath != "" {
		err := config.Watch(configPath, func(next *config.Config) {
			if err := registry.Reload(next.Engine); err != nil {
				return
			}
			grpcSrv.SetEngines(registry.Names())
			if store.Ready() {
				grpcSrv.MarkReady()
			}
			if cache != nil {
				for _, name := range registry.Names() {
					if _, err := cache.DeleteByPrefix(context.Background(), name+":"); err != nil {
						logger.Warn("cache purge failed", logging.String("engine", name), logging.Err(err))
					}
				}
			}
			if lc, ok := logger.(logging.LevelController); ok && !strings.EqualFold(lc.Level(), next.Log.Level) {
				lc.SetLevel(next.Log.Level)
			}
		}, func(err error) {
			logger.Warn("config reload rejected", logging.Err(err))
		})
		if err != nil {
			logger.Warn("config watch unavailable", logging.Err(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return refresher.Run(gctx) })
	g.Go(httpSrv.Start)
	if cfg.Server.GRPC.Enabled {
		g.Go(grpcSrv.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()
		if err := httpSrv.Stop(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", logging.Err(err))
		}
		if cfg.Server.GRPC.Enabled {
			if err := grpcSrv.Stop(shutdownCtx); err != nil {
				logger.Error("gRPC server shutdown error", logging.Err(err))
			}
		}
		return nil
	})
	return g.Wait()
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.HTTP.ShutdownTimeout > 0 {
		return cfg.Server.HTTP.ShutdownTimeout
	}
	return 30 * time.Second
}
