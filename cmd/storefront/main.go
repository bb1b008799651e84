package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/mobilyecommerce/storefront/pkg/api"
	"github.com/mobilyecommerce/storefront/pkg/auth"
	"github.com/mobilyecommerce/storefront/pkg/config"
	"github.com/mobilyecommerce/storefront/pkg/middleware"
	"github.com/mobilyecommerce/storefront/pkg/observability"
	"github.com/mobilyecommerce/storefront/pkg/scheduler"
	"github.com/mobilyecommerce/storefront/pkg/storage"
	"github.com/mobilyecommerce/storefront/pkg/storage/postgres"
)

// bucketSweepInterval is how often idle in-memory rate limit buckets are dropped
const bucketSweepInterval = time.Minute

func main() {
	configFile := flag.String("config", "", "YAML config file (overrides "+config.EnvConfigFile+")")
	flag.Parse()

	if *configFile != "" {
		os.Setenv(config.EnvConfigFile, *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).WithField("service", "storefront")
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Storefront auth service stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	defer func() {
		if err := shutdown.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Error("Shutdown finished with errors")
		}
	}()

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel, logger)
	if err != nil {
		return err
	}
	if providers != nil {
		shutdown.Register("otel", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Storage
	db, err := postgres.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	shutdown.Register("postgres", func(context.Context) error { return db.Close() })
	logger.Info("Connected to PostgreSQL")

	if cfg.Storage.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("Database schema is up to date")
	}
	store := postgres.NewStore(db)

	// Auth components
	issuer, err := auth.NewIssuer(cfg.Auth, nil)
	if err != nil {
		return err
	}
	refresh := auth.NewRefreshTokenManager(store, cfg.Auth.RefreshTokenTTL, nil, logger, metrics)
	accessCleaner := auth.NewAccessTokenCleaner(store, nil, logger, metrics)
	audit := auth.NewAuditLogger(logger, nil)

	service, err := auth.NewService(auth.ServiceDeps{
		Store:   store,
		Issuer:  issuer,
		Refresh: refresh,
		Hasher:  auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		Audit:   audit,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	validator := auth.NewValidator(issuer, store, cfg.Auth.DeviceBinding, nil, logger)

	// Health
	health := observability.NewHealthChecker(cfg.Observability.OTel.ServiceVersion)
	health.AddCheck("postgres", true, observability.DatabaseCheck(db))

	// Admission control
	limiter, updater, err := newLimiter(ctx, cfg, health, shutdown, metrics)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if path := os.Getenv(config.EnvConfigFile); path != "" {
		watcher := config.NewWatcher(path, updater, logger)
		g.Go(func() error {
			// Hot reload is optional; the service keeps its startup limits.
			if err := watcher.Run(gctx); err != nil {
				logger.WithError(err).Warn("Config watcher stopped")
			}
			return nil
		})
	}

	// Cleanup jobs
	if cfg.Cleanup.Enabled {
		jobs, err := scheduler.New(accessCleaner, refresh, cfg.Cleanup.Schedules, logger, scheduler.WithJobTimeout(cfg.Cleanup.JobTimeout))
		if err != nil {
			return err
		}
		jobs.Start(ctx)
		shutdown.Register("cleanup-scheduler", jobs.Stop)
	}

	// HTTP servers
	server, err := api.NewServer(api.ServerDeps{
		Service:        service,
		Validator:      validator,
		AccessCleaner:  accessCleaner,
		RefreshCleaner: refresh,
		Limiter:        limiter,
		Audit:          audit,
		Logger:         logger,
		Metrics:        metrics,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	observability.RegisterMetricsEndpoint(healthMux, registry)
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown.RegisterServer("health-server", healthServer)
	shutdown.RegisterServer("api-server", apiServer)

	g.Go(func() error { return serve(apiServer, logger.WithField("server", "api")) })
	g.Go(func() error { return serve(healthServer, logger.WithField("server", "health")) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}

// newLimiter builds the configured rate limiter and returns it both as the
// admission check and as the target of limit reloads.
func newLimiter(ctx context.Context, cfg *config.Config, health *observability.HealthChecker, shutdown *observability.ShutdownManager, metrics *observability.Metrics) (middleware.Admitter, config.RateLimitUpdater, error) {
	if cfg.RateLimit.Backend == config.RateLimitBackendRedis {
		client, err := storage.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			return nil, nil, err
		}
		shutdown.Register("redis", func(context.Context) error { return client.Close() })
		health.AddCheck("redis", false, observability.RedisCheck(client))

		limiter, err := middleware.NewDistributedRateLimiter(client, cfg.RateLimit.RateLimitConfig, "storefront:ratelimit", nil, metrics)
		if err != nil {
			return nil, nil, err
		}
		return limiter, limiter, nil
	}

	registry, err := middleware.NewBucketRegistry(cfg.RateLimit.MaxBuckets)
	if err != nil {
		return nil, nil, err
	}
	limiter, err := middleware.NewRateLimiter(cfg.RateLimit.RateLimitConfig, registry, nil, metrics)
	if err != nil {
		return nil, nil, err
	}
	limiter.StartCleanup(ctx, bucketSweepInterval)
	return limiter, limiter, nil
}

func serve(server *http.Server, logger *observability.Logger) error {
	logger.Infof("Listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
