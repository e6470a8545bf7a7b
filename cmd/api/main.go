package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"labbooking/internal/api"
	"labbooking/internal/config"
	"labbooking/internal/database"
	"labbooking/internal/domain"
	"labbooking/internal/events"
	"labbooking/internal/logging"
	"labbooking/internal/metrics"
	"labbooking/internal/models"
	"labbooking/internal/repository"
	"labbooking/internal/service"
	"labbooking/internal/tracing"
	"labbooking/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, base, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := base.With().Str("component", "api-main").Logger()

	catalog, err := loadCatalog(cfg, &logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, cfg.App)
	if err != nil {
		logger.Error().Err(err).Msg("tracing setup failed")
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	store := repository.NewFileReservationRepository(cfg.Storage, logging.Component(base, "store"))
	if err := store.Ping(ctx); err != nil {
		logger.Error().Err(err).Str("dir", cfg.Storage.Dir).Msg("record directory unusable")
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, logging.Component(base, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init audit database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	eventBus := events.NewEventBus(logging.Component(base, "events"))
	auditDone := subscribeAudit(ctx, cfg, eventBus, db, redisClient, base)
	defer func() {
		// the worker drains only after ctx is canceled and must finish before db.Close
		stop()
		<-auditDone
	}()

	reservationService := service.NewReservationService(store, eventBus, catalog, logging.Component(base, "service"))
	limiter := initLimiter(redisClient, base)

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(store.Dir(), cfg.Database.Path, cfg.Backup, logging.Component(base, "backup"))
		go backupService.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(cfg.API, api.Dependencies{
		Service: reservationService,
		Audit:   db,
		Store:   store,
		Limiter: limiter,
	}, logging.Component(base, "http"))

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, store, limiter, base)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		go grpcServer.WatchStore(ctx, 15*time.Second)
	}

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, baseLogger, closer, nil
}

// loadCatalog reads the lab catalog. Without a catalog every lab and exam
// is accepted.
func loadCatalog(cfg *config.Config, logger *zerolog.Logger) (*models.Catalog, error) {
	catalogPath := os.Getenv("CATALOG_PATH")
	if catalogPath == "" {
		catalogPath = cfg.CatalogPath
	}
	if catalogPath == "" {
		logger.Warn().Msg("no lab catalog configured, labs and exams are not checked")
		return models.NewCatalog(nil), nil
	}

	data, err := os.ReadFile(catalogPath)
	if err != nil {
		logger.Error().Err(err).Str("catalog_path", catalogPath).Msg("read catalog")
		return nil, err
	}

	var catalogConfig struct {
		Labs []models.Lab `yaml:"labs"`
	}
	if err := yaml.Unmarshal(data, &catalogConfig); err != nil {
		logger.Error().Err(err).Str("catalog_path", catalogPath).Msg("parse catalog")
		return nil, err
	}
	if err := config.ValidateCatalog(catalogConfig.Labs); err != nil {
		logger.Error().Err(err).Msg("catalog validation failed")
		return nil, err
	}

	logger.Info().Int("labs", len(catalogConfig.Labs)).Msg("lab catalog loaded")
	return models.NewCatalog(catalogConfig.Labs), nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, rate limiting falls back to memory until it recovers")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return redisClient
}

func initLimiter(redisClient *redis.Client, logger *zerolog.Logger) domain.RateLimitRepository {
	memory := repository.NewMemoryRateLimitRepository()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverRateLimitRepository(
		repository.NewRedisRateLimitRepository(redisClient),
		memory,
		logging.Component(logger, "ratelimit"),
	)
}

func subscribeAudit(
	ctx context.Context,
	cfg *config.Config,
	bus *events.EventBus,
	db *database.DB,
	redisClient *redis.Client,
	logger *zerolog.Logger,
) <-chan struct{} {
	done := make(chan struct{})
	if !cfg.Database.AsyncAudit {
		db.SubscribeAudit(bus)
		close(done)
		return done
	}

	auditWorker := worker.NewAuditWorker(db, redisClient, worker.RetryPolicy{
		MaxRetries:    5,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
	}, cfg.Database.AuditQueue, logger)
	auditWorker.Subscribe(bus)
	go func() {
		defer close(done)
		auditWorker.Start(ctx)
	}()
	return done
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	errCh := make(chan error, 2)

	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	event := logger.Info().Int("http_port", cfg.API.HTTP.Port)
	if grpcServer != nil {
		event = event.Str("grpc_addr", grpcServer.Addr())
	}
	event.Msg("API server started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return runErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
