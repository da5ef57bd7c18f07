package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"manito/internal/api"
	"manito/internal/config"
	"manito/internal/database"
	"manito/internal/domain"
	"manito/internal/events"
	"manito/internal/logging"
	"manito/internal/messaging"
	"manito/internal/metrics"
	"manito/internal/payment"
	"manito/internal/pricing"
	"manito/internal/repository"
	"manito/internal/service"
	"manito/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := initDatabase(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	idem := initIdempotency(ctx, redisClient, logger)

	omiseClient, err := payment.NewOmiseClient(cfg.Payment.OmisePublicKey, cfg.Payment.OmiseSecretKey)
	if err != nil {
		return fmt.Errorf("init omise client: %w", err)
	}
	gateway := payment.NewOmiseGateway(omiseClient, cfg.Payment.ReturnURI, logging.Component(logger, "payment"))

	eventBus := events.NewEventBus()

	bookingService := service.NewBookingService(db, db, db, gateway, eventBus, service.BookingOptions{
		Currency:             cfg.Payment.Currency,
		DefaultRate:          pricing.Rate(cfg.Pricing.DefaultCommissionBps),
		AuthorizationTimeout: cfg.Payment.AuthorizationTimeout,
		PendingTTL:           cfg.Payment.PendingTTL,
		CreateRateLimit:      cfg.Booking.CreateRateLimit,
		CreateRateWindow:     cfg.Booking.CreateRateWindow,
	}, logging.Component(logger, "booking"))
	bookingService.SetRateLimiter(idem)

	catalogService := service.NewCatalogService(db, logging.Component(logger, "catalog"))
	webhookService := service.NewPaymentWebhookService(gateway, bookingService, idem, logging.Component(logger, "webhook"))

	if cfg.Messaging.Enabled {
		closeMessaging, err := startMessaging(ctx, cfg, db, redisClient, eventBus, bookingService, logger)
		if err != nil {
			return err
		}
		defer closeMessaging()
	} else {
		logger.Warn().Msg("Messaging disabled, booking events are not published")
	}

	sweeper := worker.NewPendingSweeper(bookingService, idem, cfg.Payment.SweepInterval, logging.Component(logger, "sweeper"))
	go sweeper.Start(ctx)

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, logging.Component(logger, "backup"))
		go backupService.Start(ctx)
	}

	startMetrics(ctx, cfg, logger)

	limiter := api.NewRateLimiter(cfg.API.RateLimit)
	httpServer := api.NewHTTPServer(&cfg.API, api.Services{
		Bookings: bookingService,
		Catalog:  catalogService,
		Webhooks: webhookService,
	}, limiter, logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, bookingService, limiter, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	return startServers(ctx, grpcServer, httpServer, cfg, logger)
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

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if cfg.Catalog.SeedPath == "" {
		return db, nil
	}
	seed, err := config.LoadCatalogSeed(cfg.Catalog.SeedPath)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.SeedCatalog(context.Background(), seed); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed catalog: %w", err)
	}
	logger.Info().
		Int("categories", len(seed.Categories)).
		Int("pros", len(seed.Pros)).
		Int("services", len(seed.Services)).
		Msg("Catalog seeded")
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, starting on in-memory fallback")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return client
}

// initIdempotency prefers Redis and falls back to process memory while Redis
// is down.
func initIdempotency(ctx context.Context, client *redis.Client, logger *zerolog.Logger) domain.IdempotencyStore {
	memory := repository.NewMemoryIdempotencyStore()
	go pruneLoop(ctx, memory, time.Minute)

	if client == nil {
		return memory
	}
	return repository.NewFailoverIdempotencyStore(
		repository.NewRedisIdempotencyStore(client),
		memory,
		logging.Component(logger, "idempotency"),
	)
}

func pruneLoop(ctx context.Context, store *repository.MemoryIdempotencyStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Prune()
		}
	}
}

// startMessaging wires booking events to RabbitMQ through the outbox and
// starts the payment outcome consumer.
func startMessaging(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	redisClient *redis.Client,
	bus *events.EventBus,
	bookings *service.BookingService,
	logger *zerolog.Logger,
) (func(), error) {
	publisher, err := messaging.NewPublisher(cfg.Messaging.RabbitMQURL, cfg.Messaging.Exchange)
	if err != nil {
		return nil, fmt.Errorf("init rabbitmq publisher: %w", err)
	}

	outbox := worker.NewOutboxWorker(db, publisher, redisClient, worker.RetryPolicyFromConfig(cfg.Outbox), logging.Component(logger, "outbox"))
	outbox.SetPolling(cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)
	bus.Subscribe(outbox.HandleEvent, events.BookingEventTypes...)
	go outbox.Start(ctx)

	consumerLogger := logging.Component(logger, "outcome-consumer")
	consumer, err := messaging.NewOutcomeConsumer(cfg.Messaging.RabbitMQURL, cfg.Messaging.Exchange, cfg.Messaging.Queue, bookings, consumerLogger)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("init rabbitmq consumer: %w", err)
	}
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			consumerLogger.Error().Err(err).Msg("payment outcome consumer stopped")
		}
	}()

	return func() {
		_ = consumer.Close()
		_ = publisher.Close()
	}, nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Bool("grpc", grpcServer != nil).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
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
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
