package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/barledger/barledger-backend/internal/inventory/anomaly"
	"github.com/barledger/barledger-backend/internal/inventory/consumers"
	"github.com/barledger/barledger-backend/internal/inventory/events"
	"github.com/barledger/barledger-backend/internal/inventory/forecast"
	"github.com/barledger/barledger-backend/internal/inventory/handler"
	"github.com/barledger/barledger-backend/internal/inventory/insight"
	"github.com/barledger/barledger-backend/internal/inventory/ledger"
	"github.com/barledger/barledger-backend/internal/inventory/migrations"
	"github.com/barledger/barledger-backend/internal/inventory/normalizer"
	"github.com/barledger/barledger-backend/internal/inventory/reconcile"
	"github.com/barledger/barledger-backend/internal/inventory/repository"
	"github.com/barledger/barledger-backend/internal/inventory/service"
	"github.com/barledger/barledger-backend/pkg/config"
	"github.com/barledger/barledger-backend/pkg/database"
	"github.com/barledger/barledger-backend/pkg/httputil"
	"github.com/barledger/barledger-backend/pkg/logger"
	"github.com/barledger/barledger-backend/pkg/messaging"
	"github.com/barledger/barledger-backend/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const serviceName = "inventory-service"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Msg("starting Inventory Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(migrations.FS, "."); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	// Connect to RabbitMQ
	rmq, err := messaging.New(context.Background(), &cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
		log.Fatal().Err(err).Msg("failed to declare dead letter queue")
	}

	// Initialize event publisher
	publisher, err := events.NewInventoryEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer, serviceName, cfg.Server.Environment)
	}

	// Initialize repositories
	stores := service.Stores{
		Items:           repository.NewItemRepository(db),
		Devices:         repository.NewDeviceRepository(db),
		Recipes:         repository.NewRecipeRepository(db),
		Movements:       repository.NewMovementRepository(db),
		Quarantine:      repository.NewQuarantineRepository(db),
		Anomalies:       repository.NewAnomalyRepository(db),
		Reconciliations: repository.NewReconciliationRepository(db),
		Forecasts:       repository.NewForecastRepository(db),
	}

	// Initialize engines
	l := ledger.New(stores.Movements, log)
	norm := normalizer.New(stores.Items, stores.Recipes, stores.Devices, normalizer.Config{
		MaxFutureSkew: cfg.Normalizer.MaxFutureSkew,
		MaxPastAge:    cfg.Normalizer.MaxPastAge,
	}, log)

	anomalyCfg, err := anomaly.NewConfig(cfg.Anomaly)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid anomaly configuration")
	}
	engines := service.Engines{
		Reconciler: reconcile.New(l, stores.Devices, cfg.Analysis.MatchTolerancePercent),
		Detector:   anomaly.New(anomalyCfg),
		Forecaster: forecast.New(forecast.NewConfig(cfg.Forecast)),
		Insight:    insight.NewConfig(cfg.Insight),
	}

	var locker service.Locker = service.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		locker = service.NewRedisLocker(rdb)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using Redis sweep lock")
	}

	// Initialize services
	ingestService := service.NewIngestService(norm, l, stores.Quarantine, publisher, m, log)
	catalogService := service.NewCatalogService(stores, l, publisher, log)
	analysisService := service.NewAnalysisService(stores, l, engines, service.NewAnalysisConfig(cfg), locker, publisher, m, log)
	anomalyService := service.NewAnomalyService(stores.Anomalies, log)

	// Initialize handlers
	handlers := &handler.Handlers{
		Events:   handler.NewEventHandler(ingestService, catalogService, log),
		Items:    handler.NewItemHandler(catalogService, log),
		Catalog:  handler.NewCatalogHandler(catalogService, log),
		Analysis: handler.NewAnalysisHandler(analysisService, log),
		Anomaly:  handler.NewAnomalyHandler(anomalyService, log),
	}

	// Start raw movement consumer
	movementConsumer, err := consumers.NewMovementConsumer(rmq, ingestService, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create movement consumer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := movementConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start movement consumer")
	}

	var scheduler *service.AnalysisScheduler
	if cfg.Analysis.SchedulerEnabled {
		scheduler = service.NewAnalysisScheduler(analysisService, cfg.Analysis.Interval, log)
		scheduler.Start(ctx)
	}

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Actor)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Actor-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	if cfg.Metrics.Enabled {
		r.Method(http.MethodGet, cfg.Metrics.Path, metrics.Handler(prometheus.DefaultGatherer))
	}

	// API routes
	r.Route("/api/v1/inventory", handlers.Routes)

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop the scheduler first; it waits for an in-flight sweep to unwind
	if scheduler != nil {
		scheduler.Stop()
	}
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
