package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/foldworks/inference-service/internal/artifacts"
	"github.com/foldworks/inference-service/internal/billing"
	"github.com/foldworks/inference-service/internal/config"
	"github.com/foldworks/inference-service/internal/discovery"
	"github.com/foldworks/inference-service/internal/events"
	"github.com/foldworks/inference-service/internal/handlers"
	"github.com/foldworks/inference-service/internal/inference"
	"github.com/foldworks/inference-service/internal/jobs"
	"github.com/foldworks/inference-service/internal/pricing"
	"github.com/foldworks/inference-service/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	logger.Info("Inference service starting up...")

	dbPool, err := setupDatabase(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	st := store.NewPostgresStore(dbPool, logger)
	if err := st.Initialize(context.Background()); err != nil {
		logger.Fatal("Failed to initialize database schema", zap.Error(err))
	}

	rates, err := st.ListGpuPricing(context.Background(), true)
	if err != nil {
		logger.Fatal("Failed to load rate table", zap.Error(err))
	}
	engine, err := pricing.NewEngine(rates, cfg.Pricing.DefaultClass, logger)
	if err != nil {
		logger.Fatal("Failed to build pricing engine", zap.Error(err))
	}

	provider, err := inference.NewHTTPClient(&cfg.Provider, logger)
	if err != nil {
		logger.Fatal("Failed to create inference provider client", zap.Error(err))
	}

	signer, err := artifacts.NewMinioSigner(cfg.Storage, logger)
	if err != nil {
		logger.Fatal("Failed to create artifact signer", zap.Error(err))
	}
	enricher := artifacts.NewEnricher(signer, cfg.Storage.SignedURLTTL, logger)

	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = events.Connect(cfg.NATS.Address, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()
	}
	publisher := events.NewPublisher(nc, logger)

	resolver := billing.NewResolver(st, logger)
	ledger := billing.NewLedger(st, st, logger)
	reconciler := billing.NewReconciler(st, engine, resolver, ledger, cfg.Billing.MinBillableSeconds, logger)

	jobService := jobs.NewService(st, resolver, reconciler, provider, publisher, cfg.Billing.MinBalanceMinor, logger)

	observerCtx, stopObserver := context.WithCancel(context.Background())
	defer stopObserver()
	if cfg.Observer.Enabled {
		observer := jobs.NewObserver(st, jobService, cfg.Observer.Interval, cfg.Observer.PollTimeout, cfg.Observer.MaxConcurrent, logger)
		go observer.Run(observerCtx)
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		JobService:           jobService,
		Resolver:             resolver,
		Ledger:               ledger,
		Engine:               engine,
		Enricher:             enricher,
		Provider:             provider,
		Store:                st,
		CallbackSecret:       cfg.Billing.CallbackSecret,
		PaymentWebhookSecret: cfg.Billing.PaymentWebhookSecret,
		RequestTimeout:       cfg.Server.ReadTimeout,
		Logger:               logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Consul.Enabled {
		consulClient, err := discovery.Connect(cfg.Consul.Address, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Consul", zap.Error(err))
		}
		if err := discovery.RegisterService(consulClient, &cfg.Consul, cfg.Server.Port, logger); err != nil {
			logger.Fatal("Failed to register with Consul", zap.Error(err))
		}
		serviceID := cfg.Consul.ServiceID
		if serviceID == "" {
			serviceID = cfg.Consul.ServiceName
		}
		defer func() {
			if err := discovery.DeregisterService(consulClient, serviceID, logger); err != nil {
				logger.Error("Consul deregistration failed", zap.Error(err))
			}
		}()
	}

	setupGracefulShutdown(server, stopObserver, cfg.Server.ShutdownTimeout, logger)

	logger.Info("Starting HTTP server", zap.String("address", server.Addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Failed to start HTTP server", zap.Error(err))
	}

	logger.Info("Inference service stopped")
}

// setupLogger initializes the logger.
func setupLogger(level string) (*zap.Logger, error) {
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zapLevel
	zapConfig.EncoderConfig.TimeKey = "timestamp"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapConfig.Build()
}

// setupDatabase initializes the database connection pool.
func setupDatabase(cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	poolCfg, err := cfg.GetDatabaseConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established")
	return pool, nil
}

// setupGracefulShutdown configures graceful shutdown handling.
func setupGracefulShutdown(server *http.Server, stopObserver context.CancelFunc, timeout time.Duration, logger *zap.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		logger.Info("Received shutdown signal, shutting down gracefully...")
		stopObserver()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Failed to shutdown server gracefully", zap.Error(err))
		}
	}()
}
