package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/di"
	"github.com/flourineV/cinemas-backend-sub000/internal/metrics"
	"github.com/flourineV/cinemas-backend-sub000/internal/repository"
	"github.com/flourineV/cinemas-backend-sub000/pkg/config"
	"github.com/flourineV/cinemas-backend-sub000/pkg/logger"
	"github.com/flourineV/cinemas-backend-sub000/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "booking-service"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Booking Service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize telemetry
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Telemetry disabled", zap.Error(err))
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	// Initialize database connection
	db, err := di.ConnectPostgres(ctx, cfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to database: %v", err))
	}
	defer db.Close()
	appLog.Info("Database connected")

	if cfg.Database.ApplySchema {
		if err := repository.ApplySchema(ctx, db.Pool()); err != nil {
			appLog.Fatal(fmt.Sprintf("Failed to apply schema: %v", err))
		}
		appLog.Info("Database schema applied")
	}

	// Initialize Redis connection
	redis, err := di.ConnectRedis(ctx, cfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}
	defer redis.Close()
	appLog.Info("Redis connected")

	// Initialize Kafka producer. Without it the API still serves locks,
	// but nothing leaves the outbox and no saga events are consumed.
	producer, err := di.ConnectKafka(ctx, cfg, cfg.Kafka.ClientID)
	if err != nil {
		appLog.Warn("Kafka unavailable, running without event relay", zap.Error(err))
		producer = nil
	} else {
		defer producer.Close()
		appLog.Info("Kafka producer connected")
	}

	container := di.NewContainer(&di.ContainerConfig{
		Config:   cfg,
		DB:       db,
		Redis:    redis,
		Producer: producer,
		Metrics:  metrics.New(),
	})

	// Seat status fan-out
	go func() {
		if err := container.Hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("Seat status hub stopped", zap.Error(err))
		}
	}()

	// Background workers
	if container.OutboxWorker != nil {
		if err := container.OutboxWorker.Start(ctx); err != nil {
			appLog.Fatal(fmt.Sprintf("Failed to start outbox worker: %v", err))
		}
		defer container.OutboxWorker.Stop()
	}
	if container.LockExpiryListener != nil {
		if err := container.LockExpiryListener.Start(ctx); err != nil {
			appLog.Error("Lock expiry listener unavailable, relying on sweep", zap.Error(err))
		} else {
			defer container.LockExpiryListener.Stop()
		}
	}
	if container.LockSweepWorker != nil {
		if err := container.LockSweepWorker.Start(ctx); err != nil {
			appLog.Fatal(fmt.Sprintf("Failed to start lock sweep worker: %v", err))
		}
		defer container.LockSweepWorker.Stop()
	}

	// Event consumers
	if producer != nil {
		sagaConsumer, err := container.NewSagaConsumer(ctx)
		if err != nil {
			appLog.Fatal(fmt.Sprintf("Failed to create saga consumer: %v", err))
		}
		if err := sagaConsumer.Start(ctx); err != nil {
			appLog.Fatal(fmt.Sprintf("Failed to start saga consumer: %v", err))
		}
		defer sagaConsumer.Stop()

		seatConsumer, err := container.NewSeatStatusConsumer(ctx)
		if err != nil {
			appLog.Fatal(fmt.Sprintf("Failed to create seat status consumer: %v", err))
		}
		if err := seatConsumer.Start(ctx); err != nil {
			appLog.Fatal(fmt.Sprintf("Failed to start seat status consumer: %v", err))
		}
		defer seatConsumer.Stop()
	}

	// Setup Gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := container.Router()

	// Create HTTP server. No write timeout: seat streams stay open until
	// the root context is cancelled.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Start server in goroutine
	go func() {
		appLog.Info(fmt.Sprintf("Booking Service listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	// Ends open seat streams and the background loops
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server forced to shutdown", zap.Error(err))
	}

	appLog.Info("Server exited gracefully")
}
