package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/di"
	"github.com/flourineV/cinemas-backend-sub000/internal/handler"
	"github.com/flourineV/cinemas-backend-sub000/internal/metrics"
	"github.com/flourineV/cinemas-backend-sub000/pkg/config"
	"github.com/flourineV/cinemas-backend-sub000/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const serviceName = "lock-reconciler"

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
	appLog.Info("Starting Lock Reconciler...",
		zap.String("expiry_trigger", cfg.SeatLock.ExpiryTrigger),
		zap.Duration("sweep_interval", cfg.SeatLock.SweepInterval),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := di.ConnectPostgres(ctx, cfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to database: %v", err))
	}
	defer db.Close()
	appLog.Info("Database connected")

	redis, err := di.ConnectRedis(ctx, cfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}
	defer redis.Close()
	appLog.Info("Redis connected")

	// SeatUnlocked events for expired locks are queued in the outbox and
	// relayed from here as well as from the booking service
	producer, err := di.ConnectKafka(ctx, cfg, cfg.Kafka.ClientID+"-"+serviceName)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to Kafka: %v", err))
	}
	defer producer.Close()
	appLog.Info("Kafka producer connected")

	container := di.NewContainer(&di.ContainerConfig{
		Config:   cfg,
		DB:       db,
		Redis:    redis,
		Producer: producer,
		Metrics:  metrics.New(),
	})

	if container.LockExpiryListener != nil {
		if err := container.LockExpiryListener.Start(ctx); err != nil {
			if container.LockSweepWorker == nil {
				appLog.Fatal(fmt.Sprintf("Failed to start lock expiry listener: %v", err))
			}
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
	if container.OutboxWorker != nil {
		if err := container.OutboxWorker.Start(ctx); err != nil {
			appLog.Fatal(fmt.Sprintf("Failed to start outbox worker: %v", err))
		}
		defer container.OutboxWorker.Stop()
	}

	// Health, metrics and stats endpoints
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	health := handler.NewHealthHandler(
		handler.Component{Name: "database", Checker: db},
		handler.Component{Name: "redis", Checker: redis},
	)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", health.Health)
	router.GET("/ready", health.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/stats", func(c *gin.Context) {
		stats := gin.H{}
		if container.LockExpiryListener != nil {
			stats["listener"] = container.LockExpiryListener.GetStats()
		}
		if container.LockSweepWorker != nil {
			stats["sweep"] = container.LockSweepWorker.GetStats()
		}
		if container.OutboxWorker != nil {
			stats["outbox"] = container.OutboxWorker.GetStats()
		}
		c.JSON(http.StatusOK, stats)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		appLog.Info(fmt.Sprintf("Lock Reconciler endpoints listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Error("Status server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down lock reconciler...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Status server forced to shutdown", zap.Error(err))
	}

	appLog.Info("Lock reconciler stopped")
}
