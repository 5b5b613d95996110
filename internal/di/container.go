// Package di builds the object graph shared by the booking service binaries.
package di

import (
	"context"
	"fmt"

	"github.com/flourineV/cinemas-backend-sub000/internal/client"
	"github.com/flourineV/cinemas-backend-sub000/internal/event"
	"github.com/flourineV/cinemas-backend-sub000/internal/handler"
	"github.com/flourineV/cinemas-backend-sub000/internal/metrics"
	"github.com/flourineV/cinemas-backend-sub000/internal/notifier"
	"github.com/flourineV/cinemas-backend-sub000/internal/repository"
	"github.com/flourineV/cinemas-backend-sub000/internal/saga"
	"github.com/flourineV/cinemas-backend-sub000/internal/service"
	"github.com/flourineV/cinemas-backend-sub000/internal/worker"
	"github.com/flourineV/cinemas-backend-sub000/pkg/config"
	"github.com/flourineV/cinemas-backend-sub000/pkg/database"
	"github.com/flourineV/cinemas-backend-sub000/pkg/kafka"
	"github.com/flourineV/cinemas-backend-sub000/pkg/logger"
	"github.com/flourineV/cinemas-backend-sub000/pkg/middleware"
	pkgredis "github.com/flourineV/cinemas-backend-sub000/pkg/redis"
	"github.com/flourineV/cinemas-backend-sub000/pkg/retry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Container holds all dependencies for the booking service
type Container struct {
	Config *config.Config

	// Infrastructure
	DB       *database.PostgresDB
	Redis    *pkgredis.Client
	Producer *kafka.Producer
	Metrics  *metrics.Metrics

	// Repositories
	SeatLockRepo *repository.RedisSeatLockRepository
	SeatRepo     *repository.PostgresSeatRepository
	OutboxRepo   *repository.PostgresOutboxRepository
	BookingRepo  *repository.PostgresBookingRepository

	// Publishers
	Publisher   event.Publisher
	Broadcaster *notifier.RedisBroadcaster
	Hub         *notifier.Hub

	// Services
	SeatLocks    service.SeatLockService
	Orchestrator *saga.Orchestrator

	// Workers
	OutboxWorker       *worker.OutboxWorker
	LockExpiryListener *worker.LockExpiryListener
	LockSweepWorker    *worker.LockSweepWorker
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Config   *config.Config
	DB       *database.PostgresDB
	Redis    *pkgredis.Client
	Producer *kafka.Producer
	Metrics  *metrics.Metrics
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	appCfg := cfg.Config
	c := &Container{
		Config:   appCfg,
		DB:       cfg.DB,
		Redis:    cfg.Redis,
		Producer: cfg.Producer,
		Metrics:  cfg.Metrics,
	}

	// Repositories
	pool := c.DB.Pool()
	c.SeatLockRepo = repository.NewRedisSeatLockRepository(c.Redis)
	c.OutboxRepo = repository.NewPostgresOutboxRepository(pool)
	c.SeatRepo = repository.NewPostgresSeatRepository(pool, c.OutboxRepo)
	c.BookingRepo = repository.NewPostgresBookingRepository(pool, c.OutboxRepo)

	// Publishers
	if c.Producer != nil {
		c.Publisher = event.NewKafkaPublisher(c.Producer, appCfg.App.Name)
	} else {
		c.Publisher = event.NewNoOpPublisher()
	}
	c.Broadcaster = notifier.NewRedisBroadcaster(c.Redis)
	c.Hub = notifier.NewHub(c.Redis, c.Metrics, 0)

	// Collaborators
	clientCfg := &client.Config{
		ShowtimeServiceURL:  appCfg.Services.ShowtimeServiceURL,
		PricingServiceURL:   appCfg.Services.PricingServiceURL,
		PromotionServiceURL: appCfg.Services.PromotionServiceURL,
		MovieServiceURL:     appCfg.Services.MovieServiceURL,
		UserServiceURL:      appCfg.Services.UserServiceURL,
		FnbServiceURL:       appCfg.Services.FnbServiceURL,
		Timeout:             appCfg.Services.Timeout,
	}
	showtimes := client.NewHTTPShowtimeClient(clientCfg)

	// Services
	c.SeatLocks = service.NewSeatLockService(
		c.SeatLockRepo,
		c.SeatRepo,
		showtimes,
		c.Broadcaster,
		c.Metrics,
		&service.SeatLockServiceConfig{
			DefaultTTL:    appCfg.SeatLock.DefaultTTL,
			PaymentTTL:    appCfg.SeatLock.PaymentTTL,
			MappingMargin: appCfg.SeatLock.MappingMargin,
		},
	)

	c.Orchestrator = saga.NewOrchestrator(saga.Dependencies{
		Bookings:   c.BookingRepo,
		Locks:      c.SeatLocks,
		Showtimes:  showtimes,
		Pricing:    client.NewHTTPPricingClient(clientCfg),
		Promotions: client.NewHTTPPromotionClient(clientCfg),
		Movies:     client.NewHTTPMovieClient(clientCfg),
		Users:      client.NewHTTPUserClient(clientCfg),
		Fnb:        client.NewHTTPFnbClient(clientCfg),
		Publisher:  c.Publisher,
		Metrics:    c.Metrics,
	}, &saga.OrchestratorConfig{
		CancelCutoff:       appCfg.Booking.CancelCutoff,
		MonthlyCancelLimit: appCfg.Booking.MonthlyCancelLimit,
		LoyaltyPointUnit:   appCfg.Booking.LoyaltyPointUnit,
		PaymentTTL:         appCfg.SeatLock.PaymentTTL,
	})

	// Workers
	if c.Producer != nil {
		c.OutboxWorker = worker.NewOutboxWorker(c.OutboxRepo, c.Producer, c.Metrics, &worker.OutboxWorkerConfig{
			PollInterval:    appCfg.Outbox.PollInterval,
			BatchSize:       appCfg.Outbox.BatchSize,
			RetryInterval:   appCfg.Outbox.RetryInterval,
			CleanupInterval: appCfg.Outbox.CleanupInterval,
			Retention:       appCfg.Outbox.Retention,
			ClaimLease:      appCfg.Outbox.ClaimLease,
		})
	}
	if appCfg.SeatLock.UseSubscription() {
		c.LockExpiryListener = worker.NewLockExpiryListener(c.Redis, c.SeatLocks, &worker.LockExpiryListenerConfig{
			ConfigureKeyspaceEvents: appCfg.SeatLock.ConfigureKeyspaceEvents,
		})
	}
	if appCfg.SeatLock.UseSweep() {
		c.LockSweepWorker = worker.NewLockSweepWorker(c.SeatRepo, c.SeatLocks, &worker.LockSweepWorkerConfig{
			ScanInterval: appCfg.SeatLock.SweepInterval,
			BatchSize:    appCfg.SeatLock.SweepBatchSize,
			MinLockAge:   appCfg.SeatLock.DefaultTTL,
		})
	}

	return c
}

// Router builds the HTTP API
func (c *Container) Router() *gin.Engine {
	components := []handler.Component{
		{Name: "database", Checker: c.DB},
		{Name: "redis", Checker: c.Redis},
	}
	if c.Producer != nil {
		components = append(components, handler.Component{Name: "kafka", Checker: kafkaHealth{c.Producer}})
	}

	return handler.NewRouter(&handler.RouterConfig{
		Health:     handler.NewHealthHandler(components...),
		SeatLocks:  handler.NewSeatLockHandler(c.SeatLocks),
		Bookings:   handler.NewBookingHandler(c.Orchestrator),
		SeatStream: handler.NewSeatStreamHandler(c.SeatLocks, c.Hub, 0),
		Auth: &middleware.AuthConfig{
			Secret: c.Config.JWT.Secret,
			Issuer: c.Config.JWT.Issuer,
		},
		Idempotency: &middleware.IdempotencyConfig{Store: c.Redis.Client()},
		Metrics:     c.Metrics,
		Tracing:     c.Config.OTel.Enabled,
	})
}

// NewSagaConsumer consumes payment, showtime and seat events into the orchestrator
func (c *Container) NewSagaConsumer(ctx context.Context) (*saga.EventConsumer, error) {
	return c.newConsumer(ctx, "saga", saga.SagaTopics, c.Orchestrator)
}

// NewSeatStatusConsumer projects booking status changes onto the seat inventory
func (c *Container) NewSeatStatusConsumer(ctx context.Context) (*saga.EventConsumer, error) {
	return c.newConsumer(ctx, "seat-status", saga.SeatStatusTopics, saga.NewSeatStatusProjector(c.SeatLocks))
}

func (c *Container) newConsumer(ctx context.Context, name string, topics []string, h saga.EventHandler) (*saga.EventConsumer, error) {
	if c.Producer == nil {
		return nil, fmt.Errorf("%s consumer needs a kafka producer for its dead letter topic", name)
	}

	kcfg := c.Config.Kafka
	source, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
		Brokers:         kcfg.Brokers,
		GroupID:         kcfg.ConsumerGroup + "-" + name,
		ClientID:        kcfg.ClientID + "-" + name,
		Topics:          topics,
		StartFromOldest: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s consumer: %w", name, err)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = kcfg.MaxRetries
	log := logger.Get()
	dlq := retry.NewDLQHandler(
		retry.NewKafkaDLQPublisher(c.Producer, c.Config.App.Name),
		retryCfg,
		func(msg *retry.DLQMessage) {
			log.Warn("Event moved to dead letter topic",
				zap.String("consumer", name),
				zap.String("topic", msg.OriginalTopic),
				zap.String("key", msg.OriginalKey),
				zap.String("error", msg.Error),
			)
		},
	)

	return saga.NewEventConsumer(source, &saga.EventConsumerConfig{
		Name:    name,
		Handler: h,
		DLQ:     dlq,
		Metrics: c.Metrics,
	}), nil
}

// kafkaHealth adapts the producer to handler.HealthChecker
type kafkaHealth struct {
	producer *kafka.Producer
}

func (k kafkaHealth) HealthCheck(ctx context.Context) error {
	return k.producer.Ping(ctx)
}
