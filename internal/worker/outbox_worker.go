package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/internal/metrics"
	"github.com/flourineV/cinemas-backend-sub000/internal/repository"
	"github.com/flourineV/cinemas-backend-sub000/pkg/kafka"
	"github.com/flourineV/cinemas-backend-sub000/pkg/logger"
	"go.uber.org/zap"
)

// OutboxProducer is satisfied by *kafka.Producer
type OutboxProducer interface {
	Produce(ctx context.Context, msg *kafka.Message) error
}

// OutboxWorkerConfig contains configuration for the outbox worker
type OutboxWorkerConfig struct {
	// PollInterval is the interval between polling for pending messages
	PollInterval time.Duration
	// BatchSize is the number of messages to fetch in each poll
	BatchSize int
	// RetryInterval is the interval between retrying failed messages
	RetryInterval time.Duration
	// CleanupInterval is the interval between cleanup of old published messages
	CleanupInterval time.Duration
	// Retention is how long published messages are kept
	Retention time.Duration
	// ClaimLease hides claimed messages from other relays until it runs out
	ClaimLease time.Duration
}

// DefaultOutboxWorkerConfig returns default configuration
func DefaultOutboxWorkerConfig() *OutboxWorkerConfig {
	return &OutboxWorkerConfig{
		PollInterval:    100 * time.Millisecond,
		BatchSize:       100,
		RetryInterval:   5 * time.Second,
		CleanupInterval: time.Hour,
		Retention:       7 * 24 * time.Hour,
		ClaimLease:      30 * time.Second,
	}
}

// OutboxWorker relays outbox rows to Kafka. Messages sharing a partition key
// are published in creation order: once one fails, the rest of its key waits.
type OutboxWorker struct {
	outboxRepo repository.OutboxRepository
	producer   OutboxProducer
	metrics    *metrics.Metrics
	config     *OutboxWorkerConfig
	log        *logger.Logger
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool

	// Stats
	totalPublished int64
	totalFailed    int64
	lastPollTime   time.Time
}

// NewOutboxWorker creates a new outbox worker
func NewOutboxWorker(
	outboxRepo repository.OutboxRepository,
	producer OutboxProducer,
	m *metrics.Metrics,
	config *OutboxWorkerConfig,
) *OutboxWorker {
	def := DefaultOutboxWorkerConfig()
	if config == nil {
		config = def
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = def.RetryInterval
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.Retention <= 0 {
		config.Retention = def.Retention
	}
	if config.ClaimLease <= 0 {
		config.ClaimLease = def.ClaimLease
	}

	return &OutboxWorker{
		outboxRepo: outboxRepo,
		producer:   producer,
		metrics:    m,
		config:     config,
		log:        logger.Get(),
		stopCh:     make(chan struct{}),
	}
}

// Start starts the outbox worker
func (w *OutboxWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting outbox worker")

	w.wg.Add(3)
	go w.loop(ctx, w.config.PollInterval, w.processPendingMessages)
	go w.loop(ctx, w.config.RetryInterval, w.processFailedMessages)
	go w.loop(ctx, w.config.CleanupInterval, w.cleanupOldMessages)

	return nil
}

// Stop stops the outbox worker
func (w *OutboxWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping outbox worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Outbox worker stopped")
}

func (w *OutboxWorker) loop(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// processPendingMessages claims and relays new messages
func (w *OutboxWorker) processPendingMessages(ctx context.Context) {
	w.mu.Lock()
	w.lastPollTime = time.Now()
	w.mu.Unlock()

	messages, err := w.outboxRepo.FetchPending(ctx, w.config.BatchSize, w.config.ClaimLease)
	if err != nil {
		w.log.Error("Failed to fetch pending outbox messages", zap.Error(err))
		return
	}
	w.relay(ctx, messages)
}

// processFailedMessages claims and retries failed messages
func (w *OutboxWorker) processFailedMessages(ctx context.Context) {
	messages, err := w.outboxRepo.FetchRetryable(ctx, w.config.BatchSize, w.config.ClaimLease)
	if err != nil {
		w.log.Error("Failed to fetch retryable outbox messages", zap.Error(err))
		return
	}
	w.relay(ctx, messages)
}

func (w *OutboxWorker) relay(ctx context.Context, messages []*domain.OutboxMessage) {
	blocked := make(map[string]struct{})

	for _, msg := range messages {
		// Leave the message claimed; it comes back once its lease runs out
		if _, ok := blocked[msg.PartitionKey]; ok {
			continue
		}

		if err := w.publishMessage(ctx, msg); err != nil {
			blocked[msg.PartitionKey] = struct{}{}
			w.log.Error("Failed to publish outbox message",
				zap.String("id", msg.ID),
				zap.String("event_type", msg.EventType),
				zap.Int("attempt", msg.Attempt()),
				zap.Int("max_retries", msg.MaxRetries),
				zap.Error(err),
			)
			if msg.Attempt() >= msg.MaxRetries {
				w.log.Warn("Outbox message exhausted its retries, key stays blocked",
					zap.String("id", msg.ID),
					zap.String("partition_key", msg.PartitionKey),
				)
			}
			if markErr := w.outboxRepo.MarkAsFailed(ctx, msg.ID, err.Error()); markErr != nil {
				w.log.Error("Failed to mark outbox message as failed", zap.String("id", msg.ID), zap.Error(markErr))
			}
			w.metrics.OutboxResult("failed")
			w.mu.Lock()
			w.totalFailed++
			w.mu.Unlock()
			continue
		}

		if markErr := w.outboxRepo.MarkAsPublished(ctx, msg.ID); markErr != nil {
			w.log.Error("Failed to mark outbox message as published", zap.String("id", msg.ID), zap.Error(markErr))
		}
		if msg.RetryCount > 0 {
			w.log.Info("Relayed outbox message after retries",
				zap.String("id", msg.ID),
				zap.Int("attempts", msg.Attempt()),
			)
		}
		w.metrics.OutboxResult("published")
		w.mu.Lock()
		w.totalPublished++
		w.mu.Unlock()
	}
}

// cleanupOldMessages deletes old published messages
func (w *OutboxWorker) cleanupOldMessages(ctx context.Context) {
	deleted, err := w.outboxRepo.DeletePublished(ctx, w.config.Retention)
	if err != nil {
		w.log.Error("Failed to clean up outbox", zap.Error(err))
		return
	}
	if deleted > 0 {
		w.log.Info("Cleaned up published outbox messages", zap.Int64("deleted", deleted))
	}
}

// publishMessage produces the row keyed by its partition key
func (w *OutboxWorker) publishMessage(ctx context.Context, msg *domain.OutboxMessage) error {
	headers := msg.Headers()
	headers["source"] = "outbox-worker"
	return w.producer.Produce(ctx, &kafka.Message{
		Topic:     msg.Topic,
		Key:       []byte(msg.PartitionKey),
		Value:     msg.Payload,
		Headers:   headers,
		Timestamp: msg.CreatedAt,
	})
}

// GetStats returns worker statistics
func (w *OutboxWorker) GetStats() *OutboxWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &OutboxWorkerStats{
		IsRunning:      w.running,
		TotalPublished: w.totalPublished,
		TotalFailed:    w.totalFailed,
		LastPollTime:   w.lastPollTime,
	}
}

// OutboxWorkerStats contains worker statistics
type OutboxWorkerStats struct {
	IsRunning      bool      `json:"is_running"`
	TotalPublished int64     `json:"total_published"`
	TotalFailed    int64     `json:"total_failed"`
	LastPollTime   time.Time `json:"last_poll_time"`
}
