package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/internal/event"
	"github.com/flourineV/cinemas-backend-sub000/internal/metrics"
	"github.com/flourineV/cinemas-backend-sub000/pkg/kafka"
	"github.com/flourineV/cinemas-backend-sub000/pkg/logger"
	"github.com/flourineV/cinemas-backend-sub000/pkg/retry"
	"go.uber.org/zap"
)

// SagaTopics are consumed by the orchestrator
var SagaTopics = []string{
	event.KindPaymentBookingSuccess.Topic(),
	event.KindPaymentBookingFailed.Topic(),
	event.KindShowtimeSuspended.Topic(),
	event.KindSeatUnlocked.Topic(),
}

// SeatStatusTopics are consumed by the seat status projector
var SeatStatusTopics = []string{
	event.KindBookingStatusUpdated.Topic(),
}

// RecordSource is satisfied by *kafka.Consumer
type RecordSource interface {
	Poll(ctx context.Context) ([]*kafka.Record, error)
	Commit(ctx context.Context, records ...*kafka.Record) error
	AllowRebalance()
	Close()
}

// EventConsumerConfig holds configuration for EventConsumer
type EventConsumerConfig struct {
	// Name labels logs of this consumer
	Name    string
	Handler EventHandler
	DLQ     *retry.DLQHandler
	Metrics *metrics.Metrics
}

// EventConsumer feeds decoded events to a handler. Records of one partition
// are handled in order; partitions of a batch run concurrently. A record that
// keeps failing goes to the dead letter topic so the partition moves on.
type EventConsumer struct {
	source  RecordSource
	handler EventHandler
	dlq     *retry.DLQHandler
	metrics *metrics.Metrics
	name    string
	log     *logger.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewEventConsumer creates a new EventConsumer
func NewEventConsumer(source RecordSource, cfg *EventConsumerConfig) *EventConsumer {
	if cfg.DLQ == nil {
		cfg.DLQ = retry.NewDLQHandler(nil, retry.DefaultConfig(), nil)
	}
	if cfg.Name == "" {
		cfg.Name = "event-consumer"
	}
	return &EventConsumer{
		source:  source,
		handler: cfg.Handler,
		dlq:     cfg.DLQ,
		metrics: cfg.Metrics,
		name:    cfg.Name,
		log:     logger.Get().With(zap.String("consumer", cfg.Name)),
		stopCh:  make(chan struct{}),
	}
}

// Start begins consuming in the background
func (c *EventConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer %s already running", c.name)
	}
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx)

	c.log.Info("Event consumer started")
	return nil
}

// Stop closes the source and waits for the in-flight batch
func (c *EventConsumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopCh)
	c.source.Close()
	c.wg.Wait()
	c.log.Info("Event consumer stopped")
}

func (c *EventConsumer) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		records, err := c.source.Poll(ctx)
		if err != nil {
			if errors.Is(err, kafka.ErrClientClosed) || ctx.Err() != nil {
				return
			}
			c.log.Error("Poll failed", zap.Error(err))
			continue
		}
		if len(records) == 0 {
			c.source.AllowRebalance()
			continue
		}

		done := c.processBatch(ctx, records)

		if err := c.source.Commit(ctx, done...); err != nil {
			c.log.Error("Failed to commit offsets", zap.Int("records", len(done)), zap.Error(err))
		}
		c.source.AllowRebalance()
	}
}

// processBatch returns the records that may be committed
func (c *EventConsumer) processBatch(ctx context.Context, records []*kafka.Record) []*kafka.Record {
	type partitionKey struct {
		topic     string
		partition int32
	}
	var order []partitionKey
	byPartition := make(map[partitionKey][]*kafka.Record)
	for _, r := range records {
		k := partitionKey{r.Topic, r.Partition}
		if _, ok := byPartition[k]; !ok {
			order = append(order, k)
		}
		byPartition[k] = append(byPartition[k], r)
	}

	var (
		mu   sync.Mutex
		done []*kafka.Record
		wg   sync.WaitGroup
	)
	for _, k := range order {
		wg.Add(1)
		go func(recs []*kafka.Record) {
			defer wg.Done()
			for _, r := range recs {
				if !c.processRecord(ctx, r) {
					// Uncommitted offsets come back after a restart or rebalance
					return
				}
				mu.Lock()
				done = append(done, r)
				mu.Unlock()
			}
		}(byPartition[k])
	}
	wg.Wait()
	return done
}

// processRecord reports whether the record is finished: handled or dead-lettered
func (c *EventConsumer) processRecord(ctx context.Context, r *kafka.Record) bool {
	_, e, decodeErr := event.Decode(r.Value)
	kind := "unknown"
	if e != nil {
		kind = string(e.Kind())
	}

	msg := &retry.DLQMessage{
		ID:            recordID(r),
		OriginalTopic: r.Topic,
		OriginalKey:   string(r.Key),
		Partition:     r.Partition,
		Offset:        r.Offset,
		Payload:       rawPayload(r.Value),
		Headers:       r.Headers,
	}

	err := c.dlq.ProcessWithDLQ(ctx, msg, func(ctx context.Context) error {
		if decodeErr != nil {
			return retry.Permanent(decodeErr)
		}
		if err := c.handler.HandleEvent(ctx, e); err != nil {
			if isPermanent(err) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})

	switch {
	case err == nil:
		c.metrics.EventProcessed(kind, "success")
		return true
	case errors.Is(err, retry.ErrMovedToDLQ):
		c.metrics.EventProcessed(kind, "dlq")
		c.log.WarnContext(ctx, "Event moved to dead letter queue",
			zap.String("topic", r.Topic),
			zap.Int32("partition", r.Partition),
			zap.Int64("offset", r.Offset),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return true
	default:
		c.metrics.EventProcessed(kind, "failed")
		c.log.ErrorContext(ctx, "Event processing failed",
			zap.String("topic", r.Topic),
			zap.Int32("partition", r.Partition),
			zap.Int64("offset", r.Offset),
			zap.String("kind", kind),
			zap.Error(err),
		)
		return false
	}
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrUnhandledEvent) ||
		domain.IsValidationError(err) ||
		domain.IsNotFoundError(err) ||
		domain.IsConflictError(err)
}

func recordID(r *kafka.Record) string {
	if id := r.Header("event_id"); id != "" {
		return id
	}
	return r.Topic + "-" + strconv.Itoa(int(r.Partition)) + "-" + strconv.FormatInt(r.Offset, 10)
}

// rawPayload keeps valid JSON as is and quotes anything else
func rawPayload(value []byte) json.RawMessage {
	if json.Valid(value) {
		return json.RawMessage(value)
	}
	quoted, _ := json.Marshal(string(value))
	return quoted
}

// SeatStatusReleaser is the lock manager call the projector needs
type SeatStatusReleaser interface {
	ReleaseSeatsForBooking(ctx context.Context, bookingID string, owner domain.Owner, showtimeID string, seatIDs []string, newState domain.SeatStatus) error
}

// SeatStatusProjector moves seat rows to match booking status changes:
// CONFIRMED books the seats and CANCELLED, EXPIRED or REFUNDED frees them
type SeatStatusProjector struct {
	locks SeatStatusReleaser
}

// NewSeatStatusProjector creates a new SeatStatusProjector
func NewSeatStatusProjector(locks SeatStatusReleaser) *SeatStatusProjector {
	return &SeatStatusProjector{locks: locks}
}

// HandleEvent implements EventHandler
func (p *SeatStatusProjector) HandleEvent(ctx context.Context, e event.Event) error {
	ev, ok := e.(*event.BookingStatusUpdated)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnhandledEvent, e.Kind())
	}
	state, ok := ev.NewStatus.SeatState()
	if !ok || len(ev.SeatIDs) == 0 {
		return nil
	}
	return p.locks.ReleaseSeatsForBooking(ctx, ev.BookingID, ev.Owner(), ev.ShowtimeID, ev.SeatIDs, state)
}
