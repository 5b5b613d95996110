package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMovedToDLQ is returned by ProcessWithDLQ once a message was dead-lettered
var ErrMovedToDLQ = errors.New("message moved to dead letter queue")

// DLQMessage represents a message in the dead letter queue
type DLQMessage struct {
	ID             string            `json:"id"`
	OriginalTopic  string            `json:"original_topic"`
	OriginalKey    string            `json:"original_key"`
	Partition      int32             `json:"partition"`
	Offset         int64             `json:"offset"`
	Payload        json.RawMessage   `json:"payload"`
	Headers        map[string]string `json:"headers,omitempty"`
	Error          string            `json:"error"`
	Attempts       int               `json:"attempts"`
	FirstAttemptAt time.Time         `json:"first_attempt_at"`
	MovedToDLQAt   time.Time         `json:"moved_to_dlq_at"`
	Source         string            `json:"source"`
}

// DLQPublisher publishes failed messages to a dead letter queue
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg *DLQMessage) error
}

// JSONProducer is satisfied by *kafka.Producer
type JSONProducer interface {
	ProduceJSON(ctx context.Context, topic, key string, value interface{}, headers map[string]string) error
}

// DLQTopic returns the dead letter topic for a source topic
func DLQTopic(topic string) string {
	return topic + ".dlq"
}

// KafkaDLQPublisher publishes failed messages to "<topic>.dlq"
type KafkaDLQPublisher struct {
	producer JSONProducer
	source   string
}

// NewKafkaDLQPublisher creates a new Kafka DLQ publisher
func NewKafkaDLQPublisher(producer JSONProducer, source string) *KafkaDLQPublisher {
	return &KafkaDLQPublisher{producer: producer, source: source}
}

// PublishToDLQ publishes a message to the dead letter queue
func (p *KafkaDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	if msg == nil {
		return fmt.Errorf("DLQ message cannot be nil")
	}

	msg.MovedToDLQAt = time.Now()
	msg.Source = p.source

	headers := map[string]string{
		"content_type":   "application/json",
		"original_topic": msg.OriginalTopic,
		"error":          msg.Error,
		"attempts":       fmt.Sprintf("%d", msg.Attempts),
		"source":         msg.Source,
	}

	return p.producer.ProduceJSON(ctx, DLQTopic(msg.OriginalTopic), msg.OriginalKey, msg, headers)
}

// NoOpDLQPublisher drops dead letters, used when Kafka is unavailable
type NoOpDLQPublisher struct{}

// PublishToDLQ does nothing
func (NoOpDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	return nil
}

// DLQHandler retries an operation and dead-letters the message when it keeps failing
type DLQHandler struct {
	retrier   *Retrier
	publisher DLQPublisher
	onDLQ     func(msg *DLQMessage)
}

// NewDLQHandler creates a new DLQ handler. onDLQ may be nil.
func NewDLQHandler(publisher DLQPublisher, retryConfig *Config, onDLQ func(msg *DLQMessage)) *DLQHandler {
	if publisher == nil {
		publisher = NoOpDLQPublisher{}
	}
	return &DLQHandler{
		retrier:   New(retryConfig),
		publisher: publisher,
		onDLQ:     onDLQ,
	}
}

// ProcessWithDLQ runs op with retries. It returns nil on success and an error wrapping
// ErrMovedToDLQ when the message was dead-lettered. Any other error means the dead
// letter could not be published either.
func (h *DLQHandler) ProcessWithDLQ(ctx context.Context, msg *DLQMessage, op Operation) error {
	if msg.FirstAttemptAt.IsZero() {
		msg.FirstAttemptAt = time.Now()
	}

	result := h.retrier.Do(ctx, op)
	if result.Err == nil {
		return nil
	}
	if errors.Is(result.Err, ErrContextCanceled) {
		return result.Err
	}

	cause := result.Err
	if result.LastError != nil {
		cause = result.LastError
	}
	msg.Error = cause.Error()
	msg.Attempts = result.Attempts

	if h.onDLQ != nil {
		h.onDLQ(msg)
	}

	if err := h.publisher.PublishToDLQ(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w (original error: %v)", err, cause)
	}

	return fmt.Errorf("%w: %v", ErrMovedToDLQ, cause)
}
