package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/flourineV/cinemas-backend-sub000/pkg/kafka"
)

// Publisher publishes events directly, outside of any database transaction.
// Events that must commit together with a booking change go through the outbox.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// MessageProducer is satisfied by *kafka.Producer
type MessageProducer interface {
	ProduceBatch(ctx context.Context, msgs []*kafka.Message) error
	Close()
}

// KafkaPublisher implements Publisher using Kafka
type KafkaPublisher struct {
	producer    MessageProducer
	serviceName string
}

// NewKafkaPublisher creates a publisher on an existing producer
func NewKafkaPublisher(producer MessageProducer, serviceName string) *KafkaPublisher {
	if serviceName == "" {
		serviceName = "booking-service"
	}
	return &KafkaPublisher{producer: producer, serviceName: serviceName}
}

// Publish produces events synchronously, each to its own topic keyed by Key()
func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]*kafka.Message, 0, len(events))
	for _, e := range events {
		msg, err := p.toMessage(e)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := p.producer.ProduceBatch(ctx, msgs); err != nil {
		return fmt.Errorf("failed to publish %d event(s) starting with %s: %w", len(events), events[0].Kind(), err)
	}
	return nil
}

func (p *KafkaPublisher) toMessage(e Event) (*kafka.Message, error) {
	env, err := NewEnvelope(e)
	if err != nil {
		return nil, err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return &kafka.Message{
		Topic:     e.Kind().Topic(),
		Key:       []byte(e.Key()),
		Value:     value,
		Headers:   Headers(env, p.serviceName),
		Timestamp: env.OccurredAt,
	}, nil
}

// Close closes the underlying producer
func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		p.producer.Close()
	}
	return nil
}

// Headers returns the record headers written for an envelope
func Headers(env *Envelope, source string) map[string]string {
	return map[string]string{
		"event_type":    string(env.Kind),
		"event_id":      env.EventID,
		"event_version": fmt.Sprint(env.Version),
		"source":        source,
		"content_type":  "application/json",
	}
}

// NoOpPublisher drops every event
type NoOpPublisher struct{}

// NewNoOpPublisher creates a new no-op publisher
func NewNoOpPublisher() *NoOpPublisher {
	return &NoOpPublisher{}
}

// Publish is a no-op
func (p *NoOpPublisher) Publish(ctx context.Context, events ...Event) error {
	return nil
}

// Close is a no-op
func (p *NoOpPublisher) Close() error {
	return nil
}

// RecordingPublisher keeps published events in memory
type RecordingPublisher struct {
	mu     sync.Mutex
	Events []Event
	Err    error
}

// Publish appends events unless Err is set
func (p *RecordingPublisher) Publish(ctx context.Context, events ...Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Events = append(p.Events, events...)
	return nil
}

// Close is a no-op
func (p *RecordingPublisher) Close() error {
	return nil
}

// OfKind returns the recorded events of kind k
func (p *RecordingPublisher) OfKind(k Kind) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, e := range p.Events {
		if e.Kind() == k {
			out = append(out, e)
		}
	}
	return out
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = (*NoOpPublisher)(nil)
	_ Publisher = (*RecordingPublisher)(nil)
)
