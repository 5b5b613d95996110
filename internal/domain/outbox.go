package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the relay state of an outbox row
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// DefaultOutboxMaxRetries bounds relay attempts before a row stays failed
const DefaultOutboxMaxRetries = 5

// OutboxMessage is an event row written in the same transaction as the booking
// or seat change it describes. The relay publishes rows of one PartitionKey in
// Seq order.
type OutboxMessage struct {
	Seq           int64
	ID            string
	AggregateType string // "booking" or "showtime"
	AggregateID   string
	EventType     string
	Payload       []byte
	Topic         string
	PartitionKey  string
	Status        OutboxStatus
	RetryCount    int
	MaxRetries    int
	LastError     string
	ClaimedUntil  *time.Time
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	PublishedAt   *time.Time
}

// NewOutboxMessage encodes payload as JSON into a pending row keyed by aggregateID
func NewOutboxMessage(aggregateType, aggregateID, eventType, topic string, payload any) (*OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		ID:            uuid.New().String(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
		Topic:         topic,
		PartitionKey:  aggregateID,
		Status:        OutboxStatusPending,
		MaxRetries:    DefaultOutboxMaxRetries,
		CreatedAt:     time.Now(),
	}, nil
}

// Attempt is the 1-based number of the relay attempt about to be made
func (m *OutboxMessage) Attempt() int {
	return m.RetryCount + 1
}

// Retryable reports whether a failed row will be picked up again
func (m *OutboxMessage) Retryable() bool {
	return m.Status == OutboxStatusFailed && m.RetryCount < m.MaxRetries
}

// Exhausted reports whether a failed row has used all its attempts and now
// needs manual intervention
func (m *OutboxMessage) Exhausted() bool {
	return m.Status == OutboxStatusFailed && m.RetryCount >= m.MaxRetries
}

// Headers are attached to the published record so consumers can dedupe on event_id
func (m *OutboxMessage) Headers() map[string]string {
	return map[string]string{
		"event_id":       m.ID,
		"event_type":     m.EventType,
		"aggregate_type": m.AggregateType,
		"aggregate_id":   m.AggregateID,
		"content_type":   "application/json",
	}
}
