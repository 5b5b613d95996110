package repository

import (
	"context"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/jackc/pgx/v5"
)

// OutboxRepository defines the interface for outbox data access
type OutboxRepository interface {
	// CreateTx creates outbox messages within a transaction
	CreateTx(ctx context.Context, tx pgx.Tx, msgs ...*domain.OutboxMessage) error

	// FetchPending claims pending messages for the lease duration, oldest first.
	// Messages queued behind a retryable failure of the same key are held back.
	FetchPending(ctx context.Context, limit int, lease time.Duration) ([]*domain.OutboxMessage, error)

	// FetchRetryable claims failed messages that still have retries left
	FetchRetryable(ctx context.Context, limit int, lease time.Duration) ([]*domain.OutboxMessage, error)

	// MarkAsPublished marks a message as successfully published
	MarkAsPublished(ctx context.Context, id string) error

	// MarkAsFailed marks a message as failed
	MarkAsFailed(ctx context.Context, id string, err string) error

	// DeletePublished deletes published messages older than retention
	DeletePublished(ctx context.Context, retention time.Duration) (int64, error)
}

// BookingRepository is the booking aggregate store. Every write also inserts
// the given outbox messages in the same transaction.
type BookingRepository interface {
	// Create inserts the booking and its seats
	Create(ctx context.Context, booking *domain.Booking, msgs ...*domain.OutboxMessage) error

	// GetByID loads the booking with its seats, F&B lines and promotion
	GetByID(ctx context.Context, id string) (*domain.Booking, error)

	// ListByShowtime returns bookings of a showtime in any of statuses
	ListByShowtime(ctx context.Context, showtimeID string, statuses ...domain.BookingStatus) ([]*domain.Booking, error)

	// CountUserCancellationsSince counts bookings the user cancelled and got refunded since the given time
	CountUserCancellationsSince(ctx context.Context, userID string, since time.Time) (int, error)

	// UpdateStatus persists booking.Status and its payment/refund fields only if
	// the stored status is still from; otherwise ErrBookingStateChanged.
	// clearExtras also deletes the F&B and promotion rows.
	UpdateStatus(ctx context.Context, booking *domain.Booking, from domain.BookingStatus, clearExtras bool, msgs ...*domain.OutboxMessage) error

	// SaveFinalization replaces F&B and promotion rows and persists prices and status
	// under the same compare-and-set as UpdateStatus
	SaveFinalization(ctx context.Context, booking *domain.Booking, from domain.BookingStatus, msgs ...*domain.OutboxMessage) error
}
