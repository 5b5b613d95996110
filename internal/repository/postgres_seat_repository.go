package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/pkg/database"
	"github.com/flourineV/cinemas-backend-sub000/pkg/telemetry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

// PostgresSeatRepository implements SeatRepository using PostgreSQL
type PostgresSeatRepository struct {
	pool       *pgxpool.Pool
	outboxRepo *PostgresOutboxRepository
}

// NewPostgresSeatRepository creates a new PostgresSeatRepository
func NewPostgresSeatRepository(pool *pgxpool.Pool, outboxRepo *PostgresOutboxRepository) *PostgresSeatRepository {
	if outboxRepo == nil {
		outboxRepo = NewPostgresOutboxRepository(pool)
	}
	return &PostgresSeatRepository{pool: pool, outboxRepo: outboxRepo}
}

// exec runs a seat update. With msgs, the update and the outbox rows commit together.
func (r *PostgresSeatRepository) exec(ctx context.Context, msgs []*domain.OutboxMessage, query string, args ...any) (int64, error) {
	if len(msgs) == 0 {
		tag, err := r.pool.Exec(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	}

	var affected int64
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return r.outboxRepo.CreateTx(ctx, tx, msgs...)
	})
	return affected, err
}

const seatColumns = `showtime_id, seat_id, status, COALESCE(booking_id, ''), locked_at, updated_at`

// GetSeats returns the rows of the given seats
func (r *PostgresSeatRepository) GetSeats(ctx context.Context, showtimeID string, seatIDs []string) ([]*domain.ShowtimeSeat, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.seat.get_seats")
	defer span.End()

	span.SetAttributes(
		attribute.String("showtime_id", showtimeID),
		attribute.Int("seat_count", len(seatIDs)),
	)

	query := `SELECT ` + seatColumns + `
		FROM showtime_seats
		WHERE showtime_id = $1 AND seat_id = ANY($2)`

	rows, err := r.pool.Query(ctx, query, showtimeID, seatIDs)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to get seats: %w", err)
	}
	defer rows.Close()

	return scanSeats(rows)
}

// ListSeats returns every seat of a showtime ordered by seat id
func (r *PostgresSeatRepository) ListSeats(ctx context.Context, showtimeID string) ([]*domain.ShowtimeSeat, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.seat.list_seats")
	defer span.End()

	query := `SELECT ` + seatColumns + `
		FROM showtime_seats
		WHERE showtime_id = $1
		ORDER BY seat_id`

	rows, err := r.pool.Query(ctx, query, showtimeID)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to list seats: %w", err)
	}
	defer rows.Close()

	return scanSeats(rows)
}

// SetStatus bulk-updates seat status, queueing msgs in the same transaction
func (r *PostgresSeatRepository) SetStatus(ctx context.Context, showtimeID string, seatIDs []string, status domain.SeatStatus, msgs ...*domain.OutboxMessage) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.seat.set_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("showtime_id", showtimeID),
		attribute.String("status", status.String()),
		attribute.Int("seat_count", len(seatIDs)),
	)

	var query string
	switch status {
	case domain.SeatStatusLocked:
		query = `
			UPDATE showtime_seats SET
				status = 'LOCKED',
				booking_id = NULL,
				locked_at = NOW(),
				updated_at = NOW()
			WHERE showtime_id = $1 AND seat_id = ANY($2) AND status <> 'BOOKED'`
	case domain.SeatStatusAvailable:
		query = `
			UPDATE showtime_seats SET
				status = 'AVAILABLE',
				locked_at = NULL,
				updated_at = NOW()
			WHERE showtime_id = $1 AND seat_id = ANY($2) AND status = 'LOCKED'`
	default:
		return 0, fmt.Errorf("seat status %s must be set through SetForBooking", status)
	}

	affected, err := r.exec(ctx, msgs, query, showtimeID, seatIDs)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return 0, fmt.Errorf("failed to set seat status: %w", err)
	}

	span.SetAttributes(attribute.Int64("rows_affected", affected))
	return affected, nil
}

// RevertLocked sets a seat back to AVAILABLE if it is still LOCKED. msgs are
// queued whether or not the row changed.
func (r *PostgresSeatRepository) RevertLocked(ctx context.Context, showtimeID, seatID string, msgs ...*domain.OutboxMessage) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.seat.revert_locked")
	defer span.End()

	query := `
		UPDATE showtime_seats SET
			status = 'AVAILABLE',
			locked_at = NULL,
			updated_at = NOW()
		WHERE showtime_id = $1 AND seat_id = $2 AND status = 'LOCKED'`

	affected, err := r.exec(ctx, msgs, query, showtimeID, seatID)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return false, fmt.Errorf("failed to revert locked seat: %w", err)
	}
	return affected > 0, nil
}

// SetForBooking applies a booking outcome to its seats
func (r *PostgresSeatRepository) SetForBooking(ctx context.Context, bookingID, showtimeID string, seatIDs []string, status domain.SeatStatus) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.seat.set_for_booking")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("showtime_id", showtimeID),
		attribute.String("status", status.String()),
	)

	var query string
	switch status {
	case domain.SeatStatusBooked:
		query = `
			UPDATE showtime_seats SET
				status = 'BOOKED',
				booking_id = $3,
				locked_at = NULL,
				updated_at = NOW()
			WHERE showtime_id = $1 AND seat_id = ANY($2)`
	case domain.SeatStatusAvailable:
		query = `
			UPDATE showtime_seats SET
				status = 'AVAILABLE',
				booking_id = NULL,
				locked_at = NULL,
				updated_at = NOW()
			WHERE showtime_id = $1 AND seat_id = ANY($2)
				AND (status = 'LOCKED' OR (status = 'BOOKED' AND booking_id = $3))`
	default:
		return 0, fmt.Errorf("booking cannot move seats to %s", status)
	}

	result, err := r.pool.Exec(ctx, query, showtimeID, seatIDs, bookingID)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return 0, fmt.Errorf("failed to set seats for booking: %w", err)
	}

	span.SetAttributes(attribute.Int64("rows_affected", result.RowsAffected()))
	return result.RowsAffected(), nil
}

// ListStaleLocked returns seats LOCKED since before olderThan, oldest first
func (r *PostgresSeatRepository) ListStaleLocked(ctx context.Context, olderThan time.Time, limit int) ([]domain.SeatKey, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.seat.list_stale_locked")
	defer span.End()

	query := `
		SELECT showtime_id, seat_id
		FROM showtime_seats
		WHERE status = 'LOCKED' AND locked_at < $1
		ORDER BY locked_at
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, olderThan, limit)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to list stale locked seats: %w", err)
	}
	defer rows.Close()

	var keys []domain.SeatKey
	for rows.Next() {
		var k domain.SeatKey
		if err := rows.Scan(&k.ShowtimeID, &k.SeatID); err != nil {
			return nil, fmt.Errorf("failed to scan seat key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating seat keys: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(keys)))
	return keys, nil
}

func scanSeats(rows pgx.Rows) ([]*domain.ShowtimeSeat, error) {
	var seats []*domain.ShowtimeSeat
	for rows.Next() {
		var s domain.ShowtimeSeat
		var status string
		if err := rows.Scan(&s.ShowtimeID, &s.SeatID, &status, &s.BookingID, &s.LockedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan seat: %w", err)
		}
		s.Status = domain.SeatStatus(status)
		seats = append(seats, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating seats: %w", err)
	}
	return seats, nil
}

var _ SeatRepository = (*PostgresSeatRepository)(nil)
