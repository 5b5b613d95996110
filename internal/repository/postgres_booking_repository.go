package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/pkg/database"
	"github.com/flourineV/cinemas-backend-sub000/pkg/telemetry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

// PostgresBookingRepository implements BookingRepository with outbox support
type PostgresBookingRepository struct {
	pool       *pgxpool.Pool
	outboxRepo *PostgresOutboxRepository
}

// NewPostgresBookingRepository creates a new PostgresBookingRepository
func NewPostgresBookingRepository(pool *pgxpool.Pool, outboxRepo *PostgresOutboxRepository) *PostgresBookingRepository {
	if outboxRepo == nil {
		outboxRepo = NewPostgresOutboxRepository(pool)
	}
	return &PostgresBookingRepository{
		pool:       pool,
		outboxRepo: outboxRepo,
	}
}

const bookingColumns = `
	id, COALESCE(user_id, ''), COALESCE(guest_session_id, ''), showtime_id,
	movie_id, movie_title, theater_name, room_name, showtime_start,
	status, total_price, discount_amount, final_price,
	COALESCE(payment_method, ''), COALESCE(payment_id, ''),
	COALESCE(refund_method, ''), COALESCE(refund_reason, ''), refunded_at,
	loyalty_points_awarded, created_at, updated_at`

// Create inserts the booking, its seats and the outbox messages in one transaction
func (r *PostgresBookingRepository) Create(ctx context.Context, booking *domain.Booking, msgs ...*domain.OutboxMessage) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", booking.ID),
		attribute.String("showtime_id", booking.ShowtimeID),
		attribute.Int("seat_count", len(booking.Seats)),
	)

	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
			INSERT INTO bookings (
				id, user_id, guest_session_id, showtime_id,
				movie_id, movie_title, theater_name, room_name, showtime_start,
				status, total_price, discount_amount, final_price,
				loyalty_points_awarded, created_at, updated_at
			) VALUES (
				$1, NULLIF($2, ''), NULLIF($3, ''), $4,
				$5, $6, $7, $8, $9,
				$10, $11, $12, $13,
				0, $14, $14
			)
		`

		_, err := tx.Exec(ctx, query,
			booking.ID,
			booking.UserID,
			booking.GuestSessionID,
			booking.ShowtimeID,
			booking.MovieID,
			booking.MovieTitle,
			booking.TheaterName,
			booking.RoomName,
			booking.ShowtimeStart,
			booking.Status.String(),
			booking.TotalPrice,
			booking.DiscountAmount,
			booking.FinalPrice,
			booking.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert booking: %w", err)
		}

		seatQuery := `
			INSERT INTO booking_seats (booking_id, seat_id, seat_type, ticket_type, price)
			VALUES ($1, $2, $3, $4, $5)
		`
		for _, seat := range booking.Seats {
			if _, err := tx.Exec(ctx, seatQuery, booking.ID, seat.SeatID, seat.SeatType, seat.TicketType, seat.Price); err != nil {
				return fmt.Errorf("failed to insert booking seat %s: %w", seat.SeatID, err)
			}
		}

		return r.outboxRepo.CreateTx(ctx, tx, msgs...)
	})
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return err
	}
	return nil
}

// GetByID loads a booking aggregate
func (r *PostgresBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", id))

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	booking, err := scanBooking(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBookingNotFound
		}
		telemetry.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	if err := r.loadChildren(ctx, booking); err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}
	return booking, nil
}

// ListByShowtime returns bookings of a showtime in any of statuses
func (r *PostgresBookingRepository) ListByShowtime(ctx context.Context, showtimeID string, statuses ...domain.BookingStatus) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_by_showtime")
	defer span.End()

	span.SetAttributes(attribute.String("showtime_id", showtimeID))

	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = s.String()
	}

	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE showtime_id = $1 AND status = ANY($2)
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, showtimeID, names)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bookings: %w", err)
	}

	for _, b := range bookings {
		if err := r.loadChildren(ctx, b); err != nil {
			return nil, err
		}
	}

	span.SetAttributes(attribute.Int("count", len(bookings)))
	return bookings, nil
}

// CountUserCancellationsSince counts user-initiated refunds since the given time
func (r *PostgresBookingRepository) CountUserCancellationsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM bookings
		WHERE user_id = $1
			AND status = 'REFUNDED'
			AND refund_reason = 'USER_CANCELLED'
			AND refunded_at >= $2
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count cancellations: %w", err)
	}
	return count, nil
}

// UpdateStatus persists the status change with compare-and-set on from
func (r *PostgresBookingRepository) UpdateStatus(ctx context.Context, booking *domain.Booking, from domain.BookingStatus, clearExtras bool, msgs ...*domain.OutboxMessage) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.update_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", booking.ID),
		attribute.String("from", from.String()),
		attribute.String("to", booking.Status.String()),
	)

	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := r.updateBookingTx(ctx, tx, booking, from); err != nil {
			return err
		}
		if clearExtras {
			if err := r.deleteExtrasTx(ctx, tx, booking.ID); err != nil {
				return err
			}
		}
		return r.outboxRepo.CreateTx(ctx, tx, msgs...)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrBookingStateChanged) && !errors.Is(err, domain.ErrBookingNotFound) {
			telemetry.RecordSpanError(span, err)
		}
		return err
	}
	return nil
}

// SaveFinalization replaces F&B and promotion rows and persists prices and status
func (r *PostgresBookingRepository) SaveFinalization(ctx context.Context, booking *domain.Booking, from domain.BookingStatus, msgs ...*domain.OutboxMessage) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.save_finalization")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", booking.ID),
		attribute.Int("fnb_count", len(booking.Fnbs)),
		attribute.Bool("has_promotion", booking.Promotion != nil),
	)

	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := r.updateBookingTx(ctx, tx, booking, from); err != nil {
			return err
		}
		if err := r.deleteExtrasTx(ctx, tx, booking.ID); err != nil {
			return err
		}

		fnbQuery := `
			INSERT INTO booking_fnbs (booking_id, item_id, quantity, unit_price, total_price)
			VALUES ($1, $2, $3, $4, $5)
		`
		for _, f := range booking.Fnbs {
			if _, err := tx.Exec(ctx, fnbQuery, booking.ID, f.ItemID, f.Quantity, f.UnitPrice, f.TotalPrice); err != nil {
				return fmt.Errorf("failed to insert booking fnb %s: %w", f.ItemID, err)
			}
		}

		if p := booking.Promotion; p != nil {
			promoQuery := `
				INSERT INTO booking_promotions (
					booking_id, code, source, discount_type, discount_value, discount_amount
				) VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
			`
			_, err := tx.Exec(ctx, promoQuery,
				booking.ID, p.Code, string(p.Source), string(p.DiscountType), p.DiscountValue, p.DiscountAmount)
			if err != nil {
				return fmt.Errorf("failed to insert booking promotion: %w", err)
			}
		}

		return r.outboxRepo.CreateTx(ctx, tx, msgs...)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrBookingStateChanged) {
			telemetry.RecordSpanError(span, err)
		}
		return err
	}
	return nil
}

func (r *PostgresBookingRepository) updateBookingTx(ctx context.Context, tx pgx.Tx, booking *domain.Booking, from domain.BookingStatus) error {
	query := `
		UPDATE bookings SET
			status = $3,
			total_price = $4,
			discount_amount = $5,
			final_price = $6,
			payment_method = NULLIF($7, ''),
			payment_id = NULLIF($8, ''),
			refund_method = NULLIF($9, ''),
			refund_reason = NULLIF($10, ''),
			refunded_at = $11,
			loyalty_points_awarded = $12,
			updated_at = $13
		WHERE id = $1 AND status = $2
	`

	booking.UpdatedAt = time.Now()
	result, err := tx.Exec(ctx, query,
		booking.ID,
		from.String(),
		booking.Status.String(),
		booking.TotalPrice,
		booking.DiscountAmount,
		booking.FinalPrice,
		booking.PaymentMethod,
		booking.PaymentID,
		string(booking.RefundMethod),
		string(booking.RefundReason),
		booking.RefundedAt,
		booking.LoyaltyPointsAwarded,
		booking.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}

	if result.RowsAffected() == 0 {
		var exists bool
		err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM bookings WHERE id = $1)", booking.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check booking existence: %w", err)
		}
		if !exists {
			return domain.ErrBookingNotFound
		}
		return domain.ErrBookingStateChanged
	}
	return nil
}

func (r *PostgresBookingRepository) deleteExtrasTx(ctx context.Context, tx pgx.Tx, bookingID string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM booking_fnbs WHERE booking_id = $1`, bookingID); err != nil {
		return fmt.Errorf("failed to delete booking fnbs: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM booking_promotions WHERE booking_id = $1`, bookingID); err != nil {
		return fmt.Errorf("failed to delete booking promotion: %w", err)
	}
	return nil
}

func (r *PostgresBookingRepository) loadChildren(ctx context.Context, b *domain.Booking) error {
	seatRows, err := r.pool.Query(ctx, `
		SELECT seat_id, seat_type, ticket_type, price
		FROM booking_seats WHERE booking_id = $1 ORDER BY seat_id`, b.ID)
	if err != nil {
		return fmt.Errorf("failed to load booking seats: %w", err)
	}
	b.Seats, err = pgx.CollectRows(seatRows, func(row pgx.CollectableRow) (domain.BookingSeat, error) {
		var s domain.BookingSeat
		err := row.Scan(&s.SeatID, &s.SeatType, &s.TicketType, &s.Price)
		return s, err
	})
	if err != nil {
		return fmt.Errorf("failed to scan booking seats: %w", err)
	}

	fnbRows, err := r.pool.Query(ctx, `
		SELECT item_id, quantity, unit_price, total_price
		FROM booking_fnbs WHERE booking_id = $1 ORDER BY item_id`, b.ID)
	if err != nil {
		return fmt.Errorf("failed to load booking fnbs: %w", err)
	}
	b.Fnbs, err = pgx.CollectRows(fnbRows, func(row pgx.CollectableRow) (domain.BookingFnb, error) {
		var f domain.BookingFnb
		err := row.Scan(&f.ItemID, &f.Quantity, &f.UnitPrice, &f.TotalPrice)
		return f, err
	})
	if err != nil {
		return fmt.Errorf("failed to scan booking fnbs: %w", err)
	}
	if len(b.Fnbs) == 0 {
		b.Fnbs = nil
	}

	var p domain.BookingPromotion
	var source, discountType string
	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(code, ''), source, discount_type, discount_value, discount_amount
		FROM booking_promotions WHERE booking_id = $1`, b.ID).
		Scan(&p.Code, &source, &discountType, &p.DiscountValue, &p.DiscountAmount)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		b.Promotion = nil
	case err != nil:
		return fmt.Errorf("failed to load booking promotion: %w", err)
	default:
		p.Source = domain.DiscountSource(source)
		p.DiscountType = domain.PromotionDiscountType(discountType)
		b.Promotion = &p
	}

	return nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	var status, refundMethod, refundReason string

	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.GuestSessionID,
		&b.ShowtimeID,
		&b.MovieID,
		&b.MovieTitle,
		&b.TheaterName,
		&b.RoomName,
		&b.ShowtimeStart,
		&status,
		&b.TotalPrice,
		&b.DiscountAmount,
		&b.FinalPrice,
		&b.PaymentMethod,
		&b.PaymentID,
		&refundMethod,
		&refundReason,
		&b.RefundedAt,
		&b.LoyaltyPointsAwarded,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Status = domain.BookingStatus(status)
	b.RefundMethod = domain.RefundMethod(refundMethod)
	b.RefundReason = domain.RefundReason(refundReason)
	return &b, nil
}

var _ BookingRepository = (*PostgresBookingRepository)(nil)
