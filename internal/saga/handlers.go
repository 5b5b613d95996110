package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/internal/event"
	"github.com/flourineV/cinemas-backend-sub000/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// EventHandler processes one decoded event
type EventHandler interface {
	HandleEvent(ctx context.Context, e event.Event) error
}

// ErrUnhandledEvent is returned for event kinds a handler does not consume
var ErrUnhandledEvent = errors.New("unhandled event kind")

// HandleEvent dispatches the events the orchestrator consumes
func (o *Orchestrator) HandleEvent(ctx context.Context, e event.Event) error {
	switch ev := e.(type) {
	case *event.SeatUnlocked:
		return o.OnSeatUnlocked(ctx, ev)
	case *event.PaymentBookingSuccess:
		return o.OnPaymentSuccess(ctx, ev)
	case *event.PaymentBookingFailed:
		return o.OnPaymentFailed(ctx, ev)
	case *event.ShowtimeSuspended:
		return o.OnShowtimeSuspended(ctx, ev)
	}
	return fmt.Errorf("%w: %s", ErrUnhandledEvent, e.Kind())
}

// loadInFlight returns the booking when it still waits for payment. Missing
// bookings and any other status are skips, not errors.
func (o *Orchestrator) loadInFlight(ctx context.Context, bookingID, kind string) (*domain.Booking, error) {
	b, err := o.deps.Bookings.GetByID(ctx, bookingID)
	if errors.Is(err, domain.ErrBookingNotFound) {
		o.log.WarnContext(ctx, "Booking not found, skipping event",
			zap.String("booking_id", bookingID),
			zap.String("event", kind),
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !b.Status.IsInFlight() {
		o.log.WarnContext(ctx, "Booking not awaiting payment, skipping event",
			zap.String("booking_id", bookingID),
			zap.String("status", b.Status.String()),
			zap.String("event", kind),
		)
		return nil, nil
	}
	return b, nil
}

// skipRace turns a lost compare-and-set into a skip: another delivery already moved the booking
func (o *Orchestrator) skipRace(ctx context.Context, bookingID string, err error) error {
	if errors.Is(err, domain.ErrBookingStateChanged) || errors.Is(err, domain.ErrBookingNotFound) {
		o.log.WarnContext(ctx, "Booking changed concurrently, skipping event",
			zap.String("booking_id", bookingID),
			zap.Error(err),
		)
		return nil
	}
	return err
}

// OnSeatUnlocked expires an in-flight booking whose seat lock went away
func (o *Orchestrator) OnSeatUnlocked(ctx context.Context, e *event.SeatUnlocked) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.event.seat_unlocked")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", e.BookingID),
		attribute.String("reason", string(e.Reason)),
	)

	// Seats released by the booking itself, or never attached to one
	if e.BookingID == "" || isBookingReason(e.Reason) {
		return nil
	}

	b, err := o.loadInFlight(ctx, e.BookingID, string(e.Kind()))
	if err != nil || b == nil {
		return err
	}

	err = o.applyStatus(ctx, b, domain.BookingStatusExpired, transition{clearExtras: true})
	if err := o.skipRace(ctx, b.ID, err); err != nil {
		telemetry.RecordSpanError(span, err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func isBookingReason(r domain.SeatUnlockReason) bool {
	switch r {
	case domain.SeatUnlockCancelled, domain.SeatUnlockExpired, domain.SeatUnlockRefunded:
		return true
	}
	return false
}

// OnPaymentSuccess confirms an in-flight booking. A repeated delivery finds
// the booking CONFIRMED and does nothing, so points are awarded once.
func (o *Orchestrator) OnPaymentSuccess(ctx context.Context, e *event.PaymentBookingSuccess) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.event.payment_success")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", e.BookingID),
		attribute.String("payment_id", e.PaymentID),
	)

	b, err := o.loadInFlight(ctx, e.BookingID, string(e.Kind()))
	if err != nil || b == nil {
		return err
	}

	b.PaymentMethod = e.PaymentMethod
	b.PaymentID = e.PaymentID
	if b.UserID != "" {
		b.LoyaltyPointsAwarded = b.LoyaltyPoints(o.config.LoyaltyPointUnit)
	}

	err = o.applyStatus(ctx, b, domain.BookingStatusConfirmed, transition{})
	if err := o.skipRace(ctx, b.ID, err); err != nil {
		telemetry.RecordSpanError(span, err)
		return err
	}
	if b.Status != domain.BookingStatusConfirmed {
		return nil
	}

	if b.LoyaltyPointsAwarded > 0 {
		if err := o.deps.Users.UpdateLoyaltyPoints(ctx, b.UserID, b.LoyaltyPointsAwarded); err != nil {
			o.log.WarnContext(ctx, "Failed to award loyalty points",
				zap.String("booking_id", b.ID),
				zap.String("user_id", b.UserID),
				zap.Int64("points", b.LoyaltyPointsAwarded),
				zap.Error(err),
			)
		}
	}

	if err := o.deps.Publisher.Publish(ctx, event.NewBookingTicketReady(b)); err != nil {
		o.log.WarnContext(ctx, "Failed to publish ticket ready",
			zap.String("booking_id", b.ID),
			zap.Error(err),
		)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// OnPaymentFailed cancels an in-flight booking
func (o *Orchestrator) OnPaymentFailed(ctx context.Context, e *event.PaymentBookingFailed) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.event.payment_failed")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", e.BookingID))

	b, err := o.loadInFlight(ctx, e.BookingID, string(e.Kind()))
	if err != nil || b == nil {
		return err
	}

	err = o.applyStatus(ctx, b, domain.BookingStatusCancelled, transition{clearExtras: true})
	if err := o.skipRace(ctx, b.ID, err); err != nil {
		telemetry.RecordSpanError(span, err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// OnShowtimeSuspended refunds confirmed bookings of a suspended showtime and
// cancels the ones still waiting for payment
func (o *Orchestrator) OnShowtimeSuspended(ctx context.Context, e *event.ShowtimeSuspended) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.event.showtime_suspended")
	defer span.End()

	span.SetAttributes(attribute.String("showtime_id", e.ShowtimeID))

	var bookings []*domain.Booking
	if len(e.AffectedBookingIDs) == 0 {
		list, err := o.deps.Bookings.ListByShowtime(ctx, e.ShowtimeID,
			domain.BookingStatusPending, domain.BookingStatusAwaitingPayment, domain.BookingStatusConfirmed)
		if err != nil {
			telemetry.RecordSpanError(span, err)
			return err
		}
		bookings = list
	} else {
		for _, id := range e.AffectedBookingIDs {
			b, err := o.deps.Bookings.GetByID(ctx, id)
			if errors.Is(err, domain.ErrBookingNotFound) {
				o.log.WarnContext(ctx, "Affected booking not found", zap.String("booking_id", id))
				continue
			}
			if err != nil {
				telemetry.RecordSpanError(span, err)
				return err
			}
			bookings = append(bookings, b)
		}
	}

	span.SetAttributes(attribute.Int("booking_count", len(bookings)))

	var errs []error
	for _, b := range bookings {
		var err error
		switch {
		case b.Status == domain.BookingStatusConfirmed:
			err = o.refundSuspended(ctx, b)
		case b.Status.IsInFlight():
			err = o.applyStatus(ctx, b, domain.BookingStatusCancelled, transition{clearExtras: true})
		default:
			continue
		}
		if err := o.skipRace(ctx, b.ID, err); err != nil {
			errs = append(errs, fmt.Errorf("booking %s: %w", b.ID, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		telemetry.RecordSpanError(span, err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// refundSuspended never fails on the voucher: a user whose voucher could not
// be issued is flagged ERROR_VOUCHER for manual follow-up. A redelivery after a
// failed write gets the voucher issued the first time.
func (o *Orchestrator) refundSuspended(ctx context.Context, b *domain.Booking) error {
	var voucherCode string
	switch {
	case b.UserID == "":
		b.RefundMethod = domain.RefundMethodCounter
	default:
		voucher, err := o.deps.Promotions.CreateRefundVoucher(ctx, b.ID, b.UserID, b.FinalPrice)
		if err != nil {
			o.log.ErrorContext(ctx, "Failed to issue refund voucher",
				zap.String("booking_id", b.ID),
				zap.String("user_id", b.UserID),
				zap.Error(err),
			)
			b.RefundMethod = domain.RefundMethodErrorVoucher
		} else {
			b.RefundMethod = domain.RefundMethodVoucher
			voucherCode = voucher.Code
		}
	}

	now := o.now()
	b.RefundReason = domain.RefundReasonShowtimeSuspended
	b.RefundedAt = &now

	return o.applyStatus(ctx, b, domain.BookingStatusRefunded, transition{
		events: []event.Event{event.NewBookingRefunded(b, voucherCode)},
	})
}
