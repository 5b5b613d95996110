// Package saga drives the booking lifecycle.
//
// Bookings move PENDING -> AWAITING_PAYMENT -> CONFIRMED -> REFUNDED, or end in
// EXPIRED or CANCELLED before confirmation. Every change goes through
// applyStatus, which persists it with compare-and-set and queues its events in
// the same transaction. Event handlers re-read the booking and skip when it is
// gone or no longer in the state they act on, so duplicate and out-of-order
// deliveries are harmless.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/client"
	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/internal/event"
	"github.com/flourineV/cinemas-backend-sub000/internal/metrics"
	"github.com/flourineV/cinemas-backend-sub000/internal/repository"
	"github.com/flourineV/cinemas-backend-sub000/pkg/logger"
	"github.com/flourineV/cinemas-backend-sub000/pkg/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// DefaultTicketType is used when a seat selection names none
const DefaultTicketType = "ADULT"

// SeatLocks is the part of the seat lock manager the saga depends on
type SeatLocks interface {
	VerifyOwnership(ctx context.Context, showtimeID string, seatIDs []string, owner domain.Owner) error
	MapBookingToLocks(ctx context.Context, bookingID, showtimeID string, seatIDs []string) error
	ExtendForPayment(ctx context.Context, showtimeID string, seatIDs []string, owner domain.Owner) ([]domain.LockResult, error)
	ReleaseSeatsForBooking(ctx context.Context, bookingID string, owner domain.Owner, showtimeID string, seatIDs []string, newState domain.SeatStatus) error
}

// Dependencies are the collaborators of the orchestrator
type Dependencies struct {
	Bookings   repository.BookingRepository
	Locks      SeatLocks
	Showtimes  client.ShowtimeClient
	Pricing    client.PricingClient
	Promotions client.PromotionClient
	Movies     client.MovieClient
	Users      client.UserClient
	Fnb        client.FnbClient
	// Publisher sends best-effort events that are not part of a booking write
	Publisher event.Publisher
	Metrics   *metrics.Metrics
}

// OrchestratorConfig contains the booking business rules
type OrchestratorConfig struct {
	CancelCutoff       time.Duration
	MonthlyCancelLimit int
	LoyaltyPointUnit   int64
	PaymentTTL         time.Duration
}

// DefaultOrchestratorConfig returns default configuration
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		CancelCutoff:       60 * time.Minute,
		MonthlyCancelLimit: 2,
		LoyaltyPointUnit:   10000,
		PaymentTTL:         10 * time.Minute,
	}
}

// Orchestrator owns booking state
type Orchestrator struct {
	deps      Dependencies
	config    *OrchestratorConfig
	discounts []DiscountStrategy
	log       *logger.Logger
	now       func() time.Time
	newID     func() string
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(deps Dependencies, cfg *OrchestratorConfig) *Orchestrator {
	def := DefaultOrchestratorConfig()
	if cfg == nil {
		cfg = def
	}
	if cfg.CancelCutoff <= 0 {
		cfg.CancelCutoff = def.CancelCutoff
	}
	if cfg.MonthlyCancelLimit <= 0 {
		cfg.MonthlyCancelLimit = def.MonthlyCancelLimit
	}
	if cfg.LoyaltyPointUnit <= 0 {
		cfg.LoyaltyPointUnit = def.LoyaltyPointUnit
	}
	if cfg.PaymentTTL <= 0 {
		cfg.PaymentTTL = def.PaymentTTL
	}
	if deps.Publisher == nil {
		deps.Publisher = event.NewNoOpPublisher()
	}

	log := logger.Get()
	return &Orchestrator{
		deps:      deps,
		config:    cfg,
		discounts: DefaultDiscountChain(deps.Promotions, deps.Users, log),
		log:       log,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// SeatSelection is one seat of a create request
type SeatSelection struct {
	SeatID     string `json:"seat_id" binding:"required"`
	TicketType string `json:"ticket_type"`
}

// CreateBookingRequest asks to turn held seats into a booking
type CreateBookingRequest struct {
	UserID         string          `json:"-"`
	GuestSessionID string          `json:"-"`
	ShowtimeID     string          `json:"showtime_id" binding:"required"`
	Seats          []SeatSelection `json:"seats"`
}

// FinalizeBookingRequest prices extras and picks a discount
type FinalizeBookingRequest struct {
	FnbItems          []domain.FnbItem `json:"fnb_items"`
	PromotionCode     string           `json:"promotion_code"`
	RefundVoucherCode string           `json:"refund_voucher_code"`
}

// transition carries what applyStatus writes along with the status
type transition struct {
	clearExtras bool
	finalize    bool
	// outbox events committed with the status change
	events []event.Event
}

// applyStatus is the only path that changes a booking's status. Leaving
// CONFIRMED for anything but REFUNDED is refused with a warning and no error.
func (o *Orchestrator) applyStatus(ctx context.Context, b *domain.Booking, next domain.BookingStatus, t transition) error {
	from := b.Status
	if from == domain.BookingStatusConfirmed && next != domain.BookingStatusRefunded {
		o.log.WarnContext(ctx, "Refusing to move confirmed booking",
			zap.String("booking_id", b.ID),
			zap.String("to", next.String()),
		)
		return nil
	}
	if !from.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, next)
	}

	var promoCode, voucherCode string
	if b.Promotion != nil {
		switch b.Promotion.Source {
		case domain.DiscountSourcePromotionCode:
			promoCode = b.Promotion.Code
		case domain.DiscountSourceRefundVoucher:
			voucherCode = b.Promotion.Code
		}
	}

	b.Status = next
	if t.clearExtras {
		b.ClearExtras()
	}

	events := append([]event.Event{}, t.events...)
	if next.ReleasesSeats() {
		events = append(events, &event.SeatUnlocked{
			BookingID:  b.ID,
			ShowtimeID: b.ShowtimeID,
			SeatIDs:    b.SeatIDs(),
			Reason:     next.UnlockReason(),
		})
	}
	events = append(events, event.NewBookingStatusUpdated(b, from))

	msgs, err := event.ToOutboxAll(events...)
	if err != nil {
		b.Status = from
		return err
	}

	if t.finalize {
		err = o.deps.Bookings.SaveFinalization(ctx, b, from, msgs...)
	} else {
		err = o.deps.Bookings.UpdateStatus(ctx, b, from, t.clearExtras, msgs...)
	}
	if err != nil {
		b.Status = from
		return err
	}

	o.deps.Metrics.BookingTransition(from.String(), next.String())
	o.log.InfoContext(ctx, "Booking status changed",
		zap.String("booking_id", b.ID),
		zap.String("from", from.String()),
		zap.String("to", next.String()),
	)

	if promoCode != "" && o.deps.Promotions != nil {
		if err := o.deps.Promotions.UpdatePromotionUsageStatus(ctx, b.ID, next); err != nil {
			o.log.WarnContext(ctx, "Failed to sync promotion usage",
				zap.String("booking_id", b.ID),
				zap.String("code", promoCode),
				zap.Error(err),
			)
		}
	}

	// A booking that never got paid gives its refund voucher back
	if voucherCode != "" && (next == domain.BookingStatusExpired || next == domain.BookingStatusCancelled) {
		o.restoreVoucher(ctx, b.ID, voucherCode)
	}
	return nil
}

func (o *Orchestrator) restoreVoucher(ctx context.Context, bookingID, code string) {
	if err := o.deps.Promotions.RestoreRefundVoucher(ctx, code, bookingID); err != nil {
		o.log.ErrorContext(ctx, "Failed to restore refund voucher",
			zap.String("booking_id", bookingID),
			zap.String("code", code),
			zap.Error(err),
		)
	}
}

// releaseUnsavedVoucher gives a redeemed voucher back after the finalize write
// failed, unless a concurrent finalize of the same booking committed with it
func (o *Orchestrator) releaseUnsavedVoucher(ctx context.Context, bookingID, code string) {
	stored, err := o.deps.Bookings.GetByID(ctx, bookingID)
	if err != nil && !errors.Is(err, domain.ErrBookingNotFound) {
		o.log.ErrorContext(ctx, "Refund voucher left redeemed, booking unreadable",
			zap.String("booking_id", bookingID),
			zap.String("code", code),
			zap.Error(err),
		)
		return
	}
	if stored != nil && stored.Status == domain.BookingStatusAwaitingPayment &&
		stored.Promotion != nil && stored.Promotion.Source == domain.DiscountSourceRefundVoucher &&
		stored.Promotion.Code == code {
		return
	}
	o.restoreVoucher(ctx, bookingID, code)
}

// CreateBooking turns seats the owner holds into a PENDING booking
func (o *Orchestrator) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.booking.create")
	defer span.End()

	if req == nil || len(req.Seats) == 0 {
		return nil, domain.ErrNoSeatsSelected
	}
	owner, err := domain.ResolveOwner(req.UserID, req.GuestSessionID)
	if err != nil {
		return nil, err
	}

	seatIDs := make([]string, 0, len(req.Seats))
	seen := make(map[string]struct{}, len(req.Seats))
	for _, sel := range req.Seats {
		if sel.SeatID == "" {
			return nil, domain.ErrNoSeatsSelected
		}
		if _, dup := seen[sel.SeatID]; dup {
			return nil, fmt.Errorf("seat %s: %w", sel.SeatID, domain.ErrDuplicateSeat)
		}
		seen[sel.SeatID] = struct{}{}
		seatIDs = append(seatIDs, sel.SeatID)
	}

	span.SetAttributes(
		attribute.String("showtime_id", req.ShowtimeID),
		attribute.Int("seat_count", len(seatIDs)),
		attribute.Bool("guest", !owner.IsUser()),
	)

	st, err := o.deps.Showtimes.GetShowtime(ctx, req.ShowtimeID)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}
	now := o.now()
	if err := st.CheckBookable(now); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := o.deps.Locks.VerifyOwnership(ctx, req.ShowtimeID, seatIDs, owner); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Catalog lookups happen before any write
	title, err := o.deps.Movies.GetMovieTitle(ctx, st.MovieID)
	if err != nil {
		o.log.WarnContext(ctx, "Movie title unavailable for snapshot", zap.String("movie_id", st.MovieID), zap.Error(err))
	}

	seats := make([]domain.BookingSeat, 0, len(req.Seats))
	total := decimal.Zero
	for _, sel := range req.Seats {
		line, err := o.priceSeat(ctx, sel)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		seats = append(seats, *line)
		total = total.Add(line.Price)
	}

	b := &domain.Booking{
		ID:             o.newID(),
		ShowtimeID:     st.ID,
		MovieID:        st.MovieID,
		MovieTitle:     title,
		TheaterName:    st.TheaterName,
		RoomName:       st.RoomName,
		ShowtimeStart:  st.StartTime,
		Status:         domain.BookingStatusPending,
		TotalPrice:     total,
		DiscountAmount: decimal.Zero,
		FinalPrice:     total,
		Seats:          seats,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	b.SetOwner(owner)

	msgs, err := event.ToOutboxAll(event.NewBookingCreated(b), event.NewBookingSeatMapped(b))
	if err != nil {
		return nil, err
	}
	if err := o.deps.Bookings.Create(ctx, b, msgs...); err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}
	o.deps.Metrics.BookingTransition("", domain.BookingStatusPending.String())

	if err := o.deps.Locks.MapBookingToLocks(ctx, b.ID, b.ShowtimeID, seatIDs); err != nil {
		// Without the mapping a lock expiry could not find this booking
		o.log.ErrorContext(ctx, "Failed to map booking to seat locks",
			zap.String("booking_id", b.ID),
			zap.Error(err),
		)
		if expErr := o.applyStatus(ctx, b, domain.BookingStatusExpired, transition{clearExtras: true}); expErr != nil {
			o.log.ErrorContext(ctx, "Failed to expire unmapped booking", zap.String("booking_id", b.ID), zap.Error(expErr))
		}
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("booking_id", b.ID))
	span.SetStatus(codes.Ok, "")
	return b, nil
}

func (o *Orchestrator) priceSeat(ctx context.Context, sel SeatSelection) (*domain.BookingSeat, error) {
	ticketType := sel.TicketType
	if ticketType == "" {
		ticketType = DefaultTicketType
	}

	info, err := o.deps.Showtimes.GetSeatInfo(ctx, sel.SeatID)
	if err != nil {
		if errors.Is(err, domain.ErrSeatNotFound) {
			return nil, fmt.Errorf("seat %s: %w", sel.SeatID, err)
		}
		return nil, fmt.Errorf("%w: seat %s: %v", domain.ErrSeatPriceUnavailable, sel.SeatID, err)
	}

	price, err := o.deps.Pricing.GetSeatPrice(ctx, info.SeatType, ticketType)
	if err != nil {
		return nil, fmt.Errorf("%w: seat %s: %v", domain.ErrSeatPriceUnavailable, sel.SeatID, err)
	}

	return &domain.BookingSeat{
		SeatID:     sel.SeatID,
		SeatType:   info.SeatType,
		TicketType: ticketType,
		Price:      price,
	}, nil
}

// FinalizeBooking prices F&B, applies at most one discount and moves a PENDING
// booking to AWAITING_PAYMENT with its locks extended for payment
func (o *Orchestrator) FinalizeBooking(ctx context.Context, bookingID string, owner domain.Owner, req *FinalizeBookingRequest) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.booking.finalize")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", bookingID))

	if req == nil {
		req = &FinalizeBookingRequest{}
	}

	b, err := o.deps.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.OwnedBy(owner) {
		return nil, domain.ErrNotBookingOwner
	}
	if b.Status != domain.BookingStatusPending {
		return nil, domain.ErrBookingNotPending
	}

	b.Fnbs = nil
	if len(req.FnbItems) > 0 {
		lines, err := o.deps.Fnb.CalculateFnbPrice(ctx, req.FnbItems)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		b.Fnbs = lines
	}
	total := b.SeatsTotal().Add(b.FnbTotal())

	in := &DiscountInput{
		Booking:           b,
		Total:             total,
		PromotionCode:     req.PromotionCode,
		RefundVoucherCode: req.RefundVoucherCode,
		Now:               o.now(),
	}
	promo, err := ApplyFirst(ctx, o.discounts, in)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// A lock that already expired is a hard stop: the seat may be someone else's now
	if _, err := o.deps.Locks.ExtendForPayment(ctx, b.ShowtimeID, b.SeatIDs(), owner); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var voucherCode string
	if promo != nil && promo.Source == domain.DiscountSourceRefundVoucher {
		if err := o.deps.Promotions.MarkRefundVoucherUsed(ctx, promo.Code, b.ID); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		voucherCode = promo.Code
	}

	discount := decimal.Zero
	if promo != nil {
		discount = promo.DiscountAmount
	}
	b.Promotion = promo
	b.TotalPrice = total
	b.DiscountAmount = discount
	b.FinalPrice = total.Sub(discount)

	deadline := o.now().Add(o.config.PaymentTTL)
	err = o.applyStatus(ctx, b, domain.BookingStatusAwaitingPayment, transition{
		finalize: true,
		events:   []event.Event{event.NewBookingFinalized(b, deadline)},
	})
	if err != nil {
		if voucherCode != "" {
			o.releaseUnsavedVoucher(ctx, b.ID, voucherCode)
		}
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("final_price", b.FinalPrice.StringFixed(2)))
	span.SetStatus(codes.Ok, "")
	return b, nil
}

// CancelBooking refunds a confirmed booking of a registered user as a voucher
func (o *Orchestrator) CancelBooking(ctx context.Context, bookingID, userID string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.booking.cancel")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", bookingID))

	if userID == "" {
		return nil, domain.ErrGuestCannotCancel
	}

	b, err := o.deps.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID == "" {
		return nil, domain.ErrGuestCannotCancel
	}
	if !b.OwnedBy(domain.UserOwner(userID)) {
		return nil, domain.ErrNotBookingOwner
	}
	if b.Status != domain.BookingStatusConfirmed {
		return nil, domain.ErrBookingNotConfirmed
	}

	now := o.now()
	if b.StartsWithin(o.config.CancelCutoff, now) {
		return nil, domain.ErrCancellationTooLate
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	count, err := o.deps.Bookings.CountUserCancellationsSince(ctx, userID, monthStart)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}
	if count >= o.config.MonthlyCancelLimit {
		return nil, domain.ErrMonthlyCancelLimitHit
	}

	// Issuing is idempotent per booking, so a retry or a concurrent cancel
	// that loses the status change gets the same voucher
	voucher, err := o.deps.Promotions.CreateRefundVoucher(ctx, b.ID, userID, b.FinalPrice)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	b.RefundMethod = domain.RefundMethodVoucher
	b.RefundReason = domain.RefundReasonUserCancelled
	b.RefundedAt = &now
	err = o.applyStatus(ctx, b, domain.BookingStatusRefunded, transition{
		events: []event.Event{event.NewBookingRefunded(b, voucher.Code)},
	})
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return b, nil
}

// GetBooking returns a booking to its owner
func (o *Orchestrator) GetBooking(ctx context.Context, bookingID string, owner domain.Owner) (*domain.Booking, error) {
	b, err := o.deps.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.OwnedBy(owner) {
		return nil, domain.ErrNotBookingOwner
	}
	return b, nil
}
