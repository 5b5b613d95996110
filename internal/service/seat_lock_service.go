package service

import (
	"context"
	"fmt"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/client"
	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/internal/event"
	"github.com/flourineV/cinemas-backend-sub000/internal/metrics"
	"github.com/flourineV/cinemas-backend-sub000/internal/notifier"
	"github.com/flourineV/cinemas-backend-sub000/internal/repository"
	"github.com/flourineV/cinemas-backend-sub000/pkg/logger"
	"github.com/flourineV/cinemas-backend-sub000/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Expiry triggers, used as metric labels
const (
	TriggerKeyspace = "keyspace"
	TriggerSweep    = "sweep"
)

// SeatLockService holds seats for owners and keeps the seat inventory in step
// with the lock store
type SeatLockService interface {
	// LockSeat holds one seat
	LockSeat(ctx context.Context, showtimeID, seatID string, owner domain.Owner) (*domain.LockResult, error)

	// LockSeats holds every seat or none
	LockSeats(ctx context.Context, showtimeID string, seatIDs []string, owner domain.Owner) ([]domain.LockResult, error)

	// UnlockSeat releases one seat held by owner
	UnlockSeat(ctx context.Context, showtimeID, seatID string, owner domain.Owner) (*domain.LockResult, error)

	// UnlockSeats releases seats held by owner
	UnlockSeats(ctx context.Context, showtimeID string, seatIDs []string, owner domain.Owner) ([]domain.LockResult, error)

	// MapBookingToLocks attaches a booking to its locked seats without extending them
	MapBookingToLocks(ctx context.Context, bookingID, showtimeID string, seatIDs []string) error

	// ExtendForPayment moves owned locks to the payment TTL, once per hold
	ExtendForPayment(ctx context.Context, showtimeID string, seatIDs []string, owner domain.Owner) ([]domain.LockResult, error)

	// VerifyOwnership fails with ErrOwnershipMismatch unless owner holds every seat
	VerifyOwnership(ctx context.Context, showtimeID string, seatIDs []string, owner domain.Owner) error

	// ReconcileExpiredLock reverts a seat whose lock has elapsed. Reports whether anything changed.
	ReconcileExpiredLock(ctx context.Context, showtimeID, seatID, trigger string) (bool, error)

	// ReleaseSeatsForBooking moves a booking's seats to BOOKED or AVAILABLE and drops their locks
	ReleaseSeatsForBooking(ctx context.Context, bookingID string, owner domain.Owner, showtimeID string, seatIDs []string, newState domain.SeatStatus) error

	// GetSeatMap returns every seat of a showtime with its live lock TTL
	GetSeatMap(ctx context.Context, showtimeID string) ([]domain.LockResult, error)
}

// SeatLockServiceConfig contains configuration for the seat lock service
type SeatLockServiceConfig struct {
	DefaultTTL    time.Duration
	PaymentTTL    time.Duration
	MappingMargin time.Duration
}

type seatLockService struct {
	lockRepo    repository.SeatLockRepository
	seatRepo    repository.SeatRepository
	showtimes   client.ShowtimeClient
	broadcaster notifier.Broadcaster
	metrics     *metrics.Metrics
	log         *logger.Logger

	defaultTTL    time.Duration
	paymentTTL    time.Duration
	mappingMargin time.Duration
	now           func() time.Time
}

// NewSeatLockService creates a new seat lock service
func NewSeatLockService(
	lockRepo repository.SeatLockRepository,
	seatRepo repository.SeatRepository,
	showtimes client.ShowtimeClient,
	broadcaster notifier.Broadcaster,
	m *metrics.Metrics,
	cfg *SeatLockServiceConfig,
) SeatLockService {
	s := &seatLockService{
		lockRepo:      lockRepo,
		seatRepo:      seatRepo,
		showtimes:     showtimes,
		broadcaster:   broadcaster,
		metrics:       m,
		log:           logger.Get(),
		defaultTTL:    5 * time.Minute,
		paymentTTL:    10 * time.Minute,
		mappingMargin: time.Minute,
		now:           time.Now,
	}
	if cfg != nil {
		if cfg.DefaultTTL > 0 {
			s.defaultTTL = cfg.DefaultTTL
		}
		if cfg.PaymentTTL > 0 {
			s.paymentTTL = cfg.PaymentTTL
		}
		if cfg.MappingMargin > 0 {
			s.mappingMargin = cfg.MappingMargin
		}
	}
	if s.broadcaster == nil {
		s.broadcaster = notifier.NewHub(nil, m, 0)
	}
	return s
}

// LockSeat holds a single seat
func (s *seatLockService) LockSeat(ctx context.Context, showtimeID, seatID string, owner domain.Owner) (*domain.LockResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.seat_lock.lock_seat")
	defer span.End()

	results, err := s.lockSeats(ctx, "lock_seat", showtimeID, []string{seatID}, owner)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return &results[0], nil
}

// LockSeats holds a batch of seats, all or nothing
func (s *seatLockService) LockSeats(ctx context.Context, showtimeID string, seatIDs []string, owner domain.Owner) ([]domain.LockResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.seat_lock.lock_seats")
	defer span.End()

	results, err := s.lockSeats(ctx, "lock_seats", showtimeID, seatIDs, owner)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return results, nil
}

func (s *seatLockService) lockSeats(ctx context.Context, op, showtimeID string, seatIDs []string, owner domain.Owner) ([]domain.LockResult, error) {
	defer s.metrics.ObserveLockStore(op, time.Now())

	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if err := validateSeatIDs(seatIDs); err != nil {
		return nil, err
	}

	st, err := s.showtimes.GetShowtime(ctx, showtimeID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := st.CheckBookable(now); err != nil {
		return nil, err
	}

	// Fast pre-check; the lock store below decides the race
	if err := s.precheckAvailable(ctx, showtimeID, seatIDs); err != nil {
		s.metrics.LockOperation(op, "conflict")
		return nil, err
	}

	ttl := s.defaultTTL
	if untilStart := st.StartTime.Sub(now); untilStart < ttl {
		ttl = untilStart
	}
	record := domain.LockRecord{Owner: owner, ExpiresAt: now.Add(ttl)}

	acquired := make([]string, 0, len(seatIDs))
	for _, seatID := range seatIDs {
		ok, err := s.lockRepo.Acquire(ctx, showtimeID, seatID, record, ttl)
		if err != nil {
			s.rollbackLocks(ctx, showtimeID, acquired, owner)
			s.metrics.LockOperation(op, "error")
			return nil, err
		}
		if !ok {
			s.rollbackLocks(ctx, showtimeID, acquired, owner)
			s.metrics.LockOperation(op, "conflict")
			return nil, fmt.Errorf("seat %s: %w", seatID, domain.ErrSeatAlreadyLocked)
		}
		acquired = append(acquired, seatID)
	}

	updated, err := s.seatRepo.SetStatus(ctx, showtimeID, seatIDs, domain.SeatStatusLocked)
	if err != nil {
		s.rollbackLocks(ctx, showtimeID, acquired, owner)
		s.metrics.LockOperation(op, "error")
		return nil, err
	}
	if updated < int64(len(seatIDs)) {
		// A seat was sold between the pre-check and the update. Revert rows
		// while the locks are still ours.
		if _, err := s.seatRepo.SetStatus(ctx, showtimeID, seatIDs, domain.SeatStatusAvailable); err != nil {
			s.log.ErrorContext(ctx, "Failed to revert seats after partial lock", zap.String("showtime_id", showtimeID), zap.Error(err))
		}
		s.rollbackLocks(ctx, showtimeID, acquired, owner)
		s.metrics.LockOperation(op, "conflict")
		return nil, domain.ErrSeatAlreadyBooked
	}

	results := make([]domain.LockResult, 0, len(seatIDs))
	msgs := make([]notifier.SeatStatusMessage, 0, len(seatIDs))
	for _, seatID := range seatIDs {
		res := domain.NewLockResult(showtimeID, seatID, domain.SeatStatusLocked, ttl)
		results = append(results, res)
		msgs = append(msgs, notifier.FromLockResult(res))
	}
	s.broadcaster.Broadcast(ctx, msgs...)

	s.metrics.LockOperation(op, "success")
	s.log.Debug("Seats locked",
		zap.String("showtime_id", showtimeID),
		zap.Strings("seat_ids", seatIDs),
		zap.String("owner", owner.String()),
		zap.Duration("ttl", ttl),
	)
	return results, nil
}

func (s *seatLockService) precheckAvailable(ctx context.Context, showtimeID string, seatIDs []string) error {
	seats, err := s.seatRepo.GetSeats(ctx, showtimeID, seatIDs)
	if err != nil {
		return err
	}

	byID := make(map[string]*domain.ShowtimeSeat, len(seats))
	for _, seat := range seats {
		byID[seat.SeatID] = seat
	}
	for _, seatID := range seatIDs {
		seat, ok := byID[seatID]
		if !ok {
			return fmt.Errorf("seat %s: %w", seatID, domain.ErrSeatNotFound)
		}
		switch seat.Status {
		case domain.SeatStatusLocked:
			return fmt.Errorf("seat %s: %w", seatID, domain.ErrSeatAlreadyLocked)
		case domain.SeatStatusBooked:
			return fmt.Errorf("seat %s: %w", seatID, domain.ErrSeatAlreadyBooked)
		}
	}
	return nil
}

// rollbackLocks releases locks taken in this call. Failures are logged; the TTL
// bounds how long a leaked lock can live.
func (s *seatLockService) rollbackLocks(ctx context.Context, showtimeID string, seatIDs []string, owner domain.Owner) {
	for _, seatID := range seatIDs {
		if _, err := s.lockRepo.ReleaseOwned(ctx, showtimeID, seatID, owner); err != nil {
			s.log.ErrorContext(ctx, "Failed to roll back seat lock",
				zap.String("showtime_id", showtimeID),
				zap.String("seat_id", seatID),
				zap.Error(err),
			)
		}
	}
}

// UnlockSeat releases a single seat
func (s *seatLockService) UnlockSeat(ctx context.Context, showtimeID, seatID string, owner domain.Owner) (*domain.LockResult, error) {
	results, err := s.UnlockSeats(ctx, showtimeID, []string{seatID}, owner)
	if err != nil {
		return nil, err
	}
	return &results[0], nil
}

// UnlockSeats releases seats held by owner and announces them as MANUAL unlocks
func (s *seatLockService) UnlockSeats(ctx context.Context, showtimeID string, seatIDs []string, owner domain.Owner) ([]domain.LockResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.seat_lock.unlock_seats")
	defer span.End()
	defer s.metrics.ObserveLockStore("unlock_seats", time.Now())

	span.SetAttributes(
		attribute.String("showtime_id", showtimeID),
		attribute.Int("seat_count", len(seatIDs)),
	)

	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if err := validateSeatIDs(seatIDs); err != nil {
		return nil, err
	}

	for _, seatID := range seatIDs {
		record, _, err := s.lockRepo.Inspect(ctx, showtimeID, seatID)
		if err != nil {
			telemetry.RecordSpanError(span, err)
			s.metrics.LockOperation("unlock", "error")
			return nil, err
		}
		if record == nil {
			s.metrics.LockOperation("unlock", "conflict")
			return nil, fmt.Errorf("seat %s: %w", seatID, domain.ErrSeatNotLocked)
		}
		if record.Owner != owner {
			s.metrics.LockOperation("unlock", "not_owner")
			return nil, fmt.Errorf("seat %s: %w", seatID, domain.ErrNotLockOwner)
		}
	}

	released := make([]string, 0, len(seatIDs))
	byBooking := make(map[string][]string)
	var bookingOrder []string
	for _, seatID := range seatIDs {
		result, err := s.lockRepo.ReleaseOwned(ctx, showtimeID, seatID, owner)
		if err != nil {
			telemetry.RecordSpanError(span, err)
			s.metrics.LockOperation("unlock", "error")
			return nil, err
		}
		if result.Status != repository.LockReleased {
			// expired or retaken since the check; reconciliation owns it now
			continue
		}
		released = append(released, seatID)
		if _, seen := byBooking[result.BookingID]; !seen {
			bookingOrder = append(bookingOrder, result.BookingID)
		}
		byBooking[result.BookingID] = append(byBooking[result.BookingID], seatID)
	}

	if len(released) == 0 {
		s.metrics.LockOperation("unlock", "conflict")
		return nil, domain.ErrSeatNotLocked
	}

	events := make([]event.Event, 0, len(bookingOrder))
	for _, bookingID := range bookingOrder {
		events = append(events, &event.SeatUnlocked{
			BookingID:  bookingID,
			ShowtimeID: showtimeID,
			SeatIDs:    byBooking[bookingID],
			Reason:     domain.SeatUnlockManual,
		})
	}
	msgs, err := event.ToOutboxAll(events...)
	if err == nil {
		_, err = s.seatRepo.SetStatus(ctx, showtimeID, released, domain.SeatStatusAvailable, msgs...)
	}
	if err != nil {
		// The locks are gone but the rows are still LOCKED, so the sweep
		// reconciles them. It needs the mappings to find the bookings.
		for _, bookingID := range bookingOrder {
			if bookingID != "" {
				s.restoreMappings(ctx, showtimeID, bookingID, byBooking[bookingID])
			}
		}
		telemetry.RecordSpanError(span, err)
		s.metrics.LockOperation("unlock", "error")
		return nil, err
	}

	results := make([]domain.LockResult, 0, len(released))
	statusMsgs := make([]notifier.SeatStatusMessage, 0, len(released))
	for _, seatID := range released {
		res := domain.NewLockResult(showtimeID, seatID, domain.SeatStatusAvailable, 0)
		results = append(results, res)
		statusMsgs = append(statusMsgs, notifier.FromLockResult(res))
	}
	s.broadcaster.Broadcast(ctx, statusMsgs...)

	s.metrics.LockOperation("unlock", "success")
	span.SetStatus(codes.Ok, "")
	return results, nil
}

// MapBookingToLocks prefixes each lock with bookingID, keeping its remaining TTL
func (s *seatLockService) MapBookingToLocks(ctx context.Context, bookingID, showtimeID string, seatIDs []string) error {
	ctx, span := telemetry.StartSpan(ctx, "service.seat_lock.map_booking")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("showtime_id", showtimeID),
	)

	for _, seatID := range seatIDs {
		remaining, err := s.lockRepo.MapBooking(ctx, showtimeID, seatID, bookingID, s.mappingMargin)
		if err != nil {
			telemetry.RecordSpanError(span, err)
			return fmt.Errorf("seat %s: %w", seatID, err)
		}
		if remaining <= 0 {
			s.log.Warn("Lock expired while mapping booking",
				zap.String("booking_id", bookingID),
				zap.String("seat_id", seatID),
			)
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ExtendForPayment moves every lock to the payment TTL, capped at the showtime
// start. A hold is extended once: repeating the call leaves the locks as they
// are, so the total hold time stays bounded. All seats are checked before any
// is extended.
func (s *seatLockService) ExtendForPayment(ctx context.Context, showtimeID string, seatIDs []string, owner domain.Owner) ([]domain.LockResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.seat_lock.extend_for_payment")
	defer span.End()
	defer s.metrics.ObserveLockStore("extend", time.Now())

	if err := validateSeatIDs(seatIDs); err != nil {
		return nil, err
	}

	st, err := s.showtimes.GetShowtime(ctx, showtimeID)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}
	now := s.now()
	if err := st.CheckBookable(now); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	ttl := min(s.paymentTTL, st.StartTime.Sub(now))

	for _, seatID := range seatIDs {
		record, _, err := s.lockRepo.Inspect(ctx, showtimeID, seatID)
		if err != nil {
			telemetry.RecordSpanError(span, err)
			return nil, err
		}
		if record == nil {
			s.metrics.LockOperation("extend", "conflict")
			return nil, fmt.Errorf("seat %s: %w", seatID, domain.ErrSeatNotLocked)
		}
		if record.Owner != owner {
			s.metrics.LockOperation("extend", "not_owner")
			return nil, fmt.Errorf("seat %s: %w", seatID, domain.ErrNotLockOwner)
		}
	}

	results := make([]domain.LockResult, 0, len(seatIDs))
	renewed := false
	for _, seatID := range seatIDs {
		status, remaining, err := s.lockRepo.Extend(ctx, showtimeID, seatID, owner, ttl, s.mappingMargin)
		if err != nil {
			telemetry.RecordSpanError(span, err)
			s.metrics.LockOperation("extend", "error")
			return nil, err
		}
		switch status {
		case repository.LockExtendNotLocked:
			s.metrics.LockOperation("extend", "conflict")
			return nil, fmt.Errorf("seat %s: %w", seatID, domain.ErrSeatNotLocked)
		case repository.LockExtendNotOwner:
			s.metrics.LockOperation("extend", "not_owner")
			return nil, fmt.Errorf("seat %s: %w", seatID, domain.ErrNotLockOwner)
		case repository.LockExtended:
			renewed = true
		}
		results = append(results, domain.NewLockResult(showtimeID, seatID, domain.SeatStatusLocked, remaining))
	}

	if renewed {
		msgs := make([]notifier.SeatStatusMessage, 0, len(results))
		for _, res := range results {
			msgs = append(msgs, notifier.FromLockResult(res))
		}
		s.broadcaster.Broadcast(ctx, msgs...)
		s.metrics.LockOperation("extend", "success")
	} else {
		s.metrics.LockOperation("extend", "already_extended")
	}

	span.SetAttributes(attribute.Bool("renewed", renewed))
	span.SetStatus(codes.Ok, "")
	return results, nil
}

// VerifyOwnership checks that owner holds a live lock on every seat
func (s *seatLockService) VerifyOwnership(ctx context.Context, showtimeID string, seatIDs []string, owner domain.Owner) error {
	ctx, span := telemetry.StartSpan(ctx, "service.seat_lock.verify_ownership")
	defer span.End()

	if err := validateSeatIDs(seatIDs); err != nil {
		return err
	}

	for _, seatID := range seatIDs {
		record, _, err := s.lockRepo.Inspect(ctx, showtimeID, seatID)
		if err != nil {
			telemetry.RecordSpanError(span, err)
			return err
		}
		if record == nil || record.Owner != owner {
			span.SetStatus(codes.Error, "ownership mismatch")
			return fmt.Errorf("seat %s: %w", seatID, domain.ErrOwnershipMismatch)
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ReconcileExpiredLock reverts a seat after its lock elapsed. Safe to call from
// several triggers at once: the mapping is taken with GETDEL and the row only
// reverts while LOCKED, so at most one caller queues SeatUnlocked. The event is
// written to the outbox in the transaction that reverts the row; when that
// fails the mapping is put back for the next trigger.
func (s *seatLockService) ReconcileExpiredLock(ctx context.Context, showtimeID, seatID, trigger string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.seat_lock.reconcile_expired")
	defer span.End()

	span.SetAttributes(
		attribute.String("showtime_id", showtimeID),
		attribute.String("seat_id", seatID),
		attribute.String("trigger", trigger),
	)

	// The seat may have been locked again since the expiry
	exists, err := s.lockRepo.Exists(ctx, showtimeID, seatID)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return false, err
	}
	if exists {
		s.metrics.LockExpired(trigger, "skipped")
		span.SetStatus(codes.Ok, "")
		return false, nil
	}

	bookingID, err := s.lockRepo.TakeBookingMapping(ctx, showtimeID, seatID)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return false, err
	}

	var msgs []*domain.OutboxMessage
	if bookingID != "" {
		msgs, err = event.ToOutboxAll(&event.SeatUnlocked{
			BookingID:  bookingID,
			ShowtimeID: showtimeID,
			SeatIDs:    []string{seatID},
			Reason:     domain.SeatUnlockLockExpired,
		})
	}
	var reverted bool
	if err == nil {
		reverted, err = s.seatRepo.RevertLocked(ctx, showtimeID, seatID, msgs...)
	}
	if err != nil {
		if bookingID != "" {
			s.restoreMappings(ctx, showtimeID, bookingID, []string{seatID})
		}
		s.metrics.LockExpired(trigger, "error")
		telemetry.RecordSpanError(span, err)
		return false, err
	}

	if reverted {
		s.broadcaster.Broadcast(ctx, notifier.SeatStatusMessage{
			ShowtimeID: showtimeID,
			SeatID:     seatID,
			Status:     domain.SeatStatusAvailable,
		})
	}

	changed := reverted || bookingID != ""
	if changed {
		s.metrics.LockExpired(trigger, "reverted")
		s.log.Info("Expired seat lock reconciled",
			zap.String("showtime_id", showtimeID),
			zap.String("seat_id", seatID),
			zap.String("booking_id", bookingID),
			zap.String("trigger", trigger),
		)
	} else {
		s.metrics.LockExpired(trigger, "skipped")
	}

	span.SetAttributes(attribute.Bool("changed", changed))
	span.SetStatus(codes.Ok, "")
	return changed, nil
}

// restoreMappings puts taken booking mappings back after a failed write. The
// TTL outlives the sweep horizon so a later reconcile still finds the booking.
func (s *seatLockService) restoreMappings(ctx context.Context, showtimeID, bookingID string, seatIDs []string) {
	for _, seatID := range seatIDs {
		err := s.lockRepo.RestoreBookingMapping(ctx, showtimeID, seatID, bookingID, s.defaultTTL+s.paymentTTL)
		if err != nil {
			s.log.ErrorContext(ctx, "Failed to restore booking mapping",
				zap.String("booking_id", bookingID),
				zap.String("showtime_id", showtimeID),
				zap.String("seat_id", seatID),
				zap.Error(err),
			)
		}
	}
}

// ReleaseSeatsForBooking applies a booking outcome to its seats. BOOKED takes
// every seat regardless of who holds the lock now; AVAILABLE leaves seats that
// someone else has locked since.
func (s *seatLockService) ReleaseSeatsForBooking(ctx context.Context, bookingID string, owner domain.Owner, showtimeID string, seatIDs []string, newState domain.SeatStatus) error {
	ctx, span := telemetry.StartSpan(ctx, "service.seat_lock.release_for_booking")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("showtime_id", showtimeID),
		attribute.String("new_state", newState.String()),
	)

	if newState != domain.SeatStatusBooked && newState != domain.SeatStatusAvailable {
		return fmt.Errorf("booking cannot move seats to %s", newState)
	}
	if len(seatIDs) == 0 {
		return nil
	}

	force := newState == domain.SeatStatusBooked
	released, err := s.lockRepo.ReleaseForBooking(ctx, bookingID, owner, showtimeID, seatIDs, force)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return err
	}
	if len(released) == 0 {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	if _, err := s.seatRepo.SetForBooking(ctx, bookingID, showtimeID, released, newState); err != nil {
		telemetry.RecordSpanError(span, err)
		return err
	}

	msgs := make([]notifier.SeatStatusMessage, 0, len(released))
	for _, seatID := range released {
		msgs = append(msgs, notifier.SeatStatusMessage{ShowtimeID: showtimeID, SeatID: seatID, Status: newState})
	}
	s.broadcaster.Broadcast(ctx, msgs...)

	span.SetAttributes(attribute.Int("released", len(released)))
	span.SetStatus(codes.Ok, "")
	return nil
}

// GetSeatMap reads the seat inventory and overlays live locks. The lock store
// wins for anything not BOOKED.
func (s *seatLockService) GetSeatMap(ctx context.Context, showtimeID string) ([]domain.LockResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.seat_lock.get_seat_map")
	defer span.End()

	seats, err := s.seatRepo.ListSeats(ctx, showtimeID)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	open := make([]string, 0, len(seats))
	for _, seat := range seats {
		if seat.Status != domain.SeatStatusBooked {
			open = append(open, seat.SeatID)
		}
	}
	ttls, err := s.lockRepo.RemainingTTLs(ctx, showtimeID, open)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	results := make([]domain.LockResult, 0, len(seats))
	for _, seat := range seats {
		status := seat.Status
		var ttl time.Duration
		if status != domain.SeatStatusBooked {
			status = domain.SeatStatusAvailable
			if remaining, locked := ttls[seat.SeatID]; locked {
				status, ttl = domain.SeatStatusLocked, remaining
			}
		}
		results = append(results, domain.NewLockResult(showtimeID, seat.SeatID, status, ttl))
	}

	span.SetStatus(codes.Ok, "")
	return results, nil
}

func validateSeatIDs(seatIDs []string) error {
	if len(seatIDs) == 0 {
		return domain.ErrNoSeatsSelected
	}
	seen := make(map[string]struct{}, len(seatIDs))
	for _, id := range seatIDs {
		if id == "" {
			return domain.ErrNoSeatsSelected
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("seat %s: %w", id, domain.ErrDuplicateSeat)
		}
		seen[id] = struct{}{}
	}
	return nil
}
