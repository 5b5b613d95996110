package repository

import (
	"context"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
)

// LockReleaseStatus is the outcome of an owner-checked release
type LockReleaseStatus int

const (
	LockReleased  LockReleaseStatus = 1
	LockNotLocked LockReleaseStatus = 0
	LockNotOwner  LockReleaseStatus = -1
)

// LockReleaseResult is returned by ReleaseOwned
type LockReleaseResult struct {
	Status LockReleaseStatus
	// BookingID is set when the released lock had been mapped to a booking
	BookingID string
}

// LockExtendStatus is the outcome of an owner-checked extension
type LockExtendStatus int

const (
	LockExtended        LockExtendStatus = 1
	LockAlreadyExtended LockExtendStatus = 2
	LockExtendNotLocked LockExtendStatus = 0
	LockExtendNotOwner  LockExtendStatus = -1
)

// SeatLockRepository is the lock store: one TTL key per (showtime, seat)
type SeatLockRepository interface {
	// LoadScripts loads the Lua scripts into the lock store
	LoadScripts(ctx context.Context) error

	// Acquire sets the lock if absent
	Acquire(ctx context.Context, showtimeID, seatID string, record domain.LockRecord, ttl time.Duration) (bool, error)

	// ReleaseOwned deletes the lock only if owner holds it
	ReleaseOwned(ctx context.Context, showtimeID, seatID string, owner domain.Owner) (*LockReleaseResult, error)

	// MapBooking prefixes the lock with bookingID keeping its remaining TTL,
	// and writes the mapping key with TTL remaining+margin
	MapBooking(ctx context.Context, showtimeID, seatID, bookingID string, margin time.Duration) (time.Duration, error)

	// Extend rewrites an owned lock with ttl, once per hold. A lock that was
	// already extended is left as is and its remaining TTL returned.
	Extend(ctx context.Context, showtimeID, seatID string, owner domain.Owner, ttl, margin time.Duration) (LockExtendStatus, time.Duration, error)

	// Inspect returns the live lock and its remaining TTL, or nil when absent
	Inspect(ctx context.Context, showtimeID, seatID string) (*domain.LockRecord, time.Duration, error)

	// RemainingTTLs returns the remaining TTL of each locked seat; unlocked seats are omitted
	RemainingTTLs(ctx context.Context, showtimeID string, seatIDs []string) (map[string]time.Duration, error)

	// ReleaseForBooking drops the locks of a booking's seats. Locks held by
	// someone else survive unless force is set. Returns the seats whose lock is gone.
	ReleaseForBooking(ctx context.Context, bookingID string, owner domain.Owner, showtimeID string, seatIDs []string, force bool) ([]string, error)

	// TakeBookingMapping reads and deletes the mapping key; "" when absent
	TakeBookingMapping(ctx context.Context, showtimeID, seatID string) (string, error)

	// RestoreBookingMapping writes a taken mapping back unless one exists
	RestoreBookingMapping(ctx context.Context, showtimeID, seatID, bookingID string, ttl time.Duration) error

	// Exists reports whether the seat is currently locked
	Exists(ctx context.Context, showtimeID, seatID string) (bool, error)
}

// SeatRepository is the relational seat inventory
type SeatRepository interface {
	// GetSeats returns the rows of the given seats; missing seats are omitted
	GetSeats(ctx context.Context, showtimeID string, seatIDs []string) ([]*domain.ShowtimeSeat, error)

	// ListSeats returns every seat of a showtime
	ListSeats(ctx context.Context, showtimeID string) ([]*domain.ShowtimeSeat, error)

	// SetStatus bulk-updates seats after the lock store has serialized the change.
	// LOCKED never overwrites BOOKED; AVAILABLE only reverts LOCKED rows. msgs
	// are queued to the outbox in the same transaction.
	SetStatus(ctx context.Context, showtimeID string, seatIDs []string, status domain.SeatStatus, msgs ...*domain.OutboxMessage) (int64, error)

	// RevertLocked sets one seat back to AVAILABLE only if it is still LOCKED,
	// queueing msgs in the same transaction
	RevertLocked(ctx context.Context, showtimeID, seatID string, msgs ...*domain.OutboxMessage) (bool, error)

	// SetForBooking applies a booking outcome: BOOKED records the booking id,
	// AVAILABLE releases LOCKED rows and BOOKED rows of this booking
	SetForBooking(ctx context.Context, bookingID, showtimeID string, seatIDs []string, status domain.SeatStatus) (int64, error)

	// ListStaleLocked returns seats LOCKED since before olderThan
	ListStaleLocked(ctx context.Context, olderThan time.Time, limit int) ([]domain.SeatKey, error)
}
