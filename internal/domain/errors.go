package domain

import "errors"

// Domain errors
var (
	// Owner errors
	ErrOwnerRequired  = errors.New("either a user id or a guest session id is required")
	ErrAmbiguousOwner = errors.New("user id and guest session id are mutually exclusive")
	ErrInvalidOwner   = errors.New("invalid owner")

	// Showtime errors
	ErrShowtimeNotFound       = errors.New("showtime not found")
	ErrShowtimeSuspended      = errors.New("showtime is suspended")
	ErrShowtimeAlreadyStarted = errors.New("showtime has already started")

	// Seat lock errors
	ErrSeatNotFound          = errors.New("seat not found for showtime")
	ErrSeatAlreadyLocked     = errors.New("seat is already locked")
	ErrSeatAlreadyBooked     = errors.New("seat is already booked")
	ErrNotLockOwner          = errors.New("seat lock is held by another owner")
	ErrSeatNotLocked         = errors.New("seat is not locked")
	ErrSeatsAlreadyInBooking = errors.New("seats are already mapped to another booking")
	ErrOwnershipMismatch     = errors.New("seats are not locked by the requesting owner")

	// Booking errors
	ErrBookingNotFound      = errors.New("booking not found")
	ErrNotBookingOwner      = errors.New("booking belongs to another owner")
	ErrNoSeatsSelected      = errors.New("no seats selected")
	ErrDuplicateSeat        = errors.New("seat selected more than once")
	ErrSeatPriceUnavailable = errors.New("seat price unavailable")
	ErrBookingNotPending    = errors.New("booking is not pending")
	ErrBookingNotConfirmed  = errors.New("booking is not confirmed")
	ErrInvalidTransition    = errors.New("invalid booking status transition")
	ErrBookingStateChanged  = errors.New("booking status changed concurrently")

	// Cancellation errors
	ErrGuestCannotCancel     = errors.New("guest bookings cannot be cancelled online")
	ErrCancellationTooLate   = errors.New("cancellation window has closed")
	ErrMonthlyCancelLimitHit = errors.New("monthly cancellation limit reached")

	// Discount errors
	ErrPromotionInvalid     = errors.New("promotion code is invalid")
	ErrPromotionNotUsable   = errors.New("promotion code cannot be used by this user")
	ErrPromotionZeroesPrice = errors.New("promotion would reduce the final price to zero")
	ErrVoucherNotFound      = errors.New("refund voucher not found")
	ErrVoucherNotOwned      = errors.New("refund voucher belongs to another user")
	ErrVoucherUsed          = errors.New("refund voucher already used")
	ErrVoucherExpired       = errors.New("refund voucher has expired")
	ErrFnbPriceUnavailable  = errors.New("food and beverage price unavailable")
)

var validationErrors = []error{
	ErrOwnerRequired, ErrAmbiguousOwner, ErrInvalidOwner,
	ErrShowtimeSuspended, ErrShowtimeAlreadyStarted,
	ErrOwnershipMismatch, ErrNotBookingOwner,
	ErrNoSeatsSelected, ErrDuplicateSeat, ErrSeatPriceUnavailable,
	ErrGuestCannotCancel, ErrCancellationTooLate, ErrMonthlyCancelLimitHit,
	ErrPromotionInvalid, ErrPromotionNotUsable, ErrPromotionZeroesPrice,
	ErrVoucherNotOwned, ErrVoucherUsed, ErrVoucherExpired, ErrFnbPriceUnavailable,
}

var contentionErrors = []error{
	ErrSeatAlreadyLocked, ErrSeatAlreadyBooked, ErrNotLockOwner,
	ErrSeatNotLocked, ErrSeatsAlreadyInBooking,
}

var notFoundErrors = []error{
	ErrShowtimeNotFound, ErrSeatNotFound, ErrBookingNotFound, ErrVoucherNotFound,
}

var conflictErrors = []error{
	ErrBookingNotPending, ErrBookingNotConfirmed, ErrInvalidTransition, ErrBookingStateChanged,
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidationError reports client-correctable errors that must not be retried
func IsValidationError(err error) bool {
	return isAny(err, validationErrors)
}

// IsContentionError reports lock races; the caller may retry with other seats
func IsContentionError(err error) bool {
	return isAny(err, contentionErrors)
}

// IsNotFoundError reports missing aggregates or collaborator records
func IsNotFoundError(err error) bool {
	return isAny(err, notFoundErrors)
}

// IsConflictError reports a booking that is not in the state an operation requires
func IsConflictError(err error) bool {
	return isAny(err, conflictErrors)
}
