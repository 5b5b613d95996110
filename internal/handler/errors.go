package handler

import (
	"errors"
	"net/http"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/pkg/logger"
	"github.com/flourineV/cinemas-backend-sub000/pkg/response"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// errorCodes gives the machine readable code of each domain error
var errorCodes = map[error]string{
	domain.ErrOwnerRequired:          "OWNER_REQUIRED",
	domain.ErrAmbiguousOwner:         "AMBIGUOUS_OWNER",
	domain.ErrInvalidOwner:           "INVALID_OWNER",
	domain.ErrShowtimeNotFound:       "SHOWTIME_NOT_FOUND",
	domain.ErrShowtimeSuspended:      "SHOWTIME_SUSPENDED",
	domain.ErrShowtimeAlreadyStarted: "SHOWTIME_STARTED",
	domain.ErrSeatNotFound:           "SEAT_NOT_FOUND",
	domain.ErrSeatAlreadyLocked:      "SEAT_ALREADY_LOCKED",
	domain.ErrSeatAlreadyBooked:      "SEAT_ALREADY_BOOKED",
	domain.ErrNotLockOwner:           "NOT_LOCK_OWNER",
	domain.ErrSeatNotLocked:          "SEAT_NOT_LOCKED",
	domain.ErrSeatsAlreadyInBooking:  "SEATS_IN_BOOKING",
	domain.ErrOwnershipMismatch:      "OWNERSHIP_MISMATCH",
	domain.ErrBookingNotFound:        "BOOKING_NOT_FOUND",
	domain.ErrNotBookingOwner:        "NOT_BOOKING_OWNER",
	domain.ErrNoSeatsSelected:        "NO_SEATS_SELECTED",
	domain.ErrDuplicateSeat:          "DUPLICATE_SEAT",
	domain.ErrSeatPriceUnavailable:   "SEAT_PRICE_UNAVAILABLE",
	domain.ErrBookingNotPending:      "BOOKING_NOT_PENDING",
	domain.ErrBookingNotConfirmed:    "BOOKING_NOT_CONFIRMED",
	domain.ErrInvalidTransition:      "INVALID_TRANSITION",
	domain.ErrBookingStateChanged:    "BOOKING_STATE_CHANGED",
	domain.ErrGuestCannotCancel:      "GUEST_CANNOT_CANCEL",
	domain.ErrCancellationTooLate:    "CANCELLATION_TOO_LATE",
	domain.ErrMonthlyCancelLimitHit:  "MONTHLY_CANCEL_LIMIT",
	domain.ErrPromotionInvalid:       "PROMOTION_INVALID",
	domain.ErrPromotionNotUsable:     "PROMOTION_NOT_USABLE",
	domain.ErrPromotionZeroesPrice:   "PROMOTION_ZEROES_PRICE",
	domain.ErrVoucherNotFound:        "VOUCHER_NOT_FOUND",
	domain.ErrVoucherNotOwned:        "VOUCHER_NOT_OWNED",
	domain.ErrVoucherUsed:            "VOUCHER_USED",
	domain.ErrVoucherExpired:         "VOUCHER_EXPIRED",
	domain.ErrFnbPriceUnavailable:    "FNB_PRICE_UNAVAILABLE",
}

func errorCode(err error) string {
	for target, code := range errorCodes {
		if errors.Is(err, target) {
			return code
		}
	}
	return response.CodeInternal
}

// handleError maps a service error onto the response envelope
func handleError(c *gin.Context, err error) {
	code := errorCode(err)

	switch {
	case errors.Is(err, domain.ErrNotBookingOwner):
		response.Forbidden(c, code, err.Error())
	case domain.IsNotFoundError(err):
		response.Error(c, http.StatusNotFound, code, err.Error(), "")
	case domain.IsContentionError(err), domain.IsConflictError(err):
		response.Conflict(c, code, err.Error())
	case errors.Is(err, domain.ErrOwnerRequired), errors.Is(err, domain.ErrAmbiguousOwner),
		errors.Is(err, domain.ErrInvalidOwner), errors.Is(err, domain.ErrNoSeatsSelected),
		errors.Is(err, domain.ErrDuplicateSeat):
		response.Error(c, http.StatusBadRequest, code, err.Error(), "")
	case domain.IsValidationError(err):
		response.Unprocessable(c, code, err.Error())
	default:
		logger.Get().ErrorContext(c.Request.Context(), "Unhandled request error",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.Error(c, http.StatusInternalServerError, code, "Internal Server Error", "")
	}
}
