package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus represents the status of a booking
type BookingStatus string

const (
	BookingStatusPending         BookingStatus = "PENDING"
	BookingStatusAwaitingPayment BookingStatus = "AWAITING_PAYMENT"
	BookingStatusConfirmed       BookingStatus = "CONFIRMED"
	BookingStatusCancelled       BookingStatus = "CANCELLED"
	BookingStatusExpired         BookingStatus = "EXPIRED"
	BookingStatusRefunded        BookingStatus = "REFUNDED"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending: {
		BookingStatusAwaitingPayment,
		BookingStatusConfirmed,
		BookingStatusCancelled,
		BookingStatusExpired,
	},
	BookingStatusAwaitingPayment: {
		BookingStatusConfirmed,
		BookingStatusCancelled,
		BookingStatusExpired,
	},
	BookingStatusConfirmed: {
		BookingStatusRefunded,
	},
}

// IsValid checks if the status is a valid BookingStatus
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusAwaitingPayment, BookingStatusConfirmed,
		BookingStatusCancelled, BookingStatusExpired, BookingStatusRefunded:
		return true
	}
	return false
}

// String returns the string representation of BookingStatus
func (s BookingStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether next is a legal successor of s
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsInFlight reports statuses in which the booking still holds seat locks
func (s BookingStatus) IsInFlight() bool {
	return s == BookingStatusPending || s == BookingStatusAwaitingPayment
}

// ReleasesSeats reports statuses whose seats go back on sale
func (s BookingStatus) ReleasesSeats() bool {
	return s == BookingStatusCancelled || s == BookingStatusExpired || s == BookingStatusRefunded
}

// SeatState returns the seat status implied by a booking status, if any
func (s BookingStatus) SeatState() (SeatStatus, bool) {
	switch {
	case s == BookingStatusConfirmed:
		return SeatStatusBooked, true
	case s.ReleasesSeats():
		return SeatStatusAvailable, true
	}
	return "", false
}

// UnlockReason is the SeatUnlocked reason emitted when entering s
func (s BookingStatus) UnlockReason() SeatUnlockReason {
	return SeatUnlockReason("BOOKING_" + string(s))
}

// RefundMethod tells how money is returned to the customer
type RefundMethod string

const (
	RefundMethodVoucher      RefundMethod = "VOUCHER"
	RefundMethodErrorVoucher RefundMethod = "ERROR_VOUCHER"
	RefundMethodCounter      RefundMethod = "COUNTER"
)

// RefundReason tells why a booking was refunded
type RefundReason string

const (
	RefundReasonUserCancelled     RefundReason = "USER_CANCELLED"
	RefundReasonShowtimeSuspended RefundReason = "SHOWTIME_SUSPENDED"
)

// DiscountSource identifies which discount strategy produced a promotion line
type DiscountSource string

const (
	DiscountSourcePromotionCode DiscountSource = "PROMOTION_CODE"
	DiscountSourceRefundVoucher DiscountSource = "REFUND_VOUCHER"
	DiscountSourceLoyaltyRank   DiscountSource = "LOYALTY_RANK"
)

// Booking represents a booking aggregate
type Booking struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id,omitempty"`
	GuestSessionID string `json:"guest_session_id,omitempty"`
	ShowtimeID     string `json:"showtime_id"`

	// Snapshot taken at creation
	MovieID       string    `json:"movie_id"`
	MovieTitle    string    `json:"movie_title"`
	TheaterName   string    `json:"theater_name"`
	RoomName      string    `json:"room_name"`
	ShowtimeStart time.Time `json:"showtime_start"`

	Status         BookingStatus   `json:"status"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalPrice     decimal.Decimal `json:"final_price"`

	PaymentMethod        string       `json:"payment_method,omitempty"`
	PaymentID            string       `json:"payment_id,omitempty"`
	RefundMethod         RefundMethod `json:"refund_method,omitempty"`
	RefundReason         RefundReason `json:"refund_reason,omitempty"`
	RefundedAt           *time.Time   `json:"refunded_at,omitempty"`
	LoyaltyPointsAwarded int64        `json:"loyalty_points_awarded"`

	Seats     []BookingSeat     `json:"seats"`
	Fnbs      []BookingFnb      `json:"fnbs,omitempty"`
	Promotion *BookingPromotion `json:"promotion,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BookingSeat is a priced seat line
type BookingSeat struct {
	SeatID     string          `json:"seat_id"`
	SeatType   string          `json:"seat_type"`
	TicketType string          `json:"ticket_type"`
	Price      decimal.Decimal `json:"price"`
}

// BookingFnb is a priced food and beverage line
type BookingFnb struct {
	ItemID     string          `json:"item_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// BookingPromotion records the single discount applied at finalize
type BookingPromotion struct {
	Code           string                `json:"code,omitempty"`
	Source         DiscountSource        `json:"source"`
	DiscountType   PromotionDiscountType `json:"discount_type"`
	DiscountValue  decimal.Decimal       `json:"discount_value"`
	DiscountAmount decimal.Decimal       `json:"discount_amount"`
}

// Owner returns the single owner of the booking
func (b *Booking) Owner() Owner {
	if b.UserID != "" {
		return UserOwner(b.UserID)
	}
	return GuestOwner(b.GuestSessionID)
}

// SetOwner stores owner in the matching id field
func (b *Booking) SetOwner(owner Owner) {
	b.UserID, b.GuestSessionID = "", ""
	if owner.IsUser() {
		b.UserID = owner.ID
	} else {
		b.GuestSessionID = owner.ID
	}
}

// OwnedBy checks if the booking belongs to owner
func (b *Booking) OwnedBy(owner Owner) bool {
	return b.Owner() == owner
}

// SeatIDs returns the ids of the booked seats in order
func (b *Booking) SeatIDs() []string {
	ids := make([]string, len(b.Seats))
	for i, s := range b.Seats {
		ids[i] = s.SeatID
	}
	return ids
}

// SeatsTotal sums the seat prices
func (b *Booking) SeatsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, s := range b.Seats {
		total = total.Add(s.Price)
	}
	return total
}

// FnbTotal sums the F&B lines
func (b *Booking) FnbTotal() decimal.Decimal {
	total := decimal.Zero
	for _, f := range b.Fnbs {
		total = total.Add(f.TotalPrice)
	}
	return total
}

// ClearExtras drops F&B and promotion lines and resets prices to the seat total
func (b *Booking) ClearExtras() {
	b.Fnbs = nil
	b.Promotion = nil
	b.TotalPrice = b.SeatsTotal()
	b.DiscountAmount = decimal.Zero
	b.FinalPrice = b.TotalPrice
}

// LoyaltyPoints returns floor(finalPrice / unit)
func (b *Booking) LoyaltyPoints(unit int64) int64 {
	if unit <= 0 || !b.FinalPrice.IsPositive() {
		return 0
	}
	return b.FinalPrice.Div(decimal.NewFromInt(unit)).Floor().IntPart()
}

// StartsWithin reports whether the showtime starts within d of now
func (b *Booking) StartsWithin(d time.Duration, now time.Time) bool {
	return b.ShowtimeStart.Sub(now) <= d
}
