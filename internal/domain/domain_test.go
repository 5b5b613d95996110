package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLockRecord_EncodeParse(t *testing.T) {
	exp := time.UnixMilli(1700000000123)

	tests := []struct {
		name   string
		record LockRecord
		want   string
	}{
		{
			name:   "unmapped user lock",
			record: LockRecord{Owner: UserOwner("u-1"), ExpiresAt: exp},
			want:   "USER|u-1|1700000000123",
		},
		{
			name:   "mapped guest lock",
			record: LockRecord{BookingID: "b-1", Owner: GuestOwner("g-1"), ExpiresAt: exp},
			want:   "b-1|GUEST|g-1|1700000000123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.record.Encode()
			if got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}

			parsed, err := ParseLockRecord(got)
			if err != nil {
				t.Fatalf("ParseLockRecord() error = %v", err)
			}
			if parsed.BookingID != tt.record.BookingID || parsed.Owner != tt.record.Owner || !parsed.ExpiresAt.Equal(exp) {
				t.Errorf("ParseLockRecord() = %+v, want %+v", parsed, tt.record)
			}
		})
	}
}

func TestParseLockRecord_Malformed(t *testing.T) {
	for _, v := range []string{"", "USER|u-1", "ADMIN|u-1|1", "USER|u-1|soon", "a|b|c|d|e"} {
		if _, err := ParseLockRecord(v); err == nil {
			t.Errorf("ParseLockRecord(%q) expected error", v)
		}
	}
}

func TestParseSeatLockKey(t *testing.T) {
	showtimeID, seatID, ok := ParseSeatLockKey(SeatLockKey("st-1", "A7"))
	if !ok || showtimeID != "st-1" || seatID != "A7" {
		t.Errorf("ParseSeatLockKey() = %q, %q, %v", showtimeID, seatID, ok)
	}

	for _, key := range []string{"booking_seat_map:st-1:A7", "seat:st-1", "seat::A7", "idempotency:x"} {
		if _, _, ok := ParseSeatLockKey(key); ok {
			t.Errorf("ParseSeatLockKey(%q) should not match", key)
		}
	}
}

func TestResolveOwner(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		guestID string
		want    Owner
		wantErr error
	}{
		{"user", "u-1", "", UserOwner("u-1"), nil},
		{"guest", "", "g-1", GuestOwner("g-1"), nil},
		{"both", "u-1", "g-1", Owner{}, ErrAmbiguousOwner},
		{"neither", " ", "", Owner{}, ErrOwnerRequired},
		{"separator in id", "u|1", "", UserOwner("u|1"), ErrInvalidOwner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveOwner(tt.userID, tt.guestID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ResolveOwner() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got != tt.want {
				t.Errorf("ResolveOwner() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewLockResult_RoundsTTLUp(t *testing.T) {
	r := NewLockResult("st-1", "A1", SeatStatusLocked, 299*time.Second+time.Millisecond)
	if r.TTLSeconds != 300 {
		t.Errorf("TTLSeconds = %d, want 300", r.TTLSeconds)
	}
	if NewLockResult("st-1", "A1", SeatStatusAvailable, -time.Second).TTLSeconds != 0 {
		t.Error("negative ttl should report 0")
	}
}

func TestBookingStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to BookingStatus
		want     bool
	}{
		{BookingStatusPending, BookingStatusAwaitingPayment, true},
		{BookingStatusPending, BookingStatusExpired, true},
		{BookingStatusAwaitingPayment, BookingStatusConfirmed, true},
		{BookingStatusAwaitingPayment, BookingStatusCancelled, true},
		{BookingStatusConfirmed, BookingStatusRefunded, true},
		{BookingStatusConfirmed, BookingStatusExpired, false},
		{BookingStatusConfirmed, BookingStatusCancelled, false},
		{BookingStatusAwaitingPayment, BookingStatusPending, false},
		{BookingStatusExpired, BookingStatusConfirmed, false},
		{BookingStatusRefunded, BookingStatusConfirmed, false},
		{BookingStatusPending, BookingStatusRefunded, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBookingStatus_SeatState(t *testing.T) {
	if s, ok := BookingStatusConfirmed.SeatState(); !ok || s != SeatStatusBooked {
		t.Errorf("CONFIRMED seat state = %v, %v", s, ok)
	}
	for _, st := range []BookingStatus{BookingStatusCancelled, BookingStatusExpired, BookingStatusRefunded} {
		if s, ok := st.SeatState(); !ok || s != SeatStatusAvailable {
			t.Errorf("%s seat state = %v, %v", st, s, ok)
		}
	}
	if _, ok := BookingStatusAwaitingPayment.SeatState(); ok {
		t.Error("AWAITING_PAYMENT must not change seats")
	}
	if BookingStatusExpired.UnlockReason() != SeatUnlockExpired {
		t.Errorf("UnlockReason() = %s", BookingStatusExpired.UnlockReason())
	}
}

func TestBooking_LoyaltyPoints(t *testing.T) {
	tests := []struct {
		final string
		want  int64
	}{
		{"185000", 18},
		{"9999.99", 0},
		{"10000", 1},
		{"0", 0},
	}
	for _, tt := range tests {
		b := &Booking{FinalPrice: decimal.RequireFromString(tt.final)}
		if got := b.LoyaltyPoints(10000); got != tt.want {
			t.Errorf("LoyaltyPoints(%s) = %d, want %d", tt.final, got, tt.want)
		}
	}
}

func TestBooking_ClearExtras(t *testing.T) {
	b := &Booking{
		Seats: []BookingSeat{
			{SeatID: "A1", Price: decimal.NewFromInt(90000)},
			{SeatID: "A2", Price: decimal.NewFromInt(90000)},
		},
		Fnbs:           []BookingFnb{{ItemID: "popcorn", Quantity: 1, TotalPrice: decimal.NewFromInt(50000)}},
		Promotion:      &BookingPromotion{Code: "SALE10"},
		TotalPrice:     decimal.NewFromInt(230000),
		DiscountAmount: decimal.NewFromInt(23000),
		FinalPrice:     decimal.NewFromInt(207000),
	}

	b.ClearExtras()

	if b.Fnbs != nil || b.Promotion != nil {
		t.Error("extras should be cleared")
	}
	if !b.TotalPrice.Equal(decimal.NewFromInt(180000)) || !b.FinalPrice.Equal(b.TotalPrice) || !b.DiscountAmount.IsZero() {
		t.Errorf("prices = %s/%s/%s", b.TotalPrice, b.DiscountAmount, b.FinalPrice)
	}
}

func TestBooking_Owner(t *testing.T) {
	b := &Booking{}
	b.SetOwner(GuestOwner("g-1"))
	if !b.OwnedBy(GuestOwner("g-1")) || b.OwnedBy(UserOwner("g-1")) {
		t.Error("guest ownership mismatch")
	}
	b.SetOwner(UserOwner("u-1"))
	if b.GuestSessionID != "" || !b.OwnedBy(UserOwner("u-1")) {
		t.Error("user ownership mismatch")
	}
}

func TestShowtime_CheckBookable(t *testing.T) {
	now := time.Now()
	active := &Showtime{Status: ShowtimeStatusActive, StartTime: now.Add(time.Hour)}
	if err := active.CheckBookable(now); err != nil {
		t.Errorf("CheckBookable() = %v", err)
	}
	started := &Showtime{Status: ShowtimeStatusActive, StartTime: now}
	if err := started.CheckBookable(now); !errors.Is(err, ErrShowtimeAlreadyStarted) {
		t.Errorf("CheckBookable() = %v", err)
	}
	suspended := &Showtime{Status: ShowtimeStatusSuspended, StartTime: now.Add(time.Hour)}
	if err := suspended.CheckBookable(now); !errors.Is(err, ErrShowtimeSuspended) {
		t.Errorf("CheckBookable() = %v", err)
	}
}

func TestRefundVoucher_CheckRedeemable(t *testing.T) {
	now := time.Now()
	v := &RefundVoucher{UserID: "u-1", ExpiresAt: now.Add(time.Hour)}

	if err := v.CheckRedeemable("u-1", now); err != nil {
		t.Errorf("CheckRedeemable() = %v", err)
	}
	if err := v.CheckRedeemable("u-2", now); !errors.Is(err, ErrVoucherNotOwned) {
		t.Errorf("CheckRedeemable() = %v", err)
	}
	if err := v.CheckRedeemable("u-1", now.Add(2*time.Hour)); !errors.Is(err, ErrVoucherExpired) {
		t.Errorf("CheckRedeemable() = %v", err)
	}
	v.IsUsed = true
	if err := v.CheckRedeemable("u-1", now); !errors.Is(err, ErrVoucherUsed) {
		t.Errorf("CheckRedeemable() = %v", err)
	}
}

func TestErrorPredicates(t *testing.T) {
	wrapped := fmt.Errorf("lock seat A1: %w", ErrSeatAlreadyLocked)
	if !IsContentionError(wrapped) || IsValidationError(wrapped) {
		t.Error("wrapped contention error misclassified")
	}
	if !IsValidationError(ErrMonthlyCancelLimitHit) {
		t.Error("monthly cap should be a validation error")
	}
	if !IsNotFoundError(ErrBookingNotFound) || !IsConflictError(ErrBookingStateChanged) {
		t.Error("not found / conflict misclassified")
	}
	if IsValidationError(errors.New("connection refused")) {
		t.Error("infrastructure error classified as validation")
	}
}

func TestOutboxMessage_RetryState(t *testing.T) {
	msg, err := NewOutboxMessage("booking", "b-1", "booking.created", "booking.created", map[string]string{"booking_id": "b-1"})
	if err != nil {
		t.Fatalf("NewOutboxMessage() error = %v", err)
	}
	if msg.ID == "" || msg.PartitionKey != "b-1" || msg.Status != OutboxStatusPending {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Retryable() || msg.Exhausted() || msg.Attempt() != 1 {
		t.Errorf("pending message: retryable=%v exhausted=%v attempt=%d", msg.Retryable(), msg.Exhausted(), msg.Attempt())
	}

	msg.Status = OutboxStatusFailed
	msg.RetryCount = 1
	if !msg.Retryable() || msg.Exhausted() {
		t.Errorf("after one failure: %+v", msg)
	}

	msg.RetryCount = msg.MaxRetries
	if msg.Retryable() || !msg.Exhausted() {
		t.Errorf("after last failure: %+v", msg)
	}

	h := msg.Headers()
	if h["event_id"] != msg.ID || h["aggregate_id"] != "b-1" || h["event_type"] != "booking.created" {
		t.Errorf("Headers() = %v", h)
	}
}
