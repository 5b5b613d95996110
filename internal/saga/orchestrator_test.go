package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = domain.UserOwner("alice")
	guest = domain.GuestOwner("guest-session")
)

func TestCreateBooking(t *testing.T) {
	f := newSagaFixture(t)
	ctx := context.Background()

	b, err := f.o.CreateBooking(ctx, &CreateBookingRequest{
		UserID:     "alice",
		ShowtimeID: "st-1",
		Seats: []SeatSelection{
			{SeatID: "A1"},
			{SeatID: "B1", TicketType: "ADULT"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "bk-1", b.ID)
	assert.Equal(t, domain.BookingStatusPending, b.Status)
	assert.Equal(t, "Dune: Part Three", b.MovieTitle)
	assert.Equal(t, "Room 3", b.RoomName)
	assert.True(t, b.TotalPrice.Equal(dec("210000")), "total %s", b.TotalPrice)
	assert.True(t, b.FinalPrice.Equal(b.TotalPrice))
	assert.Equal(t, DefaultTicketType, b.Seats[0].TicketType)

	stored := f.bookings.get("bk-1")
	require.NotNil(t, stored)
	assert.Equal(t, "alice", stored.UserID)
	assert.Equal(t, []string{"booking.created", "booking.seat-mapped"}, f.bookings.outboxKinds())
	assert.Equal(t, []string{"A1", "B1"}, f.locks.mapped["bk-1"])
}

func TestCreateBooking_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		req     *CreateBookingRequest
		setup   func(f *sagaFixture)
		wantErr error
	}{
		{
			name:    "no seats",
			req:     &CreateBookingRequest{UserID: "alice", ShowtimeID: "st-1"},
			wantErr: domain.ErrNoSeatsSelected,
		},
		{
			name:    "no owner",
			req:     &CreateBookingRequest{ShowtimeID: "st-1", Seats: []SeatSelection{{SeatID: "A1"}}},
			wantErr: domain.ErrOwnerRequired,
		},
		{
			name: "both owners",
			req: &CreateBookingRequest{UserID: "alice", GuestSessionID: "g", ShowtimeID: "st-1",
				Seats: []SeatSelection{{SeatID: "A1"}}},
			wantErr: domain.ErrAmbiguousOwner,
		},
		{
			name: "duplicate seat",
			req: &CreateBookingRequest{UserID: "alice", ShowtimeID: "st-1",
				Seats: []SeatSelection{{SeatID: "A1"}, {SeatID: "A1"}}},
			wantErr: domain.ErrDuplicateSeat,
		},
		{
			name: "seats not held",
			req: &CreateBookingRequest{UserID: "alice", ShowtimeID: "st-1",
				Seats: []SeatSelection{{SeatID: "A1"}}},
			setup:   func(f *sagaFixture) { f.locks.verifyErr = domain.ErrOwnershipMismatch },
			wantErr: domain.ErrOwnershipMismatch,
		},
		{
			name: "no price for ticket type",
			req: &CreateBookingRequest{UserID: "alice", ShowtimeID: "st-1",
				Seats: []SeatSelection{{SeatID: "B1", TicketType: "STUDENT"}}},
			wantErr: domain.ErrSeatPriceUnavailable,
		},
		{
			name: "showtime started",
			req: &CreateBookingRequest{UserID: "alice", ShowtimeID: "st-1",
				Seats: []SeatSelection{{SeatID: "A1"}}},
			setup:   func(f *sagaFixture) { f.o.now = func() time.Time { return testNow.Add(72 * time.Hour) } },
			wantErr: domain.ErrShowtimeAlreadyStarted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSagaFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.o.CreateBooking(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.bookings.outboxKinds())
		})
	}
}

func TestCreateBooking_MappingFailureExpiresBooking(t *testing.T) {
	f := newSagaFixture(t)
	f.locks.mapErr = errors.New("redis down")

	_, err := f.o.CreateBooking(context.Background(), &CreateBookingRequest{
		GuestSessionID: "guest-session",
		ShowtimeID:     "st-1",
		Seats:          []SeatSelection{{SeatID: "A1"}},
	})
	require.Error(t, err)

	stored := f.bookings.get("bk-1")
	require.NotNil(t, stored)
	assert.Equal(t, domain.BookingStatusExpired, stored.Status)
	assert.Contains(t, f.bookings.outboxKinds(), "seat.unlocked")
}

func TestFinalizeBooking_PromotionCodeWinsOverVoucher(t *testing.T) {
	f := newSagaFixture(t)
	f.seed("bk-1", alice, domain.BookingStatusPending)
	f.promotions.promotions["SPRING10"] = &domain.Promotion{
		Code: "SPRING10", DiscountType: domain.DiscountTypePercentage, DiscountValue: dec("10"),
	}
	f.promotions.vouchers["RV-1"] = &domain.RefundVoucher{Code: "RV-1", UserID: "alice", Value: dec("50000")}

	b, err := f.o.FinalizeBooking(context.Background(), "bk-1", alice, &FinalizeBookingRequest{
		FnbItems:          []domain.FnbItem{{ItemID: "popcorn", Quantity: 2}},
		PromotionCode:     "SPRING10",
		RefundVoucherCode: "RV-1",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.BookingStatusAwaitingPayment, b.Status)
	assert.True(t, b.TotalPrice.Equal(dec("240000")), "total %s", b.TotalPrice)
	assert.True(t, b.DiscountAmount.Equal(dec("24000")), "discount %s", b.DiscountAmount)
	assert.True(t, b.FinalPrice.Equal(b.TotalPrice.Sub(b.DiscountAmount)))
	require.NotNil(t, b.Promotion)
	assert.Equal(t, domain.DiscountSourcePromotionCode, b.Promotion.Source)
	assert.Empty(t, f.promotions.usedVouchers)

	assert.Len(t, f.locks.extended, 1)
	finalized := f.bookings.outboxEvents(t, event.KindBookingFinalized)
	require.Len(t, finalized, 1)
	assert.Equal(t, testNow.Add(10*time.Minute), finalized[0].(*event.BookingFinalized).PaymentDeadline.UTC())
	assert.Equal(t, []domain.BookingStatus{domain.BookingStatusAwaitingPayment}, f.promotions.usageSynced)
}

func TestFinalizeBooking_PromotionThatZeroesPriceIsRejected(t *testing.T) {
	f := newSagaFixture(t)
	f.seed("bk-1", alice, domain.BookingStatusPending)
	f.promotions.promotions["FREE"] = &domain.Promotion{
		Code: "FREE", DiscountType: domain.DiscountTypeFixed, DiscountValue: dec("180000"),
	}

	_, err := f.o.FinalizeBooking(context.Background(), "bk-1", alice, &FinalizeBookingRequest{PromotionCode: "FREE"})
	assert.ErrorIs(t, err, domain.ErrPromotionZeroesPrice)
	assert.Equal(t, domain.BookingStatusPending, f.bookings.get("bk-1").Status)
}

func TestFinalizeBooking_VoucherFlooredAtZero(t *testing.T) {
	f := newSagaFixture(t)
	f.seed("bk-1", alice, domain.BookingStatusPending)
	f.promotions.vouchers["RV-1"] = &domain.RefundVoucher{Code: "RV-1", UserID: "alice", Value: dec("500000")}

	b, err := f.o.FinalizeBooking(context.Background(), "bk-1", alice, &FinalizeBookingRequest{RefundVoucherCode: "RV-1"})
	require.NoError(t, err)

	assert.True(t, b.FinalPrice.IsZero(), "final %s", b.FinalPrice)
	assert.True(t, b.DiscountAmount.Equal(dec("180000")))
	assert.Equal(t, []string{"RV-1"}, f.promotions.usedVouchers)
	assert.Equal(t, "bk-1", f.promotions.redeemedBy["RV-1"])
}

func TestFinalizeBooking_RejectedDiscountLeavesLocksAlone(t *testing.T) {
	f := newSagaFixture(t)
	f.seed("bk-1", alice, domain.BookingStatusPending)
	f.promotions.vouchers["RV-1"] = &domain.RefundVoucher{Code: "RV-1", UserID: "bob", Value: dec("50000")}

	_, err := f.o.FinalizeBooking(context.Background(), "bk-1", alice, &FinalizeBookingRequest{PromotionCode: "BOGUS"})
	assert.ErrorIs(t, err, domain.ErrPromotionInvalid)

	_, err = f.o.FinalizeBooking(context.Background(), "bk-1", alice, &FinalizeBookingRequest{RefundVoucherCode: "RV-1"})
	assert.Error(t, err)

	assert.Empty(t, f.locks.extended)
	assert.Empty(t, f.promotions.usedVouchers)
	assert.Equal(t, domain.BookingStatusPending, f.bookings.get("bk-1").Status)
}

func TestFinalizeBooking_FailedWriteGivesVoucherBack(t *testing.T) {
	f := newSagaFixture(t)
	f.seed("bk-1", alice, domain.BookingStatusPending)
	f.promotions.vouchers["RV-1"] = &domain.RefundVoucher{Code: "RV-1", UserID: "alice", Value: dec("50000")}
	f.bookings.failNext = errors.New("db down")

	_, err := f.o.FinalizeBooking(context.Background(), "bk-1", alice, &FinalizeBookingRequest{RefundVoucherCode: "RV-1"})
	require.Error(t, err)
	assert.Equal(t, domain.BookingStatusPending, f.bookings.get("bk-1").Status)
	assert.Empty(t, f.promotions.usedVouchers)
	assert.Equal(t, []string{"RV-1"}, f.promotions.restored)

	// The retry redeems it again
	b, err := f.o.FinalizeBooking(context.Background(), "bk-1", alice, &FinalizeBookingRequest{RefundVoucherCode: "RV-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusAwaitingPayment, b.Status)
	assert.Equal(t, []string{"RV-1"}, f.promotions.usedVouchers)
}

func TestFinalizeBooking_VoucherUsedByAnotherBooking(t *testing.T) {
	f := newSagaFixture(t)
	f.seed("bk-1", alice, domain.BookingStatusPending)
	f.seed("bk-2", alice, domain.BookingStatusPending)
	f.promotions.vouchers["RV-1"] = &domain.RefundVoucher{Code: "RV-1", UserID: "alice", Value: dec("50000")}

	_, err := f.o.FinalizeBooking(context.Background(), "bk-1", alice, &FinalizeBookingRequest{RefundVoucherCode: "RV-1"})
	require.NoError(t, err)

	_, err = f.o.FinalizeBooking(context.Background(), "bk-2", alice, &FinalizeBookingRequest{RefundVoucherCode: "RV-1"})
	assert.ErrorIs(t, err, domain.ErrVoucherUsed)
	assert.Equal(t, domain.BookingStatusPending, f.bookings.get("bk-2").Status)
	assert.Equal(t, "bk-1", f.promotions.redeemedBy["RV-1"])
}

func TestUnpaidBookingRestoresVoucher(t *testing.T) {
	tests := []struct {
		name string
		ev   event.Event
		want domain.BookingStatus
	}{
		{"lock expired", &event.SeatUnlocked{BookingID: "bk-1", ShowtimeID: "st-1", SeatIDs: []string{"A1"}, Reason: domain.SeatUnlockLockExpired}, domain.BookingStatusExpired},
		{"payment failed", &event.PaymentBookingFailed{BookingID: "bk-1"}, domain.BookingStatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSagaFixture(t)
			f.seed("bk-1", alice, domain.BookingStatusPending)
			f.promotions.vouchers["RV-1"] = &domain.RefundVoucher{Code: "RV-1", UserID: "alice", Value: dec("50000")}

			_, err := f.o.FinalizeBooking(context.Background(), "bk-1", alice, &FinalizeBookingRequest{RefundVoucherCode: "RV-1"})
			require.NoError(t, err)
			require.Equal(t, []string{"RV-1"}, f.promotions.usedVouchers)

			require.NoError(t, f.o.HandleEvent(context.Background(), tt.ev))
			assert.Equal(t, tt.want, f.bookings.get("bk-1").Status)
			assert.Empty(t, f.promotions.usedVouchers)
			assert.Equal(t, []string{"RV-1"}, f.promotions.restored)
		})
	}
}

func TestFinalizeBooking_LoyaltyRankOnlyWithoutCodes(t *testing.T) {
	f := newSagaFixture(t)
	f.seed("bk-1", alice, domain.BookingStatusPending)
	f.seed("bk-2", guest, domain.BookingStatusPending)
	f.users.rank = &domain.UserRank{Rank: "GOLD", DiscountPercent: dec("5")}

	b, err := f.o.FinalizeBooking(context.Background(), "bk-1", alice, nil)
	require.NoError(t, err)
	require.NotNil(t, b.Promotion)
	assert.Equal(t, domain.DiscountSourceLoyaltyRank, b.Promotion.Source)
	assert.True(t, b.DiscountAmount.Equal(dec("9000")))

	g, err := f.o.FinalizeBooking(context.Background(), "bk-2", guest, nil)
	require.NoError(t, err)
	assert.Nil(t, g.Promotion)
	assert.True(t, g.FinalPrice.Equal(dec("180000")))
}

func TestFinalizeBooking_Guards(t *testing.T) {
	f := newSagaFixture(t)
	f.seed("bk-1", alice, domain.BookingStatusAwaitingPayment)
	f.seed("bk-2", alice, domain.BookingStatusPending)

	_, err := f.o.FinalizeBooking(context.Background(), "bk-1", alice, nil)
	assert.ErrorIs(t, err, domain.ErrBookingNotPending)

	_, err = f.o.FinalizeBooking(context.Background(), "bk-2", guest, nil)
	assert.ErrorIs(t, err, domain.ErrNotBookingOwner)

	f.locks.extendErr = domain.ErrSeatNotLocked
	_, err = f.o.FinalizeBooking(context.Background(), "bk-2", alice, nil)
	assert.ErrorIs(t, err, domain.ErrSeatNotLocked)
	assert.Equal(t, domain.BookingStatusPending, f.bookings.get("bk-2").Status)
}

func TestCancelBooking(t *testing.T) {
	f := newSagaFixture(t)
	b := f.seed("bk-1", alice, domain.BookingStatusConfirmed)

	got, err := f.o.CancelBooking(context.Background(), "bk-1", "alice")
	require.NoError(t, err)

	assert.Equal(t, domain.BookingStatusRefunded, got.Status)
	assert.Equal(t, domain.RefundMethodVoucher, got.RefundMethod)
	assert.Equal(t, domain.RefundReasonUserCancelled, got.RefundReason)
	require.Len(t, f.promotions.created, 1)
	assert.True(t, f.promotions.created[0].Equal(b.FinalPrice))

	refunded := f.bookings.outboxEvents(t, event.KindBookingRefunded)
	require.Len(t, refunded, 1)
	assert.Equal(t, "RV-bk-1", refunded[0].(*event.BookingRefunded).VoucherCode)

	unlocked := f.bookings.outboxEvents(t, event.KindSeatUnlocked)
	require.Len(t, unlocked, 1)
	assert.Equal(t, domain.SeatUnlockRefunded, unlocked[0].(*event.SeatUnlocked).Reason)
}

func TestCancelBooking_MonthlyCap(t *testing.T) {
	f := newSagaFixture(t)
	for _, id := range []string{"bk-1", "bk-2", "bk-3"} {
		f.seed(id, alice, domain.BookingStatusConfirmed)
	}

	_, err := f.o.CancelBooking(context.Background(), "bk-1", "alice")
	require.NoError(t, err)
	_, err = f.o.CancelBooking(context.Background(), "bk-2", "alice")
	require.NoError(t, err)

	_, err = f.o.CancelBooking(context.Background(), "bk-3", "alice")
	assert.ErrorIs(t, err, domain.ErrMonthlyCancelLimitHit)
	assert.Equal(t, domain.BookingStatusConfirmed, f.bookings.get("bk-3").Status)

	// A new month resets the count
	f.o.now = func() time.Time { return testNow.AddDate(0, 1, 0) }
	f.bookings.mu.Lock()
	f.bookings.bookings["bk-3"].ShowtimeStart = testNow.AddDate(0, 1, 2)
	f.bookings.mu.Unlock()
	_, err = f.o.CancelBooking(context.Background(), "bk-3", "alice")
	assert.NoError(t, err)
}

func TestCancelBooking_Rules(t *testing.T) {
	tests := []struct {
		name    string
		owner   domain.Owner
		status  domain.BookingStatus
		caller  string
		start   time.Duration
		wantErr error
	}{
		{"guest booking", guest, domain.BookingStatusConfirmed, "alice", 48 * time.Hour, domain.ErrGuestCannotCancel},
		{"anonymous caller", alice, domain.BookingStatusConfirmed, "", 48 * time.Hour, domain.ErrGuestCannotCancel},
		{"other user", alice, domain.BookingStatusConfirmed, "bob", 48 * time.Hour, domain.ErrNotBookingOwner},
		{"not confirmed", alice, domain.BookingStatusAwaitingPayment, "alice", 48 * time.Hour, domain.ErrBookingNotConfirmed},
		{"too late", alice, domain.BookingStatusConfirmed, "alice", 59 * time.Minute, domain.ErrCancellationTooLate},
		{"exactly at cutoff", alice, domain.BookingStatusConfirmed, "alice", 60 * time.Minute, domain.ErrCancellationTooLate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSagaFixture(t)
			b := f.seed("bk-1", tt.owner, tt.status)
			b.ShowtimeStart = testNow.Add(tt.start)
			f.bookings.put(b)

			_, err := f.o.CancelBooking(context.Background(), "bk-1", tt.caller)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.promotions.created)
		})
	}
}

func TestCancelBooking_RetryAfterFailedWriteIssuesOneVoucher(t *testing.T) {
	f := newSagaFixture(t)
	f.seed("bk-1", alice, domain.BookingStatusConfirmed)
	f.bookings.failNext = errors.New("db down")

	_, err := f.o.CancelBooking(context.Background(), "bk-1", "alice")
	require.Error(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, f.bookings.get("bk-1").Status)

	got, err := f.o.CancelBooking(context.Background(), "bk-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusRefunded, got.Status)
	assert.Len(t, f.promotions.created, 1)
	assert.Len(t, f.bookings.outboxEvents(t, event.KindBookingRefunded), 1)
}

func TestApplyStatus_ConfirmedIsSticky(t *testing.T) {
	f := newSagaFixture(t)
	b := f.seed("bk-1", alice, domain.BookingStatusConfirmed)

	for _, next := range []domain.BookingStatus{
		domain.BookingStatusExpired,
		domain.BookingStatusCancelled,
		domain.BookingStatusPending,
	} {
		require.NoError(t, f.o.applyStatus(context.Background(), b, next, transition{}))
		assert.Equal(t, domain.BookingStatusConfirmed, b.Status)
	}
	assert.Equal(t, 0, f.bookings.updates)
	assert.Empty(t, f.bookings.outboxKinds())
}

func TestApplyStatus_RejectsIllegalMove(t *testing.T) {
	f := newSagaFixture(t)
	b := f.seed("bk-1", alice, domain.BookingStatusExpired)

	err := f.o.applyStatus(context.Background(), b, domain.BookingStatusConfirmed, transition{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.BookingStatusExpired, b.Status)
}

func TestApplyStatus_RestoresStatusOnLostRace(t *testing.T) {
	f := newSagaFixture(t)
	b := f.seed("bk-1", alice, domain.BookingStatusPending)
	f.seed("bk-1", alice, domain.BookingStatusCancelled)

	err := f.o.applyStatus(context.Background(), b, domain.BookingStatusExpired, transition{})
	assert.ErrorIs(t, err, domain.ErrBookingStateChanged)
	assert.Equal(t, domain.BookingStatusPending, b.Status)
}

func TestGetBooking(t *testing.T) {
	f := newSagaFixture(t)
	f.seed("bk-1", guest, domain.BookingStatusPending)

	b, err := f.o.GetBooking(context.Background(), "bk-1", guest)
	require.NoError(t, err)
	assert.Equal(t, "bk-1", b.ID)

	_, err = f.o.GetBooking(context.Background(), "bk-1", alice)
	assert.ErrorIs(t, err, domain.ErrNotBookingOwner)

	_, err = f.o.GetBooking(context.Background(), "missing", alice)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}
