package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnPaymentSuccess_IsIdempotent(t *testing.T) {
	f := newSagaFixture(t)
	f.seed("bk-1", alice, domain.BookingStatusAwaitingPayment)
	ev := &event.PaymentBookingSuccess{BookingID: "bk-1", PaymentID: "pay-1", PaymentMethod: "MOMO"}

	require.NoError(t, f.o.HandleEvent(context.Background(), ev))
	require.NoError(t, f.o.HandleEvent(context.Background(), ev))

	stored := f.bookings.get("bk-1")
	assert.Equal(t, domain.BookingStatusConfirmed, stored.Status)
	assert.Equal(t, "pay-1", stored.PaymentID)
	assert.Equal(t, "MOMO", stored.PaymentMethod)
	assert.Equal(t, int64(18), stored.LoyaltyPointsAwarded)

	assert.Equal(t, 1, f.bookings.updates)
	assert.Equal(t, []int64{18}, f.users.awards)
	assert.Len(t, f.pub.OfKind(event.KindBookingTicketReady), 1)
	assert.Len(t, f.bookings.outboxEvents(t, event.KindBookingStatusUpdated), 1)
}

func TestOnPaymentSuccess_GuestGetsNoPoints(t *testing.T) {
	f := newSagaFixture(t)
	f.seed("bk-1", guest, domain.BookingStatusPending)

	require.NoError(t, f.o.OnPaymentSuccess(context.Background(), &event.PaymentBookingSuccess{BookingID: "bk-1"}))

	assert.Equal(t, domain.BookingStatusConfirmed, f.bookings.get("bk-1").Status)
	assert.Empty(t, f.users.awards)
}

func TestOnPaymentSuccess_TicketPublishFailureIsSwallowed(t *testing.T) {
	f := newSagaFixture(t)
	f.seed("bk-1", alice, domain.BookingStatusAwaitingPayment)
	f.pub.Err = errors.New("broker down")

	require.NoError(t, f.o.OnPaymentSuccess(context.Background(), &event.PaymentBookingSuccess{BookingID: "bk-1"}))
	assert.Equal(t, domain.BookingStatusConfirmed, f.bookings.get("bk-1").Status)
}

func TestOnSeatUnlocked(t *testing.T) {
	t.Run("expires in-flight booking and clears extras", func(t *testing.T) {
		f := newSagaFixture(t)
		b := f.seed("bk-1", alice, domain.BookingStatusAwaitingPayment)
		b.Fnbs = []domain.BookingFnb{{ItemID: "popcorn", Quantity: 1, UnitPrice: dec("30000"), TotalPrice: dec("30000")}}
		b.Promotion = &domain.BookingPromotion{Code: "GOLD", Source: domain.DiscountSourceLoyaltyRank}
		f.bookings.put(b)

		err := f.o.HandleEvent(context.Background(), &event.SeatUnlocked{
			BookingID: "bk-1", ShowtimeID: "st-1", SeatIDs: []string{"A1"}, Reason: domain.SeatUnlockLockExpired,
		})
		require.NoError(t, err)

		stored := f.bookings.get("bk-1")
		assert.Equal(t, domain.BookingStatusExpired, stored.Status)
		assert.Empty(t, stored.Fnbs)
		assert.Nil(t, stored.Promotion)
		assert.True(t, stored.FinalPrice.Equal(dec("180000")))

		unlocked := f.bookings.outboxEvents(t, event.KindSeatUnlocked)
		require.Len(t, unlocked, 1)
		ev := unlocked[0].(*event.SeatUnlocked)
		assert.Equal(t, domain.SeatUnlockExpired, ev.Reason)
		assert.Equal(t, []string{"A1", "A2"}, ev.SeatIDs)
	})

	t.Run("confirmed booking is sticky", func(t *testing.T) {
		f := newSagaFixture(t)
		f.seed("bk-1", alice, domain.BookingStatusConfirmed)

		err := f.o.HandleEvent(context.Background(), &event.SeatUnlocked{
			BookingID: "bk-1", ShowtimeID: "st-1", SeatIDs: []string{"A1"}, Reason: domain.SeatUnlockLockExpired,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.BookingStatusConfirmed, f.bookings.get("bk-1").Status)
		assert.Equal(t, 0, f.bookings.updates)
	})

	t.Run("own release events are ignored", func(t *testing.T) {
		f := newSagaFixture(t)
		f.seed("bk-1", alice, domain.BookingStatusPending)

		err := f.o.HandleEvent(context.Background(), &event.SeatUnlocked{
			BookingID: "bk-1", ShowtimeID: "st-1", Reason: domain.SeatUnlockCancelled,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.BookingStatusPending, f.bookings.get("bk-1").Status)
	})

	t.Run("unknown booking is skipped", func(t *testing.T) {
		f := newSagaFixture(t)
		err := f.o.HandleEvent(context.Background(), &event.SeatUnlocked{
			BookingID: "ghost", ShowtimeID: "st-1", Reason: domain.SeatUnlockManual,
		})
		assert.NoError(t, err)
	})
}

func TestOnPaymentFailed(t *testing.T) {
	f := newSagaFixture(t)
	f.seed("bk-1", guest, domain.BookingStatusAwaitingPayment)
	f.seed("bk-2", guest, domain.BookingStatusExpired)

	require.NoError(t, f.o.HandleEvent(context.Background(), &event.PaymentBookingFailed{BookingID: "bk-1"}))
	require.NoError(t, f.o.HandleEvent(context.Background(), &event.PaymentBookingFailed{BookingID: "bk-2"}))

	assert.Equal(t, domain.BookingStatusCancelled, f.bookings.get("bk-1").Status)
	assert.Equal(t, domain.BookingStatusExpired, f.bookings.get("bk-2").Status)
	assert.Equal(t, 1, f.bookings.updates)
}

func TestOnShowtimeSuspended(t *testing.T) {
	f := newSagaFixture(t)
	f.seed("bk-user", alice, domain.BookingStatusConfirmed)
	f.seed("bk-guest", guest, domain.BookingStatusConfirmed)
	f.seed("bk-pending", domain.UserOwner("carol"), domain.BookingStatusPending)
	f.seed("bk-done", domain.UserOwner("dave"), domain.BookingStatusExpired)

	err := f.o.HandleEvent(context.Background(), &event.ShowtimeSuspended{ShowtimeID: "st-1"})
	require.NoError(t, err)

	user := f.bookings.get("bk-user")
	assert.Equal(t, domain.BookingStatusRefunded, user.Status)
	assert.Equal(t, domain.RefundMethodVoucher, user.RefundMethod)
	assert.Equal(t, domain.RefundReasonShowtimeSuspended, user.RefundReason)

	g := f.bookings.get("bk-guest")
	assert.Equal(t, domain.BookingStatusRefunded, g.Status)
	assert.Equal(t, domain.RefundMethodCounter, g.RefundMethod)

	assert.Equal(t, domain.BookingStatusCancelled, f.bookings.get("bk-pending").Status)
	assert.Equal(t, domain.BookingStatusExpired, f.bookings.get("bk-done").Status)

	assert.Len(t, f.bookings.outboxEvents(t, event.KindBookingRefunded), 2)
	assert.Len(t, f.promotions.created, 1)
}

func TestOnShowtimeSuspended_RedeliveryAfterFailedWrite(t *testing.T) {
	f := newSagaFixture(t)
	f.seed("bk-1", alice, domain.BookingStatusConfirmed)
	f.bookings.failNext = errors.New("db down")

	e := &event.ShowtimeSuspended{ShowtimeID: "st-1", AffectedBookingIDs: []string{"bk-1"}}
	require.Error(t, f.o.HandleEvent(context.Background(), e))
	assert.Equal(t, domain.BookingStatusConfirmed, f.bookings.get("bk-1").Status)

	require.NoError(t, f.o.HandleEvent(context.Background(), e))
	require.NoError(t, f.o.HandleEvent(context.Background(), e))

	stored := f.bookings.get("bk-1")
	assert.Equal(t, domain.BookingStatusRefunded, stored.Status)
	assert.Equal(t, domain.RefundMethodVoucher, stored.RefundMethod)
	assert.Len(t, f.promotions.created, 1)

	refunded := f.bookings.outboxEvents(t, event.KindBookingRefunded)
	require.Len(t, refunded, 1)
	assert.Equal(t, "RV-bk-1", refunded[0].(*event.BookingRefunded).VoucherCode)
}

func TestOnShowtimeSuspended_VoucherFailureStillRefunds(t *testing.T) {
	f := newSagaFixture(t)
	f.seed("bk-1", alice, domain.BookingStatusConfirmed)
	f.seed("bk-2", alice, domain.BookingStatusConfirmed)
	f.promotions.createErr = errors.New("promotion service down")

	err := f.o.OnShowtimeSuspended(context.Background(), &event.ShowtimeSuspended{
		ShowtimeID:         "st-1",
		AffectedBookingIDs: []string{"bk-1", "missing"},
	})
	require.NoError(t, err)

	stored := f.bookings.get("bk-1")
	assert.Equal(t, domain.BookingStatusRefunded, stored.Status)
	assert.Equal(t, domain.RefundMethodErrorVoucher, stored.RefundMethod)
	assert.Equal(t, domain.BookingStatusConfirmed, f.bookings.get("bk-2").Status)

	refunded := f.bookings.outboxEvents(t, event.KindBookingRefunded)
	require.Len(t, refunded, 1)
	assert.Empty(t, refunded[0].(*event.BookingRefunded).VoucherCode)
}

func TestHandleEvent_UnhandledKind(t *testing.T) {
	f := newSagaFixture(t)
	err := f.o.HandleEvent(context.Background(), &event.BookingCreated{BookingID: "bk-1"})
	assert.ErrorIs(t, err, ErrUnhandledEvent)
}
