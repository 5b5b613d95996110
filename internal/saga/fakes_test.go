package saga

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/internal/event"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func cloneBooking(b *domain.Booking) *domain.Booking {
	cp := *b
	cp.Seats = append([]domain.BookingSeat(nil), b.Seats...)
	cp.Fnbs = append([]domain.BookingFnb(nil), b.Fnbs...)
	if b.Promotion != nil {
		p := *b.Promotion
		cp.Promotion = &p
	}
	if b.RefundedAt != nil {
		t := *b.RefundedAt
		cp.RefundedAt = &t
	}
	return &cp
}

// memBookings keeps bookings in memory with the same compare-and-set as the SQL store
type memBookings struct {
	mu       sync.Mutex
	bookings map[string]*domain.Booking
	outbox   []*domain.OutboxMessage
	updates  int
	failNext error
}

func newMemBookings() *memBookings {
	return &memBookings{bookings: make(map[string]*domain.Booking)}
}

func (r *memBookings) put(b *domain.Booking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookings[b.ID] = cloneBooking(b)
}

func (r *memBookings) get(id string) *domain.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bookings[id]; ok {
		return cloneBooking(b)
	}
	return nil
}

func (r *memBookings) outboxKinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, len(r.outbox))
	for i, m := range r.outbox {
		kinds[i] = m.EventType
	}
	return kinds
}

func (r *memBookings) outboxEvents(t *testing.T, kind event.Kind) []event.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, m := range r.outbox {
		if m.EventType != string(kind) {
			continue
		}
		_, e, err := event.Decode(m.Payload)
		if err != nil {
			t.Fatalf("decode outbox %s: %v", m.EventType, err)
		}
		out = append(out, e)
	}
	return out
}

func (r *memBookings) Create(_ context.Context, b *domain.Booking, msgs ...*domain.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}
	r.bookings[b.ID] = cloneBooking(b)
	r.outbox = append(r.outbox, msgs...)
	return nil
}

func (r *memBookings) GetByID(_ context.Context, id string) (*domain.Booking, error) {
	if b := r.get(id); b != nil {
		return b, nil
	}
	return nil, domain.ErrBookingNotFound
}

func (r *memBookings) ListByShowtime(_ context.Context, showtimeID string, statuses ...domain.BookingStatus) ([]*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Booking
	for _, b := range r.bookings {
		if b.ShowtimeID != showtimeID {
			continue
		}
		for _, s := range statuses {
			if b.Status == s {
				out = append(out, cloneBooking(b))
				break
			}
		}
	}
	return out, nil
}

func (r *memBookings) CountUserCancellationsSince(_ context.Context, userID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.bookings {
		if b.UserID == userID && b.Status == domain.BookingStatusRefunded &&
			b.RefundReason == domain.RefundReasonUserCancelled &&
			b.RefundedAt != nil && !b.RefundedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *memBookings) cas(b *domain.Booking, from domain.BookingStatus, msgs []*domain.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}
	stored, ok := r.bookings[b.ID]
	if !ok {
		return domain.ErrBookingNotFound
	}
	if stored.Status != from {
		return domain.ErrBookingStateChanged
	}
	r.bookings[b.ID] = cloneBooking(b)
	r.outbox = append(r.outbox, msgs...)
	r.updates++
	return nil
}

func (r *memBookings) UpdateStatus(_ context.Context, b *domain.Booking, from domain.BookingStatus, _ bool, msgs ...*domain.OutboxMessage) error {
	return r.cas(b, from, msgs)
}

func (r *memBookings) SaveFinalization(_ context.Context, b *domain.Booking, from domain.BookingStatus, msgs ...*domain.OutboxMessage) error {
	return r.cas(b, from, msgs)
}

// fakeLocks records lock manager calls
type fakeLocks struct {
	mu        sync.Mutex
	verifyErr error
	mapErr    error
	extendErr error
	mapped    map[string][]string
	extended  [][]string
	released  []domain.SeatStatus
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{mapped: make(map[string][]string)}
}

func (l *fakeLocks) VerifyOwnership(context.Context, string, []string, domain.Owner) error {
	return l.verifyErr
}

func (l *fakeLocks) MapBookingToLocks(_ context.Context, bookingID, _ string, seatIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mapErr != nil {
		return l.mapErr
	}
	l.mapped[bookingID] = seatIDs
	return nil
}

func (l *fakeLocks) ExtendForPayment(_ context.Context, showtimeID string, seatIDs []string, _ domain.Owner) ([]domain.LockResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.extendErr != nil {
		return nil, l.extendErr
	}
	l.extended = append(l.extended, seatIDs)
	results := make([]domain.LockResult, len(seatIDs))
	for i, id := range seatIDs {
		results[i] = domain.NewLockResult(showtimeID, id, domain.SeatStatusLocked, 10*time.Minute)
	}
	return results, nil
}

func (l *fakeLocks) ReleaseSeatsForBooking(_ context.Context, _ string, _ domain.Owner, _ string, _ []string, state domain.SeatStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, state)
	return nil
}

type fakeShowtimes struct {
	showtime *domain.Showtime
	seats    map[string]string // seat id -> seat type
}

func (f *fakeShowtimes) GetShowtime(_ context.Context, id string) (*domain.Showtime, error) {
	if f.showtime == nil || f.showtime.ID != id {
		return nil, domain.ErrShowtimeNotFound
	}
	st := *f.showtime
	return &st, nil
}

func (f *fakeShowtimes) GetSeatInfo(_ context.Context, seatID string) (*domain.SeatInfo, error) {
	seatType, ok := f.seats[seatID]
	if !ok {
		return nil, domain.ErrSeatNotFound
	}
	return &domain.SeatInfo{ID: seatID, SeatType: seatType}, nil
}

type fakePricing struct {
	prices map[string]decimal.Decimal // seatType/ticketType
}

func (f *fakePricing) GetSeatPrice(_ context.Context, seatType, ticketType string) (decimal.Decimal, error) {
	p, ok := f.prices[seatType+"/"+ticketType]
	if !ok {
		return decimal.Zero, errors.New("no price")
	}
	return p, nil
}

type fakePromotions struct {
	mu           sync.Mutex
	promotions   map[string]*domain.Promotion
	canUse       bool
	vouchers     map[string]*domain.RefundVoucher
	usedVouchers []string
	redeemedBy   map[string]string // voucher code -> booking id
	restored     []string
	usageSynced  []domain.BookingStatus
	createErr    error
	issued       map[string]*domain.RefundVoucher // booking id -> voucher
	created      []decimal.Decimal
}

func newFakePromotions() *fakePromotions {
	return &fakePromotions{
		promotions: make(map[string]*domain.Promotion),
		vouchers:   make(map[string]*domain.RefundVoucher),
		redeemedBy: make(map[string]string),
		issued:     make(map[string]*domain.RefundVoucher),
		canUse:     true,
	}
}

func (f *fakePromotions) ValidatePromotionCode(_ context.Context, code string) (*domain.Promotion, error) {
	if p, ok := f.promotions[code]; ok {
		return p, nil
	}
	return nil, domain.ErrPromotionInvalid
}

func (f *fakePromotions) CanUsePromotion(context.Context, string, string) (bool, error) {
	return f.canUse, nil
}

func (f *fakePromotions) UpdatePromotionUsageStatus(_ context.Context, _ string, status domain.BookingStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usageSynced = append(f.usageSynced, status)
	return nil
}

func (f *fakePromotions) GetRefundVoucher(_ context.Context, code string) (*domain.RefundVoucher, error) {
	if v, ok := f.vouchers[code]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, domain.ErrVoucherNotFound
}

// MarkRefundVoucherUsed behaves like the promotion service: repeating for the
// same booking is fine, another booking gets ErrVoucherUsed
func (f *fakePromotions) MarkRefundVoucherUsed(_ context.Context, code, bookingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if by, ok := f.redeemedBy[code]; ok {
		if by != bookingID {
			return domain.ErrVoucherUsed
		}
		return nil
	}
	f.redeemedBy[code] = bookingID
	f.usedVouchers = append(f.usedVouchers, code)
	return nil
}

func (f *fakePromotions) RestoreRefundVoucher(_ context.Context, code, bookingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.redeemedBy[code] != bookingID {
		return nil
	}
	delete(f.redeemedBy, code)
	f.restored = append(f.restored, code)
	for i, c := range f.usedVouchers {
		if c == code {
			f.usedVouchers = append(f.usedVouchers[:i], f.usedVouchers[i+1:]...)
			break
		}
	}
	return nil
}

// CreateRefundVoucher issues one voucher per booking no matter how often it is called
func (f *fakePromotions) CreateRefundVoucher(_ context.Context, bookingID, userID string, value decimal.Decimal) (*domain.RefundVoucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if v, ok := f.issued[bookingID]; ok {
		cp := *v
		return &cp, nil
	}
	v := &domain.RefundVoucher{Code: "RV-" + bookingID, UserID: userID, Value: value}
	f.issued[bookingID] = v
	f.created = append(f.created, value)
	cp := *v
	return &cp, nil
}

type fakeMovies struct{}

func (fakeMovies) GetMovieTitle(context.Context, string) (string, error) {
	return "Dune: Part Three", nil
}

type fakeUsers struct {
	mu      sync.Mutex
	rank    *domain.UserRank
	rankErr error
	awards  []int64
}

func (f *fakeUsers) GetUserRankAndDiscount(context.Context, string) (*domain.UserRank, error) {
	return f.rank, f.rankErr
}

func (f *fakeUsers) UpdateLoyaltyPoints(_ context.Context, _ string, points int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awards = append(f.awards, points)
	return nil
}

type fakeFnb struct{}

func (fakeFnb) CalculateFnbPrice(_ context.Context, items []domain.FnbItem) ([]domain.BookingFnb, error) {
	lines := make([]domain.BookingFnb, len(items))
	for i, it := range items {
		unit := dec("30000")
		lines[i] = domain.BookingFnb{
			ItemID:     it.ItemID,
			Quantity:   it.Quantity,
			UnitPrice:  unit,
			TotalPrice: unit.Mul(decimal.NewFromInt(int64(it.Quantity))),
		}
	}
	return lines, nil
}

type sagaFixture struct {
	o          *Orchestrator
	bookings   *memBookings
	locks      *fakeLocks
	promotions *fakePromotions
	users      *fakeUsers
	pub        *event.RecordingPublisher
}

func newSagaFixture(t *testing.T) *sagaFixture {
	t.Helper()
	f := &sagaFixture{
		bookings:   newMemBookings(),
		locks:      newFakeLocks(),
		promotions: newFakePromotions(),
		users:      &fakeUsers{},
		pub:        &event.RecordingPublisher{},
	}
	showtimes := &fakeShowtimes{
		showtime: &domain.Showtime{
			ID:          "st-1",
			MovieID:     "mv-1",
			TheaterName: "Galaxy Nguyen Du",
			RoomName:    "Room 3",
			StartTime:   testNow.Add(48 * time.Hour),
			Status:      domain.ShowtimeStatusActive,
		},
		seats: map[string]string{"A1": "STANDARD", "A2": "STANDARD", "B1": "VIP"},
	}
	pricing := &fakePricing{prices: map[string]decimal.Decimal{
		"STANDARD/ADULT":   dec("90000"),
		"STANDARD/STUDENT": dec("70000"),
		"VIP/ADULT":        dec("120000"),
	}}

	f.o = NewOrchestrator(Dependencies{
		Bookings:   f.bookings,
		Locks:      f.locks,
		Showtimes:  showtimes,
		Pricing:    pricing,
		Promotions: f.promotions,
		Movies:     fakeMovies{},
		Users:      f.users,
		Fnb:        fakeFnb{},
		Publisher:  f.pub,
	}, nil)
	f.o.now = func() time.Time { return testNow }

	n := 0
	f.o.newID = func() string {
		n++
		return "bk-" + strconv.Itoa(n)
	}
	return f
}

// seed stores a booking in status with two standard seats
func (f *sagaFixture) seed(id string, owner domain.Owner, status domain.BookingStatus) *domain.Booking {
	b := &domain.Booking{
		ID:            id,
		ShowtimeID:    "st-1",
		ShowtimeStart: testNow.Add(48 * time.Hour),
		Status:        status,
		Seats: []domain.BookingSeat{
			{SeatID: "A1", SeatType: "STANDARD", TicketType: "ADULT", Price: dec("90000")},
			{SeatID: "A2", SeatType: "STANDARD", TicketType: "ADULT", Price: dec("90000")},
		},
	}
	b.SetOwner(owner)
	b.ClearExtras()
	f.bookings.put(b)
	return b
}
