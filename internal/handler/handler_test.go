package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/internal/notifier"
	"github.com/flourineV/cinemas-backend-sub000/internal/saga"
	"github.com/flourineV/cinemas-backend-sub000/pkg/middleware"
	"github.com/flourineV/cinemas-backend-sub000/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type lockCall struct {
	op         string
	showtimeID string
	seatIDs    []string
	owner      domain.Owner
}

type fakeLocker struct {
	calls   []lockCall
	err     error
	seatMap []domain.LockResult
}

func (f *fakeLocker) record(op, showtimeID string, seatIDs []string, owner domain.Owner) ([]domain.LockResult, error) {
	f.calls = append(f.calls, lockCall{op, showtimeID, seatIDs, owner})
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.LockResult, 0, len(seatIDs))
	for _, id := range seatIDs {
		out = append(out, domain.NewLockResult(showtimeID, id, domain.SeatStatusLocked, 5*time.Minute))
	}
	return out, nil
}

func (f *fakeLocker) LockSeats(_ context.Context, showtimeID string, seatIDs []string, owner domain.Owner) ([]domain.LockResult, error) {
	return f.record("lock", showtimeID, seatIDs, owner)
}

func (f *fakeLocker) UnlockSeats(_ context.Context, showtimeID string, seatIDs []string, owner domain.Owner) ([]domain.LockResult, error) {
	return f.record("unlock", showtimeID, seatIDs, owner)
}

func (f *fakeLocker) ExtendForPayment(_ context.Context, showtimeID string, seatIDs []string, owner domain.Owner) ([]domain.LockResult, error) {
	return f.record("extend", showtimeID, seatIDs, owner)
}

func (f *fakeLocker) GetSeatMap(_ context.Context, showtimeID string) ([]domain.LockResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.seatMap, nil
}

type fakeBookings struct {
	createReq   *saga.CreateBookingRequest
	finalizeReq *saga.FinalizeBookingRequest
	owner       domain.Owner
	cancelUser  string
	err         error
}

func (f *fakeBookings) CreateBooking(_ context.Context, req *saga.CreateBookingRequest) (*domain.Booking, error) {
	f.createReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Booking{ID: "bk-1", UserID: req.UserID, GuestSessionID: req.GuestSessionID, ShowtimeID: req.ShowtimeID, Status: domain.BookingStatusPending}, nil
}

func (f *fakeBookings) GetBooking(_ context.Context, bookingID string, owner domain.Owner) (*domain.Booking, error) {
	f.owner = owner
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Booking{ID: bookingID, Status: domain.BookingStatusPending}, nil
}

func (f *fakeBookings) FinalizeBooking(_ context.Context, bookingID string, owner domain.Owner, req *saga.FinalizeBookingRequest) (*domain.Booking, error) {
	f.owner = owner
	f.finalizeReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Booking{ID: bookingID, Status: domain.BookingStatusAwaitingPayment}, nil
}

func (f *fakeBookings) CancelBooking(_ context.Context, bookingID, userID string) (*domain.Booking, error) {
	f.cancelUser = userID
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Booking{ID: bookingID, Status: domain.BookingStatusRefunded}, nil
}

type fakeChecker struct{ err error }

func (f fakeChecker) HealthCheck(context.Context) error { return f.err }

type testServer struct {
	router   *gin.Engine
	locks    *fakeLocker
	bookings *fakeBookings
	hub      *notifier.Hub
}

func newTestServer(t *testing.T, checkers ...Component) *testServer {
	t.Helper()
	locks := &fakeLocker{}
	bookings := &fakeBookings{}
	hub := notifier.NewHub(nil, nil, 8)

	router := NewRouter(&RouterConfig{
		Health:     NewHealthHandler(checkers...),
		SeatLocks:  NewSeatLockHandler(locks),
		Bookings:   NewBookingHandler(bookings),
		SeatStream: NewSeatStreamHandler(locks, hub, time.Hour),
		Auth:       &middleware.AuthConfig{Secret: testSecret},
	})
	return &testServer{router: router, locks: locks, bookings: bookings, hub: hub}
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func (s *testServer) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

var guest = map[string]string{middleware.GuestSessionHeader: "guest-1"}

func TestSeatLockHandler_Endpoints(t *testing.T) {
	s := newTestServer(t)
	body := SeatLockRequest{ShowtimeID: "st-1", SeatIDs: []string{"A1", "A2"}}

	w := s.do(http.MethodPost, "/api/v1/seat-locks", body, guest)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Success bool             `json:"success"`
		Data    SeatLockResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Data.Seats, 2)
	assert.Equal(t, int64(300), resp.Data.Seats[0].TTLSeconds)

	w = s.do(http.MethodPost, "/api/v1/seat-locks/extend", body, map[string]string{"Authorization": bearer(t, "alice")})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodDelete, "/api/v1/seat-locks", body, guest)
	assert.Equal(t, http.StatusOK, w.Code)

	require.Len(t, s.locks.calls, 3)
	assert.Equal(t, lockCall{"lock", "st-1", []string{"A1", "A2"}, domain.GuestOwner("guest-1")}, s.locks.calls[0])
	assert.Equal(t, domain.UserOwner("alice"), s.locks.calls[1].owner)
	assert.Equal(t, "unlock", s.locks.calls[2].op)
}

func TestSeatLockHandler_Errors(t *testing.T) {
	body := SeatLockRequest{ShowtimeID: "st-1", SeatIDs: []string{"A1"}}

	tests := []struct {
		name     string
		err      error
		headers  map[string]string
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{"no owner", nil, nil, body, http.StatusBadRequest, "OWNER_REQUIRED"},
		{"bad token", nil, map[string]string{"Authorization": "Bearer nope"}, body, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"empty seats", nil, guest, SeatLockRequest{ShowtimeID: "st-1"}, http.StatusBadRequest, "BAD_REQUEST"},
		{"contention", domain.ErrSeatAlreadyLocked, guest, body, http.StatusConflict, "SEAT_ALREADY_LOCKED"},
		{"unknown seat", domain.ErrSeatNotFound, guest, body, http.StatusNotFound, "SEAT_NOT_FOUND"},
		{"suspended", domain.ErrShowtimeSuspended, guest, body, http.StatusUnprocessableEntity, "SHOWTIME_SUSPENDED"},
		{"store down", errors.New("redis: connection refused"), guest, body, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.locks.err = tt.err

			w := s.do(http.MethodPost, "/api/v1/seat-locks", tt.body, tt.headers)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, w))
		})
	}
}

func TestBookingHandler_CreateFillsOwnerFromRequest(t *testing.T) {
	s := newTestServer(t)
	body := map[string]interface{}{
		"showtime_id":      "st-1",
		"seats":            []map[string]string{{"seat_id": "A1", "ticket_type": "STUDENT"}},
		"user_id":          "mallory",
		"guest_session_id": "spoofed",
	}

	w := s.do(http.MethodPost, "/api/v1/bookings", body, map[string]string{"Authorization": bearer(t, "alice")})
	require.Equal(t, http.StatusCreated, w.Code)

	req := s.bookings.createReq
	require.NotNil(t, req)
	assert.Equal(t, "alice", req.UserID)
	assert.Empty(t, req.GuestSessionID)
	assert.Equal(t, []saga.SeatSelection{{SeatID: "A1", TicketType: "STUDENT"}}, req.Seats)
}

func TestBookingHandler_Finalize(t *testing.T) {
	s := newTestServer(t)

	// empty body
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/bk-1/finalize", nil)
	req.Header.Set(middleware.GuestSessionHeader, "guest-1")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.GuestOwner("guest-1"), s.bookings.owner)

	w = s.do(http.MethodPost, "/api/v1/bookings/bk-1/finalize", map[string]string{"promotion_code": "SPRING"}, guest)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SPRING", s.bookings.finalizeReq.PromotionCode)

	s.bookings.err = domain.ErrBookingNotPending
	w = s.do(http.MethodPost, "/api/v1/bookings/bk-1/finalize", nil, guest)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "BOOKING_NOT_PENDING", decodeError(t, w))
}

func TestBookingHandler_GetAndCancel(t *testing.T) {
	s := newTestServer(t)
	alice := map[string]string{"Authorization": bearer(t, "alice")}

	w := s.do(http.MethodGet, "/api/v1/bookings/bk-1", nil, alice)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.UserOwner("alice"), s.bookings.owner)

	w = s.do(http.MethodPost, "/api/v1/bookings/bk-1/cancel", nil, alice)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", s.bookings.cancelUser)

	// guests never reach the orchestrator
	s.bookings.cancelUser = ""
	w = s.do(http.MethodPost, "/api/v1/bookings/bk-1/cancel", nil, guest)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "GUEST_CANNOT_CANCEL", decodeError(t, w))
	assert.Empty(t, s.bookings.cancelUser)

	s.bookings.err = domain.ErrNotBookingOwner
	w = s.do(http.MethodGet, "/api/v1/bookings/bk-1", nil, alice)
	assert.Equal(t, http.StatusForbidden, w.Code)

	s.bookings.err = domain.ErrBookingNotFound
	w = s.do(http.MethodGet, "/api/v1/bookings/bk-9", nil, alice)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t,
		Component{Name: "database", Checker: fakeChecker{}},
		Component{Name: "redis", Checker: fakeChecker{err: errors.New("timeout")}},
		Component{Name: "kafka"},
	)

	w := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/ready", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not ready", resp.Status)
	assert.Equal(t, "healthy", resp.Components["database"])
	assert.Equal(t, "unhealthy: timeout", resp.Components["redis"])
	assert.Equal(t, "not configured", resp.Components["kafka"])
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event:"):
			ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			ev.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

func TestSeatStreamHandler_SnapshotThenUpdates(t *testing.T) {
	s := newTestServer(t)
	s.locks.seatMap = []domain.LockResult{
		domain.NewLockResult("st-1", "A1", domain.SeatStatusAvailable, 0),
		domain.NewLockResult("st-1", "A2", domain.SeatStatusLocked, 90*time.Second),
	}

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/showtimes/st-1/seats/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	r := bufio.NewReader(resp.Body)
	ev := readEvent(t, r)
	require.Equal(t, StreamEventSnapshot, ev.name)
	var snapshot []notifier.SeatStatusMessage
	require.NoError(t, json.Unmarshal([]byte(ev.data), &snapshot))
	require.Len(t, snapshot, 2)
	assert.Equal(t, int64(90), snapshot[1].TTL)

	s.hub.Broadcast(context.Background(),
		notifier.SeatStatusMessage{ShowtimeID: "st-2", SeatID: "Z9", Status: domain.SeatStatusLocked},
		notifier.SeatStatusMessage{ShowtimeID: "st-1", SeatID: "A1", Status: domain.SeatStatusLocked, TTL: 300},
	)

	ev = readEvent(t, r)
	require.Equal(t, StreamEventSeat, ev.name)
	var msg notifier.SeatStatusMessage
	require.NoError(t, json.Unmarshal([]byte(ev.data), &msg))
	assert.Equal(t, "A1", msg.SeatID)
	assert.Equal(t, int64(300), msg.TTL)

	cancel()
	assert.Eventually(t, func() bool { return s.hub.SubscriberCount("st-1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestSeatStreamHandler_UnknownShowtime(t *testing.T) {
	s := newTestServer(t)
	s.locks.err = domain.ErrShowtimeNotFound

	w := s.do(http.MethodGet, "/api/v1/showtimes/nope/seats/stream", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Zero(t, s.hub.SubscriberCount("nope"))
}
