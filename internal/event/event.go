// Package event defines the versioned events exchanged on the Kafka event channel.
//
// Every event kind has its own topic and a fixed payload struct. Consumers decode
// the envelope and switch on the concrete type; unknown kinds and versions are
// rejected rather than passed through as open maps.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies an event type. The kind doubles as its topic name.
type Kind string

const (
	KindBookingCreated        Kind = "booking.created"
	KindBookingSeatMapped     Kind = "booking.seat-mapped"
	KindBookingFinalized      Kind = "booking.finalized"
	KindBookingStatusUpdated  Kind = "booking.status-updated"
	KindBookingRefunded       Kind = "booking.refunded"
	KindBookingTicketReady    Kind = "booking.ticket-ready"
	KindSeatUnlocked          Kind = "seat.unlocked"
	KindPaymentBookingSuccess Kind = "payment.booking-success"
	KindPaymentBookingFailed  Kind = "payment.booking-failed"
	KindShowtimeSuspended     Kind = "showtime.suspended"
)

// SchemaVersion is the payload version written by this service
const SchemaVersion = 1

var (
	ErrUnknownKind        = errors.New("unknown event kind")
	ErrUnsupportedVersion = errors.New("unsupported event version")
)

// Topic returns the Kafka topic of kind
func (k Kind) Topic() string {
	return string(k)
}

// Event is implemented by every payload struct
type Event interface {
	Kind() Kind
	// Key is the partition key: the booking id, or the showtime id when no booking is involved
	Key() string
}

// Envelope wraps a payload with its identity and schema version
type Envelope struct {
	EventID    string          `json:"event_id"`
	Kind       Kind            `json:"kind"`
	Version    int             `json:"version"`
	OccurredAt time.Time       `json:"occurred_at"`
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope wraps e with a fresh event id
func NewEnvelope(e Event) (*Envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", e.Kind(), err)
	}
	return &Envelope{
		EventID:    uuid.New().String(),
		Kind:       e.Kind(),
		Version:    SchemaVersion,
		OccurredAt: time.Now().UTC(),
		Key:        e.Key(),
		Payload:    payload,
	}, nil
}

// Decode parses an envelope and its typed payload
func Decode(data []byte) (*Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.Version != SchemaVersion {
		return &env, nil, fmt.Errorf("%w: %s v%d", ErrUnsupportedVersion, env.Kind, env.Version)
	}

	var e Event
	switch env.Kind {
	case KindBookingCreated:
		e = &BookingCreated{}
	case KindBookingSeatMapped:
		e = &BookingSeatMapped{}
	case KindBookingFinalized:
		e = &BookingFinalized{}
	case KindBookingStatusUpdated:
		e = &BookingStatusUpdated{}
	case KindBookingRefunded:
		e = &BookingRefunded{}
	case KindBookingTicketReady:
		e = &BookingTicketReady{}
	case KindSeatUnlocked:
		e = &SeatUnlocked{}
	case KindPaymentBookingSuccess:
		e = &PaymentBookingSuccess{}
	case KindPaymentBookingFailed:
		e = &PaymentBookingFailed{}
	case KindShowtimeSuspended:
		e = &ShowtimeSuspended{}
	default:
		return &env, nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}

	if err := json.Unmarshal(env.Payload, e); err != nil {
		return &env, nil, fmt.Errorf("failed to unmarshal %s payload: %w", env.Kind, err)
	}
	return &env, e, nil
}

// ToOutbox builds the outbox row that relays e after the surrounding transaction commits
func ToOutbox(e Event) (*domain.OutboxMessage, error) {
	env, err := NewEnvelope(e)
	if err != nil {
		return nil, err
	}
	msg, err := domain.NewOutboxMessage(aggregateType(e), e.Key(), string(e.Kind()), e.Kind().Topic(), env)
	if err != nil {
		return nil, err
	}
	msg.ID = env.EventID
	return msg, nil
}

// ToOutboxAll converts events in order
func ToOutboxAll(events ...Event) ([]*domain.OutboxMessage, error) {
	msgs := make([]*domain.OutboxMessage, 0, len(events))
	for _, e := range events {
		msg, err := ToOutbox(e)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func aggregateType(e Event) string {
	switch v := e.(type) {
	case *ShowtimeSuspended:
		return "showtime"
	case *SeatUnlocked:
		if v.BookingID == "" {
			return "showtime"
		}
	}
	return "booking"
}

// BookingCreated is emitted once a booking and its seats are persisted
type BookingCreated struct {
	BookingID      string          `json:"booking_id"`
	ShowtimeID     string          `json:"showtime_id"`
	UserID         string          `json:"user_id,omitempty"`
	GuestSessionID string          `json:"guest_session_id,omitempty"`
	SeatIDs        []string        `json:"seat_ids"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (e *BookingCreated) Kind() Kind  { return KindBookingCreated }
func (e *BookingCreated) Key() string { return e.BookingID }

// BookingSeatMapped tells the seat side which locks now belong to a booking
type BookingSeatMapped struct {
	BookingID  string   `json:"booking_id"`
	ShowtimeID string   `json:"showtime_id"`
	SeatIDs    []string `json:"seat_ids"`
}

func (e *BookingSeatMapped) Kind() Kind  { return KindBookingSeatMapped }
func (e *BookingSeatMapped) Key() string { return e.BookingID }

// BookingFinalized is emitted when a booking is priced and awaits payment
type BookingFinalized struct {
	BookingID       string          `json:"booking_id"`
	ShowtimeID      string          `json:"showtime_id"`
	UserID          string          `json:"user_id,omitempty"`
	GuestSessionID  string          `json:"guest_session_id,omitempty"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	FinalPrice      decimal.Decimal `json:"final_price"`
	DiscountSource  string          `json:"discount_source,omitempty"`
	PaymentDeadline time.Time       `json:"payment_deadline"`
}

func (e *BookingFinalized) Kind() Kind  { return KindBookingFinalized }
func (e *BookingFinalized) Key() string { return e.BookingID }

// BookingStatusUpdated is emitted for every persisted status transition
type BookingStatusUpdated struct {
	BookingID      string               `json:"booking_id"`
	ShowtimeID     string               `json:"showtime_id"`
	UserID         string               `json:"user_id,omitempty"`
	GuestSessionID string               `json:"guest_session_id,omitempty"`
	SeatIDs        []string             `json:"seat_ids"`
	OldStatus      domain.BookingStatus `json:"old_status"`
	NewStatus      domain.BookingStatus `json:"new_status"`
}

// Owner returns the owner of the booking whose status changed
func (e *BookingStatusUpdated) Owner() domain.Owner {
	if e.UserID != "" {
		return domain.UserOwner(e.UserID)
	}
	return domain.GuestOwner(e.GuestSessionID)
}

func (e *BookingStatusUpdated) Kind() Kind  { return KindBookingStatusUpdated }
func (e *BookingStatusUpdated) Key() string { return e.BookingID }

// BookingRefunded is emitted when a confirmed booking is refunded
type BookingRefunded struct {
	BookingID      string              `json:"booking_id"`
	ShowtimeID     string              `json:"showtime_id"`
	UserID         string              `json:"user_id,omitempty"`
	GuestSessionID string              `json:"guest_session_id,omitempty"`
	Amount         decimal.Decimal     `json:"amount"`
	RefundMethod   domain.RefundMethod `json:"refund_method"`
	RefundReason   domain.RefundReason `json:"refund_reason"`
	VoucherCode    string              `json:"voucher_code,omitempty"`
	RefundedAt     time.Time           `json:"refunded_at"`
}

func (e *BookingRefunded) Kind() Kind  { return KindBookingRefunded }
func (e *BookingRefunded) Key() string { return e.BookingID }

// BookingTicketReady asks the notification side to deliver the ticket
type BookingTicketReady struct {
	BookingID      string          `json:"booking_id"`
	ShowtimeID     string          `json:"showtime_id"`
	UserID         string          `json:"user_id,omitempty"`
	GuestSessionID string          `json:"guest_session_id,omitempty"`
	MovieTitle     string          `json:"movie_title"`
	TheaterName    string          `json:"theater_name"`
	RoomName       string          `json:"room_name"`
	ShowtimeStart  time.Time       `json:"showtime_start"`
	SeatIDs        []string        `json:"seat_ids"`
	FinalPrice     decimal.Decimal `json:"final_price"`
}

func (e *BookingTicketReady) Kind() Kind  { return KindBookingTicketReady }
func (e *BookingTicketReady) Key() string { return e.BookingID }

// SeatUnlocked is emitted when held seats are released; BookingID is empty
// when the seats were never attached to a booking
type SeatUnlocked struct {
	BookingID  string                  `json:"booking_id,omitempty"`
	ShowtimeID string                  `json:"showtime_id"`
	SeatIDs    []string                `json:"seat_ids"`
	Reason     domain.SeatUnlockReason `json:"reason"`
}

func (e *SeatUnlocked) Kind() Kind { return KindSeatUnlocked }

func (e *SeatUnlocked) Key() string {
	if e.BookingID != "" {
		return e.BookingID
	}
	return e.ShowtimeID
}

// PaymentBookingSuccess is published by the payment service
type PaymentBookingSuccess struct {
	BookingID     string          `json:"booking_id"`
	PaymentID     string          `json:"payment_id"`
	PaymentMethod string          `json:"payment_method"`
	Amount        decimal.Decimal `json:"amount"`
}

func (e *PaymentBookingSuccess) Kind() Kind  { return KindPaymentBookingSuccess }
func (e *PaymentBookingSuccess) Key() string { return e.BookingID }

// PaymentBookingFailed is published by the payment service
type PaymentBookingFailed struct {
	BookingID string `json:"booking_id"`
	PaymentID string `json:"payment_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (e *PaymentBookingFailed) Kind() Kind  { return KindPaymentBookingFailed }
func (e *PaymentBookingFailed) Key() string { return e.BookingID }

// ShowtimeSuspended is published by the showtime service. An empty
// AffectedBookingIDs means every booking of the showtime is affected.
type ShowtimeSuspended struct {
	ShowtimeID         string   `json:"showtime_id"`
	AffectedBookingIDs []string `json:"affected_booking_ids,omitempty"`
	Reason             string   `json:"reason,omitempty"`
}

func (e *ShowtimeSuspended) Kind() Kind  { return KindShowtimeSuspended }
func (e *ShowtimeSuspended) Key() string { return e.ShowtimeID }

// NewBookingCreated builds the creation event of b
func NewBookingCreated(b *domain.Booking) *BookingCreated {
	return &BookingCreated{
		BookingID:      b.ID,
		ShowtimeID:     b.ShowtimeID,
		UserID:         b.UserID,
		GuestSessionID: b.GuestSessionID,
		SeatIDs:        b.SeatIDs(),
		TotalPrice:     b.TotalPrice,
		CreatedAt:      b.CreatedAt,
	}
}

// NewBookingSeatMapped builds the seat mapping event of b
func NewBookingSeatMapped(b *domain.Booking) *BookingSeatMapped {
	return &BookingSeatMapped{BookingID: b.ID, ShowtimeID: b.ShowtimeID, SeatIDs: b.SeatIDs()}
}

// NewBookingFinalized builds the finalize event of b
func NewBookingFinalized(b *domain.Booking, deadline time.Time) *BookingFinalized {
	e := &BookingFinalized{
		BookingID:       b.ID,
		ShowtimeID:      b.ShowtimeID,
		UserID:          b.UserID,
		GuestSessionID:  b.GuestSessionID,
		TotalPrice:      b.TotalPrice,
		DiscountAmount:  b.DiscountAmount,
		FinalPrice:      b.FinalPrice,
		PaymentDeadline: deadline,
	}
	if b.Promotion != nil {
		e.DiscountSource = string(b.Promotion.Source)
	}
	return e
}

// NewBookingStatusUpdated builds the transition event of b
func NewBookingStatusUpdated(b *domain.Booking, from domain.BookingStatus) *BookingStatusUpdated {
	return &BookingStatusUpdated{
		BookingID:      b.ID,
		ShowtimeID:     b.ShowtimeID,
		UserID:         b.UserID,
		GuestSessionID: b.GuestSessionID,
		SeatIDs:        b.SeatIDs(),
		OldStatus:      from,
		NewStatus:      b.Status,
	}
}

// NewBookingRefunded builds the refund event of b
func NewBookingRefunded(b *domain.Booking, voucherCode string) *BookingRefunded {
	e := &BookingRefunded{
		BookingID:      b.ID,
		ShowtimeID:     b.ShowtimeID,
		UserID:         b.UserID,
		GuestSessionID: b.GuestSessionID,
		Amount:         b.FinalPrice,
		RefundMethod:   b.RefundMethod,
		RefundReason:   b.RefundReason,
		VoucherCode:    voucherCode,
	}
	if b.RefundedAt != nil {
		e.RefundedAt = *b.RefundedAt
	}
	return e
}

// NewBookingTicketReady builds the ticket event of a confirmed booking
func NewBookingTicketReady(b *domain.Booking) *BookingTicketReady {
	return &BookingTicketReady{
		BookingID:      b.ID,
		ShowtimeID:     b.ShowtimeID,
		UserID:         b.UserID,
		GuestSessionID: b.GuestSessionID,
		MovieTitle:     b.MovieTitle,
		TheaterName:    b.TheaterName,
		RoomName:       b.RoomName,
		ShowtimeStart:  b.ShowtimeStart,
		SeatIDs:        b.SeatIDs(),
		FinalPrice:     b.FinalPrice,
	}
}
