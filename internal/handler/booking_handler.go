package handler

import (
	"context"
	"errors"
	"io"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/internal/saga"
	"github.com/flourineV/cinemas-backend-sub000/pkg/response"
	"github.com/flourineV/cinemas-backend-sub000/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// BookingService is implemented by *saga.Orchestrator
type BookingService interface {
	CreateBooking(ctx context.Context, req *saga.CreateBookingRequest) (*domain.Booking, error)
	GetBooking(ctx context.Context, bookingID string, owner domain.Owner) (*domain.Booking, error)
	FinalizeBooking(ctx context.Context, bookingID string, owner domain.Owner, req *saga.FinalizeBookingRequest) (*domain.Booking, error)
	CancelBooking(ctx context.Context, bookingID, userID string) (*domain.Booking, error)
}

// BookingHandler handles booking HTTP requests
type BookingHandler struct {
	bookings BookingService
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(bookings BookingService) *BookingHandler {
	return &BookingHandler{bookings: bookings}
}

// CreateBooking handles POST /bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.create")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	owner, err := requestOwner(c)
	if err != nil {
		span.SetStatus(codes.Error, "owner required")
		handleError(c, err)
		return
	}

	var req saga.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		response.BadRequest(c, err.Error())
		return
	}
	if owner.IsUser() {
		req.UserID = owner.ID
	} else {
		req.GuestSessionID = owner.ID
	}

	span.SetAttributes(
		attribute.String("showtime_id", req.ShowtimeID),
		attribute.Int("seat_count", len(req.Seats)),
	)

	b, err := h.bookings.CreateBooking(ctx, &req)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("booking_id", b.ID))
	span.SetStatus(codes.Ok, "")
	response.Created(c, b)
}

// GetBooking handles GET /bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.get")
	defer span.End()

	owner, err := requestOwner(c)
	if err != nil {
		handleError(c, err)
		return
	}

	bookingID := c.Param("id")
	span.SetAttributes(attribute.String("booking_id", bookingID))

	b, err := h.bookings.GetBooking(ctx, bookingID, owner)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		handleError(c, err)
		return
	}
	response.Success(c, b)
}

// FinalizeBooking handles POST /bookings/:id/finalize
func (h *BookingHandler) FinalizeBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.finalize")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	owner, err := requestOwner(c)
	if err != nil {
		span.SetStatus(codes.Error, "owner required")
		handleError(c, err)
		return
	}

	// Every field is optional, so an empty body is a valid request
	var req saga.FinalizeBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		span.SetStatus(codes.Error, "invalid request")
		response.BadRequest(c, err.Error())
		return
	}

	bookingID := c.Param("id")
	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.Int("fnb_items", len(req.FnbItems)),
		attribute.Bool("promotion_code", req.PromotionCode != ""),
		attribute.Bool("refund_voucher", req.RefundVoucherCode != ""),
	)

	b, err := h.bookings.FinalizeBooking(ctx, bookingID, owner, &req)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, b)
}

// CancelBooking handles POST /bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	owner, err := requestOwner(c)
	if err != nil {
		span.SetStatus(codes.Error, "owner required")
		handleError(c, err)
		return
	}
	if !owner.IsUser() {
		handleError(c, domain.ErrGuestCannotCancel)
		return
	}

	bookingID := c.Param("id")
	span.SetAttributes(attribute.String("booking_id", bookingID))

	b, err := h.bookings.CancelBooking(ctx, bookingID, owner.ID)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, b)
}
