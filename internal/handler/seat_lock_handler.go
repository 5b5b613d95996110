// Package handler exposes the seat lock manager and the booking saga over HTTP.
package handler

import (
	"context"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/pkg/middleware"
	"github.com/flourineV/cinemas-backend-sub000/pkg/response"
	"github.com/flourineV/cinemas-backend-sub000/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SeatLocker is the part of the seat lock service reachable over HTTP
type SeatLocker interface {
	LockSeats(ctx context.Context, showtimeID string, seatIDs []string, owner domain.Owner) ([]domain.LockResult, error)
	UnlockSeats(ctx context.Context, showtimeID string, seatIDs []string, owner domain.Owner) ([]domain.LockResult, error)
	ExtendForPayment(ctx context.Context, showtimeID string, seatIDs []string, owner domain.Owner) ([]domain.LockResult, error)
}

// SeatLockRequest is the body of every seat lock endpoint
type SeatLockRequest struct {
	ShowtimeID string   `json:"showtime_id" binding:"required"`
	SeatIDs    []string `json:"seat_ids" binding:"required,min=1"`
}

// SeatLockResponse lists the state of each requested seat
type SeatLockResponse struct {
	ShowtimeID string              `json:"showtime_id"`
	Seats      []domain.LockResult `json:"seats"`
}

// SeatLockHandler handles seat lock HTTP requests
type SeatLockHandler struct {
	locks SeatLocker
}

// NewSeatLockHandler creates a new seat lock handler
func NewSeatLockHandler(locks SeatLocker) *SeatLockHandler {
	return &SeatLockHandler{locks: locks}
}

// requestOwner resolves the caller set by middleware.OwnerAuth and tags the active span
func requestOwner(c *gin.Context) (domain.Owner, error) {
	userID, _ := middleware.GetUserID(c)
	guestID, _ := middleware.GetGuestSessionID(c)
	telemetry.SetOwner(trace.SpanFromContext(c.Request.Context()), userID, guestID)
	return domain.ResolveOwner(userID, guestID)
}

type lockOp func(ctx context.Context, showtimeID string, seatIDs []string, owner domain.Owner) ([]domain.LockResult, error)

func (h *SeatLockHandler) handle(c *gin.Context, spanName string, op lockOp, created bool) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), spanName)
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	owner, err := requestOwner(c)
	if err != nil {
		span.SetStatus(codes.Error, "owner required")
		handleError(c, err)
		return
	}

	var req SeatLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		response.BadRequest(c, err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("showtime_id", req.ShowtimeID),
		attribute.Int("seat_count", len(req.SeatIDs)),
		attribute.String("owner_kind", string(owner.Kind)),
	)

	results, err := op(ctx, req.ShowtimeID, req.SeatIDs, owner)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	resp := SeatLockResponse{ShowtimeID: req.ShowtimeID, Seats: results}
	if created {
		response.Created(c, resp)
		return
	}
	response.Success(c, resp)
}

// Lock handles POST /seat-locks
func (h *SeatLockHandler) Lock(c *gin.Context) {
	h.handle(c, "handler.seat_lock.lock", h.locks.LockSeats, true)
}

// Unlock handles DELETE /seat-locks
func (h *SeatLockHandler) Unlock(c *gin.Context) {
	h.handle(c, "handler.seat_lock.unlock", h.locks.UnlockSeats, false)
}

// Extend handles POST /seat-locks/extend
func (h *SeatLockHandler) Extend(c *gin.Context) {
	h.handle(c, "handler.seat_lock.extend", h.locks.ExtendForPayment, false)
}
