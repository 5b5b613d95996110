package handler

import (
	"context"
	"io"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/internal/notifier"
	"github.com/flourineV/cinemas-backend-sub000/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SSE event names
const (
	StreamEventSnapshot = "snapshot"
	StreamEventSeat     = "seat"
	StreamEventPing     = "ping"
)

// SeatMapReader returns the live seat map of a showtime
type SeatMapReader interface {
	GetSeatMap(ctx context.Context, showtimeID string) ([]domain.LockResult, error)
}

// SeatSubscriber is satisfied by *notifier.Hub
type SeatSubscriber interface {
	Subscribe(showtimeID string) *notifier.Subscription
}

// SeatStreamHandler streams seat status changes as server-sent events
type SeatStreamHandler struct {
	seats     SeatMapReader
	hub       SeatSubscriber
	heartbeat time.Duration
	log       *logger.Logger
}

// NewSeatStreamHandler creates a new seat stream handler
func NewSeatStreamHandler(seats SeatMapReader, hub SeatSubscriber, heartbeat time.Duration) *SeatStreamHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &SeatStreamHandler{
		seats:     seats,
		hub:       hub,
		heartbeat: heartbeat,
		log:       logger.Get(),
	}
}

// Stream handles GET /showtimes/:showtimeId/seats/stream. The first event is
// the full seat map; each later event is one seat change.
func (h *SeatStreamHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	showtimeID := c.Param("showtimeId")

	// Subscribe before reading the snapshot so no change falls in between
	sub := h.hub.Subscribe(showtimeID)
	defer sub.Close()

	seatMap, err := h.seats.GetSeatMap(ctx, showtimeID)
	if err != nil {
		handleError(c, err)
		return
	}
	snapshot := make([]notifier.SeatStatusMessage, 0, len(seatMap))
	for _, r := range seatMap {
		snapshot = append(snapshot, notifier.FromLockResult(r))
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(StreamEventSnapshot, snapshot)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(StreamEventSeat, msg)
			return true
		case <-heartbeat.C:
			c.SSEvent(StreamEventPing, time.Now().Unix())
			return true
		}
	})

	h.log.Debug("Seat stream closed", zap.String("showtime_id", showtimeID))
}
