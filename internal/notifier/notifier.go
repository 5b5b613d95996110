// Package notifier pushes seat status changes to connected clients.
//
// Every instance publishes changes on a Redis channel per showtime and every
// instance runs a Hub that fans the channel out to its local SSE streams, so a
// client sees changes made through any instance. Delivery is best effort.
package notifier

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/pkg/logger"
	pkgredis "github.com/flourineV/cinemas-backend-sub000/pkg/redis"
	"go.uber.org/zap"
)

const channelPrefix = "seat-status:"

// SeatStatusMessage is one seat change as seen by clients
type SeatStatusMessage struct {
	ShowtimeID string            `json:"showtime_id"`
	SeatID     string            `json:"seat_id"`
	Status     domain.SeatStatus `json:"status"`
	TTL        int64             `json:"ttl"`
}

// FromLockResult converts a lock manager result into a message
func FromLockResult(r domain.LockResult) SeatStatusMessage {
	return SeatStatusMessage{
		ShowtimeID: r.ShowtimeID,
		SeatID:     r.SeatID,
		Status:     r.Status,
		TTL:        r.TTLSeconds,
	}
}

// Broadcaster announces seat changes. Failures are logged, never returned:
// a missed update must not undo a lock that was already taken.
type Broadcaster interface {
	Broadcast(ctx context.Context, msgs ...SeatStatusMessage)
}

// Channel returns the Redis channel of a showtime
func Channel(showtimeID string) string {
	return channelPrefix + showtimeID
}

// RedisBroadcaster publishes seat changes on Redis Pub/Sub
type RedisBroadcaster struct {
	client *pkgredis.Client
	log    *logger.Logger
}

// NewRedisBroadcaster creates a new RedisBroadcaster
func NewRedisBroadcaster(client *pkgredis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{
		client: client,
		log:    logger.Get(),
	}
}

// Broadcast publishes every message in one pipeline
func (b *RedisBroadcaster) Broadcast(ctx context.Context, msgs ...SeatStatusMessage) {
	if len(msgs) == 0 {
		return
	}

	pipe := b.client.Pipeline()
	for _, msg := range msgs {
		payload, err := json.Marshal(msg)
		if err != nil {
			b.log.Warn("Failed to encode seat status", zap.String("seat_id", msg.SeatID), zap.Error(err))
			continue
		}
		pipe.Publish(ctx, Channel(msg.ShowtimeID), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.WarnContext(ctx, "Failed to broadcast seat status",
			zap.String("showtime_id", msgs[0].ShowtimeID),
			zap.Int("count", len(msgs)),
			zap.Error(err),
		)
	}
}

func showtimeFromChannel(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, channelPrefix)
	return id, ok && id != ""
}
