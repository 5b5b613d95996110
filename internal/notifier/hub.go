package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/flourineV/cinemas-backend-sub000/internal/metrics"
	"github.com/flourineV/cinemas-backend-sub000/pkg/logger"
	pkgredis "github.com/flourineV/cinemas-backend-sub000/pkg/redis"
	"go.uber.org/zap"
)

// DefaultBufferSize is the per-subscriber queue length
const DefaultBufferSize = 64

// Subscription receives the seat changes of one showtime
type Subscription struct {
	ShowtimeID string
	C          <-chan SeatStatusMessage

	ch   chan SeatStatusMessage
	hub  *Hub
	once sync.Once
}

// Close detaches the subscription and closes C
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub fans seat changes out to local subscribers
type Hub struct {
	client     *pkgredis.Client
	metrics    *metrics.Metrics
	log        *logger.Logger
	bufferSize int

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}

	ready     chan struct{}
	readyOnce sync.Once
}

// NewHub creates a Hub. client may be nil for a single-instance hub fed only
// through Broadcast.
func NewHub(client *pkgredis.Client, m *metrics.Metrics, bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		client:     client,
		metrics:    m,
		log:        logger.Get(),
		bufferSize: bufferSize,
		subs:       make(map[string]map[*Subscription]struct{}),
		ready:      make(chan struct{}),
	}
}

// Subscribe registers a subscriber for a showtime
func (h *Hub) Subscribe(showtimeID string) *Subscription {
	ch := make(chan SeatStatusMessage, h.bufferSize)
	sub := &Subscription{ShowtimeID: showtimeID, C: ch, ch: ch, hub: h}

	h.mu.Lock()
	if h.subs[showtimeID] == nil {
		h.subs[showtimeID] = make(map[*Subscription]struct{})
	}
	h.subs[showtimeID][sub] = struct{}{}
	h.mu.Unlock()

	h.metrics.StreamConnected(1)
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	if set, ok := h.subs[sub.ShowtimeID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.ShowtimeID)
		}
	}
	close(sub.ch)
	h.mu.Unlock()

	h.metrics.StreamConnected(-1)
}

// SubscriberCount returns the number of local subscribers of a showtime
func (h *Hub) SubscriberCount(showtimeID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[showtimeID])
}

// Broadcast delivers messages to local subscribers only
func (h *Hub) Broadcast(_ context.Context, msgs ...SeatStatusMessage) {
	for _, msg := range msgs {
		h.dispatch(msg)
	}
}

// dispatch never blocks: a full subscriber queue drops the message
func (h *Hub) dispatch(msg SeatStatusMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[msg.ShowtimeID] {
		select {
		case sub.ch <- msg:
		default:
			h.log.Debug("Dropping seat status for slow subscriber",
				zap.String("showtime_id", msg.ShowtimeID),
				zap.String("seat_id", msg.SeatID),
			)
		}
	}
}

// Ready is closed once Run has an active Redis subscription
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Run relays every seat-status channel to local subscribers until ctx is done
func (h *Hub) Run(ctx context.Context) error {
	if h.client == nil {
		return fmt.Errorf("hub has no redis client")
	}

	pubsub := h.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to seat status: %w", err)
	}
	h.readyOnce.Do(func() { close(h.ready) })
	h.log.Info("Seat status hub subscribed", zap.String("pattern", channelPrefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			h.log.Info("Seat status hub stopped")
			return nil
		case m, ok := <-ch:
			if !ok {
				return fmt.Errorf("seat status subscription closed")
			}
			showtimeID, valid := showtimeFromChannel(m.Channel)
			if !valid {
				continue
			}
			var msg SeatStatusMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				h.log.Warn("Invalid seat status payload", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			msg.ShowtimeID = showtimeID
			h.dispatch(msg)
		}
	}
}
