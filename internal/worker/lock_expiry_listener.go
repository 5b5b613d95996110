// Package worker holds the background loops of the booking service: lock
// expiry reconciliation and the outbox relay.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/internal/service"
	"github.com/flourineV/cinemas-backend-sub000/pkg/logger"
	pkgredis "github.com/flourineV/cinemas-backend-sub000/pkg/redis"
	"go.uber.org/zap"
)

// ExpiredLockReconciler is implemented by the seat lock service
type ExpiredLockReconciler interface {
	ReconcileExpiredLock(ctx context.Context, showtimeID, seatID, trigger string) (bool, error)
}

// LockExpiryListenerConfig contains configuration for the lock expiry listener
type LockExpiryListenerConfig struct {
	// ConfigureKeyspaceEvents turns on expired-key notifications at start.
	// Leave off where the Redis deployment forbids CONFIG SET.
	ConfigureKeyspaceEvents bool
	// Trigger labels reconciliations started by this listener
	Trigger string
}

// LockExpiryListener reconciles seat locks as Redis expires them
type LockExpiryListener struct {
	client     *pkgredis.Client
	reconciler ExpiredLockReconciler
	config     *LockExpiryListenerConfig
	log        *logger.Logger
	stopCh     chan struct{}
	ready      chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool

	// Stats
	totalEvents     int64
	totalReconciled int64
}

// NewLockExpiryListener creates a new lock expiry listener
func NewLockExpiryListener(client *pkgredis.Client, reconciler ExpiredLockReconciler, config *LockExpiryListenerConfig) *LockExpiryListener {
	if config == nil {
		config = &LockExpiryListenerConfig{}
	}
	if config.Trigger == "" {
		config.Trigger = service.TriggerKeyspace
	}
	return &LockExpiryListener{
		client:     client,
		reconciler: reconciler,
		config:     config,
		log:        logger.Get(),
		stopCh:     make(chan struct{}),
		ready:      make(chan struct{}),
	}
}

// Start subscribes to expired-key events. It returns once the subscription is live.
func (l *LockExpiryListener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("lock expiry listener already running")
	}
	l.running = true
	l.mu.Unlock()

	if l.config.ConfigureKeyspaceEvents {
		if err := l.client.EnableKeyspaceEvents(ctx, "Ex"); err != nil {
			l.log.Warn("Could not enable keyspace events, relying on existing server config", zap.Error(err))
		}
	}

	channel := pkgredis.ExpiredEventsChannel(l.client.DB())
	pubsub := l.client.PSubscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	close(l.ready)
	l.log.Info("Lock expiry listener subscribed", zap.String("channel", channel))

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case msg, ok := <-ch:
				if !ok {
					l.log.Warn("Expired key subscription closed")
					return
				}
				l.handleExpiredKey(ctx, msg.Payload)
			}
		}
	}()

	return nil
}

// Ready is closed once the subscription is live
func (l *LockExpiryListener) Ready() <-chan struct{} {
	return l.ready
}

// Stop stops the listener
func (l *LockExpiryListener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.mu.Unlock()

	close(l.stopCh)
	l.wg.Wait()
	l.log.Info("Lock expiry listener stopped")
}

func (l *LockExpiryListener) handleExpiredKey(ctx context.Context, key string) {
	showtimeID, seatID, ok := domain.ParseSeatLockKey(key)
	if !ok {
		return
	}

	l.mu.Lock()
	l.totalEvents++
	l.mu.Unlock()

	reverted, err := l.reconciler.ReconcileExpiredLock(ctx, showtimeID, seatID, l.config.Trigger)
	if err != nil {
		// The sweep picks the seat up later
		l.log.Error("Failed to reconcile expired lock",
			zap.String("showtime_id", showtimeID),
			zap.String("seat_id", seatID),
			zap.Error(err),
		)
		return
	}
	if reverted {
		l.mu.Lock()
		l.totalReconciled++
		l.mu.Unlock()
	}
}

// GetStats returns listener statistics
func (l *LockExpiryListener) GetStats() *LockExpiryStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return &LockExpiryStats{
		IsRunning:       l.running,
		TotalEvents:     l.totalEvents,
		TotalReconciled: l.totalReconciled,
	}
}

// LockExpiryStats contains statistics of a reconciliation trigger
type LockExpiryStats struct {
	IsRunning       bool  `json:"is_running"`
	TotalEvents     int64 `json:"total_events"`
	TotalReconciled int64 `json:"total_reconciled"`
}
