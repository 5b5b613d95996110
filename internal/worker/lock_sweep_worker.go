package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/internal/service"
	"github.com/flourineV/cinemas-backend-sub000/pkg/logger"
	"go.uber.org/zap"
)

// StaleLockSource lists seats that have been LOCKED for a while
type StaleLockSource interface {
	ListStaleLocked(ctx context.Context, olderThan time.Time, limit int) ([]domain.SeatKey, error)
}

// LockSweepWorkerConfig contains configuration for the lock sweep worker
type LockSweepWorkerConfig struct {
	// ScanInterval is the interval between sweeps
	ScanInterval time.Duration
	// BatchSize is the number of seats checked per sweep
	BatchSize int
	// MinLockAge skips seats locked more recently; no lock can expire sooner
	MinLockAge time.Duration
	// Trigger labels reconciliations started by this worker
	Trigger string
}

// DefaultLockSweepWorkerConfig returns default configuration
func DefaultLockSweepWorkerConfig() *LockSweepWorkerConfig {
	return &LockSweepWorkerConfig{
		ScanInterval: 30 * time.Second,
		BatchSize:    200,
		MinLockAge:   5 * time.Minute,
		Trigger:      service.TriggerSweep,
	}
}

// LockSweepWorker finds LOCKED seat rows whose lock key is gone. It covers
// missed keyspace events and deployments where they are unavailable.
type LockSweepWorker struct {
	seats      StaleLockSource
	reconciler ExpiredLockReconciler
	config     *LockSweepWorkerConfig
	log        *logger.Logger
	now        func() time.Time
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool

	// Stats
	totalEvents     int64
	totalReconciled int64
}

// NewLockSweepWorker creates a new lock sweep worker
func NewLockSweepWorker(seats StaleLockSource, reconciler ExpiredLockReconciler, config *LockSweepWorkerConfig) *LockSweepWorker {
	def := DefaultLockSweepWorkerConfig()
	if config == nil {
		config = def
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = def.ScanInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MinLockAge < 0 {
		config.MinLockAge = 0
	}
	if config.Trigger == "" {
		config.Trigger = def.Trigger
	}

	return &LockSweepWorker{
		seats:      seats,
		reconciler: reconciler,
		config:     config,
		log:        logger.Get(),
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// Start starts the sweep worker
func (w *LockSweepWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("lock sweep worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting lock sweep worker", zap.Duration("interval", w.config.ScanInterval))

	w.wg.Add(1)
	go w.scan(ctx)

	return nil
}

// Stop stops the sweep worker
func (w *LockSweepWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Lock sweep worker stopped")
}

func (w *LockSweepWorker) scan(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of seats put back on sale
func (w *LockSweepWorker) Sweep(ctx context.Context) int {
	now := w.now()
	stale, err := w.seats.ListStaleLocked(ctx, now.Add(-w.config.MinLockAge), w.config.BatchSize)
	if err != nil {
		w.log.Error("Failed to list stale locked seats", zap.Error(err))
		return 0
	}

	reverted := 0
	for _, key := range stale {
		if ctx.Err() != nil {
			break
		}
		ok, err := w.reconciler.ReconcileExpiredLock(ctx, key.ShowtimeID, key.SeatID, w.config.Trigger)
		if err != nil {
			w.log.Error("Failed to reconcile stale lock",
				zap.String("showtime_id", key.ShowtimeID),
				zap.String("seat_id", key.SeatID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			reverted++
		}
	}

	w.mu.Lock()
	w.totalEvents += int64(len(stale))
	w.totalReconciled += int64(reverted)
	w.mu.Unlock()

	if reverted > 0 {
		w.log.Info("Lock sweep released seats", zap.Int("checked", len(stale)), zap.Int("released", reverted))
	}
	return reverted
}

// GetStats returns worker statistics
func (w *LockSweepWorker) GetStats() *LockExpiryStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &LockExpiryStats{
		IsRunning:       w.running,
		TotalEvents:     w.totalEvents,
		TotalReconciled: w.totalReconciled,
	}
}
