// Package retry runs operations with exponential backoff and dead-letters
// Kafka messages whose handling keeps failing.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrContextCanceled    = errors.New("context canceled during retry")
)

// Config contains retry configuration
type Config struct {
	// MaxRetries is the number of retries after the initial attempt
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// JitterFactor of 0.1 spreads each wait over ±10%
	JitterFactor float64
	// OnRetry runs before each wait, with the 1-based number of the failed attempt
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultConfig waits 200ms, 400ms, 800ms, capped at 5s
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
}

// Backoff returns the wait after the failed attempt n (0-based)
func (c *Config) Backoff(n int) time.Duration {
	wait := float64(c.InitialInterval) * math.Pow(c.Multiplier, float64(n))
	if c.JitterFactor > 0 {
		wait += (rand.Float64()*2 - 1) * wait * c.JitterFactor
	}
	wait = math.Min(wait, float64(c.MaxInterval))
	if wait <= 0 {
		return c.InitialInterval
	}
	return time.Duration(wait)
}

// Operation is the function to be retried
type Operation func(ctx context.Context) error

// PermanentError stops the retry loop
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// Result describes how a retried operation ended
type Result struct {
	// Err is nil on success, the unwrapped error for a permanent failure,
	// and ErrMaxRetriesExceeded or ErrContextCanceled otherwise
	Err           error
	Attempts      int
	TotalDuration time.Duration
	// LastError is what the last attempt returned
	LastError error
}

// Retrier runs operations under one Config
type Retrier struct {
	cfg Config
}

// New creates a Retrier. Zero durations and multiplier take their defaults.
func New(config *Config) *Retrier {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	cfg.JitterFactor = min(max(cfg.JitterFactor, 0), 1)
	return &Retrier{cfg: cfg}
}

// Do runs op until it succeeds, fails permanently, runs out of retries or ctx ends
func (r *Retrier) Do(ctx context.Context, op Operation) *Result {
	start := time.Now()
	res := &Result{}
	done := func(err error) *Result {
		res.Err = err
		res.TotalDuration = time.Since(start)
		return res
	}

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return done(ErrContextCanceled)
		}
		res.Attempts = attempt + 1

		err := op(ctx)
		res.LastError = err
		if err == nil {
			return done(nil)
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			res.LastError = perm.Err
			return done(perm.Err)
		}
		if attempt >= r.cfg.MaxRetries {
			return done(ErrMaxRetriesExceeded)
		}

		wait := r.cfg.Backoff(attempt)
		if r.cfg.OnRetry != nil {
			r.cfg.OnRetry(attempt+1, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return done(ErrContextCanceled)
		case <-timer.C:
		}
	}
}
