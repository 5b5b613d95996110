package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	pkgredis "github.com/flourineV/cinemas-backend-sub000/pkg/redis"
	"github.com/flourineV/cinemas-backend-sub000/pkg/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/map_booking.lua
var mapBookingScript string

//go:embed scripts/extend_lock.lua
var extendLockScript string

//go:embed scripts/release_booking_locks.lua
var releaseBookingLocksScript string

// Script names for caching
const (
	scriptReleaseLock         = "release_lock"
	scriptMapBooking          = "map_booking"
	scriptExtendLock          = "extend_lock"
	scriptReleaseBookingLocks = "release_booking_locks"
)

// RedisSeatLockRepository implements SeatLockRepository using Redis
type RedisSeatLockRepository struct {
	client *pkgredis.Client
}

// NewRedisSeatLockRepository creates a new RedisSeatLockRepository
func NewRedisSeatLockRepository(client *pkgredis.Client) *RedisSeatLockRepository {
	return &RedisSeatLockRepository{client: client}
}

// LoadScripts loads all Lua scripts into Redis
func (r *RedisSeatLockRepository) LoadScripts(ctx context.Context) error {
	scripts := map[string]string{
		scriptReleaseLock:         releaseLockScript,
		scriptMapBooking:          mapBookingScript,
		scriptExtendLock:          extendLockScript,
		scriptReleaseBookingLocks: releaseBookingLocksScript,
	}

	for name, script := range scripts {
		if _, err := r.client.LoadScript(ctx, name, script); err != nil {
			return fmt.Errorf("failed to load script %s: %w", name, err)
		}
	}

	return nil
}

// Acquire sets the lock key with SET NX PX
func (r *RedisSeatLockRepository) Acquire(ctx context.Context, showtimeID, seatID string, record domain.LockRecord, ttl time.Duration) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.seat_lock.acquire")
	defer span.End()

	span.SetAttributes(
		attribute.String("showtime_id", showtimeID),
		attribute.String("seat_id", seatID),
		attribute.Int64("ttl_ms", ttl.Milliseconds()),
	)

	ok, err := r.client.SetNX(ctx, domain.SeatLockKey(showtimeID, seatID), record.Encode(), ttl).Result()
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return false, fmt.Errorf("failed to acquire lock for seat %s: %w", seatID, err)
	}

	span.SetAttributes(attribute.Bool("acquired", ok))
	span.SetStatus(codes.Ok, "")
	return ok, nil
}

// ReleaseOwned deletes the lock when owner holds it
func (r *RedisSeatLockRepository) ReleaseOwned(ctx context.Context, showtimeID, seatID string, owner domain.Owner) (*LockReleaseResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.seat_lock.release")
	defer span.End()

	span.SetAttributes(
		attribute.String("showtime_id", showtimeID),
		attribute.String("seat_id", seatID),
	)

	keys := []string{domain.SeatLockKey(showtimeID, seatID), domain.BookingSeatMapKey(showtimeID, seatID)}
	result := r.client.EvalWithFallback(ctx, scriptReleaseLock, releaseLockScript, keys, owner.String())
	if result.Err() != nil {
		telemetry.RecordSpanError(span, result.Err())
		return nil, fmt.Errorf("failed to execute release_lock script: %w", result.Err())
	}

	values, err := result.Slice()
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to parse script result: %w", err)
	}
	if len(values) < 2 {
		span.SetStatus(codes.Error, "unexpected result length")
		return nil, fmt.Errorf("unexpected script result length: %d", len(values))
	}

	status, _ := toInt64(values[0])
	bookingID, _ := values[1].(string)

	span.SetAttributes(attribute.Int64("status", status))
	span.SetStatus(codes.Ok, "")
	return &LockReleaseResult{Status: LockReleaseStatus(status), BookingID: bookingID}, nil
}

// MapBooking attaches bookingID to a live lock keeping its remaining TTL
func (r *RedisSeatLockRepository) MapBooking(ctx context.Context, showtimeID, seatID, bookingID string, margin time.Duration) (time.Duration, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.seat_lock.map_booking")
	defer span.End()

	span.SetAttributes(
		attribute.String("showtime_id", showtimeID),
		attribute.String("seat_id", seatID),
		attribute.String("booking_id", bookingID),
	)

	keys := []string{
		domain.SeatLockKey(showtimeID, seatID),
		domain.BookingSeatMapKey(showtimeID, seatID),
		domain.SeatExtendedKey(showtimeID, seatID),
	}
	result := r.client.EvalWithFallback(ctx, scriptMapBooking, mapBookingScript, keys, bookingID, margin.Milliseconds())
	if result.Err() != nil {
		telemetry.RecordSpanError(span, result.Err())
		return 0, fmt.Errorf("failed to execute map_booking script: %w", result.Err())
	}

	remaining, err := result.Int64()
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return 0, fmt.Errorf("failed to parse script result: %w", err)
	}

	switch remaining {
	case -2:
		span.SetStatus(codes.Error, "not_locked")
		return 0, domain.ErrSeatNotLocked
	case -4:
		span.SetStatus(codes.Error, "mapped_elsewhere")
		return 0, domain.ErrSeatsAlreadyInBooking
	}

	span.SetAttributes(attribute.Int64("remaining_ms", remaining))
	span.SetStatus(codes.Ok, "")
	return time.Duration(remaining) * time.Millisecond, nil
}

// Extend rewrites an owned lock with expiry now+ttl. A mapped lock's mapping key
// is pushed to ttl+margin so it keeps outliving the lock. Only the first call of
// a hold extends; later calls report LockAlreadyExtended with the TTL left.
func (r *RedisSeatLockRepository) Extend(ctx context.Context, showtimeID, seatID string, owner domain.Owner, ttl, margin time.Duration) (LockExtendStatus, time.Duration, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.seat_lock.extend")
	defer span.End()

	span.SetAttributes(
		attribute.String("showtime_id", showtimeID),
		attribute.String("seat_id", seatID),
		attribute.Int64("ttl_ms", ttl.Milliseconds()),
	)

	expiresAt := time.Now().Add(ttl).UnixMilli()
	keys := []string{
		domain.SeatLockKey(showtimeID, seatID),
		domain.BookingSeatMapKey(showtimeID, seatID),
		domain.SeatExtendedKey(showtimeID, seatID),
	}
	args := []interface{}{
		owner.String(),                   // ARGV[1]: owner
		ttl.Milliseconds(),               // ARGV[2]: ttl ms
		strconv.FormatInt(expiresAt, 10), // ARGV[3]: new expiry
		(ttl + margin).Milliseconds(),    // ARGV[4]: mapping ttl ms
	}

	result := r.client.EvalWithFallback(ctx, scriptExtendLock, extendLockScript, keys, args...)
	if result.Err() != nil {
		telemetry.RecordSpanError(span, result.Err())
		return 0, 0, fmt.Errorf("failed to execute extend_lock script: %w", result.Err())
	}

	values, err := result.Int64Slice()
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return 0, 0, fmt.Errorf("failed to parse script result: %w", err)
	}
	if len(values) != 2 {
		span.SetStatus(codes.Error, "unexpected result length")
		return 0, 0, fmt.Errorf("unexpected extend_lock result: %v", values)
	}

	status, remaining := LockExtendStatus(values[0]), time.Duration(values[1])*time.Millisecond
	span.SetAttributes(attribute.Int64("status", values[0]))
	span.SetStatus(codes.Ok, "")
	return status, remaining, nil
}

// Inspect returns the live lock record and its remaining TTL
func (r *RedisSeatLockRepository) Inspect(ctx context.Context, showtimeID, seatID string) (*domain.LockRecord, time.Duration, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.seat_lock.inspect")
	defer span.End()

	key := domain.SeatLockKey(showtimeID, seatID)
	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		telemetry.RecordSpanError(span, err)
		return nil, 0, fmt.Errorf("failed to inspect lock for seat %s: %w", seatID, err)
	}

	value, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, 0, nil
	}
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, 0, fmt.Errorf("failed to read lock for seat %s: %w", seatID, err)
	}

	record, err := domain.ParseLockRecord(value)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, 0, err
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return record, ttl, nil
}

// RemainingTTLs reads PTTL of each seat lock in one round trip
func (r *RedisSeatLockRepository) RemainingTTLs(ctx context.Context, showtimeID string, seatIDs []string) (map[string]time.Duration, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.seat_lock.remaining_ttls")
	defer span.End()

	span.SetAttributes(
		attribute.String("showtime_id", showtimeID),
		attribute.Int("seat_count", len(seatIDs)),
	)

	if len(seatIDs) == 0 {
		return map[string]time.Duration{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.DurationCmd, len(seatIDs))
	for i, seatID := range seatIDs {
		cmds[i] = pipe.PTTL(ctx, domain.SeatLockKey(showtimeID, seatID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to read lock ttls: %w", err)
	}

	ttls := make(map[string]time.Duration, len(seatIDs))
	for i, cmd := range cmds {
		if ttl := cmd.Val(); ttl > 0 {
			ttls[seatIDs[i]] = ttl
		}
	}
	return ttls, nil
}

// ReleaseForBooking drops the booking's locks and mapping keys in one script call
func (r *RedisSeatLockRepository) ReleaseForBooking(ctx context.Context, bookingID string, owner domain.Owner, showtimeID string, seatIDs []string, force bool) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.seat_lock.release_for_booking")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("showtime_id", showtimeID),
		attribute.Int("seat_count", len(seatIDs)),
		attribute.Bool("force", force),
	)

	if len(seatIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(seatIDs)*2)
	for _, seatID := range seatIDs {
		keys = append(keys, domain.SeatLockKey(showtimeID, seatID), domain.BookingSeatMapKey(showtimeID, seatID))
	}
	forceArg := "0"
	if force {
		forceArg = "1"
	}

	result := r.client.EvalWithFallback(ctx, scriptReleaseBookingLocks, releaseBookingLocksScript, keys, bookingID, owner.String(), forceArg)
	if result.Err() != nil {
		telemetry.RecordSpanError(span, result.Err())
		return nil, fmt.Errorf("failed to execute release_booking_locks script: %w", result.Err())
	}

	values, err := result.Slice()
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to parse script result: %w", err)
	}
	if len(values) != len(seatIDs) {
		span.SetStatus(codes.Error, "unexpected result length")
		return nil, fmt.Errorf("unexpected script result length: %d", len(values))
	}

	released := make([]string, 0, len(seatIDs))
	for i, v := range values {
		if flag, _ := toInt64(v); flag == 1 {
			released = append(released, seatIDs[i])
		}
	}

	span.SetAttributes(attribute.Int("released", len(released)))
	span.SetStatus(codes.Ok, "")
	return released, nil
}

// TakeBookingMapping atomically reads and deletes the mapping key
func (r *RedisSeatLockRepository) TakeBookingMapping(ctx context.Context, showtimeID, seatID string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.seat_lock.take_mapping")
	defer span.End()

	bookingID, err := r.client.GetDel(ctx, domain.BookingSeatMapKey(showtimeID, seatID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return "", fmt.Errorf("failed to take booking mapping for seat %s: %w", seatID, err)
	}
	return bookingID, nil
}

// RestoreBookingMapping puts back a mapping taken by TakeBookingMapping whose
// follow-up failed. A mapping written since is kept.
func (r *RedisSeatLockRepository) RestoreBookingMapping(ctx context.Context, showtimeID, seatID, bookingID string, ttl time.Duration) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.seat_lock.restore_mapping")
	defer span.End()

	if err := r.client.SetNX(ctx, domain.BookingSeatMapKey(showtimeID, seatID), bookingID, ttl).Err(); err != nil {
		telemetry.RecordSpanError(span, err)
		return fmt.Errorf("failed to restore booking mapping for seat %s: %w", seatID, err)
	}
	return nil
}

// Exists reports whether the seat lock key is present
func (r *RedisSeatLockRepository) Exists(ctx context.Context, showtimeID, seatID string) (bool, error) {
	n, err := r.client.Exists(ctx, domain.SeatLockKey(showtimeID, seatID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lock for seat %s: %w", seatID, err)
	}
	return n > 0, nil
}

// toInt64 converts interface{} to int64
func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

var _ SeatLockRepository = (*RedisSeatLockRepository)(nil)
