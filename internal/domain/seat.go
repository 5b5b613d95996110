package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SeatStatus represents the status of one seat for one showtime
type SeatStatus string

const (
	SeatStatusAvailable SeatStatus = "AVAILABLE"
	SeatStatusLocked    SeatStatus = "LOCKED"
	SeatStatusBooked    SeatStatus = "BOOKED"
)

// IsValid checks if the status is a valid SeatStatus
func (s SeatStatus) IsValid() bool {
	switch s {
	case SeatStatusAvailable, SeatStatusLocked, SeatStatusBooked:
		return true
	}
	return false
}

// String returns the string representation of SeatStatus
func (s SeatStatus) String() string {
	return string(s)
}

// ShowtimeSeat is the persisted status of a seat for a showtime
type ShowtimeSeat struct {
	ShowtimeID string     `json:"showtime_id"`
	SeatID     string     `json:"seat_id"`
	Status     SeatStatus `json:"status"`
	BookingID  string     `json:"booking_id,omitempty"`
	LockedAt   *time.Time `json:"locked_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// SeatKey identifies a seat within a showtime
type SeatKey struct {
	ShowtimeID string
	SeatID     string
}

// OwnerKind distinguishes registered users from guest sessions
type OwnerKind string

const (
	OwnerKindUser  OwnerKind = "USER"
	OwnerKindGuest OwnerKind = "GUEST"
)

// Owner identifies who holds a seat lock or owns a booking
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

// UserOwner returns an owner for a registered user
func UserOwner(userID string) Owner {
	return Owner{Kind: OwnerKindUser, ID: userID}
}

// GuestOwner returns an owner for a guest session
func GuestOwner(sessionID string) Owner {
	return Owner{Kind: OwnerKindGuest, ID: sessionID}
}

// ResolveOwner builds an owner from the two mutually exclusive identities of a request
func ResolveOwner(userID, guestSessionID string) (Owner, error) {
	userID = strings.TrimSpace(userID)
	guestSessionID = strings.TrimSpace(guestSessionID)

	switch {
	case userID != "" && guestSessionID != "":
		return Owner{}, ErrAmbiguousOwner
	case userID != "":
		return UserOwner(userID), UserOwner(userID).Validate()
	case guestSessionID != "":
		return GuestOwner(guestSessionID), GuestOwner(guestSessionID).Validate()
	default:
		return Owner{}, ErrOwnerRequired
	}
}

// Validate checks that the owner can be encoded into a lock record
func (o Owner) Validate() error {
	if o.Kind != OwnerKindUser && o.Kind != OwnerKindGuest {
		return ErrInvalidOwner
	}
	if o.ID == "" || strings.ContainsRune(o.ID, '|') {
		return ErrInvalidOwner
	}
	return nil
}

// IsUser reports whether the owner is a registered user
func (o Owner) IsUser() bool {
	return o.Kind == OwnerKindUser
}

// String returns "{kind}|{id}", the owner part of a lock record
func (o Owner) String() string {
	return string(o.Kind) + "|" + o.ID
}

// LockRecord is the value stored under a seat lock key:
// "{ownerKind}|{ownerId}|{expiresAtMs}", prefixed with "{bookingId}|" once mapped.
type LockRecord struct {
	BookingID string
	Owner     Owner
	ExpiresAt time.Time
}

// Encode serializes the record into its stored form
func (r LockRecord) Encode() string {
	v := r.Owner.String() + "|" + strconv.FormatInt(r.ExpiresAt.UnixMilli(), 10)
	if r.BookingID != "" {
		return r.BookingID + "|" + v
	}
	return v
}

// ParseLockRecord parses a stored lock value
func ParseLockRecord(value string) (*LockRecord, error) {
	parts := strings.Split(value, "|")
	var bookingID string
	switch len(parts) {
	case 3:
	case 4:
		bookingID, parts = parts[0], parts[1:]
	default:
		return nil, fmt.Errorf("malformed lock record %q", value)
	}

	kind := OwnerKind(parts[0])
	owner := Owner{Kind: kind, ID: parts[1]}
	if err := owner.Validate(); err != nil {
		return nil, fmt.Errorf("malformed lock record %q: %w", value, err)
	}

	ms, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed lock expiry in %q: %w", value, err)
	}

	return &LockRecord{
		BookingID: bookingID,
		Owner:     owner,
		ExpiresAt: time.UnixMilli(ms),
	}, nil
}

const (
	seatLockPrefix       = "seat:"
	bookingSeatMapPrefix = "booking_seat_map:"
	seatExtendedPrefix   = "seat_extended:"
)

// SeatLockKey returns the lock store key of a seat
func SeatLockKey(showtimeID, seatID string) string {
	return seatLockPrefix + showtimeID + ":" + seatID
}

// BookingSeatMapKey returns the key mapping a locked seat to its booking
func BookingSeatMapKey(showtimeID, seatID string) string {
	return bookingSeatMapPrefix + showtimeID + ":" + seatID
}

// SeatExtendedKey returns the key marking a lock as already extended for payment
func SeatExtendedKey(showtimeID, seatID string) string {
	return seatExtendedPrefix + showtimeID + ":" + seatID
}

// ParseSeatLockKey extracts showtime and seat ids from a seat lock key
func ParseSeatLockKey(key string) (showtimeID, seatID string, ok bool) {
	rest, found := strings.CutPrefix(key, seatLockPrefix)
	if !found {
		return "", "", false
	}
	showtimeID, seatID, found = strings.Cut(rest, ":")
	if !found || showtimeID == "" || seatID == "" {
		return "", "", false
	}
	return showtimeID, seatID, true
}

// LockResult is returned for each seat of a lock, unlock or extend call
type LockResult struct {
	ShowtimeID string        `json:"showtime_id"`
	SeatID     string        `json:"seat_id"`
	Status     SeatStatus    `json:"status"`
	TTL        time.Duration `json:"-"`
	TTLSeconds int64         `json:"ttl"`
}

// NewLockResult builds a LockResult, rounding ttl up to whole seconds
func NewLockResult(showtimeID, seatID string, status SeatStatus, ttl time.Duration) LockResult {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if ttl <= 0 {
		secs = 0
	}
	return LockResult{
		ShowtimeID: showtimeID,
		SeatID:     seatID,
		Status:     status,
		TTL:        ttl,
		TTLSeconds: secs,
	}
}

// SeatUnlockReason explains why a seat lock went away
type SeatUnlockReason string

const (
	SeatUnlockManual      SeatUnlockReason = "MANUAL"
	SeatUnlockLockExpired SeatUnlockReason = "LOCK_EXPIRED"
	SeatUnlockCancelled   SeatUnlockReason = "BOOKING_CANCELLED"
	SeatUnlockExpired     SeatUnlockReason = "BOOKING_EXPIRED"
	SeatUnlockRefunded    SeatUnlockReason = "BOOKING_REFUNDED"
)
