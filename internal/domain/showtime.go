package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShowtimeStatus is the lifecycle status owned by the showtime service
type ShowtimeStatus string

const (
	ShowtimeStatusActive    ShowtimeStatus = "ACTIVE"
	ShowtimeStatusSuspended ShowtimeStatus = "SUSPENDED"
)

// Showtime is the projection of a showtime this service reads from its owner
type Showtime struct {
	ID          string         `json:"id"`
	MovieID     string         `json:"movie_id"`
	TheaterID   string         `json:"theater_id"`
	TheaterName string         `json:"theater_name"`
	RoomID      string         `json:"room_id"`
	RoomName    string         `json:"room_name"`
	StartTime   time.Time      `json:"start_time"`
	Status      ShowtimeStatus `json:"status"`
}

// CheckBookable returns ErrShowtimeSuspended or ErrShowtimeAlreadyStarted when
// seats of the showtime can no longer be held or sold
func (s *Showtime) CheckBookable(now time.Time) error {
	if s.Status == ShowtimeStatusSuspended {
		return ErrShowtimeSuspended
	}
	if !now.Before(s.StartTime) {
		return ErrShowtimeAlreadyStarted
	}
	return nil
}

// SeatInfo describes a physical seat
type SeatInfo struct {
	ID       string `json:"id"`
	RoomID   string `json:"room_id"`
	Row      string `json:"row"`
	Number   int    `json:"number"`
	SeatType string `json:"seat_type"`
}

// PromotionDiscountType tells how a promotion amount is computed
type PromotionDiscountType string

const (
	DiscountTypePercentage PromotionDiscountType = "PERCENTAGE"
	DiscountTypeFixed      PromotionDiscountType = "FIXED_AMOUNT"
)

// Promotion is a validated promotion code
type Promotion struct {
	Code          string                `json:"code"`
	DiscountType  PromotionDiscountType `json:"discount_type"`
	DiscountValue decimal.Decimal       `json:"discount_value"`
	IsOneTimeUse  bool                  `json:"is_one_time_use"`
}

// RefundVoucher is a store credit issued on refunds
type RefundVoucher struct {
	Code      string          `json:"code"`
	UserID    string          `json:"user_id"`
	Value     decimal.Decimal `json:"value"`
	IsUsed    bool            `json:"is_used"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// CheckRedeemable validates a voucher for the given user at now
func (v *RefundVoucher) CheckRedeemable(userID string, now time.Time) error {
	switch {
	case v.UserID != userID:
		return ErrVoucherNotOwned
	case v.IsUsed:
		return ErrVoucherUsed
	case !v.ExpiresAt.IsZero() && !now.Before(v.ExpiresAt):
		return ErrVoucherExpired
	}
	return nil
}

// UserRank is the loyalty rank of a registered user
type UserRank struct {
	Rank            string          `json:"rank"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// FnbItem is one food and beverage line requested at finalize
type FnbItem struct {
	ItemID   string `json:"item_id" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}
