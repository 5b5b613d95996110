package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/client"
	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/flourineV/cinemas-backend-sub000/pkg/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// DiscountInput is what a strategy sees at finalize
type DiscountInput struct {
	Booking           *domain.Booking
	Total             decimal.Decimal
	PromotionCode     string
	RefundVoucherCode string
	Now               time.Time
}

// DiscountStrategy is one source of discount. At most one strategy applies to
// a booking: the chain stops at the first applicable one, even when its Apply
// yields no discount.
type DiscountStrategy interface {
	Source() domain.DiscountSource
	IsApplicable(in *DiscountInput) bool
	Apply(ctx context.Context, in *DiscountInput) (*domain.BookingPromotion, error)
}

// DefaultDiscountChain orders strategies as promotion code, refund voucher, loyalty rank
func DefaultDiscountChain(promotions client.PromotionClient, users client.UserClient, log *logger.Logger) []DiscountStrategy {
	return []DiscountStrategy{
		&PromotionCodeDiscount{promotions: promotions},
		&RefundVoucherDiscount{promotions: promotions},
		NewLoyaltyRankDiscount(users, log),
	}
}

// ApplyFirst runs the first applicable strategy. A nil result means no discount.
func ApplyFirst(ctx context.Context, chain []DiscountStrategy, in *DiscountInput) (*domain.BookingPromotion, error) {
	for _, s := range chain {
		if s.IsApplicable(in) {
			return s.Apply(ctx, in)
		}
	}
	return nil, nil
}

// percentOf returns total * percent / 100 rounded half-up to 2 decimals
func percentOf(total, percent decimal.Decimal) decimal.Decimal {
	return total.Mul(percent).Div(hundred).Round(2)
}

// PromotionCodeDiscount applies a promotion code entered by the customer
type PromotionCodeDiscount struct {
	promotions client.PromotionClient
}

func (d *PromotionCodeDiscount) Source() domain.DiscountSource {
	return domain.DiscountSourcePromotionCode
}

func (d *PromotionCodeDiscount) IsApplicable(in *DiscountInput) bool {
	return in.PromotionCode != ""
}

func (d *PromotionCodeDiscount) Apply(ctx context.Context, in *DiscountInput) (*domain.BookingPromotion, error) {
	promo, err := d.promotions.ValidatePromotionCode(ctx, in.PromotionCode)
	if err != nil {
		return nil, err
	}

	// Reuse is tracked per registered user only
	if in.Booking.UserID != "" {
		ok, err := d.promotions.CanUsePromotion(ctx, in.Booking.UserID, promo.Code)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrPromotionNotUsable
		}
	}

	var amount decimal.Decimal
	switch promo.DiscountType {
	case domain.DiscountTypePercentage:
		amount = percentOf(in.Total, promo.DiscountValue)
	case domain.DiscountTypeFixed:
		amount = promo.DiscountValue
	default:
		return nil, fmt.Errorf("%w: unknown discount type %q", domain.ErrPromotionInvalid, promo.DiscountType)
	}

	if !in.Total.Sub(amount).IsPositive() {
		return nil, domain.ErrPromotionZeroesPrice
	}

	return &domain.BookingPromotion{
		Code:           promo.Code,
		Source:         domain.DiscountSourcePromotionCode,
		DiscountType:   promo.DiscountType,
		DiscountValue:  promo.DiscountValue,
		DiscountAmount: amount,
	}, nil
}

// RefundVoucherDiscount prices a refund voucher. The final price never goes
// below zero; any voucher value above the total is forfeited. Apply only
// checks the voucher: it is redeemed by FinalizeBooking together with the
// status change.
type RefundVoucherDiscount struct {
	promotions client.PromotionClient
}

func (d *RefundVoucherDiscount) Source() domain.DiscountSource {
	return domain.DiscountSourceRefundVoucher
}

func (d *RefundVoucherDiscount) IsApplicable(in *DiscountInput) bool {
	return in.RefundVoucherCode != ""
}

func (d *RefundVoucherDiscount) Apply(ctx context.Context, in *DiscountInput) (*domain.BookingPromotion, error) {
	voucher, err := d.promotions.GetRefundVoucher(ctx, in.RefundVoucherCode)
	if err != nil {
		return nil, err
	}
	if err := voucher.CheckRedeemable(in.Booking.UserID, in.Now); err != nil {
		return nil, err
	}

	amount := decimal.Min(voucher.Value, in.Total)
	return &domain.BookingPromotion{
		Code:           voucher.Code,
		Source:         domain.DiscountSourceRefundVoucher,
		DiscountType:   domain.DiscountTypeFixed,
		DiscountValue:  voucher.Value,
		DiscountAmount: amount,
	}, nil
}

// LoyaltyRankDiscount gives registered users their rank's percentage off
type LoyaltyRankDiscount struct {
	users client.UserClient
	log   *logger.Logger
}

// NewLoyaltyRankDiscount creates a LoyaltyRankDiscount
func NewLoyaltyRankDiscount(users client.UserClient, log *logger.Logger) *LoyaltyRankDiscount {
	if log == nil {
		log = logger.Get()
	}
	return &LoyaltyRankDiscount{users: users, log: log}
}

func (d *LoyaltyRankDiscount) Source() domain.DiscountSource {
	return domain.DiscountSourceLoyaltyRank
}

func (d *LoyaltyRankDiscount) IsApplicable(in *DiscountInput) bool {
	return in.Booking.UserID != ""
}

// Apply never fails: a rank lookup error only costs the customer the discount
func (d *LoyaltyRankDiscount) Apply(ctx context.Context, in *DiscountInput) (*domain.BookingPromotion, error) {
	rank, err := d.users.GetUserRankAndDiscount(ctx, in.Booking.UserID)
	if err != nil {
		d.log.WarnContext(ctx, "Failed to get user rank, skipping loyalty discount",
			zap.String("user_id", in.Booking.UserID),
			zap.Error(err),
		)
		return nil, nil
	}
	if rank == nil || !rank.DiscountPercent.IsPositive() {
		return nil, nil
	}

	amount := percentOf(in.Total, rank.DiscountPercent)
	if amount.GreaterThan(in.Total) {
		amount = in.Total
	}

	return &domain.BookingPromotion{
		Code:           rank.Rank,
		Source:         domain.DiscountSourceLoyaltyRank,
		DiscountType:   domain.DiscountTypePercentage,
		DiscountValue:  rank.DiscountPercent,
		DiscountAmount: amount,
	}, nil
}
