package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/shopspring/decimal"
)

// PromotionClient talks to the promotion service: codes, usage and refund vouchers
type PromotionClient interface {
	// ValidatePromotionCode returns the active promotion or domain.ErrPromotionInvalid
	ValidatePromotionCode(ctx context.Context, code string) (*domain.Promotion, error)

	// CanUsePromotion reports whether the user may use the code again
	CanUsePromotion(ctx context.Context, userID, code string) (bool, error)

	// UpdatePromotionUsageStatus tells the promotion service the booking's status
	UpdatePromotionUsageStatus(ctx context.Context, bookingID string, status domain.BookingStatus) error

	// GetRefundVoucher returns the voucher or domain.ErrVoucherNotFound
	GetRefundVoucher(ctx context.Context, code string) (*domain.RefundVoucher, error)

	// MarkRefundVoucherUsed redeems the voucher for bookingID. Redeeming it
	// again for the same booking succeeds.
	MarkRefundVoucherUsed(ctx context.Context, code, bookingID string) error

	// RestoreRefundVoucher returns a voucher redeemed by bookingID to unused
	RestoreRefundVoucher(ctx context.Context, code, bookingID string) error

	// CreateRefundVoucher issues the refund voucher of bookingID. The booking id
	// is the idempotency key: a repeated call returns the voucher already issued.
	CreateRefundVoucher(ctx context.Context, bookingID, userID string, value decimal.Decimal) (*domain.RefundVoucher, error)
}

// HTTPPromotionClient implements PromotionClient
type HTTPPromotionClient struct {
	http *httpClient
}

// NewHTTPPromotionClient creates a new HTTPPromotionClient
func NewHTTPPromotionClient(cfg *Config) *HTTPPromotionClient {
	return &HTTPPromotionClient{http: newHTTPClient(cfg.PromotionServiceURL, cfg.Timeout)}
}

// ValidatePromotionCode fetches an active promotion by code
func (c *HTTPPromotionClient) ValidatePromotionCode(ctx context.Context, code string) (*domain.Promotion, error) {
	var promo domain.Promotion
	err := c.http.get(ctx, "/api/v1/promotions/validate?code="+url.QueryEscape(code), &promo)
	if err != nil {
		var apiErr *APIError
		if errors.Is(err, ErrNotFound) || (errors.As(err, &apiErr) && apiErr.Status < 500) {
			return nil, domain.ErrPromotionInvalid
		}
		return nil, fmt.Errorf("failed to validate promotion %s: %w", code, err)
	}
	return &promo, nil
}

// CanUsePromotion checks per-user reuse eligibility
func (c *HTTPPromotionClient) CanUsePromotion(ctx context.Context, userID, code string) (bool, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("code", code)

	var out struct {
		CanUse bool `json:"can_use"`
	}
	if err := c.http.get(ctx, "/api/v1/promotions/usage/check?"+q.Encode(), &out); err != nil {
		return false, fmt.Errorf("failed to check promotion usage: %w", err)
	}
	return out.CanUse, nil
}

// UpdatePromotionUsageStatus syncs the booking status to the usage record
func (c *HTTPPromotionClient) UpdatePromotionUsageStatus(ctx context.Context, bookingID string, status domain.BookingStatus) error {
	body := map[string]string{
		"booking_id":     bookingID,
		"booking_status": status.String(),
	}
	if err := c.http.put(ctx, "/api/v1/promotions/usage/status", body, nil); err != nil {
		return fmt.Errorf("failed to update promotion usage: %w", err)
	}
	return nil
}

// GetRefundVoucher fetches a voucher by code
func (c *HTTPPromotionClient) GetRefundVoucher(ctx context.Context, code string) (*domain.RefundVoucher, error) {
	var voucher domain.RefundVoucher
	err := c.http.get(ctx, "/api/v1/refund-vouchers/"+url.PathEscape(code), &voucher)
	if errors.Is(err, ErrNotFound) {
		return nil, domain.ErrVoucherNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch voucher %s: %w", code, err)
	}
	return &voucher, nil
}

type voucherRedemption struct {
	BookingID string `json:"booking_id"`
}

// MarkRefundVoucherUsed redeems a voucher for a booking
func (c *HTTPPromotionClient) MarkRefundVoucherUsed(ctx context.Context, code, bookingID string) error {
	path := "/api/v1/refund-vouchers/" + url.PathEscape(code) + "/use"
	if err := c.http.put(ctx, path, voucherRedemption{BookingID: bookingID}, nil); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return domain.ErrVoucherUsed
		}
		return fmt.Errorf("failed to mark voucher %s used: %w", code, err)
	}
	return nil
}

// RestoreRefundVoucher undoes the redemption made for a booking
func (c *HTTPPromotionClient) RestoreRefundVoucher(ctx context.Context, code, bookingID string) error {
	path := "/api/v1/refund-vouchers/" + url.PathEscape(code) + "/restore"
	if err := c.http.put(ctx, path, voucherRedemption{BookingID: bookingID}, nil); err != nil {
		return fmt.Errorf("failed to restore voucher %s: %w", code, err)
	}
	return nil
}

// RefundVoucherKey is the idempotency key of the refund voucher of a booking
func RefundVoucherKey(bookingID string) string {
	return "refund-voucher:" + bookingID
}

// CreateRefundVoucher issues the voucher of a refunded booking, once
func (c *HTTPPromotionClient) CreateRefundVoucher(ctx context.Context, bookingID, userID string, value decimal.Decimal) (*domain.RefundVoucher, error) {
	body := struct {
		BookingID string          `json:"booking_id"`
		UserID    string          `json:"user_id"`
		Value     decimal.Decimal `json:"value"`
	}{BookingID: bookingID, UserID: userID, Value: value}

	var voucher domain.RefundVoucher
	if err := c.http.postOnce(ctx, "/api/v1/refund-vouchers", RefundVoucherKey(bookingID), body, &voucher); err != nil {
		return nil, fmt.Errorf("failed to create refund voucher: %w", err)
	}
	if voucher.ExpiresAt.IsZero() {
		voucher.ExpiresAt = time.Now().AddDate(0, 3, 0)
	}
	return &voucher, nil
}
