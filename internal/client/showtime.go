package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// ShowtimeClient reads showtime and seat data from the showtime service
type ShowtimeClient interface {
	// GetShowtime returns the showtime or domain.ErrShowtimeNotFound
	GetShowtime(ctx context.Context, showtimeID string) (*domain.Showtime, error)

	// GetSeatInfo returns the physical seat or domain.ErrSeatNotFound
	GetSeatInfo(ctx context.Context, seatID string) (*domain.SeatInfo, error)
}

// PricingClient looks up ticket prices
type PricingClient interface {
	// GetSeatPrice returns the price of a seat type for a ticket type
	GetSeatPrice(ctx context.Context, seatType, ticketType string) (decimal.Decimal, error)
}

// HTTPShowtimeClient implements ShowtimeClient. Concurrent lookups of the same
// showtime share one request, as a seat rush hits the same showtime at once.
type HTTPShowtimeClient struct {
	http    *httpClient
	sfGroup singleflight.Group
}

// NewHTTPShowtimeClient creates a new HTTPShowtimeClient
func NewHTTPShowtimeClient(cfg *Config) *HTTPShowtimeClient {
	return &HTTPShowtimeClient{http: newHTTPClient(cfg.ShowtimeServiceURL, cfg.Timeout)}
}

// GetShowtime fetches a showtime
func (c *HTTPShowtimeClient) GetShowtime(ctx context.Context, showtimeID string) (*domain.Showtime, error) {
	v, err, _ := c.sfGroup.Do("showtime:"+showtimeID, func() (interface{}, error) {
		var st domain.Showtime
		if err := c.http.get(ctx, "/api/v1/showtimes/"+url.PathEscape(showtimeID), &st); err != nil {
			return nil, err
		}
		return &st, nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, domain.ErrShowtimeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch showtime %s: %w", showtimeID, err)
	}

	// callers may mutate their copy
	st := *v.(*domain.Showtime)
	return &st, nil
}

// GetSeatInfo fetches the physical seat
func (c *HTTPShowtimeClient) GetSeatInfo(ctx context.Context, seatID string) (*domain.SeatInfo, error) {
	var seat domain.SeatInfo
	err := c.http.get(ctx, "/api/v1/seats/"+url.PathEscape(seatID), &seat)
	if errors.Is(err, ErrNotFound) {
		return nil, domain.ErrSeatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch seat %s: %w", seatID, err)
	}
	return &seat, nil
}

// HTTPPricingClient implements PricingClient
type HTTPPricingClient struct {
	http *httpClient
}

// NewHTTPPricingClient creates a new HTTPPricingClient
func NewHTTPPricingClient(cfg *Config) *HTTPPricingClient {
	return &HTTPPricingClient{http: newHTTPClient(cfg.PricingServiceURL, cfg.Timeout)}
}

// GetSeatPrice fetches the price of a seat type for a ticket type
func (c *HTTPPricingClient) GetSeatPrice(ctx context.Context, seatType, ticketType string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("seat_type", seatType)
	q.Set("ticket_type", ticketType)

	var out struct {
		BasePrice decimal.Decimal `json:"base_price"`
	}
	if err := c.http.get(ctx, "/api/v1/seat-prices?"+q.Encode(), &out); err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch price for %s/%s: %w", seatType, ticketType, err)
	}
	return out.BasePrice, nil
}
