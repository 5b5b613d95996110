package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/flourineV/cinemas-backend-sub000/internal/domain"
	"github.com/shopspring/decimal"
)

// MovieClient reads the movie catalog
type MovieClient interface {
	GetMovieTitle(ctx context.Context, movieID string) (string, error)
}

// UserClient reads and updates loyalty data of registered users
type UserClient interface {
	// GetUserRankAndDiscount returns the user's rank, nil when the user has none
	GetUserRankAndDiscount(ctx context.Context, userID string) (*domain.UserRank, error)

	// UpdateLoyaltyPoints adds points to the user's balance
	UpdateLoyaltyPoints(ctx context.Context, userID string, points int64) error
}

// FnbClient prices food and beverage orders
type FnbClient interface {
	CalculateFnbPrice(ctx context.Context, items []domain.FnbItem) ([]domain.BookingFnb, error)
}

// HTTPMovieClient implements MovieClient
type HTTPMovieClient struct {
	http *httpClient
}

// NewHTTPMovieClient creates a new HTTPMovieClient
func NewHTTPMovieClient(cfg *Config) *HTTPMovieClient {
	return &HTTPMovieClient{http: newHTTPClient(cfg.MovieServiceURL, cfg.Timeout)}
}

// GetMovieTitle fetches a movie title
func (c *HTTPMovieClient) GetMovieTitle(ctx context.Context, movieID string) (string, error) {
	var out struct {
		Title string `json:"title"`
	}
	if err := c.http.get(ctx, "/api/v1/movies/"+url.PathEscape(movieID), &out); err != nil {
		return "", fmt.Errorf("failed to fetch movie %s: %w", movieID, err)
	}
	return out.Title, nil
}

// HTTPUserClient implements UserClient
type HTTPUserClient struct {
	http *httpClient
}

// NewHTTPUserClient creates a new HTTPUserClient
func NewHTTPUserClient(cfg *Config) *HTTPUserClient {
	return &HTTPUserClient{http: newHTTPClient(cfg.UserServiceURL, cfg.Timeout)}
}

// GetUserRankAndDiscount fetches the loyalty rank of a user
func (c *HTTPUserClient) GetUserRankAndDiscount(ctx context.Context, userID string) (*domain.UserRank, error) {
	var rank domain.UserRank
	err := c.http.get(ctx, "/api/v1/users/"+url.PathEscape(userID)+"/rank", &rank)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rank of user %s: %w", userID, err)
	}
	return &rank, nil
}

// UpdateLoyaltyPoints adds points to a user
func (c *HTTPUserClient) UpdateLoyaltyPoints(ctx context.Context, userID string, points int64) error {
	body := map[string]int64{"points": points}
	if err := c.http.post(ctx, "/api/v1/users/"+url.PathEscape(userID)+"/loyalty-points", body, nil); err != nil {
		return fmt.Errorf("failed to update loyalty points of user %s: %w", userID, err)
	}
	return nil
}

// HTTPFnbClient implements FnbClient
type HTTPFnbClient struct {
	http *httpClient
}

// NewHTTPFnbClient creates a new HTTPFnbClient
func NewHTTPFnbClient(cfg *Config) *HTTPFnbClient {
	return &HTTPFnbClient{http: newHTTPClient(cfg.FnbServiceURL, cfg.Timeout)}
}

// CalculateFnbPrice prices each requested item
func (c *HTTPFnbClient) CalculateFnbPrice(ctx context.Context, items []domain.FnbItem) ([]domain.BookingFnb, error) {
	body := map[string]interface{}{"items": items}

	var out struct {
		Items []struct {
			ItemID     string          `json:"item_id"`
			Quantity   int             `json:"quantity"`
			UnitPrice  decimal.Decimal `json:"unit_price"`
			TotalPrice decimal.Decimal `json:"total_price"`
		} `json:"items"`
	}
	if err := c.http.post(ctx, "/api/v1/fnb/calculate", body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFnbPriceUnavailable, err)
	}

	lines := make([]domain.BookingFnb, 0, len(out.Items))
	for _, it := range out.Items {
		lines = append(lines, domain.BookingFnb{
			ItemID:     it.ItemID,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: it.TotalPrice,
		})
	}
	return lines, nil
}
