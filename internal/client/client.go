// Package client holds the synchronous contracts of the services the booking
// engine consults, and their HTTP implementations.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flourineV/cinemas-backend-sub000/pkg/response"
	"github.com/flourineV/cinemas-backend-sub000/pkg/telemetry"
)

// ErrNotFound is returned when a collaborator answers 404
var ErrNotFound = errors.New("resource not found")

// APIError is a non-success reply from a collaborator
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("collaborator returned %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("collaborator returned %d", e.Status)
}

// Config holds the base URLs of every collaborator
type Config struct {
	ShowtimeServiceURL  string
	PricingServiceURL   string
	PromotionServiceURL string
	MovieServiceURL     string
	UserServiceURL      string
	FnbServiceURL       string
	Timeout             time.Duration
}

// httpClient is the JSON transport shared by the collaborator clients
type httpClient struct {
	baseURL    string
	httpClient *http.Client
}

func newHTTPClient(baseURL string, timeout time.Duration) *httpClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// IdempotencyKeyHeader lets a collaborator answer a repeated write with the
// result of the first one
const IdempotencyKeyHeader = "X-Idempotency-Key"

func (c *httpClient) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, "", nil, out)
}

func (c *httpClient) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, "", body, out)
}

// postOnce sends a POST the collaborator deduplicates on key
func (c *httpClient) postOnce(ctx context.Context, path, key string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, key, body, out)
}

func (c *httpClient) put(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPut, path, "", body, out)
}

func (c *httpClient) do(ctx context.Context, method, path, idempotencyKey string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyKeyHeader, idempotencyKey)
	}
	telemetry.InjectHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	// Parse response - services return { success, data, error }
	var envelope response.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest || !envelope.Success {
		apiErr := &APIError{Status: resp.StatusCode}
		if envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	if err := envelope.DecodeData(out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
