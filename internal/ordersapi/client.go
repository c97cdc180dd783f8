// Package ordersapi provides the client for the ordering backend: the
// active-orders fetch used by reconciliation cycles and the feedback gateway.
package ordersapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/mealwave/ordernotify/internal/model"
)

// Client encapsulates HTTP interaction with the ordering backend.
type Client struct {
	baseURL string
	token   string

	// pollClient retries transient failures under the hood; a fetch that
	// still fails surfaces as an error and the cycle becomes a no-op.
	pollClient *http.Client

	// feedbackClient makes exactly one attempt. Feedback submission has no
	// automatic retry; the user retries manually.
	feedbackClient *http.Client

	validate *validator.Validate
}

type activeOrdersResponse struct {
	Success bool          `json:"success"`
	Orders  []model.Order `json:"orders"`
}

type feedbackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// NewClient creates a backend client for the given base URL and bearer token.
func NewClient(baseURL, token string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:        normalizeBaseURL(baseURL),
		token:          token,
		pollClient:     rc.StandardClient(),
		feedbackClient: &http.Client{Timeout: 10 * time.Second},
		validate:       validator.New(),
	}
}

func normalizeBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return base
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base
}

// FetchActiveOrders pulls the current active-order snapshot for the
// authenticated user. A 204 response means no active orders.
func (c *Client) FetchActiveOrders(ctx context.Context) ([]model.Order, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("orders client not configured")
	}

	url := c.baseURL + "/api/orders/active"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.pollClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result activeOrdersResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("backend reported failure")
	}

	return result.Orders, nil
}

// SubmitFeedback validates and forwards one feedback submission as a single
// network call.
func (c *Client) SubmitFeedback(ctx context.Context, fs model.FeedbackSubmission) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("orders client not configured")
	}

	if err := c.validate.Struct(fs); err != nil {
		return fmt.Errorf("invalid feedback: %w", err)
	}

	body, err := json.Marshal(fs)
	if err != nil {
		return fmt.Errorf("encode feedback: %w", err)
	}

	url := c.baseURL + "/api/feedback"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.feedbackClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result feedbackResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !result.Success {
		if result.Message != "" {
			return fmt.Errorf("feedback rejected: %s", result.Message)
		}
		return fmt.Errorf("feedback rejected")
	}

	return nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// IsValidationError reports whether err came from payload validation rather
// than the network, so callers can answer 400 instead of 502.
func IsValidationError(err error) bool {
	var verr validator.ValidationErrors
	return errors.As(err, &verr)
}
