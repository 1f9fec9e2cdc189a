package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	x402types "github.com/coinbase/x402/go/pkg/types"
	"github.com/sigweihq/companionpay/pkg/types"
	"github.com/sigweihq/companionpay/pkg/utils"
)

// DefaultBaseURL is the production companionpay API
const DefaultBaseURL = "https://api.companionpay.app"

// Client talks to the companionpay HTTP API. Auth holds the session token
// every protected call reuses.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// Auth provides wallet sign-in and registration
	// Endpoints: /api/v1/auth/wallet/signin, /api/v1/auth/wallet/register, /api/v1/auth/username-available
	Auth *AuthClient
}

type Option func(*Client)

// WithHTTPClient replaces the default hardened HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for baseURL. An insecure or empty URL falls
// back to DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" || utils.ValidateServiceURL(baseURL) != nil {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: utils.CreateHTTPClientWithTimeouts(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Auth = newAuthClient(c.baseURL, c.httpClient)
	return c
}

// BaseURL returns the API base URL in use
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is a non-2xx response decoded from the API's error body
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether the same request may succeed later. Server
// faults, rate limits and a transaction the server's RPC node has not seen
// yet are temporary; every other 4xx is a final answer.
func (e *APIError) Retryable() bool {
	switch e.Code {
	case "chain_unavailable", "transaction_not_found", "internal":
		return true
	}
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// PaymentRequirements returns where and how much to pay for companion access
// GET /api/v1/companions/:id/payment-requirements
func (c *Client) PaymentRequirements(ctx context.Context, companionID string) (*x402types.PaymentRequirements, error) {
	u := fmt.Sprintf("%s/api/v1/companions/%s/payment-requirements", c.baseURL, url.PathEscape(companionID))
	result, err := utils.MakeJSONRequest[x402types.PaymentRequirements](ctx, c.httpClient, http.MethodGet, u, nil, nil, "payment-requirements")
	if err != nil {
		return nil, fmt.Errorf("failed to get payment requirements: %w", decodeError(err))
	}
	return result, nil
}

// CompanionAccess reports whether the signed-in user can chat with a companion
// GET /api/v1/companions/:id/access
func (c *Client) CompanionAccess(ctx context.Context, companionID string) (*types.CompanionAccess, error) {
	headers, err := c.Auth.authHeaders()
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/api/v1/companions/%s/access", c.baseURL, url.PathEscape(companionID))
	result, err := utils.MakeJSONRequest[types.CompanionAccess](ctx, c.httpClient, http.MethodGet, u, nil, headers, "access")
	if err != nil {
		return nil, fmt.Errorf("failed to check access: %w", decodeError(err))
	}
	return result, nil
}

// ListAccess returns the signed-in user's grants
// GET /api/v1/access
func (c *Client) ListAccess(ctx context.Context) (*types.AccessListResponse, error) {
	headers, err := c.Auth.authHeaders()
	if err != nil {
		return nil, err
	}
	result, err := utils.MakeJSONRequest[types.AccessListResponse](ctx, c.httpClient, http.MethodGet, c.baseURL+"/api/v1/access", nil, headers, "list-access")
	if err != nil {
		return nil, fmt.Errorf("failed to list access: %w", decodeError(err))
	}
	return result, nil
}

// VerifyPayment asks the server to verify a submitted payment and grant access.
// A rejection comes back as an *APIError whose Message is the server's reason.
// POST /api/v1/payments/verify
func (c *Client) VerifyPayment(ctx context.Context, req types.VerifyPaymentRequest) (*types.VerifyPaymentResponse, error) {
	headers, err := c.Auth.authHeaders()
	if err != nil {
		return nil, err
	}
	result, err := utils.MakeJSONRequest[types.VerifyPaymentResponse](ctx, c.httpClient, http.MethodPost, c.baseURL+"/api/v1/payments/verify", req, headers, "verify")
	if err != nil {
		return nil, decodeError(err)
	}
	if !result.Success {
		// a 200 without success is still a rejection
		return nil, &APIError{StatusCode: http.StatusOK, Code: result.Code, Message: result.Error}
	}
	return result, nil
}

// decodeError turns a non-2xx response into an *APIError when the body
// carries the API's error shape
func decodeError(err error) error {
	var statusErr *utils.HTTPStatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	var body types.ErrorResponse
	if jsonErr := json.Unmarshal(statusErr.Body, &body); jsonErr != nil || body.Error == "" {
		return &APIError{StatusCode: statusErr.StatusCode, Message: http.StatusText(statusErr.StatusCode)}
	}
	return &APIError{StatusCode: statusErr.StatusCode, Code: body.Code, Message: body.Error}
}
