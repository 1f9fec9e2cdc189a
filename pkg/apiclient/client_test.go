package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	x402types "github.com/coinbase/x402/go/pkg/types"
	"github.com/sigweihq/companionpay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, WithHTTPClient(server.Client()))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func TestNewClient_URLFallback(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		expected string
	}{
		{name: "https kept", baseURL: "https://api.example.com/", expected: "https://api.example.com"},
		{name: "localhost allowed", baseURL: "http://localhost:8080", expected: "http://localhost:8080"},
		{name: "plain http rejected", baseURL: "http://api.example.com", expected: DefaultBaseURL},
		{name: "empty", baseURL: "", expected: DefaultBaseURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NewClient(tt.baseURL).BaseURL())
		})
	}
}

func TestAuthClient_SignIn(t *testing.T) {
	t.Run("existing user stores token", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/auth/wallet/signin", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)
			var req types.WalletSignInRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "AbC123", req.WalletAddress)
			writeJSON(w, http.StatusOK, types.AuthResponse{
				User:        &types.User{ID: "user-1", WalletAddress: "abc123"},
				AccessToken: "token-1",
			})
		})

		resp, err := client.Auth.SignIn(context.Background(), "AbC123")
		require.NoError(t, err)
		assert.Equal(t, "user-1", resp.User.ID)
		assert.True(t, client.Auth.IsAuthenticated())
		assert.Equal(t, "token-1", client.Auth.GetAccessToken())
	})

	t.Run("new user has no session", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, types.AuthResponse{NewUser: true})
		})

		resp, err := client.Auth.SignIn(context.Background(), "fresh")
		require.NoError(t, err)
		assert.True(t, resp.NewUser)
		assert.False(t, client.Auth.IsAuthenticated())
	})

	t.Run("credential mismatch is decoded", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, types.ErrorResponse{Error: "wallet credentials do not match", Code: "credential_mismatch"})
		})

		_, err := client.Auth.SignIn(context.Background(), "AbC123")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
		assert.Equal(t, "credential_mismatch", apiErr.Code)
		assert.Contains(t, err.Error(), "failed to sign in")
	})
}

func TestAuthClient_Register(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/auth/wallet/register", r.URL.Path)
		var req types.WalletRegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "luna_fan", req.Username)
		assert.Equal(t, "Luna Fan", req.DisplayName)
		assert.Equal(t, "luna@example.com", req.ContactEmail)
		writeJSON(w, http.StatusCreated, types.AuthResponse{
			User:        &types.User{ID: "user-2", Username: req.Username},
			AccessToken: "token-2",
		})
	})

	resp, err := client.Auth.Register(context.Background(), types.WalletRegisterRequest{
		WalletAddress: "abc123",
		Username:      "luna_fan",
		DisplayName:   "Luna Fan",
		ContactEmail:  "luna@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "luna_fan", resp.User.Username)
	assert.Equal(t, "token-2", client.Auth.GetAccessToken())

	client.Auth.ClearTokens()
	assert.False(t, client.Auth.IsAuthenticated())
}

func TestAuthClient_UsernameAvailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/auth/username-available", r.URL.Path)
		assert.Equal(t, "luna fan", r.URL.Query().Get("username"))
		writeJSON(w, http.StatusOK, types.UsernameAvailability{Username: "luna fan", Available: false, Reason: "invalid"})
	})

	resp, err := client.Auth.UsernameAvailable(context.Background(), "luna fan")
	require.NoError(t, err)
	assert.False(t, resp.Available)
}

func TestProtectedCallsRequireToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	})

	_, err := client.CompanionAccess(context.Background(), "luna")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = client.ListAccess(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = client.VerifyPayment(context.Background(), types.VerifyPaymentRequest{CompanionID: "luna"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestClient_VerifyPayment(t *testing.T) {
	req := types.VerifyPaymentRequest{CompanionID: "luna", TransactionSignature: "SIG1", Amount: 0.01}

	tests := []struct {
		name         string
		status       int
		body         any
		expectedCode string
		expectedMsg  string
		wantErr      bool
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   types.VerifyPaymentResponse{Success: true, Message: "Access granted"},
		},
		{
			name:         "server rejection",
			status:       http.StatusPaymentRequired,
			body:         types.VerifyPaymentResponse{Error: "no transfer to the platform wallet", Code: "recipient_mismatch"},
			expectedCode: "recipient_mismatch",
			expectedMsg:  "no transfer to the platform wallet",
			wantErr:      true,
		},
		{
			name:         "success false with 200",
			status:       http.StatusOK,
			body:         types.VerifyPaymentResponse{Error: "odd", Code: "internal"},
			expectedCode: "internal",
			expectedMsg:  "odd",
			wantErr:      true,
		},
		{
			name:        "non json body",
			status:      http.StatusBadGateway,
			body:        "upstream down",
			expectedMsg: "Bad Gateway",
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/payments/verify", r.URL.Path)
				assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
				var got types.VerifyPaymentRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				assert.Equal(t, req, got)
				if s, ok := tt.body.(string); ok {
					w.WriteHeader(tt.status)
					w.Write([]byte(s))
					return
				}
				writeJSON(w, tt.status, tt.body)
			})
			client.Auth.SetAccessToken("token-1")

			resp, err := client.VerifyPayment(context.Background(), req)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.True(t, resp.Success)
				return
			}
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.expectedCode, apiErr.Code)
			assert.Equal(t, tt.expectedMsg, apiErr.Message)
			assert.Nil(t, resp)
		})
	}
}

func TestClient_AccessEndpoints(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/v1/companions/luna/access":
			writeJSON(w, http.StatusOK, types.CompanionAccess{CompanionID: "luna", HasAccess: true})
		case "/api/v1/access":
			writeJSON(w, http.StatusOK, types.AccessListResponse{
				Grants: []*types.AccessGrant{{ID: "g1", CompanionID: "luna"}},
				Total:  1,
			})
		default:
			writeJSON(w, http.StatusNotFound, types.ErrorResponse{Error: "companion not found", Code: "companion_not_found"})
		}
	})
	client.Auth.SetAccessToken("token-1")

	access, err := client.CompanionAccess(context.Background(), "luna")
	require.NoError(t, err)
	assert.True(t, access.HasAccess)

	list, err := client.ListAccess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)

	_, err = client.CompanionAccess(context.Background(), "ghost")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "companion_not_found", apiErr.Code)
}

func TestClient_PaymentRequirements(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/companions/luna/payment-requirements", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, x402types.PaymentRequirements{
			Scheme:            "exact",
			Network:           "solana-devnet",
			MaxAmountRequired: "10000000",
			PayTo:             "platform",
		})
	})

	reqs, err := client.PaymentRequirements(context.Background(), "luna")
	require.NoError(t, err)
	assert.Equal(t, "10000000", reqs.MaxAmountRequired)
	assert.Equal(t, "platform", reqs.PayTo)
}

func TestAPIError_Retryable(t *testing.T) {
	tests := []struct {
		name string
		err  APIError
		want bool
	}{
		{"chain unavailable", APIError{StatusCode: http.StatusBadGateway, Code: "chain_unavailable"}, true},
		{"internal", APIError{StatusCode: http.StatusInternalServerError, Code: "internal"}, true},
		{"lagging rpc node", APIError{StatusCode: http.StatusNotFound, Code: "transaction_not_found"}, true},
		{"rate limited", APIError{StatusCode: http.StatusTooManyRequests, Code: "rate_limited"}, true},
		{"gateway without body", APIError{StatusCode: http.StatusServiceUnavailable}, true},
		{"amount mismatch", APIError{StatusCode: http.StatusPaymentRequired, Code: "amount_mismatch"}, false},
		{"signature reused", APIError{StatusCode: http.StatusConflict, Code: "signature_reused"}, false},
		{"price tampering", APIError{StatusCode: http.StatusBadRequest, Code: "price_mismatch"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Retryable())
		})
	}
}
