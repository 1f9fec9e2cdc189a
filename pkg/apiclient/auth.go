package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/sigweihq/companionpay/pkg/types"
	"github.com/sigweihq/companionpay/pkg/utils"
)

// ErrNotAuthenticated is returned by protected calls made before sign-in
var ErrNotAuthenticated = errors.New("not authenticated: no access token")

// AuthClient handles wallet-based authentication with the companionpay API
type AuthClient struct {
	baseURL     string
	httpClient  *http.Client
	accessToken string
	tokenMutex  sync.RWMutex
}

func newAuthClient(baseURL string, httpClient *http.Client) *AuthClient {
	return &AuthClient{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// SignIn authenticates a wallet. A NewUser response means the wallet has no
// account yet and Register should be called; no token is stored in that case.
// POST /api/v1/auth/wallet/signin
func (c *AuthClient) SignIn(ctx context.Context, walletAddress string) (*types.AuthResponse, error) {
	reqBody := types.WalletSignInRequest{WalletAddress: walletAddress}
	result, err := utils.MakeJSONRequest[types.AuthResponse](ctx, c.httpClient, http.MethodPost, c.baseURL+"/api/v1/auth/wallet/signin", reqBody, nil, "signin")
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", decodeError(err))
	}
	if !result.NewUser {
		c.SetAccessToken(result.AccessToken)
	}
	return result, nil
}

// Register creates the account and profile for a wallet and stores the session
// POST /api/v1/auth/wallet/register
func (c *AuthClient) Register(ctx context.Context, req types.WalletRegisterRequest) (*types.AuthResponse, error) {
	result, err := utils.MakeJSONRequest[types.AuthResponse](ctx, c.httpClient, http.MethodPost, c.baseURL+"/api/v1/auth/wallet/register", req, nil, "register")
	if err != nil {
		return nil, fmt.Errorf("failed to register: %w", decodeError(err))
	}
	c.SetAccessToken(result.AccessToken)
	return result, nil
}

// UsernameAvailable checks a username before registration
// GET /api/v1/auth/username-available?username=...
func (c *AuthClient) UsernameAvailable(ctx context.Context, username string) (*types.UsernameAvailability, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/auth/username-available")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("username", username)
	u.RawQuery = q.Encode()

	result, err := utils.MakeJSONRequest[types.UsernameAvailability](ctx, c.httpClient, http.MethodGet, u.String(), nil, nil, "username-available")
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", decodeError(err))
	}
	return result, nil
}

// SetAccessToken stores the session token (thread-safe)
func (c *AuthClient) SetAccessToken(token string) {
	c.tokenMutex.Lock()
	defer c.tokenMutex.Unlock()
	c.accessToken = token
}

// GetAccessToken retrieves the current session token (thread-safe)
func (c *AuthClient) GetAccessToken() string {
	c.tokenMutex.RLock()
	defer c.tokenMutex.RUnlock()
	return c.accessToken
}

// ClearTokens forgets the session
func (c *AuthClient) ClearTokens() {
	c.SetAccessToken("")
}

// IsAuthenticated returns true if a session token is available
func (c *AuthClient) IsAuthenticated() bool {
	return c.GetAccessToken() != ""
}

func (c *AuthClient) authHeaders() (map[string]string, error) {
	token := c.GetAccessToken()
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}
