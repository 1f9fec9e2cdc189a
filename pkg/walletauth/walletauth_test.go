package walletauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sigweihq/companionpay/pkg/constants"
	"github.com/sigweihq/companionpay/pkg/store"
	"github.com/sigweihq/companionpay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memoryStore struct {
	mu       sync.Mutex
	accounts map[string]*store.Account // by email
	profiles map[string]*store.Profile // by user id
	failWith error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts: map[string]*store.Account{},
		profiles: map[string]*store.Profile{},
	}
}

func (m *memoryStore) GetAccountByEmail(_ context.Context, email string) (*store.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	a, ok := m.accounts[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memoryStore) GetProfileByWallet(_ context.Context, wallet string) (*store.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if strings.EqualFold(p.WalletAddress, wallet) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memoryStore) GetProfileByUserID(_ context.Context, userID string) (*store.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memoryStore) UsernameTaken(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if strings.EqualFold(p.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) CreateAccountWithProfile(_ context.Context, account *store.Account, profile *store.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.Email]; ok {
		return store.ErrDuplicate
	}
	for _, p := range m.profiles {
		if strings.EqualFold(p.Username, profile.Username) || strings.EqualFold(p.WalletAddress, profile.WalletAddress) {
			return store.ErrDuplicate
		}
	}
	profile.UserID = account.ID
	m.accounts[account.Email] = account
	m.profiles[account.ID] = profile
	return nil
}

func (m *memoryStore) MigrateCredentials(_ context.Context, accountID, email, hash, wallet string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for oldEmail, a := range m.accounts {
		if a.ID == accountID {
			delete(m.accounts, oldEmail)
			a.Email = email
			a.PasswordHash = hash
			m.accounts[email] = a
		}
	}
	if p, ok := m.profiles[accountID]; ok {
		p.WalletAddress = wallet
	}
	return nil
}

// seedLegacy stores an account the way it was written before normalization
func (m *memoryStore) seedLegacy(t *testing.T, id, address, username string) {
	t.Helper()
	creds := LegacyCredentials(address)
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.MinCost)
	require.NoError(t, err)
	m.accounts[creds.Email] = &store.Account{ID: id, Email: creds.Email, PasswordHash: string(hash)}
	m.profiles[id] = &store.Profile{UserID: id, WalletAddress: address, Username: username}
}

type stubIssuer struct{}

func (stubIssuer) Issue(userID, wallet string) (string, time.Time, error) {
	return "token-" + userID, time.Unix(1700000000, 0), nil
}

func newTestAuthenticator(s Store) *Authenticator {
	return NewAuthenticator(s, stubIssuer{}, WithBcryptCost(bcrypt.MinCost))
}

func TestDeriveCredentialsIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, DeriveCredentials("AbC123"), DeriveCredentials("abc123"))
	assert.Equal(t, DeriveCredentials(" ABC123 "), DeriveCredentials("abc123"))
	assert.NotEqual(t, LegacyCredentials("AbC123"), LegacyCredentials("abc123"))
	assert.Equal(t, "abc123", NormalizeAddress("  AbC123\n"))
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		username string
		valid    bool
	}{
		{"abc", true},
		{"luna_fan_2024", true},
		{"ABCDEFGHIJ0123456789", true},
		{"ab", false},
		{"ABCDEFGHIJ01234567890", false},
		{"has space", false},
		{"dash-name", false},
		{"émilie", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidUsername)
			}
		})
	}
}

func TestUsernameLengthFollowsConstants(t *testing.T) {
	assert.NoError(t, ValidateUsername(strings.Repeat("a", constants.UsernameMinLength)))
	assert.NoError(t, ValidateUsername(strings.Repeat("a", constants.UsernameMaxLength)))
	assert.ErrorIs(t, ValidateUsername(strings.Repeat("a", constants.UsernameMinLength-1)), ErrInvalidUsername)
	assert.ErrorIs(t, ValidateUsername(strings.Repeat("a", constants.UsernameMaxLength+1)), ErrInvalidUsername)
	assert.Contains(t, ErrInvalidUsername.Error(), "3-20")
}

func TestRegisterThenSignInWithDifferentCase(t *testing.T) {
	s := newMemoryStore()
	auth := newTestAuthenticator(s)
	ctx := context.Background()

	registered, err := auth.Register(ctx, types.WalletRegisterRequest{WalletAddress: "AbC123", Username: "luna_fan"})
	require.NoError(t, err)
	require.NotNil(t, registered.User)
	assert.Equal(t, "abc123", registered.User.WalletAddress)
	assert.Equal(t, "luna_fan", registered.User.DisplayName)
	assert.NotEmpty(t, registered.AccessToken)

	signedIn, err := auth.SignIn(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, signedIn.NewUser)
	assert.Equal(t, registered.User.ID, signedIn.User.ID)

	signedIn, err = auth.SignIn(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, signedIn.User.ID)
}

func TestSignInUnknownWalletIsNewUser(t *testing.T) {
	auth := newTestAuthenticator(newMemoryStore())

	resp, err := auth.SignIn(context.Background(), "Wallet999")
	require.NoError(t, err)
	assert.True(t, resp.NewUser)
	assert.Nil(t, resp.User)
	assert.Empty(t, resp.AccessToken)
}

func TestSignInDoesNotCreateAccounts(t *testing.T) {
	s := newMemoryStore()
	auth := newTestAuthenticator(s)

	_, err := auth.SignIn(context.Background(), "Wallet999")
	require.NoError(t, err)
	assert.Empty(t, s.accounts)
	assert.Empty(t, s.profiles)
}

func TestSignInLegacyAccountMigrates(t *testing.T) {
	s := newMemoryStore()
	s.seedLegacy(t, "user-legacy", "AbC123", "old_timer")
	auth := newTestAuthenticator(s)
	ctx := context.Background()

	resp, err := auth.SignIn(ctx, "AbC123")
	require.NoError(t, err)
	assert.Equal(t, "user-legacy", resp.User.ID)
	assert.Equal(t, "abc123", resp.User.WalletAddress)

	_, stillLegacy := s.accounts[LegacyCredentials("AbC123").Email]
	assert.False(t, stillLegacy)
	_, canonical := s.accounts[DeriveCredentials("AbC123").Email]
	assert.True(t, canonical)

	// any casing now works through the canonical path
	resp, err = auth.SignIn(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "user-legacy", resp.User.ID)
}

func TestSignInCredentialMismatch(t *testing.T) {
	s := newMemoryStore()
	s.seedLegacy(t, "user-legacy", "AbC123", "old_timer")
	auth := newTestAuthenticator(s)

	// neither canonical nor this casing's legacy pair exists, but the profile does
	_, err := auth.SignIn(context.Background(), "aBc123")
	assert.ErrorIs(t, err, ErrCredentialMismatch)
	assert.Len(t, s.accounts, 1)
}

func TestSignInStoreFailure(t *testing.T) {
	s := newMemoryStore()
	s.failWith = errors.New("connection refused")
	auth := newTestAuthenticator(s)

	_, err := auth.SignIn(context.Background(), "abc123")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCredentialMismatch)
}

func TestSignInRequiresAddress(t *testing.T) {
	auth := newTestAuthenticator(newMemoryStore())
	_, err := auth.SignIn(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestRegisterRejections(t *testing.T) {
	s := newMemoryStore()
	auth := newTestAuthenticator(s)
	ctx := context.Background()

	_, err := auth.Register(ctx, types.WalletRegisterRequest{WalletAddress: "wallet-a", Username: "first_user", DisplayName: "First"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		address  string
		username string
		want     error
	}{
		{"invalid username", "wallet-b", "no", ErrInvalidUsername},
		{"username taken case-insensitively", "wallet-b", "FIRST_USER", ErrUsernameTaken},
		{"wallet already registered", "WALLET-A", "second_user", ErrWalletRegistered},
		{"empty address", "", "third_user", ErrInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Register(ctx, types.WalletRegisterRequest{WalletAddress: tt.address, Username: tt.username})
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Len(t, s.profiles, 1)
}

func TestUsernameAvailable(t *testing.T) {
	s := newMemoryStore()
	auth := newTestAuthenticator(s)
	ctx := context.Background()
	_, err := auth.Register(ctx, types.WalletRegisterRequest{WalletAddress: "wallet-a", Username: "taken_name"})
	require.NoError(t, err)

	res, err := auth.UsernameAvailable(ctx, "free_name")
	require.NoError(t, err)
	assert.True(t, res.Available)

	res, err = auth.UsernameAvailable(ctx, "Taken_Name")
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, ErrUsernameTaken.Error(), res.Reason)

	res, err = auth.UsernameAvailable(ctx, "x")
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, ErrInvalidUsername.Error(), res.Reason)
}

func TestRegisterStoresContactEmail(t *testing.T) {
	s := newMemoryStore()
	auth := newTestAuthenticator(s)
	ctx := context.Background()

	resp, err := auth.Register(ctx, types.WalletRegisterRequest{
		WalletAddress: "wallet-a",
		Username:      "mail_fan",
		ContactEmail:  "  Fan@Example.com ",
	})
	require.NoError(t, err)

	profile, err := s.GetProfileByUserID(ctx, resp.User.ID)
	require.NoError(t, err)
	require.NotNil(t, profile.ContactEmail)
	assert.Equal(t, "fan@example.com", *profile.ContactEmail)

	resp, err = auth.Register(ctx, types.WalletRegisterRequest{WalletAddress: "wallet-b", Username: "quiet_fan"})
	require.NoError(t, err)
	profile, err = s.GetProfileByUserID(ctx, resp.User.ID)
	require.NoError(t, err)
	assert.Nil(t, profile.ContactEmail)
}
