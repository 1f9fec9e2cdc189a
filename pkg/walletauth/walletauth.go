package walletauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sigweihq/companionpay/pkg/constants"
	"github.com/sigweihq/companionpay/pkg/store"
	"github.com/sigweihq/companionpay/pkg/types"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidAddress     = errors.New("wallet address is required")
	ErrInvalidUsername    = fmt.Errorf("username must be %d-%d characters of letters, numbers or underscore", constants.UsernameMinLength, constants.UsernameMaxLength)
	ErrUsernameTaken      = errors.New("username is already taken")
	ErrWalletRegistered   = errors.New("wallet already has an account")
	ErrCredentialMismatch = errors.New("wallet profile exists but its credentials do not match; reset the cached wallet session and sign in again")
)

const credentialDomain = "wallet.companionpay.app"

var usernamePattern = regexp.MustCompile(fmt.Sprintf(`^[A-Za-z0-9_]{%d,%d}$`, constants.UsernameMinLength, constants.UsernameMaxLength))

// Credentials is the deterministic login pair derived from a wallet address
type Credentials struct {
	Email    string
	Password string
}

// Store is the persistence surface the authenticator needs
type Store interface {
	GetAccountByEmail(ctx context.Context, email string) (*store.Account, error)
	GetProfileByWallet(ctx context.Context, walletAddress string) (*store.Profile, error)
	GetProfileByUserID(ctx context.Context, userID string) (*store.Profile, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	CreateAccountWithProfile(ctx context.Context, account *store.Account, profile *store.Profile) error
	MigrateCredentials(ctx context.Context, accountID, email, passwordHash, walletAddress string) error
}

// TokenIssuer mints session tokens for authenticated users
type TokenIssuer interface {
	Issue(userID, walletAddress string) (string, time.Time, error)
}

type Authenticator struct {
	store      Store
	tokens     TokenIssuer
	bcryptCost int
	logger     *slog.Logger
}

type Option func(*Authenticator)

// WithBcryptCost overrides the hashing cost of derived passwords
func WithBcryptCost(cost int) Option {
	return func(a *Authenticator) {
		a.bcryptCost = cost
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewAuthenticator(s Store, tokens TokenIssuer, opts ...Option) *Authenticator {
	a := &Authenticator{
		store:      s,
		tokens:     tokens,
		bcryptCost: bcrypt.DefaultCost,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NormalizeAddress returns the canonical, lower-cased wallet address
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// DeriveCredentials maps an address to its canonical credential pair.
// Addresses differing only in case derive the same pair.
func DeriveCredentials(address string) Credentials {
	return deriveFrom(NormalizeAddress(address))
}

// LegacyCredentials derives the pair from the address as typed, which is
// how accounts created before normalization were stored
func LegacyCredentials(address string) Credentials {
	return deriveFrom(strings.TrimSpace(address))
}

func deriveFrom(address string) Credentials {
	return Credentials{
		Email:    address + "@" + credentialDomain,
		Password: "wallet:" + address,
	}
}

// ValidateUsername checks the username shape
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// SignIn authenticates a wallet. A wallet with no profile yields a NewUser
// response; SignIn never creates accounts.
func (a *Authenticator) SignIn(ctx context.Context, address string) (*types.AuthResponse, error) {
	canonical := NormalizeAddress(address)
	if canonical == "" {
		return nil, ErrInvalidAddress
	}

	account, err := a.authenticate(ctx, DeriveCredentials(address))
	if err != nil {
		return nil, err
	}

	if account == nil {
		legacy := LegacyCredentials(address)
		if legacy.Email != DeriveCredentials(address).Email {
			account, err = a.authenticate(ctx, legacy)
			if err != nil {
				return nil, err
			}
			if account != nil {
				if err := a.migrate(ctx, account, canonical); err != nil {
					return nil, err
				}
			}
		}
	}

	if account != nil {
		profile, err := a.store.GetProfileByUserID(ctx, account.ID)
		if err != nil {
			return nil, fmt.Errorf("load profile: %w", err)
		}
		return a.session(profile)
	}

	_, err = a.store.GetProfileByWallet(ctx, canonical)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &types.AuthResponse{NewUser: true}, nil
	case err != nil:
		return nil, fmt.Errorf("look up wallet profile: %w", err)
	default:
		a.logger.Warn("wallet credential mismatch", "wallet", canonical)
		return nil, ErrCredentialMismatch
	}
}

// Register creates the account and profile for a new wallet and signs it in
func (a *Authenticator) Register(ctx context.Context, req types.WalletRegisterRequest) (*types.AuthResponse, error) {
	address, username, displayName := req.WalletAddress, req.Username, req.DisplayName
	canonical := NormalizeAddress(address)
	if canonical == "" {
		return nil, ErrInvalidAddress
	}
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}

	taken, err := a.store.UsernameTaken(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if taken {
		return nil, ErrUsernameTaken
	}

	if _, err := a.store.GetProfileByWallet(ctx, canonical); err == nil {
		return nil, ErrWalletRegistered
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("look up wallet profile: %w", err)
	}

	creds := DeriveCredentials(address)
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), a.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash credentials: %w", err)
	}

	if displayName = strings.TrimSpace(displayName); displayName == "" {
		displayName = username
	}
	account := &store.Account{
		ID:           uuid.NewString(),
		Email:        creds.Email,
		PasswordHash: string(hash),
	}
	profile := &store.Profile{
		WalletAddress: canonical,
		Username:      username,
		DisplayName:   displayName,
	}
	if email := strings.ToLower(strings.TrimSpace(req.ContactEmail)); email != "" {
		profile.ContactEmail = &email
	}
	if err := a.store.CreateAccountWithProfile(ctx, account, profile); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// lost a race with another registration for the same name or wallet
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	a.logger.Info("wallet registered", "user_id", account.ID, "username", username)
	return a.session(profile)
}

// UsernameAvailable reports whether a username can be registered
func (a *Authenticator) UsernameAvailable(ctx context.Context, username string) (*types.UsernameAvailability, error) {
	result := &types.UsernameAvailability{Username: username}
	if err := ValidateUsername(username); err != nil {
		result.Reason = err.Error()
		return result, nil
	}
	taken, err := a.store.UsernameTaken(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if taken {
		result.Reason = ErrUsernameTaken.Error()
		return result, nil
	}
	result.Available = true
	return result, nil
}

// authenticate returns nil, nil when the credentials do not match an account
func (a *Authenticator) authenticate(ctx context.Context, creds Credentials) (*store.Account, error) {
	account, err := a.store.GetAccountByEmail(ctx, creds.Email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up account: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(creds.Password)) != nil {
		return nil, nil
	}
	return account, nil
}

func (a *Authenticator) migrate(ctx context.Context, account *store.Account, canonical string) error {
	creds := deriveFrom(canonical)
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), a.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash credentials: %w", err)
	}
	if err := a.store.MigrateCredentials(ctx, account.ID, creds.Email, string(hash), canonical); err != nil {
		return fmt.Errorf("migrate legacy credentials: %w", err)
	}
	a.logger.Info("migrated legacy wallet credentials", "user_id", account.ID)
	return nil
}

func (a *Authenticator) session(profile *store.Profile) (*types.AuthResponse, error) {
	token, expiresAt, err := a.tokens.Issue(profile.UserID, profile.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	return &types.AuthResponse{
		User: &types.User{
			ID:            profile.UserID,
			WalletAddress: profile.WalletAddress,
			Username:      profile.Username,
			DisplayName:   profile.DisplayName,
			CreatedAt:     profile.CreatedAt,
			UpdatedAt:     profile.UpdatedAt,
		},
		AccessToken: token,
		ExpiresAt:   expiresAt.Unix(),
	}, nil
}
