package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sigweihq/companionpay/pkg/chains"
	"github.com/sigweihq/companionpay/pkg/chains/svm"
	"github.com/sigweihq/companionpay/pkg/constants"
	"github.com/sigweihq/companionpay/pkg/metrics"
	"github.com/sigweihq/companionpay/pkg/notify"
	"github.com/sigweihq/companionpay/pkg/store"
	"github.com/sigweihq/companionpay/pkg/types"
	"github.com/sigweihq/companionpay/pkg/utils"
)

// Caller is the authenticated identity behind a verification request
type Caller struct {
	UserID        string
	WalletAddress string
}

// Store is the persistence surface the verifier needs
type Store interface {
	GetCompanion(ctx context.Context, id string) (*store.Companion, error)
	HasAccess(ctx context.Context, userID, companionID string) (bool, error)
	GrantAccess(ctx context.Context, grant *store.AccessGrant, earning *store.CreatorEarning) (bool, error)
	GetProfileByUserID(ctx context.Context, userID string) (*store.Profile, error)
}

// Verifier re-validates a client's payment claim against the chain before
// granting companion access
type Verifier struct {
	store          Store
	chain          chains.ChainAdapter
	platformWallet string
	notifier       notify.Notifier
	metrics        *metrics.Metrics
	logger         *slog.Logger
	now            func() time.Time

	pending sync.WaitGroup
}

type Option func(*Verifier)

func WithPlatformWallet(address string) Option {
	return func(v *Verifier) {
		v.platformWallet = address
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(v *Verifier) {
		v.notifier = n
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) {
		v.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithClock overrides the time source for grant timestamps
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

func New(s Store, chain chains.ChainAdapter, opts ...Option) *Verifier {
	v := &Verifier{
		store:          s,
		chain:          chain,
		platformWallet: constants.DefaultPlatformWallet,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks that the transaction paid the platform wallet the
// companion's price and grants the caller access. Replays for a pair that
// already has access succeed without writing.
func (v *Verifier) Verify(ctx context.Context, caller Caller, req types.VerifyPaymentRequest) (*types.VerifyPaymentResponse, error) {
	resp, err := v.verify(ctx, caller, req)

	result := "success"
	var verr *VerificationError
	if errors.As(err, &verr) {
		result = string(verr.Code)
		v.logger.Warn("Payment verification rejected",
			"code", verr.Code,
			"user_id", caller.UserID,
			"companion_id", req.CompanionID,
			"signature", req.TransactionSignature,
			"error", err)
	}
	v.metrics.VerificationResult(result)
	return resp, err
}

func (v *Verifier) verify(ctx context.Context, caller Caller, req types.VerifyPaymentRequest) (*types.VerifyPaymentResponse, error) {
	if strings.TrimSpace(caller.UserID) == "" || strings.TrimSpace(caller.WalletAddress) == "" {
		return nil, reject(CodeUnauthenticated, "authentication required", nil)
	}
	if req.CompanionID == "" || req.TransactionSignature == "" {
		return nil, reject(CodeInvalidRequest, "companionId and transactionSignature are required", nil)
	}
	if math.IsNaN(req.Amount) || req.Amount <= 0 {
		return nil, reject(CodeInvalidRequest, "amount must be positive", nil)
	}

	companion, err := v.store.GetCompanion(ctx, req.CompanionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, reject(CodeCompanionNotFound, "companion not found", nil)
	}
	if err != nil {
		return nil, reject(CodeInternal, "could not load companion", err)
	}

	// price tampering is rejected before touching the chain
	if !utils.AmountsEqual(req.Amount, companion.AccessPrice) {
		v.logger.Warn("Claimed amount differs from companion price",
			"user_id", caller.UserID,
			"companion_id", companion.ID,
			"claimed", req.Amount,
			"price", companion.AccessPrice)
		return nil, reject(CodePriceMismatch,
			fmt.Sprintf("amount %.9f does not match the access price %.9f", req.Amount, companion.AccessPrice), nil)
	}

	validator := v.chain.TransactionValidator()
	if err := validator.ValidateSignature(req.TransactionSignature); err != nil {
		return nil, reject(CodeInvalidSignature, "transaction signature is malformed", err)
	}

	receipt, err := v.chain.RPCClient().GetTransaction(ctx, req.TransactionSignature)
	if err != nil {
		if chains.KindOf(err) == chains.KindNotFound {
			return nil, reject(CodeTransactionNotFound, "transaction not found on chain; it may not be confirmed yet", err)
		}
		return nil, reject(CodeChainUnavailable, "could not reach the Solana network, try again shortly", err)
	}

	transfer, err := validator.ValidateTransfer(receipt, chains.ExpectedTransfer{
		Recipient: v.platformWallet,
		AmountSOL: companion.AccessPrice,
	})
	switch {
	case err == nil:
	case errors.Is(err, svm.ErrTransactionFailed):
		return nil, reject(CodeTransactionFailed, "transaction failed on chain", err)
	case errors.Is(err, svm.ErrRecipientMismatch):
		return nil, reject(CodeRecipientMismatch, "transaction does not pay the platform wallet", err)
	case errors.Is(err, svm.ErrAmountMismatch):
		return nil, reject(CodeAmountMismatch, "transferred amount does not match the access price", err)
	default:
		return nil, reject(CodeInternal, "could not validate transaction", err)
	}
	// signatures are public; only the wallet that paid may redeem one.
	// Session addresses are stored lower-cased.
	if !strings.EqualFold(transfer.From, caller.WalletAddress) {
		v.logger.Warn("Payment claimed by a different wallet",
			"user_id", caller.UserID,
			"caller_wallet", caller.WalletAddress,
			"payer", transfer.From,
			"signature", req.TransactionSignature)
		return nil, reject(CodePayerMismatch, "this transaction was paid from a different wallet", nil)
	}

	hasAccess, err := v.store.HasAccess(ctx, caller.UserID, companion.ID)
	if err != nil {
		return nil, reject(CodeInternal, "could not check access", err)
	}
	if hasAccess {
		return alreadyGranted(), nil
	}

	now := v.now().UTC()
	grant := &store.AccessGrant{
		ID:                   ulid.Make().String(),
		UserID:               caller.UserID,
		CompanionID:          companion.ID,
		AccessPrice:          companion.AccessPrice,
		TransactionSignature: req.TransactionSignature,
		PurchasedAt:          now,
	}
	var earning *store.CreatorEarning
	if companion.CreatorID != nil && *companion.CreatorID != "" {
		earning = &store.CreatorEarning{
			ID:          ulid.Make().String(),
			CreatorID:   *companion.CreatorID,
			CompanionID: companion.ID,
			Amount:      utils.RoundSOL(companion.AccessPrice * constants.CreatorRevenueShare),
			Status:      constants.EarningStatusPending,
			CreatedAt:   now,
		}
	}

	created, err := v.store.GrantAccess(ctx, grant, earning)
	if err != nil {
		return nil, reject(CodeInternal, "could not record access", err)
	}
	if !created {
		// lost an insert race, or the signature already backs another grant
		hasAccess, err := v.store.HasAccess(ctx, caller.UserID, companion.ID)
		if err != nil {
			return nil, reject(CodeInternal, "could not check access", err)
		}
		if hasAccess {
			return alreadyGranted(), nil
		}
		return nil, reject(CodeSignatureReused, "this transaction has already been used for another purchase", nil)
	}

	v.metrics.GrantCreated()
	v.logger.Info("Access granted",
		"user_id", caller.UserID,
		"companion_id", companion.ID,
		"signature", req.TransactionSignature,
		"received_lamports", transfer.Received,
		"creator_earning", earning != nil)

	v.dispatchConfirmation(ctx, caller, companion, req.TransactionSignature)

	return &types.VerifyPaymentResponse{
		Success: true,
		Message: fmt.Sprintf("Payment verified, chat with %s unlocked", companion.Name),
	}, nil
}

// dispatchConfirmation sends the receipt in the background. It outlives the
// request; failures are only logged.
func (v *Verifier) dispatchConfirmation(ctx context.Context, caller Caller, companion *store.Companion, signature string) {
	if v.notifier == nil {
		return
	}
	v.pending.Add(1)
	go func() {
		defer v.pending.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.NotificationTimeout)
		defer cancel()

		profile, err := v.store.GetProfileByUserID(ctx, caller.UserID)
		if err != nil {
			v.logger.Warn("Skipping purchase confirmation, profile unavailable", "user_id", caller.UserID, "error", err)
			return
		}
		if profile.ContactEmail == nil || *profile.ContactEmail == "" {
			v.logger.Debug("Skipping purchase confirmation, no contact email", "user_id", caller.UserID)
			return
		}

		err = v.notifier.SendPurchaseConfirmation(ctx, notify.PurchaseConfirmation{
			RecipientEmail:       *profile.ContactEmail,
			RecipientName:        profile.DisplayName,
			CompanionName:        companion.Name,
			Amount:               companion.AccessPrice,
			TransactionSignature: signature,
			Network:              v.chain.Network(),
		})
		v.metrics.NotificationResult(err)
		if err != nil {
			v.logger.Error("Purchase confirmation failed", "user_id", caller.UserID, "signature", signature, "error", err)
		}
	}()
}

// Wait blocks until background notifications have finished
func (v *Verifier) Wait() {
	v.pending.Wait()
}

func alreadyGranted() *types.VerifyPaymentResponse {
	return &types.VerifyPaymentResponse{Success: true, Message: "Access already granted"}
}
