package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sigweihq/companionpay/pkg/apiclient"
	"github.com/sigweihq/companionpay/pkg/chains"
	"github.com/sigweihq/companionpay/pkg/constants"
	"github.com/sigweihq/companionpay/pkg/types"
	"github.com/sigweihq/companionpay/pkg/utils"
)

// State is a step of a purchase attempt
type State string

const (
	StateIdle                   State = "idle"
	StateCheckingBalance        State = "checking_balance"
	StateBuildingTransaction    State = "building_transaction"
	StateAwaitingWalletApproval State = "awaiting_wallet_approval"
	StateSubmitted              State = "submitted"
	StateConfirming             State = "confirming"
	StateVerifyingOnBackend     State = "verifying_on_backend"
	StateSucceeded              State = "succeeded"
	StateFailed                 State = "failed"
)

// Progress is emitted on every state transition
type Progress struct {
	State     State
	Message   string
	Signature string
}

// BackendVerifier is the server verification endpoint. A non-nil error is a
// rejection; *apiclient.APIError carries the server's reason.
type BackendVerifier interface {
	VerifyPayment(ctx context.Context, req types.VerifyPaymentRequest) (*types.VerifyPaymentResponse, error)
}

// ConfirmationConfig bounds confirmation polling
type ConfirmationConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

type Config struct {
	Network           string
	PlatformWallet    string
	FeeBufferLamports uint64
	Commitment        chains.Commitment
	Confirmation      ConfirmationConfig
}

// DefaultConfig returns the production thresholds for network
func DefaultConfig(network string) Config {
	return Config{
		Network:           network,
		PlatformWallet:    constants.DefaultPlatformWallet,
		FeeBufferLamports: constants.FeeBufferLamports,
		Commitment:        chains.CommitmentConfirmed,
		Confirmation: ConfirmationConfig{
			MaxAttempts:  constants.ConfirmationMaxAttempts,
			InitialDelay: constants.ConfirmationInitialDelay,
			Multiplier:   constants.ConfirmationMultiplier,
			MaxDelay:     constants.ConfirmationMaxDelay,
		},
	}
}

// Request identifies what is being bought. Price is the companion's access
// price in SOL as shown to the user.
type Request struct {
	CompanionID string
	Price       float64
}

// Result describes a successful purchase
type Result struct {
	Transaction types.SubmittedTransaction
	ExplorerURL string
	Message     string
	// ConfirmAttempts is the number of status checks confirmation took
	ConfirmAttempts int
}

// Orchestrator drives one purchase attempt at a time through balance check,
// transfer, confirmation and server verification. Steps run strictly in order.
type Orchestrator struct {
	rpc        chains.RPCClient
	wallet     Wallet
	backend    BackendVerifier
	cfg        Config
	logger     *slog.Logger
	onProgress func(Progress)
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithProgress registers the transition callback. It is called synchronously.
func WithProgress(fn func(Progress)) Option {
	return func(o *Orchestrator) {
		o.onProgress = fn
	}
}

// WithSleep replaces the delay between confirmation checks
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

func New(chain chains.ChainAdapter, wallet Wallet, backend BackendVerifier, cfg Config, opts ...Option) *Orchestrator {
	defaults := DefaultConfig(chain.Network())
	if cfg.Network == "" {
		cfg.Network = chain.Network()
	}
	if cfg.PlatformWallet == "" {
		cfg.PlatformWallet = defaults.PlatformWallet
	}
	if cfg.Commitment == "" {
		cfg.Commitment = defaults.Commitment
	}
	if cfg.Confirmation.MaxAttempts <= 0 {
		cfg.Confirmation = defaults.Confirmation
	}
	if cfg.Confirmation.Multiplier < 1 {
		cfg.Confirmation.Multiplier = 1
	}

	o := &Orchestrator{
		rpc:     chain.RPCClient(),
		wallet:  wallet,
		backend: backend,
		cfg:     cfg,
		logger:  slog.Default(),
		sleep:   sleepContext,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Purchase runs a full attempt. On failure the error is a *Failure; once a
// transaction was submitted its signature is on the failure for recovery.
func (o *Orchestrator) Purchase(ctx context.Context, req Request) (*Result, error) {
	o.emit(StateIdle, "", "Starting purchase")

	lamports := utils.SOLToLamports(req.Price)
	if req.CompanionID == "" || math.IsNaN(req.Price) || lamports == 0 {
		return nil, o.fail(StateIdle, FailureInvalidRequest, "", fmt.Errorf("invalid purchase request for %q", req.CompanionID))
	}
	recipient, err := solana.PublicKeyFromBase58(o.cfg.PlatformWallet)
	if err != nil {
		return nil, o.fail(StateIdle, FailureInvalidRequest, "", fmt.Errorf("invalid platform wallet: %w", err))
	}
	payer := o.wallet.PublicKey()

	o.emit(StateCheckingBalance, "", "Checking wallet balance")
	balance, err := o.rpc.GetBalance(ctx, payer.String())
	if err != nil {
		return nil, o.fail(StateCheckingBalance, classify(err), "", err)
	}
	required := lamports + o.cfg.FeeBufferLamports
	if balance < required {
		return nil, o.fail(StateCheckingBalance, FailureInsufficientFunds, "",
			fmt.Errorf("balance %d lamports is below required %d", balance, required))
	}

	o.emit(StateBuildingTransaction, "", "Preparing transaction")
	blockhash, err := o.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, o.fail(StateBuildingTransaction, classify(err), "", err)
	}
	hash, err := solana.HashFromBase58(blockhash.Hash)
	if err != nil {
		return nil, o.fail(StateBuildingTransaction, FailureUnknown, "", fmt.Errorf("invalid blockhash %q: %w", blockhash.Hash, err))
	}
	intent := types.TransactionIntent{
		Payer:          payer.String(),
		Recipient:      recipient.String(),
		AmountLamports: lamports,
		CompanionID:    req.CompanionID,
	}
	tx, err := utils.BuildNativeTransferTransaction(payer, recipient, intent.AmountLamports, hash)
	if err != nil {
		return nil, o.fail(StateBuildingTransaction, FailureUnknown, "", err)
	}

	o.emit(StateAwaitingWalletApproval, "", "Approve the transaction in your wallet")
	if err := o.wallet.SignTransaction(ctx, tx); err != nil {
		return nil, o.fail(StateAwaitingWalletApproval, classify(err), "", err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, o.fail(StateAwaitingWalletApproval, FailureUnknown, "", fmt.Errorf("failed to encode transaction: %w", err))
	}
	// the first signature is the transaction id, known before it is sent
	signature := tx.Signatures[0].String()
	submitted := &types.SubmittedTransaction{
		Signature:         signature,
		SubmittedAt:       o.now(),
		ExpectedAmount:    intent.AmountLamports,
		ExpectedRecipient: intent.Recipient,
		Status:            types.SubmissionPending,
	}

	timeoutKind := FailureConfirmationTimeout
	sent, err := o.rpc.SendRawTransaction(ctx, raw)
	switch {
	case err != nil && !mayHaveLanded(err):
		return nil, o.fail(StateAwaitingWalletApproval, classify(err), "", err)
	case err != nil:
		// a timed out send may still have been forwarded to a leader; a
		// blind retry here would pay twice
		timeoutKind = FailureSubmissionUnknown
		o.logger.Warn("purchase submission outcome unknown, confirming by signature",
			"companion_id", req.CompanionID,
			"signature", signature,
			"error", err)
		o.emit(StateSubmitted, signature, "Submission not acknowledged, checking the network")
	default:
		if sent != "" && sent != signature {
			o.logger.Warn("node returned an unexpected signature", "expected", signature, "returned", sent)
		}
		o.emit(StateSubmitted, signature, "Transaction submitted")
		o.logger.Info("purchase transaction submitted",
			"companion_id", req.CompanionID,
			"signature", signature,
			"lamports", lamports)
	}

	return o.confirmAndVerify(ctx, req, submitted, timeoutKind)
}

// Resume confirms and verifies a transaction submitted by an earlier attempt,
// for example after the app restarted mid-purchase
func (o *Orchestrator) Resume(ctx context.Context, req Request, signature string) (*Result, error) {
	if req.CompanionID == "" || signature == "" {
		return nil, o.fail(StateIdle, FailureInvalidRequest, signature, errors.New("companion id and signature are required"))
	}
	submitted := &types.SubmittedTransaction{
		Signature:         signature,
		SubmittedAt:       o.now(),
		ExpectedAmount:    utils.SOLToLamports(req.Price),
		ExpectedRecipient: o.cfg.PlatformWallet,
		Status:            types.SubmissionPending,
	}
	return o.confirmAndVerify(ctx, req, submitted, FailureConfirmationTimeout)
}

func (o *Orchestrator) confirmAndVerify(ctx context.Context, req Request, submitted *types.SubmittedTransaction, timeoutKind FailureKind) (*Result, error) {
	signature := submitted.Signature

	o.emit(StateConfirming, signature, "Waiting for network confirmation")
	attempts, err := o.confirm(ctx, submitted, timeoutKind)
	if err != nil {
		return nil, err
	}
	submitted.Status = types.SubmissionConfirmed

	o.emit(StateVerifyingOnBackend, signature, "Verifying payment")
	resp, err := o.backend.VerifyPayment(ctx, types.VerifyPaymentRequest{
		CompanionID:          req.CompanionID,
		TransactionSignature: signature,
		Amount:               req.Price,
	})
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			f := o.failSubmitted(StateVerifyingOnBackend, FailureVerificationRejected, submitted, err)
			if apiErr.Message != "" {
				f.Message = apiErr.Message
			}
			return nil, f
		}
		return nil, o.failSubmitted(StateVerifyingOnBackend, FailureVerificationFailed, submitted, err)
	}

	msg := resp.Message
	if msg == "" {
		msg = "Access granted"
	}
	o.emit(StateSucceeded, signature, msg)
	return &Result{
		Transaction:     *submitted,
		ExplorerURL:     utils.ExplorerURL(o.cfg.Network, signature),
		Message:         msg,
		ConfirmAttempts: attempts,
	}, nil
}

// confirm polls the recent status cache with growing delays. The final
// attempt also asks for the full-history status, since a missed
// confirmation must not be reported as a timeout.
func (o *Orchestrator) confirm(ctx context.Context, submitted *types.SubmittedTransaction, timeoutKind FailureKind) (int, error) {
	cfg := o.cfg.Confirmation
	signature := submitted.Signature
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := o.sleep(ctx, delay); err != nil {
				submitted.Status = types.SubmissionTimedOut
				return attempt - 1, o.failSubmitted(StateConfirming, timeoutKind, submitted, err)
			}
			delay = nextDelay(delay, cfg)
		}

		status, err := o.rpc.ConfirmTransaction(ctx, signature, o.cfg.Commitment)
		if err != nil {
			lastErr = err
			o.logger.Debug("confirmation check failed", "signature", signature, "attempt", attempt, "error", err)
		} else if status.Status == chains.StatusFailed {
			return attempt, o.txFailed(submitted, status)
		} else if status.Reached(o.cfg.Commitment) {
			return attempt, nil
		}

		if attempt == cfg.MaxAttempts {
			final, err := o.rpc.GetSignatureStatus(ctx, signature)
			if err != nil {
				lastErr = err
				break
			}
			if final.Status == chains.StatusFailed {
				return attempt, o.txFailed(submitted, final)
			}
			if final.Reached(o.cfg.Commitment) {
				o.logger.Info("confirmation found by status lookup", "signature", signature, "attempts", attempt)
				return attempt, nil
			}
		}

		o.emit(StateConfirming, signature, fmt.Sprintf("Still confirming (check %d of %d)", attempt, cfg.MaxAttempts))
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("not confirmed after %d checks", cfg.MaxAttempts)
	}
	submitted.Status = types.SubmissionTimedOut
	return cfg.MaxAttempts, o.failSubmitted(StateConfirming, timeoutKind, submitted, lastErr)
}

func (o *Orchestrator) txFailed(submitted *types.SubmittedTransaction, status *chains.SignatureStatus) *Failure {
	submitted.Status = types.SubmissionFailed
	return o.failSubmitted(StateConfirming, FailureTransactionFailed, submitted, fmt.Errorf("on-chain error: %s", status.Err))
}

func nextDelay(d time.Duration, cfg ConfirmationConfig) time.Duration {
	next := time.Duration(float64(d) * cfg.Multiplier)
	if cfg.MaxDelay > 0 && next > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return next
}

func (o *Orchestrator) fail(state State, kind FailureKind, signature string, err error) *Failure {
	f := &Failure{
		Kind:      kind,
		State:     state,
		Message:   kind.Remedy(),
		Signature: signature,
		Err:       err,
	}
	if signature != "" {
		f.ExplorerURL = utils.ExplorerURL(o.cfg.Network, signature)
	}
	if kind == FailureUnknown {
		o.logger.Error("purchase failed", "state", state, "signature", signature, "error", err)
	} else {
		o.logger.Warn("purchase failed", "state", state, "kind", kind, "signature", signature, "error", err)
	}
	o.emit(StateFailed, signature, f.Message)
	return f
}

// failSubmitted fails an attempt whose transaction may be on chain
func (o *Orchestrator) failSubmitted(state State, kind FailureKind, submitted *types.SubmittedTransaction, err error) *Failure {
	snapshot := *submitted
	f := &Failure{
		Kind:        kind,
		State:       state,
		Message:     kind.Remedy(),
		Signature:   submitted.Signature,
		ExplorerURL: utils.ExplorerURL(o.cfg.Network, submitted.Signature),
		Transaction: &snapshot,
		Err:         err,
	}
	o.logger.Warn("purchase failed after submission",
		"state", state,
		"kind", kind,
		"signature", submitted.Signature,
		"status", submitted.Status,
		"error", err)
	o.emit(StateFailed, submitted.Signature, f.Message)
	return f
}

func (o *Orchestrator) emit(state State, signature, message string) {
	if o.onProgress != nil {
		o.onProgress(Progress{State: state, Message: message, Signature: signature})
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
