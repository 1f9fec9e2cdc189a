package purchase

import (
	"errors"
	"fmt"

	"github.com/sigweihq/companionpay/pkg/chains"
	"github.com/sigweihq/companionpay/pkg/types"
)

// FailureKind tells the UI which remedy to offer
type FailureKind string

const (
	FailureInvalidRequest       FailureKind = "invalid_request"
	FailureInsufficientFunds    FailureKind = "insufficient_funds"
	FailureUserRejected         FailureKind = "user_rejected"
	FailureNetwork              FailureKind = "network"
	FailureRateLimited          FailureKind = "rate_limited"
	FailureExpired              FailureKind = "expired"
	FailureTransactionFailed    FailureKind = "transaction_failed"
	FailureConfirmationTimeout  FailureKind = "confirmation_timeout"
	FailureSubmissionUnknown    FailureKind = "submission_unknown"
	FailureVerificationRejected FailureKind = "verification_rejected"
	FailureVerificationFailed   FailureKind = "verification_unavailable"
	FailureUnknown              FailureKind = "unknown"
)

// Remedy is the user-facing guidance for a failure kind
func (k FailureKind) Remedy() string {
	switch k {
	case FailureInvalidRequest:
		return "This companion cannot be purchased right now."
	case FailureInsufficientFunds:
		return "Insufficient balance. Add SOL to your wallet to cover the price and network fee."
	case FailureUserRejected:
		return "Transaction cancelled in your wallet. Nothing was charged."
	case FailureNetwork:
		return "The Solana network is unreachable. We retried automatically; check your connection and try again."
	case FailureRateLimited:
		return "The network is busy. Wait a moment and try again."
	case FailureExpired:
		return "The transaction expired before it was processed. Nothing was charged; please try again."
	case FailureTransactionFailed:
		return "The transaction failed on chain. Nothing was transferred."
	case FailureConfirmationTimeout:
		return "Your payment was sent but is not confirmed yet. Check the explorer link; access unlocks once it confirms."
	case FailureSubmissionUnknown:
		return "We could not tell whether your payment reached the network. Do not pay again: check the explorer link and resume with this signature."
	case FailureVerificationRejected:
		return "Your payment could not be verified."
	case FailureVerificationFailed:
		return "Your payment was sent but could not be verified yet. Retry verification with your transaction signature."
	default:
		return "Something went wrong. Please try again."
	}
}

// Failure is returned when a purchase attempt ends in the Failed state. A
// failure after submission always carries the signature.
type Failure struct {
	Kind        FailureKind
	State       State // state the attempt was in when it failed
	Message     string
	Signature   string
	ExplorerURL string
	// Transaction is the submitted transfer with its final status, nil when
	// the attempt failed before submission
	Transaction *types.SubmittedTransaction
	Err         error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("purchase failed in %s (%s): %s", f.State, f.Kind, f.Message)
	if f.Signature != "" {
		msg += " [signature " + f.Signature + "]"
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure extracts a *Failure from err
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}

// classify maps an error to a failure kind. Chain errors carry their kind
// from the adapter; wallet errors are untyped and fall back to message
// matching inside chains.KindOf.
func classify(err error) FailureKind {
	switch chains.KindOf(err) {
	case chains.KindRejected:
		return FailureUserRejected
	case chains.KindInsufficientFunds:
		return FailureInsufficientFunds
	case chains.KindRateLimited:
		return FailureRateLimited
	case chains.KindNetwork, chains.KindTimeout:
		return FailureNetwork
	case chains.KindExpired:
		return FailureExpired
	default:
		return FailureUnknown
	}
}

// mayHaveLanded reports whether a failed send could still have reached a
// leader. Only errors the cluster returns after rejecting the transaction
// prove that it was never accepted.
func mayHaveLanded(err error) bool {
	switch chains.KindOf(err) {
	case chains.KindRejected, chains.KindInsufficientFunds, chains.KindExpired:
		return false
	default:
		return true
	}
}
