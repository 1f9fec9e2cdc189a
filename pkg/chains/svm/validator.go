package svm

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/sigweihq/companionpay/pkg/chains"
	"github.com/sigweihq/companionpay/pkg/utils"
)

// Validation failures, distinguishable with errors.Is
var (
	ErrTransactionFailed = errors.New("transaction failed on chain")
	ErrRecipientMismatch = errors.New("no transfer to the expected recipient")
	ErrAmountMismatch    = errors.New("transferred amount does not match")
	ErrInvalidSignature  = errors.New("invalid transaction signature")
)

// TransactionValidator implements chains.TransactionValidator for SVM chains
type TransactionValidator struct{}

// NewTransactionValidator creates a new SVM transaction validator
func NewTransactionValidator() *TransactionValidator {
	return &TransactionValidator{}
}

// ValidateTransfer implements chains.TransactionValidator.
// The amount is taken from the recipient's balance delta, not from the
// instruction data, and compared in SOL within the amount epsilon.
func (v *TransactionValidator) ValidateTransfer(receipt chains.TransactionReceipt, expected chains.ExpectedTransfer) (*chains.TransferEvent, error) {
	// Verify transaction succeeded
	if !receipt.IsSuccessful() {
		return nil, fmt.Errorf("%w: %s", ErrTransactionFailed, receipt.ExecutionError())
	}

	transferEvent, err := receipt.GetTransferEvent(expected.Recipient)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrRecipientMismatch, expected.Recipient, err)
	}

	// transferEvent.To is the matched destination; check it explicitly anyway
	if !v.AddressesEqual(transferEvent.To, expected.Recipient) {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrRecipientMismatch, expected.Recipient, transferEvent.To)
	}

	received := utils.LamportsToSOL(transferEvent.Received)
	if !utils.AmountsEqual(received, expected.AmountSOL) {
		return nil, fmt.Errorf("%w: expected %.9f SOL, recipient received %.9f SOL",
			ErrAmountMismatch, expected.AmountSOL, received)
	}

	return transferEvent, nil
}

// ValidateSignature implements chains.TransactionValidator.
// SVM signatures are base58 encodings of 64 bytes.
func (v *TransactionValidator) ValidateSignature(signature string) error {
	if len(signature) < 80 || len(signature) > 90 {
		return fmt.Errorf("%w: unexpected length %d", ErrInvalidSignature, len(signature))
	}
	if _, err := solana.SignatureFromBase58(signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// AddressesEqual implements chains.TransactionValidator
// SVM addresses are case-sensitive (base58 encoding)
func (v *TransactionValidator) AddressesEqual(addr1, addr2 string) bool {
	return addr1 == addr2
}
