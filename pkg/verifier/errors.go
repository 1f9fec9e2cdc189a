package verifier

import (
	"fmt"
	"net/http"
)

// Code identifies why a verification was rejected
type Code string

const (
	CodeUnauthenticated     Code = "unauthenticated"
	CodeInvalidRequest      Code = "invalid_request"
	CodeCompanionNotFound   Code = "companion_not_found"
	CodePriceMismatch       Code = "price_mismatch"
	CodeInvalidSignature    Code = "invalid_signature"
	CodeTransactionNotFound Code = "transaction_not_found"
	CodeTransactionFailed   Code = "transaction_failed"
	CodeRecipientMismatch   Code = "recipient_mismatch"
	CodePayerMismatch       Code = "payer_mismatch"
	CodeAmountMismatch      Code = "amount_mismatch"
	CodeSignatureReused     Code = "signature_reused"
	CodeChainUnavailable    Code = "chain_unavailable"
	CodeInternal            Code = "internal"
)

// HTTPStatus maps a code to the status returned by the verify endpoint
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeInvalidRequest, CodeInvalidSignature, CodePriceMismatch:
		return http.StatusBadRequest
	case CodeCompanionNotFound, CodeTransactionNotFound:
		return http.StatusNotFound
	case CodeTransactionFailed, CodeRecipientMismatch, CodeAmountMismatch:
		return http.StatusPaymentRequired
	case CodePayerMismatch:
		return http.StatusForbidden
	case CodeSignatureReused:
		return http.StatusConflict
	case CodeChainUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// VerificationError is a rejected verification. Message is safe to show to
// the user; Err carries the underlying cause for logs.
type VerificationError struct {
	Code    Code
	Message string
	Err     error
}

func (e *VerificationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

func reject(code Code, message string, err error) *VerificationError {
	return &VerificationError{Code: code, Message: message, Err: err}
}
