package types

import "time"

// TransactionIntent is the client-owned description of a purchase transfer.
// It lives only until a signature exists or the attempt is abandoned.
type TransactionIntent struct {
	Payer          string `json:"payer"`
	Recipient      string `json:"recipient"`
	AmountLamports uint64 `json:"amountLamports"`
	CompanionID    string `json:"companionId"`
}

// SubmissionStatus is the client-observed state of a submitted transaction
type SubmissionStatus string

const (
	SubmissionPending   SubmissionStatus = "pending"
	SubmissionConfirmed SubmissionStatus = "confirmed"
	SubmissionFailed    SubmissionStatus = "failed"
	SubmissionTimedOut  SubmissionStatus = "timed_out"
)

// SubmittedTransaction tracks a signature from submission until the client
// decides on an outcome. The on-chain state may still differ.
type SubmittedTransaction struct {
	Signature         string           `json:"signature"`
	SubmittedAt       time.Time        `json:"submittedAt"`
	ExpectedAmount    uint64           `json:"expectedAmount"`
	ExpectedRecipient string           `json:"expectedRecipient"`
	Status            SubmissionStatus `json:"status"`
}

// VerifyPaymentRequest is the body of the server verification endpoint
type VerifyPaymentRequest struct {
	CompanionID          string  `json:"companionId" binding:"required"`
	TransactionSignature string  `json:"transactionSignature" binding:"required"`
	Amount               float64 `json:"amount" binding:"required,gt=0"`
}

// VerifyPaymentResponse is returned by the verification endpoint. Error is
// always set when Success is false.
type VerifyPaymentResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// WalletSignInRequest represents a wallet sign-in request
type WalletSignInRequest struct {
	WalletAddress string `json:"walletAddress" binding:"required"`
}

// WalletRegisterRequest represents a wallet registration request
type WalletRegisterRequest struct {
	WalletAddress string `json:"walletAddress" binding:"required"`
	Username      string `json:"username" binding:"required"`
	DisplayName   string `json:"displayName"`
	// ContactEmail receives purchase confirmations; optional
	ContactEmail string `json:"contactEmail,omitempty" binding:"omitempty,email"`
}

// User represents a user in the system
type User struct {
	ID            string    `json:"id"`
	WalletAddress string    `json:"walletAddress"`
	Username      string    `json:"username"`
	DisplayName   string    `json:"displayName"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// AuthResponse represents the wallet authentication response. NewUser is set
// when the wallet has no account yet and the client should register.
type AuthResponse struct {
	NewUser     bool   `json:"newUser"`
	User        *User  `json:"user,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	ExpiresAt   int64  `json:"expiresAt,omitempty"`
}

// UsernameAvailability answers the availability query
type UsernameAvailability struct {
	Username  string `json:"username"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// CompanionAccess reports whether the caller can chat with a companion
type CompanionAccess struct {
	CompanionID string `json:"companionId"`
	HasAccess   bool   `json:"hasAccess"`
}

// AccessGrant is the public view of a persisted grant
type AccessGrant struct {
	ID                   string    `json:"id"`
	CompanionID          string    `json:"companionId"`
	AccessPrice          float64   `json:"accessPrice"`
	TransactionSignature string    `json:"transactionSignature"`
	PurchasedAt          time.Time `json:"purchasedAt"`
}

// AccessListResponse lists the caller's grants
type AccessListResponse struct {
	Grants []*AccessGrant `json:"grants"`
	Total  int            `json:"total"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
