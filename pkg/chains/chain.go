package chains

import "context"

// Design inspired by renproject/multichain, narrowed to what payment gating needs
// https://github.com/renproject/multichain

// ChainAdapter provides blockchain-specific operations for payment verification
type ChainAdapter interface {
	// Network returns the network name (e.g., "solana", "solana-devnet")
	Network() string

	// RPCClient returns the RPC client for this chain
	RPCClient() RPCClient

	// TransactionValidator returns the transaction validator for this chain
	TransactionValidator() TransactionValidator
}

// RPCClient handles blockchain RPC operations. Every call retries across
// endpoints and returns a *ChainError on failure.
type RPCClient interface {
	// GetBalance returns the balance of an address in base units (lamports)
	GetBalance(ctx context.Context, address string) (uint64, error)

	// GetLatestBlockhash returns the blockhash new transactions should reference
	GetLatestBlockhash(ctx context.Context) (*Blockhash, error)

	// SendRawTransaction submits a signed wire transaction and returns its signature
	SendRawTransaction(ctx context.Context, rawTx []byte) (string, error)

	// GetTransaction fetches a transaction with its confirmed metadata
	GetTransaction(ctx context.Context, signature string) (TransactionReceipt, error)

	// ConfirmTransaction checks the recent status cache for a signature.
	// A nil error with StatusPending means the chain has not reported it yet.
	ConfirmTransaction(ctx context.Context, signature string, commitment Commitment) (*SignatureStatus, error)

	// GetSignatureStatus looks the signature up across the full transaction history
	GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error)

	// IsHealthy performs a health check on the RPC endpoint
	IsHealthy(ctx context.Context, endpoint string) bool
}

// Blockhash is a recent blockhash and the last block height at which a
// transaction referencing it is still valid
type Blockhash struct {
	Hash                 string
	LastValidBlockHeight uint64
}

// Commitment is the confirmation level requested from the chain
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// Status is the client-observed state of a submitted transaction
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusConfirmed Status = "confirmed"
	StatusFinalized Status = "finalized"
	StatusFailed    Status = "failed"
)

// SignatureStatus is the chain's view of a submitted signature
type SignatureStatus struct {
	Signature string
	Slot      uint64
	Status    Status
	Err       string // on-chain execution error, empty when none
}

// Reached reports whether the status satisfies the requested commitment
func (s *SignatureStatus) Reached(commitment Commitment) bool {
	if s == nil {
		return false
	}
	switch commitment {
	case CommitmentFinalized:
		return s.Status == StatusFinalized
	case CommitmentConfirmed:
		return s.Status == StatusConfirmed || s.Status == StatusFinalized
	default:
		return s.Status == StatusProcessed || s.Status == StatusConfirmed || s.Status == StatusFinalized
	}
}

// TransactionReceipt is a chain-agnostic view of a fetched transaction
type TransactionReceipt interface {
	// Signature returns the transaction signature
	Signature() string

	// IsSuccessful returns whether the transaction executed without error
	IsSuccessful() bool

	// ExecutionError returns the chain's execution error, if any
	ExecutionError() string

	// GetTransferEvent returns the native transfer to the given recipient.
	// The received amount is derived from the recipient's balance change,
	// never from instruction data alone.
	GetTransferEvent(recipient string) (*TransferEvent, error)
}

// TransferEvent represents a native transfer found in a transaction
type TransferEvent struct {
	From              string // Funding account
	To                string // Recipient account
	InstructionAmount uint64 // Amount encoded in the transfer instruction (lamports)
	Received          uint64 // Post minus pre balance of the recipient (lamports)
	Asset             string // Native asset identifier
}

// ExpectedTransfer describes the payment a transaction must contain
type ExpectedTransfer struct {
	Recipient string
	AmountSOL float64
}

// TransactionValidator validates transaction parameters
type TransactionValidator interface {
	// ValidateTransfer checks that the receipt succeeded and paid the expected
	// recipient the expected amount. It returns the matched transfer.
	ValidateTransfer(receipt TransactionReceipt, expected ExpectedTransfer) (*TransferEvent, error)

	// ValidateSignature checks a signature has the chain's expected shape
	ValidateSignature(signature string) error

	// AddressesEqual compares two addresses using chain-specific rules
	// For SVM: case-sensitive (base58 encoding)
	AddressesEqual(addr1, addr2 string) bool
}
