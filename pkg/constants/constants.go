package constants

import "time"

const (
	DelayBetweenRPCCalls      = 200              // delay in milliseconds between RPC calls
	MaxRPCBackoffDelay        = 4 * time.Second  // cap for the exponential backoff between RPC attempts
	TransactionReceiptTimeout = 5 * time.Second  // timeout for a single RPC attempt
	HealthCheckTimeout        = 3 * time.Second  // timeout for an endpoint health check
	EndpointRefreshInterval   = 6 * time.Hour    // how often the endpoint pool re-runs health checks
	HTTPClientTimeout         = 30 * time.Second // timeout for calls to the companionpay API
	TLSHandshakeTimeout       = 10 * time.Second // timeout for TLS handshake
	ResponseHeaderTimeout     = 20 * time.Second // timeout for response header
	ExpectContinueTimeout     = 1 * time.Second  // timeout for expect continue
	NotificationTimeout       = 15 * time.Second // timeout for a fire-and-forget notification
	MaxRetries                = 5                // default attempt budget for chain RPC calls
	MaxResponseBodySize       = 10 * 1024 * 1024 // maximum response body size in bytes (10MB)
)

// Purchase confirmation polling defaults. These were tuned empirically and are
// only defaults: purchase.Config overrides every one of them.
const (
	ConfirmationMaxAttempts  = 10
	ConfirmationInitialDelay = 2 * time.Second
	ConfirmationMaxDelay     = 8 * time.Second
	ConfirmationMultiplier   = 1.5
)

const (
	LamportsPerSOL = 1_000_000_000

	// FeeBufferLamports is added on top of the price when checking the payer
	// balance so the transfer fee can always be paid.
	FeeBufferLamports = 5000

	// AmountEpsilon is the tolerance, in SOL, for comparing prices and
	// transferred amounts.
	AmountEpsilon = 1e-6

	// CreatorRevenueShare is the fraction of the access price credited to the
	// companion's creator.
	CreatorRevenueShare = 0.7
)

// DefaultPlatformWallet receives every companion-access payment. It is public
// and must be identical on client and server.
const DefaultPlatformWallet = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

const NativeSOLAsset = "11111111111111111111111111111111"

// Network Types
const (
	NetworkSolana        = "solana"
	NetworkSolanaDevnet  = "solana-devnet"
	NetworkSolanaTestnet = "solana-testnet"
)

var OfficialRPCEndpoints = map[string][]string{
	NetworkSolana:        {"https://api.mainnet-beta.solana.com"},
	NetworkSolanaDevnet:  {"https://api.devnet.solana.com"},
	NetworkSolanaTestnet: {"https://api.testnet.solana.com"},
}

// ExplorerCluster maps a network to the cluster query parameter used by the
// Solana explorer.
var ExplorerCluster = map[string]string{
	NetworkSolana:        "",
	NetworkSolanaDevnet:  "devnet",
	NetworkSolanaTestnet: "testnet",
}

const ExplorerBaseURL = "https://explorer.solana.com/tx/"

// Username rules for wallet registration
const (
	UsernameMinLength = 3
	UsernameMaxLength = 20
)

// EarningStatusPending marks a creator earning awaiting payout
const EarningStatusPending = "pending"
