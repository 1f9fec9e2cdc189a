package utils

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	x402types "github.com/coinbase/x402/go/pkg/types"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/sigweihq/companionpay/pkg/constants"
)

// SOLToLamports converts a SOL amount to lamports, rounding to the nearest lamport
func SOLToLamports(sol float64) uint64 {
	if sol <= 0 {
		return 0
	}
	return uint64(math.Round(sol * constants.LamportsPerSOL))
}

// LamportsToSOL converts lamports to SOL
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / constants.LamportsPerSOL
}

// AmountsEqual compares two SOL amounts within constants.AmountEpsilon
func AmountsEqual(a, b float64) bool {
	return math.Abs(a-b) <= constants.AmountEpsilon
}

// RoundSOL rounds a SOL amount to lamport precision
func RoundSOL(sol float64) float64 {
	return math.Round(sol*constants.LamportsPerSOL) / constants.LamportsPerSOL
}

// ParseSolanaPrivateKey accepts a hex seed (32 bytes), a hex keypair (64 bytes)
// or a base58 keypair as exported by most wallets
func ParseSolanaPrivateKey(key string) (solana.PrivateKey, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("private key is empty")
	}

	if hexKey := strings.TrimPrefix(key, "0x"); isHex(hexKey) {
		privateKeyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid private key hex: %w", err)
		}
		// Solana Ed25519 private keys are 64 bytes (32-byte seed + 32-byte public key)
		// But we support providing just the 32-byte seed
		switch len(privateKeyBytes) {
		case ed25519.SeedSize:
			return solana.PrivateKey(ed25519.NewKeyFromSeed(privateKeyBytes)), nil
		case ed25519.PrivateKeySize:
			return solana.PrivateKey(privateKeyBytes), nil
		default:
			return nil, fmt.Errorf("invalid private key length: %d (expected 32 or 64 bytes)", len(privateKeyBytes))
		}
	}

	privateKey, err := solana.PrivateKeyFromBase58(key)
	if err != nil {
		return nil, fmt.Errorf("invalid base58 private key: %w", err)
	}
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: %d (expected 64 bytes)", len(privateKey))
	}
	return privateKey, nil
}

// BuildNativeTransferTransaction builds an unsigned transaction holding exactly
// one System Program transfer. The payer funds both the transfer and the fee.
func BuildNativeTransferTransaction(
	from solana.PublicKey,
	to solana.PublicKey,
	lamports uint64,
	recentBlockhash solana.Hash,
) (*solana.Transaction, error) {
	if lamports == 0 {
		return nil, fmt.Errorf("transfer amount must be positive")
	}

	transfer := system.NewTransferInstruction(lamports, from, to).Build()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{transfer},
		recentBlockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx, nil
}

// DerivePaymentRequirementsSolana describes a native SOL payment in x402 terms
// so clients can discover where and how much to pay for a resource
func DerivePaymentRequirementsSolana(
	network string,
	payTo string,
	lamports uint64,
	resourceURL string,
	description string,
	companionID string,
) (*x402types.PaymentRequirements, error) {
	extraData := map[string]interface{}{
		"companionId": companionID,
		"decimals":    9,
		"symbol":      "SOL",
	}
	extraJSON, err := json.Marshal(extraData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extra data: %w", err)
	}
	extraRaw := json.RawMessage(extraJSON)

	return &x402types.PaymentRequirements{
		Scheme:            "exact",
		Network:           network,
		MaxAmountRequired: fmt.Sprintf("%d", lamports),
		Resource:          resourceURL,
		Description:       description,
		MimeType:          "application/json",
		PayTo:             payTo,
		MaxTimeoutSeconds: 120,
		Asset:             constants.NativeSOLAsset,
		Extra:             &extraRaw,
	}, nil
}

// ExtractCompanionID reads the companion id carried in payment requirements
func ExtractCompanionID(paymentRequirements *x402types.PaymentRequirements) (string, error) {
	if paymentRequirements.Extra == nil {
		return "", fmt.Errorf("Extra data is nil")
	}
	var extraData map[string]any
	if err := json.Unmarshal(*paymentRequirements.Extra, &extraData); err != nil {
		return "", fmt.Errorf("failed to unmarshal Extra: %w", err)
	}
	companionID, ok := extraData["companionId"].(string)
	if !ok || companionID == "" {
		return "", fmt.Errorf("companionId field missing or not a string")
	}
	return companionID, nil
}

// ExplorerURL links a signature on the public Solana explorer
func ExplorerURL(network, signature string) string {
	url := constants.ExplorerBaseURL + signature
	if cluster := constants.ExplorerCluster[network]; cluster != "" {
		url += "?cluster=" + cluster
	}
	return url
}

func isHex(s string) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}
