package purchase

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/sigweihq/companionpay/pkg/utils"
)

// Wallet holds the payer key. SignTransaction may block on user approval and
// returns an error when the user declines.
type Wallet interface {
	PublicKey() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// KeypairWallet signs with an in-memory private key, for CLIs and tests
type KeypairWallet struct {
	key solana.PrivateKey
}

func NewKeypairWallet(key solana.PrivateKey) *KeypairWallet {
	return &KeypairWallet{key: key}
}

// KeypairWalletFromString parses a base58 or hex encoded private key
func KeypairWalletFromString(privateKey string) (*KeypairWallet, error) {
	key, err := utils.ParseSolanaPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return NewKeypairWallet(key), nil
}

func (w *KeypairWallet) PublicKey() solana.PublicKey {
	return w.key.PublicKey()
}

func (w *KeypairWallet) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pub := w.key.PublicKey()
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &w.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}
