package svm

import (
	"encoding/json"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sigweihq/companionpay/pkg/chains"
	"github.com/sigweihq/companionpay/pkg/constants"
)

// System Program instruction discriminator for Transfer
const systemTransferInstruction = 2

// Instruction is a compiled instruction with its indices resolved to keys
type Instruction struct {
	ProgramID solana.PublicKey
	Accounts  []solana.PublicKey
	Data      []byte
}

// SVMReceipt implements chains.TransactionReceipt over a fetched transaction
// and its confirmed metadata
type SVMReceipt struct {
	signature    string
	accountKeys  []solana.PublicKey
	instructions []Instruction
	preBalances  []uint64
	postBalances []uint64
	execErr      string
	hasMeta      bool
}

// Verify SVMReceipt implements interface
var _ chains.TransactionReceipt = (*SVMReceipt)(nil)

// NewReceipt resolves the transaction's account keys, including addresses
// loaded from lookup tables, and pairs them with the balances from meta
func NewReceipt(signature string, tx *solana.Transaction, meta *rpc.TransactionMeta) (*SVMReceipt, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction %s has no body", signature)
	}

	keys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)

	receipt := &SVMReceipt{signature: signature}

	if meta != nil {
		receipt.hasMeta = true
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
		receipt.preBalances = meta.PreBalances
		receipt.postBalances = meta.PostBalances
		receipt.execErr = formatExecutionError(meta.Err)
	}
	receipt.accountKeys = keys

	for i, compiled := range tx.Message.Instructions {
		if int(compiled.ProgramIDIndex) >= len(keys) {
			return nil, fmt.Errorf("instruction %d references program index %d outside %d keys", i, compiled.ProgramIDIndex, len(keys))
		}
		accounts := make([]solana.PublicKey, 0, len(compiled.Accounts))
		for _, idx := range compiled.Accounts {
			if int(idx) >= len(keys) {
				return nil, fmt.Errorf("instruction %d references account index %d outside %d keys", i, idx, len(keys))
			}
			accounts = append(accounts, keys[idx])
		}
		receipt.instructions = append(receipt.instructions, Instruction{
			ProgramID: keys[compiled.ProgramIDIndex],
			Accounts:  accounts,
			Data:      []byte(compiled.Data),
		})
	}

	return receipt, nil
}

// Signature implements chains.TransactionReceipt
func (r *SVMReceipt) Signature() string {
	return r.signature
}

// IsSuccessful implements chains.TransactionReceipt
func (r *SVMReceipt) IsSuccessful() bool {
	return r.hasMeta && r.execErr == ""
}

// ExecutionError implements chains.TransactionReceipt
func (r *SVMReceipt) ExecutionError() string {
	if !r.hasMeta {
		return "transaction metadata unavailable"
	}
	return r.execErr
}

// BalanceDelta returns post minus pre balance for an account, in lamports.
// The delta is signed because payers lose lamports.
func (r *SVMReceipt) BalanceDelta(account solana.PublicKey) (int64, error) {
	idx := r.accountIndex(account)
	if idx < 0 {
		return 0, fmt.Errorf("account %s is not part of transaction %s", account, r.signature)
	}
	if idx >= len(r.preBalances) || idx >= len(r.postBalances) {
		return 0, fmt.Errorf("no balances recorded for account %s", account)
	}
	return int64(r.postBalances[idx]) - int64(r.preBalances[idx]), nil
}

// GetTransferEvent implements chains.TransactionReceipt.
// It requires a System Program transfer instruction whose destination is the
// recipient and reports the amount the recipient actually received.
func (r *SVMReceipt) GetTransferEvent(recipient string) (*chains.TransferEvent, error) {
	recipientKey, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address %q: %w", recipient, err)
	}

	for _, instruction := range r.instructions {
		if !instruction.ProgramID.Equals(solana.SystemProgramID) {
			continue
		}
		lamports, ok := decodeSystemTransfer(instruction.Data)
		if !ok || len(instruction.Accounts) < 2 {
			continue
		}
		if !instruction.Accounts[1].Equals(recipientKey) {
			continue
		}

		delta, err := r.BalanceDelta(recipientKey)
		if err != nil {
			return nil, err
		}
		var received uint64
		if delta > 0 {
			received = uint64(delta)
		}

		return &chains.TransferEvent{
			From:              instruction.Accounts[0].String(),
			To:                recipientKey.String(),
			InstructionAmount: lamports,
			Received:          received,
			Asset:             constants.NativeSOLAsset,
		}, nil
	}

	return nil, fmt.Errorf("no native transfer to %s found in transaction %s", recipient, r.signature)
}

func (r *SVMReceipt) accountIndex(account solana.PublicKey) int {
	for i, key := range r.accountKeys {
		if key.Equals(account) {
			return i
		}
	}
	return -1
}

// decodeSystemTransfer reads a System Program Transfer layout:
// u32 little-endian instruction index followed by u64 little-endian lamports
func decodeSystemTransfer(data []byte) (uint64, bool) {
	if len(data) != 12 {
		return 0, false
	}
	decoder := bin.NewBinDecoder(data)
	kind, err := decoder.ReadUint32(bin.LE)
	if err != nil || kind != systemTransferInstruction {
		return 0, false
	}
	lamports, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return 0, false
	}
	return lamports, true
}

func formatExecutionError(err interface{}) string {
	if err == nil {
		return ""
	}
	if s, ok := err.(string); ok {
		return s
	}
	encoded, marshalErr := json.Marshal(err)
	if marshalErr != nil {
		return fmt.Sprintf("%v", err)
	}
	return string(encoded)
}
