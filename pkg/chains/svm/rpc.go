package svm

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sigweihq/companionpay/pkg/chains"
	"github.com/sigweihq/companionpay/pkg/constants"
)

// RPCClient implements chains.RPCClient for SVM chains. Every call runs
// through the executor, cycling endpoints with a random start.
type RPCClient struct {
	network     string
	executor    *Executor
	pool        *EndpointPool
	maxAttempts int
}

// NewRPCClient creates a new SVM RPC client over an executor
func NewRPCClient(network string, executor *Executor, maxAttempts int) *RPCClient {
	if maxAttempts <= 0 {
		maxAttempts = constants.MaxRetries
	}
	client := &RPCClient{
		network:     network,
		executor:    executor,
		maxAttempts: maxAttempts,
	}
	if pool, ok := executor.provider.(*EndpointPool); ok {
		client.pool = pool
	}
	return client
}

// Verify RPCClient implements interface
var _ chains.RPCClient = (*RPCClient)(nil)

// GetBalance implements chains.RPCClient
func (r *RPCClient) GetBalance(ctx context.Context, address string) (uint64, error) {
	account, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, &chains.ChainError{Kind: chains.KindRejected, Method: "getBalance", Err: fmt.Errorf("invalid address %q: %w", address, err)}
	}

	return ExecuteWithRetry(ctx, r.executor, "getBalance", r.maxAttempts, func(ctx context.Context, conn Connection) (uint64, error) {
		out, err := conn.GetBalance(ctx, account, rpc.CommitmentConfirmed)
		if err != nil {
			return 0, err
		}
		return out.Value, nil
	})
}

// GetLatestBlockhash implements chains.RPCClient
func (r *RPCClient) GetLatestBlockhash(ctx context.Context) (*chains.Blockhash, error) {
	return ExecuteWithRetry(ctx, r.executor, "getLatestBlockhash", r.maxAttempts, func(ctx context.Context, conn Connection) (*chains.Blockhash, error) {
		out, err := conn.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return nil, err
		}
		if out == nil || out.Value == nil {
			return nil, fmt.Errorf("empty blockhash response")
		}
		return &chains.Blockhash{
			Hash:                 out.Value.Blockhash.String(),
			LastValidBlockHeight: out.Value.LastValidBlockHeight,
		}, nil
	})
}

// SendRawTransaction implements chains.RPCClient
func (r *RPCClient) SendRawTransaction(ctx context.Context, rawTx []byte) (string, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(rawTx))
	if err != nil {
		return "", &chains.ChainError{Kind: chains.KindRejected, Method: "sendTransaction", Err: fmt.Errorf("failed to decode transaction: %w", err)}
	}
	if len(tx.Signatures) == 0 {
		return "", &chains.ChainError{Kind: chains.KindRejected, Method: "sendTransaction", Err: errors.New("transaction is not signed")}
	}

	sig, err := ExecuteWithRetry(ctx, r.executor, "sendTransaction", r.maxAttempts, func(ctx context.Context, conn Connection) (solana.Signature, error) {
		return conn.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
	})
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}

// GetTransaction implements chains.RPCClient
func (r *RPCClient) GetTransaction(ctx context.Context, signature string) (chains.TransactionReceipt, error) {
	sig, err := parseSignature("getTransaction", signature)
	if err != nil {
		return nil, err
	}

	maxVersion := uint64(0)
	return ExecuteWithRetry(ctx, r.executor, "getTransaction", r.maxAttempts, func(ctx context.Context, conn Connection) (chains.TransactionReceipt, error) {
		out, err := conn.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if err != nil {
			if errors.Is(err, rpc.ErrNotFound) {
				return nil, fmt.Errorf("transaction %s: %w", signature, chains.ErrNotFound)
			}
			return nil, err
		}
		return receiptFromResult(signature, out)
	})
}

// ConfirmTransaction implements chains.RPCClient using the recent status cache
func (r *RPCClient) ConfirmTransaction(ctx context.Context, signature string, commitment chains.Commitment) (*chains.SignatureStatus, error) {
	return r.signatureStatus(ctx, "confirmTransaction", signature, false)
}

// GetSignatureStatus implements chains.RPCClient, searching full history
func (r *RPCClient) GetSignatureStatus(ctx context.Context, signature string) (*chains.SignatureStatus, error) {
	return r.signatureStatus(ctx, "getSignatureStatus", signature, true)
}

// IsHealthy implements chains.RPCClient
func (r *RPCClient) IsHealthy(ctx context.Context, endpoint string) bool {
	if r.pool != nil {
		for _, ep := range r.pool.Endpoints() {
			if ep.URL == endpoint {
				return isConnectionHealthy(ctx, ep.Conn)
			}
		}
	}
	return isConnectionHealthy(ctx, rpc.New(endpoint))
}

func (r *RPCClient) signatureStatus(ctx context.Context, method, signature string, searchHistory bool) (*chains.SignatureStatus, error) {
	sig, err := parseSignature(method, signature)
	if err != nil {
		return nil, err
	}

	return ExecuteWithRetry(ctx, r.executor, method, r.maxAttempts, func(ctx context.Context, conn Connection) (*chains.SignatureStatus, error) {
		out, err := conn.GetSignatureStatuses(ctx, searchHistory, sig)
		if err != nil {
			return nil, err
		}
		status := &chains.SignatureStatus{Signature: signature, Status: chains.StatusPending}
		if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
			return status, nil
		}

		result := out.Value[0]
		status.Slot = result.Slot
		if result.Err != nil {
			status.Status = chains.StatusFailed
			status.Err = formatExecutionError(result.Err)
			return status, nil
		}
		switch result.ConfirmationStatus {
		case rpc.ConfirmationStatusFinalized:
			status.Status = chains.StatusFinalized
		case rpc.ConfirmationStatusConfirmed:
			status.Status = chains.StatusConfirmed
		case rpc.ConfirmationStatusProcessed:
			status.Status = chains.StatusProcessed
		}
		return status, nil
	})
}

func receiptFromResult(signature string, out *rpc.GetTransactionResult) (*SVMReceipt, error) {
	if out == nil || out.Transaction == nil {
		return nil, fmt.Errorf("transaction %s: %w", signature, chains.ErrNotFound)
	}
	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction %s: %w", signature, err)
	}
	return NewReceipt(signature, tx, out.Meta)
}

func parseSignature(method, signature string) (solana.Signature, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return solana.Signature{}, &chains.ChainError{
			Kind:   chains.KindRejected,
			Method: method,
			Err:    fmt.Errorf("invalid signature %q: %w", signature, err),
		}
	}
	return sig, nil
}
