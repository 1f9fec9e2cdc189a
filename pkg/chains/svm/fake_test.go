package svm

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// fakeConn is a scriptable Connection; unset hooks fail loudly
type fakeConn struct {
	mu    sync.Mutex
	calls map[string]int

	balance      func(ctx context.Context) (*rpc.GetBalanceResult, error)
	blockhash    func(ctx context.Context) (*rpc.GetLatestBlockhashResult, error)
	transaction  func(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error)
	statuses     func(ctx context.Context, search bool) (*rpc.GetSignatureStatusesResult, error)
	send         func(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	healthStatus string
	healthErr    error
}

var errUnscripted = errors.New("unscripted call")

func (f *fakeConn) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[method]++
}

func (f *fakeConn) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeConn) GetBalance(ctx context.Context, _ solana.PublicKey, _ rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	f.record("getBalance")
	if f.balance == nil {
		return nil, errUnscripted
	}
	return f.balance(ctx)
}

func (f *fakeConn) GetLatestBlockhash(ctx context.Context, _ rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	f.record("getLatestBlockhash")
	if f.blockhash == nil {
		return nil, errUnscripted
	}
	return f.blockhash(ctx)
}

func (f *fakeConn) GetTransaction(ctx context.Context, sig solana.Signature, _ *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	f.record("getTransaction")
	if f.transaction == nil {
		return nil, errUnscripted
	}
	return f.transaction(ctx, sig)
}

func (f *fakeConn) GetSignatureStatuses(ctx context.Context, search bool, _ ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	f.record("getSignatureStatuses")
	if f.statuses == nil {
		return nil, errUnscripted
	}
	return f.statuses(ctx, search)
}

func (f *fakeConn) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	f.record("sendTransaction")
	if f.send == nil {
		return solana.Signature{}, errUnscripted
	}
	return f.send(ctx, tx)
}

func (f *fakeConn) GetHealth(context.Context) (string, error) {
	f.record("getHealth")
	return f.healthStatus, f.healthErr
}

// staticProvider serves a fixed endpoint list
type staticProvider []Endpoint

func (p staticProvider) Endpoints() []Endpoint { return p }

// transferData encodes a System Program Transfer instruction body
func transferData(lamports uint64) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[:4], systemTransferInstruction)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return data
}

// balancesFor lays out pre/post balances in account-key order
func balancesFor(keys []solana.PublicKey, pre, post map[solana.PublicKey]uint64) ([]uint64, []uint64) {
	preBalances := make([]uint64, len(keys))
	postBalances := make([]uint64, len(keys))
	for i, key := range keys {
		preBalances[i] = pre[key]
		postBalances[i] = post[key]
	}
	return preBalances, postBalances
}
