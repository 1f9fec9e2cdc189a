package svm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sigweihq/companionpay/pkg/chains"
	"github.com/sigweihq/companionpay/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRPCClient(conns ...*fakeConn) *RPCClient {
	endpoints := make([]Endpoint, len(conns))
	for i, conn := range conns {
		endpoints[i] = Endpoint{URL: fmt.Sprintf("https://rpc-%d", i), Conn: conn}
	}
	executor, _ := newTestExecutor(endpoints)
	return NewRPCClient("solana-devnet", executor, 3)
}

func TestRPCClientGetBalanceFailsOver(t *testing.T) {
	down := &fakeConn{balance: func(context.Context) (*rpc.GetBalanceResult, error) {
		return nil, errors.New("dial tcp: connection refused")
	}}
	up := &fakeConn{balance: func(context.Context) (*rpc.GetBalanceResult, error) {
		return &rpc.GetBalanceResult{Value: 1_000_000_000}, nil
	}}

	client := newTestRPCClient(down, up)
	balance, err := client.GetBalance(context.Background(), solana.NewWallet().PublicKey().String())

	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), balance)
	assert.Equal(t, 1, down.count("getBalance"))
	assert.Equal(t, 1, up.count("getBalance"))
}

func TestRPCClientGetBalanceRejectsBadAddress(t *testing.T) {
	conn := &fakeConn{}
	client := newTestRPCClient(conn)

	_, err := client.GetBalance(context.Background(), "not base58 !")
	assert.Equal(t, chains.KindRejected, chains.KindOf(err))
	assert.Zero(t, conn.count("getBalance"))
}

func TestRPCClientGetLatestBlockhash(t *testing.T) {
	hash := solana.Hash{7, 7, 7}
	conn := &fakeConn{blockhash: func(context.Context) (*rpc.GetLatestBlockhashResult, error) {
		return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{
			Blockhash:            hash,
			LastValidBlockHeight: 150,
		}}, nil
	}}

	blockhash, err := newTestRPCClient(conn).GetLatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hash.String(), blockhash.Hash)
	assert.Equal(t, uint64(150), blockhash.LastValidBlockHeight)
}

func TestRPCClientSignatureStatusMapping(t *testing.T) {
	sig := solana.Signature{1, 2, 3}.String()

	tests := []struct {
		name   string
		result *rpc.SignatureStatusesResult
		want   chains.Status
		errMsg string
	}{
		{"unknown signature", nil, chains.StatusPending, ""},
		{"processed", &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusProcessed}, chains.StatusProcessed, ""},
		{"confirmed", &rpc.SignatureStatusesResult{Slot: 9, ConfirmationStatus: rpc.ConfirmationStatusConfirmed}, chains.StatusConfirmed, ""},
		{"finalized", &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusFinalized}, chains.StatusFinalized, ""},
		{"failed on chain", &rpc.SignatureStatusesResult{Err: "InstructionError", ConfirmationStatus: rpc.ConfirmationStatusConfirmed}, chains.StatusFailed, "InstructionError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var searched []bool
			conn := &fakeConn{statuses: func(_ context.Context, search bool) (*rpc.GetSignatureStatusesResult, error) {
				searched = append(searched, search)
				return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{tt.result}}, nil
			}}
			client := newTestRPCClient(conn)

			status, err := client.ConfirmTransaction(context.Background(), sig, chains.CommitmentConfirmed)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status.Status)
			assert.Equal(t, tt.errMsg, status.Err)

			status, err = client.GetSignatureStatus(context.Background(), sig)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status.Status)

			assert.Equal(t, []bool{false, true}, searched, "recent cache first, full history for the direct lookup")
		})
	}
}

func TestRPCClientGetTransactionNotFound(t *testing.T) {
	conn := &fakeConn{transaction: func(context.Context, solana.Signature) (*rpc.GetTransactionResult, error) {
		return nil, rpc.ErrNotFound
	}}

	_, err := newTestRPCClient(conn).GetTransaction(context.Background(), solana.Signature{4}.String())

	assert.ErrorIs(t, err, chains.ErrNotFound)
	assert.Equal(t, chains.KindNotFound, chains.KindOf(err))
	assert.Equal(t, 3, conn.count("getTransaction"), "missing transactions are retried within budget")
}

func TestRPCClientGetTransactionDecodesEnvelope(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	tx, err := utils.BuildNativeTransferTransaction(payer, platformWallet, 10_000_000, solana.Hash{5})
	require.NoError(t, err)
	tx.Signatures = []solana.Signature{{8}}

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	pre, post := balancesFor(tx.Message.AccountKeys,
		map[solana.PublicKey]uint64{payer: 1_000_000_000, platformWallet: 0},
		map[solana.PublicKey]uint64{payer: 989_995_000, platformWallet: 10_000_000},
	)
	payload := map[string]interface{}{
		"slot":        42,
		"transaction": []string{base64.StdEncoding.EncodeToString(raw), "base64"},
		"meta": map[string]interface{}{
			"err":          nil,
			"fee":          5000,
			"preBalances":  pre,
			"postBalances": post,
		},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	var result rpc.GetTransactionResult
	require.NoError(t, json.Unmarshal(body, &result))

	conn := &fakeConn{transaction: func(context.Context, solana.Signature) (*rpc.GetTransactionResult, error) {
		return &result, nil
	}}
	sig := solana.Signature{8}.String()

	receipt, err := newTestRPCClient(conn).GetTransaction(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, sig, receipt.Signature())
	assert.True(t, receipt.IsSuccessful())

	event, err := receipt.GetTransferEvent(platformWallet.String())
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000), event.Received)
}

func TestRPCClientSendRawTransaction(t *testing.T) {
	wallet := solana.NewWallet()
	tx, err := utils.BuildNativeTransferTransaction(wallet.PublicKey(), platformWallet, 10_000_000, solana.Hash{3})
	require.NoError(t, err)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(wallet.PublicKey()) {
			return &wallet.PrivateKey
		}
		return nil
	})
	require.NoError(t, err)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	conn := &fakeConn{send: func(_ context.Context, sent *solana.Transaction) (solana.Signature, error) {
		return sent.Signatures[0], nil
	}}
	sig, err := newTestRPCClient(conn).SendRawTransaction(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, tx.Signatures[0].String(), sig)

	_, err = newTestRPCClient(conn).SendRawTransaction(context.Background(), []byte{1, 2})
	assert.Equal(t, chains.KindRejected, chains.KindOf(err))
}

func TestRPCClientIsHealthyUsesPoolConnection(t *testing.T) {
	healthy := &fakeConn{healthStatus: rpc.HealthOk}
	sick := &fakeConn{healthErr: errors.New("node is behind")}

	pool := NewEndpointPoolFromConnections([]Endpoint{
		{URL: "https://healthy", Conn: healthy},
		{URL: "https://sick", Conn: sick},
	}, nil)
	client := NewRPCClient("solana", NewExecutor(pool, WithAttemptTimeout(time.Second)), 1)

	assert.True(t, client.IsHealthy(context.Background(), "https://healthy"))
	assert.False(t, client.IsHealthy(context.Background(), "https://sick"))
}
