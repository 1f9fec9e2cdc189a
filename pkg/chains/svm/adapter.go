package svm

import (
	"github.com/sigweihq/companionpay/pkg/chains"
)

// SVMAdapter provides SVM chain functionality
type SVMAdapter struct {
	network   string
	rpc       *RPCClient
	validator *TransactionValidator
}

// NewSVMAdapter creates a new SVM chain adapter over an executor
func NewSVMAdapter(network string, executor *Executor, maxAttempts int) *SVMAdapter {
	return &SVMAdapter{
		network:   network,
		rpc:       NewRPCClient(network, executor, maxAttempts),
		validator: NewTransactionValidator(),
	}
}

// Network implements chains.ChainAdapter
func (a *SVMAdapter) Network() string {
	return a.network
}

// RPCClient implements chains.ChainAdapter
func (a *SVMAdapter) RPCClient() chains.RPCClient {
	return a.rpc
}

// TransactionValidator implements chains.ChainAdapter
func (a *SVMAdapter) TransactionValidator() chains.TransactionValidator {
	return a.validator
}
