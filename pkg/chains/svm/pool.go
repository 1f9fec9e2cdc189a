package svm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sigweihq/companionpay/pkg/constants"
)

// Connection is the subset of the Solana JSON-RPC surface the adapter consumes.
// *rpc.Client satisfies it; tests substitute fakes.
type Connection interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetHealth(ctx context.Context) (string, error)
}

var _ Connection = (*rpc.Client)(nil)

// Endpoint pairs an RPC URL with a live connection to it
type Endpoint struct {
	URL  string
	Conn Connection
}

// ConnectionProvider hands the retry executor an ordered snapshot of endpoints
type ConnectionProvider interface {
	Endpoints() []Endpoint
}

// EndpointPool is the default ConnectionProvider. Healthy endpoints are kept
// first after each health check, unhealthy ones stay as backup.
type EndpointPool struct {
	endpoints []Endpoint
	logger    *slog.Logger
	mu        sync.RWMutex
}

// NewEndpointPool dials every URL lazily through rpc.New
func NewEndpointPool(urls []string, logger *slog.Logger) (*EndpointPool, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}
	endpoints := make([]Endpoint, 0, len(urls))
	for _, url := range urls {
		endpoints = append(endpoints, Endpoint{URL: url, Conn: rpc.New(url)})
	}
	return NewEndpointPoolFromConnections(endpoints, logger), nil
}

// NewEndpointPoolFromConnections builds a pool over pre-built connections
func NewEndpointPoolFromConnections(endpoints []Endpoint, logger *slog.Logger) *EndpointPool {
	if logger == nil {
		logger = slog.Default()
	}
	cp := make([]Endpoint, len(endpoints))
	copy(cp, endpoints)
	return &EndpointPool{endpoints: cp, logger: logger}
}

// Endpoints implements ConnectionProvider
func (p *EndpointPool) Endpoints() []Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cp := make([]Endpoint, len(p.endpoints))
	copy(cp, p.endpoints)
	return cp
}

// URLs returns the endpoint URLs in their current priority order
func (p *EndpointPool) URLs() []string {
	endpoints := p.Endpoints()
	urls := make([]string, len(endpoints))
	for i, ep := range endpoints {
		urls[i] = ep.URL
	}
	return urls
}

// HealthCheckAndPrioritize checks every endpoint and moves healthy ones first
func (p *EndpointPool) HealthCheckAndPrioritize(ctx context.Context) {
	endpoints := p.Endpoints()

	var healthy, unhealthy []Endpoint
	for _, ep := range endpoints {
		if isConnectionHealthy(ctx, ep.Conn) {
			healthy = append(healthy, ep)
		} else {
			unhealthy = append(unhealthy, ep)
		}
	}

	p.mu.Lock()
	p.endpoints = append(healthy, unhealthy...)
	p.mu.Unlock()

	p.logger.Debug("health check complete",
		"healthy", len(healthy),
		"unhealthy", len(unhealthy))
}

// StartBackgroundRefresh re-runs the health check on every tick until ctx is done
func (p *EndpointPool) StartBackgroundRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = constants.EndpointRefreshInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.HealthCheckAndPrioritize(ctx)
			}
		}
	}()
}

func isConnectionHealthy(ctx context.Context, conn Connection) bool {
	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	status, err := conn.GetHealth(ctx)
	return err == nil && status == rpc.HealthOk
}
