package svm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sigweihq/companionpay/pkg/chains"
	"github.com/sigweihq/companionpay/pkg/constants"
)

// Options tune the adapters created by InitSVMChains. Zero values fall back
// to the defaults in constants.
type Options struct {
	// Endpoints maps a network to its RPC URLs. A network with no URLs uses
	// the official endpoints.
	Endpoints map[string][]string

	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	AttemptTimeout  time.Duration
	Observer        AttemptObserver
	RefreshInterval time.Duration

	// HealthCheck runs a blocking health check before the adapter is
	// registered and keeps refreshing in the background until ctx is done
	HealthCheck bool
}

// InitSVMChains registers an adapter per network in the registry
func InitSVMChains(ctx context.Context, logger *slog.Logger, registry *chains.Registry, opts Options) error {
	if logger == nil {
		logger = slog.Default()
	}

	endpoints := opts.Endpoints
	if len(endpoints) == 0 {
		endpoints = map[string][]string{
			constants.NetworkSolana:       nil,
			constants.NetworkSolanaDevnet: nil,
		}
	}

	for network, eps := range endpoints {
		// Fallback to official endpoints if empty
		if len(eps) == 0 {
			officialEps, ok := constants.OfficialRPCEndpoints[network]
			if !ok {
				logger.Warn("no endpoints provided for SVM network", "network", network)
				continue
			}
			eps = officialEps
			logger.Info("using official endpoints for SVM network", "network", network)
		}

		pool, err := NewEndpointPool(eps, logger.With("network", network))
		if err != nil {
			return fmt.Errorf("failed to create endpoint pool for %s: %w", network, err)
		}
		if opts.HealthCheck {
			pool.HealthCheckAndPrioritize(ctx)
			pool.StartBackgroundRefresh(ctx, opts.RefreshInterval)
		}

		adapter := NewSVMAdapter(network, NewExecutor(pool, executorOptions(logger, opts)...), opts.MaxAttempts)

		if err := registry.Register(adapter); err != nil {
			return fmt.Errorf("failed to register SVM adapter for %s: %w", network, err)
		}
	}

	return nil
}

func executorOptions(logger *slog.Logger, opts Options) []ExecutorOption {
	execOpts := []ExecutorOption{WithExecutorLogger(logger)}
	if opts.BaseDelay > 0 || opts.MaxDelay > 0 {
		base, max := opts.BaseDelay, opts.MaxDelay
		if base <= 0 {
			base = constants.DelayBetweenRPCCalls * time.Millisecond
		}
		if max <= 0 {
			max = constants.MaxRPCBackoffDelay
		}
		execOpts = append(execOpts, WithBackoff(base, max))
	}
	if opts.AttemptTimeout > 0 {
		execOpts = append(execOpts, WithAttemptTimeout(opts.AttemptTimeout))
	}
	if opts.Observer != nil {
		execOpts = append(execOpts, WithObserver(opts.Observer))
	}
	return execOpts
}
