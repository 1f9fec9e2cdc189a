package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sigweihq/companionpay/pkg/chains"
	"github.com/sigweihq/companionpay/pkg/chains/svm"
	"github.com/sigweihq/companionpay/pkg/config"
	"github.com/sigweihq/companionpay/pkg/metrics"
	"github.com/sigweihq/companionpay/pkg/notify"
	"github.com/sigweihq/companionpay/pkg/server"
	"github.com/sigweihq/companionpay/pkg/session"
	"github.com/sigweihq/companionpay/pkg/signaling"
	"github.com/sigweihq/companionpay/pkg/store"
	"github.com/sigweihq/companionpay/pkg/verifier"
	"github.com/sigweihq/companionpay/pkg/walletauth"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	st := store.New(db)
	if cfg.Database.AutoMigrate {
		if err := st.AutoMigrate(); err != nil {
			return err
		}
		n, err := st.NormalizeWalletAddresses(ctx)
		if err != nil {
			return err
		}
		logger.Info("database migrated", "normalized_wallets", n)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	registry := chains.NewRegistry()
	err = svm.InitSVMChains(ctx, logger, registry, svm.Options{
		Endpoints:       map[string][]string{cfg.Solana.Network: cfg.Solana.Endpoints},
		MaxAttempts:     cfg.Solana.MaxAttempts,
		BaseDelay:       cfg.Solana.BaseDelay,
		MaxDelay:        cfg.Solana.MaxDelay,
		AttemptTimeout:  cfg.Solana.AttemptTimeout,
		RefreshInterval: cfg.Solana.RefreshInterval,
		HealthCheck:     cfg.Solana.HealthCheck,
		Observer:        m,
	})
	if err != nil {
		return err
	}
	adapter, err := registry.Get(cfg.Solana.Network)
	if err != nil {
		return err
	}
	logger.Info("chains ready", "networks", registry.GetSupportedNetworks())

	sessions := session.NewIssuer(cfg.JWT)
	auth := walletauth.NewAuthenticator(st, sessions, walletauth.WithLogger(logger))
	v := verifier.New(st, adapter,
		verifier.WithPlatformWallet(cfg.Solana.PlatformWallet),
		verifier.WithNotifier(notify.FromConfig(cfg.SMTP, logger)),
		verifier.WithMetrics(m),
		verifier.WithLogger(logger),
	)

	srv := server.New(server.Config{
		Env:             cfg.Server.Env,
		PublicURL:       cfg.Server.PublicURL,
		Network:         cfg.Solana.Network,
		PlatformWallet:  cfg.Solana.PlatformWallet,
		VerifyPerSecond: cfg.RateLimit.VerifyPerSecond,
		VerifyBurst:     cfg.RateLimit.VerifyBurst,
	}, server.Dependencies{
		Verifier:  v,
		Auth:      auth,
		Store:     st,
		Sessions:  sessions,
		Signaling: signaling.NewHub(m, logger),
		Metrics:   m,
		Gatherer:  reg,
		Health:    st,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"port", cfg.Server.Port,
			"network", cfg.Solana.Network,
			"platform_wallet", cfg.Solana.PlatformWallet)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// let in-flight purchase confirmations finish
	v.Wait()
	logger.Info("server stopped")
	return nil
}
