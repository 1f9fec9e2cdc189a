package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sigweihq/companionpay/pkg/apiclient"
	"github.com/sigweihq/companionpay/pkg/chains"
	"github.com/sigweihq/companionpay/pkg/chains/svm"
	"github.com/sigweihq/companionpay/pkg/constants"
	"github.com/sigweihq/companionpay/pkg/purchase"
	"github.com/sigweihq/companionpay/pkg/types"
	"github.com/sigweihq/companionpay/pkg/utils"
)

func main() {
	var (
		apiURL    = flag.String("api", getEnv("COMPANIONPAY_API_URL", apiclient.DefaultBaseURL), "companionpay API base URL")
		network   = flag.String("network", constants.NetworkSolanaDevnet, "Solana network")
		rpcURLs   = flag.String("rpc", os.Getenv("SOLANA_RPC_ENDPOINTS"), "comma separated RPC endpoints (official endpoints when empty)")
		companion = flag.String("companion", "", "companion id to unlock")
		username  = flag.String("username", "", "username to register when the wallet is new")
		email     = flag.String("email", "", "contact email for purchase receipts when registering")
		resume    = flag.String("resume", "", "signature of an earlier purchase to confirm and verify")
		verbose   = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *companion == "" {
		fmt.Fprintln(os.Stderr, "usage: purchase -companion <id> [-api url] [-network solana-devnet] [-resume signature]")
		os.Exit(2)
	}
	key := os.Getenv("COMPANIONPAY_PAYER_KEY")
	if key == "" {
		fmt.Fprintln(os.Stderr, "COMPANIONPAY_PAYER_KEY must hold the payer private key (base58 or hex)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, key, *apiURL, *network, *rpcURLs, *companion, *username, *email, *resume); err != nil {
		if f, ok := purchase.AsFailure(err); ok {
			fmt.Fprintf(os.Stderr, "purchase failed: %s\n", f.Message)
			if f.Signature != "" {
				fmt.Fprintf(os.Stderr, "signature: %s\nexplorer:  %s\n", f.Signature, f.ExplorerURL)
				fmt.Fprintf(os.Stderr, "retry with: -resume %s\n", f.Signature)
			}
			os.Exit(1)
		}
		logger.Error("purchase failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, key, apiURL, network, rpcURLs, companionID, username, email, resume string) error {
	wallet, err := purchase.KeypairWalletFromString(key)
	if err != nil {
		return fmt.Errorf("payer key: %w", err)
	}
	payer := wallet.PublicKey().String()

	client := apiclient.NewClient(apiURL)
	auth, err := client.Auth.SignIn(ctx, payer)
	if err != nil {
		return err
	}
	if auth.NewUser {
		if username == "" {
			return fmt.Errorf("wallet %s has no account yet; pass -username to register", payer)
		}
		_, err := client.Auth.Register(ctx, types.WalletRegisterRequest{
			WalletAddress: payer,
			Username:      username,
			DisplayName:   username,
			ContactEmail:  email,
		})
		if err != nil {
			return err
		}
		logger.Info("registered", "username", username)
	}

	reqs, err := client.PaymentRequirements(ctx, companionID)
	if err != nil {
		return err
	}
	if reqs.Network != network {
		return fmt.Errorf("server expects payment on %s, not %s", reqs.Network, network)
	}
	lamports, err := strconv.ParseUint(reqs.MaxAmountRequired, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", reqs.MaxAmountRequired, err)
	}

	var endpoints []string
	for _, u := range strings.Split(rpcURLs, ",") {
		if u = strings.TrimSpace(u); u != "" {
			endpoints = append(endpoints, u)
		}
	}
	registry := chains.NewRegistry()
	err = svm.InitSVMChains(ctx, logger, registry, svm.Options{
		Endpoints: map[string][]string{network: endpoints},
	})
	if err != nil {
		return err
	}
	adapter, err := registry.Get(network)
	if err != nil {
		return err
	}

	cfg := purchase.DefaultConfig(network)
	cfg.PlatformWallet = reqs.PayTo
	orchestrator := purchase.New(adapter, wallet, client, cfg,
		purchase.WithLogger(logger),
		purchase.WithProgress(func(p purchase.Progress) {
			fmt.Printf("[%s] %s\n", p.State, p.Message)
		}))

	req := purchase.Request{CompanionID: companionID, Price: utils.LamportsToSOL(lamports)}
	var result *purchase.Result
	if resume != "" {
		result, err = orchestrator.Resume(ctx, req, resume)
	} else {
		result, err = orchestrator.Purchase(ctx, req)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s\nsignature: %s\nexplorer:  %s\n", result.Message, result.Transaction.Signature, result.ExplorerURL)
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
