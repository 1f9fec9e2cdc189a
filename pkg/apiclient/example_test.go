package apiclient_test

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/sigweihq/companionpay/pkg/apiclient"
	"github.com/sigweihq/companionpay/pkg/types"
)

// Example_walletSession demonstrates signing in with a wallet, registering
// when the wallet is new, and checking access to a companion
func Example_walletSession() {
	ctx := context.Background()
	client := apiclient.NewClient("https://api.companionpay.app")

	walletAddress := "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

	// 1. Sign in; the server never creates an account here
	auth, err := client.Auth.SignIn(ctx, walletAddress)
	if err != nil {
		log.Fatal(err)
	}

	// 2. New wallets pick a username and register
	if auth.NewUser {
		avail, err := client.Auth.UsernameAvailable(ctx, "luna_fan")
		if err != nil {
			log.Fatal(err)
		}
		if !avail.Available {
			log.Fatalf("username unavailable: %s", avail.Reason)
		}
		auth, err = client.Auth.Register(ctx, types.WalletRegisterRequest{
			WalletAddress: walletAddress,
			Username:      "luna_fan",
			DisplayName:   "Luna Fan",
			ContactEmail:  "fan@example.com",
		})
		if err != nil {
			log.Fatal(err)
		}
	}
	fmt.Printf("Signed in as: %s\n", auth.User.Username)

	// 3. Check access
	access, err := client.CompanionAccess(ctx, "luna")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Has access: %v\n", access.HasAccess)
}

// Example_verifyPayment demonstrates asking the server to verify a payment
// that was already confirmed on chain
func Example_verifyPayment() {
	ctx := context.Background()
	client := apiclient.NewClient("https://api.companionpay.app")
	client.Auth.SetAccessToken("session-token")

	resp, err := client.VerifyPayment(ctx, types.VerifyPaymentRequest{
		CompanionID:          "luna",
		TransactionSignature: "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW",
		Amount:               0.01,
	})
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) {
			log.Fatalf("rejected (%s): %s", apiErr.Code, apiErr.Message)
		}
		log.Fatal(err)
	}
	fmt.Println(resp.Message)
}
