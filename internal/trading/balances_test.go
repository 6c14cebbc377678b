package trading

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/registry"
)

func randomKeyHex(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return hex.EncodeToString(crypto.FromECDSA(key))
}

func TestExchangeBalancesParsesCollateralAndTokens(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"collateral":"500.25","tokens":{"tokA":"12.5"}}`))
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	reg := registry.New()
	id, err := reg.Add(registry.WalletConfig{PrivateKey: randomKeyHex(t), ChainID: 137})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	wallet, err := reg.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	wallet.Auth.SetCredentials(exchange.Credentials{ApiKey: "key", Secret: "c2VjcmV0", Passphrase: "pass"})

	cfg := config.Config{API: config.APIConfig{CLOBBaseURL: server.URL}}
	client := exchange.NewClient(cfg, wallet.Auth, logger)
	defer client.Close()

	balances := NewExchangeBalances(client, reg)

	collateral, err := balances.CollateralBalance(context.Background(), id)
	if err != nil {
		t.Fatalf("CollateralBalance: %v", err)
	}
	if !collateral.Equal(decimal.RequireFromString("500.25")) {
		t.Errorf("expected collateral 500.25, got %s", collateral)
	}

	token, err := balances.TokenBalance(context.Background(), id, "tokA")
	if err != nil {
		t.Fatalf("TokenBalance: %v", err)
	}
	if !token.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("expected token balance 12.5, got %s", token)
	}
}

func TestExchangeBalancesMissingTokenIsZero(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"collateral":"100","tokens":{}}`))
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	reg := registry.New()
	id, err := reg.Add(registry.WalletConfig{PrivateKey: randomKeyHex(t), ChainID: 137})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	wallet, _ := reg.Get(id)
	wallet.Auth.SetCredentials(exchange.Credentials{ApiKey: "key", Secret: "c2VjcmV0", Passphrase: "pass"})

	cfg := config.Config{API: config.APIConfig{CLOBBaseURL: server.URL}}
	client := exchange.NewClient(cfg, wallet.Auth, logger)
	defer client.Close()

	balances := NewExchangeBalances(client, reg)
	token, err := balances.TokenBalance(context.Background(), id, "missing")
	if err != nil {
		t.Fatalf("TokenBalance: %v", err)
	}
	if !token.IsZero() {
		t.Errorf("expected zero for missing token, got %s", token)
	}
}

func TestExchangeBalancesUnknownWalletErrors(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := config.Config{API: config.APIConfig{CLOBBaseURL: "http://localhost"}}
	client := exchange.NewClient(cfg, &exchange.Auth{}, logger)
	defer client.Close()

	reg := registry.New()
	balances := NewExchangeBalances(client, reg)

	if _, err := balances.CollateralBalance(context.Background(), "0xdeadbeef"); err == nil {
		t.Fatal("expected error for unknown wallet")
	}
}
