// Command bot wires the trading client's library packages into a minimal
// runnable process: load config, bootstrap a wallet and its L2 credentials,
// open the REST and WebSocket surfaces, and hold the façades open until a
// shutdown signal arrives. It is a smoke-test / example harness showing how
// the pieces fit together, not a trading strategy — picking prices and
// deciding when to quote is left to the caller.
//
// Architecture:
//
//	main.go                   — entry point: loads config, wires façades, waits for SIGINT/SIGTERM
//	internal/registry         — wallet signer + L2 credential bootstrap, with an on-disk cache
//	internal/exchange/client  — REST client for the CLOB API (orders, balances, order books)
//	internal/exchange/auth    — L1 (EIP-712) and L2 (HMAC) authentication
//	internal/exchange/ws      — WebSocket feeds (market data + user fills/orders) with auto-reconnect
//	internal/exchange/eventbus — real-time data service feed, an alternative to polling the REST façade
//	internal/market           — read-only market data façade (order books, midpoints, spreads, ...)
//	internal/trading          — order placement façade: balance check, nonce, build, submit, cancel-on-shutdown
//	internal/nonce            — per-wallet on-chain nonce allocation
//	internal/ctf              — interface-only CTF adapter (split/merge/redeem calldata); needs an
//	                            RPC-backed bind.ContractBackend the caller supplies, so it is not
//	                            wired here
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/decimalutil"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/logging"
	"polymarket-mm/internal/market"
	"polymarket-mm/internal/nonce"
	"polymarket-mm/internal/registry"
	"polymarket-mm/internal/trading"
	"polymarket-mm/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("PM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(logging.NewRedactingHandler(handler))

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	reg := registry.New()
	walletID, err := reg.Add(registry.WalletConfig{
		PrivateKey:    cfg.Wallet.PrivateKey,
		SignatureType: types.SignatureType(cfg.Wallet.SignatureType),
		FunderAddress: cfg.Wallet.FunderAddress,
		ChainID:       int64(cfg.Wallet.ChainID),
	})
	if err != nil {
		logger.Error("failed to register wallet", "error", err)
		os.Exit(1)
	}
	wallet, err := reg.Get(walletID)
	if err != nil {
		logger.Error("failed to look up registered wallet", "error", err)
		os.Exit(1)
	}
	if cfg.API.ApiKey != "" {
		wallet.Auth.SetCredentials(exchange.Credentials{
			ApiKey:     cfg.API.ApiKey,
			Secret:     cfg.API.Secret,
			Passphrase: cfg.API.Passphrase,
		})
	}

	credStore, err := registry.OpenCredentialStore(cfg.Credentials.CacheDir)
	if err != nil {
		logger.Error("failed to open credential cache", "error", err, "dir", cfg.Credentials.CacheDir)
		os.Exit(1)
	}

	client := exchange.NewClient(*cfg, wallet.Auth, logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.RequestTimeout)
	err = registry.Bootstrap(ctx, client, wallet, credStore)
	cancel()
	if err != nil {
		logger.Error("failed to bootstrap L2 credentials", "error", err, "wallet", wallet.ID)
		os.Exit(1)
	}

	builder := exchange.NewBuilder(client, wallet.Auth, cfg.Contracts)
	nonces := nonce.New()
	balances := trading.NewExchangeBalances(client, reg)
	minOrderSize, _ := decimalutil.ToDecimal(cfg.API.MinOrderSize, &decimal.Zero)
	facade := trading.New(client, builder, nonces, reg, balances, minOrderSize)

	dataFacade := market.NewDataFacade(client, logger)

	var marketFeed, userFeed *exchange.WSFeed
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	if cfg.API.WSMarketURL != "" {
		marketFeed = exchange.NewMarketFeed(cfg.API.WSMarketURL, logger)
		go func() {
			if err := marketFeed.Run(runCtx); err != nil && runCtx.Err() == nil {
				logger.Error("market feed stopped", "error", err)
			}
		}()
		// Local order book mirrors are opt-in: the caller tracks the markets
		// it cares about via dataFacade.TrackMarket before subscribing, then
		// SyncFeed keeps those mirrors current from the WS stream.
		go dataFacade.SyncFeed(runCtx, marketFeed)
	}
	if cfg.API.WSUserURL != "" {
		userFeed = exchange.NewUserFeed(cfg.API.WSUserURL, wallet.Auth, logger)
		go func() {
			if err := userFeed.Run(runCtx); err != nil && runCtx.Err() == nil {
				logger.Error("user feed stopped", "error", err)
			}
		}()
	}

	var eventBus *exchange.EventBusClient
	if cfg.API.EnableRTDS && cfg.API.RTDSURL != "" {
		eventBus = exchange.NewEventBusClient(cfg.API.RTDSURL, wallet.Auth, logger)
		eventBus.SetPingInterval(cfg.API.RTDSPingInterval)
		go func() {
			if err := eventBus.Run(runCtx); err != nil && runCtx.Err() == nil {
				logger.Error("event bus stopped", "error", err)
			}
		}()
	}

	logger.Info("trading client started",
		"wallet", wallet.ID,
		"funder", wallet.FunderAddress.Hex(),
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	runCancel()
	if marketFeed != nil {
		_ = marketFeed.Close()
	}
	if userFeed != nil {
		_ = userFeed.Close()
	}
	if eventBus != nil {
		eventBus.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := facade.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down trading façade", "error", err)
		os.Exit(1)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
