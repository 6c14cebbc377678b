package trading

import (
	"context"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/decimalutil"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/registry"
	"polymarket-mm/pkg/clobtypes"
)

// ExchangeBalances implements BalanceSource against the exchange's
// GET /data/balances endpoint. Each call fetches fresh balances; it does
// not cache, since PlaceOrder's pre-flight check needs the current figure,
// not a stale one racing with the wallet's own fills.
type ExchangeBalances struct {
	client   *exchange.Client
	registry *registry.Registry
}

// NewExchangeBalances wires a BalanceSource backed by client, resolving a
// wallet's query address through reg.
func NewExchangeBalances(client *exchange.Client, reg *registry.Registry) *ExchangeBalances {
	return &ExchangeBalances{client: client, registry: reg}
}

func (b *ExchangeBalances) fetch(ctx context.Context, walletID string) (decimal.Decimal, map[string]decimal.Decimal, error) {
	wallet, err := b.registry.Get(walletID)
	if err != nil {
		return decimal.Zero, nil, err
	}

	resp, err := b.client.GetBalances(ctx, wallet.FunderAddress.Hex())
	if err != nil {
		return decimal.Zero, nil, err
	}

	collateral, err := decimalutil.ToDecimal(resp.Collateral, nil)
	if err != nil {
		return decimal.Zero, nil, clobtypes.Wrap(clobtypes.KindBalanceTracking, "parse collateral balance", err, nil)
	}

	tokens := make(map[string]decimal.Decimal, len(resp.Tokens))
	for tokenID, raw := range resp.Tokens {
		qty, err := decimalutil.ToDecimal(raw, nil)
		if err != nil {
			return decimal.Zero, nil, clobtypes.Wrap(clobtypes.KindBalanceTracking, "parse token balance", err, map[string]any{"token": tokenID})
		}
		tokens[tokenID] = qty
	}
	return collateral, tokens, nil
}

// CollateralBalance returns the wallet's current USDC collateral balance.
func (b *ExchangeBalances) CollateralBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	collateral, _, err := b.fetch(ctx, walletID)
	return collateral, err
}

// TokenBalance returns the wallet's current holding of tokenID. Missing
// from the response means zero, not an error — a wallet that has never
// held a token is not in a failure state.
func (b *ExchangeBalances) TokenBalance(ctx context.Context, walletID, tokenID string) (decimal.Decimal, error) {
	_, tokens, err := b.fetch(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	return tokens[tokenID], nil
}
