// Package trading implements the order placement façade: pre-flight balance
// reservation, nonce allocation, order construction and submission, and
// graceful cancellation of in-flight orders on shutdown. It is the one
// place that owns the reserved-balance ledger — every other package only
// reads through it.
package trading

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/nonce"
	"polymarket-mm/internal/registry"
	"polymarket-mm/pkg/clobtypes"
	"polymarket-mm/pkg/types"
)

// BalanceSource answers the two questions PlaceOrder needs before it will
// submit a BUY or SELL: available collateral, and held token balance. In
// production these are backed by the data façade; tests supply a fake.
type BalanceSource interface {
	CollateralBalance(ctx context.Context, walletID string) (decimal.Decimal, error)
	TokenBalance(ctx context.Context, walletID, tokenID string) (decimal.Decimal, error)
}

// Facade is the trading entry point used by the rest of the program.
type Facade struct {
	client       *exchange.Client
	builder      *exchange.Builder
	nonces       *nonce.Manager
	registry     *registry.Registry
	balances     BalanceSource
	minOrderSize decimal.Decimal

	reservedMu sync.Mutex
	reserved   map[string]decimal.Decimal

	inFlight *inFlightRegistry
}

// New creates a trading façade wired to the given transport, order builder,
// nonce manager, wallet registry, and balance source. minOrderSize rejects
// any request below it before a nonce or reservation is ever allocated,
// matching the exchange's published per-request floor.
func New(client *exchange.Client, builder *exchange.Builder, nonces *nonce.Manager, reg *registry.Registry, balances BalanceSource, minOrderSize decimal.Decimal) *Facade {
	return &Facade{
		client:       client,
		builder:      builder,
		nonces:       nonces,
		registry:     reg,
		balances:     balances,
		minOrderSize: minOrderSize,
		reserved:     make(map[string]decimal.Decimal),
		inFlight:     newInFlightRegistry(10000),
	}
}

// reserve adds amount to walletID's reserved balance. Never makes the
// balance negative — callers only ever add a non-negative amount here.
func (f *Facade) reserve(walletID string, amount decimal.Decimal) {
	f.reservedMu.Lock()
	defer f.reservedMu.Unlock()
	f.reserved[walletID] = f.reserved[walletID].Add(amount)
}

// release subtracts amount from walletID's reserved balance. Returns a
// BalanceTracking error — never panics — if this would drive the balance
// negative, since that indicates an upstream bookkeeping bug that must
// surface to the caller rather than be silently clamped.
func (f *Facade) release(walletID string, amount decimal.Decimal) error {
	f.reservedMu.Lock()
	defer f.reservedMu.Unlock()

	current := f.reserved[walletID]
	if amount.GreaterThan(current) {
		return clobtypes.New(clobtypes.KindBalanceTracking, "release exceeds reserved balance", map[string]any{
			"wallet": walletID, "reserved": current.String(), "release": amount.String(),
		})
	}
	f.reserved[walletID] = current.Sub(amount)
	return nil
}

// Reserved returns the currently reserved USDC notional for walletID.
func (f *Facade) Reserved(walletID string) decimal.Decimal {
	f.reservedMu.Lock()
	defer f.reservedMu.Unlock()
	return f.reserved[walletID]
}

// PlaceOrder implements the full order-placement sequence: credential check,
// request validation, pre-flight balance reservation, nonce allocation,
// build-and-sign, submission, and reservation bookkeeping. Any error
// returned after the reservation step is guaranteed to have already
// released that reservation — callers never need to clean up themselves.
func (f *Facade) PlaceOrder(ctx context.Context, req types.OrderRequest, walletID string, skipBalanceCheck bool, idempotencyKey string) (*types.OrderResponse, error) {
	wallet, err := f.registry.Get(walletID)
	if err != nil {
		return nil, err
	}
	if !wallet.Auth.HasL2Credentials() {
		return nil, clobtypes.New(clobtypes.KindAuthentication, "wallet has no L2 credentials", map[string]any{"wallet": wallet.ID})
	}

	if err := f.validateRequest(req); err != nil {
		return nil, err
	}

	reservedAmount := decimal.Zero
	if !skipBalanceCheck {
		if err := f.checkBalance(ctx, wallet.ID, req); err != nil {
			return nil, err
		}
		if req.Side == types.BUY {
			reservedAmount = req.Size
		}
	}

	nonceVal, ok := f.nonces.GetAndIncrement(wallet.ID)
	if !ok {
		nonceVal = f.nonces.BootstrapFallback(wallet.ID)
	}

	signed, err := f.builder.Build(ctx, req, nonceVal, idempotencyKey)
	if err != nil {
		return nil, err
	}

	if !reservedAmount.IsZero() {
		f.reserve(wallet.ID, reservedAmount)
	}

	payload := types.OrderPayload{Order: *signed, Owner: wallet.Auth.WSAuthPayload().ApiKey, OrderType: req.OrderType}
	results, err := f.client.PostOrders(ctx, []types.OrderPayload{payload})
	if err != nil {
		if relErr := f.safeRelease(wallet.ID, reservedAmount); relErr != nil {
			return nil, relErr
		}
		return nil, err
	}
	if len(results) != 1 {
		if relErr := f.safeRelease(wallet.ID, reservedAmount); relErr != nil {
			return nil, relErr
		}
		return nil, clobtypes.New(clobtypes.KindTransientAPI, "expected exactly one order response", map[string]any{"count": len(results)})
	}

	result := results[0]
	if !result.Success {
		if relErr := f.safeRelease(wallet.ID, reservedAmount); relErr != nil {
			return nil, relErr
		}
		return nil, mapOrderError(result)
	}

	f.inFlight.track(result.OrderID)
	return &result, nil
}

func (f *Facade) safeRelease(walletID string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	return f.release(walletID, amount)
}

// PlaceOrders submits a batch: each request is built and signed
// independently (independent random salt per spec.md's batch rule) but all
// orders are posted in one underlying request.
func (f *Facade) PlaceOrders(ctx context.Context, reqs []types.OrderRequest, walletID string, skipBalanceCheck bool) ([]types.OrderResponse, error) {
	results := make([]types.OrderResponse, 0, len(reqs))
	for _, req := range reqs {
		result, err := f.PlaceOrder(ctx, req, walletID, skipBalanceCheck, "")
		if err != nil {
			return results, err
		}
		results = append(results, *result)
	}
	return results, nil
}

// checkBalance implements spec.md step 3: size is always USD notional. For
// BUY, reject if that notional exceeds available collateral net of what's
// already reserved; for SELL, reject if the wallet doesn't hold enough
// tokens to cover size/price worth of the position.
func (f *Facade) checkBalance(ctx context.Context, walletID string, req types.OrderRequest) error {
	switch req.Side {
	case types.BUY:
		collateral, err := f.balances.CollateralBalance(ctx, walletID)
		if err != nil {
			return clobtypes.Wrap(clobtypes.KindBalanceTracking, "fetch collateral balance", err, nil)
		}
		available := collateral.Sub(f.Reserved(walletID))
		if req.Size.GreaterThan(available) {
			return clobtypes.NewTrading(clobtypes.TradingSubKindInsufficientBalance, "insufficient available collateral", map[string]any{
				"required": req.Size.String(), "available": available.String(),
			})
		}
	case types.SELL:
		if req.Price.IsZero() || req.Price.IsNegative() {
			return clobtypes.New(clobtypes.KindValidation, "price must be positive", nil)
		}
		held, err := f.balances.TokenBalance(ctx, walletID, req.TokenID)
		if err != nil {
			return clobtypes.Wrap(clobtypes.KindBalanceTracking, "fetch token balance", err, nil)
		}
		tokensNeeded := req.Size.Div(req.Price)
		if tokensNeeded.GreaterThan(held) {
			return clobtypes.NewTrading(clobtypes.TradingSubKindInsufficientBalance, "insufficient token balance", map[string]any{
				"required": tokensNeeded.String(), "held": held.String(),
			})
		}
	default:
		return clobtypes.New(clobtypes.KindValidation, fmt.Sprintf("unknown side %q", req.Side), nil)
	}
	return nil
}

func (f *Facade) validateRequest(req types.OrderRequest) error {
	if req.TokenID == "" {
		return clobtypes.New(clobtypes.KindValidation, "token id is required", nil)
	}
	if req.Side != types.BUY && req.Side != types.SELL {
		return clobtypes.New(clobtypes.KindValidation, fmt.Sprintf("unknown side %q", req.Side), nil)
	}
	if f.minOrderSize.IsPositive() && req.Size.LessThan(f.minOrderSize) {
		return clobtypes.New(clobtypes.KindValidation, "order size below configured minimum", map[string]any{
			"size": req.Size.String(), "minimum": f.minOrderSize.String(),
		})
	}
	return nil
}

// mapOrderError maps a known rejection string from the exchange to the
// typed trading taxonomy; unrecognized strings fall through to a generic
// OrderRejected error carrying the raw message for diagnostics.
func mapOrderError(resp types.OrderResponse) error {
	switch resp.ErrorMsg {
	case "", "unknown":
		return clobtypes.NewTrading(clobtypes.TradingSubKindOrderRejected, "order rejected", map[string]any{"order_id": resp.OrderID})
	default:
		return clobtypes.NewTrading(clobtypes.TradingSubKindOrderRejected, resp.ErrorMsg, map[string]any{"order_id": resp.OrderID})
	}
}

// Shutdown cancels every order this façade placed that is still considered
// in-flight, then releases the transport. Matches the teacher's SIGINT/
// SIGTERM handling pattern in cmd/bot/main.go, generalized from the engine
// level to the façade level.
func (f *Facade) Shutdown(ctx context.Context) error {
	ids := f.inFlight.snapshotOrderIDs()
	if len(ids) > 0 {
		if _, err := f.client.CancelOrders(ctx, ids); err != nil {
			return err
		}
	}
	f.client.Close()
	return nil
}
