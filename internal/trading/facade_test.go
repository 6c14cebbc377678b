package trading

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/clobtypes"
	"polymarket-mm/pkg/types"
)

type fakeBalances struct {
	collateral decimal.Decimal
	collErr    error
	token      decimal.Decimal
	tokenErr   error
}

func (f *fakeBalances) CollateralBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	return f.collateral, f.collErr
}

func (f *fakeBalances) TokenBalance(ctx context.Context, walletID, tokenID string) (decimal.Decimal, error) {
	return f.token, f.tokenErr
}

func newTestFacade() *Facade {
	return &Facade{reserved: make(map[string]decimal.Decimal), inFlight: newInFlightRegistry(10)}
}

func TestReserveAndRelease(t *testing.T) {
	t.Parallel()

	f := newTestFacade()
	f.reserve("w1", decimal.RequireFromString("10"))
	if !f.Reserved("w1").Equal(decimal.RequireFromString("10")) {
		t.Fatalf("expected reserved 10, got %s", f.Reserved("w1"))
	}
	if err := f.release("w1", decimal.RequireFromString("4")); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !f.Reserved("w1").Equal(decimal.RequireFromString("6")) {
		t.Fatalf("expected reserved 6, got %s", f.Reserved("w1"))
	}
}

// TestReservedBalanceNeverNegative verifies over-releasing returns an error
// and leaves the ledger untouched rather than driving it negative.
func TestReservedBalanceNeverNegative(t *testing.T) {
	t.Parallel()

	f := newTestFacade()
	f.reserve("w1", decimal.RequireFromString("5"))

	err := f.release("w1", decimal.RequireFromString("10"))
	if err == nil {
		t.Fatal("expected error releasing more than reserved")
	}
	if !f.Reserved("w1").Equal(decimal.RequireFromString("5")) {
		t.Fatalf("ledger mutated on a failed release: %s", f.Reserved("w1"))
	}
}

func TestOverReleaseErrors(t *testing.T) {
	t.Parallel()

	f := newTestFacade()
	err := f.release("unknown-wallet", decimal.RequireFromString("1"))
	if !clobtypes.Is(err, clobtypes.KindBalanceTracking) {
		t.Fatalf("expected BalanceTracking error, got %v", err)
	}
}

func TestSafeReleaseNoOpOnZero(t *testing.T) {
	t.Parallel()

	f := newTestFacade()
	if err := f.safeRelease("w1", decimal.Zero); err != nil {
		t.Fatalf("expected no-op for zero release, got %v", err)
	}
}

// TestReservedBalanceReleasedOnRejection simulates the bookkeeping half of
// PlaceOrder's rejection path directly: reserve, then release on failure,
// ending at zero.
func TestReservedBalanceReleasedOnRejection(t *testing.T) {
	t.Parallel()

	f := newTestFacade()
	amount := decimal.RequireFromString("25")
	f.reserve("w1", amount)

	resp := types.OrderResponse{Success: false, ErrorMsg: "tick size violation", OrderID: "order-x"}
	err := mapOrderError(resp)
	if !clobtypes.Is(err, clobtypes.KindTrading) {
		t.Fatalf("expected trading error, got %v", err)
	}

	if relErr := f.safeRelease("w1", amount); relErr != nil {
		t.Fatalf("release: %v", relErr)
	}
	if !f.Reserved("w1").IsZero() {
		t.Fatalf("expected reserved balance back to zero, got %s", f.Reserved("w1"))
	}
}

func TestCheckBalanceBuyRejectsInsufficientCollateral(t *testing.T) {
	t.Parallel()

	f := newTestFacade()
	f.balances = &fakeBalances{collateral: decimal.RequireFromString("5")}

	req := types.OrderRequest{TokenID: "tok1", Side: types.BUY, Price: decimal.RequireFromString("0.5"), Size: decimal.RequireFromString("20")}
	err := f.checkBalance(context.Background(), "w1", req)
	if !clobtypes.Is(err, clobtypes.KindTrading) {
		t.Fatalf("expected trading error for insufficient collateral, got %v", err)
	}
}

func TestCheckBalanceBuyAccountsForReservedAmount(t *testing.T) {
	t.Parallel()

	f := newTestFacade()
	f.balances = &fakeBalances{collateral: decimal.RequireFromString("10")}
	f.reserve("w1", decimal.RequireFromString("9"))

	req := types.OrderRequest{TokenID: "tok1", Side: types.BUY, Price: decimal.RequireFromString("0.5"), Size: decimal.RequireFromString("4")}
	err := f.checkBalance(context.Background(), "w1", req)
	if !clobtypes.Is(err, clobtypes.KindTrading) {
		t.Fatalf("expected rejection once reserved balance is netted out, got %v", err)
	}
}

func TestCheckBalanceSellRejectsInsufficientTokens(t *testing.T) {
	t.Parallel()

	f := newTestFacade()
	f.balances = &fakeBalances{token: decimal.RequireFromString("1")}

	req := types.OrderRequest{TokenID: "tok1", Side: types.SELL, Price: decimal.RequireFromString("0.5"), Size: decimal.RequireFromString("5")}
	err := f.checkBalance(context.Background(), "w1", req)
	if !clobtypes.Is(err, clobtypes.KindTrading) {
		t.Fatalf("expected trading error for insufficient token balance, got %v", err)
	}
}

// TestCheckBalanceBuyNotionalIgnoresPrice verifies size is USD notional, not
// a token count: BUY(size=60, price=0.50) against 100 available collateral
// must require exactly 60, not 60*0.50=30.
func TestCheckBalanceBuyNotionalIgnoresPrice(t *testing.T) {
	t.Parallel()

	f := newTestFacade()
	f.balances = &fakeBalances{collateral: decimal.RequireFromString("100")}

	req := types.OrderRequest{TokenID: "tok1", Side: types.BUY, Price: decimal.RequireFromString("0.50"), Size: decimal.RequireFromString("60")}
	if err := f.checkBalance(context.Background(), "w1", req); err != nil {
		t.Fatalf("expected BUY of 60 notional against 100 available to pass, got %v", err)
	}

	req.Size = decimal.RequireFromString("110")
	if err := f.checkBalance(context.Background(), "w1", req); !clobtypes.Is(err, clobtypes.KindTrading) {
		t.Fatalf("expected BUY of 110 notional against 100 available to be rejected, got %v", err)
	}
}

// TestCheckBalanceSellTokensNeededDividesByPrice verifies SELL's token
// requirement is size/price, not size itself.
func TestCheckBalanceSellTokensNeededDividesByPrice(t *testing.T) {
	t.Parallel()

	f := newTestFacade()
	f.balances = &fakeBalances{token: decimal.RequireFromString("15")}

	// size=5 USD at price=0.50 needs 10 tokens; 15 held covers it.
	req := types.OrderRequest{TokenID: "tok1", Side: types.SELL, Price: decimal.RequireFromString("0.50"), Size: decimal.RequireFromString("5")}
	if err := f.checkBalance(context.Background(), "w1", req); err != nil {
		t.Fatalf("expected SELL needing 10 tokens against 15 held to pass, got %v", err)
	}
}

func TestCheckBalanceSellRejectsNonPositivePrice(t *testing.T) {
	t.Parallel()

	f := newTestFacade()
	f.balances = &fakeBalances{token: decimal.RequireFromString("100")}

	req := types.OrderRequest{TokenID: "tok1", Side: types.SELL, Price: decimal.Zero, Size: decimal.RequireFromString("5")}
	err := f.checkBalance(context.Background(), "w1", req)
	if !clobtypes.Is(err, clobtypes.KindValidation) {
		t.Fatalf("expected validation error for zero price, got %v", err)
	}
}

func TestValidateRequestRejectsMissingTokenID(t *testing.T) {
	t.Parallel()

	f := newTestFacade()
	err := f.validateRequest(types.OrderRequest{Side: types.BUY})
	if !clobtypes.Is(err, clobtypes.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateRequestRejectsUnknownSide(t *testing.T) {
	t.Parallel()

	f := newTestFacade()
	err := f.validateRequest(types.OrderRequest{TokenID: "tok1", Side: "HOLD"})
	if !clobtypes.Is(err, clobtypes.KindValidation) {
		t.Fatalf("expected validation error for unknown side, got %v", err)
	}
}

func TestValidateRequestRejectsBelowMinimumSize(t *testing.T) {
	t.Parallel()

	f := newTestFacade()
	f.minOrderSize = decimal.RequireFromString("5")

	err := f.validateRequest(types.OrderRequest{TokenID: "tok1", Side: types.BUY, Size: decimal.RequireFromString("1")})
	if !clobtypes.Is(err, clobtypes.KindValidation) {
		t.Fatalf("expected validation error for below-minimum size, got %v", err)
	}

	err = f.validateRequest(types.OrderRequest{TokenID: "tok1", Side: types.BUY, Size: decimal.RequireFromString("5")})
	if err != nil {
		t.Fatalf("expected size exactly at minimum to pass, got %v", err)
	}
}

func TestMapOrderErrorUsesErrorMsgWhenPresent(t *testing.T) {
	t.Parallel()

	resp := types.OrderResponse{Success: false, ErrorMsg: "market is paused", OrderID: "order-y"}
	err := mapOrderError(resp)
	e, ok := clobtypes.AsError(err)
	if !ok {
		t.Fatalf("expected a clobtypes.Error, got %T", err)
	}
	if e.TradingSubKind != clobtypes.TradingSubKindOrderRejected {
		t.Fatalf("expected OrderRejected sub-kind, got %v", e.TradingSubKind)
	}
}
