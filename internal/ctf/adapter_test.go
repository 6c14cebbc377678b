package ctf

import (
	"context"
	"log/slog"
	"math/big"
	"os"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"polymarket-mm/internal/nonce"
)

// fakeBackend implements bind.ContractBackend with canned responses, enough
// to exercise BuildOnly without a real RPC endpoint.
type fakeBackend struct {
	code           map[common.Address][]byte
	callResult     []byte
	callErr        error
	gasPriceWei    *big.Int
	gasPriceErr    error
	pendingNonce   uint64
	pendingNonceErr error
}

func (f *fakeBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return f.code[contract], nil
}
func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return f.callResult, f.callErr
}
func (f *fakeBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return nil, nil
}
func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.pendingNonce, f.pendingNonceErr
}
func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.gasPriceWei, f.gasPriceErr
}
func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}
func (f *fakeBackend) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	return nil
}
func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	return &gethtypes.Header{}, nil
}
func (f *fakeBackend) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]gethtypes.Log, error) {
	return nil, nil
}
func (f *fakeBackend) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- gethtypes.Log) (ethereum.Subscription, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestAdapter(backend *fakeBackend) *BuildOnly {
	wallet := common.HexToAddress("0x1111111111111111111111111111111111111111")
	adapterAddr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	ctfAddr := common.HexToAddress("0x3333333333333333333333333333333333333333")
	collateralAddr := common.HexToAddress("0x4444444444444444444444444444444444444444")
	return NewBuildOnly(backend, wallet, adapterAddr, ctfAddr, collateralAddr, big.NewInt(137), 500, 100, nonce.New(), testLogger())
}

func TestEstimateConvertZeroTokensReturnsZero(t *testing.T) {
	out, err := EstimateConvert(0, decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("EstimateConvert: %v", err)
	}
	if !out.Collateral.IsZero() || out.YesTokenCount != 0 {
		t.Fatalf("expected zero output, got %+v", out)
	}
}

func TestEstimateConvertThreeWayFormula(t *testing.T) {
	// Converting 3 NO tokens at 10 units: collateral = 10 * (3-1) = 20, yes count = 2.
	out, err := EstimateConvert(3, decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("EstimateConvert: %v", err)
	}
	if !out.Collateral.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected collateral 20, got %s", out.Collateral)
	}
	if out.YesTokenCount != 2 {
		t.Fatalf("expected yes token count 2, got %d", out.YesTokenCount)
	}
}

func TestEstimateConvertRejectsNegativeAmount(t *testing.T) {
	_, err := EstimateConvert(3, decimal.NewFromInt(-1))
	if err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestConvertRejectsZeroIndexSet(t *testing.T) {
	backend := &fakeBackend{}
	a := newTestAdapter(backend)
	var marketID [32]byte
	_, err := a.Convert(context.Background(), marketID, 0, decimal.NewFromInt(10))
	if err == nil {
		t.Fatal("expected error for index_set 0")
	}
}

func TestConvertRejectsIndexSetAboveMax(t *testing.T) {
	backend := &fakeBackend{}
	a := newTestAdapter(backend)
	var marketID [32]byte
	_, err := a.Convert(context.Background(), marketID, MaxIndexSet+1, decimal.NewFromInt(10))
	if err == nil {
		t.Fatal("expected error for index_set above maximum")
	}
}

func TestConvertRejectsNonPositiveAmount(t *testing.T) {
	backend := &fakeBackend{
		gasPriceWei:  big.NewInt(50_000_000_000),
		pendingNonce: 5,
	}
	a := newTestAdapter(backend)
	var marketID [32]byte
	_, err := a.Convert(context.Background(), marketID, 1, decimal.Zero)
	if err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestConvertBuildsPreparedTxWithinGasCap(t *testing.T) {
	backend := &fakeBackend{
		gasPriceWei:  big.NewInt(50_000_000_000), // 50 gwei
		pendingNonce: 7,
	}
	a := newTestAdapter(backend)
	var marketID [32]byte
	marketID[0] = 0xAB

	tx, err := a.Convert(context.Background(), marketID, 3, decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if tx.To != a.adapter {
		t.Fatalf("expected tx.To = adapter address, got %s", tx.To.Hex())
	}
	if tx.GasLimit != gasLimitConvert {
		t.Fatalf("expected gas limit %d, got %d", gasLimitConvert, tx.GasLimit)
	}
	if tx.Nonce != 7 {
		t.Fatalf("expected nonce 7, got %d", tx.Nonce)
	}
	if tx.ChainID.Int64() != 137 {
		t.Fatalf("expected chain id 137, got %s", tx.ChainID)
	}
	if len(tx.Data) == 0 {
		t.Fatal("expected non-empty calldata")
	}
}

func TestPrepareRejectsGasPriceAboveCap(t *testing.T) {
	backend := &fakeBackend{
		gasPriceWei:  big.NewInt(600_000_000_000), // 600 gwei, above the 500 gwei cap
		pendingNonce: 1,
	}
	a := newTestAdapter(backend)
	var conditionID [32]byte
	_, err := a.Split(context.Background(), conditionID, decimal.NewFromInt(5))
	if err == nil {
		t.Fatal("expected error for gas price above cap")
	}
}

func TestNextNonceReusesCacheWithinWindow(t *testing.T) {
	backend := &fakeBackend{
		gasPriceWei:  big.NewInt(10_000_000_000),
		pendingNonce: 42,
	}
	a := newTestAdapter(backend)
	var conditionID [32]byte

	tx1, err := a.Split(context.Background(), conditionID, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("first Split: %v", err)
	}
	if tx1.Nonce != 42 {
		t.Fatalf("expected first nonce 42, got %d", tx1.Nonce)
	}

	// Bumping pendingNonce on the backend should have no effect on the second
	// call within the refresh window; the cached counter should increment.
	backend.pendingNonce = 999

	tx2, err := a.Split(context.Background(), conditionID, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("second Split: %v", err)
	}
	if tx2.Nonce != 43 {
		t.Fatalf("expected second nonce 43 (cached+1), got %d", tx2.Nonce)
	}
}

func TestCheckApprovalParsesBoolResult(t *testing.T) {
	packed, err := erc1155ABI.Pack("isApprovedForAll", common.Address{}, common.Address{})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	_ = packed

	// ABI-encode a `true` bool return value manually: 32 bytes, last byte 1.
	encoded := make([]byte, 32)
	encoded[31] = 1

	backend := &fakeBackend{callResult: encoded}
	a := newTestAdapter(backend)

	approved, err := a.CheckApproval(context.Background(), a.wallet)
	if err != nil {
		t.Fatalf("CheckApproval: %v", err)
	}
	if !approved {
		t.Fatal("expected approved = true")
	}
}

func TestVerifyDeployedFailsWhenCodeMissing(t *testing.T) {
	backend := &fakeBackend{code: map[common.Address][]byte{}}
	a := newTestAdapter(backend)

	if err := a.VerifyDeployed(context.Background()); err == nil {
		t.Fatal("expected error when no contract code is present at any address")
	}
}

func TestVerifyDeployedSucceedsWhenAllCodePresent(t *testing.T) {
	backend := &fakeBackend{code: map[common.Address][]byte{}}
	a := newTestAdapter(backend)
	backend.code[a.adapter] = []byte{0x60, 0x80}
	backend.code[a.ctf] = []byte{0x60, 0x80}
	backend.code[a.collateral] = []byte{0x60, 0x80}

	if err := a.VerifyDeployed(context.Background()); err != nil {
		t.Fatalf("VerifyDeployed: %v", err)
	}
}

func TestCheckCollateralApprovalParsesAllowance(t *testing.T) {
	// ABI-encode a uint256 allowance of 1_000_000 (1.00 USDC at 6 decimals).
	encoded := make([]byte, 32)
	big.NewInt(1_000_000).FillBytes(encoded)

	backend := &fakeBackend{callResult: encoded}
	a := newTestAdapter(backend)

	allowance, err := a.CheckCollateralApproval(context.Background(), a.wallet)
	if err != nil {
		t.Fatalf("CheckCollateralApproval: %v", err)
	}
	if !allowance.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected allowance 1, got %s", allowance)
	}
}

func TestSetCollateralApprovalBuildsPreparedTx(t *testing.T) {
	backend := &fakeBackend{
		gasPriceWei:  big.NewInt(10_000_000_000),
		pendingNonce: 3,
	}
	a := newTestAdapter(backend)

	tx, err := a.SetCollateralApproval(context.Background())
	if err != nil {
		t.Fatalf("SetCollateralApproval: %v", err)
	}
	if tx.To != a.collateral {
		t.Fatalf("expected tx.To = collateral address, got %s", tx.To.Hex())
	}
	if tx.GasLimit != gasLimitApproval {
		t.Fatalf("expected gas limit %d, got %d", gasLimitApproval, tx.GasLimit)
	}
	if len(tx.Data) == 0 {
		t.Fatal("expected non-empty calldata")
	}
}

func TestRedeemRejectsZeroIndexSet(t *testing.T) {
	backend := &fakeBackend{}
	a := newTestAdapter(backend)
	var conditionID [32]byte
	_, err := a.Redeem(context.Background(), conditionID, 0)
	if err == nil {
		t.Fatal("expected error for index_set 0")
	}
}
