// Package ctf builds unsigned calldata for settlement against the
// Conditional Token Framework and Polymarket's neg-risk adapter: approvals,
// split, merge, convert, and redeem. It never signs or broadcasts a
// transaction — BuildOnly assembles a PreparedTx for an embedding process
// to hand to its own TransactOpts-backed signer, the same interface-only
// boundary the rest of this module keeps around custody of funds.
package ctf

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"polymarket-mm/internal/decimalutil"
	"polymarket-mm/internal/nonce"
	"polymarket-mm/pkg/clobtypes"
)

// Gas limits, with headroom over the contract's typical consumption.
const (
	gasLimitApproval   = uint64(100_000)
	gasLimitConvert    = uint64(500_000)
	gasLimitSplitMerge = uint64(300_000)
	gasLimitRedeem     = uint64(300_000)
)

// MaxIndexSet is the highest valid index-set bitmask. Solidity's uint256
// supports at most 256 outcomes, addressed by bits 0-255.
const MaxIndexSet = 255

// nonceRefreshWindow bounds how long a cached chain nonce is trusted before
// BuildOnly re-fetches it from the backend, mirroring the adapter's own
// 30-second cache policy rather than trusting an in-memory counter forever.
const nonceRefreshWindow = 30 * time.Second

var (
	negRiskAdapterABI abi.ABI
	erc1155ABI        abi.ABI
	erc20ABI          abi.ABI
)

func init() {
	var err error
	negRiskAdapterABI, err = abi.JSON(strings.NewReader(negRiskAdapterABIJSON))
	if err != nil {
		panic("ctf: parse neg-risk adapter abi: " + err.Error())
	}
	erc1155ABI, err = abi.JSON(strings.NewReader(erc1155ABIJSON))
	if err != nil {
		panic("ctf: parse erc1155 abi: " + err.Error())
	}
	erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("ctf: parse erc20 abi: " + err.Error())
	}
}

const negRiskAdapterABIJSON = `[
	{"name":"convertPositions","type":"function","inputs":[
		{"name":"_marketId","type":"bytes32"},
		{"name":"_indexSet","type":"uint256"},
		{"name":"_amount","type":"uint256"}
	],"outputs":[]},
	{"name":"splitPosition","type":"function","inputs":[
		{"name":"_conditionId","type":"bytes32"},
		{"name":"_amount","type":"uint256"}
	],"outputs":[]},
	{"name":"mergePositions","type":"function","inputs":[
		{"name":"_conditionId","type":"bytes32"},
		{"name":"_amount","type":"uint256"}
	],"outputs":[]},
	{"name":"redeemPositions","type":"function","inputs":[
		{"name":"_conditionId","type":"bytes32"},
		{"name":"_amounts","type":"uint256[]"}
	],"outputs":[]}
]`

const erc1155ABIJSON = `[
	{"name":"setApprovalForAll","type":"function","inputs":[
		{"name":"operator","type":"address"},
		{"name":"approved","type":"bool"}
	],"outputs":[]},
	{"name":"isApprovedForAll","type":"function","inputs":[
		{"name":"account","type":"address"},
		{"name":"operator","type":"address"}
	],"outputs":[{"name":"","type":"bool"}]}
]`

const erc20ABIJSON = `[
	{"name":"approve","type":"function","inputs":[
		{"name":"spender","type":"address"},
		{"name":"amount","type":"uint256"}
	],"outputs":[{"name":"","type":"bool"}]},
	{"name":"allowance","type":"function","inputs":[
		{"name":"owner","type":"address"},
		{"name":"spender","type":"address"}
	],"outputs":[{"name":"","type":"uint256"}]}
]`

// PreparedTx is unsigned calldata ready for a TransactOpts-backed signer.
// BuildOnly never populates a transaction hash; that only exists once
// something else signs and broadcasts this.
type PreparedTx struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int
	Nonce    uint64
	ChainID  *big.Int
}

// Adapter settles positions against the CTF and neg-risk adapter contracts.
// Every method builds unsigned calldata; none of them sign or send.
type Adapter interface {
	CheckApproval(ctx context.Context, wallet common.Address) (bool, error)
	SetApproval(ctx context.Context, approved bool) (*PreparedTx, error)
	CheckCollateralApproval(ctx context.Context, wallet common.Address) (decimal.Decimal, error)
	SetCollateralApproval(ctx context.Context) (*PreparedTx, error)
	Split(ctx context.Context, conditionID [32]byte, amount decimal.Decimal) (*PreparedTx, error)
	Merge(ctx context.Context, conditionID [32]byte, amount decimal.Decimal) (*PreparedTx, error)
	Convert(ctx context.Context, marketID [32]byte, indexSet uint64, amount decimal.Decimal) (*PreparedTx, error)
	Redeem(ctx context.Context, conditionID [32]byte, indexSet uint64) (*PreparedTx, error)
}

// maxUint256 is the infinite-approval amount: set once on the collateral
// contract so trading never blocks on a depleted allowance, the same
// convention the exchange's own onboarding flow uses.
var maxUint256 = func() *big.Int {
	v := new(big.Int).Lsh(big.NewInt(1), 256)
	return v.Sub(v, big.NewInt(1))
}()

// ConvertOutput is the off-chain projection of what a Convert call releases:
// amount * (k-1) collateral and k-1 YES tokens, for a k-way NO conversion.
type ConvertOutput struct {
	Collateral    decimal.Decimal
	YesTokenCount int
}

// EstimateConvert projects the output of converting noTokenCount NO
// positions, without touching the chain.
func EstimateConvert(noTokenCount int, amount decimal.Decimal) (ConvertOutput, error) {
	if noTokenCount < 1 {
		return ConvertOutput{}, nil
	}
	if amount.IsNegative() {
		return ConvertOutput{}, clobtypes.New(clobtypes.KindValidation, "amount must be non-negative", nil)
	}
	k := int64(noTokenCount - 1)
	return ConvertOutput{
		Collateral:    amount.Mul(decimal.NewFromInt(k)),
		YesTokenCount: noTokenCount - 1,
	}, nil
}

// BuildOnly assembles calldata against the neg-risk adapter, CTF, and
// collateral contracts on an injected backend, validating chain id and
// contract-code presence up front. It never signs or sends.
type BuildOnly struct {
	backend    bind.ContractBackend
	wallet     common.Address
	adapter    common.Address
	ctf        common.Address
	collateral common.Address
	chainID    *big.Int

	gasPriceCapGwei  int64
	gasPriceWarnGwei int64

	nonces         *nonce.Manager
	nonceRefreshMu sync.Mutex
	refreshedAt    map[string]time.Time

	logger *slog.Logger
}

// NewBuildOnly constructs a BuildOnly adapter. chainID is the network the
// backend is expected to serve (137 for Polygon mainnet); it is not
// re-derived from the backend since bind.ContractBackend carries no ChainID
// method, only checked against what the caller configured.
func NewBuildOnly(
	backend bind.ContractBackend,
	wallet, adapterAddr, ctfAddr, collateralAddr common.Address,
	chainID *big.Int,
	gasPriceCapGwei, gasPriceWarnGwei int64,
	nonces *nonce.Manager,
	logger *slog.Logger,
) *BuildOnly {
	return &BuildOnly{
		backend:          backend,
		wallet:           wallet,
		adapter:          adapterAddr,
		ctf:              ctfAddr,
		collateral:       collateralAddr,
		chainID:          chainID,
		gasPriceCapGwei:  gasPriceCapGwei,
		gasPriceWarnGwei: gasPriceWarnGwei,
		nonces:           nonces,
		refreshedAt:      make(map[string]time.Time),
		logger:           logger.With("component", "ctf_adapter"),
	}
}

// VerifyDeployed checks that code exists at the adapter, CTF, and
// collateral addresses, catching a misconfigured address before any
// calldata is built against it.
func (b *BuildOnly) VerifyDeployed(ctx context.Context) error {
	checks := map[string]common.Address{
		"neg_risk_adapter": b.adapter,
		"ctf":              b.ctf,
		"collateral":       b.collateral,
	}
	for name, addr := range checks {
		code, err := b.backend.CodeAt(ctx, addr, nil)
		if err != nil {
			return clobtypes.Wrap(clobtypes.KindTransientAPI, fmt.Sprintf("check code at %s", name), err, nil)
		}
		if len(code) == 0 {
			return clobtypes.New(clobtypes.KindValidation, fmt.Sprintf("no contract deployed at %s (%s)", name, addr.Hex()), nil)
		}
	}
	return nil
}

// CheckApproval reports whether wallet has approved the neg-risk adapter to
// move its CTF (ERC1155) tokens.
func (b *BuildOnly) CheckApproval(ctx context.Context, wallet common.Address) (bool, error) {
	data, err := erc1155ABI.Pack("isApprovedForAll", wallet, b.adapter)
	if err != nil {
		return false, clobtypes.Wrap(clobtypes.KindValidation, "pack isApprovedForAll", err, nil)
	}

	ctfAddr := b.ctf
	res, err := b.backend.CallContract(ctx, ethereum.CallMsg{To: &ctfAddr, Data: data}, nil)
	if err != nil {
		return false, clobtypes.Wrap(clobtypes.KindTransientAPI, "call isApprovedForAll", err, nil)
	}

	vals, err := erc1155ABI.Unpack("isApprovedForAll", res)
	if err != nil || len(vals) == 0 {
		return false, clobtypes.Wrap(clobtypes.KindValidation, "unpack isApprovedForAll", err, nil)
	}
	approved, _ := vals[0].(bool)
	return approved, nil
}

// SetApproval builds calldata to grant or revoke the neg-risk adapter's
// ERC1155 operator approval over the wallet's CTF tokens.
func (b *BuildOnly) SetApproval(ctx context.Context, approved bool) (*PreparedTx, error) {
	data, err := erc1155ABI.Pack("setApprovalForAll", b.adapter, approved)
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindValidation, "pack setApprovalForAll", err, nil)
	}
	return b.prepare(ctx, b.ctf, data, gasLimitApproval)
}

// CheckCollateralApproval returns wallet's current USDC allowance granted to
// the neg-risk adapter, the spender that pulls collateral on split and
// convert calls.
func (b *BuildOnly) CheckCollateralApproval(ctx context.Context, wallet common.Address) (decimal.Decimal, error) {
	data, err := erc20ABI.Pack("allowance", wallet, b.adapter)
	if err != nil {
		return decimal.Zero, clobtypes.Wrap(clobtypes.KindValidation, "pack allowance", err, nil)
	}

	collateral := b.collateral
	res, err := b.backend.CallContract(ctx, ethereum.CallMsg{To: &collateral, Data: data}, nil)
	if err != nil {
		return decimal.Zero, clobtypes.Wrap(clobtypes.KindTransientAPI, "call allowance", err, nil)
	}

	vals, err := erc20ABI.Unpack("allowance", res)
	if err != nil || len(vals) == 0 {
		return decimal.Zero, clobtypes.Wrap(clobtypes.KindValidation, "unpack allowance", err, nil)
	}
	raw, ok := vals[0].(*big.Int)
	if !ok {
		return decimal.Zero, clobtypes.New(clobtypes.KindValidation, "allowance response had unexpected type", nil)
	}
	return decimalutil.FromWei(decimal.NewFromBigInt(raw, 0)), nil
}

// SetCollateralApproval builds calldata granting the neg-risk adapter an
// unlimited USDC allowance, the one-time setup step EOA wallets need before
// their first split or convert.
func (b *BuildOnly) SetCollateralApproval(ctx context.Context) (*PreparedTx, error) {
	data, err := erc20ABI.Pack("approve", b.adapter, maxUint256)
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindValidation, "pack approve", err, nil)
	}
	return b.prepare(ctx, b.collateral, data, gasLimitApproval)
}

// Split builds calldata to split collateral into a complementary YES+NO
// token pair for conditionID.
func (b *BuildOnly) Split(ctx context.Context, conditionID [32]byte, amount decimal.Decimal) (*PreparedTx, error) {
	if amount.Sign() <= 0 {
		return nil, clobtypes.New(clobtypes.KindValidation, fmt.Sprintf("amount must be positive, got %s", amount), nil)
	}
	data, err := negRiskAdapterABI.Pack("splitPosition", conditionID, decimalutil.ToWei(amount).BigInt())
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindValidation, "pack splitPosition", err, nil)
	}
	return b.prepare(ctx, b.adapter, data, gasLimitSplitMerge)
}

// Merge builds calldata to merge a complementary YES+NO token pair back
// into collateral for conditionID.
func (b *BuildOnly) Merge(ctx context.Context, conditionID [32]byte, amount decimal.Decimal) (*PreparedTx, error) {
	if amount.Sign() <= 0 {
		return nil, clobtypes.New(clobtypes.KindValidation, fmt.Sprintf("amount must be positive, got %s", amount), nil)
	}
	data, err := negRiskAdapterABI.Pack("mergePositions", conditionID, decimalutil.ToWei(amount).BigInt())
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindValidation, "pack mergePositions", err, nil)
	}
	return b.prepare(ctx, b.adapter, data, gasLimitSplitMerge)
}

// Convert builds calldata to convert a set of NO positions (indexSet) in a
// neg-risk market into collateral plus the complementary YES tokens. For a
// k-way conversion this releases amount*(k-1) collateral and mints k-1 YES
// tokens; see EstimateConvert for the off-chain projection.
func (b *BuildOnly) Convert(ctx context.Context, marketID [32]byte, indexSet uint64, amount decimal.Decimal) (*PreparedTx, error) {
	if indexSet == 0 {
		return nil, clobtypes.New(clobtypes.KindValidation, "index_set cannot be 0 (no outcomes selected for conversion)", nil)
	}
	if indexSet > MaxIndexSet {
		return nil, clobtypes.New(clobtypes.KindValidation, fmt.Sprintf("index_set %d exceeds maximum %d", indexSet, MaxIndexSet), nil)
	}
	if amount.Sign() <= 0 {
		return nil, clobtypes.New(clobtypes.KindValidation, fmt.Sprintf("amount must be positive, got %s", amount), nil)
	}

	data, err := negRiskAdapterABI.Pack("convertPositions", marketID, new(big.Int).SetUint64(indexSet), decimalutil.ToWei(amount).BigInt())
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindValidation, "pack convertPositions", err, nil)
	}
	return b.prepare(ctx, b.adapter, data, gasLimitConvert)
}

// Redeem builds calldata to redeem winning positions (indexSet) for
// conditionID after market resolution.
func (b *BuildOnly) Redeem(ctx context.Context, conditionID [32]byte, indexSet uint64) (*PreparedTx, error) {
	if indexSet == 0 {
		return nil, clobtypes.New(clobtypes.KindValidation, "index_set cannot be 0 (no outcomes selected for redemption)", nil)
	}
	if indexSet > MaxIndexSet {
		return nil, clobtypes.New(clobtypes.KindValidation, fmt.Sprintf("index_set %d exceeds maximum %d", indexSet, MaxIndexSet), nil)
	}

	amounts := []*big.Int{new(big.Int).SetUint64(indexSet)}
	data, err := negRiskAdapterABI.Pack("redeemPositions", conditionID, amounts)
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindValidation, "pack redeemPositions", err, nil)
	}
	return b.prepare(ctx, b.adapter, data, gasLimitRedeem)
}

func (b *BuildOnly) prepare(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (*PreparedTx, error) {
	gasPrice, err := b.gasPrice(ctx)
	if err != nil {
		return nil, err
	}
	n, err := b.nextNonce(ctx)
	if err != nil {
		return nil, err
	}
	return &PreparedTx{
		To:       to,
		Data:     data,
		Value:    big.NewInt(0),
		GasLimit: gasLimit,
		GasPrice: gasPrice,
		Nonce:    n,
		ChainID:  b.chainID,
	}, nil
}

var gweiDivisor = big.NewInt(1_000_000_000)

func (b *BuildOnly) gasPrice(ctx context.Context) (*big.Int, error) {
	price, err := b.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "suggest gas price", err, nil)
	}

	gwei := new(big.Int).Div(price, gweiDivisor)
	if gwei.Int64() > b.gasPriceCapGwei {
		return nil, clobtypes.New(clobtypes.KindValidation,
			fmt.Sprintf("gas price %s gwei exceeds maximum %d gwei", gwei, b.gasPriceCapGwei), nil)
	}
	if gwei.Int64() > b.gasPriceWarnGwei {
		b.logger.Warn("high gas price", "gwei", gwei.String())
	}
	return price, nil
}

// nextNonce returns the nonce to use for the next transaction, refreshing
// from the chain whenever the cached value is older than
// nonceRefreshWindow (or hasn't been fetched yet), and otherwise handing
// out the next value from the shared nonce manager.
func (b *BuildOnly) nextNonce(ctx context.Context) (uint64, error) {
	addr := b.wallet.Hex()

	b.nonceRefreshMu.Lock()
	refreshedAt, known := b.refreshedAt[addr]
	stale := !known || time.Since(refreshedAt) >= nonceRefreshWindow
	b.nonceRefreshMu.Unlock()

	if stale {
		return b.refreshNonce(ctx, addr)
	}

	n, ok := b.nonces.GetAndIncrement(addr)
	if !ok {
		// Evicted between the staleness check and here; refetch.
		return b.refreshNonce(ctx, addr)
	}
	return n, nil
}

func (b *BuildOnly) refreshNonce(ctx context.Context, addr string) (uint64, error) {
	chainNonce, err := b.backend.PendingNonceAt(ctx, b.wallet)
	if err != nil {
		return 0, clobtypes.Wrap(clobtypes.KindTransientAPI, "fetch pending nonce", err, nil)
	}
	b.nonces.Set(addr, chainNonce+1)

	b.nonceRefreshMu.Lock()
	b.refreshedAt[addr] = time.Now()
	b.nonceRefreshMu.Unlock()

	return chainNonce, nil
}
