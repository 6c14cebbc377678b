package exchange

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"

	"polymarket-mm/internal/cache"
	"polymarket-mm/internal/config"
	"polymarket-mm/internal/decimalutil"
	"polymarket-mm/pkg/clobtypes"
	"polymarket-mm/pkg/types"
)

const metadataTTL = 5 * time.Minute

var defaultMetadata = types.MarketMetadata{
	TickSize:   decimal.RequireFromString("0.01"),
	FeeRateBps: 0,
	NegRisk:    false,
}

// Builder turns a caller-facing OrderRequest into a fully signed SignedOrder
// ready for submission. Nonce ownership stays entirely with the caller
// (internal/nonce.Manager) — Builder never reads or increments a nonce
// itself, it only embeds the value it's given.
type Builder struct {
	metadata  *cache.TTLCache[types.MarketMetadata]
	client    *Client
	auth      *Auth
	contracts config.ContractsConfig
}

// NewBuilder creates an order builder. fetchMetadata is called on a cache
// miss to resolve a token's tick size / fee rate / neg-risk flag from the
// public market-data endpoints.
func NewBuilder(client *Client, auth *Auth, contracts config.ContractsConfig) *Builder {
	return &Builder{
		metadata:  cache.New[types.MarketMetadata](4096),
		client:    client,
		auth:      auth,
		contracts: contracts,
	}
}

// resolveMetadata fetches (or serves from cache) a token's market metadata.
// On fetch failure the safe default (2dp tick, zero fee, non-neg-risk) is
// returned and cached, so a transient metadata-endpoint outage degrades to
// a conservative rounding policy rather than blocking order placement.
func (b *Builder) resolveMetadata(ctx context.Context, tokenID string) (types.MarketMetadata, error) {
	return b.metadata.GetOrFetch(tokenID, metadataTTL, func() (types.MarketMetadata, error) {
		meta, err := b.fetchMetadata(ctx, tokenID)
		if err != nil {
			return defaultMetadata, nil
		}
		return meta, nil
	})
}

func (b *Builder) fetchMetadata(ctx context.Context, tokenID string) (types.MarketMetadata, error) {
	body, err := b.client.do(ctx, requestOptions{
		method:       http.MethodGet,
		path:         "/tick-size",
		params:       map[string]string{"token_id": tokenID},
		rateLimitKey: "GET:/book",
		dedupe:       true,
		retry:        true,
	})
	if err != nil {
		return types.MarketMetadata{}, err
	}
	var raw struct {
		MinimumTickSize string `json:"minimum_tick_size"`
		NegRisk         bool   `json:"neg_risk"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return types.MarketMetadata{}, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode tick-size response", err, nil)
	}
	tick, err := decimalutil.ToDecimal(raw.MinimumTickSize, &defaultMetadata.TickSize)
	if err != nil {
		return types.MarketMetadata{}, err
	}
	return types.MarketMetadata{TokenID: tokenID, TickSize: tick, FeeRateBps: 0, NegRisk: raw.NegRisk}, nil
}

// validateTickSize checks that price is an exact multiple of the market's
// tick size, within a small epsilon to tolerate decimal-division noise.
func validateTickSize(price, tick decimal.Decimal) error {
	if tick.IsZero() {
		return nil
	}
	remainder := price.Mod(tick)
	if remainder.IsZero() {
		return nil
	}
	epsilon := decimal.New(1, -9)
	if remainder.Abs().LessThan(epsilon) || tick.Sub(remainder).Abs().LessThan(epsilon) {
		return nil
	}
	return clobtypes.NewTrading(clobtypes.TradingSubKindTickSize, fmt.Sprintf("price %s is not a multiple of tick size %s", price, tick), map[string]any{
		"price": price.String(), "tick_size": tick.String(),
	})
}

// generateSalt implements spec.md's salt strategy: cryptographically random
// 256-bit by default, or a deterministic SHA-256(key) digest when an
// idempotency key is supplied, so a retried submission under the same key
// produces the same order hash instead of a duplicate order.
func generateSalt(idempotencyKey string) (*big.Int, error) {
	if idempotencyKey != "" {
		sum := sha256.Sum256([]byte(idempotencyKey))
		return new(big.Int).SetBytes(sum[:]), nil
	}
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindValidation, "generate salt", err, nil)
	}
	return n, nil
}

// resolveExpiration applies the lifecycle-specific expiration rule: GTC/FOK/
// FAK orders get a generous 30-day safety expiration (the exchange itself
// enforces FOK/FAK's immediate-or-cancel semantics; this is a backstop), GTD
// orders require and validate a caller-supplied expiration at least 60
// seconds in the future.
func resolveExpiration(orderType types.OrderType, callerExpiration *int64) (int64, error) {
	now := time.Now().Unix()
	switch orderType {
	case types.OrderTypeGTD:
		if callerExpiration == nil {
			return 0, clobtypes.New(clobtypes.KindValidation, "expiration is required for GTD orders", nil)
		}
		if *callerExpiration < now+60 {
			return 0, clobtypes.NewTrading(clobtypes.TradingSubKindOrderExpired, "GTD expiration must be at least 60s in the future", map[string]any{
				"expiration": *callerExpiration, "now": now,
			})
		}
		return *callerExpiration, nil
	default:
		return now + 30*24*3600, nil
	}
}

// Build implements the order-construction sequence: tick-size validation,
// metadata resolution, salt derivation, decimal amount computation, lifecycle
// expiration rule, and EIP-712 assembly + signing.
func (b *Builder) Build(ctx context.Context, req types.OrderRequest, nonce uint64, idempotencyKey string) (*types.SignedOrder, error) {
	if req.TokenID == "" {
		return nil, clobtypes.New(clobtypes.KindValidation, "token id is required", nil)
	}
	if req.Price.IsZero() || req.Price.IsNegative() || req.Price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, clobtypes.New(clobtypes.KindValidation, "price must be in (0, 1)", map[string]any{"price": req.Price.String()})
	}
	if req.Size.IsZero() || req.Size.IsNegative() {
		return nil, clobtypes.New(clobtypes.KindValidation, "size must be positive", map[string]any{"size": req.Size.String()})
	}

	meta, err := b.resolveMetadata(ctx, req.TokenID)
	if err != nil {
		return nil, err
	}
	if err := validateTickSize(req.Price, meta.TickSize); err != nil {
		return nil, err
	}

	salt, err := generateSalt(idempotencyKey)
	if err != nil {
		return nil, err
	}

	amountDecimals := tickAmountDecimals(meta.TickSize)
	makerAmt, takerAmt, err := PriceToAmounts(req.Price, req.Size, req.Side, amountDecimals)
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindValidation, "compute order amounts", err, nil)
	}

	expiration, err := resolveExpiration(req.OrderType, req.Expiration)
	if err != nil {
		return nil, err
	}

	exchangeAddr := b.contracts.ExchangeAddress
	if meta.NegRisk {
		exchangeAddr = b.contracts.NegRiskExchangeAddress
	}

	side := uint8(0)
	if req.Side == types.SELL {
		side = 1
	}

	sig, err := b.auth.SignTypedData(
		&apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           (*ethmath.HexOrDecimal256)(new(big.Int).Set(b.auth.ChainID())),
			VerifyingContract: exchangeAddr,
		},
		apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		apitypes.TypedDataMessage{
			"salt":          salt.String(),
			"maker":         b.auth.FunderAddress().Hex(),
			"signer":        b.auth.Address().Hex(),
			"taker":         "0x0000000000000000000000000000000000000000",
			"tokenId":       req.TokenID,
			"makerAmount":   makerAmt.String(),
			"takerAmount":   takerAmt.String(),
			"expiration":    fmt.Sprintf("%d", expiration),
			"nonce":         fmt.Sprintf("%d", nonce),
			"feeRateBps":    fmt.Sprintf("%d", meta.FeeRateBps),
			"side":          fmt.Sprintf("%d", side),
			"signatureType": fmt.Sprintf("%d", int(b.sigType())),
		},
		"Order",
	)
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindAuthentication, "sign order", sanitizeSignError(err), nil)
	}

	return &types.SignedOrder{
		Salt:          salt.String(),
		Maker:         b.auth.FunderAddress().Hex(),
		Signer:        b.auth.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       req.TokenID,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		Side:          req.Side,
		Expiration:    fmt.Sprintf("%d", expiration),
		Nonce:         fmt.Sprintf("%d", nonce),
		FeeRateBps:    fmt.Sprintf("%d", meta.FeeRateBps),
		SignatureType: b.sigType(),
		Signature:     "0x" + hexEncode(sig),
	}, nil
}

func (b *Builder) sigType() types.SignatureType {
	return b.auth.sigType
}

func tickAmountDecimals(tick decimal.Decimal) int32 {
	switch tick.String() {
	case "0.1":
		return 3
	case "0.01":
		return 4
	case "0.001":
		return 5
	case "0.0001":
		return 6
	default:
		return 4
	}
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0xf]
	}
	return string(out)
}
