package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest is the caller-facing, decimal-precision description of an
// order to place. It is distinct from UserOrder (the market-making
// strategy's float64-based quote representation, kept for that subsystem's
// own use) because every monetary field here must round-trip exactly
// through wei without binary-float artefacts.
type OrderRequest struct {
	TokenID    string
	Price      decimal.Decimal
	Size       decimal.Decimal
	Side       Side
	OrderType  OrderType
	Expiration *int64 // unix seconds; required for GTD, ignored otherwise
}

// MarketMetadata is the cached, per-token resolution of tick size, fee
// rate, and neg-risk status used by the order builder. Fee rate is always
// zero under current exchange policy but is still fetched and cached for
// forward compatibility.
type MarketMetadata struct {
	TokenID    string
	TickSize   decimal.Decimal
	FeeRateBps int
	NegRisk    bool
}

// ReservedBalance tracks USD notional committed to in-flight BUY orders for
// one wallet. Owned exclusively by the trading façade.
type ReservedBalance struct {
	WalletID string
	Amount   decimal.Decimal
}

// Position is a held outcome-token position, as returned by the data API.
type Position struct {
	Market     string
	AssetID    string
	Size       decimal.Decimal
	AvgPrice   decimal.Decimal
	CurPrice   decimal.Decimal
	InitialVal decimal.Decimal
	CurrentVal decimal.Decimal
	Outcome    string
}

// Trade is a historical fill, as returned by the data API.
type Trade struct {
	ID        string
	Market    string
	AssetID   string
	Side      Side
	Size      decimal.Decimal
	Price     decimal.Decimal
	Timestamp time.Time
}

// Activity is a generic account activity record (trade, split, merge,
// redeem, reward) as returned by the data API. Transport-only; no
// invariants are enforced on it locally.
type Activity struct {
	Type      string
	Market    string
	AssetID   string
	Side      Side
	Size      decimal.Decimal
	Price     decimal.Decimal
	USDCSize  decimal.Decimal
	Timestamp time.Time
}

// Subscription is one tracked event-bus subscription, retained across
// reconnects until the client is closed.
type Subscription struct {
	Topic    string
	Type     string
	Filters  string // server-interpreted JSON string, opaque here
	ClobAuth *WSAuth
}

// Receipt is the on-chain confirmation returned by a CTF settlement call.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Status      uint64 // 1 = success, 0 = reverted
	GasUsed     uint64
}
