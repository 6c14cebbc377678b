package types

import "github.com/shopspring/decimal"

// MidpointResponse is the REST response for GET/POST /midpoint(s).
type MidpointResponse struct {
	Mid decimal.Decimal `json:"mid"`
}

// PriceResponse is the REST response for GET/POST /price(s).
type PriceResponse struct {
	Price decimal.Decimal `json:"price"`
}

// SpreadResponse is the REST response for GET/POST /spread(s).
type SpreadResponse struct {
	Spread decimal.Decimal `json:"spread"`
}

// LastTradePriceResponse is the REST response for GET/POST
// /last_trade_price(s).
type LastTradePriceResponse struct {
	Price decimal.Decimal `json:"price"`
	Side  Side            `json:"side"`
}

// OrderScoringResponse reports whether an order currently counts toward
// liquidity rewards.
type OrderScoringResponse struct {
	Scoring bool `json:"scoring"`
}

// BatchTokenRequest is the POST body shared by every /*s batch endpoint:
// a flat list of token IDs.
type BatchTokenRequest struct {
	Params []BatchTokenParam `json:"params"`
}

// BatchTokenParam is one element of a batch market-data request.
type BatchTokenParam struct {
	TokenID string `json:"token_id"`
}
