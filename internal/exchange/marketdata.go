package exchange

import (
	"context"
	"encoding/json"
	"net/http"

	"polymarket-mm/pkg/clobtypes"
	"polymarket-mm/pkg/types"
)

// Single-item public market-data getters. Each is deduplicated and retried
// like GetOrderBook; the data façade in internal/market layers batching,
// warnings, and nil-not-error semantics on top of these.

func (c *Client) GetMidpoint(ctx context.Context, tokenID string) (*types.MidpointResponse, error) {
	body, err := c.do(ctx, requestOptions{
		method: http.MethodGet, path: "/midpoint",
		params: map[string]string{"token_id": tokenID},
		rateLimitKey: "GET:/midpoint", dedupe: true, retry: true,
	})
	if err != nil {
		return nil, err
	}
	var result types.MidpointResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode midpoint response", err, nil)
	}
	return &result, nil
}

func (c *Client) GetPrice(ctx context.Context, tokenID string, side types.Side) (*types.PriceResponse, error) {
	body, err := c.do(ctx, requestOptions{
		method: http.MethodGet, path: "/price",
		params: map[string]string{"token_id": tokenID, "side": string(side)},
		rateLimitKey: "GET:/price", dedupe: true, retry: true,
	})
	if err != nil {
		return nil, err
	}
	var result types.PriceResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode price response", err, nil)
	}
	return &result, nil
}

func (c *Client) GetSpread(ctx context.Context, tokenID string) (*types.SpreadResponse, error) {
	body, err := c.do(ctx, requestOptions{
		method: http.MethodGet, path: "/spread",
		params: map[string]string{"token_id": tokenID},
		rateLimitKey: "GET:/spread", dedupe: true, retry: true,
	})
	if err != nil {
		return nil, err
	}
	var result types.SpreadResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode spread response", err, nil)
	}
	return &result, nil
}

func (c *Client) GetLastTradePrice(ctx context.Context, tokenID string) (*types.LastTradePriceResponse, error) {
	body, err := c.do(ctx, requestOptions{
		method: http.MethodGet, path: "/last_trade_price",
		params: map[string]string{"token_id": tokenID},
		rateLimitKey: "GET:/last_trade_price", dedupe: true, retry: true,
	})
	if err != nil {
		return nil, err
	}
	var result types.LastTradePriceResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode last-trade-price response", err, nil)
	}
	return &result, nil
}

// GetOrderScoring reports whether a resting order currently scores for
// liquidity rewards. Authenticated (L2): the answer depends on the order's
// owner.
func (c *Client) GetOrderScoring(ctx context.Context, orderID string) (*types.OrderScoringResponse, error) {
	headers, err := c.auth.L2Headers(http.MethodGet, "/order-scoring", "")
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindAuthentication, "build L2 headers", err, nil)
	}
	body, err := c.do(ctx, requestOptions{
		method: http.MethodGet, path: "/order-scoring",
		params: map[string]string{"order_id": orderID}, headers: headers,
		rateLimitKey: "GET:/data/order", dedupe: true, retry: true,
	})
	if err != nil {
		return nil, err
	}
	var result types.OrderScoringResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode order-scoring response", err, nil)
	}
	return &result, nil
}

// Batch variants. Each posts the full token list in one request rather than
// fanning out N GETs; the exchange returns a map keyed by token ID.

func (c *Client) GetMidpoints(ctx context.Context, tokenIDs []string) (map[string]types.MidpointResponse, error) {
	body, err := c.batchPost(ctx, "/midpoints", tokenIDs)
	if err != nil {
		return nil, err
	}
	var result map[string]types.MidpointResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode midpoints response", err, nil)
	}
	return result, nil
}

func (c *Client) GetPrices(ctx context.Context, tokenIDs []string) (map[string]types.PriceResponse, error) {
	body, err := c.batchPost(ctx, "/prices", tokenIDs)
	if err != nil {
		return nil, err
	}
	var result map[string]types.PriceResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode prices response", err, nil)
	}
	return result, nil
}

func (c *Client) GetSpreads(ctx context.Context, tokenIDs []string) (map[string]types.SpreadResponse, error) {
	body, err := c.batchPost(ctx, "/spreads", tokenIDs)
	if err != nil {
		return nil, err
	}
	var result map[string]types.SpreadResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode spreads response", err, nil)
	}
	return result, nil
}

func (c *Client) GetLastTradePrices(ctx context.Context, tokenIDs []string) (map[string]types.LastTradePriceResponse, error) {
	body, err := c.batchPost(ctx, "/last_trade_prices", tokenIDs)
	if err != nil {
		return nil, err
	}
	var result map[string]types.LastTradePriceResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode last-trade-prices response", err, nil)
	}
	return result, nil
}

func (c *Client) batchPost(ctx context.Context, path string, tokenIDs []string) ([]byte, error) {
	if len(tokenIDs) == 0 {
		return nil, clobtypes.New(clobtypes.KindValidation, "token id list must not be empty", nil)
	}
	params := make([]types.BatchTokenParam, len(tokenIDs))
	for i, id := range tokenIDs {
		params[i] = types.BatchTokenParam{TokenID: id}
	}
	payload := types.BatchTokenRequest{Params: params}

	return c.do(ctx, requestOptions{
		method: http.MethodPost, path: path, body: payload,
		rateLimitKey: "GET:/book", retry: true,
	})
}

// GetOrderBooks fetches multiple order books in one batch POST rather than
// fanning out individual GETs.
func (c *Client) GetOrderBooks(ctx context.Context, tokenIDs []string) (map[string]types.BookResponse, error) {
	body, err := c.batchPost(ctx, "/books", tokenIDs)
	if err != nil {
		return nil, err
	}
	var list []types.BookResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode books response", err, nil)
	}
	result := make(map[string]types.BookResponse, len(list))
	for _, b := range list {
		result[b.AssetID] = b
	}
	return result, nil
}
