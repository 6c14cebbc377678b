// DataFacade wraps the exchange REST client with the public- and
// authenticated-data read surface the strategy and risk layers use:
// order books, midpoints, prices, spreads, last-trade prices, and order
// scoring, each in a single-item and a batch-fetch variant. Batch variants
// always prefer the exchange's native batch endpoint over fanning out
// individual requests.
package market

import (
	"context"
	"log/slog"
	"sync"

	"polymarket-mm/internal/exchange"
	"polymarket-mm/pkg/clobtypes"
	"polymarket-mm/pkg/types"
)

// batchWarnThreshold is the token-count above which a batch call logs a
// warning recommending the caller split the request, rather than silently
// sending an arbitrarily large POST body.
const batchWarnThreshold = 100

// DataFacade is the single entry point for reading market data: REST
// fetches, plus an optional set of local Book mirrors kept current from a
// market WebSocket feed via SyncFeed. Callers that only need REST calls can
// ignore TrackMarket/SyncFeed entirely; the façade works as a stateless
// wrapper over the client either way.
type DataFacade struct {
	client *exchange.Client
	logger *slog.Logger

	booksMu    sync.RWMutex
	books      map[string]*Book // market ID -> local mirror
	assetBooks map[string]*Book // token ID -> owning book, for WS event routing
}

// NewDataFacade creates a market-data façade over an existing REST client.
func NewDataFacade(client *exchange.Client, logger *slog.Logger) *DataFacade {
	return &DataFacade{
		client:     client,
		logger:     logger.With("component", "market_data"),
		books:      make(map[string]*Book),
		assetBooks: make(map[string]*Book),
	}
}

// TrackMarket registers a local order book mirror for one binary market,
// keyed by its YES and NO token IDs, and returns it. Calling it again for
// the same marketID returns the existing Book rather than resetting it.
func (f *DataFacade) TrackMarket(marketID, yesToken, noToken string) *Book {
	f.booksMu.Lock()
	defer f.booksMu.Unlock()

	if b, ok := f.books[marketID]; ok {
		return b
	}
	b := NewBook(marketID, yesToken, noToken)
	f.books[marketID] = b
	f.assetBooks[yesToken] = b
	f.assetBooks[noToken] = b
	return b
}

// LocalBook returns the tracked mirror for marketID, if any.
func (f *DataFacade) LocalBook(marketID string) (*Book, bool) {
	f.booksMu.RLock()
	defer f.booksMu.RUnlock()
	b, ok := f.books[marketID]
	return b, ok
}

func (f *DataFacade) bookForAsset(tokenID string) (*Book, bool) {
	f.booksMu.RLock()
	defer f.booksMu.RUnlock()
	b, ok := f.assetBooks[tokenID]
	return b, ok
}

// SyncFeed drains a market WebSocket feed's book and price-change channels
// into the tracked local mirrors until ctx is done or the feed's channels
// close. Events for tokens no TrackMarket call has registered are dropped.
func (f *DataFacade) SyncFeed(ctx context.Context, feed *exchange.WSFeed) {
	bookCh := feed.BookEvents()
	priceCh := feed.PriceChangeEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-bookCh:
			if !ok {
				bookCh = nil
				continue
			}
			if b, found := f.bookForAsset(evt.AssetID); found {
				b.ApplyBookEvent(evt)
			}
		case evt, ok := <-priceCh:
			if !ok {
				priceCh = nil
				continue
			}
			if len(evt.PriceChanges) == 0 {
				continue
			}
			if b, found := f.bookForAsset(evt.PriceChanges[0].AssetID); found {
				b.ApplyPriceChange(evt)
			}
		}
	}
}

// isNotFound reports whether err represents a 404 from the exchange, the
// one case single-item getters translate to (nil, nil) rather than an
// error, per the no-data-is-not-a-failure contract callers rely on.
func isNotFound(err error) bool {
	e, ok := clobtypes.AsError(err)
	if !ok || e.Kind != clobtypes.KindValidation {
		return false
	}
	status, ok := e.Details["status"]
	if !ok {
		return false
	}
	code, ok := status.(int)
	return ok && code == 404
}

func (f *DataFacade) warnIfLarge(op string, n int) {
	if n > batchWarnThreshold {
		f.logger.Warn("batch request exceeds recommended size, consider splitting", "op", op, "count", n)
	}
}

// OrderBook returns the order book for one token, or (nil, nil) if the
// exchange has no book for it yet.
func (f *DataFacade) OrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error) {
	book, err := f.client.GetOrderBook(ctx, tokenID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if b, ok := f.bookForAsset(tokenID); ok {
		b.ApplyBookResponse(book)
	}
	return book, nil
}

// OrderBooks fetches order books for many tokens in one batch request.
func (f *DataFacade) OrderBooks(ctx context.Context, tokenIDs []string) (map[string]types.BookResponse, error) {
	f.warnIfLarge("order_books", len(tokenIDs))
	return f.client.GetOrderBooks(ctx, tokenIDs)
}

// Midpoint returns the midpoint price for one token, or (nil, nil) if
// unavailable.
func (f *DataFacade) Midpoint(ctx context.Context, tokenID string) (*types.MidpointResponse, error) {
	mid, err := f.client.GetMidpoint(ctx, tokenID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return mid, nil
}

// Midpoints fetches midpoints for many tokens in one batch request.
func (f *DataFacade) Midpoints(ctx context.Context, tokenIDs []string) (map[string]types.MidpointResponse, error) {
	f.warnIfLarge("midpoints", len(tokenIDs))
	return f.client.GetMidpoints(ctx, tokenIDs)
}

// Price returns the best price on one side of the book for one token.
func (f *DataFacade) Price(ctx context.Context, tokenID string, side types.Side) (*types.PriceResponse, error) {
	price, err := f.client.GetPrice(ctx, tokenID, side)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return price, nil
}

// Prices fetches prices for many tokens in one batch request.
func (f *DataFacade) Prices(ctx context.Context, tokenIDs []string) (map[string]types.PriceResponse, error) {
	f.warnIfLarge("prices", len(tokenIDs))
	return f.client.GetPrices(ctx, tokenIDs)
}

// Spread returns the bid-ask spread for one token.
func (f *DataFacade) Spread(ctx context.Context, tokenID string) (*types.SpreadResponse, error) {
	spread, err := f.client.GetSpread(ctx, tokenID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return spread, nil
}

// Spreads fetches spreads for many tokens in one batch request.
func (f *DataFacade) Spreads(ctx context.Context, tokenIDs []string) (map[string]types.SpreadResponse, error) {
	f.warnIfLarge("spreads", len(tokenIDs))
	return f.client.GetSpreads(ctx, tokenIDs)
}

// LastTradePrice returns the most recent trade price for one token.
func (f *DataFacade) LastTradePrice(ctx context.Context, tokenID string) (*types.LastTradePriceResponse, error) {
	price, err := f.client.GetLastTradePrice(ctx, tokenID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return price, nil
}

// LastTradePrices fetches last-trade prices for many tokens in one batch
// request.
func (f *DataFacade) LastTradePrices(ctx context.Context, tokenIDs []string) (map[string]types.LastTradePriceResponse, error) {
	f.warnIfLarge("last_trade_prices", len(tokenIDs))
	return f.client.GetLastTradePrices(ctx, tokenIDs)
}

// OrderScoring reports whether a resting order currently scores for
// liquidity rewards.
func (f *DataFacade) OrderScoring(ctx context.Context, orderID string) (*types.OrderScoringResponse, error) {
	scoring, err := f.client.GetOrderScoring(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return scoring, nil
}

// OrderScorings checks scoring for many orders. The exchange has no native
// batch endpoint for this one, so it fans out concurrently bounded by a
// small worker count, matching the teacher's batch-fetch idiom in
// market/scanner.go (paginated fetch-then-accumulate) generalized to
// bounded fan-out.
func (f *DataFacade) OrderScorings(ctx context.Context, orderIDs []string) (map[string]types.OrderScoringResponse, error) {
	f.warnIfLarge("order_scorings", len(orderIDs))

	const workers = 5
	type result struct {
		id  string
		res *types.OrderScoringResponse
		err error
	}

	jobs := make(chan string)
	results := make(chan result)

	for i := 0; i < workers; i++ {
		go func() {
			for id := range jobs {
				res, err := f.client.GetOrderScoring(ctx, id)
				results <- result{id: id, res: res, err: err}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, id := range orderIDs {
			select {
			case jobs <- id:
			case <-ctx.Done():
				return
			}
		}
	}()

	out := make(map[string]types.OrderScoringResponse, len(orderIDs))
	var firstErr error
	for range orderIDs {
		r := <-results
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		if r.res != nil {
			out[r.id] = *r.res
		}
	}
	if firstErr != nil {
		return out, firstErr
	}
	return out, nil
}
