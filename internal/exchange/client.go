// Package exchange implements the Polymarket CLOB REST and WebSocket
// clients: pooled HTTP transport with in-flight GET deduplication, retry
// and circuit-breaker orchestration, rate limiting, and the two streaming
// feeds (CLOB channel and event bus).
//
// The REST client (Client) talks to the Polymarket CLOB API for order
// management (PostOrders, CancelOrders, CancelAll, CancelMarketOrders,
// DeriveAPIKey) and market data (GetOrderBook and friends in data_facade.go).
// Every mutating call is L2-HMAC-authenticated; GET reads are deduplicated
// and rate-limited but not otherwise authenticated.
package exchange

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/ratelimit"
	"polymarket-mm/internal/retry"
	"polymarket-mm/pkg/clobtypes"
	"polymarket-mm/pkg/types"
)

// inFlightEntry is a completion signal shared by every caller racing to
// issue the same deduplicated GET.
type inFlightEntry struct {
	done   chan struct{}
	result []byte
	err    error
}

// Client is the Polymarket CLOB REST API client. A single instance is
// intended to be shared across many concurrent callers.
type Client struct {
	http    *resty.Client
	auth    *Auth
	limiter *ratelimit.Limiter
	breaker *retry.CircuitBreaker
	retryS  retry.Strategy
	dryRun  bool
	logger  *slog.Logger

	inFlightMu sync.Mutex
	inFlight   map[string]*inFlightEntry

	cleanupQueue chan string
	closeOnce    sync.Once
	closed       chan struct{}
	wg           sync.WaitGroup
}

// NewClient creates a REST client with dedup, rate limiting, and retry.
// resty's own retry is disabled (SetRetryCount(0)) — retry and circuit
// breaking are handled entirely by internal/retry, one layer up, so the two
// mechanisms never double-apply backoff.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.CLOBBaseURL).
		SetTimeout(cfg.API.RequestTimeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json")

	if cfg.API.PoolMaxSize > 0 {
		httpClient.SetTransport(&http.Transport{
			MaxIdleConns:        cfg.API.PoolConnections,
			MaxIdleConnsPerHost: cfg.API.PoolMaxSize,
			MaxConnsPerHost:     cfg.API.PoolMaxSize,
			IdleConnTimeout:     90 * time.Second,
		})
	}

	c := &Client{
		http:         httpClient,
		auth:         auth,
		limiter:      ratelimit.New(config.DefaultRateLimits(), config.DefaultRateLimitFallback()),
		breaker:      retry.NewCircuitBreaker("clob-http", cfg.API.CircuitBreakerThreshold, cfg.API.CircuitBreakerTimeout),
		dryRun:       cfg.DryRun,
		logger:       logger,
		inFlight:     make(map[string]*inFlightEntry),
		cleanupQueue: make(chan string, 256),
		closed:       make(chan struct{}),
	}
	c.retryS = retry.Strategy{
		MaxRetries:      cfg.API.MaxRetries,
		BaseDelay:       cfg.API.RetryBackoffBase,
		MaxDelay:        cfg.API.RetryBackoffMax,
		ExponentialBase: 2.0,
		Jitter:          true,
		Breaker:         c.breaker,
	}

	c.wg.Add(1)
	go c.cleanupWorker()

	return c
}

// cleanupWorker is the single background goroutine that evicts completed
// in-flight GET entries after a short delay, giving any waiter that is
// mid-read time to observe the result before it's removed. No per-request
// goroutines are spawned for cleanup.
func (c *Client) cleanupWorker() {
	defer c.wg.Done()
	const cleanupDelay = 100 * time.Millisecond

	pending := map[string]time.Time{}
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case key := <-c.cleanupQueue:
			pending[key] = time.Now().Add(cleanupDelay)
		case <-ticker.C:
			now := time.Now()
			for key, at := range pending {
				if now.After(at) {
					c.inFlightMu.Lock()
					delete(c.inFlight, key)
					c.inFlightMu.Unlock()
					delete(pending, key)
				}
			}
		}
	}
}

// Close drains the cleanup worker and releases pooled connections. After
// Close returns, no new requests may be issued.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	c.wg.Wait()
}

// fingerprint computes the 16-hex-char dedup key for a GET request, per the
// method/path/sorted-params/body over which identical concurrent calls
// collapse into one underlying HTTP round trip.
func fingerprint(method, path string, params map[string]string, body string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(path))
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(params[k]))
	}
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// requestOptions configures a single do() call.
type requestOptions struct {
	method       string
	path         string
	params       map[string]string
	body         any
	headers      map[string]string
	rateLimitKey string
	dedupe       bool
	retry        bool
}

// do executes one HTTP call through the full C8 pipeline: GET dedup,
// rate-limit acquisition, retry+breaker, and status-code error mapping.
func (c *Client) do(ctx context.Context, opts requestOptions) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, clobtypes.New(clobtypes.KindTransientAPI, "client is closed", nil)
	default:
	}

	var bodyBytes []byte
	if opts.body != nil {
		b, err := json.Marshal(opts.body)
		if err != nil {
			return nil, clobtypes.Wrap(clobtypes.KindValidation, "marshal request body", err, nil)
		}
		bodyBytes = b
	}

	var key string
	if opts.dedupe && opts.method == http.MethodGet {
		key = fingerprint(opts.method, opts.path, opts.params, string(bodyBytes))

		c.inFlightMu.Lock()
		if entry, ok := c.inFlight[key]; ok {
			c.inFlightMu.Unlock()
			select {
			case <-entry.done:
				return entry.result, entry.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		entry := &inFlightEntry{done: make(chan struct{})}
		c.inFlight[key] = entry
		c.inFlightMu.Unlock()

		result, err := c.execute(ctx, opts, bodyBytes)

		entry.result, entry.err = result, err
		close(entry.done)
		c.cleanupQueue <- key
		return result, err
	}

	return c.execute(ctx, opts, bodyBytes)
}

func (c *Client) execute(ctx context.Context, opts requestOptions, bodyBytes []byte) ([]byte, error) {
	if opts.rateLimitKey != "" {
		if err := c.limiter.Acquire(ctx, opts.rateLimitKey, 30*time.Second); err != nil {
			return nil, err
		}
	}

	var result []byte
	call := func() error {
		req := c.http.R().SetContext(ctx)
		if opts.headers != nil {
			req.SetHeaders(opts.headers)
		}
		for k, v := range opts.params {
			req.SetQueryParam(k, v)
		}
		if len(bodyBytes) > 0 {
			req.SetBody(json.RawMessage(bodyBytes))
		}

		resp, err := req.Execute(opts.method, opts.path)
		if err != nil {
			return clobtypes.Wrap(clobtypes.KindTransientAPI, "transport error", err, map[string]any{"path": opts.path})
		}

		if mapErr := mapStatusError(resp); mapErr != nil {
			result = nil
			return mapErr
		}
		result = resp.Body()
		return nil
	}

	var err error
	if opts.retry {
		err = c.retryS.Execute(ctx, call)
	} else {
		err = call()
	}
	return result, err
}

// mapStatusError maps an HTTP response's status code to the typed error
// taxonomy. 2xx responses return nil.
func mapStatusError(resp *resty.Response) error {
	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		return nil
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return clobtypes.New(clobtypes.KindAuthentication, "authentication failed", map[string]any{
			"status": status, "body": resp.String(),
		})
	case http.StatusTooManyRequests:
		retryAfter := resp.Header().Get("Retry-After")
		return clobtypes.New(clobtypes.KindRateLimit, "rate limited by exchange", map[string]any{
			"status": status, "retry_after": retryAfter,
		})
	default:
		kind := clobtypes.KindTransientAPI
		if status >= 400 && status < 500 {
			kind = clobtypes.KindValidation
		}
		return clobtypes.New(kind, fmt.Sprintf("API error: status %d", status), map[string]any{
			"status": status, "body": resp.String(),
		})
	}
}

// GetOrderBook fetches the order book for a single token. GETs are
// deduplicated: concurrent identical requests collapse into one round trip.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error) {
	body, err := c.do(ctx, requestOptions{
		method:       http.MethodGet,
		path:         "/book",
		params:       map[string]string{"token_id": tokenID},
		rateLimitKey: "GET:/book",
		dedupe:       true,
		retry:        true,
	})
	if err != nil {
		return nil, err
	}
	var result types.BookResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode book response", err, nil)
	}
	return &result, nil
}

// GetBalances fetches the L2-authenticated wallet's collateral and
// per-token conditional-token balances. address is the wallet's funder
// address, passed as a query parameter per the exchange's data API.
func (c *Client) GetBalances(ctx context.Context, address string) (*types.BalanceResponse, error) {
	headers, err := c.auth.L2Headers("GET", "/data/balances", "")
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindAuthentication, "build L2 headers", err, nil)
	}

	body, err := c.do(ctx, requestOptions{
		method:       http.MethodGet,
		path:         "/data/balances",
		params:       map[string]string{"address": address},
		headers:      headers,
		rateLimitKey: "GET:/balances",
		dedupe:       true,
		retry:        true,
	})
	if err != nil {
		return nil, err
	}
	var result types.BalanceResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode balances response", err, nil)
	}
	return &result, nil
}

// PostOrders places up to 15 signed orders in a single batch request.
func (c *Client) PostOrders(ctx context.Context, payloads []types.OrderPayload) ([]types.OrderResponse, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	if len(payloads) > 15 {
		return nil, clobtypes.New(clobtypes.KindValidation, fmt.Sprintf("batch limit is 15 orders, got %d", len(payloads)), nil)
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would post orders", "count", len(payloads))
		results := make([]types.OrderResponse, len(payloads))
		for i := range payloads {
			results[i] = types.OrderResponse{Success: true, OrderID: fmt.Sprintf("dry-run-%d", i), Status: "live"}
		}
		return results, nil
	}

	bodyBytes, err := json.Marshal(payloads)
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindValidation, "marshal orders", err, nil)
	}
	headers, err := c.auth.L2Headers("POST", "/orders", string(bodyBytes))
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindAuthentication, "build L2 headers", err, nil)
	}

	resp, err := c.do(ctx, requestOptions{
		method:       http.MethodPost,
		path:         "/orders",
		body:         payloads,
		headers:      headers,
		rateLimitKey: "POST:/orders",
		retry:        true,
	})
	if err != nil {
		return nil, err
	}
	var results []types.OrderResponse
	if err := json.Unmarshal(resp, &results); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode order response", err, nil)
	}
	return results, nil
}

// CancelOrders cancels multiple orders by ID.
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) (*types.CancelResponse, error) {
	if len(orderIDs) == 0 {
		return &types.CancelResponse{}, nil
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel orders", "count", len(orderIDs))
		return &types.CancelResponse{Canceled: orderIDs}, nil
	}

	payload := struct {
		OrderIDs []string `json:"orderIDs"`
	}{OrderIDs: orderIDs}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindValidation, "marshal cancel request", err, nil)
	}
	headers, err := c.auth.L2Headers("DELETE", "/orders", string(bodyBytes))
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindAuthentication, "build L2 headers", err, nil)
	}

	resp, err := c.do(ctx, requestOptions{
		method:       http.MethodDelete,
		path:         "/orders",
		body:         payload,
		headers:      headers,
		rateLimitKey: "DELETE:/order",
		retry:        true,
	})
	if err != nil {
		return nil, err
	}
	var result types.CancelResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode cancel response", err, nil)
	}
	c.logger.Info("orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// CancelAll cancels every open order across all markets.
func (c *Client) CancelAll(ctx context.Context) (*types.CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return &types.CancelResponse{}, nil
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindAuthentication, "build L2 headers", err, nil)
	}

	resp, err := c.do(ctx, requestOptions{
		method:       http.MethodDelete,
		path:         "/cancel-all",
		headers:      headers,
		rateLimitKey: "DELETE:/cancel-all",
		retry:        true,
	})
	if err != nil {
		return nil, err
	}
	var result types.CancelResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode cancel response", err, nil)
	}
	c.logger.Warn("all orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// CancelMarketOrders cancels all orders for a specific market.
func (c *Client) CancelMarketOrders(ctx context.Context, conditionID string) (*types.CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel market orders", "market", conditionID)
		return &types.CancelResponse{}, nil
	}

	payload := map[string]string{"market": conditionID}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindValidation, "marshal cancel-market request", err, nil)
	}
	headers, err := c.auth.L2Headers("DELETE", "/cancel-market-orders", string(bodyBytes))
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindAuthentication, "build L2 headers", err, nil)
	}

	resp, err := c.do(ctx, requestOptions{
		method:       http.MethodDelete,
		path:         "/cancel-market-orders",
		body:         payload,
		headers:      headers,
		rateLimitKey: "DELETE:/order",
		retry:        true,
	})
	if err != nil {
		return nil, err
	}
	var result types.CancelResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode cancel response", err, nil)
	}
	return &result, nil
}

// DeriveAPIKey obtains L2 API credentials via L1 authentication: it first
// tries to derive an existing key, falling back to minting a new one if
// derivation fails (no key on file for this address yet), matching the
// exchange's own derive-or-mint ordering.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	result, err := c.deriveExistingAPIKey(ctx)
	if err == nil {
		c.auth.SetCredentials(*result)
		c.logger.Info("API key derived", "api_key", result.ApiKey)
		return result, nil
	}

	c.logger.Info("derive-api-key failed, minting a new key", "error", err)
	result, err = c.createAPIKey(ctx)
	if err != nil {
		return nil, err
	}
	c.auth.SetCredentials(*result)
	c.logger.Info("API key minted", "api_key", result.ApiKey)
	return result, nil
}

func (c *Client) deriveExistingAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindAuthentication, "build L1 headers", err, nil)
	}

	resp, err := c.do(ctx, requestOptions{
		method:       http.MethodGet,
		path:         "/auth/derive-api-key",
		headers:      headers,
		rateLimitKey: "GET:/auth/derive-api-key",
		dedupe:       true,
		retry:        true,
	})
	if err != nil {
		return nil, err
	}
	var result Credentials
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode derive-api-key response", err, nil)
	}
	return &result, nil
}

// createAPIKey mints a brand-new L2 API key, used when no key exists yet
// for this address to derive.
func (c *Client) createAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindAuthentication, "build L1 headers", err, nil)
	}

	resp, err := c.do(ctx, requestOptions{
		method:       http.MethodPost,
		path:         "/auth/api-key",
		headers:      headers,
		rateLimitKey: "POST:/auth/api-key",
		retry:        true,
	})
	if err != nil {
		return nil, err
	}
	var result Credentials
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, clobtypes.Wrap(clobtypes.KindTransientAPI, "decode api-key response", err, nil)
	}
	return &result, nil
}
