// exchange/client.go
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"aster-volume-bot/logs"
)

// Ensure APIClient struct implements Client interface
var _ Client = (*APIClient)(nil)

const (
	rateLimitBackoffDelay = 500 * time.Millisecond
	retryAfterDelay       = 2 * time.Second
	batchOrderLimit       = 5
)

// APIClient is the signed REST client for the exchange's futures API.
type APIClient struct {
	ApiKey    string
	ApiSecret string
	BaseURL   string
	Http      *http.Client

	timeOffset int64 // server time minus local time, milliseconds
	recvWindow int64 // request validity window, milliseconds
	limits     *RateLimits
	banned     atomic.Bool
	mu         sync.Mutex // serializes signed requests through this client
}

// NewAPIClient creates a new API client instance.
func NewAPIClient(apiKey, apiSecret, baseURL string, timeoutSeconds, recvWindowMs int, weightLimit, orderLimit int64) *APIClient {
	return &APIClient{
		ApiKey:    apiKey,
		ApiSecret: apiSecret,
		BaseURL:   baseURL,
		Http:      &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		recvWindow: int64(recvWindowMs),
		limits:     NewRateLimits(weightLimit, orderLimit),
	}
}

// Sign computes the hex HMAC-SHA256 signature of the canonical query string.
// Identical parameters and secret always produce an identical signature.
func Sign(secret, queryString string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(queryString))
	return hex.EncodeToString(mac.Sum(nil))
}

// ShouldBackoff reports whether the next signed call should be delayed
// because a local budget is above 80% utilization.
func (c *APIClient) ShouldBackoff() bool {
	return c.limits.ShouldBackoff()
}

// RateLimits returns the current local budget snapshot.
func (c *APIClient) RateLimits() (weight, orders Budget) {
	return c.limits.Snapshot()
}

// SyncTime synchronizes time with the exchange server and records the offset
// applied to every signed timestamp.
func (c *APIClient) SyncTime(ctx context.Context) error {
	serverTime, err := c.GetServerTime(ctx)
	if err != nil {
		return fmt.Errorf("failed to get server time: %w", err)
	}
	c.timeOffset = serverTime - time.Now().UnixMilli()
	logs.Infof("[API Client] Time synchronized, local vs server offset: %d ms", c.timeOffset)
	return nil
}

// sendRequest builds, signs (when required), sends, and decodes one request.
// It updates the rate-limit budgets from every response before any backoff
// decision can be made, retries a 429 exactly once, and treats 418 as fatal.
func (c *APIClient) sendRequest(ctx context.Context, method, endpoint string, params url.Values, signed bool, target interface{}) error {
	if c.banned.Load() {
		return fmt.Errorf("request to %s refused: %w", endpoint, ErrBanned)
	}

	if params == nil {
		params = url.Values{}
	}

	retried := false
	for {
		query := params.Encode()
		if signed {
			c.mu.Lock()
			if c.limits.ShouldBackoff() {
				time.Sleep(rateLimitBackoffDelay)
			}
			signedParams := url.Values{}
			for k, v := range params {
				signedParams[k] = v
			}
			timestamp := time.Now().UnixMilli() + c.timeOffset
			signedParams.Set("timestamp", strconv.FormatInt(timestamp, 10))
			signedParams.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
			payload := signedParams.Encode()
			query = payload + "&signature=" + Sign(c.ApiSecret, payload)
			c.mu.Unlock()
		}

		fullURL := c.BaseURL + endpoint
		if query != "" {
			fullURL += "?" + query
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if method == http.MethodPost || method == http.MethodDelete || method == http.MethodPut {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		if signed {
			req.Header.Set("X-MBX-APIKEY", c.ApiKey)
		}

		resp, err := c.Http.Do(req)
		if err != nil {
			return fmt.Errorf("failed to execute request: %w", err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("failed to read response body: %w", readErr)
		}

		// Update-then-decide: budgets reflect this response before the next
		// backoff check.
		c.limits.UpdateFromHeaders(resp.Header)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if retried {
				return fmt.Errorf("%s after one retry: %w", endpoint, ErrRateLimited)
			}
			retried = true
			logs.Warnf("[API Client] HTTP 429 on %s, retrying once after %s", endpoint, retryAfterDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryAfterDelay):
			}
			continue

		case resp.StatusCode == http.StatusTeapot:
			c.banned.Store(true)
			logs.Errorf("[API Client] HTTP 418 on %s: client is banned, halting all requests", endpoint)
			return fmt.Errorf("%s: %w", endpoint, ErrBanned)

		case resp.StatusCode >= 400:
			var apiErr APIError
			if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
				return &apiErr
			}
			return fmt.Errorf("API error: HTTP %d, body: %s", resp.StatusCode, string(body))
		}

		if target != nil {
			if err := json.Unmarshal(body, target); err != nil {
				return fmt.Errorf("failed to decode JSON: %w, body: %s", err, string(body))
			}
		}
		return nil
	}
}

// --- Unsigned market data endpoints ---

// Ping tests REST connectivity.
func (c *APIClient) Ping(ctx context.Context) error {
	return c.sendRequest(ctx, http.MethodGet, "/fapi/v1/ping", nil, false, nil)
}

// GetServerTime returns the exchange server time in milliseconds.
func (c *APIClient) GetServerTime(ctx context.Context) (int64, error) {
	var resp serverTimeResponse
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v1/time", nil, false, &resp); err != nil {
		return 0, err
	}
	return resp.ServerTime, nil
}

// GetExchangeInfo returns the full instrument list with trading rules.
func (c *APIClient) GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	var info ExchangeInfo
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetOrderBook returns a depth snapshot for the symbol.
func (c *APIClient) GetOrderBook(ctx context.Context, symbol string, limit int) (*OrderBook, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	var book OrderBook
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v1/depth", params, false, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// GetTicker24h returns the rolling 24h statistics for the symbol.
func (c *APIClient) GetTicker24h(ctx context.Context, symbol string) (*Ticker24h, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var t Ticker24h
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v1/ticker/24hr", params, false, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetMarkPrice returns the premium index (mark price and funding rate).
func (c *APIClient) GetMarkPrice(ctx context.Context, symbol string) (*PremiumIndex, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var p PremiumIndex
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v1/premiumIndex", params, false, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// --- Signed trading endpoints ---

func orderParams(req *NewOrderRequest) url.Values {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	if req.Type == Limit {
		tif := req.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		params.Set("timeInForce", tif)
		params.Set("price", req.Price)
	}
	params.Set("quantity", req.Quantity)
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	return params
}

// PlaceOrder submits a single new order to the exchange.
func (c *APIClient) PlaceOrder(ctx context.Context, req *NewOrderRequest) (*Order, error) {
	var order Order
	if err := c.sendRequest(ctx, http.MethodPost, "/fapi/v1/order", orderParams(req), true, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// BatchPlaceOrders submits up to five orders in one call. If any leg of the
// batch is rejected the whole call returns an error; the caller is expected
// to degrade to per-order submission.
func (c *APIClient) BatchPlaceOrders(ctx context.Context, reqs []*NewOrderRequest) ([]*Order, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if len(reqs) > batchOrderLimit {
		return nil, fmt.Errorf("batch of %d exceeds the per-call limit of %d", len(reqs), batchOrderLimit)
	}

	batch := make([]map[string]string, 0, len(reqs))
	for _, req := range reqs {
		entry := make(map[string]string)
		for k, v := range orderParams(req) {
			entry[k] = v[0]
		}
		batch = append(batch, entry)
	}
	encoded, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	params := url.Values{}
	params.Set("batchOrders", string(encoded))

	var raw []json.RawMessage
	if err := c.sendRequest(ctx, http.MethodPost, "/fapi/v1/batchOrders", params, true, &raw); err != nil {
		return nil, err
	}

	// The batch endpoint returns per-element results: an order object on
	// success, an error object for a rejected leg.
	orders := make([]*Order, 0, len(raw))
	for i, msg := range raw {
		var apiErr APIError
		if json.Unmarshal(msg, &apiErr) == nil && apiErr.Code != 0 {
			return nil, fmt.Errorf("batch leg %d rejected: %w", i, &apiErr)
		}
		var order Order
		if err := json.Unmarshal(msg, &order); err != nil {
			return nil, fmt.Errorf("failed to decode batch leg %d: %w", i, err)
		}
		orders = append(orders, &order)
	}
	return orders, nil
}

// CancelOrder cancels an active order by client order id.
func (c *APIClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)
	var order Order
	if err := c.sendRequest(ctx, http.MethodDelete, "/fapi/v1/order", params, true, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelAllOpenOrders cancels all resting orders for the symbol.
func (c *APIClient) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	return c.sendRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params, true, nil)
}

// GetOpenOrders returns all resting orders for the symbol.
func (c *APIClient) GetOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var orders []Order
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v1/openOrders", params, true, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetPositionRisk returns position risk entries; empty symbol returns all.
func (c *APIClient) GetPositionRisk(ctx context.Context, symbol string) ([]PositionRisk, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var positions []PositionRisk
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, true, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetAccountInfo returns the account balance summary.
func (c *APIClient) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	var info AccountInfo
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v2/account", nil, true, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetUserTrades returns fills for the symbol since startTime (ms).
func (c *APIClient) GetUserTrades(ctx context.Context, symbol string, startTime int64) ([]UserTrade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if startTime > 0 {
		params.Set("startTime", strconv.FormatInt(startTime, 10))
	}
	params.Set("limit", "1000")
	var trades []UserTrade
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v1/userTrades", params, true, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// GetCommissionRate returns the account's maker/taker rates for the symbol.
func (c *APIClient) GetCommissionRate(ctx context.Context, symbol string) (*CommissionRate, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var rate CommissionRate
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v1/commissionRate", params, true, &rate); err != nil {
		return nil, err
	}
	return &rate, nil
}

// GetADLQuantile returns the auto-deleveraging ranking for the symbol.
func (c *APIClient) GetADLQuantile(ctx context.Context, symbol string) ([]ADLQuantile, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var quantiles []ADLQuantile
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v1/adlQuantile", params, true, &quantiles); err != nil {
		return nil, err
	}
	return quantiles, nil
}

// GetLeverageBracket returns the notional bracket table for the symbol.
func (c *APIClient) GetLeverageBracket(ctx context.Context, symbol string) ([]LeverageBracket, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var brackets []LeverageBracket
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v1/leverageBracket", params, true, &brackets); err != nil {
		return nil, err
	}
	return brackets, nil
}

// SetLeverage sets the initial leverage for the symbol.
func (c *APIClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	return c.sendRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params, true, nil)
}

// --- Listen key lifecycle ---

// StartUserDataStream requests a fresh listen key for the private stream.
func (c *APIClient) StartUserDataStream(ctx context.Context) (string, error) {
	var resp listenKeyResponse
	if err := c.sendRequest(ctx, http.MethodPost, "/fapi/v1/listenKey", nil, true, &resp); err != nil {
		return "", fmt.Errorf("failed to create listen key: %w", err)
	}
	return resp.ListenKey, nil
}

// KeepaliveUserDataStream extends the listen key's validity. Must be called
// well inside the server-side expiry window (every 30 minutes).
func (c *APIClient) KeepaliveUserDataStream(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	if err := c.sendRequest(ctx, http.MethodPut, "/fapi/v1/listenKey", params, true, nil); err != nil {
		return fmt.Errorf("failed to keep listen key alive: %w", err)
	}
	return nil
}

// CloseUserDataStream releases the listen key.
func (c *APIClient) CloseUserDataStream(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	if err := c.sendRequest(ctx, http.MethodDelete, "/fapi/v1/listenKey", params, true, nil); err != nil {
		return fmt.Errorf("failed to close listen key: %w", err)
	}
	return nil
}
