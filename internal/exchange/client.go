// Package exchange implements the REST and websocket clients for the
// centralized exchange: exchange metadata, time sync, signed account
// lookups, user-data-stream lifecycle, and depth snapshots over REST
// (client.go), plus the multiplexed market/user-data stream over
// websocket (ws.go). Every outbound request carries a category-scoped
// TokenBucket wait (ratelimit.go) and treats HTTP 429 as the caller's
// cue to latch connection_status=RATE_LIMITED (spec.md §4.2/§4.4).
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"spotflow/internal/config"
)

// ErrRateLimited is returned by every REST method when the exchange answers
// with HTTP 429. Callers latch connection_status=RATE_LIMITED and otherwise
// treat the call as having failed quietly (spec.md §4.2/§4.4).
var ErrRateLimited = fmt.Errorf("exchange: rate limited")

// Client is the REST client for the exchange's public and signed endpoints.
type Client struct {
	http *resty.Client
	rl   *RateLimiter

	apiKey    string
	apiSecret string
}

// NewClient builds a resty-backed REST client against cfg.Exchange.RESTBaseURL.
func NewClient(cfg config.ExchangeConfig) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.RESTBaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("X-MBX-APIKEY", cfg.APIKey)

	return &Client{
		http:      httpClient,
		rl:        NewRateLimiter(),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
	}
}

// SymbolFilter is one entry of an exchangeInfo symbol's filters array.
type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	MinPrice    string `json:"minPrice"`
	MaxPrice    string `json:"maxPrice"`
	TickSize    string `json:"tickSize"`
	MinQty      string `json:"minQty"`
	MaxQty      string `json:"maxQty"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"minNotional"`
}

// ExchangeInfoSymbol is one entry of GET /v1/exchangeInfo's symbols array.
type ExchangeInfoSymbol struct {
	Symbol             string         `json:"symbol"`
	Status             string         `json:"status"`
	BaseAsset          string         `json:"baseAsset"`
	QuoteAsset         string         `json:"quoteAsset"`
	BaseAssetPrecision int            `json:"baseAssetPrecision"`
	QuotePrecision     int            `json:"quotePrecision"`
	Filters            []SymbolFilter `json:"filters"`
}

type exchangeInfoResponse struct {
	ServerTime int64                `json:"serverTime"`
	Symbols    []ExchangeInfoSymbol `json:"symbols"`
}

// GetExchangeInfo fetches GET /v1/exchangeInfo, returning its raw symbol
// list for internal/parsing.ParseExchangePairInfos to reduce into PairInfo.
func (c *Client) GetExchangeInfo(ctx context.Context) ([]ExchangeInfoSymbol, error) {
	if err := c.rl.Info.Wait(ctx); err != nil {
		return nil, err
	}

	var result exchangeInfoResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/v1/exchangeInfo")
	if err != nil {
		return nil, fmt.Errorf("get exchange info: %w", err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get exchange info: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.Symbols, nil
}

// TimeSyncResult carries the round-trip measurement a caller needs to
// update time_drift and the latency EWMA per spec.md §4.2.
type TimeSyncResult struct {
	ServerTime int64 // ms, as reported by the exchange
	RTTMs      int64 // measured round-trip time in ms
}

// GetServerTime issues GET /v1/time and measures its round-trip time so the
// caller can compute time_drift = serverTime + rtt/2 - wall_clock_ms.
func (c *Client) GetServerTime(ctx context.Context) (TimeSyncResult, error) {
	if err := c.rl.Info.Wait(ctx); err != nil {
		return TimeSyncResult{}, err
	}

	var result struct {
		ServerTime int64 `json:"serverTime"`
	}
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/v1/time")
	rtt := time.Since(start).Milliseconds()
	if err != nil {
		return TimeSyncResult{}, fmt.Errorf("get server time: %w", err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return TimeSyncResult{}, ErrRateLimited
	}
	if resp.StatusCode() != http.StatusOK {
		return TimeSyncResult{}, fmt.Errorf("get server time: status %d: %s", resp.StatusCode(), resp.String())
	}
	return TimeSyncResult{ServerTime: result.ServerTime, RTTMs: rtt}, nil
}

// AccountInfo is the parsed shape of GET /v3/account. Per spec.md §9 Open
// Question (iii), the Connection Worker calls GetAccountInfo purely to
// complete the handshake and discards the result — no app-state field
// consumes it yet.
type AccountInfo struct {
	MakerCommission int64 `json:"makerCommission"`
	TakerCommission int64 `json:"takerCommission"`
	CanTrade        bool  `json:"canTrade"`
	CanWithdraw     bool  `json:"canWithdraw"`
	CanDeposit      bool  `json:"canDeposit"`
	Balances        []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// GetAccountInfo issues the signed GET /v3/account?...&signature=... call.
func (c *Client) GetAccountInfo(ctx context.Context, recvWindow int64) (AccountInfo, error) {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return AccountInfo{}, err
	}

	query := fmt.Sprintf("recvWindow=%d&timestamp=%d", recvWindow, time.Now().UnixMilli())
	sig := Sign(query, c.apiSecret)

	var result AccountInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryString(query).
		SetQueryParam("signature", sig).
		SetResult(&result).
		Get("/v3/account")
	if err != nil {
		return AccountInfo{}, fmt.Errorf("get account info: %w", err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return AccountInfo{}, ErrRateLimited
	}
	if resp.StatusCode() != http.StatusOK {
		return AccountInfo{}, fmt.Errorf("get account info: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// OpenUserDataStream issues POST /v1/userDataStream and returns the
// exchange-issued listenKey identifying the user's websocket stream.
func (c *Client) OpenUserDataStream(ctx context.Context) (string, error) {
	if err := c.rl.UserData.Wait(ctx); err != nil {
		return "", err
	}

	var result struct {
		ListenKey string `json:"listenKey"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Post("/v1/userDataStream")
	if err != nil {
		return "", fmt.Errorf("open user data stream: %w", err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return "", ErrRateLimited
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("open user data stream: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.ListenKey, nil
}

// KeepaliveUserDataStream issues PUT /v1/userDataStream?listenKey=... to
// extend the stream's validity (Connection Worker maintenance, every 20 min).
func (c *Client) KeepaliveUserDataStream(ctx context.Context, listenKey string) error {
	if err := c.rl.UserData.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("listenKey", listenKey).
		Put("/v1/userDataStream")
	if err != nil {
		return fmt.Errorf("keepalive user data stream: %w", err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("keepalive user data stream: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// DepthLevel is one [price, quantity] pair of a depth snapshot.
type DepthLevel struct {
	Price    string
	Quantity string
}

// DepthSnapshotResponse is the parsed shape of GET /v1/depth.
type DepthSnapshotResponse struct {
	LastUpdateID int64
	Bids         []DepthLevel
	Asks         []DepthLevel
}

type depthWireResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// GetDepthSnapshot issues GET /v1/depth?symbol=PAIR&limit=100 (spec.md §4.4).
func (c *Client) GetDepthSnapshot(ctx context.Context, pair string) (DepthSnapshotResponse, error) {
	if err := c.rl.Depth.Wait(ctx); err != nil {
		return DepthSnapshotResponse{}, err
	}

	var wire depthWireResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", pair).
		SetQueryParam("limit", "100").
		SetResult(&wire).
		Get("/v1/depth")
	if err != nil {
		return DepthSnapshotResponse{}, fmt.Errorf("get depth snapshot: %w", err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return DepthSnapshotResponse{}, ErrRateLimited
	}
	if resp.StatusCode() != http.StatusOK {
		return DepthSnapshotResponse{}, fmt.Errorf("get depth snapshot: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := DepthSnapshotResponse{LastUpdateID: wire.LastUpdateID}
	for _, lvl := range wire.Bids {
		if len(lvl) < 2 {
			continue
		}
		out.Bids = append(out.Bids, DepthLevel{Price: lvl[0], Quantity: lvl[1]})
	}
	for _, lvl := range wire.Asks {
		if len(lvl) < 2 {
			continue
		}
		out.Asks = append(out.Asks, DepthLevel{Price: lvl[0], Quantity: lvl[1]})
	}
	return out, nil
}
