// Package exchange implements the venue-facing REST and WebSocket clients.
//
// The REST client (RESTClient) talks to a generic perpetual-futures venue:
//   - GetMarkPrice:  GET    /markPrice  — current mark price for a symbol
//   - GetOrderBook:  GET    /orderBook  — top-of-book snapshot
//   - GetPosition:   GET    /positions  — open position for a symbol
//   - GetCollateral: GET    /account    — margin balance
//   - GetOpenOrders: GET    /orders     — resting orders for a symbol
//   - CreateOrder:   POST   /order      — place a single order
//   - CancelOrder:   DELETE /order      — cancel by client order ID
//   - CancelOrders:  DELETE /orders     — cancel a batch
//   - ClosePosition: POST   /order      — reduce-only market order sized to flatten
//
// Every mutating request is rate-limited via per-category TokenBuckets,
// retried on 5xx errors, and authenticated with HMAC headers from Auth.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"standxmm/pkg/types"
)

// RESTClient is the venue's REST API client, wrapping a resty HTTP client
// with rate limiting, retry, and HMAC auth.
type RESTClient struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	ws     WSClient
	logger *slog.Logger
}

// NewRESTClient creates a REST client with rate limiting and retry. ws may
// be nil when the caller doesn't need streaming updates. limits configures
// the per-category token buckets; a zero RateLimits leaves every category
// unthrottled.
func NewRESTClient(baseURL string, auth *Auth, ws WSClient, limits RateLimits, logger *slog.Logger) *RESTClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &RESTClient{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(limits),
		ws:     ws,
		logger: logger,
	}
}

type markPriceResponse struct {
	Price string `json:"price"`
}

// GetMarkPrice fetches the current mark price for a symbol.
func (c *RESTClient) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	var result markPriceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&result).
		Get("/markPrice")
	if err != nil {
		return decimal.Zero, fmt.Errorf("get mark price: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("get mark price: status %d: %s", resp.StatusCode(), resp.String())
	}

	price, err := decimal.NewFromString(result.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse mark price: %w", err)
	}
	return price, nil
}

type levelWire struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type orderBookResponse struct {
	Bids []levelWire `json:"bids"`
	Asks []levelWire `json:"asks"`
}

// GetOrderBook fetches the top-of-book snapshot for a symbol.
func (c *RESTClient) GetOrderBook(ctx context.Context, symbol string) (types.OrderBookSnapshot, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return types.OrderBookSnapshot{}, err
	}

	var result orderBookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&result).
		Get("/orderBook")
	if err != nil {
		return types.OrderBookSnapshot{}, fmt.Errorf("get order book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.OrderBookSnapshot{}, fmt.Errorf("get order book: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(result.Bids) == 0 || len(result.Asks) == 0 {
		return types.OrderBookSnapshot{}, nil
	}

	book, err := parseTopOfBook(result.Bids[0], result.Asks[0])
	if err != nil {
		return types.OrderBookSnapshot{}, fmt.Errorf("parse order book: %w", err)
	}
	return book, nil
}

func parseTopOfBook(bid, ask levelWire) (types.OrderBookSnapshot, error) {
	bidPrice, err := decimal.NewFromString(bid.Price)
	if err != nil {
		return types.OrderBookSnapshot{}, fmt.Errorf("bid price: %w", err)
	}
	bidSize, err := decimal.NewFromString(bid.Size)
	if err != nil {
		return types.OrderBookSnapshot{}, fmt.Errorf("bid size: %w", err)
	}
	askPrice, err := decimal.NewFromString(ask.Price)
	if err != nil {
		return types.OrderBookSnapshot{}, fmt.Errorf("ask price: %w", err)
	}
	askSize, err := decimal.NewFromString(ask.Size)
	if err != nil {
		return types.OrderBookSnapshot{}, fmt.Errorf("ask size: %w", err)
	}
	return types.OrderBookSnapshot{
		BestBidPrice: bidPrice,
		BestBidSize:  bidSize,
		BestAskPrice: askPrice,
		BestAskSize:  askSize,
	}, nil
}

type positionResponse struct {
	Side          string `json:"side"`
	Size          string `json:"size"`
	EntryPrice    string `json:"entryPrice"`
	UnrealizedPnL string `json:"unrealizedPnl"`
}

// GetPosition fetches the open position for a symbol. The second return
// value is false when the account carries no position in the symbol.
func (c *RESTClient) GetPosition(ctx context.Context, symbol string) (types.Position, bool, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return types.Position{}, false, err
	}

	var result *positionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.auth.Headers("GET", "/positions", "")).
		SetQueryParam("symbol", symbol).
		SetResult(&result).
		Get("/positions")
	if err != nil {
		return types.Position{}, false, fmt.Errorf("get position: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.Position{}, false, fmt.Errorf("get position: status %d: %s", resp.StatusCode(), resp.String())
	}
	if result == nil {
		return types.Position{}, false, nil
	}

	size, err := decimal.NewFromString(result.Size)
	if err != nil {
		return types.Position{}, false, fmt.Errorf("parse position size: %w", err)
	}
	if size.IsZero() {
		return types.Position{}, false, nil
	}
	entry, err := decimal.NewFromString(result.EntryPrice)
	if err != nil {
		return types.Position{}, false, fmt.Errorf("parse entry price: %w", err)
	}
	pnl, err := decimal.NewFromString(result.UnrealizedPnL)
	if err != nil {
		return types.Position{}, false, fmt.Errorf("parse unrealized pnl: %w", err)
	}

	side := types.PositionLong
	if result.Side == string(types.PositionShort) {
		side = types.PositionShort
	}
	return types.Position{Side: side, Size: size, EntryPrice: entry, UnrealizedPnL: pnl}, true, nil
}

type collateralResponse struct {
	Total     string `json:"totalCollateral"`
	Available string `json:"availableCollateral"`
}

// GetCollateral fetches the account's margin balance.
func (c *RESTClient) GetCollateral(ctx context.Context) (types.Collateral, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return types.Collateral{}, err
	}

	var result collateralResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.auth.Headers("GET", "/account", "")).
		SetResult(&result).
		Get("/account")
	if err != nil {
		return types.Collateral{}, fmt.Errorf("get collateral: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.Collateral{}, fmt.Errorf("get collateral: status %d: %s", resp.StatusCode(), resp.String())
	}

	total, err := decimal.NewFromString(result.Total)
	if err != nil {
		return types.Collateral{}, fmt.Errorf("parse total collateral: %w", err)
	}
	avail, err := decimal.NewFromString(result.Available)
	if err != nil {
		return types.Collateral{}, fmt.Errorf("parse available collateral: %w", err)
	}
	return types.Collateral{Total: total, Available: avail}, nil
}

type openOrderWire struct {
	Side          string `json:"side"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	ClientOrderID string `json:"clientOrderId"`
	OrderID       string `json:"orderId"`
}

// GetOpenOrders fetches resting orders for a symbol.
func (c *RESTClient) GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	if err := c.rl.Read.Wait(ctx); err != nil {
		return nil, err
	}

	var wire []openOrderWire
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.auth.Headers("GET", "/orders", "")).
		SetQueryParam("symbol", symbol).
		SetResult(&wire).
		Get("/orders")
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get open orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	orders := make([]OpenOrder, 0, len(wire))
	for _, w := range wire {
		price, err := decimal.NewFromString(w.Price)
		if err != nil {
			return nil, fmt.Errorf("parse order price: %w", err)
		}
		size, err := decimal.NewFromString(w.Size)
		if err != nil {
			return nil, fmt.Errorf("parse order size: %w", err)
		}
		orders = append(orders, OpenOrder{
			Side:          types.Side(w.Side),
			Price:         price,
			Size:          size,
			ClientOrderID: w.ClientOrderID,
			OrderID:       w.OrderID,
		})
	}
	return orders, nil
}

type orderRequestWire struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	Price         string `json:"price,omitempty"`
	Type          string `json:"type"`
	ClientOrderID string `json:"clientOrderId"`
	ReduceOnly    bool   `json:"reduceOnly"`
}

type orderResultWire struct {
	Code          int    `json:"code"`
	Message       string `json:"message"`
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
}

// CreateOrder places a single order.
func (c *RESTClient) CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return OrderResult{}, err
	}

	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = uuid.NewString()
	}

	wireType := "limit"
	if req.Market {
		wireType = "market"
	}
	wire := orderRequestWire{
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Size:          req.Size.String(),
		Type:          wireType,
		ClientOrderID: clientOrderID,
		ReduceOnly:    req.ReduceOnly,
	}
	if !req.Market {
		wire.Price = req.Price.String()
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return OrderResult{}, fmt.Errorf("marshal order: %w", err)
	}

	var result orderResultWire
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.auth.Headers("POST", "/order", string(body))).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return OrderResult{}, fmt.Errorf("create order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return OrderResult{}, fmt.Errorf("create order: status %d: %s", resp.StatusCode(), resp.String())
	}

	return OrderResult{
		Code:          result.Code,
		Message:       result.Message,
		OrderID:       result.OrderID,
		ClientOrderID: clientOrderID,
	}, nil
}

// CancelOrder cancels a single order by client order ID.
func (c *RESTClient) CancelOrder(ctx context.Context, clientOrderID string) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	body := fmt.Sprintf(`{"clientOrderId":%q}`, clientOrderID)
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.auth.Headers("DELETE", "/order", body)).
		SetBody(json.RawMessage(body)).
		Delete("/order")
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// CancelOrders cancels a batch of orders for a symbol. openOrders, if
// provided, lets the caller avoid a redundant server-side lookup.
func (c *RESTClient) CancelOrders(ctx context.Context, symbol string, openOrders []OpenOrder) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	ids := make([]string, len(openOrders))
	for i, o := range openOrders {
		ids[i] = o.ClientOrderID
	}

	payload := struct {
		Symbol         string   `json:"symbol"`
		ClientOrderIDs []string `json:"clientOrderIds,omitempty"`
	}{Symbol: symbol, ClientOrderIDs: ids}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal cancel request: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.auth.Headers("DELETE", "/orders", string(body))).
		SetBody(json.RawMessage(body)).
		Delete("/orders")
	if err != nil {
		return fmt.Errorf("cancel orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("orders cancelled", "symbol", symbol, "count", len(ids))
	return nil
}

// ClosePosition submits a reduce-only market order sized to flatten pos.
// Used by the unwind engine's market close method.
func (c *RESTClient) ClosePosition(ctx context.Context, symbol string, pos types.Position) (OrderResult, error) {
	return c.CreateOrder(ctx, OrderRequest{
		Symbol:        symbol,
		Side:          pos.Side.CloseSide(),
		Size:          pos.Size,
		Market:        true,
		ClientOrderID: types.OrderKindClose + "-" + uuid.NewString(),
		ReduceOnly:    true,
	})
}

// WSClient returns the streaming client paired with this REST client, or
// nil if none was configured.
func (c *RESTClient) WSClient() WSClient { return c.ws }

// Close releases the underlying WebSocket connection, if any.
func (c *RESTClient) Close() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}
