// ws.go implements a WebSocket feed for real-time venue data.
//
// A single connection carries both streams this core needs: mark-price
// ticks and order-book snapshots for one symbol. It auto-reconnects with
// exponential backoff (1s → 30s max) and re-subscribes on reconnection. A
// read deadline (90s) ensures silent server failures are detected within
// ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	eventBufferSize  = 256
)

// WSFeed manages a single WebSocket connection streaming price and
// order-book updates for one symbol. It handles connection lifecycle,
// subscription tracking, message routing, and automatic reconnection.
type WSFeed struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	priceCh chan PriceTick
	bookCh  chan BookTick

	logger *slog.Logger
}

// NewWSFeed creates a feed and starts its reconnect-and-read loop in the
// background. The loop runs until ctx is cancelled; Close only closes the
// current connection and does not stop the loop.
func NewWSFeed(ctx context.Context, wsURL string, logger *slog.Logger) *WSFeed {
	f := &WSFeed{
		url:        wsURL,
		subscribed: make(map[string]bool),
		priceCh:    make(chan PriceTick, eventBufferSize),
		bookCh:     make(chan BookTick, eventBufferSize),
		logger:     logger.With("component", "ws_feed"),
	}
	go f.run(ctx)
	return f
}

// SubscribePrice registers interest in symbol's mark-price stream and
// returns the shared price-tick channel (all subscribed symbols share one
// channel; callers filter on PriceTick.Symbol).
func (f *WSFeed) SubscribePrice(ctx context.Context, symbol string) (<-chan PriceTick, error) {
	if err := f.subscribe(symbol); err != nil {
		return nil, err
	}
	return f.priceCh, nil
}

// SubscribeOrderBook registers interest in symbol's order-book stream and
// returns the shared book-tick channel.
func (f *WSFeed) SubscribeOrderBook(ctx context.Context, symbol string) (<-chan BookTick, error) {
	if err := f.subscribe(symbol); err != nil {
		return nil, err
	}
	return f.bookCh, nil
}

func (f *WSFeed) subscribe(symbol string) error {
	f.subscribedMu.Lock()
	already := f.subscribed[symbol]
	f.subscribed[symbol] = true
	f.subscribedMu.Unlock()
	if already {
		return nil
	}
	return f.writeJSON(subscribeMsg{Operation: "subscribe", Symbols: []string{symbol}})
}

// Close gracefully closes the connection.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

// run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *WSFeed) run(ctx context.Context) {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "url", f.url)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *WSFeed) sendInitialSubscription() error {
	f.subscribedMu.RLock()
	symbols := make([]string, 0, len(f.subscribed))
	for s := range f.subscribed {
		symbols = append(symbols, s)
	}
	f.subscribedMu.RUnlock()

	if len(symbols) == 0 {
		return nil
	}
	return f.writeJSON(subscribeMsg{Operation: "subscribe", Symbols: symbols})
}

type subscribeMsg struct {
	Operation string   `json:"operation"`
	Symbols   []string `json:"symbols"`
}

type wsEnvelope struct {
	EventType string `json:"event_type"`
	Symbol    string `json:"symbol"`
}

type priceEventWire struct {
	wsEnvelope
	Price string `json:"price"`
}

type bookEventWire struct {
	wsEnvelope
	BidPrice string `json:"bidPrice"`
	BidSize  string `json:"bidSize"`
	AskPrice string `json:"askPrice"`
	AskSize  string `json:"askSize"`
}

func (f *WSFeed) dispatchMessage(data []byte) {
	var envelope wsEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "price":
		var evt priceEventWire
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal price event", "error", err)
			return
		}
		price, err := decimal.NewFromString(evt.Price)
		if err != nil {
			f.logger.Error("parse price event", "error", err)
			return
		}
		select {
		case f.priceCh <- PriceTick{Symbol: evt.Symbol, Price: price}:
		default:
			f.logger.Warn("price channel full, dropping event", "symbol", evt.Symbol)
		}

	case "book":
		var evt bookEventWire
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		book, err := parseTopOfBook(levelWire{Price: evt.BidPrice, Size: evt.BidSize}, levelWire{Price: evt.AskPrice, Size: evt.AskSize})
		if err != nil {
			f.logger.Error("parse book event", "error", err)
			return
		}
		select {
		case f.bookCh <- BookTick{Symbol: evt.Symbol, Book: book}:
		default:
			f.logger.Warn("book channel full, dropping event", "symbol", evt.Symbol)
		}

	default:
		f.logger.Debug("unknown ws event type", "type", envelope.EventType)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *WSFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return nil
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *WSFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
