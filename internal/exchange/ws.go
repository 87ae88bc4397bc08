package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 90 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// StreamConn wraps a single connection to the exchange's multiplexed
// websocket stream (wss://.../stream?streams=...). Unlike the teacher's
// WSFeed, StreamConn does not own reconnect/backoff: the Socket Stream
// Worker opens and closes it according to the connection state machine
// (spec.md §4.3 — "opens it when connected && server_time-connect_time >=
// 1000ms and closes it otherwise").
type StreamConn struct {
	conn   *websocket.Conn
	connMu sync.Mutex
}

// DialStream opens the multiplexed stream connection.
func DialStream(ctx context.Context, wsURI string) (*StreamConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURI, nil)
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	return &StreamConn{conn: conn}, nil
}

// Close closes the underlying connection. Safe to call more than once.
func (s *StreamConn) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Ping sends a websocket ping frame to keep the connection alive.
func (s *StreamConn) Ping() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// ReadFrame blocks for the next multiplexed frame and returns its raw
// inner "data" object, still undecoded — the caller sniffs "e" to decide
// which typed Parse* function to apply.
func (s *StreamConn) ReadFrame() (json.RawMessage, error) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("stream not connected")
	}

	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read stream frame: %w", err)
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal stream envelope: %w", err)
	}
	return envelope.Data, nil
}

// EventKind sniffs the "e" discriminator field common to every frame kind.
func EventKind(data json.RawMessage) (string, error) {
	var peek struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return "", fmt.Errorf("sniff event kind: %w", err)
	}
	return peek.EventType, nil
}

// TradeEventWire is the raw wire shape of an "e":"trade" frame.
type TradeEventWire struct {
	EventKind    string `json:"e"`
	EventTimeMs  int64  `json:"E"`
	Pair         string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	BuyerID      int64  `json:"b"`
	SellerID     int64  `json:"a"`
	TradeTimeMs  int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// ParseTradeEvent decodes a trade frame's raw data.
func ParseTradeEvent(data json.RawMessage) (TradeEventWire, error) {
	var evt TradeEventWire
	if err := json.Unmarshal(data, &evt); err != nil {
		return TradeEventWire{}, fmt.Errorf("parse trade event: %w", err)
	}
	return evt, nil
}

// TickerEventWire is the raw wire shape of an "e":"24hrTicker" frame; only
// the fields the Socket Stream Worker caches per pair (§4.3: "update
// per-pair l, h, v caches") are decoded.
type TickerEventWire struct {
	EventKind   string `json:"e"`
	EventTimeMs int64  `json:"E"`
	Pair        string `json:"s"`
	LowPrice    string `json:"l"`
	HighPrice   string `json:"h"`
	Volume      string `json:"v"`
}

// ParseTickerEvent decodes a 24hrTicker frame's raw data.
func ParseTickerEvent(data json.RawMessage) (TickerEventWire, error) {
	var evt TickerEventWire
	if err := json.Unmarshal(data, &evt); err != nil {
		return TickerEventWire{}, fmt.Errorf("parse ticker event: %w", err)
	}
	return evt, nil
}

// DepthUpdateEventWire is the raw wire shape of an "e":"depthUpdate" frame.
// Field names U/u are kept exactly as documented (first/last update ID);
// callers apply the spec's suspect U-1/u-1 swap themselves (spec.md §9
// Open Question i) rather than here, so the swap stays visible at the
// call site instead of being hidden inside the wire parser.
type DepthUpdateEventWire struct {
	EventKind     string     `json:"e"`
	EventTimeMs   int64      `json:"E"`
	Pair          string     `json:"s"`
	FirstUpdateID int64      `json:"U"`
	LastUpdateID  int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// ParseDepthUpdateEvent decodes a depthUpdate frame's raw data.
func ParseDepthUpdateEvent(data json.RawMessage) (DepthUpdateEventWire, error) {
	var evt DepthUpdateEventWire
	if err := json.Unmarshal(data, &evt); err != nil {
		return DepthUpdateEventWire{}, fmt.Errorf("parse depth update event: %w", err)
	}
	return evt, nil
}

// ExecutionReportEventWire is the raw wire shape of an "e":"executionReport"
// frame — a hook for the Executor (spec.md §4.3), fields beyond the
// discriminator are not consumed by this pipeline.
type ExecutionReportEventWire struct {
	EventKind   string `json:"e"`
	EventTimeMs int64  `json:"E"`
	Symbol      string `json:"s"`
	OrderID     int64  `json:"i"`
	Side        string `json:"S"`
}

// ParseExecutionReportEvent decodes an executionReport frame's raw data.
func ParseExecutionReportEvent(data json.RawMessage) (ExecutionReportEventWire, error) {
	var evt ExecutionReportEventWire
	if err := json.Unmarshal(data, &evt); err != nil {
		return ExecutionReportEventWire{}, fmt.Errorf("parse execution report event: %w", err)
	}
	return evt, nil
}

// AccountInfoEventWire is the raw wire shape of an "e":"outboundAccountInfo"
// frame — a hook for balances (spec.md §4.3), not yet consumed downstream.
type AccountInfoEventWire struct {
	EventKind   string `json:"e"`
	EventTimeMs int64  `json:"E"`
}

// ParseAccountInfoEvent decodes an outboundAccountInfo frame's raw data.
func ParseAccountInfoEvent(data json.RawMessage) (AccountInfoEventWire, error) {
	var evt AccountInfoEventWire
	if err := json.Unmarshal(data, &evt); err != nil {
		return AccountInfoEventWire{}, fmt.Errorf("parse account info event: %w", err)
	}
	return evt, nil
}
