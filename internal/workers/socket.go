package workers

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"spotflow/internal/appstate"
	"spotflow/internal/config"
	"spotflow/internal/exchange"
	"spotflow/pkg/types"
)

// SocketStreamWorker owns the single multiplexed websocket connection and
// dispatches each frame into AppState's typed queues. Grounded on
// socket.py's SocketStreamRunner.
type SocketStreamWorker struct {
	state *appstate.AppState
	cfg   *config.Config
	conn  *exchange.StreamConn

	mu         sync.Mutex
	tickerLow  map[string]float64
	tickerHigh map[string]float64
	tickerVol  map[string]float64
}

// NewSocketStreamWorker constructs a SocketStreamWorker.
func NewSocketStreamWorker(state *appstate.AppState, cfg *config.Config) *SocketStreamWorker {
	w := &SocketStreamWorker{state: state, cfg: cfg}
	w.OnStart()
	return w
}

// OnStart clears the connection and every per-pair ticker cache.
func (w *SocketStreamWorker) OnStart() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn = nil
	w.tickerLow = make(map[string]float64)
	w.tickerHigh = make(map[string]float64)
	w.tickerVol = make(map[string]float64)
}

// OnUpdate opens the stream once CONNECTED and the session is at least
// 1000ms old, and tears it down otherwise (socket.py's on_update).
func (w *SocketStreamWorker) OnUpdate(ctx context.Context, wsURI string) {
	connected := w.state.ConnectionStatus() == types.StatusConnected
	sessionAge := w.state.ServerTime() - w.state.ConnectTime()

	w.mu.Lock()
	hasConn := w.conn != nil
	w.mu.Unlock()

	if !connected || sessionAge < 1000 {
		if hasConn {
			w.closeConn()
		}
		return
	}

	if !hasConn {
		conn, err := exchange.DialStream(ctx, wsURI)
		if err != nil {
			return
		}
		w.mu.Lock()
		w.conn = conn
		w.mu.Unlock()
		go w.readLoop(conn)
	}
}

func (w *SocketStreamWorker) closeConn() {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// readLoop pumps frames off a single connection until it errs or is
// replaced, matching SocketClient's _read_socket coroutine.
func (w *SocketStreamWorker) readLoop(conn *exchange.StreamConn) {
	for {
		data, err := conn.ReadFrame()
		if err != nil {
			return
		}
		w.onMessage(data)
	}
}

// onMessage dispatches one decoded frame, silently dropping anything that
// fails to parse (socket.py's on_message: bare except: return).
func (w *SocketStreamWorker) onMessage(data []byte) {
	kind, err := exchange.EventKind(data)
	if err != nil {
		return
	}

	serverTimestamp, ok := peekEventTimeMs(data)
	if !ok {
		return
	}
	if serverTimestamp > w.state.ServerTime() {
		w.state.SetServerTime(serverTimestamp)
	}

	switch kind {
	case "trade":
		w.processTradeEvent(data)
	case "24hrTicker":
		w.processTickerEvent(data)
	case "depthUpdate":
		w.processDepthEvent(data)
	case "executionReport", "outboundAccountInfo":
		// No-op hooks (spec.md §4.3); the Executor and account-balance
		// consumers do not yet exist downstream.
	}
}

func peekEventTimeMs(data []byte) (int64, bool) {
	evt, err := exchange.ParseAccountInfoEvent(data)
	if err != nil {
		return 0, false
	}
	return evt.EventTimeMs, true
}

func (w *SocketStreamWorker) processTradeEvent(data []byte) {
	evt, err := exchange.ParseTradeEvent(data)
	if err != nil {
		return
	}
	pair := strings.ToLower(evt.Pair)
	price, err := strconv.ParseFloat(evt.Price, 64)
	if err != nil {
		return
	}
	quantity, err := strconv.ParseFloat(evt.Quantity, 64)
	if err != nil {
		return
	}

	w.mu.Lock()
	low := w.tickerLow[pair]
	high := w.tickerHigh[pair]
	vol := w.tickerVol[pair]
	w.mu.Unlock()

	trade := types.Trade{
		Pair:            pair,
		TradeTimestamp:  evt.TradeTimeMs,
		ServerTimestamp: w.state.ServerTime(),
		Price:           price,
		Quantity:        quantity,
		IsBuyerMaker:    evt.IsBuyerMaker,
		BuyerID:         evt.BuyerID,
		SellerID:        evt.SellerID,
		Low24:           low,
		High24:          high,
		Vol24:           vol,
	}
	w.state.TradeQueue.Push(trade)
}

func (w *SocketStreamWorker) processTickerEvent(data []byte) {
	evt, err := exchange.ParseTickerEvent(data)
	if err != nil {
		return
	}
	pair := strings.ToLower(evt.Pair)
	low, errL := strconv.ParseFloat(evt.LowPrice, 64)
	high, errH := strconv.ParseFloat(evt.HighPrice, 64)
	vol, errV := strconv.ParseFloat(evt.Volume, 64)
	if errL != nil || errH != nil || errV != nil {
		return
	}

	w.mu.Lock()
	w.tickerLow[pair] = low
	w.tickerHigh[pair] = high
	w.tickerVol[pair] = vol
	w.mu.Unlock()
}

// processDepthEvent applies the source's suspect U/u swap exactly
// (spec.md §9 Open Question i): the pushed PrevUpdateID is wire "u"-1
// and LastUpdateID is wire "U"-1, inverting the exchange's documented
// U=first/u=last convention. This is deliberate, not a bug, and must not
// be "fixed".
func (w *SocketStreamWorker) processDepthEvent(data []byte) {
	evt, err := exchange.ParseDepthUpdateEvent(data)
	if err != nil {
		return
	}
	pair := strings.ToLower(evt.Pair)
	minUpdateID := evt.LastUpdateID - 1
	maxUpdateID := evt.FirstUpdateID - 1

	bidUpdates := levelsToMap(evt.Bids)
	askUpdates := levelsToMap(evt.Asks)

	w.state.BidDepthEventQueue.Push(types.DepthEvent{
		Pair: pair, PrevUpdateID: minUpdateID, LastUpdateID: maxUpdateID, Levels: bidUpdates,
	})
	w.state.AskDepthEventQueue.Push(types.DepthEvent{
		Pair: pair, PrevUpdateID: minUpdateID, LastUpdateID: maxUpdateID, Levels: askUpdates,
	})
}

func levelsToMap(levels [][]string) map[string]float64 {
	out := make(map[string]float64, len(levels))
	for _, lvl := range levels {
		if len(lvl) < 2 {
			continue
		}
		qty, err := strconv.ParseFloat(lvl[1], 64)
		if err != nil {
			continue
		}
		out[lvl[0]] = qty
	}
	return out
}
