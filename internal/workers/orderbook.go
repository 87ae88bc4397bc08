package workers

import (
	"time"

	"spotflow/internal/appstate"
	"spotflow/internal/config"
	"spotflow/pkg/types"
)

const maxEventBufferSize = 100

type depthState struct {
	updateID int64
	levels   map[string]float64
}

// OrderBookWorker reconciles incremental depth events against the latest
// snapshot per pair and periodically emits a merged depth state.
// Grounded on orderbook.py.
type OrderBookWorker struct {
	state *appstate.AppState
	cfg   *config.Config

	bidEvents map[string][]types.DepthEvent
	askEvents map[string][]types.DepthEvent
	curBids   map[string]depthState
	curAsks   map[string]depthState

	lastPostTime time.Time
}

// NewOrderBookWorker constructs an OrderBookWorker.
func NewOrderBookWorker(state *appstate.AppState, cfg *config.Config) *OrderBookWorker {
	w := &OrderBookWorker{state: state, cfg: cfg}
	w.OnStart()
	return w
}

// OnStart clears all buffered events and reconciled state.
func (w *OrderBookWorker) OnStart() {
	w.bidEvents = make(map[string][]types.DepthEvent)
	w.askEvents = make(map[string][]types.DepthEvent)
	w.curBids = make(map[string]depthState)
	w.curAsks = make(map[string]depthState)
	w.lastPostTime = time.Time{}
}

// OnUpdate drains queued events and snapshots, merges them into each
// pair's reconciled depth, and — once orderbook_interval has elapsed —
// emits the current merged state for every trade/save pair.
func (w *OrderBookWorker) OnUpdate() {
	if w.state.ConnectionStatus() != types.StatusConnected {
		w.OnStart()
		return
	}

	for _, evt := range w.state.BidDepthEventQueue.DrainAll() {
		w.bidEvents[evt.Pair] = append(w.bidEvents[evt.Pair], evt)
	}
	for _, evt := range w.state.AskDepthEventQueue.DrainAll() {
		w.askEvents[evt.Pair] = append(w.askEvents[evt.Pair], evt)
	}

	for pair, events := range w.bidEvents {
		if len(events) > maxEventBufferSize {
			w.bidEvents[pair] = events[len(events)-maxEventBufferSize:]
		}
	}
	for pair, events := range w.askEvents {
		if len(events) > maxEventBufferSize {
			w.askEvents[pair] = events[len(events)-maxEventBufferSize:]
		}
	}

	for _, snap := range w.state.BidSnapshotQueue.DrainAll() {
		w.curBids[snap.Pair] = depthState{updateID: snap.UpdateID, levels: snap.Levels}
	}
	for _, snap := range w.state.AskSnapshotQueue.DrainAll() {
		w.curAsks[snap.Pair] = depthState{updateID: snap.UpdateID, levels: snap.Levels}
	}

	now := time.Now()
	if now.Sub(w.lastPostTime) < w.cfg.Exchange.OrderbookInterval {
		return
	}
	w.lastPostTime = now

	for _, pair := range w.state.AllPairs() {
		bids := w.mergeSide(pair, w.curBids, w.bidEvents)
		asks := w.mergeSide(pair, w.curAsks, w.askEvents)

		w.state.OrderbookStateQueue.Push(types.ReconciledDepth{
			Pair:            pair,
			ServerTimestamp: w.state.ServerTime(),
			Bids:            bids,
			Asks:            asks,
		})
	}
}

// mergeSide applies pair's buffered events to its current reconciled
// levels, matching orderbook.py's merge loop exactly: an event is applied
// when PrevUpdateID >= updateID AND LastUpdateID <= updateID; first_ind
// tracks the earliest index where PrevUpdateID >= updateID regardless of
// whether the apply condition's second half holds, and only events from
// first_ind onward survive into the next tick.
func (w *OrderBookWorker) mergeSide(pair string, cur map[string]depthState, eventsByPair map[string][]types.DepthEvent) map[string]float64 {
	state, ok := cur[pair]
	if !ok {
		state = depthState{updateID: 0, levels: make(map[string]float64)}
	}
	events := eventsByPair[pair]

	firstInd := len(events)
	for i, evt := range events {
		if evt.PrevUpdateID >= state.updateID {
			if i < firstInd {
				firstInd = i
			}
			if evt.LastUpdateID <= state.updateID {
				for level, qty := range evt.Levels {
					state.levels[level] = qty
				}
			}
		}
	}

	eventsByPair[pair] = append([]types.DepthEvent(nil), events[firstInd:]...)
	cur[pair] = state
	return state.levels
}
