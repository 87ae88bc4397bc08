// Package appstate implements the pipeline's process-safe shared state: a
// small set of UI-visible scalars guarded by a single mutex with a
// dirty-bit per scalar, and the typed queues that connect every worker.
//
// This is a direct port of the source program's AppState object (a
// multiprocessing.Manager namespace + Lock + cross-process queues) into a
// single-process, multi-goroutine shape: one sync.Mutex replaces the
// manager's dirty-lock, and internal/appstate.Queue replaces the
// manager's cross-process queues. See spec.md §9, Design Note 1.
package appstate

import (
	"fmt"
	"sync"

	"spotflow/pkg/types"
)

// UIMessage is the wire shape pushed to every connected dashboard client:
// {"type": "SET_<FIELD>", "payload": value}.
type UIMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WriteFn delivers one UIMessage to a single connected client.
type WriteFn func(UIMessage)

type dirtyBits struct {
	latency          bool
	serverTime       bool
	connectTime      bool
	connectionStatus bool
	fatalError       bool
	errorMsg         bool
	tradePairs       bool
	savePairs        bool
}

// AppState holds every scalar the UI observes plus the private queues that
// connect the pipeline's workers. The zero value is not usable; construct
// with New.
type AppState struct {
	mu    sync.Mutex
	dirty dirtyBits

	latency          int64
	serverTime       int64
	connectTime      int64
	connectionStatus types.ConnectionStatus
	fatalError       bool
	errorMsg         string
	tradePairs       []string
	savePairs        []string

	wsURI string // private; never projected to the UI

	BidSnapshotQueue    *Queue[types.DepthSnapshot]
	AskSnapshotQueue    *Queue[types.DepthSnapshot]
	BidDepthEventQueue  *Queue[types.DepthEvent]
	AskDepthEventQueue  *Queue[types.DepthEvent]
	OrderbookStateQueue *Queue[types.ReconciledDepth]
	TradeQueue          *Queue[types.Trade]
	ExecutorQueue       *Queue[types.TradeSignal]
}

// New constructs an AppState with connection_status=NOT_CONNECTED and all
// queues empty, matching the source's AppState.__init__.
func New() *AppState {
	return &AppState{
		connectionStatus: types.StatusNotConnected,

		BidSnapshotQueue:    NewQueue[types.DepthSnapshot](),
		AskSnapshotQueue:    NewQueue[types.DepthSnapshot](),
		BidDepthEventQueue:  NewQueue[types.DepthEvent](),
		AskDepthEventQueue:  NewQueue[types.DepthEvent](),
		OrderbookStateQueue: NewQueue[types.ReconciledDepth](),
		TradeQueue:          NewQueue[types.Trade](),
		ExecutorQueue:       NewQueue[types.TradeSignal](),
	}
}

// Latency returns the server latency in milliseconds.
func (s *AppState) Latency() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latency
}

// SetLatency updates the latency and marks it dirty.
func (s *AppState) SetLatency(v int64) {
	s.mu.Lock()
	s.latency = v
	s.dirty.latency = true
	s.mu.Unlock()
}

// ServerTime returns the pipeline's current notion of exchange server time, in ms.
func (s *AppState) ServerTime() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverTime
}

// SetServerTime updates server time and marks it dirty. Callers are
// expected to only ever advance this value (I1/§5 ordering guarantee);
// AppState itself does not enforce monotonicity since Socket Stream,
// Connection, and Replay all race to advance it independently.
func (s *AppState) SetServerTime(v int64) {
	s.mu.Lock()
	s.serverTime = v
	s.dirty.serverTime = true
	s.mu.Unlock()
}

// ConnectTime returns the wall/server time the current session connected.
func (s *AppState) ConnectTime() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectTime
}

// SetConnectTime updates connect time and marks it dirty.
func (s *AppState) SetConnectTime(v int64) {
	s.mu.Lock()
	s.connectTime = v
	s.dirty.connectTime = true
	s.mu.Unlock()
}

// ConnectionStatus returns the current connection state-machine value.
func (s *AppState) ConnectionStatus() types.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionStatus
}

// SetConnectionStatus updates the connection status, rejecting values
// outside the five-member enumeration (spec.md §8, invalid-transition test).
func (s *AppState) SetConnectionStatus(v types.ConnectionStatus) error {
	if !v.Valid() {
		return fmt.Errorf("appstate: invalid connection status %q", v)
	}
	s.mu.Lock()
	s.connectionStatus = v
	s.dirty.connectionStatus = true
	s.mu.Unlock()
	return nil
}

// FatalError reports whether a worker has recorded an unrecoverable error.
func (s *AppState) FatalError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalError
}

// ErrorMsg returns the most recently recorded fatal error text.
func (s *AppState) ErrorMsg() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorMsg
}

// SetFatalError records a worker's fatal failure, settings both the
// boolean flag and the error text atomically under the single lock so a
// supervisor observing FatalError()==true is guaranteed ErrorMsg() is
// already populated.
func (s *AppState) SetFatalError(msg string) {
	s.mu.Lock()
	s.fatalError = true
	s.dirty.fatalError = true
	s.errorMsg = msg
	s.dirty.errorMsg = true
	s.mu.Unlock()
}

// TradePairs returns a copy of the pairs currently being analyzed.
func (s *AppState) TradePairs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.tradePairs))
	copy(out, s.tradePairs)
	return out
}

// SetTradePairs replaces the trade-pair list and marks it dirty.
func (s *AppState) SetTradePairs(pairs []string) {
	s.mu.Lock()
	s.tradePairs = append([]string(nil), pairs...)
	s.dirty.tradePairs = true
	s.mu.Unlock()
}

// SavePairs returns a copy of the pairs whose raw trade/depth lines are archived.
func (s *AppState) SavePairs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.savePairs))
	copy(out, s.savePairs)
	return out
}

// SetSavePairs replaces the save-pair list and marks it dirty.
func (s *AppState) SetSavePairs(pairs []string) {
	s.mu.Lock()
	s.savePairs = append([]string(nil), pairs...)
	s.dirty.savePairs = true
	s.mu.Unlock()
}

// AllPairs returns the union of trade and save pairs, the set every
// pair-keyed worker iterates over each tick.
func (s *AppState) AllPairs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(s.tradePairs)+len(s.savePairs))
	out := make([]string, 0, len(s.tradePairs)+len(s.savePairs))
	for _, p := range s.tradePairs {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	for _, p := range s.savePairs {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// WSURI returns the current websocket stream URL built by the Connection Worker.
func (s *AppState) WSURI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wsURI
}

// SetWSURI updates the private websocket URL. Not UI-visible, no dirty bit.
func (s *AppState) SetWSURI(uri string) {
	s.mu.Lock()
	s.wsURI = uri
	s.mu.Unlock()
}

// WriteUpdates transmits, to every writeFn, only the scalars whose dirty
// bit is currently set, then clears those bits. A second immediate call
// transmits nothing, matching spec.md §8's testable property.
func (s *AppState) WriteUpdates(writeFns []WriteFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dirty.latency {
		broadcast(writeFns, "SET_LATENCY", s.latency)
		s.dirty.latency = false
	}
	if s.dirty.serverTime {
		broadcast(writeFns, "SET_SERVER_TIME", s.serverTime)
		s.dirty.serverTime = false
	}
	if s.dirty.connectTime {
		broadcast(writeFns, "SET_CONNECT_TIME", s.connectTime)
		s.dirty.connectTime = false
	}
	if s.dirty.connectionStatus {
		broadcast(writeFns, "SET_CONNECTION_STATUS", s.connectionStatus)
		s.dirty.connectionStatus = false
	}
	if s.dirty.fatalError {
		broadcast(writeFns, "SET_FATAL_ERROR", s.fatalError)
		s.dirty.fatalError = false
	}
	if s.dirty.errorMsg {
		broadcast(writeFns, "SET_ERROR_MSG", s.errorMsg)
		s.dirty.errorMsg = false
	}
	if s.dirty.tradePairs {
		broadcast(writeFns, "SET_TRADE_PAIRS", append([]string(nil), s.tradePairs...))
		s.dirty.tradePairs = false
	}
	if s.dirty.savePairs {
		broadcast(writeFns, "SET_SAVE_PAIRS", append([]string(nil), s.savePairs...))
		s.dirty.savePairs = false
	}
}

// WriteAll transmits every scalar unconditionally, used when a new UI
// client connects and needs the full current snapshot.
func (s *AppState) WriteAll(writeFns []WriteFn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	broadcast(writeFns, "SET_LATENCY", s.latency)
	broadcast(writeFns, "SET_SERVER_TIME", s.serverTime)
	broadcast(writeFns, "SET_CONNECT_TIME", s.connectTime)
	broadcast(writeFns, "SET_CONNECTION_STATUS", s.connectionStatus)
	broadcast(writeFns, "SET_FATAL_ERROR", s.fatalError)
	broadcast(writeFns, "SET_ERROR_MSG", s.errorMsg)
	broadcast(writeFns, "SET_TRADE_PAIRS", append([]string(nil), s.tradePairs...))
	broadcast(writeFns, "SET_SAVE_PAIRS", append([]string(nil), s.savePairs...))
}

func broadcast(writeFns []WriteFn, msgType string, payload any) {
	msg := UIMessage{Type: msgType, Payload: payload}
	for _, fn := range writeFns {
		fn(msg)
	}
}
