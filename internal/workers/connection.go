// Package workers implements the pipeline's worker loops: Connection,
// Socket Stream, Snapshot, Order-Book, Analysis, and Executor. Each worker
// exposes OnStart/OnUpdate matching the source program's Runner contract
// (trading_bot/runners/base.py): on_start resets the worker's private
// state, on_update runs once per proc_update_res tick.
package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"spotflow/internal/appstate"
	"spotflow/internal/config"
	"spotflow/internal/exchange"
	"spotflow/internal/parsing"
	"spotflow/pkg/types"
)

const (
	errorBackoff       = 30 * time.Second
	rateLimitBackoff   = 60 * time.Second
	accountPingPeriod  = 20 * time.Minute
	exchangeInfoPeriod = 10 * time.Minute
	serverPingPeriod   = 20 * time.Second
)

// ConnectionWorker owns the exchange session handshake and its ongoing
// maintenance: exchange-info refresh, account/user-data-stream keepalive,
// periodic server-time resync, and the NOT_CONNECTED/CONNECTING/CONNECTED/
// ERROR/RATE_LIMITED state machine. Grounded on connection.py.
type ConnectionWorker struct {
	state  *appstate.AppState
	client *exchange.Client
	cfg    *config.Config

	rateLimitStart     time.Time
	errorStart         time.Time
	lastServerPingTime time.Time
	lastExchangeInfo   time.Time
	lastAccountPing    time.Time
	timeDrift          int64

	listenKey string

	// WSURI is the most recently constructed multiplexed stream URI. The
	// Socket Stream Worker reads this once connection_status becomes
	// CONNECTED; it is not projected through AppState's UI scalars.
	WSURI string
}

// NewConnectionWorker constructs a ConnectionWorker against the given
// exchange client, app state, and configuration.
func NewConnectionWorker(client *exchange.Client, state *appstate.AppState, cfg *config.Config) *ConnectionWorker {
	return &ConnectionWorker{client: client, state: state, cfg: cfg}
}

// OnStart resets all maintenance timers, matching connection.py's on_start.
func (w *ConnectionWorker) OnStart() {
	w.rateLimitStart = time.Time{}
	w.errorStart = time.Time{}
	w.lastServerPingTime = time.Time{}
	w.lastExchangeInfo = time.Time{}
	w.lastAccountPing = time.Time{}
	w.timeDrift = 0
}

// OnUpdate advances the connection state machine by one tick.
func (w *ConnectionWorker) OnUpdate(ctx context.Context) {
	now := time.Now()

	switch w.state.ConnectionStatus() {
	case types.StatusNotConnected:
		w.tryConnect(ctx, now)

	case types.StatusError:
		if w.errorStart.IsZero() {
			w.errorStart = now
		} else if now.Sub(w.errorStart) >= errorBackoff {
			w.errorStart = time.Time{}
			w.state.SetConnectionStatus(types.StatusNotConnected)
		}

	case types.StatusRateLimited:
		if w.rateLimitStart.IsZero() {
			w.rateLimitStart = now
		} else if now.Sub(w.rateLimitStart) >= rateLimitBackoff {
			w.rateLimitStart = time.Time{}
			w.state.SetConnectionStatus(types.StatusNotConnected)
		}

	case types.StatusConnected:
		w.maintain(ctx, now)
	}
}

func (w *ConnectionWorker) tryConnect(ctx context.Context, now time.Time) {
	w.state.SetConnectionStatus(types.StatusConnecting)

	if err := w.establishConnection(ctx); err != nil {
		if err == exchange.ErrRateLimited {
			w.state.SetConnectionStatus(types.StatusRateLimited)
			return
		}
		w.state.SetConnectionStatus(types.StatusError)
		return
	}

	w.lastServerPingTime = now
	w.lastExchangeInfo = now
	w.lastAccountPing = now
	w.state.SetConnectTime(now.UnixMilli() + w.timeDrift)
	w.state.SetConnectionStatus(types.StatusConnected)
}

func (w *ConnectionWorker) maintain(ctx context.Context, now time.Time) {
	var opErr error

	if now.Sub(w.lastAccountPing) >= accountPingPeriod {
		if err := w.client.KeepaliveUserDataStream(ctx, w.listenKey); err != nil {
			opErr = err
		}
		w.lastAccountPing = now
	}

	if opErr == nil {
		if now.Sub(w.lastExchangeInfo) >= exchangeInfoPeriod {
			if err := w.updateExchangeInfo(ctx); err != nil {
				opErr = err
			}
			w.lastExchangeInfo = now
			w.lastServerPingTime = now
		} else if now.Sub(w.lastServerPingTime) >= serverPingPeriod {
			if err := w.updateServerTime(ctx); err != nil {
				opErr = err
			}
			w.lastServerPingTime = now
		} else {
			w.state.SetServerTime(now.UnixMilli() + w.timeDrift)
		}
	}

	if opErr != nil {
		if opErr == exchange.ErrRateLimited {
			w.state.SetConnectionStatus(types.StatusRateLimited)
		} else {
			w.state.SetConnectionStatus(types.StatusError)
		}
		return
	}

	sessionAge := time.Duration(w.state.ServerTime()-w.state.ConnectTime()) * time.Millisecond
	if sessionAge >= w.cfg.Exchange.MaxSessionTime {
		w.state.SetConnectionStatus(types.StatusNotConnected)
	}
}

// establishConnection mirrors connection.py's _establish_connection:
// refresh exchange info, fetch account info (discarded per spec.md §9
// Open Question iii), open the user-data stream, then build the
// multiplexed websocket URI from the union of trade and save pairs.
func (w *ConnectionWorker) establishConnection(ctx context.Context) error {
	if err := w.updateExchangeInfo(ctx); err != nil {
		return err
	}
	if _, err := w.client.GetAccountInfo(ctx, w.cfg.Exchange.AccountRecvWindow); err != nil {
		return err
	}
	listenKey, err := w.client.OpenUserDataStream(ctx)
	if err != nil {
		return err
	}
	w.listenKey = listenKey

	streams := []string{listenKey}
	for _, pair := range w.state.AllPairs() {
		streams = append(streams, pair+"@trade", pair+"@depth", pair+"@ticker")
	}
	w.WSURI = w.cfg.Exchange.WSBaseURL + "/stream?streams=" + strings.Join(streams, "/")
	w.state.SetWSURI(w.WSURI)
	return nil
}

// updateExchangeInfo refreshes symbol metadata and, via the round trip's
// timing, resyncs server time the same tick (connection.py's
// _update_exchange_info calls _request_timed_info against the exchangeInfo
// endpoint, combining both in one request; the exchange's symbol and time
// endpoints differ in this client, so the two calls are made separately
// here but achieve the same net effect on the same tick).
func (w *ConnectionWorker) updateExchangeInfo(ctx context.Context) error {
	symbols, err := w.client.GetExchangeInfo(ctx)
	if err != nil {
		return err
	}
	if _, err := parsing.ParseExchangePairInfos(symbols); err != nil {
		return fmt.Errorf("connection: parse exchange info: %w", err)
	}
	return w.updateServerTime(ctx)
}

// updateServerTime resyncs time_drift and the latency EWMA from a single
// GET /v1/time round trip (connection.py's _request_timed_info).
func (w *ConnectionWorker) updateServerTime(ctx context.Context) error {
	result, err := w.client.GetServerTime(ctx)
	if err != nil {
		return err
	}

	wallNow := time.Now().UnixMilli()
	serverTimeMs := result.ServerTime + result.RTTMs/2

	w.state.SetLatency(int64(0.5*float64(result.RTTMs) + 0.5*float64(w.state.Latency())))
	w.state.SetServerTime(serverTimeMs)
	w.timeDrift = serverTimeMs - wallNow
	return nil
}
