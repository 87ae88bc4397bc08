package workers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"spotflow/internal/appstate"
	"spotflow/internal/config"
	"spotflow/internal/exchange"
	"spotflow/pkg/types"
)

func newTestConnectionWorker(t *testing.T, handler http.HandlerFunc) (*ConnectionWorker, *appstate.AppState) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Exchange: config.ExchangeConfig{
			RESTBaseURL:       srv.URL,
			WSBaseURL:         "wss://stream.example.com:9443",
			APIKey:            "key",
			APISecret:         "secret",
			RequestTimeout:    5 * time.Second,
			AccountRecvWindow: 5000,
			MaxSessionTime:    12 * time.Hour,
		},
	}
	client := exchange.NewClient(cfg.Exchange)
	state := appstate.New()
	state.SetTradePairs([]string{"btcusdt"})

	return NewConnectionWorker(client, state, cfg), state
}

func handshakeHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/exchangeInfo":
			w.Write([]byte(`{"serverTime":1000,"symbols":[{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT","baseAssetPrecision":8,"quotePrecision":8,"filters":[{"filterType":"PRICE_FILTER","minPrice":"0.01","maxPrice":"1000000","tickSize":"0.01"},{"filterType":"LOT_SIZE","minQty":"0.00001","maxQty":"9000","stepSize":"0.00001"},{"filterType":"MIN_NOTIONAL","minNotional":"10"}]}]}`))
		case "/v1/time":
			w.Write([]byte(`{"serverTime":2000}`))
		case "/v3/account":
			if r.URL.Query().Get("signature") == "" {
				t.Error("expected signed account request")
			}
			w.Write([]byte(`{"makerCommission":0,"takerCommission":0,"canTrade":true,"canWithdraw":true,"canDeposit":true,"balances":[]}`))
		case "/v1/userDataStream":
			w.Write([]byte(`{"listenKey":"abc123"}`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}
}

func TestConnectionWorkerEstablishesConnection(t *testing.T) {
	t.Parallel()
	w, state := newTestConnectionWorker(t, handshakeHandler(t))
	w.OnStart()

	w.OnUpdate(context.Background())

	if got := state.ConnectionStatus(); got != types.StatusConnected {
		t.Fatalf("connection_status = %q, want CONNECTED", got)
	}
	if w.WSURI == "" {
		t.Error("expected WSURI to be populated")
	}
}

func TestConnectionWorkerRateLimitedOnHandshake429(t *testing.T) {
	t.Parallel()
	w, state := newTestConnectionWorker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	w.OnStart()

	w.OnUpdate(context.Background())

	if got := state.ConnectionStatus(); got != types.StatusRateLimited {
		t.Fatalf("connection_status = %q, want RATE_LIMITED", got)
	}
}

func TestConnectionWorkerErrorBacksOffAfter30Seconds(t *testing.T) {
	t.Parallel()
	w, state := newTestConnectionWorker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	w.OnStart()

	w.OnUpdate(context.Background())
	if got := state.ConnectionStatus(); got != types.StatusError {
		t.Fatalf("connection_status = %q, want ERROR", got)
	}

	w.errorStart = time.Now().Add(-31 * time.Second)
	w.OnUpdate(context.Background())
	if got := state.ConnectionStatus(); got != types.StatusNotConnected {
		t.Fatalf("connection_status = %q, want NOT_CONNECTED after backoff", got)
	}
}

func TestConnectionWorkerRateLimitBacksOffAfter60Seconds(t *testing.T) {
	t.Parallel()
	w, state := newTestConnectionWorker(t, handshakeHandler(t))
	state.SetConnectionStatus(types.StatusRateLimited)
	w.rateLimitStart = time.Now().Add(-61 * time.Second)

	w.OnUpdate(context.Background())

	if got := state.ConnectionStatus(); got != types.StatusNotConnected {
		t.Fatalf("connection_status = %q, want NOT_CONNECTED after rate-limit backoff", got)
	}
}

func TestConnectionWorkerForcesReconnectAtMaxSessionTime(t *testing.T) {
	t.Parallel()
	w, state := newTestConnectionWorker(t, handshakeHandler(t))
	w.cfg.Exchange.MaxSessionTime = 20 * time.Millisecond

	now := time.Now()
	state.SetConnectionStatus(types.StatusConnected)
	state.SetConnectTime(now.UnixMilli())
	state.SetServerTime(now.UnixMilli())
	w.lastAccountPing = now
	w.lastExchangeInfo = now
	w.lastServerPingTime = now

	// The "else just advance from drift" branch runs since no maintenance
	// timer has elapsed; real wall-clock advance alone pushes session age
	// past max_session_time.
	time.Sleep(40 * time.Millisecond)
	w.OnUpdate(context.Background())

	if got := state.ConnectionStatus(); got != types.StatusNotConnected {
		t.Fatalf("connection_status = %q, want NOT_CONNECTED once session exceeds max_session_time", got)
	}
}
