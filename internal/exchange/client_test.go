package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"spotflow/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(config.ExchangeConfig{
		RESTBaseURL:    srv.URL,
		APIKey:         "test-key",
		APISecret:      "test-secret",
		RequestTimeout: 5 * time.Second,
	})
	return c, srv
}

func TestGetExchangeInfoParsesSymbols(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/exchangeInfo" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"serverTime":1000,"symbols":[{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT","baseAssetPrecision":8,"quotePrecision":8,"filters":[{"filterType":"LOT_SIZE","stepSize":"0.00001000","minQty":"0.00001000","maxQty":"9000.00000000"}]}]}`))
	})

	symbols, err := c.GetExchangeInfo(context.Background())
	if err != nil {
		t.Fatalf("GetExchangeInfo: %v", err)
	}
	if len(symbols) != 1 || symbols[0].Symbol != "BTCUSDT" {
		t.Fatalf("unexpected symbols: %+v", symbols)
	}
}

func TestGetExchangeInfoRateLimited(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.GetExchangeInfo(context.Background())
	if err != ErrRateLimited {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestGetServerTimeMeasuresRTT(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"serverTime":1234567890}`))
	})

	res, err := c.GetServerTime(context.Background())
	if err != nil {
		t.Fatalf("GetServerTime: %v", err)
	}
	if res.ServerTime != 1234567890 {
		t.Errorf("ServerTime = %d, want 1234567890", res.ServerTime)
	}
	if res.RTTMs < 0 {
		t.Errorf("RTTMs = %d, want >= 0", res.RTTMs)
	}
}

func TestGetAccountInfoSignsQuery(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-MBX-APIKEY") != "test-key" {
			t.Errorf("missing X-MBX-APIKEY header")
		}
		if r.URL.Query().Get("signature") == "" {
			t.Errorf("missing signature query param")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"canTrade":true,"balances":[]}`))
	})

	info, err := c.GetAccountInfo(context.Background(), 5000)
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if !info.CanTrade {
		t.Error("CanTrade = false, want true")
	}
}

func TestOpenAndKeepaliveUserDataStream(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"listenKey":"abc123"}`))
		case http.MethodPut:
			if r.URL.Query().Get("listenKey") != "abc123" {
				t.Errorf("keepalive missing listenKey")
			}
			w.WriteHeader(http.StatusOK)
		}
	})

	key, err := c.OpenUserDataStream(context.Background())
	if err != nil {
		t.Fatalf("OpenUserDataStream: %v", err)
	}
	if key != "abc123" {
		t.Fatalf("listenKey = %q, want abc123", key)
	}

	if err := c.KeepaliveUserDataStream(context.Background(), key); err != nil {
		t.Fatalf("KeepaliveUserDataStream: %v", err)
	}
}

func TestGetDepthSnapshotParsesLevels(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "btcusdt" {
			t.Errorf("symbol = %q, want btcusdt", r.URL.Query().Get("symbol"))
		}
		if r.URL.Query().Get("limit") != "100" {
			t.Errorf("limit = %q, want 100", r.URL.Query().Get("limit"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"lastUpdateId":100,"bids":[["10","5"]],"asks":[["11","7"]]}`))
	})

	snap, err := c.GetDepthSnapshot(context.Background(), "btcusdt")
	if err != nil {
		t.Fatalf("GetDepthSnapshot: %v", err)
	}
	if snap.LastUpdateID != 100 {
		t.Errorf("LastUpdateID = %d, want 100", snap.LastUpdateID)
	}
	if len(snap.Bids) != 1 || snap.Bids[0].Price != "10" || snap.Bids[0].Quantity != "5" {
		t.Errorf("Bids = %+v", snap.Bids)
	}
	if len(snap.Asks) != 1 || snap.Asks[0].Price != "11" {
		t.Errorf("Asks = %+v", snap.Asks)
	}
}

func TestGetDepthSnapshotOtherErrorNotRateLimited(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.GetDepthSnapshot(context.Background(), "btcusdt")
	if err == nil || err == ErrRateLimited {
		t.Fatalf("err = %v, want a non-rate-limit error", err)
	}
}
