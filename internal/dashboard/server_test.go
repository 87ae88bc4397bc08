package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"spotflow/internal/appstate"
	"spotflow/internal/config"
	"spotflow/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	state := appstate.New()
	state.SetConnectTime(42)
	state.SetConnectionStatus(types.StatusConnected)

	cfg := &config.Config{
		ProcUpdateRes: 10 * time.Millisecond,
		Dashboard: config.DashboardConfig{
			Enabled: true,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	s := New(state, cfg, logger)

	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(ts.Close)
	return s, ts
}

func dialSocket(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) appstate.UIMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var msg appstate.UIMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	return msg
}

func TestNewClientReceivesFullSnapshotOnConnect(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialSocket(t, ts)

	seen := make(map[string]bool)
	for i := 0; i < 8; i++ {
		msg := readMessage(t, conn)
		seen[msg.Type] = true
	}

	for _, want := range []string{
		"SET_LATENCY", "SET_SERVER_TIME", "SET_CONNECT_TIME",
		"SET_CONNECTION_STATUS", "SET_FATAL_ERROR", "SET_ERROR_MSG",
		"SET_TRADE_PAIRS", "SET_SAVE_PAIRS",
	} {
		if !seen[want] {
			t.Errorf("expected full snapshot to include %s, got %v", want, seen)
		}
	}
}

func TestTickBroadcastsOnlyDirtyFields(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dialSocket(t, ts)

	// Drain the initial write_all snapshot.
	for i := 0; i < 8; i++ {
		readMessage(t, conn)
	}

	s.state.SetLatency(123)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	msg := readMessage(t, conn)
	if msg.Type != "SET_LATENCY" {
		t.Fatalf("expected SET_LATENCY broadcast, got %s", msg.Type)
	}
}

func TestIsOriginAllowed(t *testing.T) {
	cfg := config.DashboardConfig{AllowedOrigins: []string{"https://dash.example.com"}}

	if !isOriginAllowed("https://dash.example.com", cfg, "localhost:8080") {
		t.Error("expected allow-listed origin to be allowed")
	}
	if isOriginAllowed("https://evil.example.com", cfg, "localhost:8080") {
		t.Error("expected non-allow-listed origin to be rejected")
	}
	if !isOriginAllowed("", cfg, "localhost:8080") {
		t.Error("expected empty origin (non-browser client) to be allowed")
	}

	noList := config.DashboardConfig{}
	if !isOriginAllowed("http://localhost:3000", noList, "localhost:8080") {
		t.Error("expected localhost origin to be allowed with no allow-list configured")
	}
}
