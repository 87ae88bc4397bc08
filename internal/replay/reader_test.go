package replay

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"spotflow/internal/appstate"
	"spotflow/internal/archive"
	"spotflow/pkg/types"
)

func writeGzipLines(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	for _, l := range lines {
		gz.Write([]byte(l))
		gz.Write([]byte("\n"))
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSavedStreamReaderReplaysTradesAndDepth(t *testing.T) {
	dir := t.TempDir()
	const ts = int64(1700000000000)

	tradesPath := archive.Path(dir, ts, "btcusdt", archive.KindTrades)
	depthPath := archive.Path(dir, ts, "btcusdt", archive.KindDepth)

	writeGzipLines(t, tradesPath, []string{
		`{"trade_timestamp":1000,"server_timestamp":1000,"price":100,"quantity":1,"is_buyer_maker":false,"buyer_id":1,"seller_id":2,"low24":0,"high24":0,"vol24":0}`,
		`{"trade_timestamp":2000,"server_timestamp":2000,"price":101,"quantity":1,"is_buyer_maker":false,"buyer_id":1,"seller_id":2,"low24":0,"high24":0,"vol24":0}`,
	})
	writeGzipLines(t, depthPath, []string{
		`{"server_timestamp":500,"bids":{"10":5},"asks":{}}`,
	})

	state := appstate.New()
	state.SetConnectionStatus(types.StatusConnected)
	state.SetConnectTime(ts)

	// Run back-pressures on an empty TradeQueue before every push, so a
	// consumer has to drain it while the replay runs.
	var trades []types.Trade
	stop := make(chan struct{})
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for {
			select {
			case <-stop:
				return
			default:
			}
			trades = append(trades, state.TradeQueue.DrainAll()...)
		}
	}()

	r := New(state, ts, "btcusdt", dir, 1000, nil)
	runErr := r.Run()
	close(stop)
	<-consumed
	if runErr != nil {
		t.Fatalf("Run() error: %v", runErr)
	}

	for {
		trade, ok := state.TradeQueue.TryPop()
		if !ok {
			break
		}
		trades = append(trades, trade)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades replayed, got %d", len(trades))
	}
	if trades[0].Pair != "btcusdt" || trades[0].ServerTimestamp != 1000 {
		t.Errorf("first trade = %+v, want pair=btcusdt server_timestamp=1000", trades[0])
	}
	if trades[1].ServerTimestamp != 2000 {
		t.Errorf("second trade = %+v, want server_timestamp=2000", trades[1])
	}

	if state.OrderbookStateQueue.Len() == 0 {
		t.Error("expected the depth state preceding the first trade to have been pushed")
	}
}

func TestSavedStreamReaderReportsProgress(t *testing.T) {
	dir := t.TempDir()
	const ts = int64(1700000000000)

	tradesPath := archive.Path(dir, ts, "ethusdt", archive.KindTrades)
	depthPath := archive.Path(dir, ts, "ethusdt", archive.KindDepth)

	lines := make([]string, 0, 250)
	for i := 0; i < 250; i++ {
		lineTs := int64(i * 1000)
		lines = append(lines, fmt.Sprintf(`{"trade_timestamp":%d,"server_timestamp":%d,"price":1,"quantity":1,"is_buyer_maker":false,"buyer_id":0,"seller_id":0,"low24":0,"high24":0,"vol24":0}`, lineTs, lineTs))
	}
	writeGzipLines(t, tradesPath, lines)
	writeGzipLines(t, depthPath, nil)

	state := appstate.New()
	state.SetConnectionStatus(types.StatusConnected)
	state.SetConnectTime(ts)

	stop := make(chan struct{})
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for {
			select {
			case <-stop:
				return
			default:
			}
			state.TradeQueue.DrainAll()
		}
	}()

	var calls int
	r := New(state, ts, "ethusdt", dir, 1000, func(cur, final string, pct int) {
		calls++
	})
	runErr := r.Run()
	close(stop)
	<-consumed
	if runErr != nil {
		t.Fatalf("Run() error: %v", runErr)
	}
	if calls == 0 {
		t.Error("expected at least one progress callback across 250 updates")
	}
}
