package workers

import (
	"context"
	"strconv"
	"time"

	"spotflow/internal/appstate"
	"spotflow/internal/config"
	"spotflow/internal/exchange"
	"spotflow/pkg/types"
)

// SnapshotWorker polls the REST depth endpoint per pair at a configured
// interval and emits full bid/ask snapshots. Grounded on snapshot.py.
type SnapshotWorker struct {
	state  *appstate.AppState
	client *exchange.Client
	cfg    *config.Config

	lastSnapshotTimes map[string]time.Time
}

// NewSnapshotWorker constructs a SnapshotWorker.
func NewSnapshotWorker(client *exchange.Client, state *appstate.AppState, cfg *config.Config) *SnapshotWorker {
	w := &SnapshotWorker{client: client, state: state, cfg: cfg}
	w.OnStart()
	return w
}

// OnStart wipes the per-pair interval cache (snapshot.py: reset entirely
// on disconnect/on_start).
func (w *SnapshotWorker) OnStart() {
	w.lastSnapshotTimes = make(map[string]time.Time)
}

// OnUpdate polls every trade/save pair whose snapshot interval has
// elapsed. A 429 abandons the entire tick (not just the current pair); any
// other error skips just that pair and retries next tick.
func (w *SnapshotWorker) OnUpdate(ctx context.Context) {
	if w.state.ConnectionStatus() != types.StatusConnected {
		w.OnStart()
		return
	}

	now := time.Now()
	for _, pair := range w.state.AllPairs() {
		last, ok := w.lastSnapshotTimes[pair]
		if ok && now.Sub(last) < w.cfg.Exchange.DepthSnapshotInterval {
			continue
		}

		snap, err := w.client.GetDepthSnapshot(ctx, pair)
		if err != nil {
			if err == exchange.ErrRateLimited {
				w.state.SetConnectionStatus(types.StatusRateLimited)
				return
			}
			continue
		}

		w.state.BidSnapshotQueue.Push(types.DepthSnapshot{
			Pair: pair, UpdateID: snap.LastUpdateID, Levels: levelsToFloatMap(snap.Bids),
		})
		w.state.AskSnapshotQueue.Push(types.DepthSnapshot{
			Pair: pair, UpdateID: snap.LastUpdateID, Levels: levelsToFloatMap(snap.Asks),
		})
		w.lastSnapshotTimes[pair] = now
	}
}

func levelsToFloatMap(levels []exchange.DepthLevel) map[string]float64 {
	out := make(map[string]float64, len(levels))
	for _, lvl := range levels {
		qty, err := strconv.ParseFloat(lvl.Quantity, 64)
		if err != nil {
			continue
		}
		out[lvl.Price] = qty
	}
	return out
}
