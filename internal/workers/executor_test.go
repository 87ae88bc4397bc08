package workers

import (
	"testing"

	"spotflow/internal/appstate"
	"spotflow/pkg/types"
)

func TestExecutorWorkerDrainsQueueWhileConnected(t *testing.T) {
	t.Parallel()
	state := appstate.New()
	state.SetConnectionStatus(types.StatusConnected)
	state.ExecutorQueue.Push(types.TradeSignal{Pair: "btcusdt", Side: types.SideBuy})

	w := NewExecutorWorker(state)
	w.OnUpdate()

	if state.ExecutorQueue.Len() != 0 {
		t.Error("expected the executor queue to be drained")
	}
}

func TestExecutorWorkerReinitializesWhenDisconnected(t *testing.T) {
	t.Parallel()
	state := appstate.New()
	state.SetConnectionStatus(types.StatusNotConnected)
	state.ExecutorQueue.Push(types.TradeSignal{Pair: "btcusdt", Side: types.SideSell})

	w := NewExecutorWorker(state)
	w.OnUpdate()

	if state.ExecutorQueue.Len() != 1 {
		t.Error("expected the queue untouched while disconnected (on_start is a no-op, queue not drained)")
	}
}
