package workers

import (
	"spotflow/internal/appstate"
	"spotflow/pkg/types"
)

// ExecutorWorker drains buy/sell signals; it places no orders. Grounded on executor.py's TradeExecutorRunner, which this
// pipeline ships as a stub consumer: it re-initializes whenever the
// session drops and otherwise just drains the queue, matching spec.md
// §4.8 ("the current repo implementation is a stub").
type ExecutorWorker struct {
	state *appstate.AppState
}

// NewExecutorWorker constructs an ExecutorWorker.
func NewExecutorWorker(state *appstate.AppState) *ExecutorWorker {
	w := &ExecutorWorker{state: state}
	w.OnStart()
	return w
}

// OnStart resets any in-flight order bookkeeping. No-op for the stub.
func (w *ExecutorWorker) OnStart() {}

// OnUpdate re-initializes on disconnection (executor.py: on_update calls
// on_start and returns whenever connection_status != CONNECTED);
// otherwise it drains the signal queue without acting on it.
func (w *ExecutorWorker) OnUpdate() {
	if w.state.ConnectionStatus() != types.StatusConnected {
		w.OnStart()
		return
	}

	w.state.ExecutorQueue.DrainAll()
}
