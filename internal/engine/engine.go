// Package engine supervises the ingestion pipeline's workers. It collapses
// the source program's multi-process design (one OS process per worker,
// sharing state through a multiprocessing.Manager namespace) into a single
// process of goroutines sharing one *appstate.AppState, per spec.md's
// Design Note 1. Grounded on 0xtitan6-polymarket-mm/internal/engine/
// engine.go's central-struct/Start/Stop shape and run_trading_bot.py's
// _PROCESSES/AsyncRunnerProcess wiring plus its fatal-error-stops-
// everything behavior.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"spotflow/internal/appstate"
	"spotflow/internal/archive"
	"spotflow/internal/config"
	"spotflow/internal/dashboard"
	"spotflow/internal/exchange"
	"spotflow/internal/prediction"
	"spotflow/internal/workers"
	"spotflow/pkg/types"
)

// processWaitTimeout mirrors the source's _PROCESS_WAIT_TIMEOUT: the
// supervisor joins every worker goroutine for this long before abandoning
// it and logging the fact, rather than blocking shutdown indefinitely.
const processWaitTimeout = 5 * time.Second

func stubModelFactory(pair string) prediction.Model {
	return prediction.NewStubModel(pair)
}

// Engine owns every worker's lifecycle and the dashboard server, and is
// the only place that reads or writes more than one worker's-worth of
// config at once.
type Engine struct {
	cfg    *config.Config
	state  *appstate.AppState
	logger *slog.Logger

	conn      *workers.ConnectionWorker
	socket    *workers.SocketStreamWorker
	snapshot  *workers.SnapshotWorker
	orderbook *workers.OrderBookWorker
	analysis  *workers.AnalysisWorker
	executor  *workers.ExecutorWorker
	dash      *dashboard.Server

	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group

	runErr error
}

// New wires every worker against one shared AppState and exchange client.
// The Analysis worker's archiver is deferred until the first successful
// connection latches connect_time, since the archive path is keyed by it
// and — unlike the source, which re-reads app_state.connect_time on every
// write — a single-process Archiver instance is built once per session.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	state := appstate.New()
	state.SetTradePairs(cfg.TradePairs)
	state.SetSavePairs(cfg.SavePairs)

	client := exchange.NewClient(cfg.Exchange)
	parentCtx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(parentCtx)

	return &Engine{
		cfg:       cfg,
		state:     state,
		logger:    logger.With("component", "engine"),
		conn:      workers.NewConnectionWorker(client, state, cfg),
		socket:    workers.NewSocketStreamWorker(state, cfg),
		snapshot:  workers.NewSnapshotWorker(client, state, cfg),
		orderbook: workers.NewOrderBookWorker(state, cfg),
		executor:  workers.NewExecutorWorker(state),
		dash:      dashboard.New(state, cfg, logger),
		ctx:       egCtx,
		cancel:    cancel,
		eg:        eg,
	}
}

// Start launches every worker's tick loop plus the dashboard server, and
// returns immediately; call Stop to shut down. All ticked workers start
// together; only Analysis waits (in runAnalysis) until the Connection
// worker has latched connect_time, which keys its archiver. Every other
// worker's OnUpdate is a no-op until connection_status == CONNECTED, so
// that wait does not change when the pipeline begins doing work.
func (e *Engine) Start() {
	e.runTicked(func() { e.conn.OnStart() }, func() { e.conn.OnUpdate(e.ctx) })
	e.runTicked(func() { e.socket.OnStart() }, func() { e.socket.OnUpdate(e.ctx, e.conn.WSURI) })
	e.runTicked(func() { e.snapshot.OnStart() }, func() { e.snapshot.OnUpdate(e.ctx) })
	e.runTicked(func() { e.orderbook.OnStart() }, func() { e.orderbook.OnUpdate() })
	e.runTicked(func() { e.executor.OnStart() }, func() { e.executor.OnUpdate() })

	e.eg.Go(func() error {
		e.runAnalysis()
		return nil
	})

	e.eg.Go(func() error {
		return e.dash.Run(e.ctx)
	})

	e.eg.Go(e.watchFatalError)
}

// runTicked starts one worker's on_start/on_update tick loop on the
// engine's errgroup, ticking every cfg.ProcUpdateRes, matching spec.md
// §5's uniform worker contract.
func (e *Engine) runTicked(onStart, onUpdate func()) {
	e.eg.Go(func() error {
		onStart()

		ticker := time.NewTicker(e.cfg.ProcUpdateRes)
		defer ticker.Stop()

		for {
			select {
			case <-e.ctx.Done():
				return nil
			case <-ticker.C:
				onUpdate()
			}
		}
	})
}

// runAnalysis waits for the session's connect_time to latch, builds the
// archiver keyed by it (nil if no pairs are ever configured to be saved),
// then runs the Analysis worker's ordinary tick loop.
func (e *Engine) runAnalysis() {
	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}
		if e.state.ConnectionStatus() == types.StatusConnected && e.state.ConnectTime() > 0 {
			break
		}
		select {
		case <-e.ctx.Done():
			return
		case <-time.After(e.cfg.ProcUpdateRes):
		}
	}

	var archiver *archive.Archiver
	if len(e.cfg.SavePairs) > 0 {
		archiver = archive.New(e.cfg.Analysis.DataStoreDir, e.state.ConnectTime())
	}
	e.analysis = workers.NewAnalysisWorker(e.state, e.cfg, archiver, stubModelFactory)

	ticker := time.NewTicker(e.cfg.ProcUpdateRes)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.analysis.OnUpdate()
		}
	}
}

// watchFatalError mirrors the supervisor half of spec.md §5's contract:
// once any worker latches fatal_error, or the dashboard reports one via
// its ticker, it returns an error — which errgroup.WithContext turns into
// automatic cancellation of every other goroutine's context, the same net
// effect as the source's supervisor observing fatal_error and shutting
// the process group down.
func (e *Engine) watchFatalError() error {
	ticker := time.NewTicker(e.cfg.ProcUpdateRes)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return nil
		case <-e.dash.FatalErrorCh:
			return fmt.Errorf("fatal error: %s", e.state.ErrorMsg())
		case <-ticker.C:
			if e.state.FatalError() {
				return fmt.Errorf("fatal error: %s", e.state.ErrorMsg())
			}
		}
	}
}

// Stop cancels every worker's context and joins them, abandoning and
// logging any that have not exited within processWaitTimeout — spec.md
// §5's "supervisor sends terminate ... and joins with a 5s timeout; a
// worker that fails to exit is abandoned and logged".
func (e *Engine) Stop() {
	e.logger.Info("shutting down")
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.runErr = e.eg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if e.runErr != nil {
			e.logger.Error("shutdown complete with error", "error", e.runErr)
		} else {
			e.logger.Info("shutdown complete")
		}
	case <-time.After(processWaitTimeout):
		e.logger.Warn("one or more workers did not exit within the wait timeout, abandoning", "timeout", processWaitTimeout)
	}
}

// Err returns whichever error first caused the engine to stop — a fatal
// worker error or a dashboard failure — letting main decide whether to
// exit nonzero. Safe to call only after Stop has returned.
func (e *Engine) Err() error {
	return e.runErr
}
