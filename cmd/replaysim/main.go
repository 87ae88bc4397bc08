// Command replaysim is the offline driver: it replays one pair's
// previously archived trades/depth through the Analysis and Executor
// workers at full speed, reporting progress against the original session's
// wall-clock span.
//
// Grounded on run_simulator.py's main(): it sets connect_time/trade_pairs/
// connection_status once up front, starts Analysis and Executor against a
// proc_update_res of zero (drain as fast as possible, rather than on the
// live pipeline's tick), and drives everything from SavedStreamReader.run()
// called directly rather than from another ticked goroutine.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"spotflow/internal/appstate"
	"spotflow/internal/config"
	"spotflow/internal/prediction"
	"spotflow/internal/replay"
	"spotflow/internal/workers"
	"spotflow/pkg/types"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the pipeline's YAML config file")
	flag.Parse()

	args := flag.Args()
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: replaysim [--config f] <timestamp> <trading_pair> <model_pair>")
		os.Exit(2)
	}
	timestamp, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid timestamp %q: %v\n", args[0], err)
		os.Exit(2)
	}
	tradingPair := args[1]
	// modelPair selects a prediction checkpoint in a real model; the stub
	// model shipped here ignores it, matching the source's own
	// TradePredictionModel placeholder (model_pair is parsed but never
	// consulted anywhere in run_simulator.py/analysis.py either).
	_ = args[2]

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	state := appstate.New()
	state.SetTradePairs([]string{tradingPair})
	state.SetConnectTime(timestamp)
	if err := state.SetConnectionStatus(types.StatusConnected); err != nil {
		logger.Error("failed to latch connection status", "error", err)
		os.Exit(1)
	}

	analysis := workers.NewAnalysisWorker(state, cfg, nil, func(pair string) prediction.Model {
		return prediction.NewStubModel(pair)
	})
	executor := workers.NewExecutorWorker(state)

	stop := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case <-stop:
				return
			default:
			}
			analysis.OnUpdate()
			executor.OnUpdate()
		}
	}()

	reader := replay.New(state, timestamp, tradingPair, cfg.Replay.DataStoreDir, cfg.ProcUpdateRes.Milliseconds(), func(cur, final string, percent int) {
		fmt.Fprintf(os.Stderr, "\r[%3d%%] %s / %s", percent, cur, final)
	})
	runErr := reader.Run()
	close(stop)
	<-finished
	fmt.Fprintln(os.Stderr)

	if runErr != nil {
		logger.Error("replay failed", "error", runErr)
		os.Exit(1)
	}
}
