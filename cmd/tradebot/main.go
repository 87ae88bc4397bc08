// Command tradebot is the live driver: it connects to the exchange, runs
// every worker, and serves the dashboard until interrupted.
//
// Grounded on 0xtitan6-polymarket-mm/cmd/bot/main.go's config-load/
// logger-setup/signal-handling shape, fused with run_trading_bot.py's
// responsibilities (it starts every runner process and owns the UI
// server's lifecycle).
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"spotflow/internal/config"
	"spotflow/internal/engine"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the pipeline's YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(cfg.Logging))

	eng := engine.New(cfg, logger)
	eng.Start()

	logger.Info("spotflow started",
		"trade_pairs", cfg.TradePairs,
		"save_pairs", cfg.SavePairs,
		"dashboard_enabled", cfg.Dashboard.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
	if err := eng.Err(); err != nil {
		logger.Error("exiting after fatal error", "error", err)
		os.Exit(1)
	}
}

func newLogHandler(cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
