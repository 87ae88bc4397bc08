// Package config defines all configuration for the ingestion pipeline.
// Config is loaded from a YAML file (the commands default to config.yaml) with
// sensitive fields overridable via SPOTFLOW_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	ProcUpdateRes time.Duration  `mapstructure:"proc_update_res"`
	TradePairs    []string       `mapstructure:"trade_pairs"`
	SavePairs     []string       `mapstructure:"save_pairs"`
	Exchange      ExchangeConfig `mapstructure:"exchange"`
	Analysis      AnalysisConfig `mapstructure:"analysis"`
	Replay        ReplayConfig   `mapstructure:"replay"`
	Logging       LoggingConfig  `mapstructure:"logging"`
	Dashboard     DashboardConfig `mapstructure:"dashboard"`
}

// ExchangeConfig describes the exchange endpoints, credentials, and timing
// parameters used by the Connection, Socket Stream, and Snapshot workers.
//
//   - RequestTimeout: per-request timeout of the REST client.
//   - ConnectTimeout: loaded from the file; neither the REST nor the
//     websocket client applies it.
//   - MaxSessionTime: forces a reconnect once the session is this old.
//   - AccountRecvWindow: the recvWindow (ms) sent with signed REST requests.
//   - DepthSnapshotInterval: interval (a duration, e.g. 30s) between REST
//     depth polls per pair.
//   - OrderbookInterval: interval (a duration) between merged depth-state
//     emissions.
type ExchangeConfig struct {
	RESTBaseURL           string        `mapstructure:"rest_base_url"`
	WSBaseURL             string        `mapstructure:"ws_base_url"`
	APIKey                string        `mapstructure:"api_key"`
	APISecret             string        `mapstructure:"api_secret"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout"`
	MaxSessionTime        time.Duration `mapstructure:"max_session_time"`
	AccountRecvWindow     int64         `mapstructure:"account_recv_window"`
	DepthSnapshotInterval time.Duration `mapstructure:"depth_snapshot_interval"`
	OrderbookInterval     time.Duration `mapstructure:"orderbook_interval"`
}

// AnalysisConfig tunes the trading-period aggregation, the indicator/depth
// buffer shapes, the prediction model's trigger thresholds, and the
// on-disk archive of raw trade/depth lines.
type AnalysisConfig struct {
	PeriodTime         time.Duration `mapstructure:"period_time"`
	NumDepthBins       int           `mapstructure:"num_depth_bins"`
	TradeHistoryLength int           `mapstructure:"trade_history_length"`
	BuyThreshold       float64       `mapstructure:"buy_threshold"`
	SellThreshold      float64       `mapstructure:"sell_threshold"`
	DataStoreDir       string        `mapstructure:"data_store_dir"`
}

// ReplayConfig is consulted only by cmd/replaysim.
type ReplayConfig struct {
	DataStoreDir string `mapstructure:"data_store_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the web dashboard server that pushes app-state
// updates to connected UI clients.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	HostIP         string   `mapstructure:"host_ip"`
	HostPort       int      `mapstructure:"host_port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: SPOTFLOW_API_KEY, SPOTFLOW_API_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SPOTFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("proc_update_res", 100*time.Millisecond)
	v.SetDefault("analysis.num_depth_bins", 16)
	v.SetDefault("analysis.trade_history_length", 24)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	for i, pair := range cfg.TradePairs {
		cfg.TradePairs[i] = strings.ToLower(pair)
	}
	for i, pair := range cfg.SavePairs {
		cfg.SavePairs[i] = strings.ToLower(pair)
	}

	if key := os.Getenv("SPOTFLOW_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("SPOTFLOW_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.ProcUpdateRes <= 0 {
		return fmt.Errorf("proc_update_res must be > 0")
	}
	if c.Exchange.RESTBaseURL == "" {
		return fmt.Errorf("exchange.rest_base_url is required")
	}
	if c.Exchange.WSBaseURL == "" {
		return fmt.Errorf("exchange.ws_base_url is required")
	}
	if c.Exchange.APIKey == "" {
		return fmt.Errorf("exchange.api_key is required (set SPOTFLOW_API_KEY)")
	}
	if c.Exchange.APISecret == "" {
		return fmt.Errorf("exchange.api_secret is required (set SPOTFLOW_API_SECRET)")
	}
	if c.Exchange.RequestTimeout <= 0 {
		return fmt.Errorf("exchange.request_timeout must be > 0")
	}
	if c.Exchange.DepthSnapshotInterval <= 0 {
		return fmt.Errorf("exchange.depth_snapshot_interval must be > 0")
	}
	if c.Exchange.OrderbookInterval <= 0 {
		return fmt.Errorf("exchange.orderbook_interval must be > 0")
	}
	if c.Exchange.MaxSessionTime <= 0 {
		return fmt.Errorf("exchange.max_session_time must be > 0")
	}
	if c.Analysis.PeriodTime <= 0 {
		return fmt.Errorf("analysis.period_time must be > 0")
	}
	if c.Analysis.NumDepthBins <= 0 {
		return fmt.Errorf("analysis.num_depth_bins must be > 0")
	}
	if c.Analysis.TradeHistoryLength <= 0 {
		return fmt.Errorf("analysis.trade_history_length must be > 0")
	}
	if c.Analysis.DataStoreDir == "" {
		return fmt.Errorf("analysis.data_store_dir is required")
	}
	if c.Analysis.BuyThreshold <= 0 || c.Analysis.BuyThreshold > 1 {
		return fmt.Errorf("analysis.buy_threshold must be in (0, 1]")
	}
	if c.Analysis.SellThreshold <= 0 || c.Analysis.SellThreshold > 1 {
		return fmt.Errorf("analysis.sell_threshold must be in (0, 1]")
	}
	return nil
}
