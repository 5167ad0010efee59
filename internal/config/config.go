// Package config loads and validates the YAML application config.
// Validation failures are surfaced before ingestion starts; callers are
// expected to treat them as fatal.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zekenewsom/hyperlocal/internal/domain"
)

// Config is the full application configuration.
type Config struct {
	// Universe is the set of base symbols to ingest (e.g. BTC, ETH).
	Universe []string `yaml:"universe"`
	// Intervals is the set of bar intervals per symbol.
	Intervals []domain.Interval `yaml:"intervals"`

	WS       WSConfig       `yaml:"ws"`
	Backfill BackfillConfig `yaml:"backfill"`
	Binance  BinanceConfig  `yaml:"binance"`
	Storage  StorageConfig  `yaml:"storage"`
	Archive  ArchiveConfig  `yaml:"archive"`

	// WarmupBars is how many recent bars per series the feature engine
	// replays before accepting live traffic.
	WarmupBars int `yaml:"warmup_bars"`
	// GapScanMinutes is the periodic gap-scan timer interval.
	GapScanMinutes int `yaml:"gap_scan_minutes"`

	// MetricsAddr serves Prometheus metrics; empty disables the server.
	MetricsAddr string `yaml:"metrics_addr"`
	// ControlAddr serves the status/control HTTP surface.
	ControlAddr string `yaml:"control_addr"`
}

// WSConfig configures the live connection.
type WSConfig struct {
	URL          string `yaml:"url"`
	HeartbeatSec int    `yaml:"heartbeat_sec"`
}

// BackfillConfig configures the primary-venue backfill fetcher.
type BackfillConfig struct {
	LookbackDays   int `yaml:"lookback_days"`
	WindowCandles  int `yaml:"window_candles"`
	MaxConcurrency int `yaml:"max_concurrency"`
}

// BinanceConfig configures the secondary-venue backfill.
type BinanceConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BaseURL      string `yaml:"base_url"`
	WeightPerMin int    `yaml:"weight_per_min"`
}

// StorageConfig carries the store DSNs. An empty PostgresDSN disables the
// backfill-progress mirror.
type StorageConfig struct {
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	PostgresDSN   string `yaml:"postgres_dsn"`
}

// ArchiveConfig configures the Parquet archive sink.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Default returns the built-in defaults applied before the YAML overlay.
func Default() Config {
	return Config{
		WS: WSConfig{
			URL:          "wss://api.hyperliquid.xyz/ws",
			HeartbeatSec: 30,
		},
		Backfill: BackfillConfig{
			LookbackDays:   30,
			WindowCandles:  3000,
			MaxConcurrency: 2,
		},
		Binance: BinanceConfig{
			Enabled:      true,
			BaseURL:      "https://api.binance.us",
			WeightPerMin: 600,
		},
		WarmupBars:     1000,
		GapScanMinutes: 15,
		MetricsAddr:    ":9100",
		ControlAddr:    ":8085",
	}
}

// Load reads, parses and validates the config file at path.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks all required fields and ranges.
func (c Config) Validate() error {
	if len(c.Universe) == 0 {
		return fmt.Errorf("universe must name at least one symbol")
	}
	for _, s := range c.Universe {
		if s == "" {
			return fmt.Errorf("universe contains an empty symbol")
		}
	}
	if len(c.Intervals) == 0 {
		return fmt.Errorf("intervals must name at least one interval")
	}
	for _, i := range c.Intervals {
		if !i.Valid() {
			return fmt.Errorf("unknown interval %q", i)
		}
	}
	if c.WS.URL == "" {
		return fmt.Errorf("ws.url is required")
	}
	if c.WS.HeartbeatSec < 10 {
		return fmt.Errorf("ws.heartbeat_sec must be >= 10, got %d", c.WS.HeartbeatSec)
	}
	if c.Backfill.LookbackDays < 1 {
		return fmt.Errorf("backfill.lookback_days must be >= 1, got %d", c.Backfill.LookbackDays)
	}
	if c.Backfill.WindowCandles < 100 || c.Backfill.WindowCandles > 5000 {
		return fmt.Errorf("backfill.window_candles must be in [100, 5000], got %d", c.Backfill.WindowCandles)
	}
	if c.Backfill.MaxConcurrency < 1 || c.Backfill.MaxConcurrency > 8 {
		return fmt.Errorf("backfill.max_concurrency must be in [1, 8], got %d", c.Backfill.MaxConcurrency)
	}
	if c.Binance.Enabled && c.Binance.WeightPerMin < 1 {
		return fmt.Errorf("binance.weight_per_min must be >= 1, got %d", c.Binance.WeightPerMin)
	}
	if c.WarmupBars < 0 {
		return fmt.Errorf("warmup_bars must be >= 0, got %d", c.WarmupBars)
	}
	if c.GapScanMinutes < 1 {
		return fmt.Errorf("gap_scan_minutes must be >= 1, got %d", c.GapScanMinutes)
	}
	if c.Archive.Enabled && c.Archive.Dir == "" {
		return fmt.Errorf("archive.dir is required when the archive is enabled")
	}
	return nil
}

// SeriesKeys expands universe x intervals into the configured series set.
func (c Config) SeriesKeys() []domain.SeriesKey {
	keys := make([]domain.SeriesKey, 0, len(c.Universe)*len(c.Intervals))
	for _, sym := range c.Universe {
		for _, itv := range c.Intervals {
			keys = append(keys, domain.SeriesKey{Symbol: sym, Interval: itv})
		}
	}
	return keys
}
