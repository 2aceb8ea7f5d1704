package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/seenimoa/signalsim/internal/backtest"
	"github.com/seenimoa/signalsim/pkg/models"
)

// ── Load / Defaults ──

func TestLoadReturnsDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	b := cfg.Backtest
	if b.Interval != "1h" {
		t.Errorf("Backtest.Interval: got %q, want 1h", b.Interval)
	}
	if b.MaxEntryBars != 3 {
		t.Errorf("Backtest.MaxEntryBars: got %d, want 3", b.MaxEntryBars)
	}
	if b.FeeRate != 0.0004 {
		t.Errorf("Backtest.FeeRate: got %f, want 0.0004", b.FeeRate)
	}
	if b.SlippageBase != 0.0005 || b.SlippageRange != 0.0003 {
		t.Errorf("Backtest slippage: got %f ± %f", b.SlippageBase, b.SlippageRange)
	}
	if b.PositionSize != 1000 || b.InitialCapital != 10000 {
		t.Errorf("Backtest sizes: got %f / %f", b.PositionSize, b.InitialCapital)
	}
	if b.MaxHoldingHours != 72 || b.CooldownHours != 4 || !b.AntiJitter {
		t.Errorf("Backtest holding/cooldown: %+v", b)
	}
	if b.Seed != 42 || b.LookbackBars != 200 || b.MaxOpenPositions != 0 {
		t.Errorf("Backtest seed/lookback/limit: %+v", b)
	}
	if b.ExitLabels["stop_loss"] != "Stop Loss" {
		t.Errorf("Backtest.ExitLabels: got %v", b.ExitLabels)
	}

	if len(cfg.Metrics.PnLBins) != 7 || cfg.Metrics.Annualization != 252 {
		t.Errorf("Metrics: got %+v", cfg.Metrics)
	}
	if cfg.Data.Format != "csv" || cfg.Data.FetchConcurrency != 4 {
		t.Errorf("Data: got %+v", cfg.Data)
	}
	if cfg.Signal.Source != "sma_cross" || cfg.Signal.Params.FastPeriod != 20 || cfg.Signal.Params.LongOnly {
		t.Errorf("Signal: got %+v", cfg.Signal)
	}
	if cfg.API.Port != 8080 || cfg.API.Addr() != "0.0.0.0:8080" {
		t.Errorf("API: got %+v", cfg.API)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging: got %+v", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

// ── LoadFromFile ──

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
backtest:
  interval: "4h"
  fee_rate: 0.001
  max_entry_bars: 2
  anti_jitter: false
  exit_labels:
    timeout: "Time Stop"
signal:
  source: breakout
  params:
    channel: 30
data:
  symbols: [BTCUSDT, ETHUSDT]
logging:
  level: debug
  format: json
`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if cfg.File() != path {
		t.Errorf("File: got %q, want %q", cfg.File(), path)
	}
	if cfg.Backtest.Interval != "4h" || cfg.Backtest.FeeRate != 0.001 || cfg.Backtest.MaxEntryBars != 2 {
		t.Errorf("Backtest: got %+v", cfg.Backtest)
	}
	if cfg.Backtest.AntiJitter {
		t.Error("AntiJitter should be overridden to false")
	}
	if cfg.Signal.Source != "breakout" || cfg.Signal.Params.Channel != 30 || cfg.Signal.Params.SlowPeriod != 50 {
		t.Errorf("Signal: got %+v", cfg.Signal)
	}
	if len(cfg.Data.Symbols) != 2 || cfg.Data.Symbols[1] != "ETHUSDT" {
		t.Errorf("Data.Symbols: got %v", cfg.Data.Symbols)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format: got %q", cfg.Logging.Format)
	}

	eng := cfg.Backtest.Engine()
	if eng.ExitLabels[models.ExitTimeout] != "Time Stop" {
		t.Errorf("timeout label: got %q", eng.ExitLabels[models.ExitTimeout])
	}
	if eng.ExitLabels[models.ExitStopLoss] != "Stop Loss" {
		t.Errorf("unlisted labels keep defaults, got %q", eng.ExitLabels[models.ExitStopLoss])
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/path/config.yaml"); err == nil {
		t.Error("LoadFromFile() with nonexistent path should return error")
	}
}

// ── Environment overrides ──

func TestEnvOverride(t *testing.T) {
	t.Setenv("SIGNALSIM_BACKTEST_FEE_RATE", "0.002")
	t.Setenv("SIGNALSIM_API_PORT", "9090")

	cfg := Default()
	if cfg.Backtest.FeeRate != 0.002 {
		t.Errorf("FeeRate: got %f, want 0.002", cfg.Backtest.FeeRate)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port: got %d, want 9090", cfg.API.Port)
	}
}

func TestEnvVar(t *testing.T) {
	if got := EnvVar("backtest.fee_rate"); got != "SIGNALSIM_BACKTEST_FEE_RATE" {
		t.Errorf("EnvVar: got %q", got)
	}
}

func TestSettingsSources(t *testing.T) {
	t.Setenv("SIGNALSIM_BACKTEST_SEED", "7")
	path := writeConfig(t, "backtest:\n  fee_rate: 0.001\n")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]Setting{}
	for _, s := range cfg.Settings() {
		got[s.Key] = s
	}
	if s := got["backtest.seed"]; s.Source != SourceEnv || s.Value != "7" {
		t.Errorf("seed: %+v", s)
	}
	if s := got["backtest.fee_rate"]; s.Source != SourceFile {
		t.Errorf("fee_rate: %+v", s)
	}
	if s := got["backtest.interval"]; s.Source != SourceDefault || s.Value != "1h" {
		t.Errorf("interval: %+v", s)
	}
}

// ── Validate ──

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad interval", func(c *Config) { c.Backtest.Interval = "fortnight" }},
		{"negative fee", func(c *Config) { c.Backtest.FeeRate = -1 }},
		{"zero size", func(c *Config) { c.Backtest.PositionSize = 0 }},
		{"unknown exit label", func(c *Config) { c.Backtest.ExitLabels = map[string]string{"moon": "Moon"} }},
		{"unsorted bins", func(c *Config) { c.Metrics.PnLBins = []float64{1, 0} }},
		{"data format", func(c *Config) { c.Data.Format = "parquet" }},
		{"unknown source", func(c *Config) { c.Signal.Source = "oracle" }},
		{"replay without file", func(c *Config) { c.Signal.Source = "replay" }},
		{"port", func(c *Config) { c.API.Port = 70000 }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, backtest.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestMetricsOptions(t *testing.T) {
	cfg := Default()
	opts := cfg.Metrics.Options(cfg.Backtest.InitialCapital)
	if opts.InitialCapital != 10000 || opts.Annualization != 252 {
		t.Errorf("Options: got %+v", opts)
	}
}

func TestSignalNewSource(t *testing.T) {
	cfg := Default()
	src, err := cfg.Signal.NewSource()
	if err != nil || src.Name() != "sma_cross" {
		t.Fatalf("default source: %v, %v", src, err)
	}

	cfg.Signal.Source = "replay"
	if _, err := cfg.Signal.NewSource(); !errors.Is(err, backtest.ErrInvalidConfig) {
		t.Errorf("replay without file: got %v", err)
	}

	path := filepath.Join(t.TempDir(), "proposals.json")
	if err := os.WriteFile(path, []byte(`[]`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Signal.ReplayFile = path
	src, err = cfg.Signal.NewSource()
	if err != nil || src.Name() != "replay" {
		t.Errorf("replay source: %v, %v", src, err)
	}
}
