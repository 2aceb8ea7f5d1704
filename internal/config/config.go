// Package config handles configuration loading for signalsim.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/seenimoa/signalsim/internal/backtest"
	"github.com/seenimoa/signalsim/internal/metrics"
	"github.com/seenimoa/signalsim/internal/series"
	"github.com/seenimoa/signalsim/internal/signal"
	"github.com/seenimoa/signalsim/pkg/models"
)

// EnvPrefix is the prefix of environment overrides, e.g. SIGNALSIM_BACKTEST_FEE_RATE.
const EnvPrefix = "SIGNALSIM"

// Config represents the complete application configuration.
type Config struct {
	Backtest BacktestConfig `mapstructure:"backtest" yaml:"backtest"`
	Metrics  MetricsConfig  `mapstructure:"metrics"  yaml:"metrics"`
	Data     DataConfig     `mapstructure:"data"     yaml:"data"`
	Signal   SignalConfig   `mapstructure:"signal"   yaml:"signal"`
	API      APIConfig      `mapstructure:"api"      yaml:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`

	v *viper.Viper
}

// BacktestConfig holds engine parameters.
type BacktestConfig struct {
	Interval         string            `mapstructure:"interval"           yaml:"interval"` // e.g. "1h"
	MaxEntryBars     int               `mapstructure:"max_entry_bars"     yaml:"max_entry_bars"`
	FeeRate          float64           `mapstructure:"fee_rate"           yaml:"fee_rate"`
	SlippageBase     float64           `mapstructure:"slippage_base"      yaml:"slippage_base"`
	SlippageRange    float64           `mapstructure:"slippage_range"     yaml:"slippage_range"`
	PositionSize     float64           `mapstructure:"position_size"      yaml:"position_size"`
	InitialCapital   float64           `mapstructure:"initial_capital"    yaml:"initial_capital"`
	MaxHoldingHours  float64           `mapstructure:"max_holding_hours"  yaml:"max_holding_hours"`
	CooldownHours    float64           `mapstructure:"cooldown_hours"     yaml:"cooldown_hours"`
	AntiJitter       bool              `mapstructure:"anti_jitter"        yaml:"anti_jitter"`
	MaxOpenPositions int               `mapstructure:"max_open_positions" yaml:"max_open_positions"` // 0 = unlimited
	LookbackBars     int               `mapstructure:"lookback_bars"      yaml:"lookback_bars"`
	Seed             int64             `mapstructure:"seed"               yaml:"seed"`
	ExitLabels       map[string]string `mapstructure:"exit_labels"        yaml:"exit_labels"` // exit reason → display label
}

// MetricsConfig holds report settings.
type MetricsConfig struct {
	PnLBins       []float64 `mapstructure:"pnl_bins"      yaml:"pnl_bins"`
	HoldingBins   []float64 `mapstructure:"holding_bins"  yaml:"holding_bins"`
	Annualization float64   `mapstructure:"annualization" yaml:"annualization"`
}

// DataConfig locates the pre-fetched series.
type DataConfig struct {
	Dir              string   `mapstructure:"dir"               yaml:"dir"`
	Format           string   `mapstructure:"format"            yaml:"format"` // "csv" or "json"
	Symbols          []string `mapstructure:"symbols"           yaml:"symbols"`
	ReferenceSymbol  string   `mapstructure:"reference_symbol"  yaml:"reference_symbol"`
	FetchConcurrency int      `mapstructure:"fetch_concurrency" yaml:"fetch_concurrency"`
}

// SignalConfig selects and tunes the signal source.
type SignalConfig struct {
	Source     string        `mapstructure:"source"      yaml:"source"` // "sma_cross", "breakout", "rsi_reversion", "macd_cross" or "replay"
	Params     signal.Params `mapstructure:"params"      yaml:"params"`
	ReplayFile string        `mapstructure:"replay_file" yaml:"replay_file"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	CacheTTL    int      `mapstructure:"cache_ttl"    yaml:"cache_ttl"` // seconds a finished run stays queryable
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.signalsim/config.yaml (home directory)
//  3. /etc/signalsim/config.yaml (system)
//
// Environment variables override config file values.
// Format: SIGNALSIM_<SECTION>_<KEY>, e.g., SIGNALSIM_BACKTEST_FEE_RATE
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".signalsim"))
	v.AddConfigPath("/etc/signalsim")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

// Default returns the built-in defaults with environment overrides applied.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		// defaults always decode
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.v = v
	return &cfg, nil
}

// File returns the config file in use, or "" when running on defaults.
func (c *Config) File() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	eng := backtest.DefaultConfig()
	v.SetDefault("backtest.interval", "1h")
	v.SetDefault("backtest.max_entry_bars", eng.MaxEntryBars)
	v.SetDefault("backtest.fee_rate", eng.FeeRate)
	v.SetDefault("backtest.slippage_base", eng.SlippageBase)
	v.SetDefault("backtest.slippage_range", eng.SlippageRange)
	v.SetDefault("backtest.position_size", eng.PositionSize)
	v.SetDefault("backtest.initial_capital", eng.InitialCapital)
	v.SetDefault("backtest.max_holding_hours", eng.MaxHoldingHours)
	v.SetDefault("backtest.cooldown_hours", eng.CooldownHours)
	v.SetDefault("backtest.anti_jitter", eng.AntiJitter)
	v.SetDefault("backtest.max_open_positions", eng.MaxOpenPositions)
	v.SetDefault("backtest.lookback_bars", eng.LookbackBars)
	v.SetDefault("backtest.seed", eng.Seed)
	labels := make(map[string]string, len(eng.ExitLabels))
	for reason, label := range eng.ExitLabels {
		labels[string(reason)] = label
	}
	v.SetDefault("backtest.exit_labels", labels)

	m := metrics.DefaultOptions()
	v.SetDefault("metrics.pnl_bins", m.PnLBins)
	v.SetDefault("metrics.holding_bins", m.HoldingBins)
	v.SetDefault("metrics.annualization", m.Annualization)

	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.format", string(series.FormatCSV))
	v.SetDefault("data.symbols", []string{})
	v.SetDefault("data.reference_symbol", "BTCUSDT")
	v.SetDefault("data.fetch_concurrency", 4)

	p := signal.DefaultParams()
	v.SetDefault("signal.source", "sma_cross")
	v.SetDefault("signal.params.fast_period", p.FastPeriod)
	v.SetDefault("signal.params.slow_period", p.SlowPeriod)
	v.SetDefault("signal.params.channel", p.Channel)
	v.SetDefault("signal.params.atr_period", p.ATRPeriod)
	v.SetDefault("signal.params.atr_mult", p.ATRMult)
	v.SetDefault("signal.params.reward1", p.Reward1)
	v.SetDefault("signal.params.reward2", p.Reward2)
	v.SetDefault("signal.params.long_only", p.LongOnly)
	v.SetDefault("signal.params.rsi_period", p.RSIPeriod)
	v.SetDefault("signal.params.oversold", p.Oversold)
	v.SetDefault("signal.params.overbought", p.Overbought)
	v.SetDefault("signal.params.macd_fast", p.MACDFast)
	v.SetDefault("signal.params.macd_slow", p.MACDSlow)
	v.SetDefault("signal.params.macd_signal", p.MACDSignal)
	v.SetDefault("signal.replay_file", "")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.cache_ttl", 3600)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// ════════════════════════════════════════════════════════════════════
// Conversion and validation
// ════════════════════════════════════════════════════════════════════

// Engine converts the backtest section to an engine configuration.
func (b BacktestConfig) Engine() backtest.Config {
	labels := backtest.DefaultExitLabels()
	for reason, label := range b.ExitLabels {
		labels[models.ExitReason(strings.ToLower(reason))] = label
	}
	return backtest.Config{
		MaxEntryBars:     b.MaxEntryBars,
		FeeRate:          b.FeeRate,
		SlippageBase:     b.SlippageBase,
		SlippageRange:    b.SlippageRange,
		PositionSize:     b.PositionSize,
		InitialCapital:   b.InitialCapital,
		MaxHoldingHours:  b.MaxHoldingHours,
		CooldownHours:    b.CooldownHours,
		AntiJitter:       b.AntiJitter,
		MaxOpenPositions: b.MaxOpenPositions,
		LookbackBars:     b.LookbackBars,
		Seed:             b.Seed,
		ExitLabels:       labels,
	}
}

// Step parses the bar interval.
func (b BacktestConfig) Step() (time.Duration, error) {
	return series.ParseInterval(b.Interval)
}

// Options converts the metrics section; capital seeds the fallback equity curve.
func (m MetricsConfig) Options(capital float64) metrics.Options {
	return metrics.Options{
		PnLBins:        m.PnLBins,
		HoldingBins:    m.HoldingBins,
		Annualization:  m.Annualization,
		InitialCapital: capital,
	}
}

// NewSource builds the configured signal source. The replay source reads
// ReplayFile eagerly so a bad file fails before any data is loaded.
func (s SignalConfig) NewSource() (signal.Source, error) {
	if strings.EqualFold(s.Source, "replay") {
		if s.ReplayFile == "" {
			return nil, fmt.Errorf("%w: signal.replay_file is required for the replay source", backtest.ErrInvalidConfig)
		}
		return signal.LoadReplay(s.ReplayFile)
	}
	return signal.New(s.Source, s.Params)
}

// Addr returns host:port.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Validate rejects configurations that cannot run. Errors wrap
// backtest.ErrInvalidConfig.
func (c *Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", backtest.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if _, err := c.Backtest.Step(); err != nil {
		return bad("backtest.interval: %v", err)
	}
	for reason := range c.Backtest.ExitLabels {
		if !knownReason(reason) {
			return bad("backtest.exit_labels: unknown exit reason %q", reason)
		}
	}
	if err := c.Backtest.Engine().Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Options(c.Backtest.InitialCapital).Validate(); err != nil {
		return bad("metrics: %v", err)
	}

	switch series.Format(c.Data.Format) {
	case series.FormatCSV, series.FormatJSON:
	default:
		return bad("data.format must be csv or json, got %q", c.Data.Format)
	}
	if c.Data.FetchConcurrency < 0 {
		return bad("data.fetch_concurrency must be >= 0")
	}

	switch strings.ToLower(c.Signal.Source) {
	case "sma_cross", "sma", "breakout", "donchian", "rsi_reversion", "rsi", "macd_cross", "macd":
	case "replay":
		if c.Signal.ReplayFile == "" {
			return bad("signal.replay_file is required for the replay source")
		}
	default:
		return bad("unknown signal.source %q", c.Signal.Source)
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		return bad("api.port out of range: %d", c.API.Port)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return bad("logging.level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return bad("logging.format %q", c.Logging.Format)
	}
	return nil
}

func knownReason(s string) bool {
	for _, r := range models.ExitReasons {
		if strings.EqualFold(string(r), s) {
			return true
		}
	}
	return false
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
