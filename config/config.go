// Package config loads and validates run configuration from YAML or JSON
// files and maps it onto the engine, signal and guard parameter structs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantfold/backtest/engine"
	"github.com/quantfold/backtest/guard"
	"github.com/quantfold/backtest/signal"
)

const dateLayout = "2006-01-02"

// Config is the complete run configuration.
type Config struct {
	Backtest BacktestConfig `json:"backtest" yaml:"backtest"`
	Signal   SignalConfig   `json:"signal" yaml:"signal"`
	Guard    GuardConfig    `json:"guard" yaml:"guard"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
}

// BacktestConfig mirrors engine.Config with file-friendly field types.
type BacktestConfig struct {
	Start               string  `json:"start" yaml:"start"` // 2006-01-02
	End                 string  `json:"end" yaml:"end"`
	InitialCapital      float64 `json:"initial_capital" yaml:"initial_capital"`
	CommissionRate      float64 `json:"commission_rate" yaml:"commission_rate"`
	SlippageRate        float64 `json:"slippage_rate" yaml:"slippage_rate"`
	WindowPolicy        string  `json:"window_policy" yaml:"window_policy"`
	TrainWindowDays     int     `json:"train_window_days" yaml:"train_window_days"`
	TestWindowDays      int     `json:"test_window_days" yaml:"test_window_days"`
	RetrainIntervalDays int     `json:"retrain_interval_days" yaml:"retrain_interval_days"`
	MinTrainBars        int     `json:"min_train_bars,omitempty" yaml:"min_train_bars,omitempty"`
	MinPredictBars      int     `json:"min_predict_bars,omitempty" yaml:"min_predict_bars,omitempty"`
	PositionPct         float64 `json:"position_pct,omitempty" yaml:"position_pct,omitempty"`
	TrainWorkers        int     `json:"train_workers,omitempty" yaml:"train_workers,omitempty"`
	RiskFreeRate        float64 `json:"risk_free_rate,omitempty" yaml:"risk_free_rate,omitempty"`
}

// SignalConfig selects the combination strategy and its thresholds.
type SignalConfig struct {
	Strategy        string  `json:"strategy" yaml:"strategy"`
	MinConfidence   float64 `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`
	ReturnThreshold float64 `json:"return_threshold,omitempty" yaml:"return_threshold,omitempty"`
}

// GuardConfig holds the execution limits.
type GuardConfig struct {
	CooldownMinutes int     `json:"cooldown_minutes,omitempty" yaml:"cooldown_minutes,omitempty"`
	MaxDailyTrades  int     `json:"max_daily_trades,omitempty" yaml:"max_daily_trades,omitempty"`
	MaxPositionPct  float64 `json:"max_position_pct,omitempty" yaml:"max_position_pct,omitempty"`
}

// JournalConfig selects where finished runs are persisted. An empty Type
// disables journaling.
type JournalConfig struct {
	Type       string `json:"type,omitempty" yaml:"type,omitempty"` // "sqlite", "csv" or ""
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	TradesFile string `json:"trades_file,omitempty" yaml:"trades_file,omitempty"`
	EquityFile string `json:"equity_file,omitempty" yaml:"equity_file,omitempty"`
}

// LoadFromFile loads configuration from a YAML or JSON file, falling back to
// JSON when YAML parsing fails, then validates it.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks every fatal configuration error before a run starts.
func (c *Config) Validate() error {
	if _, err := c.EngineConfig(); err != nil {
		return err
	}
	if _, err := signal.ParseStrategy(c.Signal.Strategy); err != nil {
		return err
	}
	if c.Signal.MinConfidence < 0 || c.Signal.MinConfidence > 1 {
		return fmt.Errorf("signal.min_confidence must be in [0, 1], got %f", c.Signal.MinConfidence)
	}
	if c.Guard.CooldownMinutes < 0 {
		return fmt.Errorf("guard.cooldown_minutes must not be negative, got %d", c.Guard.CooldownMinutes)
	}
	if c.Guard.MaxDailyTrades < 0 {
		return fmt.Errorf("guard.max_daily_trades must not be negative, got %d", c.Guard.MaxDailyTrades)
	}

	switch strings.ToLower(c.Journal.Type) {
	case "", "none":
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal.db_path required for sqlite journal")
		}
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.EquityFile == "" {
			return fmt.Errorf("journal.trades_file and journal.equity_file required for csv journal")
		}
	default:
		return fmt.Errorf("journal.type must be sqlite, csv or empty, got %q", c.Journal.Type)
	}
	return nil
}

// EngineConfig converts the file representation into engine.Config and
// validates it.
func (c *Config) EngineConfig() (engine.Config, error) {
	start, err := time.Parse(dateLayout, c.Backtest.Start)
	if err != nil {
		return engine.Config{}, fmt.Errorf("backtest.start: %w", err)
	}
	end, err := time.Parse(dateLayout, c.Backtest.End)
	if err != nil {
		return engine.Config{}, fmt.Errorf("backtest.end: %w", err)
	}
	policy, err := engine.ParseWindowPolicy(c.Backtest.WindowPolicy)
	if err != nil {
		return engine.Config{}, fmt.Errorf("backtest.window_policy: %w", err)
	}

	ec := engine.Config{
		Start:          start,
		End:            end,
		InitialCapital: c.Backtest.InitialCapital,
		CommissionRate: c.Backtest.CommissionRate,
		SlippageRate:   c.Backtest.SlippageRate,
		Policy:         policy,
		TrainDays:      c.Backtest.TrainWindowDays,
		TestDays:       c.Backtest.TestWindowDays,
		RetrainDays:    c.Backtest.RetrainIntervalDays,
		MinTrainBars:   c.Backtest.MinTrainBars,
		MinPredictBars: c.Backtest.MinPredictBars,
		PositionPct:    c.Backtest.PositionPct,
		MaxPositionPct: c.Guard.MaxPositionPct,
		TrainWorkers:   c.Backtest.TrainWorkers,
		RiskFreeRate:   c.Backtest.RiskFreeRate,
	}
	if err := ec.Validate(); err != nil {
		return engine.Config{}, err
	}
	return ec, nil
}

// Generator builds the signal generator from the file config. Call Validate
// first; an unknown strategy falls back to Combined here.
func (c *Config) Generator() *signal.Generator {
	strat, err := signal.ParseStrategy(c.Signal.Strategy)
	if err != nil {
		strat = signal.Combined
	}
	return signal.NewGenerator(strat, c.Signal.MinConfidence, c.Signal.ReturnThreshold)
}

// GuardConfig maps the file config onto guard.Config.
func (c *Config) GuardConfig() guard.Config {
	return guard.Config{
		Cooldown:       time.Duration(c.Guard.CooldownMinutes) * time.Minute,
		MaxDailyTrades: c.Guard.MaxDailyTrades,
		MaxPositionPct: c.Guard.MaxPositionPct,
	}
}

// SaveToFile writes the configuration as YAML (.yaml/.yml) or JSON.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Default returns a configuration with sensible defaults. Start and end are
// left empty; they are required per run.
func Default() *Config {
	return &Config{
		Backtest: BacktestConfig{
			InitialCapital:      100_000,
			CommissionRate:      0.001,
			SlippageRate:        0.0005,
			WindowPolicy:        "walk_forward",
			TrainWindowDays:     180,
			TestWindowDays:      30,
			RetrainIntervalDays: 30,
			PositionPct:         0.10,
			TrainWorkers:        1,
			RiskFreeRate:        0.02,
		},
		Signal: SignalConfig{
			Strategy:        "combined",
			MinConfidence:   0.6,
			ReturnThreshold: 0.02,
		},
		Guard: GuardConfig{
			CooldownMinutes: 30,
			MaxDailyTrades:  10,
			MaxPositionPct:  0.10,
		},
	}
}
