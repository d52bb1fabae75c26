package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quantfold/backtest/config"
	"github.com/quantfold/backtest/engine"
	"github.com/quantfold/backtest/guard"
	"github.com/quantfold/backtest/indicator"
	"github.com/quantfold/backtest/journal"
	"github.com/quantfold/backtest/market"
	"github.com/quantfold/backtest/model"
	"github.com/quantfold/backtest/pkg/id"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a backtest from a config file and CSV bar data",
	Long: `Run loads one CSV bar file per symbol from the data directory
(SYMBOL.csv, columns time,open,high,low,close[,volume]), assembles the
momentum model and EMA-cross evaluator, replays the configured date range
and prints the result.

Example:
  backtester run --config backtest.yaml --data ./data --symbols AAPL,MSFT`,
	RunE: runBacktest,
}

var (
	runConfigPath string
	runDataDir    string
	runSymbols    []string
	runFundID     string
	runFast       int
	runSlow       int
	runLookback   int
	runVerbose    bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "path to YAML/JSON config (required)")
	runCmd.Flags().StringVarP(&runDataDir, "data", "d", ".", "directory containing SYMBOL.csv bar files")
	runCmd.Flags().StringSliceVarP(&runSymbols, "symbols", "s", nil, "symbols to trade (default: every CSV in the data dir)")
	runCmd.Flags().StringVar(&runFundID, "fund", "default", "fund id for the trader registry")
	runCmd.Flags().IntVar(&runFast, "fast", 12, "ema-cross: fast period")
	runCmd.Flags().IntVar(&runSlow, "slow", 26, "ema-cross: slow period")
	runCmd.Flags().IntVar(&runLookback, "lookback", 10, "momentum model: trailing-return lookback")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "debug logging")

	runCmd.MarkFlagRequired("config")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	logger, err := buildLogger(runVerbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return err
	}

	ec, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	symbols := runSymbols
	if len(symbols) == 0 {
		symbols, err = discoverSymbols(runDataDir)
		if err != nil {
			return err
		}
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols: pass --symbols or put SYMBOL.csv files in %s", runDataDir)
	}

	provider := market.NewMemoryProvider()
	for _, sym := range symbols {
		path := filepath.Join(runDataDir, sym+".csv")
		series, err := market.LoadCSV(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		provider.Add(sym, series)
	}

	// The registry owns the per-fund trader assembly; the engine only
	// borrows it for this run.
	registry := engine.NewRegistry()
	registry.Put(runFundID, &engine.Trader{
		Generator: cfg.Generator(),
		Guard:     guard.New(cfg.GuardConfig()),
	})
	trader, _ := registry.Get(runFundID)

	eng, err := engine.New(ec, engine.Collaborators{
		Data:      provider,
		Models:    model.NewMomentum(runLookback),
		Indicator: indicator.NewEMACross(runFast, runSlow),
		Generator: trader.Generator,
		Guard:     trader.Guard,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	logger.Info("starting backtest",
		zap.Strings("symbols", symbols),
		zap.String("policy", ec.Policy.String()),
		zap.String("strategy", cfg.Signal.Strategy))

	res, err := eng.Run(context.Background(), symbols)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	res.RunID = id.New()

	res.Print(os.Stdout)

	return journalResult(cfg, res, logger)
}

func journalResult(cfg *config.Config, res *engine.Result, logger *zap.Logger) error {
	var (
		j   journal.Journal
		err error
	)
	switch strings.ToLower(cfg.Journal.Type) {
	case "sqlite":
		j, err = journal.NewSQLite(cfg.Journal.DBPath)
	case "csv":
		j, err = journal.NewCSV(cfg.Journal.TradesFile, cfg.Journal.EquityFile)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	if err := journal.SaveResult(j, res); err != nil {
		return fmt.Errorf("journal run: %w", err)
	}
	logger.Info("run journaled", zap.String("run_id", res.RunID))
	return nil
}

func discoverSymbols(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".csv"))
	}
	return out, nil
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
