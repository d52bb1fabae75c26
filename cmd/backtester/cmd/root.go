package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "backtester",
	Short: "Walk-forward backtesting engine for ML-assisted trading strategies",
	Long: `Backtester replays historical price series chronologically, periodically
retraining a predictive model, combining model and indicator evidence into
trading signals, simulating execution with transaction costs and risk
limits, and reporting risk-adjusted performance statistics.

Commands:
  run       execute a backtest from a config file and CSV bar data
  init      write a default config file
  version   print the build version`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}
