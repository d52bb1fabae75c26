package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantfold/backtest/config"
)

var initOutput string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Init writes a starter configuration. Fill in backtest.start and
backtest.end before running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()
		if err := cfg.SaveToFile(initOutput); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", initOutput)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "backtest.yaml", "output path (.yaml, .yml or .json)")
}
