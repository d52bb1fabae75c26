package engine

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/quantfold/backtest/metrics"
	"github.com/quantfold/backtest/signal"
)

// Trade is one executed order. Records are append-only and never mutated
// after creation.
type Trade struct {
	Time       time.Time     `json:"time"`
	Symbol     string        `json:"symbol"`
	Action     signal.Action `json:"-"`
	ActionName string        `json:"action"`
	Quantity   float64       `json:"quantity"`
	Price      float64       `json:"price"`
	Commission float64       `json:"commission"`
	Slippage   float64       `json:"slippage"`
	Confidence float64       `json:"confidence"`

	// CapitalAfter is the portfolio value after the trade settled. It is
	// never negative.
	CapitalAfter float64 `json:"capital_after"`

	// RealizedPL is set only on position-closing trades.
	RealizedPL *float64 `json:"realized_pl,omitempty"`
}

// EquityPoint is one mark-to-market capital observation, appended once per
// replayed bar timestamp.
type EquityPoint struct {
	Time      time.Time `json:"time"`
	Capital   float64   `json:"capital"`
	CumReturn float64   `json:"cum_return"`
}

// Result is the read-only artifact of a completed run.
type Result struct {
	RunID    string    `json:"run_id"`
	Strategy string    `json:"strategy"`
	Policy   string    `json:"policy"`
	Symbols  []string  `json:"symbols"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`

	Report metrics.Report `json:"report"`

	Trades []Trade       `json:"trades"`
	Equity []EquityPoint `json:"equity"`

	// Warnings collects per-symbol, per-cycle soft failures (short training
	// data, missing history) that did not stop the run.
	Warnings []string `json:"warnings,omitempty"`

	// Rejections counts dropped signals by admission/ledger failure reason.
	Rejections map[string]int `json:"rejections,omitempty"`

	Cycles int `json:"cycles"`
}

// Print writes a human-readable report.
func (r *Result) Print(w io.Writer) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")

	if r.RunID != "" {
		fmt.Fprintf(w, "Run ID:        %s\n", r.RunID)
	}
	fmt.Fprintf(w, "Strategy:      %s\n", r.Strategy)
	fmt.Fprintf(w, "Policy:        %s\n", r.Policy)
	fmt.Fprintf(w, "Symbols:       %v\n", r.Symbols)
	fmt.Fprintf(w, "Start:         %s\n", r.Start.Format(time.RFC3339))
	fmt.Fprintf(w, "End:           %s\n", r.End.Format(time.RFC3339))
	fmt.Fprintf(w, "Cycles:        %d\n", r.Cycles)

	rep := r.Report
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Initial:       %.2f\n", rep.InitialCapital)
	fmt.Fprintf(w, "Final:         %.2f\n", rep.FinalCapital)
	fmt.Fprintf(w, "Return:        %.2f%%\n", rep.TotalReturn*100)
	fmt.Fprintf(w, "Annualized:    %.2f%%\n", rep.AnnualizedReturn*100)
	fmt.Fprintf(w, "Volatility:    %.2f%%\n", rep.Volatility*100)
	fmt.Fprintf(w, "Sharpe:        %.2f\n", rep.SharpeRatio)
	fmt.Fprintf(w, "Sortino:       %.2f\n", rep.SortinoRatio)
	fmt.Fprintf(w, "Max Drawdown:  %.2f%%\n", rep.MaxDrawdown*100)
	fmt.Fprintf(w, "Calmar:        %.2f\n", rep.CalmarRatio)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trades")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Executed:      %d\n", len(r.Trades))
	fmt.Fprintf(w, "Closed:        %d\n", rep.ClosedTrades)
	fmt.Fprintf(w, "Wins:          %d\n", rep.WinningTrades)
	fmt.Fprintf(w, "Losses:        %d\n", rep.LosingTrades)
	fmt.Fprintf(w, "Win Rate:      %.2f%%\n", rep.WinRate*100)
	if rep.ProfitFactor > 0 {
		fmt.Fprintf(w, "Profit Factor: %.2f\n", rep.ProfitFactor)
	}

	if len(r.Rejections) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Rejected Signals")
		fmt.Fprintln(w, "--------------------------------------------------")
		reasons := make([]string, 0, len(r.Rejections))
		for reason := range r.Rejections {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Fprintf(w, "%-24s %d\n", reason, r.Rejections[reason])
		}
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Warnings")
		fmt.Fprintln(w, "--------------------------------------------------")
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "- %s\n", warn)
		}
	}

	fmt.Fprintln(w)
}
