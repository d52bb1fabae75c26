// Package metrics derives risk-adjusted performance statistics from a
// finished run's equity curve and realized trade outcomes. Every degenerate
// denominator resolves to 0, never NaN or Inf, so a zero-trade run still
// yields a well-formed report.
package metrics

import (
	"math"
	"time"
)

const periodsPerYear = 252

// Point is one equity observation.
type Point struct {
	Time    time.Time
	Capital float64
}

// Inputs are the raw materials for a report.
type Inputs struct {
	InitialCapital float64
	Equity         []Point
	// Realized holds the realized P&L of each closing trade in order.
	Realized []float64
}

// Report is the full set of summary statistics for one run.
type Report struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	CalmarRatio      float64 `json:"calmar_ratio"`

	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`

	ClosedTrades  int `json:"closed_trades"`
	WinningTrades int `json:"winning_trades"`
	LosingTrades  int `json:"losing_trades"`

	InitialCapital float64 `json:"initial_capital"`
	FinalCapital   float64 `json:"final_capital"`
}

// Calculator computes reports. RiskFreeRate is annualized.
type Calculator struct {
	RiskFreeRate float64
}

// Summarize derives the full report in a single pass over the equity curve.
func (c Calculator) Summarize(in Inputs) Report {
	r := Report{
		InitialCapital: in.InitialCapital,
		FinalCapital:   in.InitialCapital,
	}

	if len(in.Equity) > 0 {
		r.FinalCapital = in.Equity[len(in.Equity)-1].Capital
	}

	if in.InitialCapital > 0 {
		r.TotalReturn = (r.FinalCapital - in.InitialCapital) / in.InitialCapital
	}

	r.AnnualizedReturn = annualize(r.TotalReturn, in.InitialCapital, in.Equity)

	returns := periodReturns(in.Equity)
	r.Volatility = stdev(returns) * math.Sqrt(periodsPerYear)
	if r.Volatility > 0 {
		r.SharpeRatio = (r.AnnualizedReturn - c.RiskFreeRate) / r.Volatility
	}

	downside := downsideDeviation(returns) * math.Sqrt(periodsPerYear)
	if downside > 0 {
		r.SortinoRatio = (r.AnnualizedReturn - c.RiskFreeRate) / downside
	}

	var dd Drawdown
	for _, p := range in.Equity {
		dd.Update(p.Capital)
	}
	r.MaxDrawdown = dd.Max()
	if r.MaxDrawdown > 0 {
		r.CalmarRatio = r.AnnualizedReturn / r.MaxDrawdown
	}

	c.tradeStats(&r, in.Realized)
	return r
}

// tradeStats classifies wins and losses strictly by realized P&L sign.
func (c Calculator) tradeStats(r *Report, realized []float64) {
	var grossWin, grossLoss float64

	r.ClosedTrades = len(realized)
	for _, pl := range realized {
		switch {
		case pl > 0:
			r.WinningTrades++
			grossWin += pl
		case pl < 0:
			r.LosingTrades++
			grossLoss += -pl
		}
	}

	if r.ClosedTrades > 0 {
		r.WinRate = float64(r.WinningTrades) / float64(r.ClosedTrades)
	}
	if grossLoss > 0 {
		r.ProfitFactor = grossWin / grossLoss
	}
	if r.WinningTrades > 0 {
		r.AvgWin = grossWin / float64(r.WinningTrades)
	}
	if r.LosingTrades > 0 {
		r.AvgLoss = grossLoss / float64(r.LosingTrades)
	}
}

// annualize compounds the total return over the equity span:
// (1+tr)^(365.25/days) - 1, with 0 for empty spans or non-positive capital.
func annualize(totalReturn, initial float64, equity []Point) float64 {
	if initial <= 0 || len(equity) < 2 {
		return 0
	}
	days := equity[len(equity)-1].Time.Sub(equity[0].Time).Hours() / 24
	if days <= 0 {
		return 0
	}
	base := 1 + totalReturn
	if base <= 0 {
		return -1
	}
	return math.Pow(base, 365.25/days) - 1
}

func periodReturns(equity []Point) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Capital
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, equity[i].Capital/prev-1)
	}
	return out
}

// stdev is the sample standard deviation; fewer than two samples yield 0.
func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	sum := 0.0
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

// downsideDeviation is the sample standard deviation of negative returns.
func downsideDeviation(xs []float64) float64 {
	var neg []float64
	for _, x := range xs {
		if x < 0 {
			neg = append(neg, x)
		}
	}
	return stdev(neg)
}
