// Package journal persists finished backtest runs — the summary row, the
// trade log and the equity curve — so results survive the process and can be
// compared across runs.
package journal

import (
	"strings"
	"time"

	"github.com/quantfold/backtest/engine"
)

// RunRecord is the summary row for one completed run.
type RunRecord struct {
	RunID          string
	Created        time.Time
	Strategy       string
	Policy         string
	Symbols        string // comma-joined
	Start          time.Time
	End            time.Time
	InitialCapital float64
	FinalCapital   float64
	TotalReturn    float64
	MaxDrawdown    float64
	SharpeRatio    float64
	WinRate        float64
	Trades         int
}

// Journal records finished runs. Implementations: SQLite and CSV.
type Journal interface {
	RecordRun(run RunRecord) error
	RecordTrade(runID string, t engine.Trade) error
	RecordEquity(runID string, p engine.EquityPoint) error
	Close() error
}

// SaveResult writes the full result under its run id: one run row, every
// trade, every equity point.
func SaveResult(j Journal, res *engine.Result) error {
	rep := res.Report

	if err := j.RecordRun(RunRecord{
		RunID:          res.RunID,
		Created:        time.Now().UTC(),
		Strategy:       res.Strategy,
		Policy:         res.Policy,
		Symbols:        strings.Join(res.Symbols, ","),
		Start:          res.Start,
		End:            res.End,
		InitialCapital: rep.InitialCapital,
		FinalCapital:   rep.FinalCapital,
		TotalReturn:    rep.TotalReturn,
		MaxDrawdown:    rep.MaxDrawdown,
		SharpeRatio:    rep.SharpeRatio,
		WinRate:        rep.WinRate,
		Trades:         len(res.Trades),
	}); err != nil {
		return err
	}

	for _, t := range res.Trades {
		if err := j.RecordTrade(res.RunID, t); err != nil {
			return err
		}
	}
	for _, p := range res.Equity {
		if err := j.RecordEquity(res.RunID, p); err != nil {
			return err
		}
	}
	return nil
}
