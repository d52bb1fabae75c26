package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/quantfold/backtest/engine"
)

// CSV journals trades and equity to two flat files. Run summary rows are not
// written; use the SQLite journal when queries matter.
type CSV struct {
	trades *csv.Writer
	equity *csv.Writer
	tf, ef *os.File
}

func NewCSV(tradesPath, equityPath string) (*CSV, error) {
	tf, err := os.Create(tradesPath)
	if err != nil {
		return nil, err
	}
	ef, err := os.Create(equityPath)
	if err != nil {
		tf.Close()
		return nil, err
	}

	tw := csv.NewWriter(tf)
	ew := csv.NewWriter(ef)

	if err := tw.Write([]string{"run_id", "time", "symbol", "action", "quantity", "price", "commission", "slippage", "confidence", "capital_after", "realized_pl"}); err != nil {
		return nil, err
	}
	if err := ew.Write([]string{"run_id", "time", "capital", "cum_return"}); err != nil {
		return nil, err
	}

	tw.Flush()
	if err := tw.Error(); err != nil {
		return nil, err
	}
	ew.Flush()
	if err := ew.Error(); err != nil {
		return nil, err
	}

	return &CSV{trades: tw, equity: ew, tf: tf, ef: ef}, nil
}

func (j *CSV) RecordRun(RunRecord) error { return nil }

func (j *CSV) RecordTrade(runID string, t engine.Trade) error {
	pl := ""
	if t.RealizedPL != nil {
		pl = f(*t.RealizedPL)
	}
	err := j.trades.Write([]string{
		runID,
		t.Time.Format(time.RFC3339),
		t.Symbol,
		t.Action.String(),
		f(t.Quantity),
		f(t.Price),
		f(t.Commission),
		f(t.Slippage),
		f(t.Confidence),
		f(t.CapitalAfter),
		pl,
	})
	if err != nil {
		return err
	}
	j.trades.Flush()
	return j.trades.Error()
}

func (j *CSV) RecordEquity(runID string, p engine.EquityPoint) error {
	err := j.equity.Write([]string{
		runID,
		p.Time.Format(time.RFC3339),
		f(p.Capital),
		f(p.CumReturn),
	})
	if err != nil {
		return err
	}
	j.equity.Flush()
	return j.equity.Error()
}

func (j *CSV) Close() error {
	j.trades.Flush()
	if err := j.trades.Error(); err != nil {
		return err
	}
	j.equity.Flush()
	if err := j.equity.Error(); err != nil {
		return err
	}
	if err := j.tf.Close(); err != nil {
		return err
	}
	return j.ef.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
