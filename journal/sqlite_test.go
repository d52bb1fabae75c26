package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantfold/backtest/engine"
	"github.com/quantfold/backtest/metrics"
	"github.com/quantfold/backtest/signal"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()

	j, err := NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func sampleRun(id string) RunRecord {
	return RunRecord{
		RunID:          id,
		Created:        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Strategy:       "combined",
		Policy:         "walk_forward",
		Symbols:        "AAA,BBB",
		Start:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:            time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		InitialCapital: 100_000,
		FinalCapital:   103_500,
		TotalReturn:    0.035,
		MaxDrawdown:    0.012,
		SharpeRatio:    1.4,
		WinRate:        0.6,
		Trades:         12,
	}
}

func TestSQLiteRunRoundTrip(t *testing.T) {
	t.Parallel()

	j := newTestSQLite(t)

	want := sampleRun("run-1")
	assert.NoError(t, j.RecordRun(want))

	got, err := j.GetRun("run-1")
	assert.NoError(t, err)

	assert.Equal(t, want.RunID, got.RunID)
	assert.Equal(t, want.Strategy, got.Strategy)
	assert.Equal(t, want.Symbols, got.Symbols)
	assert.True(t, got.Start.Equal(want.Start))
	assert.True(t, got.End.Equal(want.End))
	assert.InDelta(t, want.TotalReturn, got.TotalReturn, 1e-9)
	assert.Equal(t, want.Trades, got.Trades)
}

func TestSQLiteGetRunMissing(t *testing.T) {
	t.Parallel()

	j := newTestSQLite(t)
	_, err := j.GetRun("ghost")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteTradeRoundTrip(t *testing.T) {
	t.Parallel()

	j := newTestSQLite(t)

	at := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	pl := 42.5

	open := engine.Trade{
		Time:         at,
		Symbol:       "AAA",
		Action:       signal.Buy,
		Quantity:     100,
		Price:        99.5,
		Commission:   9.95,
		Slippage:     4.97,
		Confidence:   0.8,
		CapitalAfter: 99_985,
	}
	closing := engine.Trade{
		Time:         at.Add(24 * time.Hour),
		Symbol:       "AAA",
		Action:       signal.Sell,
		Quantity:     100,
		Price:        100.1,
		Confidence:   0.7,
		CapitalAfter: 100_020,
		RealizedPL:   &pl,
	}

	assert.NoError(t, j.RecordTrade("run-1", open))
	assert.NoError(t, j.RecordTrade("run-1", closing))
	assert.NoError(t, j.RecordTrade("run-2", engine.Trade{Time: at, Symbol: "ZZZ", Action: signal.Close}))

	got, err := j.ListTradesByRun("run-1")
	assert.NoError(t, err)
	assert.Len(t, got, 2)

	assert.Equal(t, signal.Buy, got[0].Action)
	assert.Equal(t, "BUY", got[0].ActionName)
	assert.Nil(t, got[0].RealizedPL)
	assert.InDelta(t, 9.95, got[0].Commission, 1e-9)

	assert.Equal(t, signal.Sell, got[1].Action)
	if assert.NotNil(t, got[1].RealizedPL) {
		assert.InDelta(t, 42.5, *got[1].RealizedPL, 1e-9)
	}
}

func TestSQLiteEquityRoundTrip(t *testing.T) {
	t.Parallel()

	j := newTestSQLite(t)

	t0 := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		assert.NoError(t, j.RecordEquity("run-1", engine.EquityPoint{
			Time:      t0.AddDate(0, 0, i),
			Capital:   100_000 + float64(i)*250,
			CumReturn: float64(i) * 0.0025,
		}))
	}

	got, err := j.ListEquityByRun("run-1")
	assert.NoError(t, err)
	assert.Len(t, got, 3)
	assert.InDelta(t, 100_500.0, got[2].Capital, 1e-9)
	assert.True(t, got[0].Time.Before(got[1].Time))

	got, err = j.ListEquityByRun("other")
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestSaveResult(t *testing.T) {
	t.Parallel()

	j := newTestSQLite(t)

	pl := -3.0
	res := &engine.Result{
		RunID:    "run-9",
		Strategy: "ml_only",
		Policy:   "fixed_window",
		Symbols:  []string{"AAA", "BBB"},
		Start:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Report: metrics.Report{
			InitialCapital: 100_000,
			FinalCapital:   99_900,
			TotalReturn:    -0.001,
		},
		Trades: []engine.Trade{
			{Time: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), Symbol: "AAA", Action: signal.Buy, Quantity: 10, Price: 100},
			{Time: time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), Symbol: "AAA", Action: signal.Sell, Quantity: 10, Price: 99.7, RealizedPL: &pl},
		},
		Equity: []engine.EquityPoint{
			{Time: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), Capital: 100_000},
			{Time: time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), Capital: 99_900, CumReturn: -0.001},
		},
	}

	assert.NoError(t, SaveResult(j, res))

	run, err := j.GetRun("run-9")
	assert.NoError(t, err)
	assert.Equal(t, "AAA,BBB", run.Symbols)
	assert.Equal(t, 2, run.Trades)
	assert.InDelta(t, -0.001, run.TotalReturn, 1e-9)

	trades, err := j.ListTradesByRun("run-9")
	assert.NoError(t, err)
	assert.Len(t, trades, 2)

	equity, err := j.ListEquityByRun("run-9")
	assert.NoError(t, err)
	assert.Len(t, equity, 2)
}
