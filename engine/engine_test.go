package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantfold/backtest/guard"
	"github.com/quantfold/backtest/indicator"
	"github.com/quantfold/backtest/market"
	"github.com/quantfold/backtest/model"
	"github.com/quantfold/backtest/signal"
)

// stubModel replays a fixed script of predictions; the last one repeats.
type stubModel struct {
	preds    []model.Prediction
	i        int
	trainErr error
}

func (m *stubModel) Train(context.Context, market.Series) (model.TrainResult, error) {
	if m.trainErr != nil {
		return model.TrainResult{Status: "failed"}, m.trainErr
	}
	return model.TrainResult{Status: "ok"}, nil
}

func (m *stubModel) Predict(market.Series) (model.Prediction, error) {
	if len(m.preds) == 0 {
		return model.Prediction{}, errors.New("no prediction scripted")
	}
	p := m.preds[m.i]
	if m.i < len(m.preds)-1 {
		m.i++
	}
	return p, nil
}

func stubFactory(preds ...model.Prediction) model.Factory {
	return func() model.Model {
		return &stubModel{preds: preds}
	}
}

func priceSeries(start time.Time, n int, step time.Duration, price func(i int) float64) market.Series {
	out := make(market.Series, 0, n)
	for i := 0; i < n; i++ {
		p := price(i)
		out = append(out, market.Bar{
			Time:  start.Add(time.Duration(i) * step),
			Open:  p,
			High:  p,
			Low:   p,
			Close: p,
		})
	}
	return out
}

func flatSeries(start time.Time, n int, step time.Duration, price float64) market.Series {
	return priceSeries(start, n, step, func(int) float64 { return price })
}

func baseConfig(start, end time.Time) Config {
	return Config{
		Start:          start,
		End:            end,
		InitialCapital: 100_000,
		Policy:         FixedWindow,
		TrainDays:      10,
		MinTrainBars:   5,
		MinPredictBars: 2,
		PositionPct:    0.10,
		MaxPositionPct: 0.10,
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := Config{
		Start:          date(2024, 1, 1),
		End:            date(2024, 6, 1),
		InitialCapital: 100_000,
		Policy:         WalkForward,
		TrainDays:      30,
		TestDays:       10,
		RetrainDays:    10,
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing start", func(c *Config) { c.Start = time.Time{} }},
		{"end before start", func(c *Config) { c.End = c.Start.AddDate(0, 0, -1) }},
		{"zero capital", func(c *Config) { c.InitialCapital = 0 }},
		{"negative commission", func(c *Config) { c.CommissionRate = -0.01 }},
		{"slippage of one", func(c *Config) { c.SlippageRate = 1 }},
		{"zero train days", func(c *Config) { c.TrainDays = 0 }},
		{"zero test days", func(c *Config) { c.TestDays = 0 }},
		{"zero retrain days", func(c *Config) { c.RetrainDays = 0 }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	// fixed window needs no test or retrain lengths
	fixed := valid
	fixed.Policy = FixedWindow
	fixed.TestDays = 0
	fixed.RetrainDays = 0
	assert.NoError(t, fixed.Validate())
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(date(2024, 1, 1), date(2024, 2, 1))
	data := market.NewMemoryProvider()

	_, err := New(cfg, Collaborators{Models: stubFactory(), Indicator: indicator.Static{}})
	assert.Error(t, err)

	_, err = New(cfg, Collaborators{Data: data, Indicator: indicator.Static{}})
	assert.Error(t, err)

	_, err = New(cfg, Collaborators{Data: data, Models: stubFactory()})
	assert.Error(t, err)

	_, err = New(cfg, Collaborators{Data: data, Models: stubFactory(), Indicator: indicator.Static{}})
	assert.NoError(t, err)
}

// A persistently bullish model buys every test bar; each entry debits cash
// by exactly notional plus the commission and slippage on it.
func TestRunChargesFeesOnEveryEntry(t *testing.T) {
	t.Parallel()

	start, end := date(2024, 1, 1), date(2024, 2, 1)

	data := market.NewMemoryProvider()
	data.Add("AAA", flatSeries(start, 31, 24*time.Hour, 100))

	cfg := baseConfig(start, end)
	cfg.CommissionRate = 0.001
	cfg.SlippageRate = 0.0005

	eng, err := New(cfg, Collaborators{
		Data:      data,
		Models:    stubFactory(model.Prediction{Return: 0.03, Confidence: 0.9}),
		Indicator: indicator.Static{},
		Generator: signal.NewGenerator(signal.MLOnly, 0.6, 0.02),
	})
	assert.NoError(t, err)

	res, err := eng.Run(context.Background(), []string{"AAA"})
	assert.NoError(t, err)

	// one entry per bar in the test window [Jan 11, Feb 1)
	assert.Equal(t, 1, res.Cycles)
	assert.Len(t, res.Trades, 21)
	for _, tr := range res.Trades {
		assert.Equal(t, signal.Buy, tr.Action)
		assert.Equal(t, "BUY", tr.ActionName)
		assert.Nil(t, tr.RealizedPL)
	}

	feeRate := cfg.CommissionRate + cfg.SlippageRate
	prevCash := cfg.InitialCapital
	for _, a := range eng.Ledger().History() {
		assert.Equal(t, "open", a.Kind)

		notional := a.Quantity * a.Price
		assert.InDelta(t, prevCash*cfg.PositionPct, notional, 1e-6)
		assert.InDelta(t, notional*feeRate, a.Fee, 1e-9)
		assert.InDelta(t, prevCash-notional*(1+feeRate), a.CashAfter, 1e-6)
		prevCash = a.CashAfter
	}

	assert.Len(t, res.Equity, 21)
	assert.Empty(t, res.Rejections)
}

// A model that never clears the thresholds produces a flat, trade-free run.
func TestRunNoSignalsNoTrades(t *testing.T) {
	t.Parallel()

	start, end := date(2024, 1, 1), date(2024, 2, 1)

	data := market.NewMemoryProvider()
	data.Add("AAA", flatSeries(start, 31, 24*time.Hour, 100))

	eng, err := New(baseConfig(start, end), Collaborators{
		Data:      data,
		Models:    stubFactory(model.Prediction{}),
		Indicator: indicator.Static{},
		Generator: signal.NewGenerator(signal.MLOnly, 0.6, 0.02),
	})
	assert.NoError(t, err)

	res, err := eng.Run(context.Background(), []string{"AAA"})
	assert.NoError(t, err)

	assert.Empty(t, res.Trades)
	assert.Empty(t, res.Rejections)
	assert.Zero(t, res.Report.TotalReturn)
	assert.Zero(t, res.Report.MaxDrawdown)
	assert.Equal(t, 0, res.Report.ClosedTrades)
	for _, p := range res.Equity {
		assert.InDelta(t, 100_000.0, p.Capital, 1e-9)
	}
}

// With a one-trade-per-day cap on hourly bars, exactly one entry is admitted
// each UTC day and the rest are counted as daily-limit rejections.
func TestRunEnforcesDailyLimit(t *testing.T) {
	t.Parallel()

	start, end := date(2024, 1, 1), date(2024, 1, 6)

	data := market.NewMemoryProvider()
	data.Add("AAA", flatSeries(start, 5*24, time.Hour, 100))

	cfg := baseConfig(start, end)
	cfg.TrainDays = 2

	g := guard.New(guard.Config{
		Cooldown:       time.Minute,
		MaxDailyTrades: 1,
		MaxPositionPct: 0.10,
	})

	eng, err := New(cfg, Collaborators{
		Data:      data,
		Models:    stubFactory(model.Prediction{Return: 0.03, Confidence: 0.9}),
		Indicator: indicator.Static{},
		Generator: signal.NewGenerator(signal.MLOnly, 0.6, 0.02),
		Guard:     g,
	})
	assert.NoError(t, err)

	res, err := eng.Run(context.Background(), []string{"AAA"})
	assert.NoError(t, err)

	// test window [Jan 3, Jan 6): 3 days x 24 hourly bars
	assert.Len(t, res.Trades, 3)
	assert.Equal(t, 69, res.Rejections["daily_limit"])

	for _, d := range []int{3, 4, 5} {
		assert.Equal(t, 1, g.TradesOn(date(2024, 1, d)))
	}
}

// With an hourly cooldown outranking a generous daily cap, entries land
// every other hourly bar.
func TestRunEnforcesCooldown(t *testing.T) {
	t.Parallel()

	start, end := date(2024, 1, 1), date(2024, 1, 4)

	data := market.NewMemoryProvider()
	data.Add("AAA", flatSeries(start, 3*24, time.Hour, 100))

	cfg := baseConfig(start, end)
	cfg.TrainDays = 2

	g := guard.New(guard.Config{
		Cooldown:       2 * time.Hour,
		MaxDailyTrades: 100,
		MaxPositionPct: 0.10,
	})

	eng, err := New(cfg, Collaborators{
		Data:      data,
		Models:    stubFactory(model.Prediction{Return: 0.03, Confidence: 0.9}),
		Indicator: indicator.Static{},
		Generator: signal.NewGenerator(signal.MLOnly, 0.6, 0.02),
		Guard:     g,
	})
	assert.NoError(t, err)

	res, err := eng.Run(context.Background(), []string{"AAA"})
	assert.NoError(t, err)

	// test window [Jan 3, Jan 4): 24 bars, an entry every second bar
	assert.Len(t, res.Trades, 12)
	assert.Equal(t, 12, res.Rejections["cooldown"])
}

// A buy followed by a sell on rising prices realizes a profit; wins are
// classified strictly by the sign of realized P&L.
func TestRunRealizedWinClassification(t *testing.T) {
	t.Parallel()

	start, end := date(2024, 1, 1), date(2024, 2, 1)

	data := market.NewMemoryProvider()
	data.Add("AAA", priceSeries(start, 31, 24*time.Hour, func(i int) float64 {
		return 100 + float64(i)
	}))

	eng, err := New(baseConfig(start, end), Collaborators{
		Data: data,
		Models: stubFactory(
			model.Prediction{Return: 0.03, Confidence: 0.9},
			model.Prediction{Return: -0.03, Confidence: 0.9},
		),
		Indicator: indicator.Static{},
		Generator: signal.NewGenerator(signal.MLOnly, 0.6, 0.02),
	})
	assert.NoError(t, err)

	res, err := eng.Run(context.Background(), []string{"AAA"})
	assert.NoError(t, err)

	var closed []Trade
	for _, tr := range res.Trades {
		if tr.RealizedPL != nil {
			closed = append(closed, tr)
		}
	}

	assert.Len(t, closed, 1)
	assert.Equal(t, signal.Sell, closed[0].Action)
	assert.Greater(t, *closed[0].RealizedPL, 0.0)

	assert.Equal(t, 1, res.Report.ClosedTrades)
	assert.Equal(t, 1, res.Report.WinningTrades)
	assert.Equal(t, 0, res.Report.LosingTrades)
	assert.InDelta(t, 1.0, res.Report.WinRate, 1e-9)
}

// Two engines over the same inputs produce byte-identical results, parallel
// training included.
func TestRunDeterminism(t *testing.T) {
	t.Parallel()

	start, end := date(2024, 1, 1), date(2024, 3, 1)

	build := func() (*Engine, error) {
		data := market.NewMemoryProvider()
		data.Add("AAA", priceSeries(start, 60, 24*time.Hour, func(i int) float64 {
			return 100 + float64(i%7)
		}))
		data.Add("BBB", priceSeries(start, 60, 24*time.Hour, func(i int) float64 {
			return 50 + float64(i%5)
		}))

		cfg := Config{
			Start:          start,
			End:            end,
			InitialCapital: 100_000,
			CommissionRate: 0.001,
			SlippageRate:   0.0005,
			Policy:         WalkForward,
			TrainDays:      14,
			TestDays:       7,
			RetrainDays:    7,
			MinTrainBars:   5,
			MinPredictBars: 2,
			PositionPct:    0.10,
			MaxPositionPct: 0.10,
			TrainWorkers:   4,
		}
		return New(cfg, Collaborators{
			Data:      data,
			Models:    stubFactory(model.Prediction{Return: 0.03, Confidence: 0.9}),
			Indicator: indicator.NewEMACross(3, 6),
			Generator: signal.NewGenerator(signal.Aggressive, 0.6, 0.02),
		})
	}

	run := func() *Result {
		eng, err := build()
		assert.NoError(t, err)
		res, err := eng.Run(context.Background(), []string{"BBB", "AAA"})
		assert.NoError(t, err)
		return res
	}

	a, b := run(), run()

	assert.Equal(t, a.Trades, b.Trades)
	assert.Equal(t, a.Equity, b.Equity)
	assert.Equal(t, a.Report, b.Report)
	assert.Equal(t, a.Warnings, b.Warnings)
	assert.Equal(t, a.Rejections, b.Rejections)
	assert.Equal(t, []string{"AAA", "BBB"}, a.Symbols)
}

// Equity timestamps advance strictly under every window policy: overlapping
// test windows never replay a bar twice.
func TestRunEquityTimestampsStrictlyIncrease(t *testing.T) {
	t.Parallel()

	policies := []WindowPolicy{WalkForward, FixedWindow, ExpandingWindow}

	for _, policy := range policies {
		policy := policy
		t.Run(policy.String(), func(t *testing.T) {
			t.Parallel()

			start, end := date(2024, 1, 1), date(2024, 2, 15)

			data := market.NewMemoryProvider()
			data.Add("AAA", flatSeries(start, 45, 24*time.Hour, 100))

			cfg := baseConfig(start, end)
			cfg.Policy = policy
			cfg.TrainDays = 10
			cfg.TestDays = 10
			cfg.RetrainDays = 5 // overlapping test windows for the sliding policies

			eng, err := New(cfg, Collaborators{
				Data:      data,
				Models:    stubFactory(model.Prediction{Return: 0.03, Confidence: 0.9}),
				Indicator: indicator.Static{},
				Generator: signal.NewGenerator(signal.MLOnly, 0.6, 0.02),
			})
			assert.NoError(t, err)

			res, err := eng.Run(context.Background(), []string{"AAA"})
			assert.NoError(t, err)

			assert.NotEmpty(t, res.Equity)
			for i := 1; i < len(res.Equity); i++ {
				assert.True(t, res.Equity[i].Time.After(res.Equity[i-1].Time),
					"equity point %d does not advance", i)
			}
		})
	}
}

// With flat prices and no fees, every entry just moves value from cash into
// the position: total capital is conserved to the last equity point.
func TestRunConservesCapitalWithoutFees(t *testing.T) {
	t.Parallel()

	start, end := date(2024, 1, 1), date(2024, 2, 1)

	data := market.NewMemoryProvider()
	data.Add("AAA", flatSeries(start, 31, 24*time.Hour, 100))

	eng, err := New(baseConfig(start, end), Collaborators{
		Data:      data,
		Models:    stubFactory(model.Prediction{Return: 0.03, Confidence: 0.9}),
		Indicator: indicator.Static{},
		Generator: signal.NewGenerator(signal.MLOnly, 0.6, 0.02),
	})
	assert.NoError(t, err)

	res, err := eng.Run(context.Background(), []string{"AAA"})
	assert.NoError(t, err)
	assert.NotEmpty(t, res.Trades)

	last := res.Equity[len(res.Equity)-1]
	assert.InDelta(t, 100_000.0, last.Capital, 1e-6)

	held := 0.0
	for _, p := range eng.Ledger().Positions() {
		held += p.Quantity * 100
	}
	assert.InDelta(t, last.Capital, eng.Ledger().Cash()+held, 1e-6)
}

func TestRunSkipsSymbolsWithoutData(t *testing.T) {
	t.Parallel()

	start, end := date(2024, 1, 1), date(2024, 2, 1)

	data := market.NewMemoryProvider()
	data.Add("AAA", flatSeries(start, 31, 24*time.Hour, 100))

	eng, err := New(baseConfig(start, end), Collaborators{
		Data:      data,
		Models:    stubFactory(model.Prediction{}),
		Indicator: indicator.Static{},
	})
	assert.NoError(t, err)

	res, err := eng.Run(context.Background(), []string{"AAA", "GHOST"})
	assert.NoError(t, err)

	assert.Equal(t, []string{"AAA"}, res.Symbols)
	assert.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "GHOST")
}

func TestRunSkipsRetrainOnShortTrainingData(t *testing.T) {
	t.Parallel()

	start, end := date(2024, 1, 1), date(2024, 2, 1)

	data := market.NewMemoryProvider()
	data.Add("AAA", flatSeries(start, 31, 24*time.Hour, 100))

	cfg := baseConfig(start, end)
	cfg.MinTrainBars = 1000

	eng, err := New(cfg, Collaborators{
		Data:      data,
		Models:    stubFactory(model.Prediction{Return: 0.03, Confidence: 0.9}),
		Indicator: indicator.Static{},
		Generator: signal.NewGenerator(signal.MLOnly, 0.6, 0.02),
	})
	assert.NoError(t, err)

	res, err := eng.Run(context.Background(), []string{"AAA"})
	assert.NoError(t, err)

	// never trained, never traded
	assert.Empty(t, res.Trades)
	assert.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "retrain skipped")
}

func TestRunTrainFailureIsWarningNotFatal(t *testing.T) {
	t.Parallel()

	start, end := date(2024, 1, 1), date(2024, 2, 1)

	data := market.NewMemoryProvider()
	data.Add("AAA", flatSeries(start, 31, 24*time.Hour, 100))

	factory := func() model.Model {
		return &stubModel{trainErr: errors.New("no convergence")}
	}

	eng, err := New(baseConfig(start, end), Collaborators{
		Data:      data,
		Models:    factory,
		Indicator: indicator.Static{},
		Generator: signal.NewGenerator(signal.MLOnly, 0.6, 0.02),
	})
	assert.NoError(t, err)

	res, err := eng.Run(context.Background(), []string{"AAA"})
	assert.NoError(t, err)

	assert.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "train failed")
	assert.Greater(t, res.Rejections["model_error"], 0)
	assert.Empty(t, res.Trades)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	start, end := date(2024, 1, 1), date(2024, 2, 1)

	data := market.NewMemoryProvider()
	data.Add("AAA", flatSeries(start, 31, 24*time.Hour, 100))

	eng, err := New(baseConfig(start, end), Collaborators{
		Data:      data,
		Models:    stubFactory(model.Prediction{}),
		Indicator: indicator.Static{},
	})
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = eng.Run(ctx, []string{"AAA"})
	assert.ErrorIs(t, err, context.Canceled)
}
