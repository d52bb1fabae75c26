package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantfold/backtest/market"
)

func barsFromCloses(t *testing.T, closes ...float64) market.Series {
	t.Helper()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make(market.Series, 0, len(closes))
	for i, c := range closes {
		out = append(out, market.Bar{Time: start.AddDate(0, 0, i), Close: c})
	}
	return out
}

func TestMomentumPredictBeforeTrain(t *testing.T) {
	t.Parallel()

	m := &Momentum{}
	_, err := m.Predict(barsFromCloses(t, 100, 101))
	assert.ErrorIs(t, err, errNotTrained)
}

func TestMomentumTrainNeedsThreeBars(t *testing.T) {
	t.Parallel()

	m := &Momentum{}
	res, err := m.Train(context.Background(), barsFromCloses(t, 100, 101))
	assert.Error(t, err)
	assert.Equal(t, "insufficient_data", res.Status)
}

func TestMomentumTrainAndPredict(t *testing.T) {
	t.Parallel()

	m := &Momentum{Lookback: 5}

	// alternating returns during training give a nonzero volatility
	res, err := m.Train(context.Background(), barsFromCloses(t, 100, 102, 100, 102, 100, 102))
	assert.NoError(t, err)
	assert.Equal(t, "ok", res.Status)
	assert.Greater(t, res.Metrics["return_std"], 0.0)

	// steady 1% climbs at predict time
	closes := []float64{100}
	for i := 1; i <= 6; i++ {
		closes = append(closes, closes[i-1]*1.01)
	}
	pred, err := m.Predict(barsFromCloses(t, closes...))
	assert.NoError(t, err)
	assert.InDelta(t, 0.01, pred.Return, 1e-9)
	assert.Greater(t, pred.Confidence, 0.0)
	assert.LessOrEqual(t, pred.Confidence, 1.0)
}

func TestMomentumPredictNeedsTwoBars(t *testing.T) {
	t.Parallel()

	m := &Momentum{}
	_, err := m.Train(context.Background(), barsFromCloses(t, 100, 101, 102))
	assert.NoError(t, err)

	_, err = m.Predict(barsFromCloses(t, 100))
	assert.Error(t, err)
}

func TestMomentumTrainHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &Momentum{}
	res, err := m.Train(ctx, barsFromCloses(t, 100, 101, 102))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "cancelled", res.Status)
}

func TestNewMomentumFactoryIsolation(t *testing.T) {
	t.Parallel()

	factory := NewMomentum(10)
	a := factory()
	b := factory()

	_, err := a.Train(context.Background(), barsFromCloses(t, 100, 101, 102, 103))
	assert.NoError(t, err)

	// b is untouched by a's training
	_, err = b.Predict(barsFromCloses(t, 100, 101))
	assert.ErrorIs(t, err, errNotTrained)
}
