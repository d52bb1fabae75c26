package model

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/quantfold/backtest/market"
)

var errNotTrained = errors.New("model not trained")

// Momentum is a deterministic reference model: the expected return is the
// mean of the trailing one-bar returns, and confidence scales with how far
// that mean sits from the return volatility seen during training.
type Momentum struct {
	Lookback int // trailing bars averaged at predict time, default 10

	trained   bool
	trainStd  float64
	trainMean float64
}

// NewMomentum returns a Factory producing independent Momentum instances.
func NewMomentum(lookback int) Factory {
	return func() Model {
		return &Momentum{Lookback: lookback}
	}
}

func (m *Momentum) Train(ctx context.Context, bars market.Series) (TrainResult, error) {
	if err := ctx.Err(); err != nil {
		return TrainResult{Status: "cancelled"}, err
	}

	rets := bars.Returns()
	if len(rets) < 2 {
		return TrainResult{Status: "insufficient_data"},
			fmt.Errorf("momentum: need at least 3 bars, got %d", len(bars))
	}

	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))

	varSum := 0.0
	for _, r := range rets {
		d := r - mean
		varSum += d * d
	}
	std := math.Sqrt(varSum / float64(len(rets)-1))

	m.trainMean = mean
	m.trainStd = std
	m.trained = true

	return TrainResult{
		Status: "ok",
		Metrics: map[string]float64{
			"bars":        float64(len(bars)),
			"mean_return": mean,
			"return_std":  std,
		},
	}, nil
}

func (m *Momentum) Predict(bars market.Series) (Prediction, error) {
	if !m.trained {
		return Prediction{}, errNotTrained
	}

	lookback := m.Lookback
	if lookback <= 0 {
		lookback = 10
	}

	rets := bars.Tail(lookback + 1).Returns()
	if len(rets) == 0 {
		return Prediction{}, fmt.Errorf("momentum: need at least 2 bars, got %d", len(bars))
	}

	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))

	conf := 0.0
	if m.trainStd > 0 {
		z := math.Abs(mean) / m.trainStd
		conf = z / (1 + z)
	} else if mean != 0 {
		conf = 1
	}

	return Prediction{Return: mean, Confidence: conf}, nil
}
