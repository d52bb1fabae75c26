// Package model defines the train/predict contract the backtest engine
// consumes. The engine never looks inside a model; it retrains one per
// symbol at each window cycle and asks for a prediction per bar.
package model

import (
	"context"

	"github.com/quantfold/backtest/market"
)

// TrainResult reports the outcome of a training pass.
type TrainResult struct {
	Status  string
	Metrics map[string]float64
}

// Prediction is a signed expected return with a confidence in [0,1].
type Prediction struct {
	Return     float64
	Confidence float64
}

// Model is trained on a window of bars and then queried bar by bar.
// Predict may be called with as few as 20 trailing bars.
type Model interface {
	Train(ctx context.Context, bars market.Series) (TrainResult, error)
	Predict(bars market.Series) (Prediction, error)
}

// Factory creates a fresh model instance for one symbol.
type Factory func() Model
