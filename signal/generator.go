package signal

import (
	"github.com/quantfold/backtest/model"
)

const (
	// DefaultMinConfidence is the floor below which a sub-signal is ignored.
	DefaultMinConfidence = 0.6

	// DefaultReturnThreshold is the expected-return magnitude the model must
	// clear to be considered decisive.
	DefaultReturnThreshold = 0.02
)

// Generator turns (prediction, verdict) pairs into trading signals.
// The combination rules are a fixed table keyed by Strategy.
type Generator struct {
	Strategy        Strategy
	MinConfidence   float64
	ReturnThreshold float64
}

// NewGenerator applies defaults for zero-valued knobs.
func NewGenerator(strategy Strategy, minConfidence, returnThreshold float64) *Generator {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	if returnThreshold <= 0 {
		returnThreshold = DefaultReturnThreshold
	}
	return &Generator{
		Strategy:        strategy,
		MinConfidence:   minConfidence,
		ReturnThreshold: returnThreshold,
	}
}

type combineFunc func(g *Generator, p model.Prediction, v Verdict) Signal

var combiners = map[Strategy]combineFunc{
	MLOnly:        (*Generator).mlOnly,
	TechnicalOnly: (*Generator).technicalOnly,
	Combined:      (*Generator).combined,
	Conservative:  (*Generator).conservative,
	Aggressive:    (*Generator).aggressive,
}

// Decide combines the model prediction and indicator verdict per the
// configured strategy. Unknown strategies hold.
func (g *Generator) Decide(p model.Prediction, v Verdict) Signal {
	combine, ok := combiners[g.Strategy]
	if !ok {
		return Signal{Action: Hold}
	}
	return combine(g, p, v)
}

// modelAction thresholds the prediction: Buy/Sell when the expected-return
// magnitude clears ReturnThreshold and confidence clears MinConfidence.
func (g *Generator) modelAction(p model.Prediction) Action {
	if p.Confidence < g.MinConfidence {
		return Hold
	}
	if p.Return >= g.ReturnThreshold {
		return Buy
	}
	if p.Return <= -g.ReturnThreshold {
		return Sell
	}
	return Hold
}

func (g *Generator) indicatorAction(v Verdict) Action {
	if v.Confidence < g.MinConfidence {
		return Hold
	}
	if v.Action == Buy || v.Action == Sell {
		return v.Action
	}
	return Hold
}

func (g *Generator) mlOnly(p model.Prediction, _ Verdict) Signal {
	a := g.modelAction(p)
	if a == Hold {
		return Signal{Action: Hold}
	}
	return Signal{Action: a, Confidence: p.Confidence}
}

func (g *Generator) technicalOnly(_ model.Prediction, v Verdict) Signal {
	a := g.indicatorAction(v)
	if a == Hold {
		return Signal{Action: Hold}
	}
	return Signal{Action: a, Confidence: v.Confidence}
}

// combined requires both sub-signals to agree on direction.
func (g *Generator) combined(p model.Prediction, v Verdict) Signal {
	ma := g.modelAction(p)
	ia := g.indicatorAction(v)
	if ma == Hold || ma != ia {
		return Signal{Action: Hold}
	}
	return Signal{Action: ma, Confidence: (p.Confidence + v.Confidence) / 2}
}

// conservative requires a decisive model and an indicator that does not
// contradict it (the indicator may sit at Hold).
func (g *Generator) conservative(p model.Prediction, v Verdict) Signal {
	ma := g.modelAction(p)
	if ma == Hold {
		return Signal{Action: Hold}
	}
	ia := g.indicatorAction(v)
	switch ia {
	case ma:
		return Signal{Action: ma, Confidence: (p.Confidence + v.Confidence) / 2}
	case Hold:
		return Signal{Action: ma, Confidence: p.Confidence}
	}
	return Signal{Action: Hold}
}

// aggressive trades when either sub-signal is decisive; a direct conflict
// follows the more confident side.
func (g *Generator) aggressive(p model.Prediction, v Verdict) Signal {
	ma := g.modelAction(p)
	ia := g.indicatorAction(v)

	switch {
	case ma == Hold && ia == Hold:
		return Signal{Action: Hold}
	case ma == Hold:
		return Signal{Action: ia, Confidence: v.Confidence}
	case ia == Hold:
		return Signal{Action: ma, Confidence: p.Confidence}
	case ma == ia:
		return Signal{Action: ma, Confidence: (p.Confidence + v.Confidence) / 2}
	}

	if p.Confidence >= v.Confidence {
		return Signal{Action: ma, Confidence: p.Confidence}
	}
	return Signal{Action: ia, Confidence: v.Confidence}
}
