// Package signal combines a model prediction and a technical-indicator
// verdict into a single trading signal according to a selected strategy.
package signal

import (
	"fmt"
	"strings"
)

// Action is the categorical half of a trading signal.
type Action int8

const (
	Hold Action = iota
	Buy
	Sell
	Close
)

func (a Action) String() string {
	switch a {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	case Close:
		return "CLOSE"
	}
	return "HOLD"
}

// Signal pairs an action with a confidence in [0,1].
type Signal struct {
	Action     Action
	Confidence float64
}

// Verdict is a technical-indicator opinion for the current bar.
type Verdict struct {
	Action     Action // Buy, Sell or Hold
	Confidence float64
}

// Strategy selects how model and indicator evidence are combined.
type Strategy int8

const (
	MLOnly Strategy = iota
	TechnicalOnly
	Combined
	Conservative
	Aggressive
)

func (s Strategy) String() string {
	switch s {
	case MLOnly:
		return "ml_only"
	case TechnicalOnly:
		return "technical_only"
	case Combined:
		return "combined"
	case Conservative:
		return "conservative"
	case Aggressive:
		return "aggressive"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy maps a config string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ml_only", "ml-only", "ml":
		return MLOnly, nil
	case "technical_only", "technical-only", "technical":
		return TechnicalOnly, nil
	case "combined":
		return Combined, nil
	case "conservative":
		return Conservative, nil
	case "aggressive":
		return Aggressive, nil
	}
	return 0, fmt.Errorf("unknown strategy %q", s)
}
