// Package indicator supplies the technical-evidence half of signal
// generation: an Evaluator observes bars per symbol and renders categorical
// BUY/SELL/HOLD verdicts with a confidence.
package indicator

import (
	"fmt"
	"math"

	"github.com/quantfold/backtest/market"
	"github.com/quantfold/backtest/signal"
)

// Evaluator turns a per-symbol bar stream into verdicts.
type Evaluator interface {
	Observe(symbol string, bar market.Bar)
	Signal(symbol string) (signal.Verdict, error)
}

// EMACross renders verdicts from a fast/slow EMA pair per symbol: Buy while
// fast is above slow, Sell while below, Hold until both are warm. Confidence
// grows with the normalized separation of the two averages.
type EMACross struct {
	fastPeriod int
	slowPeriod int
	pairs      map[string]*emaPair
}

type emaPair struct {
	fast *EMA
	slow *EMA
}

func NewEMACross(fast, slow int) *EMACross {
	if fast <= 0 {
		fast = 12
	}
	if slow <= fast {
		slow = fast * 2
	}
	return &EMACross{
		fastPeriod: fast,
		slowPeriod: slow,
		pairs:      make(map[string]*emaPair),
	}
}

func (c *EMACross) Observe(symbol string, bar market.Bar) {
	p, ok := c.pairs[symbol]
	if !ok {
		p = &emaPair{fast: NewEMA(c.fastPeriod), slow: NewEMA(c.slowPeriod)}
		c.pairs[symbol] = p
	}
	p.fast.Update(bar)
	p.slow.Update(bar)
}

func (c *EMACross) Signal(symbol string) (signal.Verdict, error) {
	p, ok := c.pairs[symbol]
	if !ok {
		return signal.Verdict{}, fmt.Errorf("ema cross: no bars observed for %q", symbol)
	}
	if !p.fast.Ready() || !p.slow.Ready() {
		return signal.Verdict{Action: signal.Hold}, nil
	}

	fast, slow := p.fast.Value(), p.slow.Value()
	if slow == 0 || fast == slow {
		return signal.Verdict{Action: signal.Hold}, nil
	}

	// Separation of 1% of the slow average maps to full confidence.
	sep := math.Abs(fast-slow) / math.Abs(slow)
	conf := math.Min(1, sep*100)

	action := signal.Buy
	if fast < slow {
		action = signal.Sell
	}
	return signal.Verdict{Action: action, Confidence: conf}, nil
}

// Static always renders the same verdict; useful as a stub collaborator.
type Static struct {
	Verdict signal.Verdict
}

func (s Static) Observe(string, market.Bar) {}

func (s Static) Signal(string) (signal.Verdict, error) {
	return s.Verdict, nil
}
