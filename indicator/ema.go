package indicator

import "github.com/quantfold/backtest/market"

// EMA is a streaming exponential moving average over bar closes. The first
// `period` bars seed the average with an SMA.
type EMA struct {
	period     int
	multiplier float64
	value      float64
	count      int
	warmupSum  float64
}

func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Update(b market.Bar) {
	if e.count < e.period {
		e.warmupSum += b.Close
		e.count++
		if e.count == e.period {
			e.value = e.warmupSum / float64(e.period)
		}
		return
	}
	e.value = (b.Close-e.value)*e.multiplier + e.value
}

func (e *EMA) Ready() bool { return e.count >= e.period }

func (e *EMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.value
}

func (e *EMA) Reset() {
	e.value = 0
	e.count = 0
	e.warmupSum = 0
}
