package portfolio

import "time"

// Side: +1 long, -1 short
type Side int8

const (
	Long  Side = +1
	Short Side = -1
)

func (s Side) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	}
	return "UNKNOWN"
}

// Position is an open holding in a single symbol. It is owned by the Ledger;
// quantity changes only through Open/Close and the position is destroyed when
// quantity reaches zero.
type Position struct {
	Symbol     string
	Side       Side
	Quantity   float64
	EntryPrice float64
	StopLoss   *float64
	TakeProfit *float64
	OpenedAt   time.Time
}

// Notional is quantity times the entry price.
func (p Position) Notional() float64 {
	return p.Quantity * p.EntryPrice
}

// UnrealizedPL marks the position against price.
func (p Position) UnrealizedPL(price float64) float64 {
	return float64(p.Side) * (price - p.EntryPrice) * p.Quantity
}
