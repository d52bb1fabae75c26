package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	ErrInsufficientCapital = errors.New("insufficient capital")
	ErrPositionNotFound    = errors.New("position not found")
)

const (
	// DefaultMaxPositionPct caps a single entry at this fraction of cash.
	DefaultMaxPositionPct = 0.10

	// quantities below this are treated as zero when closing out
	qtyEpsilon = 1e-9

	// relative tolerance on the notional cap, so an entry sized exactly at
	// the limit is not rejected over float rounding
	capTolerance = 1e-9
)

// Action is one entry in the ledger's append-only audit history.
type Action struct {
	Time       time.Time
	Kind       string // "open" or "close"
	Symbol     string
	Side       Side
	Quantity   float64
	Price      float64
	Fee        float64
	RealizedPL float64
	CashAfter  float64
}

// Ledger owns the cash balance and the set of open positions.
// It is not safe for concurrent use; the backtest engine drives it from a
// single timeline.
type Ledger struct {
	initialCapital float64
	cash           float64
	maxPositionPct float64
	realized       float64
	positions      map[string]*Position
	history        []Action
}

// NewLedger creates a ledger with the given starting cash. maxPositionPct
// caps a single entry's notional as a fraction of available cash; values
// outside (0, 1] fall back to DefaultMaxPositionPct.
func NewLedger(initialCapital, maxPositionPct float64) *Ledger {
	if maxPositionPct <= 0 || maxPositionPct > 1 {
		maxPositionPct = DefaultMaxPositionPct
	}
	return &Ledger{
		initialCapital: initialCapital,
		cash:           initialCapital,
		maxPositionPct: maxPositionPct,
		positions:      make(map[string]*Position),
	}
}

func (l *Ledger) Cash() float64           { return l.cash }
func (l *Ledger) InitialCapital() float64 { return l.initialCapital }
func (l *Ledger) RealizedPL() float64     { return l.realized }

// Position returns a copy of the open position for symbol, if any.
func (l *Ledger) Position(symbol string) (Position, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns copies of all open positions sorted by symbol.
func (l *Ledger) Positions() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Open debits cash by quantity*price+fee and creates or averages into a
// position. Adding to an existing same-side position recomputes the entry as
// the size-weighted average. Entries whose notional exceeds
// cash*maxPositionPct, or whose total cost exceeds cash, are rejected with
// ErrInsufficientCapital.
func (l *Ledger) Open(symbol string, quantity, price float64, side Side, stop, take *float64, at time.Time, fee float64) (Position, error) {
	if quantity <= 0 || price <= 0 {
		return Position{}, fmt.Errorf("open %s: quantity and price must be positive", symbol)
	}
	if side != Long && side != Short {
		return Position{}, fmt.Errorf("open %s: invalid side %d", symbol, side)
	}

	notional := quantity * price
	if limit := l.cash * l.maxPositionPct; notional > limit*(1+capTolerance) {
		return Position{}, fmt.Errorf("open %s: notional %.2f exceeds limit %.2f: %w",
			symbol, notional, limit, ErrInsufficientCapital)
	}
	if notional+fee > l.cash {
		return Position{}, fmt.Errorf("open %s: cost %.2f exceeds cash %.2f: %w",
			symbol, notional+fee, l.cash, ErrInsufficientCapital)
	}

	p, exists := l.positions[symbol]
	if exists && p.Side != side {
		return Position{}, fmt.Errorf("open %s: opposite-side position already open", symbol)
	}

	if exists {
		total := p.Quantity + quantity
		p.EntryPrice = (p.EntryPrice*p.Quantity + price*quantity) / total
		p.Quantity = total
		if stop != nil {
			p.StopLoss = stop
		}
		if take != nil {
			p.TakeProfit = take
		}
	} else {
		p = &Position{
			Symbol:     symbol,
			Side:       side,
			Quantity:   quantity,
			EntryPrice: price,
			StopLoss:   stop,
			TakeProfit: take,
			OpenedAt:   at,
		}
		l.positions[symbol] = p
	}

	l.cash -= notional + fee
	l.record(Action{
		Time: at, Kind: "open", Symbol: symbol, Side: side,
		Quantity: quantity, Price: price, Fee: fee, CashAfter: l.cash,
	})

	return *p, nil
}

// Close realizes P&L on quantity units at price and credits cash with
// quantity*price-fee. quantity <= 0 closes the full position. Closing a
// missing symbol, or more units than held, returns ErrPositionNotFound.
func (l *Ledger) Close(symbol string, quantity, price float64, at time.Time, fee float64) (float64, error) {
	p, ok := l.positions[symbol]
	if !ok {
		return 0, fmt.Errorf("close %s: %w", symbol, ErrPositionNotFound)
	}
	if price <= 0 {
		return 0, fmt.Errorf("close %s: price must be positive", symbol)
	}
	if quantity <= 0 {
		quantity = p.Quantity
	}
	if quantity > p.Quantity+qtyEpsilon {
		return 0, fmt.Errorf("close %s: %.4f exceeds held %.4f: %w",
			symbol, quantity, p.Quantity, ErrPositionNotFound)
	}
	if quantity > p.Quantity {
		quantity = p.Quantity
	}

	pl := float64(p.Side) * (price - p.EntryPrice) * quantity

	l.cash += quantity*price - fee
	l.realized += pl

	p.Quantity -= quantity
	if p.Quantity <= qtyEpsilon {
		delete(l.positions, symbol)
	}

	l.record(Action{
		Time: at, Kind: "close", Symbol: symbol, Side: p.Side,
		Quantity: quantity, Price: price, Fee: fee, RealizedPL: pl, CashAfter: l.cash,
	})

	return pl, nil
}

// Value marks the portfolio: cash plus every open position at its mark
// price, falling back to the entry price when no mark is supplied.
func (l *Ledger) Value(marks map[string]float64) float64 {
	v := l.cash
	for sym, p := range l.positions {
		mark, ok := marks[sym]
		if !ok {
			mark = p.EntryPrice
		}
		v += p.Quantity * mark
	}
	return v
}

// History returns a copy of the append-only action log.
func (l *Ledger) History() []Action {
	out := make([]Action, len(l.history))
	copy(out, l.history)
	return out
}

func (l *Ledger) record(a Action) {
	l.history = append(l.history, a)
}

// PositionSummary describes one open position at current marks.
type PositionSummary struct {
	Symbol       string
	Side         Side
	Quantity     float64
	EntryPrice   float64
	Mark         float64
	Weight       float64
	UnrealizedPL float64
}

// Summary aggregates the portfolio at current marks.
type Summary struct {
	Cash        float64
	Value       float64
	Return      float64 // vs initial capital
	RealizedPL  float64
	Positions   []PositionSummary
	OpenSymbols int
}

// Summary reports per-position weights and unrealized P&L plus aggregate
// return since the initial capital.
func (l *Ledger) Summary(marks map[string]float64) Summary {
	value := l.Value(marks)

	s := Summary{
		Cash:        l.cash,
		Value:       value,
		RealizedPL:  l.realized,
		OpenSymbols: len(l.positions),
	}
	if l.initialCapital > 0 {
		s.Return = value/l.initialCapital - 1
	}

	for _, p := range l.Positions() {
		mark, ok := marks[p.Symbol]
		if !ok {
			mark = p.EntryPrice
		}
		ps := PositionSummary{
			Symbol:       p.Symbol,
			Side:         p.Side,
			Quantity:     p.Quantity,
			EntryPrice:   p.EntryPrice,
			Mark:         mark,
			UnrealizedPL: p.UnrealizedPL(mark),
		}
		if value > 0 {
			ps.Weight = math.Abs(p.Quantity*mark) / value
		}
		s.Positions = append(s.Positions, ps)
	}
	return s
}
