package market

import (
	"sort"
	"time"
)

// DataProvider supplies historical bars for a symbol.
//
// Implementations return an empty series, not an error, when no data exists
// in the requested range. Bars are ascending by timestamp.
type DataProvider interface {
	History(symbol string, start, end time.Time) (Series, error)
}

// MemoryProvider serves preloaded series from memory.
type MemoryProvider struct {
	series map[string]Series
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{series: make(map[string]Series)}
}

// Add registers a series under symbol, replacing any previous one.
func (p *MemoryProvider) Add(symbol string, s Series) {
	p.series[symbol] = s
}

func (p *MemoryProvider) History(symbol string, start, end time.Time) (Series, error) {
	s, ok := p.series[symbol]
	if !ok {
		return nil, nil
	}
	return s.Between(start, end), nil
}

// Symbols returns the registered symbols in sorted order.
func (p *MemoryProvider) Symbols() []string {
	out := make([]string, 0, len(p.series))
	for sym := range p.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
