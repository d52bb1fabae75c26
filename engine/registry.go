package engine

import (
	"sort"
	"sync"

	"github.com/quantfold/backtest/guard"
	"github.com/quantfold/backtest/signal"
)

// Trader is the per-fund assembly of signal generation and admission
// control.
type Trader struct {
	Generator *signal.Generator
	Guard     *guard.Guard
}

// Registry holds traders keyed by fund id. The calling layer owns one and
// passes traders into engines explicitly; there is no ambient global state
// coupling runs together.
type Registry struct {
	mu      sync.Mutex
	traders map[string]*Trader
}

func NewRegistry() *Registry {
	return &Registry{traders: make(map[string]*Trader)}
}

// Put registers (or replaces) the trader for fundID.
func (r *Registry) Put(fundID string, t *Trader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traders[fundID] = t
}

func (r *Registry) Get(fundID string) (*Trader, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.traders[fundID]
	return t, ok
}

func (r *Registry) Remove(fundID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.traders, fundID)
}

// IDs returns the registered fund ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.traders))
	for id := range r.traders {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
