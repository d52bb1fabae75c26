// Package guard enforces execution risk limits between signal generation and
// the ledger: an explicit enable flag, a per-symbol cooldown, a per-day trade
// cap and a per-trade notional cap.
package guard

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTradingDisabled = errors.New("trading disabled")
	ErrCooldownActive  = errors.New("cooldown active")
	ErrDailyLimit      = errors.New("daily trade limit reached")
	ErrPositionSize    = errors.New("position size limit exceeded")
)

const (
	DefaultCooldown       = 30 * time.Minute
	DefaultMaxDailyTrades = 10
	DefaultMaxPositionPct = 0.10

	// relative tolerance on the notional cap, so a trade sized exactly at
	// the limit is not rejected over float rounding
	capTolerance = 1e-9
)

// Config holds the admission limits. Zero values fall back to defaults.
type Config struct {
	Cooldown       time.Duration
	MaxDailyTrades int
	MaxPositionPct float64
}

func (c Config) withDefaults() Config {
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MaxDailyTrades <= 0 {
		c.MaxDailyTrades = DefaultMaxDailyTrades
	}
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 1 {
		c.MaxPositionPct = DefaultMaxPositionPct
	}
	return c
}

// Guard tracks per-symbol cooldowns and a per-calendar-day trade counter.
// It starts disabled; trading must be explicitly enabled. Not safe for
// concurrent use.
type Guard struct {
	cfg     Config
	enabled bool

	lastTrade map[string]time.Time
	daily     map[string]int
}

func New(cfg Config) *Guard {
	return &Guard{
		cfg:       cfg.withDefaults(),
		lastTrade: make(map[string]time.Time),
		daily:     make(map[string]int),
	}
}

func (g *Guard) Enable()       { g.enabled = true }
func (g *Guard) Disable()      { g.enabled = false }
func (g *Guard) Enabled() bool { return g.enabled }

// Admit runs the ordered admission checks for an entry of the given notional
// at now. The first failing check rejects with its specific error. On
// success the cooldown stamp and the daily counter are updated, so callers
// must only Admit trades they will actually apply.
func (g *Guard) Admit(now time.Time, symbol string, notional, portfolioValue float64) error {
	if err := g.throttle(now, symbol); err != nil {
		return err
	}

	if limit := portfolioValue * g.cfg.MaxPositionPct; notional > limit*(1+capTolerance) {
		return fmt.Errorf("notional %.2f exceeds limit %.2f: %w", notional, limit, ErrPositionSize)
	}

	g.stamp(now, symbol)
	return nil
}

// AdmitExit admits a position-reducing trade. The notional cap does not
// apply: an exit only ever shrinks exposure. Cooldown and the daily budget
// still throttle churn.
func (g *Guard) AdmitExit(now time.Time, symbol string) error {
	if err := g.throttle(now, symbol); err != nil {
		return err
	}
	g.stamp(now, symbol)
	return nil
}

func (g *Guard) throttle(now time.Time, symbol string) error {
	if !g.enabled {
		return ErrTradingDisabled
	}

	if last, ok := g.lastTrade[symbol]; ok {
		if elapsed := now.Sub(last); elapsed < g.cfg.Cooldown {
			return fmt.Errorf("%s traded %s ago (cooldown %s): %w",
				symbol, elapsed, g.cfg.Cooldown, ErrCooldownActive)
		}
	}

	day := dayKey(now)
	if g.daily[day] >= g.cfg.MaxDailyTrades {
		return fmt.Errorf("%d trades on %s: %w", g.daily[day], day, ErrDailyLimit)
	}
	return nil
}

func (g *Guard) stamp(now time.Time, symbol string) {
	g.lastTrade[symbol] = now
	g.daily[dayKey(now)]++
}

// TradesOn reports the admitted-trade count for the calendar day of t.
func (g *Guard) TradesOn(t time.Time) int {
	return g.daily[dayKey(t)]
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
