// Package engine orchestrates a backtest run: it slices the date range into
// train/test windows, retrains the predictive model each cycle, replays test
// bars chronologically through signal generation, admission control and the
// ledger, and summarizes the outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quantfold/backtest/guard"
	"github.com/quantfold/backtest/indicator"
	"github.com/quantfold/backtest/market"
	"github.com/quantfold/backtest/metrics"
	"github.com/quantfold/backtest/model"
	"github.com/quantfold/backtest/portfolio"
	"github.com/quantfold/backtest/signal"
)

const (
	defaultMinTrainBars   = 50
	defaultMinPredictBars = 20
	defaultPositionPct    = 0.10
)

// Config is the immutable run configuration.
type Config struct {
	Start          time.Time
	End            time.Time
	InitialCapital float64
	CommissionRate float64
	SlippageRate   float64

	Policy      WindowPolicy
	TrainDays   int
	TestDays    int
	RetrainDays int

	// MinTrainBars is the minimum training slice; shorter slices skip the
	// retrain for that symbol with a warning. Default 50.
	MinTrainBars int

	// MinPredictBars is the history buffer required before predictions.
	// Default 20.
	MinPredictBars int

	// PositionPct sizes each entry as a fraction of available cash.
	// Default 0.10.
	PositionPct float64

	// MaxPositionPct caps a single entry at the ledger. Default 0.10.
	MaxPositionPct float64

	// TrainWorkers bounds the per-cycle training pool; values <= 1 train
	// sequentially. Replay is always sequential.
	TrainWorkers int

	RiskFreeRate float64
}

// Validate reports the first fatal configuration error. It runs before the
// run starts; nothing is validated mid-run.
func (c Config) Validate() error {
	if c.Start.IsZero() || c.End.IsZero() {
		return errors.New("start and end are required")
	}
	if !c.End.After(c.Start) {
		return fmt.Errorf("end %s must be after start %s",
			c.End.Format("2006-01-02"), c.Start.Format("2006-01-02"))
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive, got %.2f", c.InitialCapital)
	}
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return fmt.Errorf("commission rate must be in [0, 1), got %f", c.CommissionRate)
	}
	if c.SlippageRate < 0 || c.SlippageRate >= 1 {
		return fmt.Errorf("slippage rate must be in [0, 1), got %f", c.SlippageRate)
	}
	if c.TrainDays <= 0 {
		return fmt.Errorf("train window must be positive, got %d days", c.TrainDays)
	}
	if c.Policy != FixedWindow {
		if c.TestDays <= 0 {
			return fmt.Errorf("test window must be positive, got %d days", c.TestDays)
		}
		if c.RetrainDays <= 0 {
			return fmt.Errorf("retrain interval must be positive, got %d days", c.RetrainDays)
		}
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.MinTrainBars <= 0 {
		c.MinTrainBars = defaultMinTrainBars
	}
	if c.MinPredictBars <= 0 {
		c.MinPredictBars = defaultMinPredictBars
	}
	if c.PositionPct <= 0 || c.PositionPct > 1 {
		c.PositionPct = defaultPositionPct
	}
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 1 {
		c.MaxPositionPct = defaultPositionPct
	}
	return c
}

// Collaborators are the external contracts the engine consumes.
type Collaborators struct {
	Data      market.DataProvider
	Models    model.Factory
	Indicator indicator.Evaluator
	Generator *signal.Generator
	Guard     *guard.Guard
	Logger    *zap.Logger
}

// Engine runs one backtest. Create a fresh Engine per run; the replay
// timeline is single-threaded and the engine holds its mutable state.
type Engine struct {
	cfg    Config
	data   market.DataProvider
	models model.Factory
	eval   indicator.Evaluator
	gen    *signal.Generator
	guard  *guard.Guard
	ledger *portfolio.Ledger
	log    *zap.Logger

	// run state
	full       map[string]market.Series
	cursor     map[string]int
	trained    map[string]model.Model
	lastMark   map[string]float64
	symbols    []string
	trades     []Trade
	equity     []EquityPoint
	warnings   []string
	rejections map[string]int
}

// New validates the configuration and assembles an engine. Configuration
// errors are fatal here, never mid-run.
func New(cfg Config, c Collaborators) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg = cfg.withDefaults()

	if c.Data == nil {
		return nil, errors.New("data provider is required")
	}
	if c.Models == nil {
		return nil, errors.New("model factory is required")
	}
	if c.Indicator == nil {
		return nil, errors.New("indicator evaluator is required")
	}
	if c.Generator == nil {
		c.Generator = signal.NewGenerator(signal.Combined, 0, 0)
	}
	if c.Guard == nil {
		c.Guard = guard.New(guard.Config{MaxPositionPct: cfg.MaxPositionPct})
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return &Engine{
		cfg:        cfg,
		data:       c.Data,
		models:     c.Models,
		eval:       c.Indicator,
		gen:        c.Generator,
		guard:      c.Guard,
		ledger:     portfolio.NewLedger(cfg.InitialCapital, cfg.MaxPositionPct),
		log:        c.Logger,
		full:       make(map[string]market.Series),
		cursor:     make(map[string]int),
		trained:    make(map[string]model.Model),
		lastMark:   make(map[string]float64),
		rejections: make(map[string]int),
	}, nil
}

// Ledger exposes the portfolio for inspection after a run.
func (e *Engine) Ledger() *portfolio.Ledger { return e.ledger }

// Run executes the backtest over symbols and always produces a well-formed
// Result, even a degenerate one. Only context cancellation and collaborator
// I/O failures abort the run.
func (e *Engine) Run(ctx context.Context, symbols []string) (*Result, error) {
	if err := e.loadData(symbols); err != nil {
		return nil, err
	}

	e.guard.Enable()
	defer e.guard.Disable()

	windows := sliceWindows(e.cfg.Policy, e.cfg.Start, e.cfg.End,
		e.cfg.TrainDays, e.cfg.TestDays, e.cfg.RetrainDays)

	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.trainCycle(ctx, i, w); err != nil {
			return nil, err
		}
		e.replayCycle(i, w)
	}

	return e.summarize(len(windows)), nil
}

func (e *Engine) loadData(symbols []string) error {
	for _, sym := range symbols {
		s, err := e.data.History(sym, e.cfg.Start, e.cfg.End)
		if err != nil {
			return fmt.Errorf("history %s: %w", sym, err)
		}
		if s.Empty() {
			e.warnf("%s: no data in range, symbol skipped", sym)
			continue
		}
		e.full[sym] = s
		e.symbols = append(e.symbols, sym)
	}
	sort.Strings(e.symbols)
	return nil
}

// trainCycle retrains each symbol's model on the cycle's training slice.
// Symbols with short slices are skipped with a warning, never fatally. When
// TrainWorkers > 1 the (independent) trainings run through a bounded pool;
// results are reassembled before the replay begins.
func (e *Engine) trainCycle(ctx context.Context, cycle int, w Window) error {
	type job struct {
		sym   string
		slice market.Series
	}

	var jobs []job
	for _, sym := range e.symbols {
		slice := e.full[sym].Between(w.TrainStart, w.TrainEnd)
		if len(slice) < e.cfg.MinTrainBars {
			e.warnf("cycle %d: %s: %d training bars (need %d), retrain skipped",
				cycle, sym, len(slice), e.cfg.MinTrainBars)
			continue
		}
		if _, ok := e.trained[sym]; !ok {
			e.trained[sym] = e.models()
		}
		jobs = append(jobs, job{sym: sym, slice: slice})
	}

	if len(jobs) == 0 {
		return nil
	}

	trainOne := func(ctx context.Context, jb job) (string, error) {
		res, err := e.trained[jb.sym].Train(ctx, jb.slice)
		if err != nil {
			return fmt.Sprintf("cycle %d: %s: train failed: %v", cycle, jb.sym, err), nil
		}
		e.log.Debug("model trained",
			zap.Int("cycle", cycle),
			zap.String("symbol", jb.sym),
			zap.String("status", res.Status),
			zap.Int("bars", len(jb.slice)))
		return "", nil
	}

	if e.cfg.TrainWorkers <= 1 || len(jobs) == 1 {
		for _, jb := range jobs {
			warn, err := trainOne(ctx, jb)
			if err != nil {
				return err
			}
			if warn != "" {
				e.warnings = append(e.warnings, warn)
			}
		}
		return nil
	}

	var mu sync.Mutex
	warns := make(map[string]string)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.TrainWorkers)
	for _, jb := range jobs {
		jb := jb
		g.Go(func() error {
			warn, err := trainOne(gctx, jb)
			if err != nil {
				return err
			}
			if warn != "" {
				mu.Lock()
				warns[jb.sym] = warn
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// keep warning order deterministic regardless of pool scheduling
	for _, jb := range jobs {
		if warn, ok := warns[jb.sym]; ok {
			e.warnings = append(e.warnings, warn)
		}
	}
	return nil
}

// replayCycle replays the test window bar by bar over the merged ascending
// timeline of all symbols, appending one equity point per timestamp.
func (e *Engine) replayCycle(cycle int, w Window) {
	e.log.Debug("replaying test window",
		zap.Int("cycle", cycle),
		zap.Time("test_start", w.TestStart),
		zap.Time("test_end", w.TestEnd))

	// Advance each cursor to the test window, keeping indicator state and
	// marks warm over the intervening bars.
	for _, sym := range e.symbols {
		s := e.full[sym]
		for e.cursor[sym] < len(s) && s[e.cursor[sym]].Time.Before(w.TestStart) {
			b := s[e.cursor[sym]]
			e.eval.Observe(sym, b)
			e.lastMark[sym] = b.Close
			e.cursor[sym]++
		}
	}

	for {
		ts, ok := e.nextTimestamp(w.TestEnd)
		if !ok {
			break
		}

		for _, sym := range e.symbols {
			s := e.full[sym]
			i := e.cursor[sym]
			if i >= len(s) || !s[i].Time.Equal(ts) {
				continue
			}
			e.cursor[sym] = i + 1

			b := s[i]
			e.eval.Observe(sym, b)
			e.lastMark[sym] = b.Close

			if e.cursor[sym] < e.cfg.MinPredictBars {
				continue
			}
			m, ok := e.trained[sym]
			if !ok {
				continue
			}
			e.decideBar(sym, m, s[:e.cursor[sym]], b)
		}

		capital := e.ledger.Value(e.lastMark)
		cum := 0.0
		if e.cfg.InitialCapital > 0 {
			cum = capital/e.cfg.InitialCapital - 1
		}
		e.equity = append(e.equity, EquityPoint{Time: ts, Capital: capital, CumReturn: cum})
	}
}

// nextTimestamp finds the earliest unconsumed bar time strictly before end.
func (e *Engine) nextTimestamp(end time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	for _, sym := range e.symbols {
		s := e.full[sym]
		i := e.cursor[sym]
		if i >= len(s) {
			continue
		}
		t := s[i].Time
		if !t.Before(end) {
			continue
		}
		if !found || t.Before(best) {
			best = t
			found = true
		}
	}
	return best, found
}

// decideBar runs the signal pipeline for one bar: predict, evaluate,
// combine, admit, apply.
func (e *Engine) decideBar(sym string, m model.Model, hist market.Series, b market.Bar) {
	pred, err := m.Predict(hist.Tail(e.cfg.MinPredictBars))
	if err != nil {
		e.reject("model_error")
		e.log.Debug("predict failed", zap.String("symbol", sym), zap.Error(err))
		return
	}

	verdict, err := e.eval.Signal(sym)
	if err != nil {
		verdict = signal.Verdict{Action: signal.Hold}
	}

	sig := e.gen.Decide(pred, verdict)
	if sig.Action == signal.Hold {
		return
	}

	e.applySignal(sym, sig, b)
}

// applySignal routes a non-hold signal to the ledger through admission
// control. Buy flattens an open short before anything else, and otherwise
// opens or averages into a long; Sell mirrors; Close flattens whatever is
// open. Rejections are dropped and counted, never fatal.
func (e *Engine) applySignal(sym string, sig signal.Signal, b market.Bar) {
	pos, hasPos := e.ledger.Position(sym)

	switch sig.Action {
	case signal.Close:
		if hasPos {
			e.closeOut(sym, pos, sig.Confidence, b)
		}
	case signal.Buy:
		if hasPos && pos.Side == portfolio.Short {
			e.closeOut(sym, pos, sig.Confidence, b)
			return
		}
		e.enter(sym, portfolio.Long, sig.Confidence, b)
	case signal.Sell:
		if hasPos && pos.Side == portfolio.Long {
			e.closeOut(sym, pos, sig.Confidence, b)
			return
		}
		e.enter(sym, portfolio.Short, sig.Confidence, b)
	}
}

func (e *Engine) enter(sym string, side portfolio.Side, confidence float64, b market.Bar) {
	price := b.Close
	if price <= 0 {
		return
	}

	qty := e.ledger.Cash() * e.cfg.PositionPct / price
	if qty <= 0 {
		return
	}
	notional := qty * price

	if err := e.guard.Admit(b.Time, sym, notional, e.ledger.Value(e.lastMark)); err != nil {
		e.reject(rejectionReason(err))
		e.log.Debug("entry rejected", zap.String("symbol", sym), zap.Error(err))
		return
	}

	commission := notional * e.cfg.CommissionRate
	slip := notional * e.cfg.SlippageRate

	if _, err := e.ledger.Open(sym, qty, price, side, nil, nil, b.Time, commission+slip); err != nil {
		e.reject(rejectionReason(err))
		e.log.Debug("entry rejected by ledger", zap.String("symbol", sym), zap.Error(err))
		return
	}

	action := signal.Buy
	if side == portfolio.Short {
		action = signal.Sell
	}
	e.recordTrade(Trade{
		Time:       b.Time,
		Symbol:     sym,
		Action:     action,
		Quantity:   qty,
		Price:      price,
		Commission: commission,
		Slippage:   slip,
		Confidence: confidence,
	})
}

func (e *Engine) closeOut(sym string, pos portfolio.Position, confidence float64, b market.Bar) {
	price := b.Close
	if price <= 0 {
		return
	}
	notional := pos.Quantity * price

	if err := e.guard.AdmitExit(b.Time, sym); err != nil {
		e.reject(rejectionReason(err))
		e.log.Debug("exit rejected", zap.String("symbol", sym), zap.Error(err))
		return
	}

	commission := notional * e.cfg.CommissionRate
	slip := notional * e.cfg.SlippageRate

	pl, err := e.ledger.Close(sym, 0, price, b.Time, commission+slip)
	if err != nil {
		e.reject(rejectionReason(err))
		e.log.Debug("exit rejected by ledger", zap.String("symbol", sym), zap.Error(err))
		return
	}

	// Closing a long sells; closing a short buys back.
	action := signal.Sell
	if pos.Side == portfolio.Short {
		action = signal.Buy
	}
	e.recordTrade(Trade{
		Time:       b.Time,
		Symbol:     sym,
		Action:     action,
		Quantity:   pos.Quantity,
		Price:      price,
		Commission: commission,
		Slippage:   slip,
		Confidence: confidence,
		RealizedPL: &pl,
	})
}

func (e *Engine) recordTrade(t Trade) {
	t.ActionName = t.Action.String()
	t.CapitalAfter = e.ledger.Value(e.lastMark)
	e.trades = append(e.trades, t)
}

func (e *Engine) summarize(cycles int) *Result {
	points := make([]metrics.Point, len(e.equity))
	for i, p := range e.equity {
		points[i] = metrics.Point{Time: p.Time, Capital: p.Capital}
	}

	var realized []float64
	for _, t := range e.trades {
		if t.RealizedPL != nil {
			realized = append(realized, *t.RealizedPL)
		}
	}

	report := metrics.Calculator{RiskFreeRate: e.cfg.RiskFreeRate}.Summarize(metrics.Inputs{
		InitialCapital: e.cfg.InitialCapital,
		Equity:         points,
		Realized:       realized,
	})

	return &Result{
		Strategy:   e.gen.Strategy.String(),
		Policy:     e.cfg.Policy.String(),
		Symbols:    e.symbols,
		Start:      e.cfg.Start,
		End:        e.cfg.End,
		Report:     report,
		Trades:     e.trades,
		Equity:     e.equity,
		Warnings:   e.warnings,
		Rejections: e.rejections,
		Cycles:     cycles,
	}
}

func (e *Engine) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.warnings = append(e.warnings, msg)
	e.log.Warn(msg)
}

func (e *Engine) reject(reason string) {
	e.rejections[reason]++
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, guard.ErrTradingDisabled):
		return "trading_disabled"
	case errors.Is(err, guard.ErrCooldownActive):
		return "cooldown"
	case errors.Is(err, guard.ErrDailyLimit):
		return "daily_limit"
	case errors.Is(err, guard.ErrPositionSize):
		return "position_size"
	case errors.Is(err, portfolio.ErrInsufficientCapital):
		return "insufficient_capital"
	case errors.Is(err, portfolio.ErrPositionNotFound):
		return "position_not_found"
	}
	return "error"
}
