package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quantfold/backtest/engine"
	"github.com/quantfold/backtest/signal"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordRun(r RunRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO runs
		(run_id, created, strategy, policy, symbols, start, "end",
		 initial_capital, final_capital, total_return, max_drawdown,
		 sharpe_ratio, win_rate, trades)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Created, r.Strategy, r.Policy, r.Symbols, r.Start, r.End,
		r.InitialCapital, r.FinalCapital, r.TotalReturn, r.MaxDrawdown,
		r.SharpeRatio, r.WinRate, r.Trades,
	)
	return err
}

func (j *SQLite) RecordTrade(runID string, t engine.Trade) error {
	var pl sql.NullFloat64
	if t.RealizedPL != nil {
		pl = sql.NullFloat64{Float64: *t.RealizedPL, Valid: true}
	}
	_, err := j.db.Exec(`
		INSERT INTO trades
		(run_id, time, symbol, action, quantity, price, commission, slippage,
		 confidence, capital_after, realized_pl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, t.Time, t.Symbol, t.Action.String(), t.Quantity, t.Price,
		t.Commission, t.Slippage, t.Confidence, t.CapitalAfter, pl,
	)
	return err
}

func (j *SQLite) RecordEquity(runID string, p engine.EquityPoint) error {
	_, err := j.db.Exec(`
		INSERT INTO equity (run_id, time, capital, cum_return)
		VALUES (?, ?, ?, ?)`,
		runID, p.Time, p.Capital, p.CumReturn,
	)
	return err
}

// GetRun returns a single run summary row by id.
func (j *SQLite) GetRun(runID string) (RunRecord, error) {
	var r RunRecord
	row := j.db.QueryRow(`
		SELECT run_id, created, strategy, policy, symbols, start, "end",
		       initial_capital, final_capital, total_return, max_drawdown,
		       sharpe_ratio, win_rate, trades
		FROM runs WHERE run_id = ?`, runID)

	err := row.Scan(&r.RunID, &r.Created, &r.Strategy, &r.Policy, &r.Symbols,
		&r.Start, &r.End, &r.InitialCapital, &r.FinalCapital, &r.TotalReturn,
		&r.MaxDrawdown, &r.SharpeRatio, &r.WinRate, &r.Trades)
	if err == sql.ErrNoRows {
		return RunRecord{}, fmt.Errorf("run %q not found", runID)
	}
	if err != nil {
		return RunRecord{}, err
	}
	return r, nil
}

// ListTradesByRun returns a run's trades ordered by time.
func (j *SQLite) ListTradesByRun(runID string) ([]engine.Trade, error) {
	rows, err := j.db.Query(`
		SELECT time, symbol, action, quantity, price, commission, slippage,
		       confidence, capital_after, realized_pl
		FROM trades WHERE run_id = ? ORDER BY time ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Trade
	for rows.Next() {
		var t engine.Trade
		var action string
		var pl sql.NullFloat64
		if err := rows.Scan(&t.Time, &t.Symbol, &action, &t.Quantity, &t.Price,
			&t.Commission, &t.Slippage, &t.Confidence, &t.CapitalAfter, &pl); err != nil {
			return nil, err
		}
		t.Action = parseAction(action)
		t.ActionName = action
		if pl.Valid {
			v := pl.Float64
			t.RealizedPL = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListEquityByRun returns a run's equity curve ordered by time.
func (j *SQLite) ListEquityByRun(runID string) ([]engine.EquityPoint, error) {
	rows, err := j.db.Query(`
		SELECT time, capital, cum_return
		FROM equity WHERE run_id = ? ORDER BY time ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.EquityPoint
	for rows.Next() {
		var p engine.EquityPoint
		if err := rows.Scan(&p.Time, &p.Capital, &p.CumReturn); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

func parseAction(s string) signal.Action {
	switch s {
	case "BUY":
		return signal.Buy
	case "SELL":
		return signal.Sell
	case "CLOSE":
		return signal.Close
	}
	return signal.Hold
}
