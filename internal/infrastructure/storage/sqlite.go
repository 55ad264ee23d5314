package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ladder/internal/domain"
)

const defaultFillsLimit = 100

// SQLiteJournal is the fill and P&L journal. Decimals are stored as TEXT so no
// precision is lost.
type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	j := &SQLiteJournal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *SQLiteJournal) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			level INTEGER NOT NULL,
			order_id TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT NOT NULL,
			quantity TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			filled_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_strategy ON fills(strategy_id);`,
		`CREATE TABLE IF NOT EXISTS pnl_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			level INTEGER NOT NULL,
			amount TEXT NOT NULL,
			total TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pnl_strategy ON pnl_events(strategy_id);`,
	}

	for _, q := range queries {
		if _, err := j.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func (j *SQLiteJournal) RecordFill(ctx context.Context, f *domain.FillRecord) error {
	query := `INSERT INTO fills (strategy_id, symbol, level, order_id, side, price, quantity, reason, filled_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := j.db.ExecContext(ctx, query,
		f.StrategyID, f.Symbol, f.Level, f.OrderID, string(f.Side), f.Price.String(), f.Quantity.String(), f.Reason, f.FilledAt.UTC())
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		f.ID = id
	}
	return nil
}

func (j *SQLiteJournal) RecordPnL(ctx context.Context, p *domain.PnLRecord) error {
	query := `INSERT INTO pnl_events (strategy_id, symbol, level, amount, total, created_at)
			  VALUES (?, ?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, query,
		p.StrategyID, p.Symbol, p.Level, p.Amount.String(), p.Total.String(), p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert pnl event: %w", err)
	}
	return nil
}

// ListFills returns the newest fills first. An empty strategyID lists every instance.
func (j *SQLiteJournal) ListFills(ctx context.Context, strategyID string, limit int) ([]*domain.FillRecord, error) {
	if limit <= 0 {
		limit = defaultFillsLimit
	}
	query := `SELECT id, strategy_id, symbol, level, order_id, side, price, quantity, reason, filled_at
			  FROM fills WHERE (? = '' OR strategy_id = ?) ORDER BY id DESC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, query, strategyID, strategyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fills := make([]*domain.FillRecord, 0)
	for rows.Next() {
		var (
			f     domain.FillRecord
			side  string
			price string
			qty   string
		)
		if err := rows.Scan(&f.ID, &f.StrategyID, &f.Symbol, &f.Level, &f.OrderID, &side, &price, &qty, &f.Reason, &f.FilledAt); err != nil {
			return nil, err
		}
		f.Side = domain.Side(side)
		if f.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("fill %d price: %w", f.ID, err)
		}
		if f.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("fill %d quantity: %w", f.ID, err)
		}
		fills = append(fills, &f)
	}
	return fills, rows.Err()
}

// RealizedPnL sums the journaled P&L events of one instance.
func (j *SQLiteJournal) RealizedPnL(ctx context.Context, strategyID string) (decimal.Decimal, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT amount FROM pnl_events WHERE strategy_id = ?`, strategyID)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, err
		}
		amount, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}
