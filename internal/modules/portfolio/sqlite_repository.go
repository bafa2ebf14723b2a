package portfolio

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/nexus/internal/database"
	"github.com/aristath/nexus/internal/domain"
	"github.com/rs/zerolog"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SQLiteRepository stores portfolios in the ledger database
type SQLiteRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteRepository creates a repository over the ledger database
func NewSQLiteRepository(db *sql.DB, log zerolog.Logger) *SQLiteRepository {
	return &SQLiteRepository{
		db:  db,
		log: log.With().Str("repo", "portfolio").Logger(),
	}
}

// Get loads a portfolio with its positions and goals
func (r *SQLiteRepository) Get(ctx context.Context, userID string) (*Portfolio, error) {
	return r.load(ctx, r.db, userID)
}

// Save replaces the stored portfolio
func (r *SQLiteRepository) Save(ctx context.Context, p *Portfolio) error {
	return database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		return r.write(ctx, tx, p)
	})
}

// Update loads, mutates and persists a portfolio inside one transaction
func (r *SQLiteRepository) Update(ctx context.Context, userID string, fresh func() *Portfolio, fn UpdateFunc) (*Portfolio, error) {
	var result *Portfolio

	err := database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		p, err := r.load(ctx, tx, userID)
		if err != nil {
			return err
		}
		if p == nil {
			p = fresh()
		}

		txs, err := fn(p)
		if err != nil {
			return err
		}

		if err := r.write(ctx, tx, p); err != nil {
			return err
		}
		for _, t := range txs {
			if err := r.insertTransaction(ctx, tx, t); err != nil {
				return err
			}
		}

		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Debug().Str("user_id", userID).Float64("total_value", result.TotalValue).Msg("Portfolio updated")
	return result, nil
}

// AppendTransaction inserts a single transaction
func (r *SQLiteRepository) AppendTransaction(ctx context.Context, t Transaction) error {
	return r.insertTransaction(ctx, r.db, t)
}

// ListTransactions returns up to limit transactions, newest first
func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	query := `
		SELECT id, user_id, type, amount, symbol, quantity, description, created_at
		FROM transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
	`
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		var txType string
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.UserID, &txType, &t.Amount, &t.Symbol, &t.Quantity, &t.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Type = TransactionType(txType)
		t.Date = time.Unix(createdAt, 0).UTC()
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txs, nil
}

func (r *SQLiteRepository) load(ctx context.Context, q querier, userID string) (*Portfolio, error) {
	var p Portfolio
	var tradingEnabled, riskScore int
	var riskLevel string
	var createdAt, lastUpdated int64

	err := q.QueryRowContext(ctx, `
		SELECT user_id, cash, total_value, trading_enabled, risk_level, risk_score, created_at, last_updated
		FROM portfolios WHERE user_id = ?
	`, userID).Scan(&p.UserID, &p.Cash, &p.TotalValue, &tradingEnabled, &riskLevel, &riskScore, &createdAt, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}

	p.Settings.TradingEnabled = tradingEnabled != 0
	p.RiskProfile = domain.RiskProfile{RiskLevel: domain.RiskLevel(riskLevel), RiskScore: riskScore}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.LastUpdated = time.Unix(lastUpdated, 0).UTC()

	if p.Assets, err = r.loadPositions(ctx, q, userID); err != nil {
		return nil, err
	}
	if p.Goals, err = r.loadGoals(ctx, q, userID); err != nil {
		return nil, err
	}

	return &p, nil
}

func (r *SQLiteRepository) loadPositions(ctx context.Context, q querier, userID string) ([]Position, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT symbol, name, category, subcategory, quantity, price, value
		FROM positions WHERE user_id = ?
		ORDER BY sort_order
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := []Position{}
	for rows.Next() {
		var pos Position
		var category string
		if err := rows.Scan(&pos.Symbol, &pos.Name, &category, &pos.Subcategory, &pos.Quantity, &pos.Price, &pos.Value); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		pos.Category = domain.AssetClass(category)
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}

func (r *SQLiteRepository) loadGoals(ctx context.Context, q querier, userID string) ([]Goal, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, target_amount, current_amount, target_date, priority, created_at
		FROM goals WHERE user_id = ?
		ORDER BY created_at, rowid
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}
	defer rows.Close()

	goals := []Goal{}
	for rows.Next() {
		var g Goal
		var priority string
		var targetDate, createdAt int64
		if err := rows.Scan(&g.ID, &g.Name, &g.TargetAmount, &g.CurrentAmount, &targetDate, &priority, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		g.Priority = GoalPriority(priority)
		g.TargetDate = time.Unix(targetDate, 0).UTC()
		g.CreatedAt = time.Unix(createdAt, 0).UTC()
		goals = append(goals, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating goals: %w", err)
	}
	return goals, nil
}

func (r *SQLiteRepository) write(ctx context.Context, q querier, p *Portfolio) error {
	trading := 0
	if p.Settings.TradingEnabled {
		trading = 1
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO portfolios (user_id, cash, total_value, trading_enabled, risk_level, risk_score, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			cash = excluded.cash,
			total_value = excluded.total_value,
			trading_enabled = excluded.trading_enabled,
			risk_level = excluded.risk_level,
			risk_score = excluded.risk_score,
			last_updated = excluded.last_updated
	`, p.UserID, p.Cash, p.TotalValue, trading, string(p.RiskProfile.RiskLevel), p.RiskProfile.RiskScore,
		p.CreatedAt.Unix(), p.LastUpdated.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert portfolio: %w", err)
	}

	// Positions are small per user; rewrite them wholesale to keep ordering
	if _, err := q.ExecContext(ctx, "DELETE FROM positions WHERE user_id = ?", p.UserID); err != nil {
		return fmt.Errorf("failed to clear positions: %w", err)
	}
	for i, pos := range p.Assets {
		_, err := q.ExecContext(ctx, `
			INSERT INTO positions (user_id, symbol, name, category, subcategory, quantity, price, value, sort_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.UserID, pos.Symbol, pos.Name, string(pos.Category), pos.Subcategory, pos.Quantity, pos.Price, pos.Value, i)
		if err != nil {
			return fmt.Errorf("failed to insert position %s: %w", pos.Symbol, err)
		}
	}

	for _, g := range p.Goals {
		_, err := q.ExecContext(ctx, `
			INSERT INTO goals (id, user_id, name, target_amount, current_amount, target_date, priority, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, id) DO UPDATE SET
				name = excluded.name,
				target_amount = excluded.target_amount,
				current_amount = excluded.current_amount,
				target_date = excluded.target_date,
				priority = excluded.priority
		`, g.ID, p.UserID, g.Name, g.TargetAmount, g.CurrentAmount, g.TargetDate.Unix(), string(g.Priority), g.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to upsert goal %s: %w", g.ID, err)
		}
	}

	return nil
}

func (r *SQLiteRepository) insertTransaction(ctx context.Context, q querier, t Transaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, symbol, quantity, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, string(t.Type), t.Amount, t.Symbol, t.Quantity, t.Description, t.Date.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}
