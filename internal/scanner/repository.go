package scanner

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aimpatfx/backend/internal/contracts"
)

// Repository persists confirmed trading signals. Rows are immutable;
// a new scan cycle only ever appends.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new signal repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save inserts a confirmed signal and fills its ID and CreatedAt
func (r *Repository) Save(ctx context.Context, signal *contracts.TradingSignal) error {
	query := `
		INSERT INTO trading_signals
			(asset, direction, entry_price, stop_loss, take_profit, justification, technical_pattern)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	return r.pool.QueryRow(ctx, query,
		signal.Asset, signal.Direction, signal.EntryPrice, signal.StopLoss,
		signal.TakeProfit, signal.Justification, signal.TechnicalPattern,
	).Scan(&signal.ID, &signal.CreatedAt)
}

// Recent returns the latest signals, newest first
func (r *Repository) Recent(ctx context.Context, limit int) ([]contracts.TradingSignal, error) {
	query := `
		SELECT id, asset, direction, entry_price, stop_loss, take_profit,
			   justification, technical_pattern, created_at
		FROM trading_signals
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []contracts.TradingSignal
	for rows.Next() {
		var s contracts.TradingSignal
		if err := rows.Scan(
			&s.ID, &s.Asset, &s.Direction, &s.EntryPrice, &s.StopLoss,
			&s.TakeProfit, &s.Justification, &s.TechnicalPattern, &s.CreatedAt,
		); err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}

	return signals, rows.Err()
}
