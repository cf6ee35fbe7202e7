package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketloop/spreadbot/internal/domain"
)

// Journal implements domain.TradeJournal on PostgreSQL. Writes are
// append-only; the trading engine never reads them back.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal creates a Journal backed by the given connection pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// RecordFill persists one fill. Replays of the same fill id are
// silently skipped via ON CONFLICT DO NOTHING.
func (j *Journal) RecordFill(ctx context.Context, fill domain.FillRecord) error {
	const query = `
		INSERT INTO fills (id, order_id, asset, side, price, size, filled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err := j.pool.Exec(ctx, query,
		fill.ID, fill.OrderID, string(fill.Asset), string(fill.Side),
		fill.Price, fill.Size, fill.FilledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record fill %s: %w", fill.ID, err)
	}
	return nil
}

// RecordRoundTrip persists one completed buy-then-sell cycle.
func (j *Journal) RecordRoundTrip(ctx context.Context, rt domain.RoundTrip) error {
	const query = `
		INSERT INTO round_trips (
			id, asset, slug, buy_price, sell_price,
			size, gross_pnl_usd, opened_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err := j.pool.Exec(ctx, query,
		rt.ID, string(rt.Asset), rt.Slug, rt.BuyPrice, rt.SellPrice,
		rt.Size, rt.GrossPnLUSD, rt.OpenedAt, rt.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record round trip %s: %w", rt.ID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.TradeJournal = (*Journal)(nil)
