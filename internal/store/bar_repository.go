package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/marketetl/internal/contracts"
)

// BarRepository implements contracts.BarRepository over data.daily_bars.
type BarRepository struct {
	pool   *pgxpool.Pool
	assets *AssetRepository
}

// NewBarRepository creates a new bar repository.
func NewBarRepository(pool *pgxpool.Pool, assets *AssetRepository) *BarRepository {
	return &BarRepository{pool: pool, assets: assets}
}

// UpsertBars writes bars keyed (symbol, date). Re-running the same range is
// a no-op beyond refreshing values.
func (r *BarRepository) UpsertBars(ctx context.Context, bars []contracts.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	query := `
		INSERT INTO data.daily_bars (asset_id, date, open, high, low, close, adj_close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (asset_id, date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			adj_close = EXCLUDED.adj_close,
			volume = EXCLUDED.volume
	`

	for _, b := range bars {
		id, err := r.assets.ResolveID(ctx, b.Symbol)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, query,
			id, b.Date, b.Open, b.High, b.Low, b.Close, b.AdjClose, b.Volume,
		); err != nil {
			return fmt.Errorf("upsert bar %s %s: %w", b.Symbol, b.Date.Format("2006-01-02"), err)
		}
	}
	return nil
}

// History returns bars for a symbol since a date, ascending.
func (r *BarRepository) History(ctx context.Context, symbol string, since time.Time) ([]contracts.Bar, error) {
	id, err := r.assets.ResolveID(ctx, symbol)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT date, open, high, low, close, adj_close, volume
		FROM data.daily_bars
		WHERE asset_id = $1 AND date >= $2
		ORDER BY date ASC
	`, id, since)
	if err != nil {
		return nil, fmt.Errorf("bar history for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []contracts.Bar
	for rows.Next() {
		b := contracts.Bar{Symbol: symbol}
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.AdjClose, &b.Volume); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LatestDate returns the most recent bar date for a symbol. ok is false when
// no bars exist yet.
func (r *BarRepository) LatestDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	id, err := r.assets.ResolveID(ctx, symbol)
	if err != nil {
		return time.Time{}, false, err
	}

	var latest time.Time
	err = r.pool.QueryRow(ctx, `
		SELECT date FROM data.daily_bars
		WHERE asset_id = $1
		ORDER BY date DESC
		LIMIT 1
	`, id).Scan(&latest)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest bar date for %s: %w", symbol, err)
	}
	return latest, true, nil
}
