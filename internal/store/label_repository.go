package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/marketetl/internal/contracts"
)

// LabelRepository implements contracts.LabelRepository over
// data.labels_daily.
type LabelRepository struct {
	pool   *pgxpool.Pool
	assets *AssetRepository
}

// NewLabelRepository creates a new label repository.
func NewLabelRepository(pool *pgxpool.Pool, assets *AssetRepository) *LabelRepository {
	return &LabelRepository{pool: pool, assets: assets}
}

// UpsertLabels writes label rows keyed (symbol, date). Undefined targets
// persist as null.
func (r *LabelRepository) UpsertLabels(ctx context.Context, rows []contracts.LabelRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO data.labels_daily (
			asset_id, date,
			primary_target, y_1d_vol_clip, y_5d_vol_clip,
			y_class_1d, y_class_5d,
			y_1d_raw, y_5d_raw, y_1d_vol, y_5d_vol, y_1d_clipped, y_5d_clipped,
			y_1d, y_5d, y_thresh
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (asset_id, date) DO UPDATE SET
			primary_target = EXCLUDED.primary_target,
			y_1d_vol_clip = EXCLUDED.y_1d_vol_clip,
			y_5d_vol_clip = EXCLUDED.y_5d_vol_clip,
			y_class_1d = EXCLUDED.y_class_1d,
			y_class_5d = EXCLUDED.y_class_5d,
			y_1d_raw = EXCLUDED.y_1d_raw,
			y_5d_raw = EXCLUDED.y_5d_raw,
			y_1d_vol = EXCLUDED.y_1d_vol,
			y_5d_vol = EXCLUDED.y_5d_vol,
			y_1d_clipped = EXCLUDED.y_1d_clipped,
			y_5d_clipped = EXCLUDED.y_5d_clipped,
			y_1d = EXCLUDED.y_1d,
			y_5d = EXCLUDED.y_5d,
			y_thresh = EXCLUDED.y_thresh
	`

	for _, row := range rows {
		id, err := r.assets.ResolveID(ctx, row.Symbol)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, query,
			id, row.Date,
			nullFloat(row.PrimaryTarget), nullFloat(row.Y1DVolClip), nullFloat(row.Y5DVolClip),
			row.YClass1D, row.YClass5D,
			nullFloat(row.Y1DRaw), nullFloat(row.Y5DRaw),
			nullFloat(row.Y1DVol), nullFloat(row.Y5DVol),
			nullFloat(row.Y1DClipped), nullFloat(row.Y5DClipped),
			row.Y1D, row.Y5D, row.YThresh,
		); err != nil {
			return fmt.Errorf("upsert labels %s %s: %w", row.Symbol, row.Date.Format("2006-01-02"), err)
		}
	}
	return nil
}

// LatestDate returns the most recent persisted label date for a symbol.
func (r *LabelRepository) LatestDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	id, err := r.assets.ResolveID(ctx, symbol)
	if err != nil {
		return time.Time{}, false, err
	}

	var latest time.Time
	err = r.pool.QueryRow(ctx, `
		SELECT date FROM data.labels_daily
		WHERE asset_id = $1
		ORDER BY date DESC
		LIMIT 1
	`, id).Scan(&latest)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest label date for %s: %w", symbol, err)
	}
	return latest, true, nil
}

// nullFloat maps undefined or non-finite values to SQL null.
func nullFloat(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
