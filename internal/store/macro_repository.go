package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/marketetl/internal/contracts"
	"github.com/quantfold/marketetl/pkg/logger"
	"github.com/quantfold/marketetl/pkg/redis"
)

// MacroRepository implements contracts.MacroRepository over
// data.macro_series and data.macro_daily.
type MacroRepository struct {
	pool   *pgxpool.Pool
	cache  *redis.Cache
	logger *logger.Logger

	mu  sync.RWMutex
	ids map[string]int64
}

// NewMacroRepository creates a new macro repository.
func NewMacroRepository(pool *pgxpool.Pool, cache *redis.Cache, log *logger.Logger) *MacroRepository {
	return &MacroRepository{
		pool:   pool,
		cache:  cache,
		logger: log,
		ids:    make(map[string]int64),
	}
}

// UpsertSeries writes catalog entries and invalidates the id map.
func (r *MacroRepository) UpsertSeries(ctx context.Context, series []contracts.MacroSeries) error {
	query := `
		INSERT INTO data.macro_series (series_key, name, frequency, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (series_key) DO UPDATE SET
			name = EXCLUDED.name,
			frequency = EXCLUDED.frequency,
			source = EXCLUDED.source
	`

	for _, s := range series {
		if _, err := r.pool.Exec(ctx, query, s.SeriesID, s.Name, s.Frequency, s.Source); err != nil {
			return fmt.Errorf("upsert macro series %s: %w", s.SeriesID, err)
		}
	}

	r.mu.Lock()
	r.ids = make(map[string]int64)
	r.mu.Unlock()
	if err := r.cache.Delete(ctx, redis.MacroMapKey()); err != nil {
		r.logger.WithError(err).Warn("macro id map cache invalidation failed")
	}
	return nil
}

// UpsertObservations writes aligned observations keyed (series, date).
func (r *MacroRepository) UpsertObservations(ctx context.Context, obs []contracts.MacroObservation) error {
	if len(obs) == 0 {
		return nil
	}

	query := `
		INSERT INTO data.macro_daily (series_id, date, value, days_since_update)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (series_id, date) DO UPDATE SET
			value = EXCLUDED.value,
			days_since_update = EXCLUDED.days_since_update
	`

	for _, o := range obs {
		id, err := r.resolveID(ctx, o.SeriesID)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, query, id, o.Date, nullFloat(o.Value), o.Staleness); err != nil {
			return fmt.Errorf("upsert macro %s %s: %w", o.SeriesID, o.Date.Format("2006-01-02"), err)
		}
	}
	return nil
}

// History returns observations for a series since a date, ascending. Null
// values are skipped; a stored null carries no information here.
func (r *MacroRepository) History(ctx context.Context, seriesID string, since time.Time) ([]contracts.MacroObservation, error) {
	id, err := r.resolveID(ctx, seriesID)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT date, value, days_since_update
		FROM data.macro_daily
		WHERE series_id = $1 AND date >= $2 AND value IS NOT NULL
		ORDER BY date ASC
	`, id, since)
	if err != nil {
		return nil, fmt.Errorf("macro history for %s: %w", seriesID, err)
	}
	defer rows.Close()

	var obs []contracts.MacroObservation
	for rows.Next() {
		o := contracts.MacroObservation{SeriesID: seriesID}
		if err := rows.Scan(&o.Date, &o.Value, &o.Staleness); err != nil {
			return nil, err
		}
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

func (r *MacroRepository) resolveID(ctx context.Context, seriesKey string) (int64, error) {
	r.mu.RLock()
	id, ok := r.ids[seriesKey]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	err := r.pool.QueryRow(ctx, `SELECT id FROM data.macro_series WHERE series_key = $1`, seriesKey).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		err = r.pool.QueryRow(ctx, `
			INSERT INTO data.macro_series (series_key)
			VALUES ($1)
			ON CONFLICT (series_key) DO UPDATE SET series_key = EXCLUDED.series_key
			RETURNING id
		`, seriesKey).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve macro series id for %s: %w", seriesKey, err)
	}

	r.mu.Lock()
	r.ids[seriesKey] = id
	r.mu.Unlock()
	return id, nil
}
