package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/marketetl/internal/contracts"
	"github.com/quantfold/marketetl/internal/features"
	"github.com/quantfold/marketetl/pkg/logger"
	"github.com/quantfold/marketetl/pkg/redis"
)

// FeatureRepository implements contracts.FeatureRepository over
// data.features_daily. Rows carry the manifest version; a write under a
// drifted manifest is rejected so the table never mixes schemas silently.
type FeatureRepository struct {
	pool   *pgxpool.Pool
	assets *AssetRepository
	cache  *redis.Cache
	logger *logger.Logger
}

// NewFeatureRepository creates a new feature repository.
func NewFeatureRepository(pool *pgxpool.Pool, assets *AssetRepository, cache *redis.Cache, log *logger.Logger) *FeatureRepository {
	return &FeatureRepository{pool: pool, assets: assets, cache: cache, logger: log}
}

// UpsertFeatures writes feature rows keyed (symbol, date).
func (r *FeatureRepository) UpsertFeatures(ctx context.Context, rows []contracts.FeatureRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO data.features_daily (asset_id, date, feature_json, manifest_version, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (asset_id, date) DO UPDATE SET
			feature_json = EXCLUDED.feature_json,
			manifest_version = EXCLUDED.manifest_version,
			updated_at = now()
	`

	for _, row := range rows {
		if row.ManifestVersion != features.Version {
			return fmt.Errorf("refusing feature write for %s %s: manifest %q, current %q",
				row.Symbol, row.Date.Format("2006-01-02"), row.ManifestVersion, features.Version)
		}

		id, err := r.assets.ResolveID(ctx, row.Symbol)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(row.Features)
		if err != nil {
			return fmt.Errorf("marshal features for %s %s: %w", row.Symbol, row.Date.Format("2006-01-02"), err)
		}
		if _, err := r.pool.Exec(ctx, query, id, row.Date, payload, row.ManifestVersion); err != nil {
			return fmt.Errorf("upsert features %s %s: %w", row.Symbol, row.Date.Format("2006-01-02"), err)
		}
	}

	// Latest-date probes are cached briefly; drop them after a write
	for _, row := range rows {
		if err := r.cache.Delete(ctx, redis.LatestDateKey("features_daily", row.Symbol)); err != nil {
			r.logger.WithError(err).Warn("feature latest-date cache invalidation failed")
			break
		}
	}
	return nil
}

// LatestDate returns the most recent persisted feature date for a symbol.
// Reads through the shared cache when one is configured. A row under a
// drifted manifest version fails the read loudly.
func (r *FeatureRepository) LatestDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	cacheKey := redis.LatestDateKey("features_daily", symbol)
	var cached string
	if hit, err := r.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		if t, perr := time.ParseInLocation("2006-01-02", cached, time.UTC); perr == nil {
			return t, true, nil
		}
	}

	id, err := r.assets.ResolveID(ctx, symbol)
	if err != nil {
		return time.Time{}, false, err
	}

	var latest time.Time
	var version string
	err = r.pool.QueryRow(ctx, `
		SELECT date, manifest_version FROM data.features_daily
		WHERE asset_id = $1
		ORDER BY date DESC
		LIMIT 1
	`, id).Scan(&latest, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest feature date for %s: %w", symbol, err)
	}
	if version != features.Version {
		return time.Time{}, false, fmt.Errorf("stored features for %s use manifest %q, current %q: rebuild required",
			symbol, version, features.Version)
	}

	if err := r.cache.Set(ctx, cacheKey, latest.Format("2006-01-02"), redis.TTLShort); err != nil {
		r.logger.WithError(err).Warn("feature latest-date cache write failed")
	}
	return latest, true, nil
}
