package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/marketetl/internal/contracts"
	"github.com/quantfold/marketetl/pkg/logger"
	"github.com/quantfold/marketetl/pkg/redis"
)

// AssetRepository implements contracts.AssetRepository and resolves symbols
// to asset ids for the other repositories. The id map is cached and must be
// invalidated explicitly after catalog writes, never expired implicitly
// mid-run.
type AssetRepository struct {
	pool   *pgxpool.Pool
	cache  *redis.Cache
	logger *logger.Logger

	mu  sync.RWMutex
	ids map[string]int64
}

// NewAssetRepository creates a new asset repository.
func NewAssetRepository(pool *pgxpool.Pool, cache *redis.Cache, log *logger.Logger) *AssetRepository {
	return &AssetRepository{
		pool:   pool,
		cache:  cache,
		logger: log,
		ids:    make(map[string]int64),
	}
}

// UpsertAssets writes catalog entries and invalidates the id map.
func (r *AssetRepository) UpsertAssets(ctx context.Context, assets []contracts.Asset) error {
	query := `
		INSERT INTO data.assets (symbol, name, asset_type, exchange, currency)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol) DO UPDATE SET
			name = EXCLUDED.name,
			asset_type = EXCLUDED.asset_type,
			exchange = EXCLUDED.exchange,
			currency = EXCLUDED.currency
	`

	for _, a := range assets {
		if _, err := r.pool.Exec(ctx, query, a.Symbol, a.Name, a.AssetType, a.Exchange, a.Currency); err != nil {
			return fmt.Errorf("upsert asset %s: %w", a.Symbol, err)
		}
	}

	r.Invalidate(ctx)
	return nil
}

// ResolveID maps a symbol to its asset id, creating a catalog stub for
// unknown symbols so ingestion never fails on ordering.
func (r *AssetRepository) ResolveID(ctx context.Context, symbol string) (int64, error) {
	r.mu.RLock()
	id, ok := r.ids[symbol]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	err := r.pool.QueryRow(ctx, `SELECT id FROM data.assets WHERE symbol = $1`, symbol).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		err = r.pool.QueryRow(ctx, `
			INSERT INTO data.assets (symbol)
			VALUES ($1)
			ON CONFLICT (symbol) DO UPDATE SET symbol = EXCLUDED.symbol
			RETURNING id
		`, symbol).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve asset id for %s: %w", symbol, err)
	}

	r.mu.Lock()
	r.ids[symbol] = id
	r.mu.Unlock()
	return id, nil
}

// Invalidate drops the local and shared id maps.
func (r *AssetRepository) Invalidate(ctx context.Context) {
	r.mu.Lock()
	r.ids = make(map[string]int64)
	r.mu.Unlock()

	if err := r.cache.Delete(ctx, redis.AssetMapKey()); err != nil {
		r.logger.WithError(err).Warn("asset id map cache invalidation failed")
	}
}
