package store

import (
	"context"
	"fmt"

	"github.com/quantfold/marketetl/pkg/database"
	"github.com/quantfold/marketetl/pkg/logger"
	"github.com/quantfold/marketetl/pkg/redis"
)

// Store bundles the concrete repositories over one connection pool.
// ⭐ SSOT: 모든 영속성 접근은 이 저장소 묶음을 통해서만
type Store struct {
	db     *database.DB
	logger *logger.Logger

	Assets   *AssetRepository
	Bars     *BarRepository
	Macro    *MacroRepository
	Events   *EventRepository
	Features *FeatureRepository
	Labels   *LabelRepository
}

// New wires the repositories. cache may be a disabled client's cache; every
// repository degrades to direct queries then.
func New(db *database.DB, cache *redis.Cache, log *logger.Logger) *Store {
	assets := NewAssetRepository(db.Pool, cache, log)
	return &Store{
		db:       db,
		logger:   log,
		Assets:   assets,
		Bars:     NewBarRepository(db.Pool, assets),
		Macro:    NewMacroRepository(db.Pool, cache, log),
		Events:   NewEventRepository(db.Pool),
		Features: NewFeatureRepository(db.Pool, assets, cache, log),
		Labels:   NewLabelRepository(db.Pool, assets),
	}
}

// Migrate creates the schema and tables if absent. Safe to run on every
// start.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	s.logger.Info("schema migration complete")
	return nil
}

var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS data`,

	`CREATE TABLE IF NOT EXISTS data.assets (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		symbol TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		asset_type TEXT NOT NULL DEFAULT 'etf',
		exchange TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL DEFAULT 'USD',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS data.daily_bars (
		asset_id BIGINT NOT NULL REFERENCES data.assets(id),
		date DATE NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		adj_close DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL,
		source TEXT NOT NULL DEFAULT 'yahoo',
		PRIMARY KEY (asset_id, date)
	)`,

	`CREATE TABLE IF NOT EXISTS data.macro_series (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		series_key TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		frequency TEXT NOT NULL DEFAULT 'daily',
		source TEXT NOT NULL DEFAULT 'fred'
	)`,

	`CREATE TABLE IF NOT EXISTS data.macro_daily (
		series_id BIGINT NOT NULL REFERENCES data.macro_series(id),
		date DATE NOT NULL,
		value DOUBLE PRECISION,
		days_since_update INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (series_id, date)
	)`,

	`CREATE TABLE IF NOT EXISTS data.events_daily (
		date DATE NOT NULL,
		event_type TEXT NOT NULL,
		event_name TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (date, event_type)
	)`,

	`CREATE TABLE IF NOT EXISTS data.features_daily (
		asset_id BIGINT NOT NULL REFERENCES data.assets(id),
		date DATE NOT NULL,
		feature_json JSONB NOT NULL,
		manifest_version TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (asset_id, date)
	)`,

	`CREATE TABLE IF NOT EXISTS data.labels_daily (
		asset_id BIGINT NOT NULL REFERENCES data.assets(id),
		date DATE NOT NULL,
		primary_target DOUBLE PRECISION,
		y_1d_vol_clip DOUBLE PRECISION,
		y_5d_vol_clip DOUBLE PRECISION,
		y_class_1d SMALLINT,
		y_class_5d SMALLINT,
		y_1d_raw DOUBLE PRECISION,
		y_5d_raw DOUBLE PRECISION,
		y_1d_vol DOUBLE PRECISION,
		y_5d_vol DOUBLE PRECISION,
		y_1d_clipped DOUBLE PRECISION,
		y_5d_clipped DOUBLE PRECISION,
		y_1d SMALLINT NOT NULL DEFAULT 0,
		y_5d SMALLINT NOT NULL DEFAULT 0,
		y_thresh SMALLINT NOT NULL DEFAULT 0,
		PRIMARY KEY (asset_id, date)
	)`,
}
