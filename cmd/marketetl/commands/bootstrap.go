package commands

import (
	"context"
	"fmt"

	"github.com/quantfold/marketetl/internal/ingest"
	"github.com/quantfold/marketetl/internal/pipeline"
	"github.com/quantfold/marketetl/internal/store"
	"github.com/quantfold/marketetl/pkg/config"
	"github.com/quantfold/marketetl/pkg/database"
	"github.com/quantfold/marketetl/pkg/logger"
	"github.com/quantfold/marketetl/pkg/redis"
)

// app bundles the wired service graph shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *logger.Logger
	db       *database.DB
	redis    *redis.Client
	store    *store.Store
	pipeline *pipeline.Pipeline
}

// bootstrap loads config and wires the full service graph: database, cache,
// repositories, vendor clients, pipeline. Callers must Close when done.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	log := logger.New(cfg)

	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	redisClient, err := redis.New(cfg)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, caching disabled")
		disabled := *cfg
		disabled.Redis.Enabled = false
		redisClient, _ = redis.New(&disabled)
	}
	cache := redis.NewCache(redisClient, "marketetl")

	st := store.New(db, cache, log)
	if err := st.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	p, err := pipeline.New(cfg,
		pipeline.Sources{
			Bars:  ingest.NewYahooClient(cfg, log),
			Macro: ingest.NewFREDClient(cfg, log),
		},
		pipeline.Repositories{
			Assets:   st.Assets,
			Bars:     st.Bars,
			Macro:    st.Macro,
			Events:   st.Events,
			Features: st.Features,
			Labels:   st.Labels,
		},
		log,
	)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   log,
		db:       db,
		redis:    redisClient,
		store:    st,
		pipeline: p,
	}, nil
}

// Close releases the database and cache connections.
func (a *app) Close() {
	a.db.Close()
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
