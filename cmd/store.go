package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/clearcost/tbm-engine/internal/engine"
	"github.com/clearcost/tbm-engine/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "tbm.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: int32(cfg.Store.MaxConns),
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initEngine(st store.Store) (*engine.Engine, error) {
	pipeline, err := engine.LoadPipelineConfig(cfg.Engine.PipelineFile)
	if err != nil {
		return nil, eris.Wrap(err, "load pipeline config")
	}
	return engine.New(st, engine.Config{
		Tolerance:   cfg.Engine.Tolerance,
		ROIPolicy:   engine.ROIPolicy(cfg.Engine.ROIPolicy),
		MaxParallel: cfg.Engine.MaxParallel,
		Pipeline:    pipeline,
	}), nil
}
