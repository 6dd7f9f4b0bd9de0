package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/open-justice/intervention-graph/internal/consent"
	"github.com/open-justice/intervention-graph/internal/db"
	"github.com/open-justice/intervention-graph/internal/discovery"
	"github.com/open-justice/intervention-graph/internal/entity"
	"github.com/open-justice/intervention-graph/internal/research"
	"github.com/open-justice/intervention-graph/internal/scorer"
	anthropicpkg "github.com/open-justice/intervention-graph/pkg/anthropic"
)

// graphEnv wires the stores and engines every command shares.
type graphEnv struct {
	Pool     *pgxpool.Pool
	Entities *entity.PostgresStore
	Ledger   *consent.PostgresLedger
	Queue    *discovery.PostgresStore
	Pipeline *discovery.Pipeline
	Ranker   *scorer.Ranker
	Sessions research.Store
	Engine   *research.Engine

	closeSessions func() error
}

func (e *graphEnv) Close() {
	if e.closeSessions != nil {
		_ = e.closeSessions()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
}

func initGraph(ctx context.Context) (*graphEnv, error) {
	pool, err := db.Open(ctx, cfg.Store.DatabaseURL, nil)
	if err != nil {
		return nil, err
	}

	env := &graphEnv{
		Pool:     pool,
		Entities: entity.NewPostgresStore(pool),
		Ledger:   consent.NewPostgresLedger(pool),
		Queue:    discovery.NewPostgresStore(pool),
	}

	env.Pipeline = discovery.NewPipeline(env.Queue, env.Entities, env.Ledger, nil, cfg.Discovery.DuplicateThreshold)
	env.Pipeline.EnableTx(pool, func(tx db.Pool) (discovery.Store, entity.Store, consent.Ledger) {
		return discovery.NewPostgresStore(tx), entity.NewPostgresStore(tx), consent.NewPostgresLedger(tx)
	})
	env.Ranker = scorer.NewRanker(env.Entities)

	// Research sessions can live in a local sqlite file; everything else
	// requires postgres.
	switch cfg.Store.Driver {
	case "sqlite":
		st, err := research.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			pool.Close()
			return nil, err
		}
		env.Sessions = st
		env.closeSessions = st.Close
	case "postgres":
		env.Sessions = research.NewPostgresStore(pool)
	default:
		pool.Close()
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}

	var planner research.Planner = research.StaticPlanner{}
	if cfg.Anthropic.Key != "" {
		planner = research.NewClaudePlanner(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.PlannerModel)
	}

	env.Engine = research.NewEngine(env.Sessions, env.Entities, planner, research.EngineConfig{
		ToolTimeout: time.Duration(cfg.Research.ToolTimeoutSecs) * time.Second,
		LeaseTTL:    time.Duration(cfg.Research.LeaseTTLSecs) * time.Second,
		RatePerSec:  cfg.Research.RatePerSec,
	})

	return env, nil
}
