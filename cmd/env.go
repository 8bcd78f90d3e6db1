package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxbill-cli/internal/engine"
	"github.com/sells-group/taxbill-cli/internal/extract"
	"github.com/sells-group/taxbill-cli/internal/metrics"
	"github.com/sells-group/taxbill-cli/internal/resilience"
	"github.com/sells-group/taxbill-cli/internal/store"
	"github.com/sells-group/taxbill-cli/internal/validate"
)

// env bundles the wired subsystems shared by the extract and serve
// commands.
type env struct {
	Engine   *engine.Engine
	Store    store.Store
	Metrics  *metrics.Metrics
	Breakers *resilience.SourceBreakers
	Registry *extract.Registry
	Cache    *extract.ResponseCache
}

func (e *env) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "taxbill.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine builds the full extraction stack from config.
func initEngine(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	m := metrics.New()

	circuitCfg := resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.RecoveryTimeoutSecs)
	circuitCfg.OnStateChange = func(sourceKey string, from, to resilience.CircuitState) {
		m.IncCircuitTransition(sourceKey, to.String())
		zap.L().Warn("circuit transition",
			zap.String("source", sourceKey),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	breakers := resilience.NewSourceBreakers(circuitCfg)

	limiter := resilience.NewRateLimiter(resilience.FromRateLimitConfig(
		cfg.RateLimit.DefaultIntervalMs, cfg.RateLimit.PerSourceMs, cfg.RateLimit.GlobalRPS,
	))

	pool := resilience.NewSessionPool(resilience.PoolConfig{
		MaxSessions:    cfg.Pool.MaxSessions,
		RequestTimeout: secsToDuration(cfg.Pool.RequestTimeoutSecs),
	})

	cache := extract.NewResponseCache(cfg.Cache.Size, secsToDuration(cfg.Cache.TTLSecs))
	fetcher := extract.NewFetcher(cache, cfg.Extract.UserAgent)
	registry := extract.DefaultRegistry(fetcher)

	validator := validate.New(validate.Config{
		MinAmount:   cfg.Validate.MinAmount,
		MaxAmount:   cfg.Validate.MaxAmount,
		DefaultBand: validate.Band{Min: cfg.Validate.BandMin, Max: cfg.Validate.BandMax},
	})

	eng := engine.New(engine.Config{
		Workers: cfg.Extract.Workers,
		Retry: resilience.FromRetryConfig(
			cfg.Retry.MaxAttempts, cfg.Retry.BaseBackoffMs, cfg.Retry.MaxBackoffMs, cfg.Retry.AttemptTimeoutSecs,
		),
		CheckpointEvery:    cfg.Checkpoint.EveryItems,
		CheckpointInterval: cfg.Checkpoint.CheckpointInterval(),
		DLQMaxRetries:      cfg.Retry.DLQMaxRetries,
	}, engine.Deps{
		Registry:  registry,
		Fetcher:   fetcher,
		Validator: validator,
		Limiter:   limiter,
		Breakers:  breakers,
		Pool:      pool,
		Store:     st,
		Metrics:   m,
	})

	return &env{
		Engine:   eng,
		Store:    st,
		Metrics:  m,
		Breakers: breakers,
		Registry: registry,
		Cache:    cache,
	}, nil
}

func secsToDuration(secs int) time.Duration {
	return time.Duration(secs) * time.Second
}
