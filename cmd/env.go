package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/serp-monitor/internal/detect"
	"github.com/sells-group/serp-monitor/internal/ingest"
	"github.com/sells-group/serp-monitor/internal/model"
	"github.com/sells-group/serp-monitor/internal/notify"
	"github.com/sells-group/serp-monitor/internal/resilience"
	"github.com/sells-group/serp-monitor/internal/store"
	"github.com/sells-group/serp-monitor/pkg/serpapi"
)

// monitorEnv holds the stores, clients and workers shared by the serve, run
// and digest commands.
type monitorEnv struct {
	Stores     *store.Registry
	Ingester   *ingest.Ingester   // nil in cli mode
	Dispatcher *notify.Dispatcher // nil in cli mode
	pool       *pgxpool.Pool
}

// Close drains pending notifications and releases the stores.
func (e *monitorEnv) Close(ctx context.Context) {
	if e.Dispatcher != nil {
		if err := e.Dispatcher.Close(ctx); err != nil {
			zap.L().Warn("notify: close dispatcher", zap.Error(err))
		}
	}
	if e.Stores != nil {
		if err := e.Stores.Close(); err != nil {
			zap.L().Warn("store: close registry", zap.Error(err))
		}
	}
	if e.pool != nil {
		e.pool.Close()
	}
}

// initEnv validates the config for mode and builds the environment. Only
// "serve" and "run" get an ingester and a notification dispatcher. Callers
// should defer env.Close().
func initEnv(ctx context.Context, mode string) (*monitorEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	reg, pool, err := initStores(ctx)
	if err != nil {
		return nil, err
	}
	env := &monitorEnv{Stores: reg, pool: pool}
	if mode == "cli" {
		return env, nil
	}

	n, err := notify.New(ctx, cfg.Notify)
	if err != nil {
		env.Close(ctx)
		return nil, eris.Wrap(err, "init notifier")
	}
	env.Dispatcher = notify.NewDispatcher(n, cfg.Notify.QueueSize)

	detector := detect.New(detect.Thresholds{
		Change:       cfg.Detect.ChangeThreshold,
		CriticalDrop: cfg.Detect.CriticalDrop,
	})
	retry := resilience.DefaultRetryConfig().WithAttempts(cfg.SerpAPI.Retries + 1)
	env.Ingester = ingest.New(reg, newSearchClient(), detector, env.Dispatcher, ingest.WithRetry(retry))

	zap.L().Info("environment ready",
		zap.String("mode", mode),
		zap.String("store", cfg.Store.Driver),
		zap.Strings("sinks", cfg.Notify.Sinks),
	)
	return env, nil
}

// initStores opens the tenant store registry for the configured driver.
func initStores(ctx context.Context) (*store.Registry, *pgxpool.Pool, error) {
	opts := store.Options{
		Driver:  cfg.Store.Driver,
		DataDir: cfg.Store.DataDir,
		Tenants: cfg.Tenants,
	}

	var pool *pgxpool.Pool
	if cfg.Store.Driver == store.DriverPostgres {
		p, err := store.NewPool(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, nil, eris.Wrap(err, "init postgres pool")
		}
		pool = p
		opts.Pool = p
	}

	reg, err := store.NewRegistry(opts)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, nil, eris.Wrap(err, "init store registry")
	}
	return reg, pool, nil
}

func newSearchClient() serpapi.Client {
	return serpapi.NewClient(cfg.SerpAPI.Key,
		serpapi.WithBaseURL(cfg.SerpAPI.BaseURL),
		serpapi.WithTimeout(time.Duration(cfg.SerpAPI.TimeoutSecs)*time.Second),
		serpapi.WithLocale(cfg.SerpAPI.Language, cfg.SerpAPI.Country),
		serpapi.WithNum(cfg.SerpAPI.Num),
		serpapi.WithRateLimit(cfg.SerpAPI.RateLimit),
	)
}

// defaultSettings are the settings a tenant gets on first access.
func defaultSettings() model.Settings {
	return model.Settings{
		SearchQuery:   cfg.Defaults.SearchQuery,
		Location:      cfg.Defaults.Location,
		Enabled:       cfg.Defaults.Enabled,
		IntervalHours: cfg.Defaults.IntervalHours,
	}
}
