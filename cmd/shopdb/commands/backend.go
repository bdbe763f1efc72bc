package commands

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"shopdb/internal/database"
	"shopdb/internal/ecommerce"
	"shopdb/internal/fixtures"
	"shopdb/internal/reports"
)

// openStore connects to the selected backend once per process. The memory
// backend starts with the fixture dataset so reports have data to work on.
func (a *app) openStore(ctx context.Context) (database.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	var (
		store database.Store
		err   error
	)
	switch a.backend {
	case backendMongo:
		store, err = database.ConnectMongo(ctx, a.cfg.Databases.Mongo, a.cfg.Databases.MongoDatabase, a.logger)
	case backendPostgres:
		store, err = database.OpenSQL(ctx, backendPostgres, a.cfg.Databases.Postgres, a.logger)
	case backendMySQL:
		store, err = database.OpenSQL(ctx, backendMySQL, a.cfg.Databases.MySQL, a.logger)
	case backendMemory:
		store, err = openMemory(ctx, a.cfg.Fixtures.Dir)
	default:
		return nil, fmt.Errorf("unsupported backend %q, expected one of %v", a.backend, backends)
	}
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func openMemory(ctx context.Context, fixturesDir string) (database.Store, error) {
	ms := database.NewMemoryStore()
	ds, err := fixtures.Load(fixturesDir)
	if err != nil {
		return nil, err
	}
	if err := ms.Seed(ctx, ds); err != nil {
		return nil, err
	}
	return ms, nil
}

// openReporter wraps the store in the report cache when redis is configured.
// The returned Cached is nil without a cache.
func (a *app) openReporter(ctx context.Context, store database.Store) (database.Reporter, *reports.Cached, error) {
	if a.cache == nil {
		if a.cfg.Redis.Addr == "" {
			return store, nil, nil
		}
		cache, err := reports.NewRedisCache(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		a.cache = cache
		a.closers = append(a.closers, func(context.Context) error { return cache.Close() })
	}
	cached := reports.NewCached(store, a.cache, a.cfg.Redis.TTL, a.logger)
	return cached, cached, nil
}

// orderService builds the order workflow, invalidating cached reports after
// each order when a cache is configured.
func (a *app) orderService(ctx context.Context) (*ecommerce.Service, database.Reporter, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	reporter, cached, err := a.openReporter(ctx, store)
	if err != nil {
		return nil, nil, err
	}
	var opts []ecommerce.Option
	if cached != nil {
		opts = append(opts, ecommerce.WithInvalidator(cached))
		a.logger.Debug("report cache enabled", zap.String("addr", a.cfg.Redis.Addr))
	}
	return ecommerce.NewService(store, a.logger, opts...), reporter, nil
}
