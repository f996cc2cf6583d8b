package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mgci/internal/cache"
	"github.com/sells-group/mgci/internal/classify"
	"github.com/sells-group/mgci/internal/cluster"
	"github.com/sells-group/mgci/internal/config"
	"github.com/sells-group/mgci/internal/db"
	"github.com/sells-group/mgci/internal/fetcher"
	"github.com/sells-group/mgci/internal/mgci"
	"github.com/sells-group/mgci/internal/raster"
	"github.com/sells-group/mgci/internal/raster/memory"
	"github.com/sells-group/mgci/internal/raster/remote"
	"github.com/sells-group/mgci/internal/region"
	"github.com/sells-group/mgci/internal/resolution"
	"github.com/sells-group/mgci/internal/store"
)

// env holds the wired collaborators of a command.
type env struct {
	Store   store.Store
	Catalog *region.Catalog
	Service *mgci.Service
	Cache   *cache.Engine

	closers []func()
}

// Close releases everything the env opened, newest first.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func (e *env) onClose(fn func()) {
	e.closers = append(e.closers, fn)
}

// initStore opens and migrates the configured store. The none driver
// returns a nil store.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case config.StoreNone:
		return nil, nil
	case config.StoreSQLite:
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "mgci.db"
		}
		st, err = store.NewSQLite(dsn)
	case config.StorePostgres:
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, &db.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// storePool returns the Postgres pool behind st, or nil.
func storePool(st store.Store) db.Pool {
	if pg, ok := st.(*store.PostgresStore); ok {
		return pg.Pool()
	}
	return nil
}

// initEngine builds the raster engine and wraps it in the reduction cache
// when enabled. e.Cache stays nil when caching is off.
func initEngine(c *config.Config, st store.Store, e *env) (raster.Engine, error) {
	var base raster.Engine
	switch c.Engine.Kind {
	case config.EngineMemory:
		scene, err := memory.LoadScene(c.Engine.Scene)
		if err != nil {
			return nil, err
		}
		base = memory.New(scene)
	case config.EngineRemote:
		client, err := remote.New(c.RemoteConfig())
		if err != nil {
			return nil, err
		}
		base = client
	default:
		return nil, eris.Errorf("unsupported engine kind: %s", c.Engine.Kind)
	}

	if !c.Cache.Enabled {
		return base, nil
	}

	opts := []cache.Option{
		cache.WithTTL(c.Cache.TTL),
		cache.WithMaxEntries(c.Cache.MaxEntries),
	}
	switch c.Cache.Backend {
	case config.CacheBackendStore:
		if st != nil {
			opts = append(opts, cache.WithBackend(cache.NewStoreBackend(st)))
		}
	case config.CacheBackendRedis:
		client, err := cache.NewRedisClient(c.Cache.RedisURL)
		if err != nil {
			return nil, err
		}
		e.onClose(func() { _ = client.Close() })
		opts = append(opts, cache.WithBackend(cache.NewRedisBackend(client, c.Cache.RedisPrefix)))
	}
	cached := cache.New(base, opts...)
	e.Cache = cached
	return cached, nil
}

// initCatalog loads every configured boundary source.
func initCatalog(ctx context.Context, c *config.Config, st store.Store) (*region.Catalog, error) {
	if len(c.Regions.Sources) == 0 {
		zap.L().Warn("no region sources configured, only bbox queries will resolve")
	}
	loader := &region.Loader{
		Fetcher:  newFetcher(c),
		Pool:     storePool(st),
		CacheDir: c.Regions.CacheDir,
	}
	return loader.Load(ctx, c.Regions.Sources)
}

func newFetcher(c *config.Config) *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.Options{
		UserAgent: c.Regions.UserAgent,
		Retry:     c.Retry,
	})
}

// initService validates the config and wires store, engine, catalog and
// classifiers into an mgci.Service.
func initService(ctx context.Context, c *config.Config) (*env, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	e := &env{}
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if st != nil {
		e.Store = st
		e.onClose(func() { _ = st.Close() })
	}

	engine, err := initEngine(c, st, e)
	if err != nil {
		e.Close()
		return nil, err
	}

	catalog, err := initCatalog(ctx, c, st)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.Catalog = catalog

	cls, err := classify.New(c.Datasets.Classify())
	if err != nil {
		e.Close()
		return nil, err
	}
	strategy, err := resolution.NewStrategy(c.Resolution)
	if err != nil {
		e.Close()
		return nil, err
	}
	features, err := cluster.ParseFeatures(c.Cluster.Features)
	if err != nil {
		e.Close()
		return nil, err
	}

	svc, err := mgci.New(mgci.Deps{
		Regions:    catalog,
		Engine:     engine,
		Classifier: cls,
		Strategy:   strategy,
		Store:      st,
	}, mgci.Options{
		SeriesConcurrency:  c.Series.Concurrency,
		ClusterConcurrency: c.Cluster.Concurrency,
		Features:           features,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	e.Service = svc
	return e, nil
}
