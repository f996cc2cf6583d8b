package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mgci/internal/model"
	"github.com/sells-group/mgci/internal/raster"
)

// Backend is a persistent tier shared across processes.
type Backend interface {
	Name() string
	// Get returns ok=false on a miss.
	Get(ctx context.Context, key string) (v raster.Reduction, ok bool, err error)
	Set(ctx context.Context, key string, v raster.Reduction, ttl time.Duration) error
}

// reductionStore is the part of store.Store used by StoreBackend.
type reductionStore interface {
	GetCachedReduction(ctx context.Context, key string) (*model.CachedReduction, error)
	SetCachedReduction(ctx context.Context, key string, value float64, valid bool, ttl time.Duration) error
}

// StoreBackend keeps reductions in the SQLite or Postgres store.
type StoreBackend struct {
	st reductionStore
}

// NewStoreBackend wraps a store.
func NewStoreBackend(st reductionStore) *StoreBackend {
	return &StoreBackend{st: st}
}

func (b *StoreBackend) Name() string { return "store" }

func (b *StoreBackend) Get(ctx context.Context, key string) (raster.Reduction, bool, error) {
	c, err := b.st.GetCachedReduction(ctx, key)
	if err != nil || c == nil {
		return raster.Reduction{}, false, err
	}
	return raster.Reduction{Value: c.Value, Valid: c.Valid}, true, nil
}

func (b *StoreBackend) Set(ctx context.Context, key string, v raster.Reduction, ttl time.Duration) error {
	return b.st.SetCachedReduction(ctx, key, v.Value, v.Valid, ttl)
}

// redisClient is the part of *redis.Client used by RedisBackend.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// DefaultRedisPrefix namespaces reduction keys.
const DefaultRedisPrefix = "mgci:reduction:"

// RedisBackend keeps reductions as JSON blobs in Redis.
type RedisBackend struct {
	client redisClient
	prefix string
}

// NewRedisBackend wraps a client. An empty prefix uses DefaultRedisPrefix.
func NewRedisBackend(client redisClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse redis url")
	}
	return redis.NewClient(opts), nil
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Get(ctx context.Context, key string) (raster.Reduction, bool, error) {
	data, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return raster.Reduction{}, false, nil
	}
	if err != nil {
		return raster.Reduction{}, false, eris.Wrap(err, "cache: redis get")
	}
	var v raster.Reduction
	if err := json.Unmarshal(data, &v); err != nil {
		return raster.Reduction{}, false, eris.Wrap(err, "cache: decode redis value")
	}
	return v, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, v raster.Reduction, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "cache: encode redis value")
	}
	return eris.Wrap(b.client.Set(ctx, b.prefix+key, data, ttl).Err(), "cache: redis set")
}
