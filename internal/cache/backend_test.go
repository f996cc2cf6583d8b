package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mgci/internal/raster"
	"github.com/sells-group/mgci/internal/store"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestRedisBackend_RoundTrip(t *testing.T) {
	fr := newFakeRedis()
	b := NewRedisBackend(fr, "")
	ctx := context.Background()

	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set(ctx, "k", raster.Reduction{Value: 3.5, Valid: true}, time.Hour))
	assert.Contains(t, fr.data, "mgci:reduction:k")
	assert.Equal(t, time.Hour, fr.ttls["mgci:reduction:k"])

	v, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, raster.Reduction{Value: 3.5, Valid: true}, v)
	assert.Equal(t, "redis", b.Name())
}

func TestRedisBackend_CorruptValue(t *testing.T) {
	fr := newFakeRedis()
	fr.data["p:k"] = "not json"
	b := NewRedisBackend(fr, "p:")

	_, _, err := b.Get(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode redis value")
}

func TestNewRedisClient(t *testing.T) {
	c, err := NewRedisClient("redis://localhost:6379/2")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Options().DB)
	require.NoError(t, c.Close())

	_, err = NewRedisClient("http://nope")
	assert.Error(t, err)
}

func TestStoreBackend_RoundTrip(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	b := NewStoreBackend(st)
	ctx := context.Background()

	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set(ctx, "k", raster.Reduction{Value: 0, Valid: false}, time.Hour))
	v, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, v.Valid)
	assert.Equal(t, "store", b.Name())
}
