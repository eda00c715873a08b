package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVGetSetDel(t *testing.T) {
	r, _ := newTestRedis(t)
	kv := NewKV(r)
	ctx := context.Background()
	key := ProfileCacheKey("proj", "user-1")

	_, err := kv.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, kv.Set(ctx, key, `[{"topic":"work"}]`, time.Minute))

	val, err := kv.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `[{"topic":"work"}]`, val)

	require.NoError(t, kv.Del(ctx, key))
	_, err = kv.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestKVTTLExpiry(t *testing.T) {
	r, mr := newTestRedis(t)
	kv := NewKV(r)
	ctx := context.Background()
	key := ProfileCacheKey("proj", "user-1")

	require.NoError(t, kv.Set(ctx, key, "cached", 100*time.Millisecond))

	mr.FastForward(200 * time.Millisecond)

	_, err := kv.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestKVDelNoKeys(t *testing.T) {
	r, _ := newTestRedis(t)
	kv := NewKV(r)

	assert.NoError(t, kv.Del(context.Background()))
}
