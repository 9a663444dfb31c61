package cache

import (
	"context"
	"testing"
	"time"

	"classifyhub/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_RoundTripAndTTL(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	store.nowFunc = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, &domain.CacheEntry{ID: testID, Payload: []byte(`{"a":1}`), FetchedAt: now.Add(-2 * time.Hour)}))

	tests := []struct {
		name   string
		maxAge time.Duration
		wantOK bool
	}{
		{name: "期限内命中", maxAge: 3 * time.Hour, wantOK: true},
		{name: "恰好等于期限仍命中", maxAge: 2 * time.Hour, wantOK: true},
		{name: "超过期限视为不存在", maxAge: time.Hour, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, ok, err := store.Get(ctx, testID, tt.maxAge)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, `{"a":1}`, string(entry.Payload))
			}
		})
	}
}

func TestRedisStore_NegativeEntry(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &domain.CacheEntry{ID: testID, NotFound: true, FetchedAt: time.Now()}))
	entry, ok, err := store.Get(ctx, testID, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, entry.NotFound)
}

func TestRedisStore_CorruptValueIsAbsent(t *testing.T) {
	store, mr := setupRedisStore(t)
	require.NoError(t, mr.Set(redisKey(testID), "not json"))

	_, ok, err := store.Get(context.Background(), testID, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_InvalidateOlderThan(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()
	now := time.Now()
	store.nowFunc = func() time.Time { return now }

	fresh := domain.RepositoryID{Owner: "a", Name: "fresh"}
	stale := domain.RepositoryID{Owner: "a", Name: "stale"}
	require.NoError(t, store.Put(ctx, &domain.CacheEntry{ID: fresh, Payload: []byte("{}"), FetchedAt: now}))
	require.NoError(t, store.Put(ctx, &domain.CacheEntry{ID: stale, Payload: []byte("{}"), FetchedAt: now.Add(-10 * 24 * time.Hour)}))
	require.NoError(t, mr.Set("unrelated", "x"))

	n, err := store.InvalidateOlderThan(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, mr.Exists(redisKey(fresh)))
	assert.False(t, mr.Exists(redisKey(stale)))
	assert.True(t, mr.Exists("unrelated"))
}
