package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"classifyhub/internal/common"
	"classifyhub/internal/domain"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "classifyhub:cache:"

type redisValue struct {
	Payload   []byte    `json:"payload"`
	NotFound  bool      `json:"not_found"`
	FetchedAt time.Time `json:"fetched_at"`
}

// RedisStore 把每条缓存保存为一个 JSON 值，SET 对单个 key 是原子的
type RedisStore struct {
	client  *redis.Client
	nowFunc func() time.Time
}

// NewRedisStore 使用已有客户端创建缓存
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, nowFunc: time.Now}
}

// OpenRedis 连接 redis 并确认可用
func OpenRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, common.WrapError(common.ErrCodeCache, "连接 redis 失败", err)
	}
	return NewRedisStore(client), nil
}

func redisKey(id domain.RepositoryID) string {
	return redisKeyPrefix + id.Owner + "/" + id.Name
}

func (s *RedisStore) Get(ctx context.Context, id domain.RepositoryID, maxAge time.Duration) (*domain.CacheEntry, bool, error) {
	raw, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, common.WrapError(common.ErrCodeCache, "读取缓存失败", err)
	}

	var v redisValue
	if err := json.Unmarshal(raw, &v); err != nil {
		// 损坏的记录按不存在处理，下一次抓取会覆盖
		return nil, false, nil
	}
	entry := &domain.CacheEntry{ID: id, Payload: v.Payload, NotFound: v.NotFound, FetchedAt: v.FetchedAt}
	if entry.Expired(s.nowFunc(), maxAge) {
		return nil, false, nil
	}
	return entry, true, nil
}

func (s *RedisStore) Put(ctx context.Context, entry *domain.CacheEntry) error {
	if entry == nil || entry.ID.IsZero() {
		return common.NewError(common.ErrCodeInvalidInput, "缓存记录缺少仓库标识")
	}
	data, err := json.Marshal(redisValue{Payload: entry.Payload, NotFound: entry.NotFound, FetchedAt: entry.FetchedAt})
	if err != nil {
		return fmt.Errorf("序列化缓存记录失败: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(entry.ID), data, 0).Err(); err != nil {
		return common.WrapError(common.ErrCodeCache, fmt.Sprintf("写入缓存 %s 失败", entry.ID), err)
	}
	return nil
}

// InvalidateOlderThan 用 SCAN 遍历缓存 key，删除过期记录
func (s *RedisStore) InvalidateOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.nowFunc().Add(-maxAge)
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 200).Result()
		if err != nil {
			return removed, common.WrapError(common.ErrCodeCache, "扫描缓存失败", err)
		}
		for _, key := range keys {
			raw, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return removed, common.WrapError(common.ErrCodeCache, "读取缓存失败", err)
			}
			var v redisValue
			if json.Unmarshal(raw, &v) == nil && !v.FetchedAt.Before(cutoff) {
				continue
			}
			n, err := s.client.Del(ctx, key).Result()
			if err != nil {
				return removed, common.WrapError(common.ErrCodeCache, "删除缓存失败", err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
