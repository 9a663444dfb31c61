package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"classifyhub/internal/common"
	"classifyhub/internal/domain"
	"classifyhub/internal/logger"
	"classifyhub/internal/metrics"
	"classifyhub/internal/port"
	"classifyhub/internal/ratelimit"
)

// Policy 控制是否复用缓存以及缓存的有效期
type Policy struct {
	AllowCache bool
	MaxAge     time.Duration
}

// Fetcher 先查缓存，再在额度允许时访问远程数据源，成功后写回缓存
// 自身不做重试
type Fetcher struct {
	source  port.RemoteSource
	cache   port.CacheStore
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	log     logger.Logger
	nowFunc func() time.Time
}

func NewFetcher(source port.RemoteSource, cache port.CacheStore, limiter *ratelimit.Limiter, m *metrics.Metrics, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Fetcher{
		source:  source,
		cache:   cache,
		limiter: limiter,
		metrics: m,
		log:     log,
		nowFunc: time.Now,
	}
}

func (f *Fetcher) Limiter() *ratelimit.Limiter { return f.limiter }

func (f *Fetcher) Source() port.RemoteSource { return f.source }

// Fetch 返回仓库的原始数据
// 错误为 ErrNotFound、ErrRateLimited 或 ErrTransientFetch 之一（或其包装）
func (f *Fetcher) Fetch(ctx context.Context, id domain.RepositoryID, policy Policy) (*domain.RawRepository, error) {
	if policy.AllowCache && f.cache != nil {
		if raw, handled, err := f.fromCache(ctx, id, policy.MaxAge); handled {
			return raw, err
		}
	}

	if !f.limiter.ReserveN(f.source.CallsPerFetch()) {
		f.metrics.RecordFetch("remote", "rate_limited")
		return nil, common.WrapError(common.ErrCodeRateLimited, "本地额度不足，未发出请求", common.ErrRateLimited)
	}

	raw, quota, err := f.source.Fetch(ctx, id)
	if quota.Known {
		f.limiter.Observe(quota.Remaining, quota.ResetAt)
		f.metrics.SetRateRemaining(quota.Remaining)
	}
	if err != nil {
		f.metrics.RecordFetch("remote", common.Kind(err))
		if errors.Is(err, common.ErrNotFound) {
			f.store(ctx, &domain.CacheEntry{ID: id, NotFound: true, FetchedAt: f.nowFunc()})
		}
		return nil, err
	}
	f.metrics.RecordFetch("remote", "ok")

	if raw.FetchedAt.IsZero() {
		raw.FetchedAt = f.nowFunc()
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		f.log.Warn("序列化原始数据失败，跳过缓存", logger.Repo(id), logger.Error(err))
		return raw, nil
	}
	f.store(ctx, &domain.CacheEntry{ID: id, Payload: payload, FetchedAt: raw.FetchedAt})
	return raw, nil
}

// fromCache handled 为 false 时需要访问远程
func (f *Fetcher) fromCache(ctx context.Context, id domain.RepositoryID, maxAge time.Duration) (*domain.RawRepository, bool, error) {
	entry, hit, err := f.cache.Get(ctx, id, maxAge)
	if err != nil {
		f.log.Warn("读取缓存失败，改为远程获取", logger.Repo(id), logger.Error(err))
		return nil, false, nil
	}
	if !hit {
		return nil, false, nil
	}
	if entry.NotFound {
		f.metrics.RecordFetch("cache", "not_found")
		return nil, true, common.WrapError(common.ErrCodeNotFound, "仓库不存在（缓存）", common.ErrNotFound)
	}

	var raw domain.RawRepository
	if err := json.Unmarshal(entry.Payload, &raw); err != nil {
		f.log.Warn("缓存内容损坏，改为远程获取", logger.Repo(id), logger.Error(err))
		return nil, false, nil
	}
	raw.ID = id
	f.metrics.RecordFetch("cache", "ok")
	return &raw, true, nil
}

// store 缓存写入失败只记录日志，不影响本次结果
func (f *Fetcher) store(ctx context.Context, entry *domain.CacheEntry) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Put(context.WithoutCancel(ctx), entry); err != nil {
		f.log.Warn("写入缓存失败", logger.Repo(entry.ID), logger.Error(err))
	}
}
