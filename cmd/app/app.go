package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classifyhub/internal/adapter/cache"
	"classifyhub/internal/adapter/feishu"
	"classifyhub/internal/adapter/gemini"
	"classifyhub/internal/adapter/github"
	"classifyhub/internal/classifier"
	"classifyhub/internal/config"
	"classifyhub/internal/ensemble"
	"classifyhub/internal/logger"
	"classifyhub/internal/metrics"
	"classifyhub/internal/port"
	"classifyhub/internal/proxy"
	"classifyhub/internal/ratelimit"
	"classifyhub/internal/service"
)

// app 一次运行中所有组件的装配结果
type app struct {
	cfg       *config.Config
	log       logger.Logger
	metrics   *metrics.Metrics
	cache     port.CacheStore
	limiter   *ratelimit.Limiter
	holder    *ensemble.Holder
	scheduler *service.Scheduler
	learner   *service.Learner
	proxy     *proxy.Proxy
	provider  *gemini.Provider
}

func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	m := metrics.New()

	store, err := cache.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("打开缓存失败: %w", err)
	}

	_, token, authenticated := cfg.Credentials()
	warnAnonymous(authenticated, log)
	source := github.NewSource(token, cfg.RequestsPerSecond)
	limiter := ratelimit.New()

	registry, provider, err := newRegistry(ctx, cfg, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	holder := ensemble.NewHolder()
	fetcher := service.NewFetcher(source, store, limiter, m, log)
	scheduler := service.NewScheduler(service.SchedulerConfig{
		Workers:          cfg.Workers(),
		MaxRetries:       cfg.MaxRetries,
		ItemTimeout:      cfg.ItemTimeout,
		RateLimitMaxWait: cfg.RateLimitMaxWait,
		Policy:           service.Policy{AllowCache: !cfg.ForceCacheUpdate, MaxAge: cfg.CacheMaxAge()},
	}, fetcher, holder, m, log)
	modelStore := ensemble.NewStore(cfg.ModelPath, log)
	learner := service.NewLearner(registry, scheduler, modelStore, holder, cfg.Workers(), cfg.LearningInput, m, log)

	if err := learner.LoadPublished(); err != nil {
		if !errors.Is(err, ensemble.ErrNoModel) {
			log.Warn("加载模型失败", logger.Error(err))
		} else {
			log.Info("尚未发布模型，需要先学习")
		}
	}

	var notifier port.Notifier
	if cfg.Feishu.Webhook != "" {
		notifier = feishu.NewNotifier(cfg.Feishu.Webhook, log)
	}

	p := proxy.New(proxy.Deps{
		Scheduler:     scheduler,
		Learner:       learner,
		Holder:        holder,
		Source:        source,
		Limiter:       limiter,
		Notifier:      notifier,
		Authenticated: authenticated,
		Metrics:       m,
		Log:           log,
	})

	return &app{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		cache:     store,
		limiter:   limiter,
		holder:    holder,
		scheduler: scheduler,
		learner:   learner,
		proxy:     p,
		provider:  provider,
	}, nil
}

// newRegistry 配置了 Gemini key 时把 GeminiClassifier 加入集成
func newRegistry(ctx context.Context, cfg *config.Config, log logger.Logger) (*classifier.Registry, *gemini.Provider, error) {
	if cfg.Gemini.APIKey == "" {
		return classifier.NewRegistry(), nil, nil
	}
	provider, err := gemini.NewProvider(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	if err != nil {
		return nil, nil, fmt.Errorf("AI 初始化失败: %w", err)
	}
	log.Info("已启用 Gemini 分类器", logger.String("model", cfg.Gemini.Model))
	return classifier.NewRegistry(func() port.Classifier { return provider.NewClassifier() }), provider, nil
}

func (a *app) Close() {
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			a.log.Warn("关闭 Gemini 客户端失败", logger.Error(err))
		}
	}
	if err := a.cache.Close(); err != nil {
		a.log.Warn("关闭缓存失败", logger.Error(err))
	}
	_ = a.log.Sync()
}

// maintainCache 清理超过期限的缓存记录
func maintainCache(ctx context.Context, store port.CacheStore, maxAge time.Duration, m *metrics.Metrics, log logger.Logger) {
	n, err := store.InvalidateOlderThan(ctx, maxAge)
	if err != nil {
		log.Warn("清理缓存失败", logger.Error(err))
		return
	}
	m.AddCacheInvalidated(n)
	log.Info("缓存清理完成", logger.Int64("removed", n), logger.Duration("max_age", maxAge))
}

func warnAnonymous(authenticated bool, log logger.Logger) {
	if !authenticated {
		log.Warn("未配置 GitHub 凭据，将使用匿名额度")
	}
}
