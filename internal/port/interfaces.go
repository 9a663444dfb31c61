package port

import (
	"context"
	"time"

	"classifyhub/internal/domain"
)

// Quota 一次远程调用返回的额度信息，Known 为 false 表示响应未携带额度
type Quota struct {
	Remaining int
	ResetAt   time.Time
	Known     bool
}

// RemoteSource (数据源): 负责从 GitHub 拉取单个仓库的全部原始数据
// 失败时返回的 Quota 仍需被观测
type RemoteSource interface {
	Fetch(ctx context.Context, id domain.RepositoryID) (*domain.RawRepository, Quota, error)

	// CallsPerFetch 一次 Fetch 消耗的请求数
	CallsPerFetch() int

	// RateLimit 查询剩余额度，不计入额度消耗
	RateLimit(ctx context.Context) (Quota, error)

	// RandomRepositories 随机返回若干公开仓库
	RandomRepositories(ctx context.Context, n int) ([]domain.RepositoryID, Quota, error)
}

// CacheStore (缓存): 按仓库持久化原始数据，超过 maxAge 视为不存在
type CacheStore interface {
	Get(ctx context.Context, id domain.RepositoryID, maxAge time.Duration) (*domain.CacheEntry, bool, error)
	Put(ctx context.Context, entry *domain.CacheEntry) error
	InvalidateOlderThan(ctx context.Context, maxAge time.Duration) (int64, error)
	Close() error
}

// Classifier (分类器): 可独立训练、预测、序列化的成员模型
type Classifier interface {
	Name() string
	Trained() bool
	Train(ctx context.Context, examples []domain.Example) error
	PredictProba(ctx context.Context, f *domain.Features) (domain.Distribution, error)
	MarshalModel() ([]byte, error)
	UnmarshalModel(data []byte) error
}

// BatchSummary 一批分类完成后的统计
type BatchSummary struct {
	Total    int
	Failed   int
	PerClass map[domain.ClassLabel]int
	Duration time.Duration
}

// Notifier (信使): 负责推送批次结果 (飞书)
type Notifier interface {
	NotifyBatch(ctx context.Context, summary BatchSummary) error
}
