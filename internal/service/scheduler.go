package service

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"classifyhub/internal/common"
	"classifyhub/internal/domain"
	"classifyhub/internal/ensemble"
	"classifyhub/internal/features"
	"classifyhub/internal/logger"
	"classifyhub/internal/metrics"
)

// maxRateWaits 单个仓库因额度耗尽而等待的最多次数
const maxRateWaits = 3

// SchedulerConfig 工作池参数
type SchedulerConfig struct {
	Workers          int
	MaxRetries       int
	RetryDelay       time.Duration
	ItemTimeout      time.Duration
	RateLimitMaxWait time.Duration
	Policy           Policy
}

func (c SchedulerConfig) workers() int {
	if c.Workers <= 0 {
		return runtime.NumCPU()
	}
	return c.Workers
}

// Scheduler 有界并发地处理一批仓库：抓取、提取特征、预测
type Scheduler struct {
	cfg     SchedulerConfig
	fetcher *Fetcher
	holder  *ensemble.Holder
	metrics *metrics.Metrics
	log     logger.Logger
	nowFunc func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	current     *Batch
	pausedUntil time.Time
}

func NewScheduler(cfg SchedulerConfig, fetcher *Fetcher, holder *ensemble.Holder, m *metrics.Metrics, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = time.Minute
	}
	return &Scheduler{
		cfg:     cfg,
		fetcher: fetcher,
		holder:  holder,
		metrics: m,
		log:     log,
		nowFunc: time.Now,
		sleep:   sleepCtx,
	}
}

// Batch 一次提交的处理过程
type Batch struct {
	ids     []domain.RepositoryID
	results chan domain.ClassificationResult
	cancel  context.CancelFunc
	done    chan struct{}

	mu        sync.Mutex
	collected []domain.ClassificationResult
	err       error
}

// Len 提交的仓库数
func (b *Batch) Len() int {
	return len(b.ids)
}

// Results 按完成顺序推送结果，批次结束后关闭
func (b *Batch) Results() <-chan domain.ClassificationResult {
	return b.results
}

// Wait 等待批次结束，返回全部已产生的结果和导致中止的错误
func (b *Batch) Wait() ([]domain.ClassificationResult, error) {
	<-b.done
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.ClassificationResult, len(b.collected))
	copy(out, b.collected)
	return out, b.err
}

// Cancel 不再派发新的仓库，正在抓取的仓库会完成
func (b *Batch) Cancel() {
	b.cancel()
}

// Done 批次结束时关闭
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

func (b *Batch) emit(r domain.ClassificationResult) {
	b.mu.Lock()
	b.collected = append(b.collected, r)
	b.mu.Unlock()
	b.results <- r
}

func (b *Batch) fail(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
	b.cancel()
}

// Submit 开始处理一批仓库，并取消上一批
// 模型未就绪时直接返回 ErrModelNotReady
func (s *Scheduler) Submit(ctx context.Context, ids []domain.RepositoryID) (*Batch, error) {
	if !s.holder.Ready() {
		return nil, common.WrapError(common.ErrCodeModel, "分类模型尚未就绪，请先学习", common.ErrModelNotReady)
	}

	batchCtx, cancel := context.WithCancel(ctx)
	b := &Batch{
		ids:     ids,
		results: make(chan domain.ClassificationResult, len(ids)),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	if s.current != nil {
		s.current.Cancel()
	}
	s.current = b
	s.mu.Unlock()

	go func() {
		started := s.nowFunc()
		s.run(batchCtx, len(ids), func(i int) {
			r := s.classify(batchCtx, ids[i])
			if errors.Is(r.Err, common.ErrModelNotReady) {
				b.fail(r.Err)
				return
			}
			b.emit(r)
		})
		cancel()
		close(b.results)
		close(b.done)
		s.metrics.ObserveBatch(s.nowFunc().Sub(started))

		s.mu.Lock()
		if s.current == b {
			s.current = nil
		}
		s.mu.Unlock()
	}()
	return b, nil
}

// Gathered Gather 的单项结果
type Gathered struct {
	ID       domain.RepositoryID
	Features *domain.Features
	Err      error
}

// Gather 用同一套工作池、额度和重试逻辑只做抓取和特征提取，结果顺序与 ids 一致
// ctx 取消后未派发的仓库以 ctx 的错误返回
func (s *Scheduler) Gather(ctx context.Context, ids []domain.RepositoryID) []Gathered {
	out := make([]Gathered, len(ids))
	dispatched := make([]bool, len(ids))
	s.run(ctx, len(ids), func(i int) {
		f, err := s.gather(ctx, ids[i])
		out[i] = Gathered{ID: ids[i], Features: f, Err: err}
		dispatched[i] = true
	})
	for i := range out {
		if !dispatched[i] {
			out[i] = Gathered{ID: ids[i], Err: ctx.Err()}
		}
	}
	return out
}

// PausedUntil 工作协程因额度耗尽而暂停到的时刻，未暂停时为零值
func (s *Scheduler) PausedUntil() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nowFunc().After(s.pausedUntil) {
		return time.Time{}
	}
	return s.pausedUntil
}

// Running 是否有批次正在处理
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// run 工作池：一个协程派发，若干协程处理，全部完成后返回
func (s *Scheduler) run(ctx context.Context, n int, handle func(i int)) {
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < s.cfg.workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				s.metrics.WorkerBusy(1)
				handle(i)
				s.metrics.WorkerBusy(-1)
			}
		}()
	}

dispatch:
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
}

func (s *Scheduler) classify(ctx context.Context, id domain.RepositoryID) domain.ClassificationResult {
	f, err := s.gather(ctx, id)
	if err != nil {
		return s.failed(id, err)
	}

	res, err := s.holder.Load().Predict(ctx, id, f)
	if err != nil {
		return s.failed(id, err)
	}
	s.metrics.RecordClassification(res.Class.String())
	s.log.Debug("分类完成", logger.Repo(id), logger.String("class", res.Class.String()))
	return res
}

func (s *Scheduler) failed(id domain.RepositoryID, err error) domain.ClassificationResult {
	kind := common.Kind(err)
	s.metrics.RecordItemFailure(kind)
	s.log.Warn("仓库处理失败", logger.Repo(id), logger.String("kind", kind), logger.Error(err))
	return domain.ClassificationResult{ID: id, Err: err}
}

// gather 抓取并提取特征，处理重试和额度等待
func (s *Scheduler) gather(ctx context.Context, id domain.RepositoryID) (*domain.Features, error) {
	var raw *domain.RawRepository
	attempt := func() error {
		// 已经开始的抓取不随批次取消而中断，只受单项超时约束
		itemCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ItemTimeout)
		defer cancel()
		r, err := s.fetcher.Fetch(itemCtx, id, s.cfg.Policy)
		if err != nil {
			return err
		}
		raw = r
		return nil
	}

	for waits := 0; ; waits++ {
		err := common.Do(ctx, attempt,
			common.WithMaxRetries(s.cfg.MaxRetries),
			common.WithInitialDelay(s.cfg.RetryDelay),
			common.WithRetryIf(common.IsTransient),
		)
		if err == nil {
			return features.Extract(raw), nil
		}
		if !errors.Is(err, common.ErrRateLimited) || waits >= maxRateWaits {
			return nil, err
		}

		// 本地额度还够却被限流（如二级限流）时 ResumeAt 为零，至少退避 RetryDelay
		now := s.nowFunc()
		until := s.fetcher.Limiter().ResumeAt(s.fetcher.Source().CallsPerFetch())
		wait := until.Sub(now)
		if until.IsZero() || wait < s.cfg.RetryDelay {
			wait = s.cfg.RetryDelay << waits
			until = now.Add(wait)
		}
		if wait > s.cfg.RateLimitMaxWait {
			return nil, err
		}
		s.setPaused(until)
		s.log.Info("被限流，等待后重试", logger.Repo(id), logger.Time("until", until))
		if sleepErr := s.sleep(ctx, wait); sleepErr != nil {
			return nil, err
		}
	}
}

func (s *Scheduler) setPaused(until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if until.After(s.pausedUntil) {
		s.pausedUntil = until
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
