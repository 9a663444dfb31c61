// Package proxy 是界面调用的后端对象：提交分类、学习、查询结果和额度
// 分类和学习互斥，同一时刻最多一个在运行
package proxy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"classifyhub/internal/adapter/export"
	"classifyhub/internal/common"
	"classifyhub/internal/domain"
	"classifyhub/internal/ensemble"
	"classifyhub/internal/logger"
	"classifyhub/internal/metrics"
	"classifyhub/internal/port"
	"classifyhub/internal/ratelimit"
	"classifyhub/internal/service"
)

// NotFound 查询不到仓库时 Class 的返回值
const NotFound = "NOT FOUND"

// randomCount 随机仓库的数量
const randomCount = 10

const notifyTimeout = 30 * time.Second

// ErrBusy 已有分类或学习在运行
var ErrBusy = errors.New("computation already running")

// Deps Proxy 依赖的组件，Notifier 可以为空
type Deps struct {
	Scheduler     *service.Scheduler
	Learner       *service.Learner
	Holder        *ensemble.Holder
	Source        port.RemoteSource
	Limiter       *ratelimit.Limiter
	Notifier      port.Notifier
	Authenticated bool
	Metrics       *metrics.Metrics
	Log           logger.Logger
}

type Proxy struct {
	deps Deps
	log  logger.Logger

	mu              sync.RWMutex
	running         bool
	learningRunning bool
	saveReady       bool
	batch           *service.Batch
	idle            chan struct{}
	results         []domain.ClassificationResult
	index           map[domain.RepositoryID]int
	lastErr         error
}

func New(deps Deps) *Proxy {
	log := deps.Log
	if log == nil {
		log = logger.NewNop()
	}
	idle := make(chan struct{})
	close(idle)
	return &Proxy{
		deps:  deps,
		log:   log,
		idle:  idle,
		index: make(map[domain.RepositoryID]int),
	}
}

// StartComputation 在后台分类输入中的仓库，结果边产生边可查询
// 正在运行时忽略调用并返回 ErrBusy；输入非法时清空已有结果
func (p *Proxy) StartComputation(input string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrBusy
	}

	ids, bad, err := domain.ParseInputList(input)
	if err != nil {
		p.resetLocked()
		return common.WrapError(common.ErrCodeInvalidInput, "非法输入: "+bad, common.ErrInvalidInput)
	}

	batch, err := p.deps.Scheduler.Submit(context.Background(), ids)
	if err != nil {
		p.lastErr = err
		return err
	}

	p.resetLocked()
	p.running = true
	p.batch = batch
	p.lastErr = nil
	p.idle = make(chan struct{})
	go p.collect(batch, p.idle)

	p.log.Info("开始分类", logger.Int("count", len(ids)))
	return nil
}

func (p *Proxy) resetLocked() {
	p.results = nil
	p.index = make(map[domain.RepositoryID]int)
	p.saveReady = false
}

func (p *Proxy) collect(batch *service.Batch, idle chan struct{}) {
	started := time.Now()
	for r := range batch.Results() {
		p.mu.Lock()
		if i, ok := p.index[r.ID]; ok {
			p.results[i] = r
		} else {
			p.index[r.ID] = len(p.results)
			p.results = append(p.results, r)
		}
		p.mu.Unlock()
	}
	results, err := batch.Wait()

	p.mu.Lock()
	p.running = false
	p.batch = nil
	p.saveReady = true
	p.lastErr = err
	p.mu.Unlock()

	if err != nil {
		p.log.Error("分类中止", logger.Error(err))
	}
	summary := Summarize(results, time.Since(started))
	p.log.Info("分类完成", logger.Int("total", summary.Total), logger.Int("failed", summary.Failed),
		logger.Duration("elapsed", summary.Duration))
	p.notify(summary)
	close(idle)
}

func (p *Proxy) notify(summary port.BatchSummary) {
	if p.deps.Notifier == nil || summary.Total == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := p.deps.Notifier.NotifyBatch(ctx, summary); err != nil {
		p.log.Warn("批次通知发送失败", logger.Error(err))
	}
}

// Summarize 统计一批结果
func Summarize(results []domain.ClassificationResult, elapsed time.Duration) port.BatchSummary {
	s := port.BatchSummary{
		Total:    len(results),
		PerClass: make(map[domain.ClassLabel]int),
		Duration: elapsed,
	}
	for _, r := range results {
		if !r.OK() {
			s.Failed++
			continue
		}
		s.PerClass[r.Class]++
	}
	return s
}

// CancelComputation 停止派发新的仓库，已产生的结果保留
func (p *Proxy) CancelComputation() {
	p.mu.RLock()
	b := p.batch
	p.mu.RUnlock()
	if b != nil {
		b.Cancel()
	}
}

// StartLearning 在后台读取学习目录并重新训练，完成后替换当前模型
func (p *Proxy) StartLearning() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrBusy
	}
	p.running = true
	p.learningRunning = true
	p.lastErr = nil
	p.idle = make(chan struct{})
	idle := p.idle

	go func() {
		_, err := p.deps.Learner.LearnFromDir(context.Background())
		p.mu.Lock()
		p.running = false
		p.learningRunning = false
		p.lastErr = err
		p.mu.Unlock()
		close(idle)
	}()
	p.log.Info("开始学习")
	return nil
}

// TestValidInput 每个非空行都必须是仓库地址
func (p *Proxy) TestValidInput(input string) bool {
	_, _, err := domain.ParseInputList(input)
	return err == nil
}

// ResultList 已成功分类的仓库，格式为 owner/name
func (p *Proxy) ResultList() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.results))
	for _, r := range p.results {
		if r.OK() {
			out = append(out, r.ID.String())
		}
	}
	return out
}

// Failures 分类失败的仓库及原因
func (p *Proxy) Failures() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string)
	for _, r := range p.results {
		if !r.OK() {
			out[r.ID.String()] = r.Err.Error()
		}
	}
	return out
}

// Result 查询单个仓库的结果，失败的结果也会返回
func (p *Proxy) Result(owner, name string) (domain.ClassificationResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i, ok := p.index[domain.RepositoryID{Owner: owner, Name: name}]
	if !ok {
		return domain.ClassificationResult{}, false
	}
	return p.results[i], true
}

func (p *Proxy) succeeded(owner, name string) (domain.ClassificationResult, bool) {
	r, ok := p.Result(owner, name)
	if !ok || !r.OK() {
		return domain.ClassificationResult{}, false
	}
	return r, true
}

// Class 仓库的分类名，没有结果时返回 NotFound
func (p *Proxy) Class(owner, name string) string {
	r, ok := p.succeeded(owner, name)
	if !ok {
		return NotFound
	}
	return r.Class.String()
}

// Prob 合并后某个分类的概率，查不到时为 0
func (p *Proxy) Prob(owner, name, class string) float64 {
	r, ok := p.succeeded(owner, name)
	if !ok {
		return 0
	}
	c, err := domain.ParseClassLabel(class)
	if err != nil {
		return 0
	}
	return r.Combined.Of(c)
}

// ClassifierNames 当前模型的成员名；还没有模型时返回注册表中的名称
func (p *Proxy) ClassifierNames() []string {
	if e := p.deps.Holder.Load(); e != nil {
		return e.ClassifierNames()
	}
	return p.deps.Learner.ClassifierNames()
}

// ClassifierProb 某个分类器对某个分类给出的原始概率，查不到时为 0
func (p *Proxy) ClassifierProb(owner, name, class, classifier string) float64 {
	r, ok := p.succeeded(owner, name)
	if !ok {
		return 0
	}
	c, err := domain.ParseClassLabel(class)
	if err != nil {
		return 0
	}
	d, ok := r.PerClassifier[classifier]
	if !ok {
		return 0
	}
	return d.Of(c)
}

// URL 仓库主页地址，没有结果时为空
func (p *Proxy) URL(owner, name string) string {
	r, ok := p.Result(owner, name)
	if !ok {
		return ""
	}
	return r.ID.URL()
}

// SaveResults 按扩展名写文本或 Excel；批次未结束时什么也不做并返回 false
func (p *Proxy) SaveResults(path string) (bool, error) {
	p.mu.RLock()
	if !p.saveReady {
		p.mu.RUnlock()
		return false, nil
	}
	results := make([]domain.ClassificationResult, len(p.results))
	copy(results, p.results)
	p.mu.RUnlock()

	if strings.TrimSpace(path) == "" {
		return false, nil
	}
	if err := export.Save(path, results, p.ClassifierNames()); err != nil {
		return false, err
	}
	p.log.Info("结果已保存", logger.String("path", path), logger.Int("count", len(results)))
	return true, nil
}

// CheckAuthentication 凭据文件都有内容时返回 true，否则只能使用匿名额度
func (p *Proxy) CheckAuthentication() bool {
	return p.deps.Authenticated
}

// CheckLearningNeeded 每次都根据已发布的模型重新判断
func (p *Proxy) CheckLearningNeeded() bool {
	return p.deps.Learner.CheckLearningNeeded()
}

// RemainingRateLimit 查询剩余额度，出错时返回 -1
// 查询本身不消耗额度，结果会同步给限流器
func (p *Proxy) RemainingRateLimit(ctx context.Context) int {
	q, err := p.deps.Source.RateLimit(ctx)
	if err != nil {
		p.log.Warn("查询额度失败", logger.Error(err))
		return -1
	}
	if !q.Known {
		return -1
	}
	p.observe(q)
	return q.Remaining
}

// RandomRepositories 随机取若干公开仓库地址，每行一个
func (p *Proxy) RandomRepositories(ctx context.Context) (string, error) {
	if !p.deps.Limiter.ReserveN(1) {
		return "", common.WrapError(common.ErrCodeRateLimited, "额度已耗尽", common.ErrRateLimited)
	}
	ids, q, err := p.deps.Source.RandomRepositories(ctx, randomCount)
	if q.Known {
		p.observe(q)
	}
	if err != nil {
		p.log.Warn("获取随机仓库失败", logger.Error(err))
		return "", err
	}
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(id.URL())
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func (p *Proxy) observe(q port.Quota) {
	p.deps.Limiter.Observe(q.Remaining, q.ResetAt)
	p.deps.Metrics.SetRateRemaining(q.Remaining)
}

// RateStatus 限流器最后一次观测到的额度
func (p *Proxy) RateStatus() domain.RateBudget {
	return p.deps.Limiter.Status()
}

// PausedUntil 工作协程等待额度重置到的时刻
func (p *Proxy) PausedUntil() time.Time {
	return p.deps.Scheduler.PausedUntil()
}

func (p *Proxy) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Proxy) LearningRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.learningRunning
}

func (p *Proxy) SaveReady() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.saveReady
}

// LastError 上一次分类或学习中止的原因
func (p *Proxy) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// WaitIdle 等待当前的分类或学习结束
func (p *Proxy) WaitIdle(ctx context.Context) error {
	p.mu.RLock()
	idle := p.idle
	p.mu.RUnlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
