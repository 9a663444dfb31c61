package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"classifyhub/internal/classifier"
	"classifyhub/internal/common"
	"classifyhub/internal/domain"
	"classifyhub/internal/ensemble"
	"classifyhub/internal/logger"
	"classifyhub/internal/metrics"
	"classifyhub/internal/port"

	"golang.org/x/sync/errgroup"
)

// Labeled 每个分类对应的训练仓库
type Labeled map[domain.ClassLabel][]domain.RepositoryID

// Learner 负责训练、发布和加载集成模型
type Learner struct {
	registry    *classifier.Registry
	scheduler   *Scheduler
	store       *ensemble.Store
	holder      *ensemble.Holder
	workers     int
	learningDir string
	metrics     *metrics.Metrics
	log         logger.Logger

	// 同一时间只允许一次学习
	mu sync.Mutex
}

func NewLearner(registry *classifier.Registry, scheduler *Scheduler, store *ensemble.Store, holder *ensemble.Holder,
	workers int, learningDir string, m *metrics.Metrics, log logger.Logger) *Learner {
	if log == nil {
		log = logger.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Learner{
		registry:    registry,
		scheduler:   scheduler,
		store:       store,
		holder:      holder,
		workers:     workers,
		learningDir: learningDir,
		metrics:     m,
		log:         log,
	}
}

// LoadPublished 把已发布的模型装入 Holder，没有可用模型时返回 ensemble.ErrNoModel
func (l *Learner) LoadPublished() error {
	e, m, err := l.store.Load(l.registry.Build())
	if err != nil {
		return err
	}
	l.holder.Store(e)
	l.log.Info("已加载模型", logger.String("generation", m.Generation), logger.Time("created_at", m.CreatedAt))
	return nil
}

// ClassifierNames 当前注册的分类器名称，顺序即集成顺序
func (l *Learner) ClassifierNames() []string {
	return l.registry.Names()
}

// LearnFromDir 读取配置的学习目录后训练
func (l *Learner) LearnFromDir(ctx context.Context) (*ensemble.Ensemble, error) {
	labeled, err := LoadLearningDir(l.learningDir, l.log)
	if err != nil {
		l.metrics.RecordLearning("failed")
		return nil, common.WrapError(common.ErrCodeLearning, "读取学习数据失败", fmt.Errorf("%w: %v", common.ErrLearning, err))
	}
	return l.Learn(ctx, labeled)
}

// Learn 抓取训练数据、并发训练全部分类器、发布后再替换当前模型
// 任何一步失败都返回 ErrLearning，当前模型保持不变
func (l *Learner) Learn(ctx context.Context, labeled Labeled) (*ensemble.Ensemble, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, err := l.learn(ctx, labeled)
	if err != nil {
		l.metrics.RecordLearning("failed")
		l.log.Error("学习失败", logger.Error(err))
		if errors.Is(err, common.ErrLearning) {
			return nil, err
		}
		return nil, common.WrapError(common.ErrCodeLearning, "学习失败", fmt.Errorf("%w: %v", common.ErrLearning, err))
	}
	l.metrics.RecordLearning("ok")
	return e, nil
}

func (l *Learner) learn(ctx context.Context, labeled Labeled) (*ensemble.Ensemble, error) {
	examples, err := l.examples(ctx, labeled)
	if err != nil {
		return nil, err
	}
	if len(examples) == 0 {
		return nil, common.WrapError(common.ErrCodeLearning, "训练集为空", common.ErrLearning)
	}
	l.log.Info("开始训练", logger.Int("examples", len(examples)))

	members, err := l.train(ctx, examples)
	if err != nil {
		return nil, err
	}
	e := ensemble.New(members, l.log)

	if _, err := l.store.Publish(e, Fingerprint(labeled)); err != nil {
		return nil, err
	}
	l.holder.Store(e)
	return e, nil
}

// examples 抓取失败的仓库跳过并记录警告
func (l *Learner) examples(ctx context.Context, labeled Labeled) ([]domain.Example, error) {
	var ids []domain.RepositoryID
	var labels []domain.ClassLabel
	for _, c := range domain.AllClasses() {
		for _, id := range labeled[c] {
			ids = append(ids, id)
			labels = append(labels, c)
		}
	}

	gathered := l.scheduler.Gather(ctx, ids)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	examples := make([]domain.Example, 0, len(gathered))
	for i, g := range gathered {
		if g.Err != nil {
			l.log.Warn("训练仓库获取失败，已跳过", logger.Repo(g.ID), logger.Error(g.Err))
			continue
		}
		examples = append(examples, domain.Example{Features: g.Features, Label: labels[i]})
	}
	return examples, nil
}

func (l *Learner) train(ctx context.Context, examples []domain.Example) ([]port.Classifier, error) {
	members := l.registry.Build()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for _, c := range members {
		g.Go(func() error {
			if err := c.Train(gctx, examples); err != nil {
				return fmt.Errorf("训练 %s 失败: %w", c.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return members, nil
}

// CheckLearningNeeded 没有可用模型、分类器集合变化或学习数据变化时需要重新学习
func (l *Learner) CheckLearningNeeded() bool {
	m, err := l.store.Manifest()
	if err != nil {
		return true
	}
	if !slices.Equal(m.Classifiers, l.registry.Names()) {
		return true
	}
	if _, _, err := l.store.Load(l.registry.Build()); err != nil {
		return true
	}
	labeled, err := LoadLearningDir(l.learningDir, logger.NewNop())
	if err != nil {
		// 学习数据不可读时以已发布的模型为准
		return false
	}
	return Fingerprint(labeled) != m.Fingerprint
}

// LoadLearningDir 目录中每个分类一个文件，文件名即分类名，每行一个仓库地址
// 非法行跳过，缺少任一分类文件返回错误
func LoadLearningDir(dir string, log logger.Logger) (Labeled, error) {
	if log == nil {
		log = logger.NewNop()
	}
	labeled := make(Labeled, domain.NumClasses)
	for _, c := range domain.AllClasses() {
		path := filepath.Join(dir, c.String())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, common.WrapError(common.ErrCodeInvalidInput, "缺少分类文件 "+path, err)
		}
		for n, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			id, err := domain.ParseRepositoryID(line)
			if err != nil {
				log.Warn("学习数据中的非法行已跳过",
					logger.String("file", path), logger.Int("line", n+1), logger.String("content", line))
				continue
			}
			labeled[c] = append(labeled[c], id)
		}
	}
	return labeled, nil
}

// Fingerprint 学习数据的摘要，与顺序无关
func Fingerprint(labeled Labeled) string {
	h := sha256.New()
	for _, c := range domain.AllClasses() {
		ids := make([]string, 0, len(labeled[c]))
		for _, id := range labeled[c] {
			ids = append(ids, strings.ToLower(id.String()))
		}
		sort.Strings(ids)
		fmt.Fprintf(h, "[%s]\n", c)
		for _, id := range ids {
			fmt.Fprintln(h, id)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ClassScore 单个分类的交叉验证指标
type ClassScore struct {
	Class     domain.ClassLabel
	Precision float64
	Recall    float64
	Support   int
}

// ValidationReport k 折交叉验证的结果
type ValidationReport struct {
	Folds    int
	Total    int
	Correct  int
	PerClass []ClassScore
}

// Accuracy 总体准确率
func (r *ValidationReport) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Total)
}

// Validate k 折交叉验证，只在内存中训练，不发布也不替换当前模型
func (l *Learner) Validate(ctx context.Context, labeled Labeled, k int, seed int64) (*ValidationReport, error) {
	if k < 2 {
		return nil, common.WrapError(common.ErrCodeInvalidInput, fmt.Sprintf("k 至少为 2: %d", k), common.ErrInvalidInput)
	}
	examples, err := l.examples(ctx, labeled)
	if err != nil {
		return nil, common.WrapError(common.ErrCodeLearning, "获取验证数据失败", fmt.Errorf("%w: %v", common.ErrLearning, err))
	}
	if len(examples) < k {
		return nil, common.WrapError(common.ErrCodeLearning, fmt.Sprintf("样本数 %d 少于折数 %d", len(examples), k), common.ErrLearning)
	}

	rng := rand.New(rand.NewSource(seed))
	order := rng.Perm(len(examples))
	fold := make([]int, len(examples))
	for pos, i := range order {
		fold[i] = pos % k
	}

	var truePos, predicted, actual [domain.NumClasses]int
	report := &ValidationReport{Folds: k}
	for f := 0; f < k; f++ {
		var train, test []domain.Example
		for i, ex := range examples {
			if fold[i] == f {
				test = append(test, ex)
			} else {
				train = append(train, ex)
			}
		}

		members, err := l.train(ctx, train)
		if err != nil {
			return nil, common.WrapError(common.ErrCodeLearning, "交叉验证训练失败", fmt.Errorf("%w: %v", common.ErrLearning, err))
		}
		e := ensemble.New(members, l.log)
		for _, ex := range test {
			res, err := e.Predict(ctx, ex.Features.ID, ex.Features)
			if err != nil {
				return nil, common.WrapError(common.ErrCodeLearning, "交叉验证预测失败", fmt.Errorf("%w: %v", common.ErrLearning, err))
			}
			report.Total++
			actual[ex.Label]++
			predicted[res.Class]++
			if res.Class == ex.Label {
				report.Correct++
				truePos[ex.Label]++
			}
		}
	}

	for _, c := range domain.AllClasses() {
		score := ClassScore{Class: c, Support: actual[c]}
		if predicted[c] > 0 {
			score.Precision = float64(truePos[c]) / float64(predicted[c])
		}
		if actual[c] > 0 {
			score.Recall = float64(truePos[c]) / float64(actual[c])
		}
		report.PerClass = append(report.PerClass, score)
	}
	l.log.Info("交叉验证完成", logger.Int("folds", k), logger.Float64("accuracy", report.Accuracy()))
	return report, nil
}
