// Package ensemble 把各个分类器的结果合成最终分类，并负责模型的持久化
package ensemble

import (
	"context"
	"errors"
	"sync/atomic"

	"classifyhub/internal/common"
	"classifyhub/internal/domain"
	"classifyhub/internal/logger"
	"classifyhub/internal/port"
)

// Ensemble 一组已训练的分类器，创建后不再修改
type Ensemble struct {
	members []port.Classifier
	log     logger.Logger
}

func New(members []port.Classifier, log logger.Logger) *Ensemble {
	if log == nil {
		log = logger.NewNop()
	}
	return &Ensemble{members: members, log: log}
}

func (e *Ensemble) Members() []port.Classifier {
	if e == nil {
		return nil
	}
	return e.members
}

// ClassifierNames 按成员顺序返回名字
func (e *Ensemble) ClassifierNames() []string {
	names := make([]string, 0, len(e.Members()))
	for _, m := range e.Members() {
		names = append(names, m.Name())
	}
	return names
}

// Ready 至少有一个成员且全部已训练
func (e *Ensemble) Ready() bool {
	if len(e.Members()) == 0 {
		return false
	}
	for _, m := range e.members {
		if !m.Trained() {
			return false
		}
	}
	return true
}

// Predict 各成员分布的算术平均，负值先截断为 0；得分相同时取枚举顺序靠前的分类
// 单个成员预测失败时记录日志并按全零计入
func (e *Ensemble) Predict(ctx context.Context, id domain.RepositoryID, f *domain.Features) (domain.ClassificationResult, error) {
	result := domain.ClassificationResult{ID: id}
	if !e.Ready() {
		return result, common.WrapError(common.ErrCodeModel, "分类模型尚未就绪", common.ErrModelNotReady)
	}

	result.PerClassifier = make(map[string]domain.Distribution, len(e.members))
	for _, m := range e.members {
		d, err := m.PredictProba(ctx, f)
		if err != nil {
			if errors.Is(err, common.ErrModelNotReady) {
				return domain.ClassificationResult{ID: id}, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.ClassificationResult{ID: id}, ctxErr
			}
			e.log.Warn("分类器预测失败，按全零计入",
				logger.Repo(id), logger.String("classifier", m.Name()), logger.Error(err))
			d = domain.Distribution{}
		}
		d = d.Clamped()
		result.PerClassifier[m.Name()] = d
		for i := range result.Combined {
			result.Combined[i] += d[i]
		}
	}

	n := float64(len(e.members))
	for i := range result.Combined {
		result.Combined[i] /= n
	}
	result.Class = result.Combined.Best()
	return result, nil
}

// Holder 持有当前生效的 Ensemble，替换是原子的
type Holder struct {
	current atomic.Pointer[Ensemble]
}

func NewHolder() *Holder {
	return &Holder{}
}

// Load 可能返回 nil
func (h *Holder) Load() *Ensemble {
	return h.current.Load()
}

func (h *Holder) Store(e *Ensemble) {
	h.current.Store(e)
}

// Ready 当前是否有可用的 Ensemble
func (h *Holder) Ready() bool {
	return h.Load().Ready()
}
