// Package classifier 实现集成模型中的各个成员分类器
package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"classifyhub/internal/common"
	"classifyhub/internal/domain"
)

// defaultNeighbors kNN 的近邻数
const defaultNeighbors = 10

// vote 距离加权投票：距离为 0 的样本直接胜出，否则按 1/d 加权
func vote(dists []float64, labels []domain.ClassLabel, k int) domain.Distribution {
	var result domain.Distribution
	if len(dists) == 0 {
		return result
	}

	order := make([]int, len(dists))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return dists[order[a]] < dists[order[b]] })

	if dists[order[0]] == 0 {
		for _, i := range order {
			if dists[i] != 0 {
				break
			}
			result[labels[i]]++
		}
		return result.Normalized()
	}

	if k > len(order) {
		k = len(order)
	}
	for _, i := range order[:k] {
		result[labels[i]] += 1 / dists[i]
	}
	return result.Normalized()
}

// jaccard 两个有序下标集合的 Jaccard 距离，两个空集视为相同
func jaccard(a, b []int) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			inter++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	union := len(a) + len(b) - inter
	return 1 - float64(inter)/float64(union)
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// frequencies 把计数表归一化为概率
func frequencies(counts map[string]domain.Distribution) map[string]domain.Distribution {
	out := make(map[string]domain.Distribution, len(counts))
	for k, d := range counts {
		out[k] = d.Normalized()
	}
	return out
}

func notReady(name string) error {
	return common.WrapError(common.ErrCodeModel, name+" 尚未训练", common.ErrModelNotReady)
}

// checkExamples 训练集不能为空，每个样本都要有特征和合法的标签
func checkExamples(name string, examples []domain.Example) error {
	if len(examples) == 0 {
		return common.WrapError(common.ErrCodeInvalidInput, name+" 的训练集为空", common.ErrInvalidInput)
	}
	for i, ex := range examples {
		if ex.Features == nil || !ex.Label.Valid() {
			return common.WrapError(common.ErrCodeInvalidInput, fmt.Sprintf("%s 的第 %d 个样本无效", name, i), common.ErrInvalidInput)
		}
	}
	return nil
}

func marshalModel(name string, trained bool, model any) ([]byte, error) {
	if !trained {
		return nil, notReady(name)
	}
	return json.Marshal(model)
}

func corruptModel(name string) error {
	return common.NewError(common.ErrCodeModel, name+" 模型文件损坏")
}

func unmarshalModel(name string, data []byte, model any) error {
	if err := json.Unmarshal(data, model); err != nil {
		return common.WrapError(common.ErrCodeModel, fmt.Sprintf("%s 模型文件损坏", name), err)
	}
	return nil
}
