package classifier

import (
	"context"
	"sort"
	"sync"

	"classifyhub/internal/domain"
)

// vocabulary 词袋的词表：至少出现在两个仓库中的词；没有这样的词时取全部
func vocabulary(docs [][]string) []string {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{}, len(doc))
		for _, w := range doc {
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			df[w]++
		}
	}

	var vocab []string
	for w, n := range df {
		if n >= 2 {
			vocab = append(vocab, w)
		}
	}
	if len(vocab) == 0 {
		for w := range df {
			vocab = append(vocab, w)
		}
	}
	sort.Strings(vocab)
	return vocab
}

// encode 把词转换成词表中的有序下标集合，词表外的词被忽略
func encode(index map[string]int, doc []string) []int {
	set := make([]int, 0, len(doc))
	seen := make(map[int]struct{}, len(doc))
	for _, w := range doc {
		i, ok := index[w]
		if !ok {
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		set = append(set, i)
	}
	sort.Ints(set)
	return set
}

type bowModel struct {
	Vocabulary []string            `json:"vocabulary"`
	Samples    [][]int             `json:"samples"`
	Labels     []domain.ClassLabel `json:"labels"`
}

// BagOfWords 词袋 + Jaccard 距离 kNN 的通用实现
type BagOfWords struct {
	name   string
	tokens func(*domain.Features) []string

	mu    sync.RWMutex
	model *bowModel
	index map[string]int
}

func (b *BagOfWords) Name() string { return b.name }

func (b *BagOfWords) Trained() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model != nil
}

func (b *BagOfWords) Train(ctx context.Context, examples []domain.Example) error {
	if err := checkExamples(b.name, examples); err != nil {
		return err
	}
	docs := make([][]string, 0, len(examples))
	labels := make([]domain.ClassLabel, 0, len(examples))
	for _, ex := range examples {
		if err := ctx.Err(); err != nil {
			return err
		}
		docs = append(docs, b.tokens(ex.Features))
		labels = append(labels, ex.Label)
	}

	model := &bowModel{Vocabulary: vocabulary(docs), Labels: labels}
	index := indexOf(model.Vocabulary)
	for _, doc := range docs {
		model.Samples = append(model.Samples, encode(index, doc))
	}

	b.mu.Lock()
	b.model, b.index = model, index
	b.mu.Unlock()
	return nil
}

func (b *BagOfWords) PredictProba(_ context.Context, f *domain.Features) (domain.Distribution, error) {
	b.mu.RLock()
	model, index := b.model, b.index
	b.mu.RUnlock()
	if model == nil {
		return domain.Distribution{}, notReady(b.name)
	}

	query := encode(index, b.tokens(f))
	dists := make([]float64, len(model.Samples))
	for i, s := range model.Samples {
		dists[i] = jaccard(query, s)
	}
	return vote(dists, model.Labels, defaultNeighbors), nil
}

func (b *BagOfWords) MarshalModel() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return marshalModel(b.name, b.model != nil, b.model)
}

func (b *BagOfWords) UnmarshalModel(data []byte) error {
	var model bowModel
	if err := unmarshalModel(b.name, data, &model); err != nil {
		return err
	}
	if len(model.Samples) != len(model.Labels) {
		return corruptModel(b.name)
	}
	b.mu.Lock()
	b.model, b.index = &model, indexOf(model.Vocabulary)
	b.mu.Unlock()
	return nil
}

func indexOf(vocab []string) map[string]int {
	index := make(map[string]int, len(vocab))
	for i, w := range vocab {
		index[w] = i
	}
	return index
}

func safeTokens(pick func(*domain.Features) []string) func(*domain.Features) []string {
	return func(f *domain.Features) []string {
		if f == nil {
			return nil
		}
		return pick(f)
	}
}

// NewReadmeClassifier 按 README 的词袋分类
func NewReadmeClassifier() *BagOfWords {
	return &BagOfWords{
		name:   "ReadmeClassifier",
		tokens: safeTokens(func(f *domain.Features) []string { return f.ReadmeWords }),
	}
}

// NewCommitMessageClassifier 按最近提交信息的词袋分类
func NewCommitMessageClassifier() *BagOfWords {
	return &BagOfWords{
		name:   "CommitMessageClassifier",
		tokens: safeTokens(func(f *domain.Features) []string { return f.CommitWords }),
	}
}

// NewRepositoryStructureClassifier 按目录结构分类，路径中的仓库名已被替换为占位符
func NewRepositoryStructureClassifier() *BagOfWords {
	return &BagOfWords{
		name:   "RepositoryStructureClassifier",
		tokens: safeTokens(func(f *domain.Features) []string { return f.StructurePaths }),
	}
}
