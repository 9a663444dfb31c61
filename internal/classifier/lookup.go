package classifier

import (
	"context"
	"sort"
	"sync"

	"classifyhub/internal/domain"
)

// lookupTable 把一个离散特征映射到训练时观察到的分类频率
type lookupTable struct {
	mu    sync.RWMutex
	table map[string]domain.Distribution
}

func (t *lookupTable) trained() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.table != nil
}

func (t *lookupTable) snapshot() map[string]domain.Distribution {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.table
}

func (t *lookupTable) learn(examples []domain.Example, keys func(*domain.Features) []string) {
	counts := make(map[string]domain.Distribution)
	for _, ex := range examples {
		for _, k := range keys(ex.Features) {
			d := counts[k]
			d[ex.Label]++
			counts[k] = d
		}
	}
	table := frequencies(counts)
	t.mu.Lock()
	t.table = table
	t.mu.Unlock()
}

func (t *lookupTable) marshal(name string) ([]byte, error) {
	table := t.snapshot()
	return marshalModel(name, table != nil, table)
}

func (t *lookupTable) unmarshal(name string, data []byte) error {
	table := make(map[string]domain.Distribution)
	if err := unmarshalModel(name, data, &table); err != nil {
		return err
	}
	t.mu.Lock()
	t.table = table
	t.mu.Unlock()
	return nil
}

// FileClassifier 按文件扩展名分类，结果是仓库内所有文件的平均
type FileClassifier struct {
	lookupTable
}

func NewFileClassifier() *FileClassifier { return &FileClassifier{} }

func (c *FileClassifier) Name() string  { return "FileClassifier" }
func (c *FileClassifier) Trained() bool { return c.trained() }

func (c *FileClassifier) Train(_ context.Context, examples []domain.Example) error {
	if err := checkExamples(c.Name(), examples); err != nil {
		return err
	}
	c.learn(examples, func(f *domain.Features) []string { return f.FileExtensions })
	return nil
}

func (c *FileClassifier) PredictProba(_ context.Context, f *domain.Features) (domain.Distribution, error) {
	table := c.snapshot()
	if table == nil {
		return domain.Distribution{}, notReady(c.Name())
	}
	var result domain.Distribution
	if f == nil || len(f.FileExtensions) == 0 {
		return result, nil
	}
	for _, ext := range f.FileExtensions {
		d := table[ext]
		for i := range result {
			result[i] += d[i]
		}
	}
	n := float64(len(f.FileExtensions))
	for i := range result {
		result[i] /= n
	}
	return result, nil
}

func (c *FileClassifier) MarshalModel() ([]byte, error)   { return c.marshal(c.Name()) }
func (c *FileClassifier) UnmarshalModel(data []byte) error { return c.unmarshal(c.Name(), data) }

// LanguageClassifier 按主语言分类
type LanguageClassifier struct {
	lookupTable
}

func NewLanguageClassifier() *LanguageClassifier { return &LanguageClassifier{} }

func (c *LanguageClassifier) Name() string  { return "LanguageClassifier" }
func (c *LanguageClassifier) Trained() bool { return c.trained() }

func (c *LanguageClassifier) Train(_ context.Context, examples []domain.Example) error {
	if err := checkExamples(c.Name(), examples); err != nil {
		return err
	}
	c.learn(examples, func(f *domain.Features) []string { return []string{f.PrimaryLanguage} })
	return nil
}

// PredictProba 没见过的语言返回全零
func (c *LanguageClassifier) PredictProba(_ context.Context, f *domain.Features) (domain.Distribution, error) {
	table := c.snapshot()
	if table == nil {
		return domain.Distribution{}, notReady(c.Name())
	}
	if f == nil {
		return domain.Distribution{}, nil
	}
	return table[f.PrimaryLanguage], nil
}

func (c *LanguageClassifier) MarshalModel() ([]byte, error)   { return c.marshal(c.Name()) }
func (c *LanguageClassifier) UnmarshalModel(data []byte) error { return c.unmarshal(c.Name(), data) }

// NameClassifier 按编辑距离找最接近的训练仓库名，距离相同的全部取平均
type NameClassifier struct {
	lookupTable
}

func NewNameClassifier() *NameClassifier { return &NameClassifier{} }

func (c *NameClassifier) Name() string  { return "NameClassifier" }
func (c *NameClassifier) Trained() bool { return c.trained() }

func (c *NameClassifier) Train(_ context.Context, examples []domain.Example) error {
	if err := checkExamples(c.Name(), examples); err != nil {
		return err
	}
	c.learn(examples, func(f *domain.Features) []string { return []string{f.Name} })
	return nil
}

func (c *NameClassifier) PredictProba(_ context.Context, f *domain.Features) (domain.Distribution, error) {
	table := c.snapshot()
	if table == nil {
		return domain.Distribution{}, notReady(c.Name())
	}
	var result domain.Distribution
	if f == nil || len(table) == 0 {
		return result, nil
	}

	best := -1
	var nearest []string
	for target := range table {
		d := levenshtein(f.Name, target)
		switch {
		case best < 0 || d < best:
			best = d
			nearest = append(nearest[:0], target)
		case d == best:
			nearest = append(nearest, target)
		}
	}
	// 固定求和顺序，同一输入每次结果逐位相同
	sort.Strings(nearest)
	for _, target := range nearest {
		d := table[target]
		for i := range result {
			result[i] += d[i]
		}
	}
	n := float64(len(nearest))
	for i := range result {
		result[i] /= n
	}
	return result, nil
}

func (c *NameClassifier) MarshalModel() ([]byte, error)   { return c.marshal(c.Name()) }
func (c *NameClassifier) UnmarshalModel(data []byte) error { return c.unmarshal(c.Name(), data) }

// levenshtein 按 rune 计算编辑距离
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
