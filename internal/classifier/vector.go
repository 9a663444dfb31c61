package classifier

import (
	"context"
	"math"
	"sort"
	"sync"

	"classifyhub/internal/domain"
)

type vectorModel struct {
	Dimensions []string            `json:"dimensions,omitempty"`
	Samples    [][]float64         `json:"samples"`
	Labels     []domain.ClassLabel `json:"labels"`
}

// vectorKNN 固定维度向量上的欧氏距离 kNN
type vectorKNN struct {
	name string

	mu    sync.RWMutex
	model *vectorModel
}

func (v *vectorKNN) trained() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.model != nil
}

func (v *vectorKNN) snapshot() *vectorModel {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.model
}

func (v *vectorKNN) store(m *vectorModel) {
	v.mu.Lock()
	v.model = m
	v.mu.Unlock()
}

func predictVector(m *vectorModel, query []float64) domain.Distribution {
	dists := make([]float64, len(m.Samples))
	for i, s := range m.Samples {
		dists[i] = euclidean(query, s)
	}
	return vote(dists, m.Labels, defaultNeighbors)
}

func (v *vectorKNN) marshal() ([]byte, error) {
	m := v.snapshot()
	return marshalModel(v.name, m != nil, m)
}

func (v *vectorKNN) unmarshal(data []byte, width int) error {
	var m vectorModel
	if err := unmarshalModel(v.name, data, &m); err != nil {
		return err
	}
	if len(m.Samples) != len(m.Labels) {
		return corruptModel(v.name)
	}
	if width < 0 {
		width = len(m.Dimensions)
	}
	for _, s := range m.Samples {
		if len(s) != width {
			return corruptModel(v.name)
		}
	}
	v.store(&m)
	return nil
}

// LanguageDetailsClassifier 按各语言代码占比组成的向量做 kNN
type LanguageDetailsClassifier struct {
	vectorKNN
}

func NewLanguageDetailsClassifier() *LanguageDetailsClassifier {
	return &LanguageDetailsClassifier{vectorKNN{name: "LanguageDetailsClassifier"}}
}

func (c *LanguageDetailsClassifier) Name() string  { return c.name }
func (c *LanguageDetailsClassifier) Trained() bool { return c.trained() }

func (c *LanguageDetailsClassifier) Train(_ context.Context, examples []domain.Example) error {
	if err := checkExamples(c.name, examples); err != nil {
		return err
	}
	seen := make(map[string]struct{})
	for _, ex := range examples {
		for lang := range ex.Features.LanguageShares {
			seen[lang] = struct{}{}
		}
	}
	dims := make([]string, 0, len(seen))
	for lang := range seen {
		dims = append(dims, lang)
	}
	sort.Strings(dims)

	m := &vectorModel{Dimensions: dims}
	for _, ex := range examples {
		m.Samples = append(m.Samples, shareVector(dims, ex.Features))
		m.Labels = append(m.Labels, ex.Label)
	}
	c.store(m)
	return nil
}

func (c *LanguageDetailsClassifier) PredictProba(_ context.Context, f *domain.Features) (domain.Distribution, error) {
	m := c.snapshot()
	if m == nil {
		return domain.Distribution{}, notReady(c.name)
	}
	return predictVector(m, shareVector(m.Dimensions, f)), nil
}

func (c *LanguageDetailsClassifier) MarshalModel() ([]byte, error)   { return c.marshal() }
func (c *LanguageDetailsClassifier) UnmarshalModel(data []byte) error { return c.unmarshal(data, -1) }

// shareVector 训练时没见过的语言不参与距离计算
func shareVector(dims []string, f *domain.Features) []float64 {
	vec := make([]float64, len(dims))
	if f == nil {
		return vec
	}
	for i, lang := range dims {
		vec[i] = f.LanguageShares[lang]
	}
	return vec
}

// MetadataClassifier 对元数据向量取 log1p 后做 kNN，避免 star 数之类的大数值主导距离
type MetadataClassifier struct {
	vectorKNN
}

func NewMetadataClassifier() *MetadataClassifier {
	return &MetadataClassifier{vectorKNN{name: "MetadataClassifier"}}
}

func (c *MetadataClassifier) Name() string  { return c.name }
func (c *MetadataClassifier) Trained() bool { return c.trained() }

func (c *MetadataClassifier) Train(_ context.Context, examples []domain.Example) error {
	if err := checkExamples(c.name, examples); err != nil {
		return err
	}
	m := &vectorModel{}
	for _, ex := range examples {
		m.Samples = append(m.Samples, metadataPoint(ex.Features))
		m.Labels = append(m.Labels, ex.Label)
	}
	c.store(m)
	return nil
}

func (c *MetadataClassifier) PredictProba(_ context.Context, f *domain.Features) (domain.Distribution, error) {
	m := c.snapshot()
	if m == nil {
		return domain.Distribution{}, notReady(c.name)
	}
	return predictVector(m, metadataPoint(f)), nil
}

func (c *MetadataClassifier) MarshalModel() ([]byte, error) { return c.marshal() }
func (c *MetadataClassifier) UnmarshalModel(data []byte) error {
	return c.unmarshal(data, domain.MetadataVectorSize)
}

func metadataPoint(f *domain.Features) []float64 {
	vec := make([]float64, domain.MetadataVectorSize)
	if f == nil {
		return vec
	}
	for i, x := range f.MetadataVector {
		vec[i] = math.Log1p(math.Max(0, x))
	}
	return vec
}
