package classifier

import "classifyhub/internal/port"

// Factory 创建一个未训练的分类器
type Factory func() port.Classifier

// Registry 按固定顺序创建集成模型的全部成员
type Registry struct {
	factories []Factory
}

// NewRegistry 内置的八个分类器在前，extra 按传入顺序追加在后面
func NewRegistry(extra ...Factory) *Registry {
	factories := []Factory{
		func() port.Classifier { return NewFileClassifier() },
		func() port.Classifier { return NewLanguageClassifier() },
		func() port.Classifier { return NewLanguageDetailsClassifier() },
		func() port.Classifier { return NewNameClassifier() },
		func() port.Classifier { return NewReadmeClassifier() },
		func() port.Classifier { return NewCommitMessageClassifier() },
		func() port.Classifier { return NewRepositoryStructureClassifier() },
		func() port.Classifier { return NewMetadataClassifier() },
	}
	return &Registry{factories: append(factories, extra...)}
}

// Build 每次调用都返回一组新的实例
func (r *Registry) Build() []port.Classifier {
	out := make([]port.Classifier, 0, len(r.factories))
	for _, f := range r.factories {
		out = append(out, f())
	}
	return out
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for _, c := range r.Build() {
		names = append(names, c.Name())
	}
	return names
}
