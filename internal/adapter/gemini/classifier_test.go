package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"classifyhub/internal/common"
	"classifyhub/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func TestParseDistribution(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expectError bool
		want        domain.ClassLabel
	}{
		{
			name:  "合法 JSON",
			input: `{"DEV": 0.1, "WEB": 0.9}`,
			want:  domain.WEB,
		},
		{
			name:  "带 Markdown 标记",
			input: "```json\n{\"data\": 3, \"docs\": 1}\n```",
			want:  domain.DATA,
		},
		{
			name:  "未知分类和负数被忽略",
			input: `{"HW": 2, "GAME": 9, "EDU": -4}`,
			want:  domain.HW,
		},
		{
			name:        "非法 JSON",
			input:       `{"DEV": high}`,
			expectError: true,
		},
		{
			name:        "没有 JSON",
			input:       `I think it is DEV`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := parseDistribution(tt.input)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Best())
			assert.InDelta(t, 1.0, d.Sum(), 1e-9)
			for _, p := range d {
				assert.GreaterOrEqual(t, p, 0.0)
			}
		})
	}
}

func TestClassifier_TrainAndPredict(t *testing.T) {
	gen := &fakeGenerator{reply: `{"EDU": 1}`}
	c := newWithGenerator(gen)

	_, err := c.PredictProba(context.Background(), &domain.Features{Name: "x"})
	assert.ErrorIs(t, err, common.ErrModelNotReady)

	var examples []domain.Example
	for i := 0; i < 5; i++ {
		examples = append(examples, domain.Example{Features: &domain.Features{Name: "course-notes"}, Label: domain.EDU})
	}
	examples = append(examples, domain.Example{Features: &domain.Features{Name: "blog"}, Label: domain.WEB})
	require.NoError(t, c.Train(context.Background(), examples))
	assert.True(t, c.Trained())
	assert.Len(t, c.shots, shotsPerClass+1)

	d, err := c.PredictProba(context.Background(), &domain.Features{
		Name:            "lecture-2024",
		PrimaryLanguage: "TeX",
		ReadmeExcerpt:   "Slides for week 1 of Compilers",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EDU, d.Best())
	require.Len(t, gen.prompts, 1)
	assert.True(t, strings.Contains(gen.prompts[0], "lecture-2024"))
	assert.True(t, strings.Contains(gen.prompts[0], "blog"))
	assert.True(t, strings.Contains(gen.prompts[0], "README: Slides for week 1 of Compilers"), "README 按原文顺序进入提示词")
}

func TestClassifier_GenerateError(t *testing.T) {
	c := newWithGenerator(&fakeGenerator{err: errors.New("quota")})
	require.NoError(t, c.UnmarshalModel([]byte(`[]`)))

	_, err := c.PredictProba(context.Background(), &domain.Features{Name: "x"})
	assert.Error(t, err)
}

func TestClassifier_ModelRoundTrip(t *testing.T) {
	c := newWithGenerator(&fakeGenerator{})
	_, err := c.MarshalModel()
	assert.ErrorIs(t, err, common.ErrModelNotReady)

	require.NoError(t, c.Train(context.Background(), []domain.Example{
		{Features: &domain.Features{Name: "dataset", ReadmeExcerpt: "csv dumps"}, Label: domain.DATA},
	}))
	data, err := c.MarshalModel()
	require.NoError(t, err)

	other := newWithGenerator(&fakeGenerator{})
	require.NoError(t, other.UnmarshalModel(data))
	assert.Equal(t, c.shots, other.shots)
	assert.Error(t, other.UnmarshalModel([]byte("{broken")))

	p := &Provider{gen: &fakeGenerator{}}
	assert.False(t, p.NewClassifier().Trained())
	assert.NoError(t, p.Close())
}
