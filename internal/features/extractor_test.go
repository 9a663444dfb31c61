package features

import (
	"testing"

	"classifyhub/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRaw() *domain.RawRepository {
	return &domain.RawRepository{
		ID: domain.RepositoryID{Owner: "octo", Name: "Blog"},
		Metadata: domain.Metadata{
			Name:        "Blog",
			Description: "personal site",
			Homepage:    "https://octo.dev",
			Language:    "Ruby",
			HasPages:    true,
			Size:        12,
			Stargazers:  3,
			Subscribers: 1,
		},
		Languages: map[string]int{"Ruby": 300, "HTML": 100},
		Tree: []domain.TreeEntry{
			{Path: "blog", Type: "tree"},
			{Path: "blog/index.HTML", Type: "blob"},
			{Path: "Makefile", Type: "blob"},
			{Path: "lib/blog.rb", Type: "blob"},
			{Path: "lib/util.rb", Type: "blob"},
		},
		Readme:         "My Blog\nmy   notes blog",
		CommitMessages: []string{"Fix typo", "fix layout"},
	}
}

func TestExtract(t *testing.T) {
	f := Extract(sampleRaw())

	assert.Equal(t, "Blog", f.Name)
	assert.Equal(t, "Ruby", f.PrimaryLanguage)
	assert.InDelta(t, 0.75, f.LanguageShares["Ruby"], 1e-9)
	assert.InDelta(t, 0.25, f.LanguageShares["HTML"], 1e-9)
	assert.Equal(t, []string{"html", "makefile", "rb", "rb"}, f.FileExtensions)
	assert.Equal(t, []string{"blog", "my", "notes"}, f.ReadmeWords)
	assert.Equal(t, "My Blog my notes blog", f.ReadmeExcerpt)
	assert.Equal(t, []string{"fix", "layout", "typo"}, f.CommitWords)
	assert.Equal(t, []string{"$REPO", "$REPO/index.html", "lib/$REPO.rb", "lib/util.rb", "makefile"}, f.StructurePaths)
	assert.Equal(t, [domain.MetadataVectorSize]float64{0, 1, 12, 3, 0, 0, 1, 0, 0, 1}, f.MetadataVector)
}

func TestExcerpt(t *testing.T) {
	tests := []struct {
		name string
		text string
		n    int
		want string
	}{
		{name: "保持原文顺序", text: "Weather data\n\n2020  readings", n: 10, want: "Weather data 2020 readings"},
		{name: "截断", text: "a b c d", n: 2, want: "a b"},
		{name: "空文本", text: "  \n ", n: 5, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Excerpt(tt.text, tt.n))
		})
	}
}

func TestExtract_Neutral(t *testing.T) {
	tests := []struct {
		name string
		raw  *domain.RawRepository
	}{
		{name: "nil 输入", raw: nil},
		{name: "空仓库", raw: &domain.RawRepository{ID: domain.RepositoryID{Owner: "a", Name: "b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Extract(tt.raw)
			require.NotNil(t, f)
			assert.Equal(t, NoLanguage, f.PrimaryLanguage)
			assert.Empty(t, f.LanguageShares)
			assert.Empty(t, f.FileExtensions)
			assert.Empty(t, f.ReadmeWords)
			assert.Empty(t, f.StructurePaths)
			assert.Equal(t, [domain.MetadataVectorSize]float64{}, f.MetadataVector)
		})
	}
}

func TestExtract_Deterministic(t *testing.T) {
	a := Extract(sampleRaw())
	b := Extract(sampleRaw())
	assert.Equal(t, a, b)
}

func TestExtension(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.go", "go"},
		{"src/App.TSX", "tsx"},
		{"archive.tar.gz", "gz"},
		{"Dockerfile", "dockerfile"},
		{"docs.v2/README", "readme"},
		{".gitignore", "gitignore"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Extension(tt.path))
		})
	}
}

func TestLanguageShares_IgnoresNonPositive(t *testing.T) {
	shares := languageShares(map[string]int{"Go": 10, "C": 0, "Bad": -5})
	assert.Equal(t, map[string]float64{"Go": 1}, shares)
}
