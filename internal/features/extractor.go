// Package features 把抓取到的原始仓库数据转换成分类器使用的特征
package features

import (
	"math"
	"sort"
	"strings"

	"classifyhub/internal/domain"
)

// NoLanguage 仓库没有主语言时使用的占位符
const NoLanguage = "_None_"

// RepoPlaceholder 目录结构中替换仓库名的占位符
const RepoPlaceholder = "$REPO"

// ExcerptWords README 摘要保留的词数
const ExcerptWords = 40

// Extract 从原始数据中提取特征，nil 或残缺的输入得到中性的特征
func Extract(raw *domain.RawRepository) *domain.Features {
	if raw == nil {
		return &domain.Features{PrimaryLanguage: NoLanguage, LanguageShares: map[string]float64{}}
	}

	meta := raw.Metadata
	name := meta.Name
	if name == "" {
		name = raw.ID.Name
	}

	f := &domain.Features{
		ID:              raw.ID,
		Name:            name,
		Description:     meta.Description,
		PrimaryLanguage: meta.Language,
		LanguageShares:  languageShares(raw.Languages),
		FileExtensions:  fileExtensions(raw.Tree),
		ReadmeWords:     Words(raw.Readme),
		ReadmeExcerpt:   Excerpt(raw.Readme, ExcerptWords),
		CommitWords:     Words(strings.Join(raw.CommitMessages, "\n")),
		StructurePaths:  structurePaths(raw.Tree, name),
		MetadataVector:  metadataVector(meta),
	}
	if f.PrimaryLanguage == "" {
		f.PrimaryLanguage = NoLanguage
	}
	return f
}

// Words 按空白切分并转小写，去重后排序
func Words(text string) []string {
	return uniqueSorted(strings.Fields(strings.ToLower(text)))
}

// Excerpt 按原文顺序保留前 n 个词，空白压缩为单个空格
func Excerpt(text string, n int) string {
	fields := strings.Fields(text)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

// Extension 取文件名最后一个点之后的部分；没有点时就是整个文件名
func Extension(path string) string {
	base := path[strings.LastIndex(path, "/")+1:]
	ext := base[strings.LastIndex(base, ".")+1:]
	return strings.ToLower(ext)
}

// fileExtensions 每个文件一项，保留重复以便按文件数求平均
func fileExtensions(tree []domain.TreeEntry) []string {
	var exts []string
	for _, e := range tree {
		if e.Type != "blob" {
			continue
		}
		exts = append(exts, Extension(e.Path))
	}
	sort.Strings(exts)
	return exts
}

func structurePaths(tree []domain.TreeEntry, name string) []string {
	lowerName := strings.ToLower(name)
	paths := make([]string, 0, len(tree))
	for _, e := range tree {
		p := strings.ToLower(e.Path)
		if lowerName != "" {
			p = strings.ReplaceAll(p, lowerName, RepoPlaceholder)
		}
		paths = append(paths, p)
	}
	return uniqueSorted(paths)
}

func languageShares(langs map[string]int) map[string]float64 {
	shares := make(map[string]float64, len(langs))
	total := 0
	for _, n := range langs {
		if n > 0 {
			total += n
		}
	}
	if total == 0 {
		return shares
	}
	for lang, n := range langs {
		if n > 0 {
			shares[lang] = float64(n) / float64(total)
		}
	}
	return shares
}

// metadataVector 顺序固定：fork, homepage, size, stars, watchers, wiki, pages, forks, issues, subscribers
func metadataVector(m domain.Metadata) [domain.MetadataVectorSize]float64 {
	return [domain.MetadataVectorSize]float64{
		boolf(m.Fork),
		boolf(m.Homepage != ""),
		nonNeg(m.Size),
		nonNeg(m.Stargazers),
		nonNeg(m.Watchers),
		boolf(m.HasWiki),
		boolf(m.HasPages),
		nonNeg(m.Forks),
		nonNeg(m.OpenIssues),
		nonNeg(m.Subscribers),
	}
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func nonNeg(n int) float64 {
	return math.Max(0, float64(n))
}

func uniqueSorted(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	sort.Strings(items)
	out := items[:0]
	for _, s := range items {
		if len(out) > 0 && out[len(out)-1] == s {
			continue
		}
		out = append(out, s)
	}
	return out
}
