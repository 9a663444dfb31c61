package domain

import (
	"fmt"
	"strings"
	"time"
)

// ClassLabel 代表仓库的分类标签，顺序固定，同时作为平局时的优先顺序
type ClassLabel int

const (
	DEV ClassLabel = iota
	HW
	EDU
	DOCS
	WEB
	DATA
	OTHER
)

// NumClasses 分类总数
const NumClasses = 7

var classNames = [NumClasses]string{"DEV", "HW", "EDU", "DOCS", "WEB", "DATA", "OTHER"}

// AllClasses 按枚举顺序返回全部分类
func AllClasses() []ClassLabel {
	return []ClassLabel{DEV, HW, EDU, DOCS, WEB, DATA, OTHER}
}

func (c ClassLabel) String() string {
	if c < 0 || int(c) >= NumClasses {
		return fmt.Sprintf("ClassLabel(%d)", int(c))
	}
	return classNames[c]
}

// Valid 判断标签是否在枚举范围内
func (c ClassLabel) Valid() bool {
	return c >= 0 && int(c) < NumClasses
}

// ParseClassLabel 解析分类名称（大小写不敏感）
func ParseClassLabel(s string) (ClassLabel, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range classNames {
		if name == upper {
			return ClassLabel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown class label %q", s)
}

// MarshalText 以名称形式序列化标签
func (c ClassLabel) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid class label %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText 从名称反序列化标签
func (c *ClassLabel) UnmarshalText(b []byte) error {
	l, err := ParseClassLabel(string(b))
	if err != nil {
		return err
	}
	*c = l
	return nil
}

// Distribution 按 ClassLabel 索引的各分类得分，不允许为负，全零表示“无信号”
type Distribution [NumClasses]float64

// Of 返回某个分类的得分
func (d Distribution) Of(c ClassLabel) float64 {
	if !c.Valid() {
		return 0
	}
	return d[c]
}

// Sum 返回所有得分之和
func (d Distribution) Sum() float64 {
	var s float64
	for _, v := range d {
		s += v
	}
	return s
}

// Clamped 把负值截断为 0
func (d Distribution) Clamped() Distribution {
	out := d
	for i, v := range out {
		if v < 0 {
			out[i] = 0
		}
	}
	return out
}

// Normalized 归一化为和为 1 的分布；和为 0 时按 1 处理，保持全零
func (d Distribution) Normalized() Distribution {
	sum := d.Sum()
	if sum == 0 {
		sum = 1.0
	}
	var out Distribution
	for i, v := range d {
		out[i] = v / sum
	}
	return out
}

// Best 返回得分最高的分类，严格大于才替换，所以平局按枚举顺序取最前
func (d Distribution) Best() ClassLabel {
	best := DEV
	for _, c := range AllClasses() {
		if d[c] > d[best] {
			best = c
		}
	}
	return best
}

// OneHot 构造只有一个分类为 1 的分布
func OneHot(c ClassLabel) Distribution {
	var d Distribution
	if c.Valid() {
		d[c] = 1
	}
	return d
}

// RepositoryID 仓库唯一标识，大小写敏感
type RepositoryID struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

func (id RepositoryID) String() string {
	return id.Owner + "/" + id.Name
}

// URL 返回仓库的 GitHub 主页地址
func (id RepositoryID) URL() string {
	return "https://github.com/" + id.Owner + "/" + id.Name
}

// IsZero 判断标识是否为空
func (id RepositoryID) IsZero() bool {
	return id.Owner == "" || id.Name == ""
}

// Metadata 仓库的基础元数据
type Metadata struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Homepage      string `json:"homepage"`
	Language      string `json:"language"`
	DefaultBranch string `json:"default_branch"`
	Fork          bool   `json:"fork"`
	HasWiki       bool   `json:"has_wiki"`
	HasPages      bool   `json:"has_pages"`
	Size          int    `json:"size"`
	Stargazers    int    `json:"stargazers"`
	Watchers      int    `json:"watchers"`
	Forks         int    `json:"forks"`
	OpenIssues    int    `json:"open_issues"`
	Subscribers   int    `json:"subscribers"`
}

// TreeEntry git 树中的一项
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // blob / tree
}

// RawRepository 一次抓取得到的完整原始数据，抓取后不再修改
type RawRepository struct {
	ID             RepositoryID   `json:"id"`
	Metadata       Metadata       `json:"metadata"`
	Languages      map[string]int `json:"languages"`
	Tree           []TreeEntry    `json:"tree"`
	Readme         string         `json:"readme"`
	CommitMessages []string       `json:"commit_messages"`
	FetchedAt      time.Time      `json:"fetched_at"`
}

// CacheEntry 缓存中的一条记录，NotFound 为 true 时表示已确认仓库不存在
type CacheEntry struct {
	ID        RepositoryID
	Payload   []byte
	NotFound  bool
	FetchedAt time.Time
}

// Expired 判断记录在 now 时刻是否已超过 maxAge
func (e *CacheEntry) Expired(now time.Time, maxAge time.Duration) bool {
	return now.After(e.FetchedAt.Add(maxAge))
}

// MetadataVectorSize 元数据数值特征的维度
const MetadataVectorSize = 10

// Features 从 RawRepository 派生的固定结构特征
type Features struct {
	ID              RepositoryID                `json:"id"`
	Name            string                      `json:"name"`
	Description     string                      `json:"description"`
	PrimaryLanguage string                      `json:"primary_language"`
	LanguageShares  map[string]float64          `json:"language_shares"`
	FileExtensions  []string                    `json:"file_extensions"`
	ReadmeWords     []string                    `json:"readme_words"`
	ReadmeExcerpt   string                      `json:"readme_excerpt"`
	CommitWords     []string                    `json:"commit_words"`
	StructurePaths  []string                    `json:"structure_paths"`
	MetadataVector  [MetadataVectorSize]float64 `json:"metadata_vector"`
}

// Example 一条带标签的训练样本
type Example struct {
	Features *Features
	Label    ClassLabel
}

// ClassificationResult 单个仓库的分类结果，生成后不可变
type ClassificationResult struct {
	ID            RepositoryID
	Combined      Distribution
	Class         ClassLabel
	PerClassifier map[string]Distribution
	Err           error
}

// OK 判断结果是否成功
func (r ClassificationResult) OK() bool {
	return r.Err == nil
}

// RateBudget 远程 API 的剩余额度，Known 为 false 时表示从未观测
type RateBudget struct {
	Remaining int
	ResetAt   time.Time
	Known     bool
}

// Display 返回用于展示的剩余次数，未知时为 -1
func (b RateBudget) Display() int {
	if !b.Known {
		return -1
	}
	return b.Remaining
}
