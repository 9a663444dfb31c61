// Package gemini 提供一个由 Gemini 大模型打分的可选集成成员
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"classifyhub/internal/common"
	"classifyhub/internal/domain"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// shotsPerClass 每个分类保留的示例数
const shotsPerClass = 3


// generator 发送提示词并返回模型的文本回答
type generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type genaiGenerator struct {
	model *genai.GenerativeModel
}

func (g *genaiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("AI 调用失败: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("AI 返回内容为空")
	}
	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("AI 返回格式错误")
	}
	return string(text), nil
}

// shot 一个少样本示例
type shot struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Language    string            `json:"language"`
	Readme      string            `json:"readme"`
	Label       domain.ClassLabel `json:"label"`
}

// Provider 持有 genai 客户端，所有 Classifier 实例共用它
type Provider struct {
	client *genai.Client
	gen    generator
}

func NewProvider(ctx context.Context, apiKey, model string) (*Provider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	m := client.GenerativeModel(model)
	// 强制要求返回 JSON，降低解析错误的概率
	m.ResponseMIMEType = "application/json"
	m.SetTemperature(0)

	return &Provider{
		client: client,
		gen:    &genaiGenerator{model: m},
	}, nil
}

// NewClassifier 返回一个未训练的实例
func (p *Provider) NewClassifier() *Classifier {
	return newWithGenerator(p.gen)
}

// Close 释放底层的 genai 客户端
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// Classifier 实现了 port.Classifier 接口
type Classifier struct {
	gen generator

	mu    sync.RWMutex
	shots []shot
}

func newWithGenerator(gen generator) *Classifier {
	return &Classifier{gen: gen}
}

func (c *Classifier) Name() string { return "GeminiClassifier" }

func (c *Classifier) Trained() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shots != nil
}

// Train 不调用模型，只按分类挑出少量示例放进之后的提示词
func (c *Classifier) Train(_ context.Context, examples []domain.Example) error {
	if len(examples) == 0 {
		return common.WrapError(common.ErrCodeInvalidInput, c.Name()+" 的训练集为空", common.ErrInvalidInput)
	}
	perClass := make(map[domain.ClassLabel]int)
	shots := make([]shot, 0, domain.NumClasses*shotsPerClass)
	for _, ex := range examples {
		if ex.Features == nil || !ex.Label.Valid() || perClass[ex.Label] >= shotsPerClass {
			continue
		}
		perClass[ex.Label]++
		shots = append(shots, shotOf(ex.Features, ex.Label))
	}

	c.mu.Lock()
	c.shots = shots
	c.mu.Unlock()
	return nil
}

func (c *Classifier) PredictProba(ctx context.Context, f *domain.Features) (domain.Distribution, error) {
	c.mu.RLock()
	shots := c.shots
	c.mu.RUnlock()
	if shots == nil {
		return domain.Distribution{}, common.WrapError(common.ErrCodeModel, c.Name()+" 尚未训练", common.ErrModelNotReady)
	}
	if f == nil {
		return domain.Distribution{}, nil
	}

	raw, err := c.gen.Generate(ctx, buildPrompt(shots, f))
	if err != nil {
		return domain.Distribution{}, common.WrapError(common.ErrCodeModel, "Gemini 打分失败", err)
	}
	return parseDistribution(raw)
}

func (c *Classifier) MarshalModel() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.shots == nil {
		return nil, common.WrapError(common.ErrCodeModel, c.Name()+" 尚未训练", common.ErrModelNotReady)
	}
	return json.Marshal(c.shots)
}

func (c *Classifier) UnmarshalModel(data []byte) error {
	var shots []shot
	if err := json.Unmarshal(data, &shots); err != nil {
		return common.WrapError(common.ErrCodeModel, c.Name()+" 模型文件损坏", err)
	}
	if shots == nil {
		shots = []shot{}
	}
	c.mu.Lock()
	c.shots = shots
	c.mu.Unlock()
	return nil
}

func shotOf(f *domain.Features, label domain.ClassLabel) shot {
	return shot{
		Name:        f.Name,
		Description: f.Description,
		Language:    f.PrimaryLanguage,
		Readme:      f.ReadmeExcerpt,
		Label:       label,
	}
}

func buildPrompt(shots []shot, f *domain.Features) string {
	var b strings.Builder
	b.WriteString("你是一个 GitHub 仓库分类专家。分类只有以下七种：\n")
	b.WriteString("DEV: 开发工具、库、框架和应用程序\n")
	b.WriteString("HW: 作业和课程练习\n")
	b.WriteString("EDU: 教学资料和讲义\n")
	b.WriteString("DOCS: 文档类仓库\n")
	b.WriteString("WEB: 个人网站和博客\n")
	b.WriteString("DATA: 数据集\n")
	b.WriteString("OTHER: 以上都不是\n\n")

	if len(shots) > 0 {
		b.WriteString("已分类的示例：\n")
		for _, s := range shots {
			fmt.Fprintf(&b, "- 名称: %s | 描述: %s | 语言: %s | README: %s => %s\n",
				s.Name, s.Description, s.Language, s.Readme, s.Label)
		}
		b.WriteString("\n")
	}

	q := shotOf(f, domain.OTHER)
	fmt.Fprintf(&b, "待分类的仓库：\n名称: %s\n描述: %s\n语言: %s\nREADME: %s\n\n",
		q.Name, q.Description, q.Language, q.Readme)

	labels := make([]string, 0, domain.NumClasses)
	for _, c := range domain.AllClasses() {
		labels = append(labels, fmt.Sprintf("%q: 0.0", c.String()))
	}
	fmt.Fprintf(&b, "请严格按照 JSON 格式返回每个分类的概率，例如 {%s}。\n", strings.Join(labels, ", "))
	b.WriteString("请直接返回 JSON，不要包含 Markdown 格式标记。\n")
	return b.String()
}

// parseDistribution 从模型回答里抠出 JSON 对象并转换成分布
// 即使回答是 "```json { ... } ```"，也只取第一个 { 到最后一个 } 之间的部分
func parseDistribution(raw string) (domain.Distribution, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return domain.Distribution{}, common.NewError(common.ErrCodeModel, fmt.Sprintf("无法提取 JSON, AI 原文: %s", raw))
	}

	var scores map[string]float64
	if err := json.Unmarshal([]byte(raw[start:end+1]), &scores); err != nil {
		return domain.Distribution{}, common.WrapError(common.ErrCodeModel, "JSON 解析失败", err)
	}

	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var d domain.Distribution
	for _, k := range keys {
		label, err := domain.ParseClassLabel(k)
		if err != nil {
			continue
		}
		d[label] += scores[k]
	}
	return d.Clamped().Normalized(), nil
}
