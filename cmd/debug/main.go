package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"classifyhub/internal/adapter/cache"
	"classifyhub/internal/adapter/gemini"
	"classifyhub/internal/adapter/github"
	"classifyhub/internal/classifier"
	"classifyhub/internal/config"
	"classifyhub/internal/domain"
	"classifyhub/internal/ensemble"
	"classifyhub/internal/features"
	"classifyhub/internal/logger"
	"classifyhub/internal/port"
	"classifyhub/internal/ratelimit"
	"classifyhub/internal/service"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	cfgFile := pflag.String("config", "", "配置文件")
	repo := pflag.String("repo", "", "要调试的仓库，地址或 owner/name")
	noCache := pflag.Bool("no-cache", false, "不读缓存，直接请求 GitHub")
	pflag.Parse()

	id, err := domain.ParseRepositoryID(*repo)
	if err != nil {
		log.Fatalf("❌ 仓库参数无效: %v", err)
	}

	cfg, err := config.Load(viper.New(), *cfgFile, nil)
	if err != nil {
		log.Fatalf("❌ 配置加载失败: %v", err)
	}
	logs, err := logger.New(logger.Config{Level: "debug", Development: true})
	if err != nil {
		log.Fatalf("❌ 日志初始化失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ItemTimeout)
	defer cancel()

	store, err := cache.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ 缓存打开失败: %v", err)
	}
	defer store.Close()

	_, token, _ := cfg.Credentials()
	fetcher := service.NewFetcher(github.NewSource(token, cfg.RequestsPerSecond), store, ratelimit.New(), nil, logs)

	fmt.Printf("🔍 调试模式：获取 %s\n", id)
	started := time.Now()
	raw, err := fetcher.Fetch(ctx, id, service.Policy{AllowCache: !*noCache, MaxAge: cfg.CacheMaxAge()})
	if err != nil {
		log.Fatalf("❌ 获取仓库失败: %v", err)
	}
	fmt.Printf("✅ 获取完成，用时 %s\n", time.Since(started).Round(time.Millisecond))

	f := features.Extract(raw)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		log.Fatalf("❌ 输出特征失败: %v", err)
	}

	registry := classifier.NewRegistry()
	if cfg.Gemini.APIKey != "" {
		provider, err := gemini.NewProvider(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			log.Fatalf("❌ AI 初始化失败: %v", err)
		}
		defer provider.Close()
		registry = classifier.NewRegistry(func() port.Classifier { return provider.NewClassifier() })
	}

	e, m, err := ensemble.NewStore(cfg.ModelPath, logs).Load(registry.Build())
	if err != nil {
		fmt.Printf("⚠️ 没有可用的模型 (%v)，只输出特征\n", err)
		return
	}
	fmt.Printf("📦 模型版本 %s (%s)\n", m.Generation, m.CreatedAt.Format(time.RFC3339))

	result, err := e.Predict(ctx, id, f)
	if err != nil {
		log.Fatalf("❌ 预测失败: %v", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	header := table.Row{"Classifier"}
	for _, c := range domain.AllClasses() {
		header = append(header, c.String())
	}
	t.AppendHeader(header)
	for _, name := range e.ClassifierNames() {
		row := table.Row{name}
		for _, p := range result.PerClassifier[name] {
			row = append(row, fmt.Sprintf("%.2f", p))
		}
		t.AppendRow(row)
	}
	footer := table.Row{"Combined"}
	for _, p := range result.Combined {
		footer = append(footer, fmt.Sprintf("%.2f", p))
	}
	t.AppendFooter(footer)
	t.Render()

	fmt.Printf("🏷  分类结果: %s\n", result.Class)
}
