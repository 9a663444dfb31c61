package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"classifyhub/internal/adapter/httpapi"
	"classifyhub/internal/domain"
	"classifyhub/internal/logger"
	"classifyhub/internal/service"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func newClassifyCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "分类输入文件中的仓库并写出结果",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				return runClassify(ctx, a, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().String("input", "", "输入文件，每行一个仓库地址")
	cmd.Flags().String("output", "", "结果文件，.xlsx 写 Excel，其它写文本")
	cmd.Flags().Bool("force-cache-update", false, "忽略缓存重新抓取")
	cmd.Flags().Int("number-worker", 0, "工作协程数，0 表示 CPU 核数")
	return cmd
}

func runClassify(ctx context.Context, a *app, out io.Writer) error {
	data, err := os.ReadFile(a.cfg.Input)
	if err != nil {
		return fmt.Errorf("读取输入文件失败: %w", err)
	}
	if a.proxy.CheckLearningNeeded() {
		a.log.Warn("模型与学习数据不一致，建议先运行 learn")
	}

	fmt.Fprintf(out, "🔍 开始分类 %s ...\n", a.cfg.Input)
	if err := a.proxy.StartComputation(string(data)); err != nil {
		return err
	}
	if err := a.proxy.WaitIdle(ctx); err != nil {
		fmt.Fprintln(out, "\n👋 收到停止信号，保存已完成的结果...")
		a.proxy.CancelComputation()
		if err := a.proxy.WaitIdle(context.Background()); err != nil {
			return err
		}
	}
	if err := a.proxy.LastError(); err != nil {
		return err
	}

	renderResults(out, a.proxy)
	saved, err := a.proxy.SaveResults(a.cfg.Output)
	if err != nil {
		return err
	}
	if saved {
		fmt.Fprintf(out, "💾 结果已写入 %s\n", a.cfg.Output)
	}
	return nil
}

// resultView 打印结果需要的查询调用
type resultView interface {
	ResultList() []string
	Failures() map[string]string
	Class(owner, name string) string
	Prob(owner, name, class string) float64
}

func renderResults(out io.Writer, v resultView) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Repository", "Class", "Probability"})

	names := v.ResultList()
	for _, full := range names {
		owner, name, _ := strings.Cut(full, "/")
		class := v.Class(owner, name)
		t.AppendRow(table.Row{full, class, fmt.Sprintf("%.2f", v.Prob(owner, name, class))})
	}

	failures := v.Failures()
	failed := make([]string, 0, len(failures))
	for id := range failures {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		t.AppendRow(table.Row{id, "FAILED", failures[id]})
	}
	t.AppendFooter(table.Row{"Total", len(names) + len(failed), fmt.Sprintf("%d failed", len(failed))})
	t.Render()
}

func newLearnCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn",
		Short: "用学习目录中的数据训练并发布模型",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "📚 读取学习数据 %s ...\n", a.cfg.LearningInput)
				if err := a.proxy.StartLearning(); err != nil {
					return err
				}
				if err := a.proxy.WaitIdle(ctx); err != nil {
					return err
				}
				if err := a.proxy.LastError(); err != nil {
					return err
				}
				fmt.Fprintf(out, "✅ 模型已发布到 %s，共 %d 个分类器\n", a.cfg.ModelPath, len(a.proxy.ClassifierNames()))
				return nil
			})
		},
	}
	cmd.Flags().String("learning-input", "", "学习目录，每个分类一个文件")
	cmd.Flags().String("model-path", "", "模型目录")
	return cmd
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	var seed int64
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "对学习数据做 k 折交叉验证",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				labeled, err := service.LoadLearningDir(a.cfg.LearningInput, a.log)
				if err != nil {
					return err
				}
				report, err := a.learner.Validate(ctx, labeled, a.cfg.KFold, seed)
				if err != nil {
					return err
				}
				renderValidation(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	cmd.Flags().String("learning-input", "", "学习目录，每个分类一个文件")
	cmd.Flags().Int("k-fold", 0, "折数")
	cmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "划分折的随机种子")
	return cmd
}

func renderValidation(out io.Writer, r *service.ValidationReport) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Class", "Precision", "Recall", "Support"})
	for _, s := range r.PerClass {
		t.AppendRow(table.Row{s.Class.String(), fmt.Sprintf("%.3f", s.Precision), fmt.Sprintf("%.3f", s.Recall), s.Support})
	}
	t.AppendFooter(table.Row{"Accuracy", fmt.Sprintf("%.3f", r.Accuracy()), fmt.Sprintf("%d folds", r.Folds), r.Total})
	t.Render()
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 接口和定时缓存清理",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				if listen != "" {
					a.cfg.HTTP.Addr = listen
				}
				return runServe(ctx, a)
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "监听地址，覆盖 http.addr")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	c := cron.New()
	if _, err := c.AddFunc(a.cfg.Cache.MaintenanceSchedule, func() {
		maintainCache(ctx, a.cache, a.cfg.CacheMaxAge(), a.metrics, a.log)
	}); err != nil {
		return fmt.Errorf("无效的缓存清理计划 %q: %w", a.cfg.Cache.MaintenanceSchedule, err)
	}
	c.Start()
	defer c.Stop()
	a.log.Info("缓存清理已调度", logger.String("schedule", a.cfg.Cache.MaintenanceSchedule))

	router := httpapi.NewRouter(httpapi.NewHandler(a.proxy, a.cfg.Output), a.metrics.Handler(), a.log)
	return httpapi.NewServer(a.cfg.HTTP.Addr, router, a.log).Run(ctx)
}

func newRateLimitCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rate-limit",
		Short: "查询 GitHub 剩余额度（不消耗额度）",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				fmt.Fprintln(cmd.OutOrStdout(), a.proxy.RemainingRateLimit(ctx))
				return nil
			})
		},
	}
}

func newRandomCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "random",
		Short: "随机列出 10 个公开仓库",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				repos, err := a.proxy.RandomRepositories(ctx)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), repos)
				return nil
			})
		},
	}
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "检查凭据、模型和额度",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, func(ctx context.Context, a *app) error {
				status := checkStatus{
					Authenticated:  a.proxy.CheckAuthentication(),
					LearningNeeded: a.proxy.CheckLearningNeeded(),
					ModelReady:     a.holder.Ready(),
					RateRemaining:  a.proxy.RemainingRateLimit(ctx),
					Classifiers:    a.proxy.ClassifierNames(),
				}
				renderCheck(cmd.OutOrStdout(), status)
				if status.LearningNeeded {
					return errors.New("需要先运行 learn")
				}
				return nil
			})
		},
	}
}

func newSaveConfigCommand(opts *rootOptions) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "save-config",
		Short: "把合并后的配置写成 yaml 文件",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if to == "" {
				to = opts.cfgFile
			}
			if to == "" {
				to = "config.yaml"
			}
			if err := cfg.Save(to); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "💾 配置已写入 %s\n", to)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "目标文件 (默认覆盖 --config 指定的文件)")
	cmd.Flags().String("model-path", "", "模型目录")
	cmd.Flags().String("learning-input", "", "学习目录")
	cmd.Flags().Int("number-worker", 0, "工作协程数，0 表示 CPU 核数")
	cmd.Flags().Int("maximum-cache-age", 0, "缓存有效天数")
	return cmd
}

type checkStatus struct {
	Authenticated  bool
	LearningNeeded bool
	ModelReady     bool
	RateRemaining  int
	Classifiers    []string
}

func renderCheck(out io.Writer, s checkStatus) {
	mark := func(ok bool) string {
		if ok {
			return "✅"
		}
		return "⚠️"
	}
	rate := "unknown"
	if s.RateRemaining >= 0 {
		rate = fmt.Sprint(s.RateRemaining)
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Check", "Status"})
	t.AppendRow(table.Row{"GitHub credentials", mark(s.Authenticated)})
	t.AppendRow(table.Row{"Model ready", mark(s.ModelReady)})
	t.AppendRow(table.Row{"Model up to date", mark(!s.LearningNeeded)})
	t.AppendRow(table.Row{"Rate limit remaining", rate})
	t.AppendRow(table.Row{"Classifiers", strings.Join(s.Classifiers, ", ")})
	t.AppendRow(table.Row{"Classes", strings.Join(classNames(), ", ")})
	t.Render()
}

func classNames() []string {
	names := make([]string, 0, domain.NumClasses)
	for _, c := range domain.AllClasses() {
		names = append(names, c.String())
	}
	return names
}
