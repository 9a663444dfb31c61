package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"classifyhub/internal/config"
	"classifyhub/internal/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

// rootOptions 所有子命令共享的全局参数
type rootOptions struct {
	cfgFile string
	debug   bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "classifyhub",
		Short:         "按用途给 GitHub 仓库分类",
		Long:          "ClassifyHub 抓取 GitHub 仓库数据，用多个分类器组成的集成模型把仓库分为 DEV、HW、EDU、DOCS、WEB、DATA、OTHER 七类。",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "配置文件 (默认 ./config.yaml)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "输出调试日志")

	root.AddCommand(
		newClassifyCommand(opts),
		newLearnCommand(opts),
		newValidateCommand(opts),
		newServeCommand(opts),
		newRateLimitCommand(opts),
		newRandomCommand(opts),
		newCheckCommand(opts),
		newSaveConfigCommand(opts),
	)
	return root
}

// load 读取配置并创建日志
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(viper.New(), o.cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	if o.debug {
		cfg.Log.Level = "debug"
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// run 装配全部组件后执行 fn，收到 Ctrl+C 时取消 ctx
func (o *rootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, log, err := o.load(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
