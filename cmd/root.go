// Package cmd 提供 conductor CLI 的命令实现
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"yqhp/conductor/internal/config"
	"yqhp/conductor/pkg/logger"
)

const (
	// Version 是当前版本号
	Version = "1.0"
	// Banner 是版本输出的标题
	Banner = "Conductor %s\n"
)

// rootOptions 保存全局 flags
type rootOptions struct {
	cfgFile string
	verbose bool
	quiet   bool
}

// NewRootCmd 创建根命令及全部子命令
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "conductor",
		Short: "Conductor - Orchestrate distributed system tests",
		Long: `Conductor - Orchestrate distributed system tests

conductor 把每个 worker 的 startup、run、collect、reset 阶段下发给远端 player，
按屏障同步触发执行并收集结果。

常用方式：
  conductor conduct master.cfg                       运行 master 文件中定义的全部试验
  conductor conduct --trials 3 --phases run master.cfg
  conductor conduct --dry-run master.cfg             只打印计划，不连接任何 player
  conductor player player.cfg                        启动 player`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "引擎配置文件路径 (YAML)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "输出调试日志")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "静默模式，只输出错误")

	// 禁用默认的 completion 命令
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate(fmt.Sprintf(Banner, "{{.Version}}"))

	root.AddCommand(newConductCmd(opts))
	root.AddCommand(newPlayerCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

// Execute 执行根命令并返回进程退出码。SIGINT/SIGTERM 会取消命令的上下文。
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig 加载引擎配置，应用命令行覆盖并配置日志。
// 返回的 closer 关闭日志文件 (如果有)。
func (o *rootOptions) loadConfig(cmd *cobra.Command, overrides map[string]string) (*config.Config, func(), error) {
	loader := config.NewLoader().WithCmdArgs(overrides)
	if o.cfgFile != "" {
		loader = loader.WithConfigPath(o.cfgFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	closer, err := o.setupLogging(cmd, &cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closer, nil
}

// setupLogging 按配置与 -v/-q 设置日志级别和输出
func (o *rootOptions) setupLogging(cmd *cobra.Command, cfg *config.LoggingConfig) (func(), error) {
	switch {
	case o.verbose:
		logger.EnableDebug()
	case o.quiet:
		logger.SetLevel(logger.LevelError)
	default:
		logger.SetLevelFromString(cfg.Level)
	}

	var out io.Writer
	closer := func() {}
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		out = cmd.ErrOrStderr()
	case "stdout":
		out = cmd.OutOrStdout()
	default:
		f, err := openLogFile(cfg.Output)
		if err != nil {
			return nil, err
		}
		out = f
		closer = func() {
			logger.SetOutput(nil)
			f.Close()
		}
	}
	logger.SetOutput(out)
	return closer, nil
}

// openLogFile 以追加方式打开日志文件
func openLogFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件 %s 失败: %w", path, err)
	}
	return f, nil
}
