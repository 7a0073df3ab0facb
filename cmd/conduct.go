package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"yqhp/conductor/internal/client"
	"yqhp/conductor/internal/conductor"
	"yqhp/conductor/internal/config"
	"yqhp/conductor/internal/phase"
	"yqhp/conductor/internal/reporter"
	"yqhp/conductor/internal/reporter/console"
	"yqhp/conductor/internal/reporter/file"
	"yqhp/conductor/pkg/logger"
	"yqhp/conductor/pkg/protocol"
	"yqhp/conductor/pkg/types"
)

var log = logger.Named("cli")

// conductOptions 保存 conduct 命令的 flags
type conductOptions struct {
	*rootOptions

	trials         int
	phases         []string
	workers        []string
	dryRun         bool
	format         string
	output         string
	maxMessageSize int
	ioTimeout      time.Duration
	parallel       int
	webhook        string
}

func newConductCmd(root *rootOptions) *cobra.Command {
	o := &conductOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "conduct [flags] <master.cfg>",
		Short: "按 master 文件运行分布式测试",
		Long: `读取 master 文件及其列出的 worker 文件，对每次试验依次执行
startup、run、collect、reset 阶段。每个阶段内所有 worker 先完成下发，
再统一触发，最后统一收集结果。`,
		Example: `  # 运行全部试验与阶段
  conductor conduct master.cfg

  # 覆盖试验次数，只运行 run 与 collect 阶段
  conductor conduct --trials 3 --phases run,collect master.cfg

  # 只使用部分 worker
  conductor conduct -w web1 -w db1 master.cfg

  # 查看执行计划
  conductor conduct --dry-run master.cfg

  # 输出 JSON 报告
  conductor conduct -f json -o results.json master.cfg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConduct(cmd, o, args[0])
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&o.trials, "trials", "t", 0, "试验次数，覆盖 master 文件中的 trials")
	flags.StringSliceVarP(&o.phases, "phases", "p", nil, "要运行的阶段 (startup, run, collect, reset 或 all)，可重复或以逗号分隔")
	flags.StringSliceVarP(&o.workers, "workers", "w", nil, "只使用指定名称的 worker，可重复或以逗号分隔")
	flags.BoolVar(&o.dryRun, "dry-run", false, "只打印执行计划，不连接 player")
	flags.StringVarP(&o.format, "format", "f", "", "报告格式 (text, json, csv)")
	flags.StringVarP(&o.output, "output", "o", "", "报告输出文件")
	flags.IntVar(&o.maxMessageSize, "max-message-size", 0, "单条消息的最大字节数")
	flags.DurationVar(&o.ioTimeout, "io-timeout", 0, "套接字读写超时")
	flags.IntVar(&o.parallel, "parallel", 0, "每个子步骤内并发处理的 worker 数")
	flags.StringVar(&o.webhook, "webhook", "", "把事件批量发送到该 URL")
	return cmd
}

// overrides 把显式设置的 flags 转换为配置覆盖项
func (o *conductOptions) overrides(cmd *cobra.Command) map[string]string {
	flags := cmd.Flags()
	m := make(map[string]string)
	if flags.Changed("max-message-size") {
		m["protocol.max_message_size"] = strconv.Itoa(o.maxMessageSize)
	}
	if flags.Changed("io-timeout") {
		m["protocol.io_timeout"] = o.ioTimeout.String()
	}
	if flags.Changed("parallel") {
		m["conductor.parallelism"] = strconv.Itoa(o.parallel)
	}
	if flags.Changed("format") {
		m["conductor.format"] = o.format
	}
	if flags.Changed("output") {
		m["conductor.output"] = o.output
	}
	return m
}

func runConduct(cmd *cobra.Command, o *conductOptions, path string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, closeLog, err := o.loadConfig(cmd, o.overrides(cmd))
	if err != nil {
		return err
	}
	defer closeLog()

	log.Debug("Loading test configuration from %s", path)
	test, err := config.LoadTest(path)
	if err != nil {
		return describeLoadError(err)
	}

	trials := test.Trials
	if cmd.Flags().Changed("trials") {
		if o.trials < 1 {
			return fmt.Errorf("--trials must be at least 1, got %d", o.trials)
		}
		trials = o.trials
	}

	phases, err := parsePhases(o.phases)
	if err != nil {
		return err
	}

	selected, err := test.SelectWorkers(o.workers)
	if err != nil {
		return err
	}

	transport := newTransport(&cfg.Protocol)
	workers := make([]conductor.Worker, 0, len(selected))
	for _, w := range selected {
		log.Debug("Loading worker %s from %s", w.Name, w.Path)
		c, err := client.New(w, client.Options{Transport: transport, ListenHost: cfg.Conductor.ListenHost})
		if err != nil {
			closeWorkers(workers)
			return err
		}
		workers = append(workers, c)
	}

	opts := conductor.DefaultOptions()
	opts.Trials = trials
	opts.Phases = phases
	opts.Parallelism = cfg.Conductor.Parallelism
	opts.DryRun = o.dryRun

	if o.dryRun {
		return dryRun(ctx, cmd.OutOrStdout(), o, workers, opts)
	}

	manager, err := o.buildReporters(ctx, cmd.OutOrStdout(), cfg)
	if err != nil {
		closeWorkers(workers)
		return err
	}
	defer func() {
		if err := manager.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Closing reporters: %v", err)
		}
	}()

	c, err := conductor.New(workers, opts, manager)
	if err != nil {
		closeWorkers(workers)
		return err
	}

	summary, err := c.Run(ctx)
	if err != nil {
		return fmt.Errorf("run %s interrupted after %d trial(s): %w", summary.RunID, summary.TrialsCompleted, err)
	}
	return nil
}

// dryRun 打印计划但不做任何网络 I/O
func dryRun(ctx context.Context, out io.Writer, o *conductOptions, workers []conductor.Worker, opts conductor.Options) error {
	defer closeWorkers(workers)

	c, err := conductor.New(workers, opts, nil)
	if err != nil {
		return err
	}

	plan := c.Plan()
	if !o.quiet {
		fmt.Fprintln(out, "DRY RUN MODE")
		fmt.Fprintf(out, "Would run %d trial(s) with %d worker(s)\n", plan.Trials, len(plan.Workers))
		if len(opts.Phases) == 0 {
			fmt.Fprintln(out, "Phases: [all]")
		} else {
			fmt.Fprintf(out, "Phases: %v\n", plan.Phases)
		}
		fmt.Fprintf(out, "Workers: %s\n", strings.Join(plan.Workers, ", "))
	}

	_, err = c.Run(ctx)
	return err
}

// buildReporters 按报告格式与配置组装报告器
func (o *conductOptions) buildReporters(ctx context.Context, out io.Writer, cfg *config.Config) (*reporter.Manager, error) {
	registry, err := reporter.NewDefaultRegistry()
	if err != nil {
		return nil, err
	}
	manager := reporter.NewManager(registry)

	var primary reporter.Reporter
	switch strings.ToLower(cfg.Conductor.Format) {
	case "", "text":
		primary = console.New(&console.Config{
			ColorOutput: true,
			Quiet:       o.quiet,
			SummaryPath: cfg.Conductor.Output,
			Writer:      out,
		})
	case "json":
		primary = file.NewJSONReporter(&file.JSONConfig{
			FilePath: cfg.Conductor.Output,
			Pretty:   true,
			Writer:   out,
		})
	case "csv":
		primary = file.NewCSVReporter(&file.CSVConfig{
			FilePath:      cfg.Conductor.Output,
			Delimiter:     ',',
			IncludeHeader: true,
			BufferSize:    100,
			Writer:        out,
		})
	default:
		return nil, fmt.Errorf("unknown report format %q (expected text, json or csv)", cfg.Conductor.Format)
	}
	if err := primary.Init(ctx, nil); err != nil {
		return nil, fmt.Errorf("init reporter %s: %w", primary.Name(), err)
	}
	manager.AddReporter(primary)

	extra, err := reporter.FromConfig(cfg.Reporters)
	if err != nil {
		manager.Close(ctx)
		return nil, err
	}
	if o.webhook != "" {
		extra = append(extra, reporter.Webhook(o.webhook))
	}
	for i := range extra {
		if err := manager.AddReporterFromConfig(ctx, &extra[i]); err != nil {
			manager.Close(ctx)
			return nil, err
		}
	}
	return manager, nil
}

// newTransport 按协议配置创建 client 使用的 Transport
func newTransport(cfg *config.ProtocolConfig) *phase.Transport {
	t := phase.NewTransport(protocol.NewCodec(cfg.MaxMessageSize))
	if cfg.DialTimeout > 0 {
		t.DialTimeout = cfg.DialTimeout
	}
	if cfg.IOTimeout > 0 {
		t.IOTimeout = cfg.IOTimeout
	}
	return t
}

// parsePhases 解析 --phases，空列表或 all 表示全部阶段
func parsePhases(values []string) ([]types.PhaseName, error) {
	var phases []types.PhaseName
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.EqualFold(v, "all") {
			return nil, nil
		}
		p, err := types.ParsePhaseName(v)
		if err != nil {
			return nil, err
		}
		phases = append(phases, p)
	}
	return phases, nil
}

// describeLoadError 把测试定义加载错误转换为面向用户的消息
func describeLoadError(err error) error {
	switch {
	case errors.Is(err, config.ErrWorkerConfigNotFound):
		detail := strings.TrimPrefix(err.Error(), config.ErrWorkerConfigNotFound.Error())
		return errors.New("Worker config not found" + detail)
	case errors.Is(err, config.ErrConfigNotFound):
		detail := strings.TrimPrefix(err.Error(), config.ErrConfigNotFound.Error())
		return errors.New("Configuration file not found" + detail)
	default:
		return fmt.Errorf("Failed to read configuration: %w", err)
	}
}

func closeWorkers(workers []conductor.Worker) {
	for _, w := range workers {
		if err := w.Close(); err != nil {
			log.Debug("Closing worker %s: %v", w.Name(), err)
		}
	}
}
