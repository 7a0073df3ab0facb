package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"yqhp/conductor/internal/config"
	"yqhp/conductor/internal/phase"
	"yqhp/conductor/internal/player"
	"yqhp/conductor/pkg/logger"
	"yqhp/conductor/pkg/protocol"
	"yqhp/conductor/pkg/types"
)

// player 停止时等待连接处理结束的最长时间
const playerShutdownTimeout = 10 * time.Second

// playerOptions 保存 player 命令的 flags
type playerOptions struct {
	*rootOptions

	id            string
	bind          string
	port          int
	logFile       string
	statusAddress string
	idleTimeout   time.Duration

	// 状态查询
	address string
	timeout time.Duration
	asJSON  bool
}

func newPlayerCmd(root *rootOptions) *cobra.Command {
	o := &playerOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "player [flags] [player.cfg]",
		Short: "启动 player，接收并执行阶段",
		Long: `player 在命令端口上接收 conductor 下发的阶段，收到 RUN 后依次执行
持有的步骤，并把每个步骤的结果和结束标记回传给 conductor。

监听地址的优先级：命令行 flags > player 文件 > 引擎配置。`,
		Example: `  # 使用 player 文件中的地址启动
  conductor player player.cfg

  # 指定监听地址并开启状态服务
  conductor player --bind 0.0.0.0 --port 6970 --status-addr :6971

  # 写日志到文件
  conductor player --log-file player.log player.cfg`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			return runPlayer(cmd, o, path)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&o.id, "id", "", "player ID（不指定则自动生成）")
	flags.StringVarP(&o.bind, "bind", "b", "", "命令端口的监听地址")
	flags.IntVarP(&o.port, "port", "p", 0, "命令端口")
	flags.StringVar(&o.logFile, "log-file", "", "日志文件路径")
	flags.StringVar(&o.statusAddress, "status-addr", "", "状态 HTTP 服务的监听地址，为空表示不启动")
	flags.DurationVar(&o.idleTimeout, "idle-timeout", 0, "命令连接等待下一条消息的最长时间")

	statusCmd := &cobra.Command{
		Use:     "status",
		Short:   "查看 player 状态",
		Long:    `通过 player 的状态服务查看其当前状态、已接收的阶段数和已完成的运行次数。`,
		Example: `  conductor player status --address http://localhost:6971`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlayerStatus(cmd, o)
		},
	}
	statusCmd.Flags().StringVar(&o.address, "address", "http://localhost:6971", "player 状态服务地址")
	statusCmd.Flags().DurationVar(&o.timeout, "timeout", 5*time.Second, "请求超时")
	statusCmd.Flags().BoolVar(&o.asJSON, "json", false, "以 JSON 输出")
	cmd.AddCommand(statusCmd)

	return cmd
}

// listenAddress 按 flags > player 文件 > 引擎配置 决定监听地址
func (o *playerOptions) listenAddress(cmd *cobra.Command, cfg *config.PlayerConfig, file *config.PlayerFile) (string, error) {
	host, port := cfg.Bind, cfg.Port
	if file != nil {
		host, port = file.Host, file.Port
	}
	if cmd.Flags().Changed("bind") {
		host = o.bind
	}
	if cmd.Flags().Changed("port") {
		port = o.port
	}
	if port != 0 && !types.ValidPort(port) {
		return "", fmt.Errorf("port %d out of range 1-65535", port)
	}
	return types.JoinHostPort(host, port), nil
}

func runPlayer(cmd *cobra.Command, o *playerOptions, path string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, closeLog, err := o.loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	defer closeLog()

	if o.logFile != "" {
		f, err := openLogFile(o.logFile)
		if err != nil {
			return err
		}
		logger.SetOutput(f)
		defer func() {
			logger.SetOutput(nil)
			f.Close()
		}()
	}

	var file *config.PlayerFile
	if path != "" {
		log.Debug("Loading player configuration from %s", path)
		if file, err = config.LoadPlayer(path); err != nil {
			return describeLoadError(err)
		}
	}

	address, err := o.listenAddress(cmd, &cfg.Player, file)
	if err != nil {
		return err
	}
	statusAddress := cfg.Player.StatusAddress
	if cmd.Flags().Changed("status-addr") {
		statusAddress = o.statusAddress
	}

	transport := phase.NewTransport(protocol.NewCodec(cfg.Protocol.MaxMessageSize))
	transport.DialTimeout = cfg.Protocol.DialTimeout
	transport.IOTimeout = cfg.Protocol.IOTimeout
	transport.Retries = cfg.Player.ResultRetries
	transport.RetryInterval = cfg.Player.RetryInterval

	p := player.New(&player.Config{
		ID:            o.id,
		Address:       address,
		StatusAddress: statusAddress,
		IdleTimeout:   o.idleTimeout,
		Transport:     transport,
	})
	if err := p.Start(ctx); err != nil {
		return err
	}

	if !o.quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Player listening on %s. Press Ctrl+C to stop.\n", p.Addr())
	}

	select {
	case <-ctx.Done():
	case <-p.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), playerShutdownTimeout)
	defer cancel()
	if err := p.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("停止 player 失败: %w", err)
	}

	if !o.quiet {
		fmt.Fprintln(cmd.OutOrStdout(), "Player stopped.")
	}
	return nil
}

func runPlayerStatus(cmd *cobra.Command, o *playerOptions) error {
	status, err := player.FetchStatus(o.address, o.timeout)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if o.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintf(out, "Player %s\n", status.ID)
	fmt.Fprintf(out, "  State:           %s\n", status.State)
	fmt.Fprintf(out, "  Address:         %s\n", status.Address)
	fmt.Fprintf(out, "  Held steps:      %d\n", status.HeldSteps)
	fmt.Fprintf(out, "  Phases received: %d\n", status.PhasesReceived)
	fmt.Fprintf(out, "  Runs completed:  %d\n", status.RunsCompleted)
	fmt.Fprintf(out, "  Bad messages:    %d\n", status.BadMessages)
	fmt.Fprintf(out, "  Started at:      %s\n", status.StartedAt.Format(time.RFC3339))
	lastRun := "never"
	if status.LastRunAt != nil {
		lastRun = status.LastRunAt.Format(time.RFC3339)
	}
	fmt.Fprintf(out, "  Last run at:     %s\n", lastRun)
	return nil
}
