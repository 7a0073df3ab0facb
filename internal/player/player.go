package player

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"yqhp/conductor/internal/phase"
	"yqhp/conductor/pkg/logger"
	"yqhp/conductor/pkg/protocol"
	"yqhp/conductor/pkg/types"
)

// PhaseReceivedMessage 是 PHASE 确认消息的内容
const PhaseReceivedMessage = "Phase received"

var log = logger.Named("player")

// Config 保存 player 的配置信息。
type Config struct {
	// ID 是此 player 的唯一标识符，为空时自动生成。
	ID string

	// Address 是命令端口的监听地址 (host:port)。
	Address string

	// StatusAddress 是状态 HTTP 服务的监听地址，为空表示不启动。
	StatusAddress string

	// IdleTimeout 是命令连接等待下一条消息的最长时间。
	IdleTimeout time.Duration

	// Transport 用于回传结果。
	Transport *phase.Transport
}

// DefaultConfig 返回默认的 player 配置。
func DefaultConfig() *Config {
	return &Config{
		Address:     "0.0.0.0:6970",
		IdleTimeout: 30 * time.Second,
		Transport:   phase.NewTransport(nil),
	}
}

// Player 接收阶段定义并按指令执行。
type Player struct {
	config    *Config
	transport *phase.Transport
	codec     *protocol.Codec

	listener net.Listener
	status   *StatusServer

	// 当前持有的阶段
	mu   sync.Mutex
	held *phase.Phase

	executing      atomic.Int32
	phasesReceived atomic.Int64
	runsCompleted  atomic.Int64
	badMessages    atomic.Int64
	startedAt      time.Time
	lastRunAt      atomic.Pointer[time.Time]

	// 连接与执行管理
	connsMu  sync.Mutex
	conns    map[net.Conn]struct{}
	handlers sync.WaitGroup
	runCtx   context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopped  chan struct{}
}

// New 创建一个新的 player。
func New(config *Config) *Player {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ID == "" {
		config.ID = uuid.New().String()
	}
	if config.Transport == nil {
		config.Transport = phase.NewTransport(nil)
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Player{
		config:    config,
		transport: config.Transport,
		codec:     config.Transport.Codec,
		conns:     make(map[net.Conn]struct{}),
		runCtx:    runCtx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}
}

// Start 绑定命令端口 (以及可选的状态服务) 并开始接受连接。
func (p *Player) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", p.config.Address)
	if err != nil {
		return fmt.Errorf("监听命令端口 %s 失败: %w", p.config.Address, err)
	}
	p.listener = ln
	p.startedAt = time.Now()

	if p.config.StatusAddress != "" {
		p.status = NewStatusServer(p)
		if err := p.status.Start(p.config.StatusAddress); err != nil {
			ln.Close()
			return err
		}
	}

	log.Info("player %s 监听 %s", p.config.ID, ln.Addr())
	go p.acceptLoop()
	return nil
}

// Addr 返回命令端口的实际地址
func (p *Player) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// StatusAddr 返回状态服务的实际地址，未启动时返回 nil
func (p *Player) StatusAddr() net.Addr {
	if p.status == nil {
		return nil
	}
	return p.status.Addr()
}

// Done 在 player 停止后关闭
func (p *Player) Done() <-chan struct{} {
	return p.stopped
}

// Stop 关闭监听端口和所有连接，取消正在执行的步骤，并等待处理协程退出。
func (p *Player) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		log.Info("Shutting down player %s", p.config.ID)
		if p.listener != nil {
			p.listener.Close()
		}
		p.cancel()

		p.connsMu.Lock()
		for conn := range p.conns {
			conn.Close()
		}
		p.connsMu.Unlock()

		if p.status != nil {
			if serr := p.status.Stop(); serr != nil {
				err = serr
			}
		}

		waited := make(chan struct{})
		go func() {
			p.handlers.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-ctx.Done():
			err = errors.Join(err, fmt.Errorf("等待连接处理结束超时: %w", ctx.Err()))
		}

		close(p.stopped)
	})
	return err
}

func (p *Player) acceptLoop() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-p.runCtx.Done():
			default:
				log.Error("接受连接失败: %v", err)
				go p.Stop(context.Background())
			}
			return
		}

		p.connsMu.Lock()
		if p.runCtx.Err() != nil {
			p.connsMu.Unlock()
			conn.Close()
			return
		}
		p.conns[conn] = struct{}{}
		p.handlers.Add(1)
		p.connsMu.Unlock()

		go p.handleConn(conn)
	}
}

// handleConn 逐条处理一个连接上的消息，直到对端关闭或出现不可恢复的错误
func (p *Player) handleConn(conn net.Conn) {
	defer func() {
		conn.Close()
		p.connsMu.Lock()
		delete(p.conns, conn)
		p.connsMu.Unlock()
		p.handlers.Done()
	}()

	remote := conn.RemoteAddr()
	log.Debug("接受连接 %s", remote)

	for {
		conn.SetReadDeadline(time.Now().Add(p.config.IdleTimeout))
		msg, err := p.codec.Receive(conn)
		if err != nil {
			if errors.Is(err, protocol.ErrConnectionClosed) {
				return
			}
			var perr *protocol.Error
			if !errors.As(err, &perr) {
				log.Debug("连接 %s 结束: %v", remote, err)
				return
			}

			p.badMessages.Add(1)
			log.Warn("来自 %s 的消息无效: %v", remote, err)
			p.replyError(conn, err.Error())

			// 帧体未被完整读出时无法定位下一条消息
			if errors.Is(err, protocol.ErrMessageTooLarge) || errors.Is(err, protocol.ErrIncompleteMessage) {
				return
			}
			continue
		}

		cmd, err := parseCommand(msg)
		if err != nil {
			p.badMessages.Add(1)
			log.Warn("来自 %s 的命令无效: %v", remote, err)
			p.replyError(conn, err.Error())
			continue
		}

		switch c := cmd.(type) {
		case phaseCommand:
			p.hold(c.spec)
			conn.SetWriteDeadline(time.Now().Add(p.transport.IOTimeout))
			if err := p.codec.Send(conn, protocol.MessageResult, protocol.ResultData(types.NewRetVal(types.ResultOK, PhaseReceivedMessage))); err != nil {
				log.Warn("发送阶段确认到 %s 失败: %v", remote, err)
			}
		case runCommand:
			p.run()
		}
	}
}

// hold 用新阶段替换当前持有的阶段
func (p *Player) hold(spec *types.PhaseSpec) {
	ph := phase.FromSpec(spec)

	p.mu.Lock()
	p.held = ph
	p.mu.Unlock()

	p.phasesReceived.Add(1)
	log.Info("收到阶段: %d 个步骤，结果回传到 %s", ph.Len(), ph.ResultAddress())
}

// take 取出当前阶段，保证同一阶段只执行一次
func (p *Player) take() *phase.Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	ph := p.held
	p.held = nil
	return ph
}

// run 执行当前阶段并回传结果
func (p *Player) run() {
	ph := p.take()
	if ph == nil {
		log.Warn("收到 RUN 但没有待执行的阶段，忽略")
		return
	}

	p.executing.Add(1)
	defer p.executing.Add(-1)

	log.Info("执行阶段: %d 个步骤", ph.Len())
	ph.Run(p.runCtx)
	if err := ph.ReturnResults(p.runCtx, p.transport); err != nil {
		log.Error("回传结果失败: %v", err)
	}

	now := time.Now()
	p.lastRunAt.Store(&now)
	p.runsCompleted.Add(1)
}

// replyError 尽力回复一条 ERROR 消息，失败只记录日志
func (p *Player) replyError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(p.transport.IOTimeout))
	if err := p.codec.Send(conn, protocol.MessageError, protocol.ErrorData(message)); err != nil {
		log.Debug("回复 ERROR 失败: %v", err)
	}
}

// State 返回当前状态：执行中、持有阶段或空闲
func (p *Player) State() types.PlayerState {
	if p.executing.Load() > 0 {
		return types.PlayerStateExecuting
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held != nil {
		return types.PlayerStateHoldingPhase
	}
	return types.PlayerStateIdle
}

// Status 返回 player 的状态快照
func (p *Player) Status() *types.PlayerStatus {
	status := &types.PlayerStatus{
		ID:             p.config.ID,
		State:          p.State(),
		PhasesReceived: p.phasesReceived.Load(),
		RunsCompleted:  p.runsCompleted.Load(),
		BadMessages:    p.badMessages.Load(),
		StartedAt:      p.startedAt,
		LastRunAt:      p.lastRunAt.Load(),
	}
	if addr := p.Addr(); addr != nil {
		status.Address = addr.String()
	}
	p.mu.Lock()
	if p.held != nil {
		status.HeldSteps = p.held.Len()
	}
	p.mu.Unlock()
	return status
}
