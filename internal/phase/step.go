package phase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"yqhp/conductor/pkg/logger"
	"yqhp/conductor/pkg/types"
)

const (
	// SpawnedMessage 是后台派生步骤的固定返回信息
	SpawnedMessage = "Spawned"

	// 进程被终止后等待输出管道关闭的最长时间
	waitDelay = 2 * time.Second

	// shell 找不到命令时的退出码
	exitCommandNotFound = 127

	// 出现这些字符的命令不是简单命令，127 不一定来自 argv[0]
	shellOperators = ";&|<>()`$\n"

	// stderr 在调试日志中保留的最大字节数
	maxStderrLog = 4096
)

// shellPath 执行命令所用的 shell，测试中可替换
var shellPath = "/bin/sh"

// shellBuiltins 由 shell 自身实现的命令，不在 PATH 中查找
var shellBuiltins = map[string]bool{
	":": true, ".": true, "alias": true, "bg": true, "break": true, "cd": true,
	"command": true, "continue": true, "eval": true, "exec": true, "exit": true,
	"export": true, "false": true, "fg": true, "getopts": true, "hash": true,
	"jobs": true, "kill": true, "read": true, "readonly": true, "return": true,
	"set": true, "shift": true, "times": true, "trap": true, "true": true,
	"type": true, "ulimit": true, "umask": true, "unalias": true, "unset": true,
	"wait": true,
}

var stepLog = logger.Named("step")

// Step 一条待执行的 shell 命令
type Step struct {
	// Command 原始命令字符串，整体交给 shell 解释
	Command string
	// Args 命令的分词结果，仅用于诊断
	Args []string
	// Spawn 为 true 时后台派生，不等待结果
	Spawn bool
	// Timeout 同步执行的超时时间
	Timeout time.Duration
}

// NewStep 创建步骤。timeout 非正时使用默认超时。
// 命令无法按 shell 规则分词 (如引号未闭合) 时退化为按空白切分并记录警告。
func NewStep(command string, spawn bool, timeout time.Duration) *Step {
	if timeout <= 0 {
		timeout = types.DefaultStepTimeout
	}
	args, err := shellwords.Parse(command)
	if err != nil {
		stepLog.Warn("无法解析命令 %q (%v)，按空白切分", command, err)
		args = strings.Fields(command)
	}
	return &Step{
		Command: command,
		Args:    args,
		Spawn:   spawn,
		Timeout: timeout,
	}
}

// StepFromSpec 从线路载荷中的步骤描述创建步骤
func StepFromSpec(spec types.StepSpec) *Step {
	return NewStep(spec.Command, spec.Spawn, spec.Timeout)
}

// Spec 返回步骤的线路描述
func (s *Step) Spec() types.StepSpec {
	return types.StepSpec{Command: s.Command, Spawn: s.Spawn, Timeout: s.Timeout}
}

// Program 返回命令的第一个词，空命令返回空字符串
func (s *Step) Program() string {
	if len(s.Args) == 0 {
		return ""
	}
	return s.Args[0]
}

// Run 执行步骤，所有失败都转换为 RetVal，不返回错误也不 panic
func (s *Step) Run(ctx context.Context) types.RetVal {
	if s.Spawn {
		return s.spawn()
	}
	return s.runSync(ctx)
}

// spawn 后台启动命令并立即返回。启动失败只记录日志，仍返回 Spawned。
func (s *Step) spawn() types.RetVal {
	cmd := exec.Command(shellPath, "-c", s.Command)
	detach(cmd)

	if err := cmd.Start(); err != nil {
		stepLog.Warn("派生命令失败 %q: %v", s.Command, err)
		return types.NewRetVal(types.ResultOK, SpawnedMessage)
	}

	stepLog.Debug("已派生 pid=%d: %s", cmd.Process.Pid, s.Command)
	// 回收子进程，避免僵尸进程；退出状态不被追踪
	go func() {
		_ = cmd.Wait()
	}()
	return types.NewRetVal(types.ResultOK, SpawnedMessage)
}

// runSync 同步执行命令，捕获 stdout
func (s *Step) runSync(ctx context.Context) types.RetVal {
	execCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var stdout bytes.Buffer
	var stderr limitedBuffer
	stderr.limit = maxStderrLog

	cmd := exec.CommandContext(execCtx, shellPath, "-c", s.Command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	output := strings.ToValidUTF8(stdout.String(), "�")
	stepLog.Debug("命令结束 (%v): %s", time.Since(start).Round(time.Millisecond), s.Command)

	// 后台子进程仍持有输出管道时，命令本身已成功退出
	if err == nil || (errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success()) {
		stepLog.Info("成功: %s", s.Command)
		return types.NewRetVal(types.ResultOK, output)
	}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		stepLog.Warn("超时: %s", s.Command)
		return types.NewRetVal(types.ResultError,
			fmt.Sprintf("Command timed out after %s seconds", formatSeconds(s.Timeout)))
	}
	if ctx.Err() != nil {
		stepLog.Warn("已取消: %s", s.Command)
		return types.NewRetVal(types.ResultError, fmt.Sprintf("Command cancelled: %s", s.Command))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if stderr.Len() > 0 {
			stepLog.Debug("stderr: %s", strings.TrimSpace(stderr.String()))
		}
		if code, ok := signalExitCode(exitErr); ok {
			stepLog.Warn("命令被信号终止 (%d): %s", code, s.Command)
			return types.NewRetVal(code, fmt.Sprintf("Command '%s' died with signal %d", s.Command, -code))
		}
		code := exitErr.ExitCode()
		if code == exitCommandNotFound && s.programMissing() {
			return s.notFound()
		}
		stepLog.Warn("退出码 %d: %s", code, s.Command)
		return types.NewRetVal(code, fmt.Sprintf("Command '%s' returned non-zero exit status %d", s.Command, code))
	}

	// shell 本身无法启动
	stepLog.Error("无法执行 %s: %v", shellPath, err)
	return s.notFound()
}

// programMissing 报告 127 是否因为简单命令的 argv[0] 不存在。
// 复合命令和内建命令的 127 按普通非零退出码处理。
func (s *Step) programMissing() bool {
	prog := s.Program()
	if prog == "" || shellBuiltins[prog] || strings.ContainsAny(s.Command, shellOperators) {
		return false
	}
	_, err := exec.LookPath(prog)
	return err != nil
}

func (s *Step) notFound() types.RetVal {
	stepLog.Warn("命令未找到: %s", s.Program())
	return types.NewRetVal(types.ResultError, "Command not found: "+s.Program())
}

// formatSeconds 以秒为单位格式化时长，整数秒不带小数
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// limitedBuffer 只保留前 limit 个字节，超出部分丢弃
type limitedBuffer struct {
	bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.Buffer.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}
