// Package logger 提供简单的分级日志工具
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level 日志级别
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String 返回级别名称
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var (
	// 当前日志级别，默认为 Info
	currentLevel = LevelInfo

	output     io.Writer = os.Stderr
	timestamps           = true
	mu         sync.Mutex
)

// SetLevel 设置日志级别
func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

// GetLevel 返回当前日志级别
func GetLevel() Level {
	mu.Lock()
	defer mu.Unlock()
	return currentLevel
}

// ParseLevel 将字符串解析为日志级别，未知值返回错误
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("未知的日志级别: %s", level)
	}
}

// SetLevelFromString 从字符串设置日志级别，未知值回退到 Info
func SetLevelFromString(level string) {
	l, _ := ParseLevel(level)
	SetLevel(l)
}

// SetOutput 设置日志输出目标，nil 表示恢复为 stderr
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	output = w
}

// SetTimestamps 控制是否输出时间戳
func SetTimestamps(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	timestamps = enabled
}

// EnableDebug 启用调试日志
func EnableDebug() {
	SetLevel(LevelDebug)
}

// DisableDebug 禁用调试日志
func DisableDebug() {
	SetLevel(LevelInfo)
}

// IsDebugEnabled 检查是否启用调试日志
func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

func logf(level Level, component, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if level < currentLevel {
		return
	}

	var b strings.Builder
	if timestamps {
		b.WriteString(time.Now().Format("2006-01-02 15:04:05.000 "))
	}
	b.WriteString("[")
	b.WriteString(level.String())
	b.WriteString("] ")
	if component != "" {
		b.WriteString("[")
		b.WriteString(component)
		b.WriteString("] ")
	}
	fmt.Fprintf(&b, format, args...)
	b.WriteString("\n")
	io.WriteString(output, b.String())
}

// Debug 输出调试日志
func Debug(format string, args ...interface{}) {
	logf(LevelDebug, "", format, args...)
}

// Info 输出信息日志
func Info(format string, args ...interface{}) {
	logf(LevelInfo, "", format, args...)
}

// Warn 输出警告日志
func Warn(format string, args ...interface{}) {
	logf(LevelWarn, "", format, args...)
}

// Error 输出错误日志
func Error(format string, args ...interface{}) {
	logf(LevelError, "", format, args...)
}

// Logger 是带组件名的日志器，共享全局级别和输出
type Logger struct {
	component string
}

// Named 返回带组件名前缀的日志器
func Named(component string) *Logger {
	return &Logger{component: component}
}

// Named 返回子组件日志器，组件名以 "." 连接
func (l *Logger) Named(component string) *Logger {
	if l == nil || l.component == "" {
		return Named(component)
	}
	return &Logger{component: l.component + "." + component}
}

// Debug 输出调试日志
func (l *Logger) Debug(format string, args ...interface{}) {
	logf(LevelDebug, l.name(), format, args...)
}

// Info 输出信息日志
func (l *Logger) Info(format string, args ...interface{}) {
	logf(LevelInfo, l.name(), format, args...)
}

// Warn 输出警告日志
func (l *Logger) Warn(format string, args ...interface{}) {
	logf(LevelWarn, l.name(), format, args...)
}

// Error 输出错误日志
func (l *Logger) Error(format string, args ...interface{}) {
	logf(LevelError, l.name(), format, args...)
}

func (l *Logger) name() string {
	if l == nil {
		return ""
	}
	return l.component
}
