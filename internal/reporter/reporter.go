package reporter

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"yqhp/conductor/internal/config"
	"yqhp/conductor/pkg/types"
)

// Reporter 定义了报告输出的接口。
type Reporter interface {
	// Name 返回报告器名称。
	Name() string

	// Init 使用配置初始化报告器。
	Init(ctx context.Context, config map[string]any) error

	// Report 处理一个运行事件。
	Report(ctx context.Context, event *types.Event) error

	// Flush 刷新所有缓冲数据。
	Flush(ctx context.Context) error

	// Close 关闭报告器并释放资源。
	Close(ctx context.Context) error
}

// ReporterType 定义报告器类型。
type ReporterType string

const (
	// ReporterTypeConsole 输出到控制台。
	ReporterTypeConsole ReporterType = "console"
	// ReporterTypeJSON 输出 JSON 报告。
	ReporterTypeJSON ReporterType = "json"
	// ReporterTypeCSV 输出 CSV 报告。
	ReporterTypeCSV ReporterType = "csv"
	// ReporterTypeWebhook 发送到 Webhook URL。
	ReporterTypeWebhook ReporterType = "webhook"
)

// ParseReporterType 解析报告器类型名称，忽略大小写和首尾空白。
func ParseReporterType(s string) (ReporterType, error) {
	t := ReporterType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case ReporterTypeConsole, ReporterTypeJSON, ReporterTypeCSV, ReporterTypeWebhook:
		return t, nil
	}
	return "", fmt.Errorf("unknown reporter type %q", s)
}

// ReporterConfig 保存报告器的配置。
type ReporterConfig struct {
	Type    ReporterType   `yaml:"type"`
	Enabled bool           `yaml:"enabled"`
	Config  map[string]any `yaml:"config,omitempty"`
}

// FromConfig 把引擎配置中的 reporters 段转换为报告器配置。
// 未启用的条目原样保留，由 Manager 跳过。
func FromConfig(in []config.ReporterConfig) ([]ReporterConfig, error) {
	out := make([]ReporterConfig, 0, len(in))
	for i, rc := range in {
		t, err := ParseReporterType(rc.Type)
		if err != nil {
			return nil, fmt.Errorf("reporters[%d]: %w", i, err)
		}
		out = append(out, ReporterConfig{Type: t, Enabled: rc.Enabled, Config: rc.Config})
	}
	return out, nil
}

// Webhook 返回一个指向 url 的已启用 webhook 报告器配置。
func Webhook(url string) ReporterConfig {
	return ReporterConfig{
		Type:    ReporterTypeWebhook,
		Enabled: true,
		Config:  map[string]any{"url": url},
	}
}

// ReporterFactory 创建特定类型的报告器。
type ReporterFactory func(config map[string]any) (Reporter, error)

// Registry 管理报告器的注册和创建。
type Registry struct {
	factories map[ReporterType]ReporterFactory
	mu        sync.RWMutex
}

// NewRegistry 创建一个新的报告器注册表。
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[ReporterType]ReporterFactory),
	}
}

// Register 为指定类型注册报告器工厂。
func (r *Registry) Register(reporterType ReporterType, factory ReporterFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[reporterType]; exists {
		return fmt.Errorf("reporter type already registered: %s", reporterType)
	}
	r.factories[reporterType] = factory
	return nil
}

// Create 创建指定类型的报告器。
func (r *Registry) Create(reporterType ReporterType, config map[string]any) (Reporter, error) {
	r.mu.RLock()
	factory, exists := r.factories[reporterType]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown reporter type: %s (registered: %v)", reporterType, r.Types())
	}
	return factory(config)
}

// Types 返回所有已注册的报告器类型，按名称排序。
func (r *Registry) Types() []ReporterType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ReporterType, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// HasType 检查报告器类型是否已注册。
func (r *Registry) HasType(reporterType ReporterType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[reporterType]
	return exists
}
