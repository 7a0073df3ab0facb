// Package metrics 提供运行结果与阶段耗时的聚合器
package metrics

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"yqhp/conductor/pkg/types"
)

// 耗时直方图的范围，单位微秒
const (
	minLatencyMicros = 1
	maxLatencyMicros = int64(time.Hour / time.Microsecond)
	latencySigFigs   = 3
)

// LatencySink 耗时聚合器，基于 HDR 直方图计算百分位数
type LatencySink struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

// NewLatencySink 创建耗时聚合器，范围为 1µs 到 1h
func NewLatencySink() *LatencySink {
	return &LatencySink{hist: hdrhistogram.New(minLatencyMicros, maxLatencyMicros, latencySigFigs)}
}

// Add 添加一个耗时样本，超出范围的值会被截断到边界
func (s *LatencySink) Add(d time.Duration) {
	micros := min(max(d.Microseconds(), minLatencyMicros), maxLatencyMicros)

	s.mu.Lock()
	defer s.mu.Unlock()
	// 值已限制在直方图范围内
	_ = s.hist.RecordValue(micros)
}

// Count 返回样本数
func (s *LatencySink) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.TotalCount()
}

// IsEmpty 检查是否为空
func (s *LatencySink) IsEmpty() bool {
	return s.Count() == 0
}

// Percentile 返回指定百分位 (0-100) 的耗时
func (s *LatencySink) Percentile(p float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.hist.ValueAtQuantile(p)) * time.Microsecond
}

// Max 返回最大耗时
func (s *LatencySink) Max() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.hist.Max()) * time.Microsecond
}

// Format 返回统计结果，单位毫秒
func (s *LatencySink) Format() map[string]float64 {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return map[string]float64{
		"count": float64(s.Count()),
		"p(50)": ms(s.Percentile(50)),
		"p(90)": ms(s.Percentile(90)),
		"p(99)": ms(s.Percentile(99)),
		"max":   ms(s.Max()),
	}
}

// PhaseKey 标识一个 worker 的一个阶段
type PhaseKey struct {
	Worker string
	Phase  types.PhaseName
}

// PhaseLatencies 按 (worker, phase) 分组的耗时聚合器
type PhaseLatencies struct {
	mu    sync.Mutex
	sinks map[PhaseKey]*LatencySink
}

// NewPhaseLatencies 创建空的分组聚合器
func NewPhaseLatencies() *PhaseLatencies {
	return &PhaseLatencies{sinks: make(map[PhaseKey]*LatencySink)}
}

// Add 记录一个 worker 完成一个阶段的耗时
func (l *PhaseLatencies) Add(worker string, phase types.PhaseName, d time.Duration) {
	key := PhaseKey{Worker: worker, Phase: phase}
	l.mu.Lock()
	sink, ok := l.sinks[key]
	if !ok {
		sink = NewLatencySink()
		l.sinks[key] = sink
	}
	l.mu.Unlock()
	sink.Add(d)
}

// Get 返回某个分组的聚合器，不存在时返回 nil
func (l *PhaseLatencies) Get(worker string, phase types.PhaseName) *LatencySink {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sinks[PhaseKey{Worker: worker, Phase: phase}]
}

// Keys 返回所有分组，按 worker 名称和阶段生命周期顺序排序
func (l *PhaseLatencies) Keys() []PhaseKey {
	l.mu.Lock()
	keys := make([]PhaseKey, 0, len(l.sinks))
	for k := range l.sinks {
		keys = append(keys, k)
	}
	l.mu.Unlock()

	slices.SortFunc(keys, func(a, b PhaseKey) int {
		return cmp.Or(
			cmp.Compare(a.Worker, b.Worker),
			cmp.Compare(slices.Index(types.AllPhases, a.Phase), slices.Index(types.AllPhases, b.Phase)),
		)
	})
	return keys
}
