package metrics

import (
	"sync"

	"yqhp/conductor/pkg/types"
)

// RateSink 结果比率聚合器，返回码为 0 记为通过
type RateSink struct {
	mu     sync.Mutex
	passes int64
	total  int64
}

// Add 添加一个步骤结果，DONE 哨兵不计入
func (r *RateSink) Add(code int) {
	if code == types.ResultDone {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if code == types.ResultOK {
		r.passes++
	}
}

// Total 返回结果总数
func (r *RateSink) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Fails 返回非零返回码的结果数
func (r *RateSink) Fails() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total - r.passes
}

// Rate 返回通过率，没有结果时为 0
func (r *RateSink) Rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.total == 0 {
		return 0
	}
	return float64(r.passes) / float64(r.total)
}
