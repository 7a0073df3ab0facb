package phase

import (
	"context"
	"errors"
	"fmt"

	"yqhp/conductor/pkg/logger"
	"yqhp/conductor/pkg/types"
)

var phaseLog = logger.Named("phase")

// Phase 一组有序步骤及其结果回传地址
type Phase struct {
	resultHost string
	resultPort int
	steps      []*Step
	results    []types.RetVal
}

// New 创建一个空阶段，结果将回传到 resultHost:resultPort
func New(resultHost string, resultPort int) *Phase {
	return &Phase{
		resultHost: resultHost,
		resultPort: resultPort,
	}
}

// FromSpec 根据线路载荷创建新的阶段实例，结果列表为空
func FromSpec(spec *types.PhaseSpec) *Phase {
	p := New(spec.ResultHost, spec.ResultPort)
	for _, s := range spec.Steps {
		p.Append(StepFromSpec(s))
	}
	return p
}

// Append 在末尾添加步骤，添加顺序即执行顺序
func (p *Phase) Append(step *Step) {
	p.steps = append(p.steps, step)
}

// Steps 返回步骤列表
func (p *Phase) Steps() []*Step {
	return p.steps
}

// Len 返回步骤数
func (p *Phase) Len() int {
	return len(p.steps)
}

// ResultAddress 返回结果回传地址
func (p *Phase) ResultAddress() string {
	return types.JoinHostPort(p.resultHost, p.resultPort)
}

// Spec 返回阶段的线路描述
func (p *Phase) Spec() *types.PhaseSpec {
	spec := &types.PhaseSpec{
		ResultHost: p.resultHost,
		ResultPort: p.resultPort,
		Steps:      make([]types.StepSpec, 0, len(p.steps)),
	}
	for _, s := range p.steps {
		spec.Steps = append(spec.Steps, s.Spec())
	}
	return spec
}

// Run 依次执行全部步骤。失败的步骤不会中断后续步骤，每个结果按顺序记录。
func (p *Phase) Run(ctx context.Context) []types.RetVal {
	p.results = make([]types.RetVal, 0, len(p.steps))
	for i, step := range p.steps {
		phaseLog.Debug("执行步骤 %d/%d: %s", i+1, len(p.steps), step.Command)
		p.results = append(p.results, step.Run(ctx))
	}
	return p.Results()
}

// Results 返回最近一次执行的结果副本
func (p *Phase) Results() []types.RetVal {
	out := make([]types.RetVal, len(p.results))
	copy(out, p.results)
	return out
}

// ReturnResults 每个结果使用一条新连接回传，最后总是发送一个 DONE 哨兵，
// 即使没有任何步骤。单个结果发送失败会记录并继续，返回合并后的错误。
func (p *Phase) ReturnResults(ctx context.Context, t *Transport) error {
	address := p.ResultAddress()

	var errs []error
	for i, rv := range p.results {
		if err := t.SendResult(ctx, address, rv); err != nil {
			phaseLog.Error("回传结果 %d 到 %s 失败: %v", i+1, address, err)
			errs = append(errs, fmt.Errorf("result %d: %w", i+1, err))
		}
	}

	if err := t.SendResult(ctx, address, types.Done()); err != nil {
		phaseLog.Error("发送阶段完成标记到 %s 失败: %v", address, err)
		errs = append(errs, fmt.Errorf("done sentinel: %w", err))
	}
	return errors.Join(errs...)
}
