package conductor

import (
	"context"
	"time"

	"yqhp/conductor/pkg/types"
)

// EventSink receives the events of a run.
type EventSink interface {
	Report(ctx context.Context, event *types.Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event *types.Event) error

// Report calls f(ctx, event).
func (f EventSinkFunc) Report(ctx context.Context, event *types.Event) error {
	return f(ctx, event)
}

type nopSink struct{}

func (nopSink) Report(context.Context, *types.Event) error { return nil }

// workerSink turns the results of one worker in one phase into events.
type workerSink struct {
	c       *Conductor
	ctx     context.Context
	summary *Summary
	trial   int
	phase   types.PhaseName
	worker  string
	started time.Time
}

func (c *Conductor) newWorkerSink(ctx context.Context, summary *Summary, trial int, phase types.PhaseName, worker string) *workerSink {
	return &workerSink{
		c:       c,
		ctx:     ctx,
		summary: summary,
		trial:   trial,
		phase:   phase,
		worker:  worker,
		started: time.Now(),
	}
}

// AddResult implements client.ResultSink.
func (s *workerSink) AddResult(code int, message string) {
	if code == types.ResultDone {
		s.c.emit(s.ctx, &types.Event{
			Kind:     types.EventWorkerDone,
			Trial:    s.trial,
			Phase:    s.phase,
			Worker:   s.worker,
			Code:     code,
			Duration: time.Since(s.started),
		})
		return
	}

	s.summary.addResult(code)
	s.c.emit(s.ctx, &types.Event{
		Kind:    types.EventResult,
		Trial:   s.trial,
		Phase:   s.phase,
		Worker:  s.worker,
		Code:    code,
		Message: message,
	})
}
