package conductor

import (
	"sync"
	"time"

	"yqhp/conductor/pkg/types"
)

// Summary is the outcome of one run.
type Summary struct {
	RunID string
	Plan  *types.RunPlan

	// TrialsCompleted counts trials that ran through every selected phase.
	TrialsCompleted int
	// Results counts step results, not DONE sentinels.
	Results int
	// FailedResults counts step results with a non-zero code.
	FailedResults int
	// WorkerErrors holds one entry per failed worker sub-step.
	WorkerErrors []error

	StartedAt time.Time
	Duration  time.Duration

	mu sync.Mutex
}

func newSummary(plan *types.RunPlan) *Summary {
	return &Summary{RunID: plan.RunID, Plan: plan, StartedAt: time.Now()}
}

func (s *Summary) addResult(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results++
	if code != types.ResultOK {
		s.FailedResults++
	}
}

func (s *Summary) addWorkerError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WorkerErrors = append(s.WorkerErrors, err)
}

// Degraded reports whether any worker failed a sub-step during the run.
func (s *Summary) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.WorkerErrors) > 0
}
