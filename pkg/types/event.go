package types

import "time"

// EventKind is the type of a reporter event.
type EventKind string

const (
	EventRunStart    EventKind = "run_start"
	EventTrialStart  EventKind = "trial_start"
	EventPhaseStart  EventKind = "phase_start"
	EventResult      EventKind = "result"
	EventWorkerDone  EventKind = "worker_done"
	EventWorkerError EventKind = "worker_error"
	EventPhaseEnd    EventKind = "phase_end"
	EventTrialEnd    EventKind = "trial_end"
	EventRunEnd      EventKind = "run_end"
)

// Event is emitted by the conductor as a run progresses.
//
// Trial numbers start at 1. Result events carry Code and Message; worker
// error events carry the error text in Message; worker done events carry the
// time between the RUN trigger and the DONE sentinel in Duration.
type Event struct {
	Kind     EventKind     `json:"kind"`
	RunID    string        `json:"run_id,omitempty"`
	Trial    int           `json:"trial,omitempty"`
	Phase    PhaseName     `json:"phase,omitempty"`
	Worker   string        `json:"worker,omitempty"`
	Code     int           `json:"code"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Time     time.Time     `json:"time"`

	// Plan is set on run start events.
	Plan *RunPlan `json:"plan,omitempty"`
}

// RunPlan describes what a conductor run will do.
type RunPlan struct {
	RunID   string      `json:"run_id"`
	Trials  int         `json:"trials"`
	Workers []string    `json:"workers"`
	Phases  []PhaseName `json:"phases"`
	DryRun  bool        `json:"dry_run"`
}
