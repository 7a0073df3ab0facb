package types

import "time"

// PlayerState is the state of a player's phase state machine.
type PlayerState string

const (
	// PlayerStateIdle means no phase is held.
	PlayerStateIdle PlayerState = "idle"
	// PlayerStateHoldingPhase means a phase was downloaded and waits for RUN.
	PlayerStateHoldingPhase PlayerState = "holding_phase"
	// PlayerStateExecuting means a phase is running or reporting results.
	PlayerStateExecuting PlayerState = "executing"
)

// PlayerStatus is the snapshot served by a player's status endpoint.
type PlayerStatus struct {
	ID             string      `json:"id"`
	State          PlayerState `json:"state"`
	Address        string      `json:"address"`
	HeldSteps      int         `json:"held_steps"`
	PhasesReceived int64       `json:"phases_received"`
	RunsCompleted  int64       `json:"runs_completed"`
	BadMessages    int64       `json:"bad_messages"`
	StartedAt      time.Time   `json:"started_at"`
	LastRunAt      *time.Time  `json:"last_run_at,omitempty"`
}
