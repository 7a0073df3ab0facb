package types

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// PhaseName identifies one lifecycle stage of a trial.
type PhaseName string

const (
	// PhaseStartup prepares a worker for the trial.
	PhaseStartup PhaseName = "startup"
	// PhaseRun executes the workload.
	PhaseRun PhaseName = "run"
	// PhaseCollect gathers artifacts produced by the run.
	PhaseCollect PhaseName = "collect"
	// PhaseReset returns the worker to a clean state.
	PhaseReset PhaseName = "reset"
)

// AllPhases lists the phases in execution order.
var AllPhases = []PhaseName{PhaseStartup, PhaseRun, PhaseCollect, PhaseReset}

// Valid reports whether p is one of the four phases.
func (p PhaseName) Valid() bool {
	for _, name := range AllPhases {
		if p == name {
			return true
		}
	}
	return false
}

// ParsePhaseName parses a phase name case-insensitively.
func ParsePhaseName(s string) (PhaseName, error) {
	p := PhaseName(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q (expected startup, run, collect or reset)", s)
	}
	return p, nil
}

// DefaultStepTimeout is used when a step does not set its own timeout.
const DefaultStepTimeout = 30 * time.Second

// StepSpec is the wire form of a step.
type StepSpec struct {
	Command string        `json:"command"`
	Spawn   bool          `json:"spawn"`
	Timeout time.Duration `json:"-"`
}

// PhaseSpec is the wire form of a phase: where results go and what to run.
type PhaseSpec struct {
	ResultHost string     `json:"resulthost"`
	ResultPort int        `json:"resultport"`
	Steps      []StepSpec `json:"steps"`
}

// ResultAddress returns the host:port the player reports to.
func (s *PhaseSpec) ResultAddress() string {
	return JoinHostPort(s.ResultHost, s.ResultPort)
}

// ValidPort reports whether port is a usable TCP port.
func ValidPort(port int) bool {
	return port >= 1 && port <= 65535
}

// JoinHostPort joins a host and a numeric port. A host already in
// brackets is not bracketed twice.
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(strings.TrimSuffix(strings.TrimPrefix(host, "["), "]"), strconv.Itoa(port))
}
