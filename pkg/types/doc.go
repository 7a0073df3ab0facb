// Package types defines the data structures shared by the conductor, its
// players and the reporters.
//
// This package contains:
//   - RetVal, the (code, message) outcome of one step or the end-of-phase sentinel
//   - StepSpec and PhaseSpec, the wire shape of a phase download
//   - PhaseName, the four lifecycle stages in execution order
//   - Event, the record reporters receive while a run progresses
//   - PlayerState and PlayerStatus, the observable state of a player
package types
