package client

import (
	"strconv"
	"strings"
	"time"

	"yqhp/conductor/pkg/types"
)

const (
	spawnMarker   = "spawn"
	timeoutMarker = "timeout"
)

// StepOptions is the execution mode derived from one phase section entry.
type StepOptions struct {
	Command string
	Spawn   bool
	Timeout time.Duration
}

// ParseStep derives a step from a "key = value" entry of a phase section.
//
// A key prefixed "spawn" marks spawn mode and a key "timeout<N>" sets an N
// second timeout. The value may carry the same markers as "spawn:<command>"
// or "timeout<N>:<command>". A malformed timeout falls back to the default
// with a warning and never fails the load.
func ParseStep(key, value string) StepOptions {
	opts := StepOptions{
		Command: strings.TrimSpace(value),
		Timeout: types.DefaultStepTimeout,
	}

	lowerKey := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasPrefix(lowerKey, spawnMarker):
		opts.Spawn = true
	case strings.HasPrefix(lowerKey, timeoutMarker):
		if d, ok := parseTimeout(lowerKey[len(timeoutMarker):]); ok {
			opts.Timeout = d
		} else {
			log.Warn("step %q: malformed timeout in key, using default %s", key, types.DefaultStepTimeout)
		}
	}

	marker, rest, found := strings.Cut(opts.Command, ":")
	if !found || strings.ContainsAny(marker, " \t") {
		return opts
	}
	lowerMarker := strings.ToLower(marker)
	switch {
	case lowerMarker == spawnMarker:
		opts.Spawn = true
		opts.Command = strings.TrimSpace(rest)
	case strings.HasPrefix(lowerMarker, timeoutMarker):
		if d, ok := parseTimeout(lowerMarker[len(timeoutMarker):]); ok {
			opts.Timeout = d
			opts.Command = strings.TrimSpace(rest)
		} else {
			log.Warn("step %q: malformed timeout in value, using default %s", key, types.DefaultStepTimeout)
		}
	}
	return opts
}

// parseTimeout accepts a positive whole number of seconds made of digits only.
func parseTimeout(digits string) (time.Duration, bool) {
	if digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
