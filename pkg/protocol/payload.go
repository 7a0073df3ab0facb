package protocol

import (
	"time"

	"yqhp/conductor/pkg/types"
)

// PhaseData builds the payload of a phase message.
func PhaseData(spec *types.PhaseSpec) map[string]any {
	steps := make([]any, 0, len(spec.Steps))
	for _, s := range spec.Steps {
		steps = append(steps, map[string]any{
			"command": s.Command,
			"spawn":   s.Spawn,
			"timeout": timeoutSeconds(s.Timeout),
		})
	}
	return map[string]any{
		"resulthost": spec.ResultHost,
		"resultport": spec.ResultPort,
		"steps":      steps,
	}
}

// timeoutSeconds rounds a timeout up to whole seconds, the unit used on the wire.
func timeoutSeconds(d time.Duration) int {
	if d <= 0 {
		d = types.DefaultStepTimeout
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// DecodePhase validates a phase payload and converts it to a PhaseSpec.
func DecodePhase(data map[string]any) (*types.PhaseSpec, error) {
	host, ok := data["resulthost"].(string)
	if !ok || host == "" {
		return nil, newError(CodeInvalidPayload, nil, "phase: resulthost must be a non-empty string")
	}
	port, err := types.ToInt(data["resultport"])
	if err != nil {
		return nil, newError(CodeInvalidPayload, err, "phase: bad resultport")
	}
	if !types.ValidPort(port) {
		return nil, newError(CodeInvalidPayload, nil, "phase: resultport %d out of range", port)
	}

	spec := &types.PhaseSpec{ResultHost: host, ResultPort: port}

	rawSteps, present := data["steps"]
	if !present || rawSteps == nil {
		return spec, nil
	}
	steps, ok := rawSteps.([]any)
	if !ok {
		return nil, newError(CodeInvalidPayload, nil, "phase: steps must be an array")
	}

	spec.Steps = make([]types.StepSpec, 0, len(steps))
	for i, raw := range steps {
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, newError(CodeInvalidPayload, nil, "phase: step %d must be an object", i)
		}
		command, ok := obj["command"].(string)
		if !ok {
			return nil, newError(CodeInvalidPayload, nil, "phase: step %d command must be a string", i)
		}

		step := types.StepSpec{Command: command, Timeout: types.DefaultStepTimeout}
		if rawSpawn, ok := obj["spawn"]; ok && rawSpawn != nil {
			spawn, ok := rawSpawn.(bool)
			if !ok {
				return nil, newError(CodeInvalidPayload, nil, "phase: step %d spawn must be a boolean", i)
			}
			step.Spawn = spawn
		}
		if rawTimeout, ok := obj["timeout"]; ok && rawTimeout != nil {
			secs, err := types.ToInt(rawTimeout)
			if err != nil {
				return nil, newError(CodeInvalidPayload, err, "phase: step %d timeout", i)
			}
			if secs > 0 {
				step.Timeout = time.Duration(secs) * time.Second
			}
		}
		spec.Steps = append(spec.Steps, step)
	}

	return spec, nil
}

// ResultData builds the payload of a result message.
func ResultData(r types.RetVal) map[string]any {
	return r.Data()
}

// DecodeResult validates a result payload.
func DecodeResult(data map[string]any) (types.RetVal, error) {
	r, err := types.RetValFromData(data)
	if err != nil {
		return types.RetVal{}, newError(CodeInvalidPayload, err, "bad result")
	}
	return r, nil
}

// ErrorData builds the payload of an error message.
func ErrorData(message string) map[string]any {
	return map[string]any{"message": message}
}

// DecodeError extracts the message of an error payload.
func DecodeError(data map[string]any) string {
	if msg, ok := data["message"].(string); ok {
		return msg
	}
	return "unspecified error"
}
