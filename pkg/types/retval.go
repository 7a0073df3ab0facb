package types

import (
	"fmt"
	"math"
)

// Reserved result codes.
const (
	// ResultOK is the code of a successful step.
	ResultOK = 0
	// ResultError is the code of a step that timed out or could not be started.
	ResultError = 1
	// ResultBadCommand is the code reported for commands that could not be parsed.
	ResultBadCommand = 2
	// ResultDone marks the end of a phase's result stream. It lies outside the
	// 0-255 range of process exit statuses.
	ResultDone = 65535
)

// DoneMessage is the message carried by the end-of-phase sentinel.
const DoneMessage = "phase complete"

// RetVal is the outcome of a single step, or the end-of-phase sentinel.
type RetVal struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewRetVal creates a RetVal.
func NewRetVal(code int, message string) RetVal {
	return RetVal{Code: code, Message: message}
}

// Done returns the end-of-phase sentinel.
func Done() RetVal {
	return RetVal{Code: ResultDone, Message: DoneMessage}
}

// IsDone reports whether r is the end-of-phase sentinel.
func (r RetVal) IsDone() bool {
	return r.Code == ResultDone
}

// OK reports whether the step succeeded.
func (r RetVal) OK() bool {
	return r.Code == ResultOK
}

// String renders the result the way the console shows it.
func (r RetVal) String() string {
	if r.IsDone() {
		return "done"
	}
	return fmt.Sprintf("%d %s", r.Code, r.Message)
}

// Data returns the wire payload of the result.
func (r RetVal) Data() map[string]any {
	return map[string]any{
		"code":    r.Code,
		"message": r.Message,
	}
}

// RetValFromData builds a RetVal from a decoded wire payload. The code must
// be an integral number and the message a string; anything else is rejected.
func RetValFromData(data map[string]any) (RetVal, error) {
	rawCode, ok := data["code"]
	if !ok {
		return RetVal{}, fmt.Errorf("result missing code")
	}
	code, err := ToInt(rawCode)
	if err != nil {
		return RetVal{}, fmt.Errorf("result code: %w", err)
	}

	rawMessage, ok := data["message"]
	if !ok {
		return RetVal{}, fmt.Errorf("result missing message")
	}
	message, ok := rawMessage.(string)
	if !ok {
		return RetVal{}, fmt.Errorf("result message must be a string, got %T", rawMessage)
	}

	return RetVal{Code: code, Message: message}, nil
}

// ToInt converts a decoded JSON number to int, refusing fractions and
// values outside the int32 range.
func ToInt(v any) (int, error) {
	var f float64
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		f = float64(n)
	case float64:
		f = n
	default:
		return 0, fmt.Errorf("must be an integer, got %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("must be an integer, got %v", f)
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("out of range: %v", f)
	}
	return int(f), nil
}
