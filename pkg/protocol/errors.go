package protocol

import "fmt"

// ErrorCode classifies protocol failures.
type ErrorCode string

const (
	CodeConnectionClosed   ErrorCode = "CONNECTION_CLOSED"
	CodeMessageTooLarge    ErrorCode = "MESSAGE_TOO_LARGE"
	CodeIncompleteMessage  ErrorCode = "INCOMPLETE_MESSAGE"
	CodeInvalidFormat      ErrorCode = "INVALID_FORMAT"
	CodeMissingVersion     ErrorCode = "MISSING_VERSION"
	CodeUnsupportedVersion ErrorCode = "UNSUPPORTED_VERSION"
	CodeInvalidPayload     ErrorCode = "INVALID_PAYLOAD"
)

// Error is a protocol failure scoped to one message exchange.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, protocol.ErrMessageTooLarge).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrConnectionClosed   = &Error{Code: CodeConnectionClosed, Message: "connection closed"}
	ErrMessageTooLarge    = &Error{Code: CodeMessageTooLarge, Message: "message too large"}
	ErrIncompleteMessage  = &Error{Code: CodeIncompleteMessage, Message: "incomplete message received"}
	ErrInvalidFormat      = &Error{Code: CodeInvalidFormat, Message: "invalid message format"}
	ErrMissingVersion     = &Error{Code: CodeMissingVersion, Message: "missing version field"}
	ErrUnsupportedVersion = &Error{Code: CodeUnsupportedVersion, Message: "unsupported protocol version"}
	ErrInvalidPayload     = &Error{Code: CodeInvalidPayload, Message: "invalid payload"}
)

func newError(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}
