package client

import "fmt"

// Operation names used in WorkerError.
const (
	OpDownload = "download"
	OpTrigger  = "trigger"
	OpCollect  = "collect"
)

// WorkerError reports a failed exchange with one worker.
type WorkerError struct {
	Worker string
	Op     string
	Err    error
}

// Error implements the error interface.
func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %s: %s: %v", e.Worker, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *WorkerError) Unwrap() error {
	return e.Err
}

func (c *Client) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &WorkerError{Worker: c.name, Op: op, Err: err}
}
