package worker

import (
	"errors"
	"fmt"
)

// ErrUnexpectedReply is returned when the coordinator answers GET_WORK with
// something other than a range start, WAIT or NO_WORK.
var ErrUnexpectedReply = errors.New("unexpected coordinator reply")

// ConnectionError reports that the coordinator could not be reached within
// the retry budget.
type ConnectionError struct {
	Err      error // last dial error
	Addr     string
	Attempts int
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to coordinator %s failed after %d attempts: %v", e.Addr, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
