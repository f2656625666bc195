package margin

import (
	"fmt"
	"net/http"
	"time"

	apperrors "margincalc/pkg/errors"
)

// CalculationError is a non-success status from a calculation-protocol
// call. It carries the server-provided reason and message plus the logical
// operation name for diagnostics.
type CalculationError struct {
	Op         string
	Venue      string
	StatusCode int
	Reason     string
	Message    string
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("calculation %s failed on venue %s: status=%d reason=%s message=%s",
		e.Op, e.Venue, e.StatusCode, e.Reason, e.Message)
}

// Unwrap maps well-known statuses onto shared sentinels for errors.Is
func (e *CalculationError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return apperrors.ErrCalculationNotFound
	default:
		return nil
	}
}

// Payload returns the error in the server payload shape
func (e *CalculationError) Payload() ErrorPayload {
	return ErrorPayload{HTTPStatus: e.StatusCode, Reason: e.Reason, Message: e.Message}
}

// PollTimeoutError is raised when asynchronous polling exceeds its bound.
// Cleanup of the server-side handle still runs.
type PollTimeoutError struct {
	Venue   string
	Handle  Handle
	Timeout time.Duration
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("calculation %s on venue %s did not complete within %s", e.Handle, e.Venue, e.Timeout)
}
