package transport

import "fmt"

// TransportExhaustedError is raised when connection-level failures survive
// every configured attempt. It is fatal to the single request and has no
// effect on the token store or other in-flight requests.
type TransportExhaustedError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransportExhaustedError) Error() string {
	return fmt.Sprintf("transport exhausted after %d attempt(s) to %s: %v", e.Attempts, e.URL, e.Err)
}

func (e *TransportExhaustedError) Unwrap() error {
	return e.Err
}
