package auth

import "fmt"

// AuthenticationError is returned when the auth backend rejects the
// credential or fails outright. It is fatal to the request that triggered
// the refresh and is delivered to every concurrent refresh waiter.
type AuthenticationError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: status=%d reason=%s message=%s", e.StatusCode, e.Reason, e.Message)
}
