package transport

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"margincalc/internal/core"
	"margincalc/pkg/telemetry"
)

// RetryStage retries connection-level failures only. HTTP responses that
// arrive, whatever their status code, are never retried here. Attempts is
// the total number of sends; 1 means no retry. When every attempt fails
// with a transport error the stage raises TransportExhaustedError.
//
// withBreaker composes a circuit breaker after the retry policy; it too
// observes only connection-level failures.
func RetryStage(attempts int, withBreaker bool, logger core.ILogger) Stage {
	if attempts < 1 {
		attempts = 1
	}

	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			// Only network errors. An HTTP error status is a delivered
			// response and belongs to the caller.
			return err != nil
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(attempts - 1).
		Build()

	var executor failsafe.Executor[*http.Response]
	if withBreaker {
		breaker := circuitbreaker.NewBuilder[*http.Response]().
			HandleIf(func(resp *http.Response, err error) bool {
				return err != nil
			}).
			WithFailureThresholdRatio(5, 10).
			WithDelay(10 * time.Second).
			Build()
		executor = failsafe.With[*http.Response](retryPolicy, breaker)
	} else {
		executor = failsafe.With[*http.Response](retryPolicy)
	}

	return func(next SendFunc) SendFunc {
		return func(req *http.Request) (*http.Response, error) {
			var sent int64

			resp, err := executor.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
				attempt := atomic.AddInt64(&sent, 1)
				if attempt > 1 {
					telemetry.GetGlobalMetrics().AddRetry(req.Context())
					logger.Debug("Retrying request",
						"attempt", attempt,
						"url", req.URL.String())
					if rewindErr := rewindBody(req); rewindErr != nil {
						return nil, rewindErr
					}
				}
				return next(req)
			})
			if err != nil {
				// The caller ending its own context is not exhaustion.
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil, err
				}
				return nil, &TransportExhaustedError{
					URL:      req.URL.String(),
					Attempts: int(atomic.LoadInt64(&sent)),
					Err:      err,
				}
			}
			return resp, nil
		}
	}
}
