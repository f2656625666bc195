package margin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "margincalc/pkg/errors"
)

// errPollBound marks the deadline the async path places on polling, so a
// caller's own expiring context is never mistaken for the poll bound.
var errPollBound = errors.New("async poll bound reached")

// Calculate runs one calculation to completion: submit, poll until the
// server reports COMPLETED, then best-effort delete. It blocks until the
// result is available or ctx ends; the only time bound is the caller's
// context.
func (c *Client) Calculate(ctx context.Context, venue string, req CalculationRequest) (*CalculationResult, error) {
	return c.runCalculation(ctx, venue, req, 0)
}

// CalcFuture is the handle to an asynchronous calculation. Result and
// Cancel are safe to call from any goroutine, any number of times.
type CalcFuture struct {
	done       chan struct{}
	cancel     context.CancelFunc
	complete   sync.Once
	cancelOnce sync.Once
	result     *CalculationResult
	err        error
}

// Done returns a channel closed when the calculation has finished,
// successfully or not.
func (f *CalcFuture) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the calculation finishes or ctx ends. The ctx here
// bounds only the wait; the calculation itself keeps running.
func (f *CalcFuture) Result(ctx context.Context) (*CalculationResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel aborts the calculation. Server-side cleanup of an already created
// job still runs. Cancelling a finished future is a no-op.
func (f *CalcFuture) Cancel() {
	f.cancelOnce.Do(f.cancel)
}

func (f *CalcFuture) settle(result *CalculationResult, err error) {
	f.complete.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
	})
}

// CalculateAsync submits the calculation to the invoker's scheduler and
// returns immediately. Polling is bounded by the configured poll timeout;
// exceeding it yields a PollTimeoutError through the future.
func (c *Client) CalculateAsync(ctx context.Context, venue string, req CalculationRequest) (*CalcFuture, error) {
	runCtx, cancel := context.WithTimeoutCause(ctx, c.pollTimeout, errPollBound)
	future := &CalcFuture{
		done:   make(chan struct{}),
		cancel: cancel,
	}

	task := func() {
		defer cancel()
		result, err := c.runCalculation(runCtx, venue, req, c.pollTimeout)
		future.settle(result, err)
	}
	if err := c.inv.Scheduler().Submit(task); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to schedule calculation for venue %s: %w", venue, err)
	}
	return future, nil
}

// runCalculation is the shared lifecycle: one create, a poll loop, and
// exactly one best-effort delete for every handle that was created. A
// non-zero pollTimeout marks the context deadline as the async poll bound.
func (c *Client) runCalculation(ctx context.Context, venue string, req CalculationRequest, pollTimeout time.Duration) (*CalculationResult, error) {
	handle, err := c.CreateCalculation(ctx, venue, req)
	if err != nil {
		c.metrics.AddCalcFailed(ctx, venue)
		return nil, fmt.Errorf("calculation submit on venue %s failed: %w", venue, err)
	}
	defer c.deleteQuietly(venue, handle)

	c.metrics.IncInflight(venue)
	defer c.metrics.DecInflight(venue)

	result, err := c.poll(ctx, venue, handle)
	if err == nil {
		c.metrics.AddCalcCompleted(ctx, venue)
		return result, nil
	}

	switch {
	case errors.Is(err, context.Canceled):
		c.metrics.AddCalcCancelled(ctx, venue)
		c.logger.Info("Calculation cancelled", "venue", venue, "handle", handle)
		return nil, fmt.Errorf("calculation %s on venue %s: %w", handle, venue, apperrors.ErrCalculationCancelled)
	case pollTimeout > 0 && errors.Is(err, context.DeadlineExceeded) && errors.Is(context.Cause(ctx), errPollBound):
		c.metrics.AddCalcFailed(ctx, venue)
		c.logger.Warn("Calculation poll timed out", "venue", venue, "handle", handle, "timeout", pollTimeout)
		return nil, &PollTimeoutError{Venue: venue, Handle: handle, Timeout: pollTimeout}
	default:
		c.metrics.AddCalcFailed(ctx, venue)
		return nil, fmt.Errorf("calculation %s on venue %s failed: %w", handle, venue, err)
	}
}

// poll fetches status until the server reports COMPLETED or ctx ends.
// The server never transitions a job backwards, so the first COMPLETED
// observation is final.
func (c *Client) poll(ctx context.Context, venue string, handle Handle) (*CalculationResult, error) {
	for {
		result, err := c.GetCalculation(ctx, venue, handle)
		if err != nil {
			return nil, err
		}
		if result.Status == StatusCompleted {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}
