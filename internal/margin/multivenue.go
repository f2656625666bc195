package margin

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	apperrors "margincalc/pkg/errors"
)

// CalculateForVenues runs the same request on every named venue and joins
// the results. Each venue's calculation is submitted to the invoker's
// scheduler as an async job, so fan-out width is bounded by the pool.
// Venues fail independently: one venue's error never aborts or taints the
// others, and the join is keyed by venue, never by completion order.
func (c *Client) CalculateForVenues(ctx context.Context, venues []string, req CalculationRequest) (*MultiVenueResult, error) {
	if len(venues) == 0 {
		return nil, fmt.Errorf("no venues given: %w", apperrors.ErrVenueUnknown)
	}

	out := &MultiVenueResult{
		Summaries: make(map[string]*MarginSummary, len(venues)),
	}
	var mu sync.Mutex

	futures := make(map[string]*CalcFuture, len(venues))
	for _, venue := range venues {
		future, err := c.CalculateAsync(ctx, venue, req)
		if err != nil {
			out.Failures = append(out.Failures, VenueFailure{Venue: venue, Err: err})
			continue
		}
		futures[venue] = future
	}

	var g errgroup.Group
	for venue, future := range futures {
		g.Go(func() error {
			result, err := future.Result(ctx)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				out.Failures = append(out.Failures, VenueFailure{Venue: venue, Err: err})
			case result.Summary == nil:
				out.Failures = append(out.Failures, VenueFailure{
					Venue: venue,
					Err:   venueFailureError(venue, result.Failures),
				})
			default:
				out.Summaries[venue] = result.Summary
			}
			// Failures are reported per venue, never propagated, so a
			// failing venue does not cancel the group.
			return nil
		})
	}
	_ = g.Wait()

	if len(out.Failures) > 0 {
		c.logger.Warn("Multi-venue calculation completed with failures",
			"venues", len(venues),
			"failed", len(out.Failures))
	}
	return out, nil
}

func venueFailureError(venue string, failures []ErrorPayload) error {
	if len(failures) > 0 {
		f := failures[0]
		return &CalculationError{
			Op:         "calculate",
			Venue:      venue,
			StatusCode: f.HTTPStatus,
			Reason:     f.Reason,
			Message:    f.Message,
		}
	}
	return fmt.Errorf("venue %s returned no margin summary", venue)
}
