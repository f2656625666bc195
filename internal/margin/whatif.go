package margin

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "margincalc/pkg/errors"
)

// WhatIf measures the margin impact of adding portfolios to an existing
// request. The base and the combined request run concurrently on the same
// venue; the delta is combined minus base, computed per breakdown entry.
func (c *Client) WhatIf(ctx context.Context, venue string, base CalculationRequest, extra ...PortfolioData) (*WhatIfResult, error) {
	combined := base.WithAddedPortfolios(extra...)

	baseFuture, err := c.CalculateAsync(ctx, venue, base)
	if err != nil {
		return nil, fmt.Errorf("what-if base submit failed: %w", err)
	}
	combinedFuture, err := c.CalculateAsync(ctx, venue, combined)
	if err != nil {
		baseFuture.Cancel()
		return nil, fmt.Errorf("what-if combined submit failed: %w", err)
	}

	baseResult, baseErr := baseFuture.Result(ctx)
	if baseErr != nil {
		// Don't wait out the combined job once the comparison is moot.
		combinedFuture.Cancel()
		return nil, fmt.Errorf("what-if base calculation failed: %w", baseErr)
	}
	combinedResult, combinedErr := combinedFuture.Result(ctx)
	if combinedErr != nil {
		return nil, fmt.Errorf("what-if combined calculation failed: %w", combinedErr)
	}

	result := &WhatIfResult{
		Base:     baseResult.Summary,
		Combined: combinedResult.Summary,
	}
	result.Failures = append(result.Failures, baseResult.Failures...)
	result.Failures = append(result.Failures, combinedResult.Failures...)

	if result.Base != nil && result.Combined != nil {
		delta, err := subtractSummary(result.Combined, result.Base)
		if err != nil {
			return nil, err
		}
		result.Delta = delta
	}
	return result, nil
}

// subtractSummary computes minuend minus subtrahend. The subtrahend's
// breakdown keys drive the delta; a key absent from the minuend means the
// two results are not comparable.
func subtractSummary(minuend, subtrahend *MarginSummary) (*MarginSummary, error) {
	delta := &MarginSummary{
		Currency: subtrahend.Currency,
		Margin:   minuend.Margin.Sub(subtrahend.Margin),
	}
	if len(subtrahend.Breakdown) > 0 {
		delta.Breakdown = make(map[string]decimal.Decimal, len(subtrahend.Breakdown))
		for key, baseValue := range subtrahend.Breakdown {
			combinedValue, ok := minuend.Breakdown[key]
			if !ok {
				return nil, fmt.Errorf("breakdown entry %q absent from combined result: %w",
					key, apperrors.ErrBreakdownMismatch)
			}
			delta.Breakdown[key] = combinedValue.Sub(baseValue)
		}
	}
	return delta, nil
}
