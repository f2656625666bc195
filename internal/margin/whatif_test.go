package margin

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "margincalc/pkg/errors"
)

func TestWhatIfDelta(t *testing.T) {
	script := &venueScript{
		summary: func(req CalculationRequest) *MarginSummary {
			if len(req.Portfolios) == 1 {
				return flatSummary(100, map[string]float64{"initial": 40, "variation": 60})
			}
			return flatSummary(135, map[string]float64{"initial": 55, "variation": 80})
		},
	}
	srv := newMarginTestServer(t, map[string]*venueScript{"cme": script})
	client := newTestClient(t, srv)

	result, err := client.WhatIf(context.Background(), "cme", testRequest("book-1"),
		PortfolioData{Name: "candidate", Data: "blob"})
	require.NoError(t, err)
	require.NotNil(t, result.Delta)

	assert.True(t, decimal.NewFromInt(35).Equal(result.Delta.Margin))
	assert.True(t, decimal.NewFromInt(15).Equal(result.Delta.Breakdown["initial"]))
	assert.True(t, decimal.NewFromInt(20).Equal(result.Delta.Breakdown["variation"]))
	assert.Equal(t, "USD", result.Delta.Currency)

	creates, _, deletes := script.counters()
	assert.Equal(t, 2, creates, "base and combined each run once")
	assert.Equal(t, 2, deletes, "both jobs are cleaned up")
}

func TestWhatIfBreakdownMismatch(t *testing.T) {
	script := &venueScript{
		summary: func(req CalculationRequest) *MarginSummary {
			if len(req.Portfolios) == 1 {
				return flatSummary(100, map[string]float64{"initial": 40, "variation": 60})
			}
			// Combined result is missing the variation entry.
			return flatSummary(135, map[string]float64{"initial": 55})
		},
	}
	srv := newMarginTestServer(t, map[string]*venueScript{"cme": script})
	client := newTestClient(t, srv)

	_, err := client.WhatIf(context.Background(), "cme", testRequest("book-1"),
		PortfolioData{Name: "candidate", Data: "blob"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBreakdownMismatch)
}

func TestWhatIfBaseFailureCancelsCombined(t *testing.T) {
	script := &venueScript{
		pendingPolls: 1 << 30, // the combined job would poll forever
		createStatusFor: func(req CalculationRequest) int {
			if len(req.Portfolios) == 1 {
				return http.StatusInternalServerError // reject the base job
			}
			return 0
		},
	}
	srv := newMarginTestServer(t, map[string]*venueScript{"cme": script})
	client := newTestClient(t, srv)

	_, err := client.WhatIf(context.Background(), "cme", testRequest("book-1"),
		PortfolioData{Name: "candidate", Data: "blob"})
	require.Error(t, err, "base failure must surface without waiting out the combined job")

	var calcErr *CalculationError
	require.ErrorAs(t, err, &calcErr)
	assert.Equal(t, "create", calcErr.Op)

	// The cancelled combined job is still cleaned up.
	assert.Eventually(t, func() bool {
		_, _, deletes := script.counters()
		return deletes == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWhatIfCollectsFailures(t *testing.T) {
	script := &venueScript{
		failures: []ErrorPayload{{HTTPStatus: 500, Reason: "pricing_failed", Message: "one trade failed"}},
		summary: func(CalculationRequest) *MarginSummary {
			return flatSummary(10, nil)
		},
	}
	srv := newMarginTestServer(t, map[string]*venueScript{"cme": script})
	client := newTestClient(t, srv)

	result, err := client.WhatIf(context.Background(), "cme", testRequest("book-1"),
		PortfolioData{Name: "candidate", Data: "blob"})
	require.NoError(t, err)
	assert.Len(t, result.Failures, 2, "failures from base and combined are both surfaced")
}
