// Package margin implements the remote calculation job protocol: create,
// poll, fetch and delete, plus the synchronous, asynchronous, what-if and
// multi-venue composites built on it.
package margin

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Status is the server-reported state of a calculation job. It is the only
// result field the client's control flow inspects.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
)

// Handle is the opaque server-assigned identifier for one calculation job.
// It is a foreign key into server state and carries no client-side state.
type Handle string

// PortfolioData is one portfolio payload attached to a calculation request.
// Encoding and compression of the payload are the caller's concern.
type PortfolioData struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// CalculationRequest describes one calculation job. It is immutable from
// the client's point of view: composing a what-if builds a modified copy.
type CalculationRequest struct {
	ValuationDate string          `json:"valuationDate"`
	Currencies    []string        `json:"reportingCurrencies,omitempty"`
	Mode          string          `json:"calculationMode,omitempty"`
	ResultTypes   []string        `json:"resultTypes,omitempty"`
	Portfolios    []PortfolioData `json:"portfolios"`
}

// WithAddedPortfolios returns a copy of the request with extra portfolios
// appended. The receiver is never modified.
func (r CalculationRequest) WithAddedPortfolios(extra ...PortfolioData) CalculationRequest {
	combined := r
	combined.Portfolios = make([]PortfolioData, 0, len(r.Portfolios)+len(extra))
	combined.Portfolios = append(combined.Portfolios, r.Portfolios...)
	combined.Portfolios = append(combined.Portfolios, extra...)
	return combined
}

// MarginSummary is the numeric outcome of a completed calculation
type MarginSummary struct {
	Currency  string                     `json:"currency,omitempty"`
	Margin    decimal.Decimal            `json:"margin"`
	Breakdown map[string]decimal.Decimal `json:"breakdown,omitempty"`
}

// ErrorPayload is the server-side error shape attached to failed jobs
type ErrorPayload struct {
	HTTPStatus int    `json:"httpStatus"`
	Reason     string `json:"reason"`
	Message    string `json:"message"`
}

// CalculationResult is the payload returned by a status poll. Everything
// except Status passes through to the caller opaquely.
type CalculationResult struct {
	Status   Status          `json:"status"`
	Summary  *MarginSummary  `json:"summary,omitempty"`
	Failures []ErrorPayload  `json:"failures,omitempty"`
	Details  json.RawMessage `json:"details,omitempty"`
}

// WhatIfResult is the composite outcome of a what-if comparison
type WhatIfResult struct {
	Base     *MarginSummary
	Combined *MarginSummary
	Delta    *MarginSummary
	Failures []ErrorPayload
}

// VenueFailure records one venue whose calculation produced no margin result
type VenueFailure struct {
	Venue string
	Err   error
}

// MultiVenueResult aggregates a fan-out across venues. Entries are keyed by
// venue, never by arrival order.
type MultiVenueResult struct {
	Summaries map[string]*MarginSummary
	Failures  []VenueFailure
}
