package apperrors

import "errors"

// Standardized client errors
var (
	ErrInvokerClosed        = errors.New("invoker is closed")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrCalculationNotFound  = errors.New("calculation not found")
	ErrCalculationCancelled = errors.New("calculation cancelled")
	ErrBreakdownMismatch    = errors.New("breakdown key missing from combined summary")
	ErrVenueUnknown         = errors.New("unknown venue")
)
