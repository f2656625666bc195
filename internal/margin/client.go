package margin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"margincalc/internal/core"
	"margincalc/internal/invoker"
	"margincalc/pkg/telemetry"
)

// Client implements the remote job protocol on top of an invoker. It holds
// no per-calculation state and is safe for concurrent use.
type Client struct {
	inv          *invoker.Invoker
	logger       core.ILogger
	metrics      *telemetry.MetricsHolder
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewClient creates a calculation client bound to an invoker
func NewClient(inv *invoker.Invoker) *Client {
	return &Client{
		inv:          inv,
		logger:       inv.Logger().WithField("component", "calculation_client"),
		metrics:      telemetry.GetGlobalMetrics(),
		pollInterval: inv.PollInterval(),
		pollTimeout:  inv.PollTimeout(),
	}
}

// CreateCalculation submits a job to a venue. Success is a 202 whose
// Location header names the handle in its trailing path segment.
func (c *Client) CreateCalculation(ctx context.Context, venue string, req CalculationRequest) (Handle, error) {
	resp, err := c.inv.Do(ctx, http.MethodPost, venuePath(venue)+"/calculations", req)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusAccepted {
		return "", c.readError(resp, "create", venue)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", &CalculationError{
			Op:         "create",
			Venue:      venue,
			StatusCode: resp.StatusCode,
			Reason:     "missing_location",
			Message:    "202 response carried no Location header",
		}
	}

	handle := Handle(location[strings.LastIndex(location, "/")+1:])
	c.metrics.AddCalcSubmitted(ctx, venue)
	c.logger.Debug("Calculation created", "venue", venue, "handle", handle)
	return handle, nil
}

// GetCalculation fetches the current state of a job
func (c *Client) GetCalculation(ctx context.Context, venue string, handle Handle) (*CalculationResult, error) {
	resp, err := c.inv.Do(ctx, http.MethodGet, calculationPath(venue, handle), nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.readError(resp, "get", venue)
	}

	var result CalculationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse calculation payload: %w", err)
	}

	c.metrics.AddPoll(ctx, venue)
	return &result, nil
}

// DeleteCalculation removes a job from the server. Callers performing
// cleanup must treat a delete failure as non-fatal.
func (c *Client) DeleteCalculation(ctx context.Context, venue string, handle Handle) error {
	resp, err := c.inv.Do(ctx, http.MethodDelete, calculationPath(venue, handle), nil)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.readError(resp, "delete", venue)
	}
	c.logger.Debug("Calculation deleted", "venue", venue, "handle", handle)
	return nil
}

// ListVenues returns the venue names the service knows about
func (c *Client) ListVenues(ctx context.Context) ([]string, error) {
	resp, err := c.inv.Do(ctx, http.MethodGet, "/venues", nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.readError(resp, "list_venues", "")
	}

	var venues []string
	if err := json.NewDecoder(resp.Body).Decode(&venues); err != nil {
		return nil, fmt.Errorf("failed to parse venue list: %w", err)
	}
	return venues, nil
}

// deleteQuietly is the best-effort cleanup path. Failures are logged and
// swallowed: cleanup is not required for correctness of the primary result.
// A short background deadline is used because the calculation's own context
// is usually already cancelled or expired by the time cleanup runs.
func (c *Client) deleteQuietly(venue string, handle Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.DeleteCalculation(ctx, venue, handle); err != nil {
		c.logger.Warn("Best-effort calculation cleanup failed",
			"venue", venue,
			"handle", handle,
			"error", err)
	}
}

// readError builds a CalculationError from a non-success response
func (c *Client) readError(resp *http.Response, op, venue string) error {
	calcErr := &CalculationError{
		Op:         op,
		Venue:      venue,
		StatusCode: resp.StatusCode,
		Reason:     "server_error",
	}

	body, err := io.ReadAll(resp.Body)
	if err == nil && len(body) > 0 {
		var payload ErrorPayload
		if jsonErr := json.Unmarshal(body, &payload); jsonErr == nil && payload.Reason != "" {
			calcErr.Reason = payload.Reason
			calcErr.Message = payload.Message
		} else {
			calcErr.Message = strings.TrimSpace(string(body))
		}
	}
	return calcErr
}

func venuePath(venue string) string {
	return "/venues/" + url.PathEscape(venue)
}

func calculationPath(venue string, handle Handle) string {
	return venuePath(venue) + "/calculations/" + url.PathEscape(string(handle))
}

// drain discards and closes a response body so the connection can be reused
func drain(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
}
