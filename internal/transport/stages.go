package transport

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"margincalc/internal/auth"
	"margincalc/internal/core"
	"margincalc/pkg/telemetry"
)

// Version is the client version advertised in the User-Agent header
const Version = "0.3.0"

// LoggingStage observes every logical request: it tags the request with an
// ID, opens a span, and records counters and latency. It is the outermost
// stage so both outcomes of the auth resend appear as one logical call;
// per-attempt detail is logged by the retry stage.
func LoggingStage(logger core.ILogger) Stage {
	tracer := telemetry.GetTracer("margincalc-transport")
	meter := telemetry.GetMeter("margincalc-transport")

	reqCounter, _ := meter.Int64Counter(telemetry.MetricRequestsTotal,
		metric.WithDescription("Total number of HTTP requests"))
	errCounter, _ := meter.Int64Counter(telemetry.MetricRequestErrorsTotal,
		metric.WithDescription("Total number of HTTP errors"))
	latencyHist, _ := meter.Float64Histogram(telemetry.MetricRequestLatency,
		metric.WithDescription("HTTP request latency in seconds"))

	return func(next SendFunc) SendFunc {
		return func(req *http.Request) (*http.Response, error) {
			start := time.Now()
			requestID := uuid.New().String()
			req.Header.Set("X-Request-Id", requestID)

			ctx, span := tracer.Start(req.Context(), fmt.Sprintf("%s %s", req.Method, req.URL.Path),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.url", req.URL.String()),
				),
			)
			defer span.End()
			req = req.WithContext(ctx)

			logger.Debug("Sending request",
				"request_id", requestID,
				"method", req.Method,
				"path", req.URL.Path)

			resp, err := next(req)

			duration := time.Since(start).Seconds()
			attrs := metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.String("path", req.URL.Path),
			)
			reqCounter.Add(ctx, 1, attrs)
			latencyHist.Record(ctx, duration, attrs)

			if err != nil {
				span.RecordError(err)
				errCounter.Add(ctx, 1, attrs)
				logger.Warn("Request failed",
					"request_id", requestID,
					"method", req.Method,
					"path", req.URL.Path,
					"error", err)
				return nil, err
			}

			span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
			logger.Debug("Request completed",
				"request_id", requestID,
				"status", resp.StatusCode,
				"duration_ms", time.Since(start).Milliseconds())
			return resp, nil
		}
	}
}

// UserAgentStage tags every request, including retried attempts, with the
// client identity.
func UserAgentStage() Stage {
	ua := "margincalc-go/" + Version
	return func(next SendFunc) SendFunc {
		return func(req *http.Request) (*http.Response, error) {
			req.Header.Set("User-Agent", ua)
			return next(req)
		}
	}
}

// RateLimitStage gates request admission with a client-side token bucket.
// A limit <= 0 disables the stage.
func RateLimitStage(requestsPerSecond float64) Stage {
	if requestsPerSecond <= 0 {
		return func(next SendFunc) SendFunc { return next }
	}
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	return func(next SendFunc) SendFunc {
		return func(req *http.Request) (*http.Response, error) {
			if err := limiter.Wait(req.Context()); err != nil {
				return nil, err
			}
			return next(req)
		}
	}
}

// AuthStage attaches the current bearer token and handles exactly one
// reactive refresh-and-resend on a 401. The second response is returned
// unconditionally so a persistently bad credential cannot loop.
func AuthStage(store *auth.TokenStore, logger core.ILogger) Stage {
	return func(next SendFunc) SendFunc {
		return func(req *http.Request) (*http.Response, error) {
			token, ok := store.Current()
			if !ok {
				refreshed, err := store.Refresh(req.Context(), auth.AccessToken{})
				if err != nil {
					return nil, err
				}
				token = refreshed
			}
			setAuthorization(req, token)

			resp, err := next(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode != http.StatusUnauthorized {
				// Success or a domain-level error. Not an auth concern.
				return resp, nil
			}

			drain(resp)
			logger.Debug("Received 401, refreshing token", "path", req.URL.Path)

			refreshed, err := store.Refresh(req.Context(), token)
			if err != nil {
				return nil, err
			}
			if err := rewindBody(req); err != nil {
				return nil, fmt.Errorf("failed to rewind request body for resend: %w", err)
			}
			setAuthorization(req, refreshed)
			return next(req)
		}
	}
}

func setAuthorization(req *http.Request, token auth.AccessToken) {
	req.Header.Set("Authorization", token.Scheme()+" "+token.AccessToken)
}

// drain discards and closes a response body so the connection can be reused
func drain(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
}
