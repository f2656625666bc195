// Package invoker provides the long-lived, shareable handle for all remote
// calls. An invoker owns the transport pipeline, the base URL and a
// background scheduler; higher-level clients are built on top of it.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"margincalc/internal/auth"
	"margincalc/internal/config"
	"margincalc/internal/core"
	"margincalc/internal/transport"
	"margincalc/pkg/concurrency"
	apperrors "margincalc/pkg/errors"
	"margincalc/pkg/logging"
)

// DefaultBaseURL is the production endpoint used when no override is given
const DefaultBaseURL = config.DefaultBaseURL

// Builder assembles an Invoker. Construction performs a blocking initial
// authentication, so a bad credential fails at Build, not lazily.
type Builder struct {
	credential     auth.Credential
	baseURL        string
	tokenURL       string
	httpClient     *http.Client
	attempts       int
	rateLimit      float64
	circuitBreaker bool
	scheduler      core.IScheduler
	logger         core.ILogger
	pollInterval   time.Duration
	pollTimeout    time.Duration
}

// NewBuilder starts a builder for the given credential
func NewBuilder(cred auth.Credential) *Builder {
	return &Builder{
		credential:   cred,
		baseURL:      DefaultBaseURL,
		attempts:     config.DefaultMaxAttempts,
		pollInterval: time.Duration(config.DefaultPollIntervalMs) * time.Millisecond,
		pollTimeout:  time.Duration(config.DefaultPollTimeoutMins) * time.Minute,
	}
}

// NewBuilderFromConfig starts a builder pre-populated from a loaded config
func NewBuilderFromConfig(cfg *config.Config) *Builder {
	b := NewBuilder(auth.Credential{APIKey: cfg.Auth.APIKey, APISecret: cfg.Auth.APISecret})
	b.baseURL = cfg.Service.BaseURL
	b.tokenURL = cfg.Service.TokenURL
	b.httpClient = &http.Client{Timeout: cfg.HTTPTimeout()}
	b.attempts = cfg.HTTP.MaxAttempts
	b.rateLimit = cfg.HTTP.RateLimit
	b.circuitBreaker = cfg.HTTP.CircuitBreaker
	b.pollInterval = cfg.PollInterval()
	b.pollTimeout = cfg.PollTimeout()
	return b
}

// WithBaseURL overrides the production endpoint
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.baseURL = strings.TrimRight(baseURL, "/")
	return b
}

// WithTokenURL overrides the auth token endpoint
func (b *Builder) WithTokenURL(tokenURL string) *Builder {
	b.tokenURL = tokenURL
	return b
}

// WithHTTPClient supplies a custom transport. The invoker never takes
// ownership of a caller-supplied client.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithRetries sets total send attempts per request; 1 means no retry
func (b *Builder) WithRetries(attempts int) *Builder {
	b.attempts = attempts
	return b
}

// WithRateLimit sets the client-side requests-per-second gate; <= 0 disables
func (b *Builder) WithRateLimit(requestsPerSecond float64) *Builder {
	b.rateLimit = requestsPerSecond
	return b
}

// WithCircuitBreaker enables the opt-in breaker on connection-level failures
func (b *Builder) WithCircuitBreaker(enabled bool) *Builder {
	b.circuitBreaker = enabled
	return b
}

// WithScheduler supplies a caller-owned scheduler. Close will not stop it.
func (b *Builder) WithScheduler(s core.IScheduler) *Builder {
	b.scheduler = s
	return b
}

// WithLogger supplies the logger used by the pipeline and clients
func (b *Builder) WithLogger(logger core.ILogger) *Builder {
	b.logger = logger
	return b
}

// WithPollInterval sets the delay between calculation status polls
func (b *Builder) WithPollInterval(d time.Duration) *Builder {
	b.pollInterval = d
	return b
}

// WithPollTimeout sets the bound on asynchronous polling
func (b *Builder) WithPollTimeout(d time.Duration) *Builder {
	b.pollTimeout = d
	return b
}

// Build authenticates and assembles the invoker. The returned invoker is
// safe for concurrent use and must be closed by its owner.
func (b *Builder) Build(ctx context.Context) (*Invoker, error) {
	logger := b.logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.WithField("component", "invoker")

	httpClient := b.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(config.DefaultTimeoutSeconds) * time.Second}
	}

	tokenURL := b.tokenURL
	if tokenURL == "" {
		tokenURL = strings.TrimRight(b.baseURL, "/") + "/auth/token"
	}

	// Auth requests bypass the pipeline: the authenticator owns a bare
	// client with the same timeout.
	authClient := &http.Client{Timeout: httpClient.Timeout}
	authenticator := auth.NewHTTPAuthenticator(tokenURL, authClient, logger)
	tokens := auth.NewTokenStore(authenticator, b.credential, logger)

	// Blocking initial authentication. An invalid credential fails the
	// build immediately.
	if _, err := tokens.Refresh(ctx, auth.AccessToken{}); err != nil {
		return nil, fmt.Errorf("invoker construction failed: %w", err)
	}

	scheduler := b.scheduler
	ownsScheduler := false
	if scheduler == nil {
		scheduler = concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "invoker"}, logger)
		ownsScheduler = true
	}

	base := func(req *http.Request) (*http.Response, error) {
		return httpClient.Do(req)
	}
	send := transport.Chain(base,
		transport.LoggingStage(logger),
		transport.UserAgentStage(),
		transport.RateLimitStage(b.rateLimit),
		transport.AuthStage(tokens, logger),
		transport.RetryStage(b.attempts, b.circuitBreaker, logger),
	)

	return &Invoker{
		baseURL:       strings.TrimRight(b.baseURL, "/"),
		send:          send,
		tokens:        tokens,
		scheduler:     scheduler,
		ownsScheduler: ownsScheduler,
		logger:        logger,
		pollInterval:  b.pollInterval,
		pollTimeout:   b.pollTimeout,
	}, nil
}

// Invoker is the single object callers hold and pass to higher-level
// clients. It is safe for concurrent use.
type Invoker struct {
	baseURL       string
	send          transport.SendFunc
	tokens        *auth.TokenStore
	scheduler     core.IScheduler
	ownsScheduler bool
	logger        core.ILogger
	pollInterval  time.Duration
	pollTimeout   time.Duration
	closed        atomic.Bool
}

// Do sends one request through the pipeline. A JSON body is marshaled from
// the given value; nil means no body. The caller owns the response body.
func (inv *Invoker) Do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	if inv.closed.Load() {
		return nil, apperrors.ErrInvokerClosed
	}

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	url := inv.baseURL + path
	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, url, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return inv.send(req)
}

// BaseURL returns the endpoint this invoker talks to
func (inv *Invoker) BaseURL() string {
	return inv.baseURL
}

// Scheduler returns the background scheduler used for polling and fan-out
func (inv *Invoker) Scheduler() core.IScheduler {
	return inv.scheduler
}

// Logger returns the invoker's logger
func (inv *Invoker) Logger() core.ILogger {
	return inv.logger
}

// PollInterval returns the delay between calculation status polls
func (inv *Invoker) PollInterval() time.Duration {
	return inv.pollInterval
}

// PollTimeout returns the bound on asynchronous polling
func (inv *Invoker) PollTimeout() time.Duration {
	return inv.pollTimeout
}

// Tokens exposes the token store for inspection in tests and diagnostics
func (inv *Invoker) Tokens() *auth.TokenStore {
	return inv.tokens
}

// Close shuts down the scheduler the invoker owns. Caller-supplied
// schedulers and transports are left untouched. Using the invoker after
// Close fails fast with ErrInvokerClosed.
func (inv *Invoker) Close() error {
	if !inv.closed.CompareAndSwap(false, true) {
		return nil
	}
	if inv.ownsScheduler {
		inv.scheduler.Stop()
	}
	inv.logger.Debug("Invoker closed")
	return nil
}
