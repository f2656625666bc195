package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"margincalc/internal/auth"
	"margincalc/pkg/logging"
)

// scriptedAuthenticator returns sequential tokens
type scriptedAuthenticator struct {
	calls int64
	err   error
}

func (s *scriptedAuthenticator) Authenticate(ctx context.Context, cred auth.Credential) (auth.AccessToken, error) {
	n := atomic.AddInt64(&s.calls, 1)
	if s.err != nil {
		return auth.AccessToken{}, s.err
	}
	return auth.AccessToken{AccessToken: fmt.Sprintf("tok-%d", n), TokenType: "Bearer"}, nil
}

func newTestStore(t *testing.T, a auth.Authenticator) *auth.TokenStore {
	t.Helper()
	store := auth.NewTokenStore(a, auth.NewCredential("k", "s"), nil)
	_, err := store.Refresh(context.Background(), auth.AccessToken{})
	require.NoError(t, err)
	return store
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func newRequest(t *testing.T, method, url string, body string) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, reader)
	require.NoError(t, err)
	return req
}

func TestChain_OrderIsOutermostFirst(t *testing.T) {
	var order []string

	stage := func(name string) Stage {
		return func(next SendFunc) SendFunc {
			return func(req *http.Request) (*http.Response, error) {
				order = append(order, name)
				return next(req)
			}
		}
	}

	base := func(req *http.Request) (*http.Response, error) {
		order = append(order, "base")
		return jsonResponse(200, ""), nil
	}

	send := Chain(base, stage("logging"), stage("useragent"), stage("auth"), stage("retry"))
	_, err := send(newRequest(t, "GET", "http://example.com/x", ""))
	require.NoError(t, err)

	assert.Equal(t, []string{"logging", "useragent", "auth", "retry", "base"}, order)
}

func TestAuthStage_AttachesBearerToken(t *testing.T) {
	store := newTestStore(t, &scriptedAuthenticator{})

	var gotAuth string
	base := func(req *http.Request) (*http.Response, error) {
		gotAuth = req.Header.Get("Authorization")
		return jsonResponse(200, "{}"), nil
	}

	send := Chain(base, AuthStage(store, logging.GetGlobalLogger()))
	resp, err := send(newRequest(t, "GET", "http://example.com/x", ""))
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "Bearer tok-1", gotAuth)
}

func TestAuthStage_RefreshesOnceOn401(t *testing.T) {
	authn := &scriptedAuthenticator{}
	store := newTestStore(t, authn)

	var sends int
	var tokens []string
	base := func(req *http.Request) (*http.Response, error) {
		sends++
		tokens = append(tokens, req.Header.Get("Authorization"))
		if sends == 1 {
			return jsonResponse(401, `{"reason":"token_expired"}`), nil
		}
		return jsonResponse(200, "{}"), nil
	}

	send := Chain(base, AuthStage(store, logging.GetGlobalLogger()))
	resp, err := send(newRequest(t, "POST", "http://example.com/x", `{"a":1}`))
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 2, sends)
	assert.Equal(t, []string{"Bearer tok-1", "Bearer tok-2"}, tokens)
	assert.Equal(t, int64(2), atomic.LoadInt64(&authn.calls))
}

func TestAuthStage_Returns401AfterSingleResend(t *testing.T) {
	store := newTestStore(t, &scriptedAuthenticator{})

	var sends int
	base := func(req *http.Request) (*http.Response, error) {
		sends++
		return jsonResponse(401, "{}"), nil
	}

	send := Chain(base, AuthStage(store, logging.GetGlobalLogger()))
	resp, err := send(newRequest(t, "GET", "http://example.com/x", ""))
	require.NoError(t, err)

	// The second 401 comes back as-is. No loop.
	assert.Equal(t, 401, resp.StatusCode)
	assert.Equal(t, 2, sends)
}

func TestAuthStage_RefreshFailurePropagates(t *testing.T) {
	authn := &scriptedAuthenticator{}
	store := newTestStore(t, authn)
	authn.err = &auth.AuthenticationError{StatusCode: 403, Reason: "forbidden", Message: "revoked"}

	base := func(req *http.Request) (*http.Response, error) {
		return jsonResponse(401, "{}"), nil
	}

	send := Chain(base, AuthStage(store, logging.GetGlobalLogger()))
	_, err := send(newRequest(t, "GET", "http://example.com/x", ""))

	var authErr *auth.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 403, authErr.StatusCode)
}

func TestRetryStage_SucceedsAfterTransientFailures(t *testing.T) {
	var sends int
	base := func(req *http.Request) (*http.Response, error) {
		sends++
		if sends < 3 {
			return nil, errors.New("connection refused")
		}
		return jsonResponse(200, "{}"), nil
	}

	send := Chain(base, RetryStage(3, false, logging.GetGlobalLogger()))
	resp, err := send(newRequest(t, "GET", "http://example.com/x", ""))
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 3, sends)
}

func TestRetryStage_ExhaustionRaisesTransportError(t *testing.T) {
	var sends int
	base := func(req *http.Request) (*http.Response, error) {
		sends++
		return nil, errors.New("connection refused")
	}

	send := Chain(base, RetryStage(2, false, logging.GetGlobalLogger()))
	_, err := send(newRequest(t, "GET", "http://example.com/calc", ""))

	var exhausted *TransportExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Equal(t, 2, sends)
	assert.Contains(t, exhausted.Error(), "http://example.com/calc")
}

func TestRetryStage_ContextErrorsPassThroughUnwrapped(t *testing.T) {
	base := func(req *http.Request) (*http.Response, error) {
		return nil, fmt.Errorf("request aborted: %w", context.Canceled)
	}

	send := Chain(base, RetryStage(3, false, logging.GetGlobalLogger()))
	_, err := send(newRequest(t, "GET", "http://example.com/calc", ""))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	var exhausted *TransportExhaustedError
	assert.False(t, errors.As(err, &exhausted),
		"a caller-aborted send is not transport exhaustion")
}

func TestRetryStage_DoesNotRetryHTTPErrorStatuses(t *testing.T) {
	var sends int
	base := func(req *http.Request) (*http.Response, error) {
		sends++
		return jsonResponse(500, "{}"), nil
	}

	send := Chain(base, RetryStage(3, false, logging.GetGlobalLogger()))
	resp, err := send(newRequest(t, "GET", "http://example.com/x", ""))
	require.NoError(t, err)

	// A delivered 500 is not a transport failure.
	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, 1, sends)
}

func TestRetryStage_SingleAttemptMeansNoRetry(t *testing.T) {
	var sends int
	base := func(req *http.Request) (*http.Response, error) {
		sends++
		return nil, errors.New("connection reset")
	}

	send := Chain(base, RetryStage(1, false, logging.GetGlobalLogger()))
	_, err := send(newRequest(t, "GET", "http://example.com/x", ""))

	var exhausted *TransportExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
	assert.Equal(t, 1, sends)
}

func TestUserAgentStage_TagsEveryAttempt(t *testing.T) {
	var agents []string
	var sends int
	base := func(req *http.Request) (*http.Response, error) {
		sends++
		agents = append(agents, req.Header.Get("User-Agent"))
		if sends == 1 {
			return nil, errors.New("connection refused")
		}
		return jsonResponse(200, "{}"), nil
	}

	// User-agent outside retry: the header set once persists on the
	// request for every physical attempt.
	send := Chain(base, UserAgentStage(), RetryStage(2, false, logging.GetGlobalLogger()))
	_, err := send(newRequest(t, "GET", "http://example.com/x", ""))
	require.NoError(t, err)

	require.Len(t, agents, 2)
	for _, ua := range agents {
		assert.Equal(t, "margincalc-go/"+Version, ua)
	}
}

func TestLoggingStage_SetsRequestID(t *testing.T) {
	var requestID string
	base := func(req *http.Request) (*http.Response, error) {
		requestID = req.Header.Get("X-Request-Id")
		return jsonResponse(200, "{}"), nil
	}

	send := Chain(base, LoggingStage(logging.GetGlobalLogger()))
	_, err := send(newRequest(t, "GET", "http://example.com/x", ""))
	require.NoError(t, err)

	assert.NotEmpty(t, requestID)
}

func TestRateLimitStage_DisabledPassesThrough(t *testing.T) {
	base := func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, "{}"), nil
	}

	send := Chain(base, RateLimitStage(0))
	resp, err := send(newRequest(t, "GET", "http://example.com/x", ""))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestRateLimitStage_HonorsContextCancellation(t *testing.T) {
	base := func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, "{}"), nil
	}

	send := Chain(base, RateLimitStage(0.001))
	req := newRequest(t, "GET", "http://example.com/x", "")

	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)

	// First request consumes the initial burst token.
	_, err := send(req.Clone(ctx))
	require.NoError(t, err)

	cancel()
	_, err = send(req)
	require.Error(t, err)
}
