package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingAuthenticator counts Authenticate calls and can be made slow or failing
type countingAuthenticator struct {
	calls int64
	delay time.Duration
	err   error
}

func (c *countingAuthenticator) Authenticate(ctx context.Context, cred Credential) (AccessToken, error) {
	n := atomic.AddInt64(&c.calls, 1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return AccessToken{}, c.err
	}
	return AccessToken{AccessToken: fmt.Sprintf("tok-%d", n), TokenType: "Bearer"}, nil
}

func TestTokenStore_CurrentAbsentBeforeFirstAuth(t *testing.T) {
	store := NewTokenStore(&countingAuthenticator{}, NewCredential("k", "s"), nil)

	_, ok := store.Current()
	assert.False(t, ok)
}

func TestTokenStore_RefreshStoresToken(t *testing.T) {
	store := NewTokenStore(&countingAuthenticator{}, NewCredential("k", "s"), nil)

	token, err := store.Refresh(context.Background(), AccessToken{})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token.AccessToken)

	cur, ok := store.Current()
	assert.True(t, ok)
	assert.Equal(t, token, cur)
}

func TestTokenStore_ConcurrentRefreshAuthenticatesOnce(t *testing.T) {
	auth := &countingAuthenticator{delay: 50 * time.Millisecond}
	store := NewTokenStore(auth, NewCredential("k", "s"), nil)

	// Seed an initial token, then simulate N goroutines all hitting 401
	// while holding the same stale token.
	stale, err := store.Refresh(context.Background(), AccessToken{})
	require.NoError(t, err)
	require.Equal(t, int64(1), atomic.LoadInt64(&auth.calls))

	const n = 25
	tokens := make([]AccessToken, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = store.Refresh(context.Background(), stale)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}

	// Exactly one additional authentication call, and every waiter got the
	// same refreshed token.
	assert.Equal(t, int64(2), atomic.LoadInt64(&auth.calls))
	for i := 1; i < n; i++ {
		assert.Equal(t, tokens[0], tokens[i])
	}
	assert.NotEqual(t, stale.AccessToken, tokens[0].AccessToken)
}

func TestTokenStore_StaleCallerSkipsNetworkCall(t *testing.T) {
	auth := &countingAuthenticator{}
	store := NewTokenStore(auth, NewCredential("k", "s"), nil)

	first, err := store.Refresh(context.Background(), AccessToken{})
	require.NoError(t, err)

	second, err := store.Refresh(context.Background(), first)
	require.NoError(t, err)
	require.Equal(t, int64(2), atomic.LoadInt64(&auth.calls))

	// A caller still holding the original token gets the refreshed one
	// without another authentication round-trip.
	tok, err := store.Refresh(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, second, tok)
	assert.Equal(t, int64(2), atomic.LoadInt64(&auth.calls))
}

func TestTokenStore_FailurePropagatesToAllWaiters(t *testing.T) {
	authErr := &AuthenticationError{StatusCode: 401, Reason: "invalid_credentials", Message: "nope"}
	auth := &countingAuthenticator{delay: 50 * time.Millisecond, err: authErr}
	store := NewTokenStore(auth, NewCredential("k", "s"), nil)

	const n = 10
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Refresh(context.Background(), AccessToken{})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.Error(t, errs[i])
		var ae *AuthenticationError
		assert.True(t, errors.As(errs[i], &ae))
	}

	// The failing flight was shared; far fewer calls than waiters.
	assert.Less(t, atomic.LoadInt64(&auth.calls), int64(n))

	_, ok := store.Current()
	assert.False(t, ok, "failed refresh must not store a token")
}
