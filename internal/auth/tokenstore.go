package auth

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"margincalc/internal/core"
	"margincalc/pkg/logging"
	"margincalc/pkg/telemetry"
)

// TokenStore holds the current access token for one invoker and serializes
// refreshes. Refresh is reactive: it runs when a request comes back 401,
// never on expiry-time inspection. One store instance exists per invoker.
type TokenStore struct {
	authenticator Authenticator
	credential    Credential
	logger        core.ILogger

	mu    sync.RWMutex
	token AccessToken
	has   bool

	group singleflight.Group
}

// NewTokenStore creates a token store bound to one credential
func NewTokenStore(authenticator Authenticator, cred Credential, logger core.ILogger) *TokenStore {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &TokenStore{
		authenticator: authenticator,
		credential:    cred,
		logger:        logger.WithField("component", "token_store"),
	}
}

// Current returns a non-blocking snapshot of the last known token.
// The second return is false only before the first authentication.
func (s *TokenStore) Current() (AccessToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.has
}

// Refresh obtains a valid token, performing at most one network
// authentication across all concurrent callers. A caller whose stale token
// has already been replaced receives the stored token without a network
// call; callers joining an in-flight refresh share its result or failure.
func (s *TokenStore) Refresh(ctx context.Context, stale AccessToken) (AccessToken, error) {
	// Fast path: someone else already refreshed past the stale token.
	if cur, ok := s.Current(); ok && cur.AccessToken != stale.AccessToken {
		return cur, nil
	}

	v, err, _ := s.group.Do("refresh", func() (interface{}, error) {
		// Re-check under the flight: a refresh that completed between the
		// fast path and joining the flight already did the work.
		if cur, ok := s.Current(); ok && cur.AccessToken != stale.AccessToken {
			return cur, nil
		}

		token, err := s.authenticator.Authenticate(ctx, s.credential)
		if err != nil {
			s.logger.Error("Token refresh failed", "error", err)
			return nil, err
		}

		s.mu.Lock()
		s.token = token
		s.has = true
		s.mu.Unlock()

		telemetry.GetGlobalMetrics().AddTokenRefresh(ctx)
		s.logger.Debug("Token refreshed", "token_type", token.Scheme())
		return token, nil
	})
	if err != nil {
		return AccessToken{}, err
	}
	return v.(AccessToken), nil
}
