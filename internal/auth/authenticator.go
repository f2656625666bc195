package auth

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
	"margincalc/pkg/logging"
)

// Authenticator exchanges a credential for an access token
type Authenticator interface {
	Authenticate(ctx context.Context, cred Credential) (AccessToken, error)
}

// HTTPAuthenticator authenticates against the token endpoint over HTTP.
// It deliberately owns a bare http.Client: auth requests must not pass
// through the transport pipeline they feed.
type HTTPAuthenticator struct {
	tokenURL string
	client   *http.Client
	logger   core.ILogger
}

// NewHTTPAuthenticator creates an authenticator for the given token endpoint
func NewHTTPAuthenticator(tokenURL string, client *http.Client, logger core.ILogger) *HTTPAuthenticator {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &HTTPAuthenticator{
		tokenURL: tokenURL,
		client:   client,
		logger:   logger.WithField("component", "authenticator"),
	}
}

// errorResponse is the server-side error payload shape
type errorResponse struct {
	HTTPStatus int    `json:"httpStatus"`
	Reason     string `json:"reason"`
	Message    string `json:"message"`
}

// Authenticate posts the credential as a client_credentials form grant.
// 401/403 mean the credential was rejected; any other non-2xx status is an
// auth backend error. Both surface as *AuthenticationError.
func (a *HTTPAuthenticator) Authenticate(ctx context.Context, cred Credential) (AccessToken, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", cred.APIKey)
	form.Set("client_secret", cred.APISecret.Reveal())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return AccessToken{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return AccessToken{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return AccessToken{}, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		authErr := &AuthenticationError{
			StatusCode: resp.StatusCode,
			Reason:     defaultReason(resp.StatusCode),
			Message:    strings.TrimSpace(string(body)),
		}
		var errResp errorResponse
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Reason != "" {
			authErr.Reason = errResp.Reason
			authErr.Message = errResp.Message
		}
		a.logger.Warn("Authentication rejected", "status", resp.StatusCode, "reason", authErr.Reason)
		return AccessToken{}, authErr
	}

	var token AccessToken
	if err := json.Unmarshal(body, &token); err != nil {
		return AccessToken{}, fmt.Errorf("failed to parse token payload: %w", err)
	}
	if token.AccessToken == "" {
		return AccessToken{}, &AuthenticationError{
			StatusCode: resp.StatusCode,
			Reason:     "empty_token",
			Message:    "auth backend returned a success status without an access token",
		}
	}

	a.logger.Debug("Authenticated", "token_type", token.Scheme(), "expires_in", token.ExpiresIn)
	return token, nil
}

func defaultReason(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "invalid_credentials"
	case http.StatusForbidden:
		return "forbidden"
	default:
		return "auth_backend_error"
	}
}
