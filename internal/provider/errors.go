package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuthExchangeError wraps a failed authorization-code exchange. The original
// provider error is preserved for logging but callers only branch on the type.
type OAuthExchangeError struct {
	Provider string
	Err      error
}

func (e *OAuthExchangeError) Error() string {
	return fmt.Sprintf("%s: oauth code exchange failed: %v", e.Provider, e.Err)
}

func (e *OAuthExchangeError) Unwrap() error { return e.Err }

// WebhookRegistrationError wraps a failed webhook creation call. Connection
// setup aborts without persisting anything when this is returned.
type WebhookRegistrationError struct {
	Provider string
	Err      error
}

func (e *WebhookRegistrationError) Error() string {
	return fmt.Sprintf("%s: webhook registration failed: %v", e.Provider, e.Err)
}

func (e *WebhookRegistrationError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response from a provider API. RateLimited is set
// when the provider signalled throttling, so callers can surface a distinct
// error to the user instead of a generic failure.
type HTTPError struct {
	Provider    string
	StatusCode  int
	Message     string
	RateLimited bool
}

func (e *HTTPError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("%s: rate limited (status %d)", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: API returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

// IsRateLimited reports whether err was caused by provider throttling.
func IsRateLimited(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.RateLimited
}
