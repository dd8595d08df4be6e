package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 512

// apiRequest performs one provider API call and decodes a 2xx JSON response
// into out (out may be nil for callers that only need the response metadata).
// Non-2xx responses are converted to *HTTPError with rate-limit
// classification, so nothing above this layer sees a raw provider response.
func apiRequest(ctx context.Context, client *http.Client, providerName, method, url string, headers map[string]string, body io.Reader, out interface{}) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", providerName, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", providerName, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", providerName, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyStatus(providerName, resp, data)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("%s: decoding response: %w", providerName, err)
		}
	}
	return resp, nil
}

// rawRequest is apiRequest without JSON decoding, for file content fetches.
func rawRequest(ctx context.Context, client *http.Client, providerName, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", providerName, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", providerName, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", providerName, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(providerName, resp, data)
	}
	return data, nil
}

func classifyStatus(providerName string, resp *http.Response, body []byte) *HTTPError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}

	rateLimited := resp.StatusCode == http.StatusTooManyRequests
	// GitHub reports rate exhaustion as 403 with the remaining quota header.
	if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
		rateLimited = true
	}

	return &HTTPError{
		Provider:    providerName,
		StatusCode:  resp.StatusCode,
		Message:     msg,
		RateLimited: rateLimited,
	}
}
