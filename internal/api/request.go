package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rickgao/livefeed/internal/metrics"
)

// maxBackoff caps the delay between retries of one request.
const maxBackoff = 30 * time.Second

// APIError is a non-2xx response from the feed API. Message comes from the
// JSON error envelope when the body has one.
type APIError struct {
	StatusCode int
	Path       string
	Message    string
	RetryAfter time.Duration // From the Retry-After header, zero if absent
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feed api error %d on %s: %s", e.StatusCode, e.Path, e.Message)
}

// IsRetryable reports whether the request may succeed if repeated.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// errorEnvelope is the body the feed API sends with 4xx and 5xx responses.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newAPIError(resp *http.Response, path string, body []byte) *APIError {
	e := &APIError{
		StatusCode: resp.StatusCode,
		Path:       path,
		Message:    http.StatusText(resp.StatusCode),
		Body:       body,
	}

	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		e.Message = env.Error.Message
		if env.Error.Code != "" {
			e.Message = env.Error.Code + ": " + env.Error.Message
		}
	}

	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}

// doRequest performs one signed request and returns the body of a 2xx
// response.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.creds != nil {
		if err := c.creds.Apply(req); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, newAPIError(resp, path, body)
	}
	return body, nil
}

// doWithRetry repeats retryable failures with jittered exponential backoff.
// A Retry-After hint from the server replaces the computed delay.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
			var apiErr *APIError
			if errors.As(lastErr, &apiErr) && apiErr.RetryAfter > 0 {
				wait = apiErr.RetryAfter
			}
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", wait,
				"path", path,
				"err", lastErr,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}

			backoff = min(backoff*2, maxBackoff)
		}

		body, err := c.doRequest(ctx, method, path, query)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
		if attempt < c.maxRetries {
			metrics.APIRetries.WithLabelValues(strconv.Itoa(apiErr.StatusCode)).Inc()
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// get performs a GET with retries and decodes the JSON body into result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doWithRetry(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", path, err)
	}
	return nil
}
