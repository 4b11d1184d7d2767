// Package httpretry wraps an HTTP client with exponential backoff for
// calls to provider endpoints, such as SNS subscription confirmation.
package httpretry

import (
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/propel-crm/email-events/internal/pkg/logger"
)

// HTTPDoer is satisfied by *http.Client and *RetryClient.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient retries transient failures with exponential backoff and
// full jitter. Client errors (4xx other than 429) return immediately.
type RetryClient struct {
	client  HTTPDoer
	retries int
	base    time.Duration
	ceil    time.Duration
	log     *logger.Logger
}

// NewRetryClient wraps client; a nil client gets a 30s-timeout default.
func NewRetryClient(client HTTPDoer, retries int) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if retries <= 0 {
		retries = 3
	}
	return &RetryClient{
		client:  client,
		retries: retries,
		base:    time.Second,
		ceil:    30 * time.Second,
		log:     logger.Component("httpretry"),
	}
}

// Do executes req, retrying on network errors and on 429/5xx responses.
// The final attempt's response is returned as-is so callers can read
// the body. Context cancellation stops retrying.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= rc.retries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				req.Body = body
			}

			delay := rc.backoff(attempt)
			rc.log.Warn("retrying request",
				"attempt", attempt, "url", req.URL.Redacted(), "delay", delay.String())
			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		if !retryable(resp.StatusCode) || attempt == rc.retries {
			return resp, nil
		}

		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = &StatusError{Code: resp.StatusCode}
	}

	return nil, lastErr
}

// StatusError reports a retryable status that persisted through all
// attempts.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return "httpretry: retryable status " + http.StatusText(e.Code)
}

// backoff is base*2^(attempt-1) capped at ceil, with full jitter and a
// 100ms floor.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	d := rc.base << (attempt - 1)
	if d > rc.ceil || d <= 0 {
		d = rc.ceil
	}
	d = time.Duration(rand.Float64() * float64(d))
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
