package embedding

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// MaxRetries bounds attempts against a local embedding server.
const MaxRetries = 3

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Err        error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %v", e.StatusCode, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter, doubling
// from base and capped at 30 base units.
func Backoff(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := time.Duration(1<<uint(attempt)) * base
	if limit := 30 * base; d > limit {
		d = limit
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2 + 1))
	return d + jitter
}

// classify maps a client error to retryable, encoding, or plain failures.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return &RetryableError{StatusCode: status, Err: err}
	case status >= 400:
		return fmt.Errorf("%w: server rejected input (status %d): %v", ErrEncoding, status, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &RetryableError{Err: err}
	}
	return err
}
