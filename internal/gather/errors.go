package gather

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

var (
	// ErrInvalidInput reports malformed configuration or arguments. It is
	// never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoData reports that the upstream confirmed there is nothing for the
	// requested key. It is a valid outcome, not a failure.
	ErrNoData = errors.New("no data")

	// ErrMalformed reports an upstream payload that could not be decoded.
	ErrMalformed = errors.New("malformed response")
)

// StatusError is a non-2xx HTTP response from an upstream API.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether the status signals a transient condition.
func (e *StatusError) Retryable() bool {
	return retryableStatus(e.StatusCode)
}

// FetchError is a terminal fetch failure: the retry budget was exhausted or
// the error was not transient.
type FetchError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient is the retryable-error predicate shared by all retry policies.
// Network failures, 5xx and 429 are transient; confirmed no-data, malformed
// payloads, other 4xx and context cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoData) || errors.Is(err, ErrMalformed) || errors.Is(err, ErrInvalidInput) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var ae *alpaca.APIError
	if errors.As(err, &ae) {
		return retryableStatus(ae.StatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}
