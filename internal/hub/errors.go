package hub

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned when the outbound limiter denies the call
// before any networking happens. Callers should back off and retry in
// a later window.
var ErrRateLimited = errors.New("hub rate limit exceeded")

// ErrCircuitOpen is returned when the endpoint's breaker is refusing
// calls. Callers should not retry immediately.
var ErrCircuitOpen = errors.New("hub circuit open")

// BusinessError means the Hub rejected the request for a domain reason
// (citizen already registered, bad parameters). Never retried.
type BusinessError struct {
	StatusCode int
	Message    string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("hub rejected request (%d): %s", e.StatusCode, e.Message)
}

// TransientError covers timeouts, connection failures and 5xx
// responses. The client retries these internally; one escaping to a
// caller means the retry budget was exhausted.
type TransientError struct {
	StatusCode int
	Message    string
	cause      error
}

func (e *TransientError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("hub call failed: %v", e.cause)
	}
	return fmt.Sprintf("hub call failed (%d): %s", e.StatusCode, e.Message)
}

func (e *TransientError) Unwrap() error { return e.cause }

// IsBusiness reports whether err is a Hub domain rejection.
func IsBusiness(err error) bool {
	var be *BusinessError
	return errors.As(err, &be)
}

// IsTransient reports whether err is a retryable Hub failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
