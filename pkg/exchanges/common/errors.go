package common

import (
	"errors"
	"fmt"
)

// The connector's error taxonomy. Adapters translate venue codes into these
// so callers never branch on venue-specific values.
var (
	// ErrConnection marks a transient network fault; it is retried inside
	// the adapter and only surfaces once the retry budget is exhausted.
	ErrConnection = errors.New("exchange: connection error")
	// ErrAuth marks an authentication or signing failure. Fatal for the
	// session: never retried, surfaced for credential remediation.
	ErrAuth = errors.New("exchange: authentication failed")
	// ErrRateLimited marks a venue rate-limit response.
	ErrRateLimited = errors.New("exchange: rate limited")
	// ErrTimeout is surfaced when a call could not acquire rate-limit budget
	// or complete before its deadline.
	ErrTimeout = errors.New("exchange: timed out")
)

// RejectionError carries a venue order rejection verbatim. Rejections are
// never retried automatically: order semantics are not idempotent to blind
// retry.
type RejectionError struct {
	Code   int
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order rejected (code %d): %s", e.Code, e.Reason)
}

// ValidationError reports a request that violates symbol constraints. It is
// produced locally, before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// IsRejection reports whether err is a venue rejection.
func IsRejection(err error) bool {
	var r *RejectionError
	return errors.As(err, &r)
}

// IsValidation reports whether err is a local validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
