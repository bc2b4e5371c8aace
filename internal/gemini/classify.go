package gemini

import "fmt"

// FailureKind classifies a failed generation attempt. Retryable kinds may be
// retried by the caller; terminal kinds never should be.
type FailureKind string

const (
	KindOverloaded   FailureKind = "overloaded"   // HTTP 503
	KindRateLimited  FailureKind = "rate_limited" // HTTP 429
	KindTimeout      FailureKind = "timeout"      // attempt deadline exceeded
	KindBadRequest   FailureKind = "bad_request"  // HTTP 400
	KindUnauthorized FailureKind = "unauthorized" // HTTP 401
	KindUnknown      FailureKind = "unknown"      // anything else
)

// Retryable reports whether another attempt could plausibly succeed.
func (k FailureKind) Retryable() bool {
	switch k {
	case KindOverloaded, KindRateLimited, KindTimeout:
		return true
	}
	return false
}

// Classify maps a remote HTTP status code to a FailureKind. Pure function so
// the classification table is testable without a network stack.
func Classify(status int) FailureKind {
	switch status {
	case 503:
		return KindOverloaded
	case 429:
		return KindRateLimited
	case 400:
		return KindBadRequest
	case 401:
		return KindUnauthorized
	default:
		return KindUnknown
	}
}

// StatusError is a classified generation failure. Message carries the remote
// error text when the response body included one.
type StatusError struct {
	Kind    FailureKind
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("generation failed (%s): %s", e.Kind, e.Message)
	}
	if e.Status != 0 {
		return fmt.Sprintf("generation failed (%s): HTTP %d", e.Kind, e.Status)
	}
	return fmt.Sprintf("generation failed (%s)", e.Kind)
}

// Retryable reports whether the failure is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.Kind.Retryable()
}
