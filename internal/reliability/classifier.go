package reliability

import "time"

// Class buckets a transport failure for retry decisions.
type Class string

const (
	ClassRetryable Class = "retryable"
	ClassAuth      Class = "auth"
	ClassQuota     Class = "quota"
	ClassFatal     Class = "fatal"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes. Quota
// exhaustion (429) is deliberately not retryable here: hammering a
// rate-limited API from a polling companion only extends the lockout.
func IsRetryableHTTPStatus(code int) bool {
	return ClassifyHTTPStatus(code) == ClassRetryable
}

// ClassifyHTTPStatus maps an HTTP status to a failure class. Authorization
// and quota failures are surfaced immediately; only retryable classes are
// ever retried.
func ClassifyHTTPStatus(code int) Class {
	switch code {
	case 401, 403:
		return ClassAuth
	case 402, 429:
		return ClassQuota
	case 500, 502, 503, 504:
		return ClassRetryable
	default:
		return ClassFatal
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
