package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

// ErrorKind categorizes a pipeline failure for retry policy decisions.
type ErrorKind string

const (
	KindRateLimit      ErrorKind = "RATE_LIMIT"
	KindValidation     ErrorKind = "VALIDATION_ERROR"
	KindAPI            ErrorKind = "API_ERROR"
	KindNetwork        ErrorKind = "NETWORK_ERROR"
	KindJudgeRejection ErrorKind = "JUDGE_REJECTION"
	KindUnknown        ErrorKind = "UNKNOWN"
)

// ErrJudgeRejected is the explicit judge-rejection signal. It is a
// business-logic branch, not a transport failure: callers handle it by
// enqueuing a new attempt rather than retrying the same call.
var ErrJudgeRejected = errors.New("analysis rejected by judge")

// StatusError carries an HTTP status code alongside an upstream error so
// classification can match on status rather than message text alone.
type StatusError struct {
	Err        error
	StatusCode int
}

func (e *StatusError) Error() string {
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// NewStatusError wraps an error with the HTTP status that produced it.
func NewStatusError(err error, statusCode int) *StatusError {
	return &StatusError{Err: err, StatusCode: statusCode}
}

// Classification is the retry policy derived for one failure.
type Classification struct {
	Kind       ErrorKind
	Retryable  bool
	RetryDelay time.Duration
}

// DefaultMaxAttempts bounds retries regardless of kind.
const DefaultMaxAttempts = 3

// Classify maps a failure to a kind and retry policy. Matching is a
// heuristic over status codes and message text; order matters — rate-limit
// and validation checks take precedence over the generic network check.
// Unmatched errors default to retryable so recoverable failures are not
// silently dropped, at the cost of wasted retries on permanent faults.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown, Retryable: false}
	}

	if errors.Is(err, ErrJudgeRejected) {
		return Classification{Kind: KindJudgeRejection, Retryable: true, RetryDelay: 5 * time.Second}
	}

	// An open breaker means the upstream is unhealthy, not that this
	// particular call was wrong.
	if errors.Is(err, ErrCircuitOpen) {
		return Classification{Kind: KindNetwork, Retryable: true, RetryDelay: 10 * time.Second}
	}

	status := 0
	var se *StatusError
	if errors.As(err, &se) {
		status = se.StatusCode
	}
	msg := strings.ToLower(err.Error())

	switch {
	case status == 429, strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return Classification{Kind: KindRateLimit, Retryable: true, RetryDelay: 60 * time.Second}
	case status == 400, strings.Contains(msg, "invalid"):
		return Classification{Kind: KindValidation, Retryable: false}
	case status == 401, status == 403, strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"):
		return Classification{Kind: KindAPI, Retryable: false}
	case isNetworkError(err, msg):
		return Classification{Kind: KindNetwork, Retryable: true, RetryDelay: 10 * time.Second}
	}

	return Classification{Kind: KindUnknown, Retryable: true, RetryDelay: 5 * time.Second}
}

// CalculateDelay computes the backoff for a given attempt as
// base * 2^(attempt-1). Attempt numbers start at 1.
func CalculateDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << uint(attempt-1)
}

// AllowRetry reports whether another attempt is admitted: the kind must be
// retryable and the attempt count must be below maxAttempts. A zero
// maxAttempts means DefaultMaxAttempts.
func AllowRetry(c Classification, attempt, maxAttempts int) bool {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return c.Retryable && attempt < maxAttempts
}

func isNetworkError(err error, msg string) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	for _, p := range []string{
		"timeout",
		"timed out",
		"connection refused",
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"i/o timeout",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
