package resilience

import "time"

// ClassifiedError attaches a Classification to a failure so dispatch
// layers can honor the retry policy without re-deriving it. It exposes
// Permanent and RetryAfter hints that the queue substrate checks
// structurally.
type ClassifiedError struct {
	Err   error
	Class Classification
}

func (e *ClassifiedError) Error() string {
	return string(e.Class.Kind) + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Permanent reports whether retrying can never succeed.
func (e *ClassifiedError) Permanent() bool {
	return !e.Class.Retryable
}

// RetryAfter is the base delay before the next attempt. Zero means the
// dispatcher's default backoff.
func (e *ClassifiedError) RetryAfter() time.Duration {
	return e.Class.RetryDelay
}

// WrapClassified classifies err and wraps it so the kind prefixes the
// message. Returns nil for nil.
func WrapClassified(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Err: err, Class: Classify(err)}
}
