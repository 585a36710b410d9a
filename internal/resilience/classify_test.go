package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"
)

func TestClassify_RateLimit(t *testing.T) {
	for _, err := range []error{
		NewStatusError(errors.New("overloaded"), 429),
		errors.New("rate limit exceeded, slow down"),
	} {
		c := Classify(err)
		if c.Kind != KindRateLimit {
			t.Errorf("expected RATE_LIMIT for %v, got %s", err, c.Kind)
		}
		if !c.Retryable || c.RetryDelay != 60*time.Second {
			t.Errorf("expected retryable with 60s delay, got %+v", c)
		}
	}
}

func TestClassify_Validation(t *testing.T) {
	for _, err := range []error{
		NewStatusError(errors.New("bad request"), 400),
		errors.New("invalid ticker symbol"),
	} {
		c := Classify(err)
		if c.Kind != KindValidation {
			t.Errorf("expected VALIDATION_ERROR for %v, got %s", err, c.Kind)
		}
		if c.Retryable {
			t.Error("validation errors must not be retryable")
		}
	}
}

func TestClassify_API(t *testing.T) {
	for _, err := range []error{
		NewStatusError(errors.New("nope"), 401),
		NewStatusError(errors.New("nope"), 403),
		errors.New("unauthorized: check API key"),
	} {
		c := Classify(err)
		if c.Kind != KindAPI {
			t.Errorf("expected API_ERROR for %v, got %s", err, c.Kind)
		}
		if c.Retryable {
			t.Error("API errors must not be retryable")
		}
	}
}

func TestClassify_Network(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED),
		&net.DNSError{IsTimeout: true, Err: "lookup timeout"},
		errors.New("read tcp: i/o timeout"),
		errors.New("no such host"),
	} {
		c := Classify(err)
		if c.Kind != KindNetwork {
			t.Errorf("expected NETWORK_ERROR for %v, got %s", err, c.Kind)
		}
		if !c.Retryable || c.RetryDelay != 10*time.Second {
			t.Errorf("expected retryable with 10s delay, got %+v", c)
		}
	}
}

func TestClassify_RateLimitBeatsNetwork(t *testing.T) {
	// A message matching both patterns must classify as rate limit.
	c := Classify(errors.New("rate limit: request timed out"))
	if c.Kind != KindRateLimit {
		t.Errorf("expected RATE_LIMIT precedence, got %s", c.Kind)
	}
}

func TestClassify_JudgeRejection(t *testing.T) {
	err := fmt.Errorf("attempt 2: %w", ErrJudgeRejected)
	c := Classify(err)
	if c.Kind != KindJudgeRejection {
		t.Fatalf("expected JUDGE_REJECTION, got %s", c.Kind)
	}
	if !c.Retryable || c.RetryDelay != 5*time.Second {
		t.Errorf("expected retryable with 5s delay, got %+v", c)
	}
}

func TestClassify_Unknown(t *testing.T) {
	c := Classify(errors.New("something strange happened"))
	if c.Kind != KindUnknown {
		t.Fatalf("expected UNKNOWN, got %s", c.Kind)
	}
	if !c.Retryable || c.RetryDelay != 5*time.Second {
		t.Errorf("unknown errors default to retryable with 5s delay, got %+v", c)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	err := errors.New("connection reset by peer")
	first := Classify(err)
	for i := 0; i < 10; i++ {
		if got := Classify(err); got != first {
			t.Fatalf("classification changed between calls: %+v vs %+v", first, got)
		}
	}
}

func TestCalculateDelay(t *testing.T) {
	base := 5000 * time.Millisecond
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5000 * time.Millisecond},
		{2, 10000 * time.Millisecond},
		{3, 20000 * time.Millisecond},
	}
	for _, c := range cases {
		if got := CalculateDelay(base, c.attempt); got != c.want {
			t.Errorf("CalculateDelay(5s, %d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestAllowRetry(t *testing.T) {
	retryable := Classification{Kind: KindNetwork, Retryable: true}
	if !AllowRetry(retryable, 1, 3) || !AllowRetry(retryable, 2, 3) {
		t.Error("attempts below the ceiling should be admitted")
	}
	if AllowRetry(retryable, 3, 3) {
		t.Error("attempt at the ceiling must be denied")
	}
	if AllowRetry(Classification{Kind: KindValidation}, 1, 3) {
		t.Error("non-retryable kinds must never be admitted")
	}
	// Zero maxAttempts falls back to the default ceiling.
	if AllowRetry(retryable, DefaultMaxAttempts, 0) {
		t.Error("default ceiling should deny at DefaultMaxAttempts")
	}
}
