package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassifyLLMError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want RetryClass
	}{
		{"nil", nil, RetryClassNonRetryable},
		{"rate limit", errors.New("429 too many requests"), RetryClassRetryable},
		{"server error", errors.New("503 service unavailable"), RetryClassRetryable},
		{"network", errors.New("connection refused"), RetryClassRetryable},
		{"deadline", errors.New("context deadline exceeded"), RetryClassMaybe},
		{"context length", errors.New("maximum context length exceeded"), RetryClassMaybe},
		{"auth", errors.New("401 unauthorized"), RetryClassNonRetryable},
		{"bad request", errors.New("400 bad request"), RetryClassNonRetryable},
		{"unknown", errors.New("something odd"), RetryClassNonRetryable},
		{"wrapped provider error", &ProviderError{Err: errors.New("x"), Class: RetryClassRetryable}, RetryClassRetryable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyLLMError(tc.err); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestClassifyToolError(t *testing.T) {
	if got := ClassifyToolError(errors.New("timeout"), false); got != RetryClassNonRetryable {
		t.Errorf("non-retryable tool must never retry, got %s", got)
	}
	if got := ClassifyToolError(errors.New("timeout"), true); got != RetryClassRetryable {
		t.Errorf("transient error on retryable tool should retry, got %s", got)
	}
	if got := ClassifyToolError(errors.New("validation failed for tool x"), true); got != RetryClassNonRetryable {
		t.Errorf("validation failures are deterministic, got %s", got)
	}
}

func fastPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryWithPolicySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	result, err := RetryWithPolicy(
		context.Background(),
		fastPolicy(3),
		func(context.Context) (string, error) {
			attempts++
			if attempts < 3 {
				return "", errors.New("503 service unavailable")
			}
			return "ok", nil
		},
		ClassifyLLMError,
		nil,
	)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result != "ok" || attempts != 3 {
		t.Errorf("result=%q attempts=%d", result, attempts)
	}
}

func TestRetryWithPolicyNonRetryableFailsFast(t *testing.T) {
	attempts := 0
	_, err := RetryWithPolicy(
		context.Background(),
		fastPolicy(3),
		func(context.Context) (string, error) {
			attempts++
			return "", errors.New("401 unauthorized")
		},
		ClassifyLLMError,
		nil,
	)
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("non-retryable error must not retry, got %d attempts", attempts)
	}
	if IsRetryExhausted(err) {
		t.Error("fail-fast error must not be RetryExhaustedError")
	}
}

func TestRetryWithPolicyExhaustion(t *testing.T) {
	attempts := 0
	_, err := RetryWithPolicy(
		context.Background(),
		fastPolicy(2),
		func(context.Context) (string, error) {
			attempts++
			return "", errors.New("connection reset")
		},
		ClassifyLLMError,
		nil,
	)
	if !IsRetryExhausted(err) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if attempts != 3 { // initial try + 2 retries
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithPolicyMaybeClassCapped(t *testing.T) {
	attempts := 0
	_, err := RetryWithPolicy(
		context.Background(),
		fastPolicy(10),
		func(context.Context) (string, error) {
			attempts++
			return "", errors.New("context deadline exceeded")
		},
		ClassifyLLMError,
		nil,
	)
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if !exhausted.IsGuarded {
		t.Error("maybe-class exhaustion must be marked guarded")
	}
	if attempts != 3 {
		t.Errorf("maybe-class errors get at most 3 attempts, got %d", attempts)
	}
}

func TestCalculateDelayRespectsRetryAfter(t *testing.T) {
	policy := RetryPolicy{
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
	err := &ProviderError{Err: errors.New("429"), RetryAfter: "3"}
	if got := calculateDelay(policy, 0, err); got != 3*time.Second {
		t.Errorf("Retry-After must win over backoff, got %v", got)
	}

	// Retry-After beyond the cap is clamped.
	err.RetryAfter = "3600"
	if got := calculateDelay(policy, 0, err); got != policy.MaxDelay {
		t.Errorf("Retry-After must be capped at MaxDelay, got %v", got)
	}
}

func TestCalculateDelayExponentialBackoff(t *testing.T) {
	policy := RetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
	base := errors.New("503")
	if got := calculateDelay(policy, 0, base); got != 100*time.Millisecond {
		t.Errorf("attempt 0: got %v", got)
	}
	if got := calculateDelay(policy, 2, base); got != 400*time.Millisecond {
		t.Errorf("attempt 2: got %v", got)
	}
	if got := calculateDelay(policy, 10, base); got != time.Second {
		t.Errorf("delay must cap at MaxDelay, got %v", got)
	}
}
