package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy bounds how an operation is retried.
type RetryPolicy struct {
	MaxRetries   int // retries after the first attempt; 0 disables retrying
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64 // exponential backoff factor
	Jitter       bool    // adds 0-20% random spread to each delay
}

// RetryConfig carries the per-operation policies a session uses.
type RetryConfig struct {
	LLMPolicy  RetryPolicy
	ToolPolicy RetryPolicy
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		LLMPolicy: RetryPolicy{
			MaxRetries:   3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		ToolPolicy: RetryPolicy{
			MaxRetries:   2,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
}

// RetryableFunc is the operation under retry.
type RetryableFunc[T any] func(ctx context.Context) (T, error)

// RetryWithPolicy runs fn until it succeeds, the error classifies as
// non-retryable (fail fast with the original error), or the budget runs out
// (RetryExhaustedError). Maybe-class errors get at most three attempts total
// regardless of the policy and mark the exhaustion as guarded.
func RetryWithPolicy[T any](
	ctx context.Context,
	policy RetryPolicy,
	fn RetryableFunc[T],
	classifyError func(error) RetryClass,
	onRetry func(attempt int, delay time.Duration, err error),
) (T, error) {
	var zero T

	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		switch class := classifyError(err); {
		case class == RetryClassNonRetryable:
			return zero, err
		case attempt >= policy.MaxRetries:
			return zero, NewRetryExhaustedError(err, attempt, policy.MaxRetries, false)
		case class == RetryClassMaybe && attempt >= 2:
			return zero, NewRetryExhaustedError(err, attempt, 2, true)
		}

		delay := calculateDelay(policy, attempt, err)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// calculateDelay picks the wait before the next attempt. A server-provided
// Retry-After wins over backoff; both are capped at MaxDelay.
func calculateDelay(policy RetryPolicy, attempt int, err error) time.Duration {
	if retryAfter := ExtractRetryAfter(err); retryAfter > 0 {
		return min(retryAfter, policy.MaxDelay)
	}

	delay := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt))
	delay = math.Min(delay, float64(policy.MaxDelay))
	if policy.Jitter {
		delay += rand.Float64() * 0.2 * delay
	}
	return time.Duration(delay)
}

// RetryLLMCall retries a chat completion under the LLM policy.
func RetryLLMCall(
	ctx context.Context,
	policy RetryPolicy,
	llm LLMClient,
	model string,
	messages []ChatMessage,
	toolSchemas []ToolSchema,
	opts ChatOptions,
	onRetry func(attempt int, delay time.Duration, err error),
) (LLMResponse, error) {
	return RetryWithPolicy(
		ctx,
		policy,
		func(ctx context.Context) (LLMResponse, error) {
			return llm.Chat(ctx, model, messages, toolSchemas, opts)
		},
		ClassifyLLMError,
		onRetry,
	)
}

// RetryToolCall retries a tool execution. Non-idempotent tools opt out via
// Retryable=false and get exactly one attempt.
func RetryToolCall(
	ctx context.Context,
	policy RetryPolicy,
	call ToolCall,
	reg ToolRegistry,
	onRetry func(attempt int, delay time.Duration, err error),
) (string, error) {
	tool, ok := reg[call.Name]
	if !ok {
		return "", fmt.Errorf("tool not found: %s", call.Name)
	}

	if !tool.Retryable {
		policy = RetryPolicy{MaxRetries: 0}
	}

	return RetryWithPolicy(
		ctx,
		policy,
		func(ctx context.Context) (string, error) {
			return executeTool(ctx, call, reg)
		},
		func(err error) RetryClass {
			return ClassifyToolError(err, tool.Retryable)
		},
		onRetry,
	)
}
