package engine

import (
	"context"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

// jitterTemperature spreads candidate sampling temperatures so parallel
// samples from the same history diverge.
func jitterTemperature(base float32) float32 {
	if base <= 0 {
		base = 0.7
	}
	return base + rand.Float32()*0.3
}

// Generate runs sampleCount independent chat calls over the same history and
// returns every response that succeeded, in sample order. It fails only when
// every sample failed; the returned error is the first one observed.
func Generate(ctx context.Context, llm LLMClient, model string, history []ChatMessage, schemas []ToolSchema, opts ChatOptions, sampleCount int) ([]LLMResponse, error) {
	if sampleCount < 1 {
		sampleCount = 1
	}

	responses := make([]LLMResponse, sampleCount)
	errs := make([]error, sampleCount)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < sampleCount; i++ {
		i := i
		sampleOpts := opts
		if sampleCount > 1 {
			sampleOpts.Temperature = jitterTemperature(opts.Temperature)
		}
		g.Go(func() error {
			retryConfig := getRetryConfig(sampleOpts)
			resp, err := RetryLLMCall(gctx, retryConfig.LLMPolicy, llm, model, history, schemas, sampleOpts, nil)
			if err != nil {
				// Sample failures are tolerated as long as one succeeds.
				errs[i] = err
				return nil
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var ok []LLMResponse
	var firstErr error
	for i := 0; i < sampleCount; i++ {
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		ok = append(ok, responses[i])
	}
	if len(ok) == 0 {
		return nil, firstErr
	}
	return ok, nil
}
