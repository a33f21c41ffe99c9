package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// getRetryConfig returns the retry configuration, using defaults if not provided.
func getRetryConfig(opts ChatOptions) *RetryConfig {
	if opts.RetryConfig != nil {
		return opts.RetryConfig
	}
	defaultConfig := DefaultRetryConfig()
	return &defaultConfig
}

// callRetryHooks calls OnRetryAttempt on all hooks.
func callRetryHooks(hooks Hooks, ctx context.Context, st *State, attempt, maxAttempts int, delay time.Duration, err error) {
	for _, hook := range hooks {
		hook.OnRetryAttempt(ctx, st, attempt, maxAttempts, delay, err)
	}
}

// handleRetryExhaustion calls OnRetryExhausted on all hooks if the error indicates retries were exhausted.
func handleRetryExhaustion(hooks Hooks, ctx context.Context, st *State, err error) {
	if IsRetryExhausted(err) {
		for _, hook := range hooks {
			hook.OnRetryExhausted(ctx, st, err)
		}
	}
}

// toolResult represents the result of executing a tool call.
type toolResult struct {
	idx     int
	content string
	err     error
	call    ToolCall
}

// executeToolsWithRetry executes tool calls with retry logic and returns results in order.
func executeToolsWithRetry(ctx context.Context, calls []ToolCall, reg ToolRegistry, retryConfig *RetryConfig, hooks Hooks, st *State) []toolResult {
	if len(calls) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	results := make([]toolResult, len(calls))

	for i, call := range calls {
		wg.Add(1)
		go func(i int, c ToolCall) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				results[i] = toolResult{
					idx:  i,
					err:  ctx.Err(),
					call: c,
				}
				return
			default:
			}

			hooks.OnToolCall(ctx, st, c)

			res, err := RetryToolCall(
				ctx,
				retryConfig.ToolPolicy,
				c,
				reg,
				func(attempt int, delay time.Duration, retryErr error) {
					callRetryHooks(hooks, ctx, st, attempt, retryConfig.ToolPolicy.MaxRetries, delay, retryErr)
				},
			)
			handleRetryExhaustion(hooks, ctx, st, err)
			results[i] = toolResult{idx: i, content: res, err: err, call: c}
		}(i, call)
	}

	wg.Wait()
	return results
}

func executeTool(ctx context.Context, call ToolCall, reg ToolRegistry) (string, error) {
	t, ok := reg[call.Name]
	if !ok {
		return "", fmt.Errorf("tool not found: %s (available tools: %v)", call.Name, reg.Names())
	}

	if err := t.ValidateArgs(call.Args); err != nil {
		return "", fmt.Errorf("validation failed for tool %s: %w", call.Name, err)
	}

	result, err := t.Fn(ctx, call.Args)
	if err != nil {
		return "", &ToolExecutionError{ToolName: call.Name, CallID: call.ID, Err: err}
	}

	return result, nil
}

// callLLMWithRetry calls the LLM with retry logic and returns the response.
func callLLMWithRetry(ctx context.Context, llm LLMClient, model string, msgs []ChatMessage, schemas []ToolSchema, opts ChatOptions, retryConfig *RetryConfig, hooks Hooks, st *State) (LLMResponse, error) {
	resp, err := RetryLLMCall(
		ctx,
		retryConfig.LLMPolicy,
		llm,
		model,
		msgs,
		schemas,
		opts,
		func(attempt int, delay time.Duration, retryErr error) {
			callRetryHooks(hooks, ctx, st, attempt, retryConfig.LLMPolicy.MaxRetries, delay, retryErr)
		},
	)
	if err != nil {
		handleRetryExhaustion(hooks, ctx, st, err)
		return LLMResponse{}, err
	}
	return resp, nil
}

// processLLMResponse appends the assistant turn to history and tracks usage.
func processLLMResponse(resp LLMResponse, st *State, hooks Hooks, ctx context.Context) {
	hooks.OnAfterLLM(ctx, st, resp)

	st.Totals.Add(resp.Usage)

	assistantMsg := resp.Assistant
	assistantMsg.ToolCalls = resp.ToolCalls
	st.Append(assistantMsg)
	hooks.OnHistoryChanged(ctx, st)
}

// executeToolCalls executes tool calls and appends results to history.
// Every result turn is tagged with the originating call ID so providers and
// readers can match results to requests. Failures become error content, never
// session faults.
func executeToolCalls(ctx context.Context, calls []ToolCall, reg ToolRegistry, retryConfig *RetryConfig, hooks Hooks, st *State) {
	if len(calls) == 0 {
		return
	}

	// Tools bound to the session (sandboxed code execution) read the owning
	// state from the context.
	ctx = ContextWithState(ctx, st)

	results := executeToolsWithRetry(ctx, calls, reg, retryConfig, hooks, st)

	for _, o := range results {
		if o.err != nil {
			o.content = "ERROR: " + o.err.Error()
		}
		toolCallID := o.call.ID
		if toolCallID == "" {
			toolCallID = o.call.Name
		}
		st.Append(ChatMessage{Role: RoleTool, Name: toolCallID, Content: o.content})
		hooks.OnToolResult(ctx, st, o.call, o.content, o.err)
	}
	hooks.OnHistoryChanged(ctx, st)
}

// collectParseErrors checks the provider-reported tool calls for malformed
// argument payloads. A step with any malformed call degrades to zero calls.
func collectParseErrors(calls []ToolCall) (clean []ToolCall, detail string) {
	var problems []string
	for _, c := range calls {
		if c.Error != "" {
			problems = append(problems, fmt.Sprintf("%s: %s", c.Name, c.Error))
		}
	}
	if len(problems) > 0 {
		return nil, strings.Join(problems, "; ")
	}
	return calls, ""
}

// nudgePrompt is the user turn that asks the model for its next step.
func nudgePrompt(reflect bool) ChatMessage {
	prompt := stepPrompt
	if reflect {
		prompt = reflectionPrompt
	}
	return ChatMessage{Role: RoleUser, Content: prompt}
}

// applyStepResponse turns a model response into a completed Step on st:
// parse-error degradation, history append, tool execution. The nudge prompt
// must already be in st.History.
func applyStepResponse(ctx context.Context, reg ToolRegistry, st *State, hooks Hooks, retryConfig *RetryConfig, resp LLMResponse, reflect bool) Step {
	calls, parseDetail := collectParseErrors(resp.ToolCalls)
	if parseDetail != "" {
		// Degrade to a zero-call step and tell the model what went wrong so it
		// can repair the invocation on the next turn.
		resp.ToolCalls = nil
		resp.Assistant.ToolCalls = nil
		hooks.OnParseError(ctx, st, parseDetail)
	}

	processLLMResponse(resp, st, hooks, ctx)

	step := Step{
		Index:      len(st.Steps),
		Assistant:  resp.Assistant,
		ToolCalls:  calls,
		ParseError: parseDetail,
		Reflection: reflect,
		Final:      isFinalAnswer(resp.Assistant.Content),
	}

	if parseDetail != "" {
		st.Append(ChatMessage{
			Role:    RoleUser,
			Content: "Your previous tool invocation could not be parsed: " + parseDetail + ". Repeat the step with valid arguments.",
		})
	}

	if len(calls) > 0 {
		st.Status = StatusToolExecuting
		executeToolCalls(ctx, calls, reg, retryConfig, hooks, st)
		st.Status = StatusStepping
	}

	st.Steps = append(st.Steps, step)
	return step
}

// stepOnce performs one reasoning step: nudge the model, append its step,
// execute any tool calls it requested. Returns the completed Step.
func stepOnce(ctx context.Context, llm LLMClient, reg ToolRegistry, st *State, hooks Hooks, opts ChatOptions, reflect bool) (Step, error) {
	st.Status = StatusStepping
	hooks.OnStepStart(ctx, st)

	st.Append(nudgePrompt(reflect))

	retryConfig := getRetryConfig(opts)
	toolSchemas := reg.Schemas()

	msgs := append([]ChatMessage(nil), st.History...)
	hooks.OnBeforeLLM(ctx, st, msgs, toolSchemas)

	resp, err := callLLMWithRetry(ctx, llm, st.Model, msgs, toolSchemas, opts, retryConfig, hooks, st)
	if err != nil {
		return Step{}, WrapWithContext(err, st, "llm_call", "")
	}

	return applyStepResponse(ctx, reg, st, hooks, retryConfig, resp, reflect), nil
}
