// engine/hooks.go
package engine

import (
	"context"
	"time"
)

type Hook interface {
	OnStepStart(ctx context.Context, st *State)
	OnBeforeLLM(ctx context.Context, st *State, messages []ChatMessage, toolSchemas []ToolSchema)
	OnAfterLLM(ctx context.Context, st *State, resp LLMResponse)
	OnToolCall(ctx context.Context, st *State, call ToolCall)
	OnToolResult(ctx context.Context, st *State, call ToolCall, result string, err error)
	OnParseError(ctx context.Context, st *State, detail string)
	OnHistoryChanged(ctx context.Context, st *State)
	OnDone(ctx context.Context, st *State)
	OnFailed(ctx context.Context, st *State, err error)
	// Retry hooks
	OnRetryAttempt(ctx context.Context, st *State, attempt int, maxAttempts int, delay time.Duration, err error)
	OnRetryExhausted(ctx context.Context, st *State, err error)
	// Beam search hooks
	OnBeamExpand(ctx context.Context, beamID string, depth int, candidates int)
	OnBeamPrune(ctx context.Context, beamID string, score float64)
}

// NopHook lets you implement only the hooks you need.
type NopHook struct{}

func (NopHook) OnStepStart(context.Context, *State)                                    {}
func (NopHook) OnBeforeLLM(context.Context, *State, []ChatMessage, []ToolSchema)       {}
func (NopHook) OnAfterLLM(context.Context, *State, LLMResponse)                        {}
func (NopHook) OnToolCall(context.Context, *State, ToolCall)                           {}
func (NopHook) OnToolResult(context.Context, *State, ToolCall, string, error)          {}
func (NopHook) OnParseError(context.Context, *State, string)                           {}
func (NopHook) OnHistoryChanged(context.Context, *State)                               {}
func (NopHook) OnDone(context.Context, *State)                                         {}
func (NopHook) OnFailed(context.Context, *State, error)                                {}
func (NopHook) OnRetryAttempt(context.Context, *State, int, int, time.Duration, error) {}
func (NopHook) OnRetryExhausted(context.Context, *State, error)                        {}
func (NopHook) OnBeamExpand(context.Context, string, int, int)                         {}
func (NopHook) OnBeamPrune(context.Context, string, float64)                           {}
