// engine/hook_logger.go
package engine

import (
	"context"
	"log"
	"time"
)

type LoggerHook struct{ L *log.Logger }

// NewLoggerHook returns a hook logging to l, or the standard logger when l is
// nil.
func NewLoggerHook(l *log.Logger) LoggerHook {
	if l == nil {
		l = log.Default()
	}
	return LoggerHook{L: l}
}

func (h LoggerHook) OnStepStart(_ context.Context, st *State) {
	h.L.Printf("step=%d status=%s msgs=%d", st.Step, st.Status, len(st.History))
}
func (h LoggerHook) OnBeforeLLM(_ context.Context, st *State, msgs []ChatMessage, toolSchemas []ToolSchema) {
	h.L.Printf("llm call: step=%d msgs=%d tools=%d", st.Step, len(msgs), len(toolSchemas))
}
func (h LoggerHook) OnAfterLLM(_ context.Context, st *State, r LLMResponse) {
	h.L.Printf("finish=%s tokens: prompt=%d completion=%d total=%d (cumulative=%d)",
		r.FinishReason, r.Usage.Prompt, r.Usage.Completion, r.Usage.Total, st.Totals.Total)
}
func (h LoggerHook) OnToolCall(_ context.Context, _ *State, c ToolCall) {
	h.L.Printf("tool → %s args=%v", c.Name, c.Args)
}
func (h LoggerHook) OnToolResult(_ context.Context, _ *State, c ToolCall, result string, err error) {
	if err != nil {
		h.L.Printf("tool %s error: %v", c.Name, err)
	} else {
		resultPreview := result
		if len(resultPreview) > 100 {
			resultPreview = resultPreview[:100] + "..."
		}
		h.L.Printf("tool %s result: %s", c.Name, resultPreview)
	}
}
func (h LoggerHook) OnParseError(_ context.Context, st *State, detail string) {
	h.L.Printf("parse error at step=%d: %s", st.Step, detail)
}
func (h LoggerHook) OnHistoryChanged(_ context.Context, _ *State) {}
func (h LoggerHook) OnDone(_ context.Context, st *State) {
	h.L.Printf("done: steps=%d tokens=%d", st.Step, st.Totals.Total)
}
func (h LoggerHook) OnFailed(_ context.Context, st *State, err error) {
	h.L.Printf("failed: steps=%d reason=%v", st.Step, err)
}
func (h LoggerHook) OnRetryAttempt(_ context.Context, st *State, attempt int, maxAttempts int, delay time.Duration, err error) {
	st.Retries++
	h.L.Printf("retry attempt=%d/%d delay=%v error=%v", attempt, maxAttempts, delay, err)
}
func (h LoggerHook) OnRetryExhausted(_ context.Context, st *State, err error) {
	h.L.Printf("retries exhausted: %v", err)
}
func (h LoggerHook) OnBeamExpand(_ context.Context, beamID string, depth int, candidates int) {
	h.L.Printf("beam %s expand: depth=%d candidates=%d", beamID, depth, candidates)
}
func (h LoggerHook) OnBeamPrune(_ context.Context, beamID string, score float64) {
	h.L.Printf("beam %s pruned: score=%.2f", beamID, score)
}
