package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// SessionConfig holds the per-session knobs.
type SessionConfig struct {
	Model           string
	MaxSteps        int
	Temperature     float32
	MaxOutputTokens int
	Reflection      bool // interleave self-review steps between reasoning steps
	ExemplarCount   int  // how many similar chains to seed, 0 disables
	Image           string // optional image URL attached to the task
	Retry           *RetryConfig
}

// ExemplarSource seeds a session with reasoning chains retrieved for a task.
// Implementations must degrade to (nil, nil) rather than fail the session.
type ExemplarSource interface {
	ExamplesFor(ctx context.Context, task string, n int) ([]ChatMessage, error)
}

// Planner produces an upfront strategy for a task, typically informed by
// previously stored chains.
type Planner interface {
	Plan(ctx context.Context, task string) (string, error)
}

// Recorder persists a finished session. Only terminal, non-cancelled DONE
// states are offered.
type Recorder interface {
	Record(ctx context.Context, st *State, answer string) error
}

// SandboxController is the slice of the sandbox manager the engine needs:
// branching a session's execution state and tearing it down.
type SandboxController interface {
	Fork(ctx context.Context, parentID string) (string, error)
	Destroy(ctx context.Context, id string) error
}

// Result is what every session run returns, terminal or failed. Callers never
// see a panic or a bare error without the partial trace.
type Result struct {
	Status Status
	Answer string
	Steps  []Step
	Trace  []ChatMessage
	Usage  Usage
	// NonAuthoritative marks an answer taken from a failed beam because no
	// beam reached DONE.
	NonAuthoritative bool
	Err              error
}

// Session wires an LLM client, a tool registry and the optional collaborators
// into a runnable reasoning session.
type Session struct {
	LLM       LLMClient
	Registry  ToolRegistry
	Hooks     Hooks
	Config    SessionConfig
	Exemplars ExemplarSource    // optional
	Planner   Planner           // optional
	Recorder  Recorder          // optional
	Sandbox   SandboxController // optional
	Scorer    Scorer            // beam search scoring, optional
}

func (s *Session) chatOptions() ChatOptions {
	return ChatOptions{
		Temperature:     s.Config.Temperature,
		MaxOutputTokens: s.Config.MaxOutputTokens,
		RetryConfig:     s.Config.Retry,
	}
}

// seed prepares a fresh state: system prompt, retrieved exemplars, optional
// plan, then the task itself. Store failures degrade to an unseeded session.
func (s *Session) seed(ctx context.Context, task string) *State {
	st := NewState(task, s.Config.Model, s.Config.MaxSteps)
	if s.Sandbox != nil {
		st.SandboxID = uuid.NewString()
	}
	st.Append(ChatMessage{Role: RoleSystem, Content: systemPrompt})

	if s.Exemplars != nil && s.Config.ExemplarCount > 0 {
		if msgs, err := s.Exemplars.ExamplesFor(ctx, task, s.Config.ExemplarCount); err == nil {
			for _, m := range msgs {
				st.Append(m)
			}
		}
	}

	if s.Planner != nil {
		if plan, err := s.Planner.Plan(ctx, task); err == nil && plan != "" {
			st.Append(ChatMessage{Role: RoleUser, Content: "Strategy for the CURRENT_TASK:\n" + plan})
		}
	}

	st.Prelude = len(st.History)

	taskMsg := "CURRENT_TASK:\n" + task
	if s.Config.Image != "" {
		taskMsg += "\n\nAttached image: " + s.Config.Image
	}
	st.Append(ChatMessage{Role: RoleUser, Content: taskMsg})
	return st
}

// teardown releases the sandbox session owned by a state, if any.
func (s *Session) teardown(st *State) {
	if s.Sandbox != nil && st.SandboxID != "" {
		// Use a fresh context: teardown must run even after cancellation.
		_ = s.Sandbox.Destroy(context.Background(), st.SandboxID)
		st.SandboxID = ""
	}
}

// reflectStep reports whether step index i should be a self-review turn.
// Reasoning and review alternate, starting with reasoning.
func (s *Session) reflectStep(i int) bool {
	return s.Config.Reflection && i%2 == 1
}

// Run drives the session until a final answer, budget exhaustion, provider
// failure or cancellation. The Result always carries the partial trace.
func (s *Session) Run(ctx context.Context, task string) (Result, error) {
	st := s.seed(ctx, task)
	res, err := s.run(ctx, st)
	s.teardown(st)
	return res, err
}

func (s *Session) run(ctx context.Context, st *State) (Result, error) {
	opts := s.chatOptions()

	for st.Step < st.MaxSteps && !st.Status.Terminal() {
		select {
		case <-ctx.Done():
			st.Status = StatusFailed
			st.FailReason = ctx.Err()
			s.Hooks.OnFailed(ctx, st, ctx.Err())
			return s.result(st), fmt.Errorf("session cancelled: %w", ctx.Err())
		default:
		}

		step, err := stepOnce(ctx, s.LLM, s.Registry, st, s.Hooks, opts, s.reflectStep(st.Step))
		if err != nil {
			st.Status = StatusFailed
			st.FailReason = err
			s.Hooks.OnFailed(ctx, st, err)
			return s.result(st), err
		}
		st.Step++

		if step.Final {
			s.finish(ctx, st)
			return s.result(st), nil
		}
	}

	if !st.Status.Terminal() {
		budgetErr := &BudgetExceededError{Steps: st.Step, MaxSteps: st.MaxSteps}
		st.Status = StatusFailed
		st.FailReason = budgetErr
		s.Hooks.OnFailed(ctx, st, budgetErr)
	}
	return s.result(st), nil
}

// finish resolves the final answer, marks the session DONE and records the
// chain. Recording failures are swallowed; memory is advisory.
func (s *Session) finish(ctx context.Context, st *State) {
	st.FinalAnswer = s.finalAnswer(ctx, st)
	st.Status = StatusDone
	s.Hooks.OnDone(ctx, st)

	if s.Recorder != nil && ctx.Err() == nil {
		_ = s.Recorder.Record(ctx, st, st.FinalAnswer)
	}
}

// finalAnswer asks the model for a clean user-facing answer. If the call
// fails, the terminal step's text minus the marker serves as the answer.
func (s *Session) finalAnswer(ctx context.Context, st *State) string {
	fallback := stripFinalMarker(st.LastAssistant())

	msgs := append([]ChatMessage(nil), st.History...)
	msgs = append(msgs, ChatMessage{Role: RoleUser, Content: finalAnswerPrompt})

	opts := s.chatOptions()
	retryConfig := getRetryConfig(opts)
	resp, err := callLLMWithRetry(ctx, s.LLM, st.Model, msgs, nil, opts, retryConfig, s.Hooks, st)
	if err != nil || resp.Assistant.Content == "" {
		return fallback
	}
	st.Totals.Add(resp.Usage)
	return stripFinalMarker(resp.Assistant.Content)
}

func (s *Session) result(st *State) Result {
	return Result{
		Status: st.Status,
		Answer: st.FinalAnswer,
		Steps:  st.Steps,
		Trace:  st.Trace(),
		Usage:  st.Totals,
		Err:    st.FailReason,
	}
}
