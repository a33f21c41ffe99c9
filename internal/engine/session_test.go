package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// scriptedLLM returns canned responses in order. Once the script runs out it
// fails with a non-retryable error so tests never sit in backoff loops.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []LLMResponse
	calls     int
}

func (s *scriptedLLM) Chat(_ context.Context, _ string, _ []ChatMessage, _ []ToolSchema, _ ChatOptions) (LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.responses) == 0 {
		return LLMResponse{}, errors.New("bad request: script exhausted")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func assistantText(content string) LLMResponse {
	return LLMResponse{
		Assistant:    ChatMessage{Role: RoleAssistant, Content: content},
		Usage:        Usage{Prompt: 10, Completion: 5, Total: 15},
		FinishReason: "stop",
	}
}

func assistantToolCall(name string, args map[string]any) LLMResponse {
	return LLMResponse{
		Assistant: ChatMessage{Role: RoleAssistant, Content: ""},
		ToolCalls: []ToolCall{{ID: "call_1", Name: name, Args: args}},
		Usage:     Usage{Prompt: 10, Completion: 5, Total: 15},
	}
}

func calcRegistry(t *testing.T) ToolRegistry {
	t.Helper()
	reg := ToolRegistry{}
	reg.Register(Tool{
		Name:        "calc",
		Description: "evaluate an arithmetic expression",
		SchemaJSON:  `{"type":"object","properties":{"expression":{"type":"string"}},"required":["expression"]}`,
		Retryable:   true,
		Fn: func(_ context.Context, args map[string]any) (string, error) {
			if args["expression"] == "2+2" {
				return "4", nil
			}
			return "", fmt.Errorf("unsupported expression")
		},
	})
	return reg
}

func TestRunCalculatorTask(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{
		assistantToolCall("calc", map[string]any{"expression": "2+2"}),
		assistantText("The result is 4. <DONE>"),
		assistantText("4"),
	}}

	sess := &Session{
		LLM:      llm,
		Registry: calcRegistry(t),
		Config:   SessionConfig{Model: "test-model", MaxSteps: 5},
	}

	res, err := sess.Run(context.Background(), "What is 2+2?")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != StatusDone {
		t.Fatalf("expected DONE, got %s (err=%v)", res.Status, res.Err)
	}
	if res.Answer != "4" {
		t.Errorf("expected answer 4, got %q", res.Answer)
	}
	if len(res.Steps) != 2 {
		t.Errorf("expected 2 steps, got %d", len(res.Steps))
	}

	// The tool result turn must be tagged with the originating call id and
	// follow the requesting assistant turn.
	foundResult := false
	for i, msg := range res.Trace {
		if msg.Role == RoleTool {
			if msg.Name != "call_1" {
				t.Errorf("tool turn tagged %q, want call_1", msg.Name)
			}
			if i == 0 || len(res.Trace[i-1].ToolCalls) == 0 {
				t.Errorf("tool turn not preceded by an assistant turn with tool calls")
			}
			if msg.Content != "4" {
				t.Errorf("tool result content %q, want 4", msg.Content)
			}
			foundResult = true
		}
	}
	if !foundResult {
		t.Error("no tool result turn in trace")
	}
}

func TestRunBudgetExhaustion(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{
		assistantText("Let me think about this."),
		assistantText("Still thinking."),
		assistantText("This response should never be requested."),
	}}

	sess := &Session{
		LLM:      llm,
		Registry: ToolRegistry{},
		Config:   SessionConfig{Model: "test-model", MaxSteps: 2},
	}

	res, err := sess.Run(context.Background(), "Unsolvable")
	if err != nil {
		t.Fatalf("budget exhaustion must not return an error, got %v", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if len(res.Steps) != 2 {
		t.Errorf("expected exactly 2 steps in the partial trace, got %d", len(res.Steps))
	}
	var budgetErr *BudgetExceededError
	if !errors.As(res.Err, &budgetErr) {
		t.Errorf("expected BudgetExceededError, got %v", res.Err)
	}
}

func TestRunProviderFailure(t *testing.T) {
	llm := &scriptedLLM{} // fails immediately, non-retryable

	sess := &Session{
		LLM:      llm,
		Registry: ToolRegistry{},
		Config:   SessionConfig{Model: "test-model", MaxSteps: 3},
	}

	res, err := sess.Run(context.Background(), "anything")
	if err == nil {
		t.Fatal("expected an error from provider failure")
	}
	if res.Status != StatusFailed {
		t.Errorf("expected FAILED, got %s", res.Status)
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sess := &Session{
		LLM:      &scriptedLLM{responses: []LLMResponse{assistantText("never used")}},
		Registry: ToolRegistry{},
		Config:   SessionConfig{Model: "test-model", MaxSteps: 3},
	}

	res, err := sess.Run(ctx, "anything")
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if res.Status != StatusFailed {
		t.Errorf("expected FAILED, got %s", res.Status)
	}
}

func TestParseErrorDegradesStep(t *testing.T) {
	malformed := LLMResponse{
		Assistant: ChatMessage{Role: RoleAssistant, Content: "calling the tool"},
		ToolCalls: []ToolCall{{ID: "call_1", Name: "calc", Error: "unparsable argument JSON: unexpected end of input"}},
	}
	llm := &scriptedLLM{responses: []LLMResponse{
		malformed,
		assistantText("Recovered. <DONE>"),
		assistantText("recovered answer"),
	}}

	sess := &Session{
		LLM:      llm,
		Registry: calcRegistry(t),
		Config:   SessionConfig{Model: "test-model", MaxSteps: 5},
	}

	res, err := sess.Run(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != StatusDone {
		t.Fatalf("session should continue past a parse error, got %s", res.Status)
	}

	first := res.Steps[0]
	if first.ParseError == "" {
		t.Error("first step should carry the parse-error annotation")
	}
	if len(first.ToolCalls) != 0 {
		t.Errorf("malformed step must degrade to zero calls, got %d", len(first.ToolCalls))
	}

	// No tool turn may appear for the degraded step.
	for _, msg := range res.Trace {
		if msg.Role == RoleTool {
			t.Errorf("unexpected tool turn after degraded step: %q", msg.Content)
		}
	}
}

func TestUnknownToolBecomesErrorResult(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{
		assistantToolCall("no_such_tool", map[string]any{}),
		assistantText("Giving up politely. <DONE>"),
		assistantText("done"),
	}}

	sess := &Session{
		LLM:      llm,
		Registry: calcRegistry(t),
		Config:   SessionConfig{Model: "test-model", MaxSteps: 5},
	}

	res, err := sess.Run(context.Background(), "anything")
	if err != nil {
		t.Fatalf("unknown tool must not fail the session: %v", err)
	}

	found := false
	for _, msg := range res.Trace {
		if msg.Role == RoleTool {
			found = true
			if want := "ERROR:"; len(msg.Content) < len(want) || msg.Content[:len(want)] != want {
				t.Errorf("expected error-result content, got %q", msg.Content)
			}
		}
	}
	if !found {
		t.Error("expected a tool-role error turn for the unknown tool")
	}
}

func TestReflectionAlternates(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{
		assistantText("Step one reasoning."),
		assistantText("The previous step holds. Solved. <DONE>"),
		assistantText("final"),
	}}

	sess := &Session{
		LLM:      llm,
		Registry: ToolRegistry{},
		Config:   SessionConfig{Model: "test-model", MaxSteps: 4, Reflection: true},
	}

	res, err := sess.Run(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(res.Steps))
	}
	if res.Steps[0].Reflection {
		t.Error("first step must be a reasoning step")
	}
	if !res.Steps[1].Reflection {
		t.Error("second step must be a reflection step")
	}
}

func TestIsFinalAnswer(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"The answer is 4. <DONE>", true},
		{"the answer is 4. <done>", true},
		{"DONE", true},
		{"Task complete.", true},
		{"I am done thinking about step 3 of many", false},
		{"still working", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isFinalAnswer(tc.text); got != tc.want {
			t.Errorf("isFinalAnswer(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestStripFinalMarker(t *testing.T) {
	if got := stripFinalMarker("The answer is 4. <DONE>"); got != "The answer is 4." {
		t.Errorf("got %q", got)
	}
}

// exemplar source and recorder fakes for seeding behavior.
type fakeExemplars struct{ msgs []ChatMessage }

func (f fakeExemplars) ExamplesFor(context.Context, string, int) ([]ChatMessage, error) {
	return f.msgs, nil
}

type captureRecorder struct {
	recorded bool
	answer   string
}

func (c *captureRecorder) Record(_ context.Context, _ *State, answer string) error {
	c.recorded = true
	c.answer = answer
	return nil
}

func TestSeedingAndTraceTrimming(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{
		assistantText("Solved. <DONE>"),
		assistantText("42"),
	}}
	rec := &captureRecorder{}

	sess := &Session{
		LLM:      llm,
		Registry: ToolRegistry{},
		Exemplars: fakeExemplars{msgs: []ChatMessage{
			{Role: RoleUser, Content: "EXAMPLE_TASK:\nolder task"},
		}},
		Recorder: rec,
		Config:   SessionConfig{Model: "test-model", MaxSteps: 3, ExemplarCount: 1},
	}

	res, err := sess.Run(context.Background(), "meaning of life")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, msg := range res.Trace {
		if msg.Role == RoleSystem {
			t.Error("trace must not contain the seeded system prompt")
		}
		if msg.Role == RoleUser && msg.Content == "EXAMPLE_TASK:\nolder task" {
			t.Error("trace must not contain seeded exemplars")
		}
	}

	if !rec.recorded {
		t.Error("DONE session must be offered to the recorder")
	}
	if rec.answer != "42" {
		t.Errorf("recorder got answer %q, want 42", rec.answer)
	}
}
