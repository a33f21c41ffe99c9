package ensemble

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ChamsBouzaiene/ponder/internal/engine"
)

// scriptedLLM pops canned responses; empty scripts fail non-retryably.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []engine.LLMResponse
}

func (s *scriptedLLM) Chat(_ context.Context, _ string, _ []engine.ChatMessage, _ []engine.ToolSchema, _ engine.ChatOptions) (engine.LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return engine.LLMResponse{}, errors.New("bad request: script exhausted")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func text(content string) engine.LLMResponse {
	return engine.LLMResponse{
		Assistant:    engine.ChatMessage{Role: engine.RoleAssistant, Content: content},
		FinishReason: "stop",
	}
}

// echoCoordinator replies with the last solver answer verbatim, so a
// single-agent ensemble must reproduce that agent's answer.
type echoCoordinator struct{}

func (echoCoordinator) Chat(_ context.Context, _ string, messages []engine.ChatMessage, _ []engine.ToolSchema, _ engine.ChatOptions) (engine.LLMResponse, error) {
	prompt := messages[len(messages)-1].Content
	// The solver block is the text after the last solver header line.
	idx := strings.LastIndex(prompt, "---\n")
	answer := strings.TrimSpace(prompt[idx+len("---\n"):])
	return text(answer), nil
}

func singleAgentRunner(agentLLM engine.LLMClient) *Runner {
	return &Runner{
		NewClient: func(AgentConfig) (engine.LLMClient, string, error) {
			return agentLLM, "fake-model", nil
		},
		Registry:         engine.ToolRegistry{},
		Coordinator:      echoCoordinator{},
		CoordinatorModel: "coordinator-model",
	}
}

func TestSingleAgentEchoIdentity(t *testing.T) {
	agent := &scriptedLLM{responses: []engine.LLMResponse{
		text("The answer is 7. <DONE>"),
		text("7"),
	}}
	runner := singleAgentRunner(agent)

	res, err := runner.Run(context.Background(), "pick a number",
		[]AgentConfig{{Name: "solo", Provider: "fake", Model: "fake-model", MaxSteps: 3}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Failed {
		t.Fatal("single successful agent must not mark the result failed")
	}
	if res.Answer != "7" {
		t.Errorf("echo coordinator must reproduce the agent answer, got %q", res.Answer)
	}
	if len(res.Agents) != 1 || res.Agents[0].Err != nil {
		t.Errorf("unexpected agent results: %+v", res.Agents)
	}
}

func TestAgentFailureDoesNotAbortSiblings(t *testing.T) {
	good := &scriptedLLM{responses: []engine.LLMResponse{
		text("Solved. <DONE>"),
		text("42"),
	}}
	clients := map[string]engine.LLMClient{
		"good": good,
		"bad":  &scriptedLLM{}, // fails immediately
	}

	runner := &Runner{
		NewClient: func(cfg AgentConfig) (engine.LLMClient, string, error) {
			return clients[cfg.Name], cfg.Model, nil
		},
		Registry:         engine.ToolRegistry{},
		Coordinator:      echoCoordinator{},
		CoordinatorModel: "coordinator-model",
	}

	res, err := runner.Run(context.Background(), "task", []AgentConfig{
		{Name: "bad", Provider: "fake", Model: "m", MaxSteps: 2},
		{Name: "good", Provider: "fake", Model: "m", MaxSteps: 2},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Failed {
		t.Error("one surviving agent means the ensemble did not fail")
	}

	var badErr, goodErr error
	for _, ar := range res.Agents {
		switch ar.Name {
		case "bad":
			badErr = ar.Err
		case "good":
			goodErr = ar.Err
		}
	}
	if badErr == nil {
		t.Error("failing agent must carry its error")
	}
	if goodErr != nil {
		t.Errorf("surviving agent must not, got %v", goodErr)
	}
}

// countingExemplars records how often agents ask it for worked examples.
type countingExemplars struct {
	mu    sync.Mutex
	calls int
}

func (c *countingExemplars) ExamplesFor(_ context.Context, _ string, n int) ([]engine.ChatMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return []engine.ChatMessage{
		{Role: engine.RoleUser, Content: "EXAMPLE_TASK:\nsomething similar"},
	}, nil
}

func TestUseMemoryAgentConsultsExemplars(t *testing.T) {
	exemplars := &countingExemplars{}
	agent := &scriptedLLM{responses: []engine.LLMResponse{
		text("Done. <DONE>"),
		text("done"),
	}}
	runner := singleAgentRunner(agent)
	runner.Exemplars = exemplars

	_, err := runner.Run(context.Background(), "task",
		[]AgentConfig{{Name: "solo", Provider: "fake", Model: "m", MaxSteps: 3, UseMemory: true}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if exemplars.calls == 0 {
		t.Error("use_memory agent must consult the exemplar source")
	}
}

func TestMemoryOffAgentSkipsExemplars(t *testing.T) {
	exemplars := &countingExemplars{}
	agent := &scriptedLLM{responses: []engine.LLMResponse{
		text("Done. <DONE>"),
		text("done"),
	}}
	runner := singleAgentRunner(agent)
	runner.Exemplars = exemplars

	_, err := runner.Run(context.Background(), "task",
		[]AgentConfig{{Name: "solo", Provider: "fake", Model: "m", MaxSteps: 3}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if exemplars.calls != 0 {
		t.Errorf("agent without use_memory must not touch the exemplar source, got %d calls", exemplars.calls)
	}
}

func TestAgentWithoutStepBudgetGetsDefault(t *testing.T) {
	agent := &scriptedLLM{responses: []engine.LLMResponse{
		text("Easy. <DONE>"),
		text("easy"),
	}}
	runner := singleAgentRunner(agent)

	// MaxSteps deliberately unset.
	res, err := runner.Run(context.Background(), "task",
		[]AgentConfig{{Name: "solo", Provider: "fake", Model: "m"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Agents) != 1 || res.Agents[0].Err != nil {
		t.Fatalf("agent with unset MaxSteps must still run: %+v", res.Agents)
	}
	if res.Agents[0].Steps == 0 {
		t.Error("agent should have taken at least one step")
	}
}

func TestAllAgentsFailedMarksResultFailed(t *testing.T) {
	runner := singleAgentRunner(&scriptedLLM{})

	res, err := runner.Run(context.Background(), "task",
		[]AgentConfig{{Name: "solo", Provider: "fake", Model: "m", MaxSteps: 2}})
	if err != nil {
		t.Fatalf("coordinator still runs on total failure: %v", err)
	}
	if !res.Failed {
		t.Error("ensemble with no surviving agent must be marked failed")
	}
}

func TestNoAgentsConfigured(t *testing.T) {
	runner := singleAgentRunner(&scriptedLLM{})
	if _, err := runner.Run(context.Background(), "task", nil); err == nil {
		t.Fatal("expected an error for an empty agent list")
	}
}

func TestFormatAgentResults(t *testing.T) {
	out := formatAgentResults("the task", []AgentResult{
		{Name: "a", Answer: "alpha"},
		{Name: "b", Err: errors.New("fell over")},
	})
	if !strings.Contains(out, "the task") {
		t.Error("task missing from coordinator prompt")
	}
	if !strings.Contains(out, "alpha") {
		t.Error("successful answer missing")
	}
	if !strings.Contains(out, "FAILED: fell over") {
		t.Error("failed agent must be listed with its error")
	}
}
