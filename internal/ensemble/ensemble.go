// Package ensemble runs several independently configured reasoning agents on
// the same task and has a coordinator model synthesize their answers. Agents
// are isolated: own conversation, own sandbox session, own provider client. A
// failing agent never takes its siblings down.
package ensemble

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ChamsBouzaiene/ponder/internal/engine"
)

// AgentConfig describes one ensemble member.
type AgentConfig struct {
	Name        string  `json:"name"`
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	APIKey      string  `json:"api_key,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`
	MaxSteps    int     `json:"max_steps,omitempty"`
	Reflection  bool    `json:"reflection,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	UseMemory   bool    `json:"use_memory,omitempty"`
	Exemplars   int     `json:"exemplars,omitempty"` // chains to seed when use_memory is set
}

// Defaults for agent configs that leave the optional knobs unset.
const (
	defaultAgentMaxSteps  = 10
	defaultAgentExemplars = 3
)

// AgentResult is one agent's contribution.
type AgentResult struct {
	Name   string
	Model  string
	Answer string
	Steps  int
	Usage  engine.Usage
	Err    error
}

// Result is the synthesized ensemble outcome. Failed is set when no agent
// produced an answer; the coordinator output is then advisory only.
type Result struct {
	Answer string
	Agents []AgentResult
	Usage  engine.Usage
	Failed bool
}

// ClientFactory builds a provider client for an agent. Injected so tests can
// script agents without network clients.
type ClientFactory func(cfg AgentConfig) (engine.LLMClient, string, error)

// Runner owns the shared pieces every agent session gets and the coordinator
// that merges their answers.
type Runner struct {
	NewClient ClientFactory
	Registry  engine.ToolRegistry
	Hooks     engine.Hooks
	Exemplars engine.ExemplarSource    // given only to agents with UseMemory
	Sandbox   engine.SandboxController // optional

	Coordinator      engine.LLMClient
	CoordinatorModel string
}

// Run executes all agents concurrently and synthesizes a final answer.
// Per-agent failures are recorded in the result; only a coordinator failure
// or full cancellation surfaces as an error.
func (r *Runner) Run(ctx context.Context, task string, agents []AgentConfig) (Result, error) {
	if len(agents) == 0 {
		return Result{Failed: true}, fmt.Errorf("no agents configured")
	}

	results := make([]AgentResult, len(agents))
	g, gctx := errgroup.WithContext(ctx)

	for i, cfg := range agents {
		i, cfg := i, cfg
		g.Go(func() error {
			results[i] = r.runAgent(gctx, task, cfg)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Result{Agents: results, Failed: true}, err
	}

	out := Result{Agents: results}
	anySucceeded := false
	for _, ar := range results {
		out.Usage.Add(ar.Usage)
		if ar.Err == nil {
			anySucceeded = true
		}
	}
	out.Failed = !anySucceeded

	answer, usage, err := r.synthesize(ctx, task, results)
	if err != nil {
		return out, err
	}
	out.Answer = answer
	out.Usage.Add(usage)
	return out, nil
}

func (r *Runner) runAgent(ctx context.Context, task string, cfg AgentConfig) AgentResult {
	name := cfg.Name
	if name == "" {
		name = cfg.Provider + "/" + cfg.Model
	}

	llm, model, err := r.NewClient(cfg)
	if err != nil {
		return AgentResult{Name: name, Model: cfg.Model, Err: err}
	}

	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultAgentMaxSteps
	}

	sess := &engine.Session{
		LLM:      llm,
		Registry: r.Registry,
		Hooks:    r.Hooks,
		Sandbox:  r.Sandbox,
		Config: engine.SessionConfig{
			Model:       model,
			MaxSteps:    maxSteps,
			Temperature: cfg.Temperature,
			Reflection:  cfg.Reflection,
		},
	}
	if cfg.UseMemory && r.Exemplars != nil {
		sess.Exemplars = r.Exemplars
		sess.Config.ExemplarCount = cfg.Exemplars
		if sess.Config.ExemplarCount <= 0 {
			sess.Config.ExemplarCount = defaultAgentExemplars
		}
	}

	res, err := sess.Run(ctx, task)
	ar := AgentResult{
		Name:   name,
		Model:  model,
		Answer: res.Answer,
		Steps:  len(res.Steps),
		Usage:  res.Usage,
		Err:    err,
	}
	if err == nil && res.Status != engine.StatusDone {
		ar.Err = res.Err
		if ar.Err == nil {
			ar.Err = fmt.Errorf("agent finished without an answer")
		}
	}
	return ar
}

const coordinatorPrompt = `You are the coordinator of a group of independent
problem solvers. You receive the task and each solver's final answer. Weigh
them against each other, resolve disagreements, and produce the single best
final answer. Respond with the answer only.`

func (r *Runner) synthesize(ctx context.Context, task string, agents []AgentResult) (string, engine.Usage, error) {
	resp, err := r.Coordinator.Chat(ctx, r.CoordinatorModel, []engine.ChatMessage{
		{Role: engine.RoleSystem, Content: coordinatorPrompt},
		{Role: engine.RoleUser, Content: formatAgentResults(task, agents)},
	}, nil, engine.ChatOptions{Temperature: 0.2})
	if err != nil {
		return "", engine.Usage{}, fmt.Errorf("coordinator synthesis failed: %w", err)
	}
	return strings.TrimSpace(resp.Assistant.Content), resp.Usage, nil
}

// formatAgentResults renders the task and each agent's outcome for the
// coordinator. Failed agents are listed with their error so the coordinator
// knows how much weight the surviving answers carry.
func formatAgentResults(task string, agents []AgentResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TASK:\n%s\n\n", task)

	for i, ar := range agents {
		fmt.Fprintf(&b, "--- Solver %d (%s) ---\n", i+1, ar.Name)
		if ar.Err != nil {
			fmt.Fprintf(&b, "FAILED: %v\n\n", ar.Err)
			continue
		}
		fmt.Fprintf(&b, "%s\n\n", ar.Answer)
	}
	return b.String()
}

// LoadAgentsFile reads a JSON array of agent configurations.
func LoadAgentsFile(path string) ([]AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents file: %w", err)
	}
	var agents []AgentConfig
	if err := json.Unmarshal(data, &agents); err != nil {
		return nil, fmt.Errorf("failed to parse agents file: %w", err)
	}
	return agents, nil
}
