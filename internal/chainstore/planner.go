package chainstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/ponder/internal/engine"
)

// Planner produces a short upfront strategy for a task with one model call,
// grounded in the chains most similar to it.
//
// Implements engine.Planner.
type Planner struct {
	LLM   engine.LLMClient
	Model string
	Store *Store // optional; nil plans without retrieved context
}

const planPrompt = `You are a planning assistant. Given a task and, when
available, summaries of previously solved similar tasks, produce a short
strategic plan: the overall approach, which tools to lean on, and the pitfalls
to avoid. At most five numbered points. Do not solve the task.`

// Plan returns the strategy text. An empty plan with nil error means the
// planner chose not to contribute.
func (p *Planner) Plan(ctx context.Context, task string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s\n", task)

	if p.Store != nil {
		records, err := p.Store.Retrieve(ctx, task, 2)
		if err == nil && len(records) > 0 {
			b.WriteString("\nPreviously solved similar tasks:\n")
			for _, rec := range records {
				fmt.Fprintf(&b, "- task: %s\n  answer: %s\n", rec.Task, rec.Answer)
			}
		}
	}

	resp, err := p.LLM.Chat(ctx, p.Model, []engine.ChatMessage{
		{Role: engine.RoleSystem, Content: planPrompt},
		{Role: engine.RoleUser, Content: b.String()},
	}, nil, engine.ChatOptions{Temperature: 0.3})
	if err != nil {
		return "", fmt.Errorf("plan generation failed: %w", err)
	}
	return strings.TrimSpace(resp.Assistant.Content), nil
}
