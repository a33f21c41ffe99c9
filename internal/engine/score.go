package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Scorer rates candidate beams for a task. Scores are comparable within one
// call only; the search accumulates them across depths.
type Scorer interface {
	Score(ctx context.Context, task string, candidates []*Beam) ([]float64, error)
}

// ModelScorer grades candidates with an evaluator model.
type ModelScorer struct {
	LLM   LLMClient
	Model string
}

const scoringPrompt = `You are evaluating candidate reasoning steps for the task below. Rate how promising
each candidate is as the next step towards a correct answer, on a scale of 0 to 10.

Respond with one line per candidate in the exact form "index:score", nothing else.`

func (m ModelScorer) Score(ctx context.Context, task string, candidates []*Beam) ([]float64, error) {
	var b strings.Builder
	b.WriteString(scoringPrompt)
	b.WriteString("\n\nTASK:\n")
	b.WriteString(task)
	for i, c := range candidates {
		fmt.Fprintf(&b, "\n\nCANDIDATE %d:\n%s", i, candidateSummary(c))
	}

	msgs := []ChatMessage{
		{Role: RoleSystem, Content: "You are a strict evaluator of reasoning quality."},
		{Role: RoleUser, Content: b.String()},
	}

	resp, err := m.LLM.Chat(ctx, m.Model, msgs, nil, ChatOptions{Temperature: 0.0})
	if err != nil {
		return nil, err
	}

	scores, err := parseScores(resp.Assistant.Content, len(candidates))
	if err != nil {
		return nil, &ParseError{Detail: err.Error()}
	}
	return scores, nil
}

// candidateSummary renders a beam's newest turns for the evaluator: the step
// text plus any tool results it produced.
func candidateSummary(c *Beam) string {
	var parts []string
	trace := c.State.Trace()
	// Walk back to the most recent assistant turn, collecting tool results
	// that followed it.
	start := len(trace) - 1
	for start >= 0 && trace[start].Role != RoleAssistant {
		start--
	}
	if start < 0 {
		return "(no output)"
	}
	parts = append(parts, trace[start].Content)
	for _, m := range trace[start+1:] {
		if m.Role == RoleTool {
			parts = append(parts, "tool result: "+m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// parseScores decodes "index:score" lines. Missing candidates default to 0.
func parseScores(text string, n int) ([]float64, error) {
	scores := make([]float64, n)
	seen := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idxStr, scoreStr, ok := strings.Cut(line, ":")
		if !ok {
			idxStr, scoreStr, ok = strings.Cut(line, "|")
			if !ok {
				continue
			}
		}
		idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
		if err != nil || idx < 0 || idx >= n {
			continue
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(scoreStr), 64)
		if err != nil {
			continue
		}
		if score < 0 {
			score = 0
		}
		if score > 10 {
			score = 10
		}
		scores[idx] = score
		seen++
	}
	if seen == 0 {
		return nil, fmt.Errorf("no index:score lines in evaluator output %q", text)
	}
	return scores, nil
}

// HeuristicScorer is the deterministic fallback when no evaluator model is
// configured or the evaluator output cannot be parsed.
type HeuristicScorer struct{}

func (HeuristicScorer) Score(_ context.Context, _ string, candidates []*Beam) ([]float64, error) {
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		score := 5.0
		if c.Status == BeamFailed {
			scores[i] = 0
			continue
		}
		if len(c.State.Steps) > 0 {
			last := c.State.Steps[len(c.State.Steps)-1]
			if last.Final {
				score += 3
			}
			if last.ParseError != "" {
				score -= 3
			}
			if len(last.ToolCalls) > 0 {
				score += 1
			}
		}
		// Penalize branches whose latest tool results errored.
		trace := c.State.Trace()
		for j := len(trace) - 1; j >= 0 && trace[j].Role == RoleTool; j-- {
			if strings.HasPrefix(trace[j].Content, "ERROR:") {
				score -= 2
			}
		}
		if score < 0 {
			score = 0
		}
		scores[i] = score
	}
	return scores, nil
}
