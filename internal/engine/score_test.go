package engine

import (
	"context"
	"testing"
)

func TestParseScores(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		n       int
		want    []float64
		wantErr bool
	}{
		{"colon form", "0:7\n1:3", 2, []float64{7, 3}, false},
		{"pipe form", "0|8\n1|2", 2, []float64{8, 2}, false},
		{"clamped", "0:15\n1:-4", 2, []float64{10, 0}, false},
		{"missing candidate defaults to zero", "1:6", 2, []float64{0, 6}, false},
		{"junk lines skipped", "thinking...\n0:5\nnot a score", 1, []float64{5}, false},
		{"out of range index ignored", "7:9\n0:4", 2, []float64{4, 0}, false},
		{"nothing parsable", "no scores here", 2, nil, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseScores(tc.text, tc.n)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("score[%d] = %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestModelScorer(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{
		assistantText("0:8\n1:2"),
	}}
	scorer := ModelScorer{LLM: llm, Model: "eval-model"}

	candidates := []*Beam{
		{State: &State{History: []ChatMessage{{Role: RoleAssistant, Content: "good step"}}}},
		{State: &State{History: []ChatMessage{{Role: RoleAssistant, Content: "weak step"}}}},
	}

	scores, err := scorer.Score(context.Background(), "task", candidates)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if scores[0] != 8 || scores[1] != 2 {
		t.Errorf("got %v", scores)
	}
}

func TestHeuristicScorer(t *testing.T) {
	final := &Beam{State: &State{Steps: []Step{{Final: true}}}}
	parseBroken := &Beam{State: &State{Steps: []Step{{ParseError: "bad json"}}}}
	failed := &Beam{Status: BeamFailed, State: &State{}}
	withErrorResult := &Beam{State: &State{
		Steps:   []Step{{ToolCalls: []ToolCall{{Name: "calc"}}}},
		History: []ChatMessage{{Role: RoleTool, Content: "ERROR: boom"}},
	}}

	scores, err := HeuristicScorer{}.Score(context.Background(), "task",
		[]*Beam{final, parseBroken, failed, withErrorResult})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if scores[0] <= scores[1] {
		t.Errorf("final step must outrank parse error: %v", scores)
	}
	if scores[2] != 0 {
		t.Errorf("failed beam must score 0, got %v", scores[2])
	}
	if scores[3] >= scores[0] {
		t.Errorf("trailing tool error must be penalized below a final step: %v", scores)
	}
}
