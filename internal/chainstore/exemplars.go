package chainstore

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ChamsBouzaiene/ponder/internal/engine"

	"github.com/google/uuid"
)

// ExamplesFor formats the topK most similar stored chains as exemplar
// messages for session seeding. Retrieval failures degrade to no exemplars;
// a session is never blocked on the store.
//
// Implements engine.ExemplarSource.
func (s *Store) ExamplesFor(ctx context.Context, task string, n int) ([]engine.ChatMessage, error) {
	records, err := s.Retrieve(ctx, task, n)
	if err != nil {
		log.Printf("WARNING: exemplar retrieval failed: %v", err)
		return nil, nil
	}
	if len(records) == 0 {
		return nil, nil
	}

	messages := make([]engine.ChatMessage, 0, len(records)+1)
	for _, rec := range records {
		messages = append(messages, engine.ChatMessage{
			Role:    engine.RoleUser,
			Content: formatExemplar(rec),
		})
	}
	messages = append(messages, engine.ChatMessage{
		Role: engine.RoleUser,
		Content: "The examples above are previously solved tasks, shown for " +
			"guidance only. Tools used in them may not be available now; rely " +
			"on the tools offered in this session.",
	})
	return messages, nil
}

// formatExemplar flattens one chain into a single text block. Tool turns keep
// their call id so the reasoning stays readable, and every CURRENT_TASK
// mention is rewritten so the model cannot confuse an example with the task
// at hand.
func formatExemplar(rec ChainRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "EXAMPLE_TASK:\n%s\n\n", rec.Task)

	for _, msg := range rec.Messages {
		switch msg.Role {
		case engine.RoleAssistant:
			if msg.Content != "" {
				fmt.Fprintf(&b, "assistant: %s\n", msg.Content)
			}
			for _, call := range msg.ToolCalls {
				fmt.Fprintf(&b, "assistant -> %s(%v)\n", call.Name, call.Args)
			}
		case engine.RoleTool:
			fmt.Fprintf(&b, "tool result: %s\n", msg.Content)
		case engine.RoleUser:
			// Step nudges add nothing to an exemplar.
		}
	}

	if rec.Answer != "" {
		fmt.Fprintf(&b, "\nEXAMPLE_ANSWER:\n%s", rec.Answer)
	}
	return strings.ReplaceAll(b.String(), "CURRENT_TASK", "EXAMPLE_TASK")
}

// Record persists a finished session as a chain. Only terminal non-cancelled
// DONE sessions are offered by the engine.
//
// Implements engine.Recorder.
func (s *Store) Record(ctx context.Context, st *engine.State, answer string) error {
	if st.Status != engine.StatusDone {
		return nil
	}
	return s.Insert(ctx, ChainRecord{
		ID:       uuid.NewString(),
		Task:     st.Task,
		Messages: st.Trace(),
		Answer:   answer,
		Model:    st.Model,
	})
}
