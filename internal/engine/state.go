package engine

// Status is the lifecycle state of a reasoning session.
type Status string

const (
	StatusInit          Status = "init"
	StatusStepping      Status = "stepping"
	StatusToolExecuting Status = "tool_executing"
	StatusDone          Status = "done"
	StatusFailed        Status = "failed"
)

// Terminal reports whether the session has reached a final state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// State holds the mutable state of one reasoning session. A State is owned by
// exactly one session or beam; beams that branch copy it with Clone.
type State struct {
	Task      string        // The immutable task description
	History   []ChatMessage // Conversation history, append-only
	Steps     []Step        // Completed reasoning steps in order
	Step      int           // Current step count (increments only on success)
	Retries   int           // Retry attempts (tracked separately from steps)
	Status    Status        // Current lifecycle state
	Model     string        // LLM model name
	MaxSteps  int           // Step budget before the session fails
	Totals    Usage         // Accumulated token usage across all calls
	SandboxID string        // Sandbox session owned by this state, if any

	FinalAnswer string // Set once the session reaches StatusDone
	FailReason  error  // Set when the session reaches StatusFailed

	// Prelude marks how many leading history messages are seeding material
	// (system prompt, retrieved exemplars, plan) rather than the session's own
	// reasoning. Trace() trims them off.
	Prelude int
}

// NewState seeds a session state for a task.
func NewState(task, model string, maxSteps int) *State {
	return &State{
		Task:     task,
		Status:   StatusInit,
		Model:    model,
		MaxSteps: maxSteps,
	}
}

func (s *State) Append(msg ChatMessage) { s.History = append(s.History, msg) }

// Trace returns the session's own conversation, without the seeded prelude.
func (s *State) Trace() []ChatMessage {
	if s.Prelude >= len(s.History) {
		return nil
	}
	return s.History[s.Prelude:]
}

// Clone returns an independent copy of the state. The sandbox session is NOT
// cloned; callers that branch must fork it and set SandboxID on the copy.
func (s *State) Clone() *State {
	cp := *s
	cp.History = append([]ChatMessage(nil), s.History...)
	cp.Steps = append([]Step(nil), s.Steps...)
	cp.SandboxID = ""
	return &cp
}

// LastAssistant returns the content of the most recent assistant message.
func (s *State) LastAssistant() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleAssistant {
			return s.History[i].Content
		}
	}
	return ""
}
