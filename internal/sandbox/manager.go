package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// session tracks one sandbox session: its backend state plus the history of
// successfully executed payloads, which Fork replays into a branch.
type session struct {
	id      string
	mu      sync.Mutex
	created bool
	history []string
}

// Manager owns sandbox sessions on top of a Backend. Calls with the same
// session id are serialized and observe one another's mutations in call
// order; distinct ids are fully isolated.
type Manager struct {
	backend Backend

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates a session manager over the given backend.
func NewManager(backend Backend) *Manager {
	return &Manager{
		backend:  backend,
		sessions: make(map[string]*session),
	}
}

func (m *Manager) get(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		s = &session{id: id}
		m.sessions[id] = s
	}
	return s
}

// Execute runs a payload in the named session, creating it on first use.
// Failed payloads are not recorded into the replay history.
func (m *Manager) Execute(ctx context.Context, id, code string) (Result, error) {
	if id == "" {
		return Result{}, fmt.Errorf("sandbox session id is empty")
	}
	s := m.get(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.created {
		if err := m.backend.Create(ctx, id); err != nil {
			return Result{}, fmt.Errorf("failed to create sandbox session %s: %w", id, err)
		}
		s.created = true
	}

	res, err := m.backend.Exec(ctx, id, code)
	if err == nil && res.Code == 0 {
		s.history = append(s.history, code)
	}
	return res, err
}

// Fork branches a session: a new session is created and the parent's recorded
// history is replayed into it, so the child observes the parent's state at
// fork time without sharing any mutable state afterwards.
func (m *Manager) Fork(ctx context.Context, parentID string) (string, error) {
	parent := m.get(parentID)

	parent.mu.Lock()
	history := append([]string(nil), parent.history...)
	parentCreated := parent.created
	parent.mu.Unlock()

	childID := uuid.NewString()
	child := m.get(childID)
	child.mu.Lock()
	defer child.mu.Unlock()

	if !parentCreated {
		// Parent never executed anything; the child starts fresh on demand.
		return childID, nil
	}

	if err := m.backend.Create(ctx, childID); err != nil {
		m.drop(childID)
		return "", fmt.Errorf("failed to create fork of %s: %w", parentID, err)
	}
	child.created = true

	for _, code := range history {
		res, err := m.backend.Exec(ctx, childID, code)
		if err != nil || res.Code != 0 {
			_ = m.backend.Remove(ctx, childID)
			m.drop(childID)
			if err == nil {
				err = fmt.Errorf("replayed payload exited with code %d", res.Code)
			}
			return "", fmt.Errorf("failed to replay history into fork of %s: %w", parentID, err)
		}
		child.history = append(child.history, code)
	}

	return childID, nil
}

// History returns the successfully executed payloads of a session, oldest first.
func (m *Manager) History(id string) []string {
	s := m.get(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// Destroy tears down a session. Destroying an unknown session is a no-op.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.created {
		return nil
	}
	return m.backend.Remove(ctx, id)
}

func (m *Manager) drop(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Close destroys every session and the backend.
func (m *Manager) Close() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	ctx := context.Background()
	for _, id := range ids {
		_ = m.Destroy(ctx, id)
	}
	return m.backend.Close()
}
