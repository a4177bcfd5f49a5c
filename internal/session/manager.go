// Package session keeps per-user conversational state: the selected model, an optional
// system prompt, and the backend continuation context.
package session

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"
)

// UserID identifies a platform user.
type UserID string

// Session is a point-in-time copy of one user's state.
type Session struct {
	Model           string
	SystemPrompt    string
	HasSystemPrompt bool
	Context         []int
}

// state is the stored form of a Session.
type state struct {
	model        string
	systemPrompt *string
	context      []int
}

// Manager implements the StateManager interface.
type Manager struct {
	users  map[UserID]*state
	turns  map[UserID]*semaphore.Weighted
	mu     sync.RWMutex
	turnMu sync.Mutex
}

// NewManager creates an empty state manager.
func NewManager() *Manager {
	return &Manager{
		users: make(map[UserID]*state),
		turns: make(map[UserID]*semaphore.Weighted),
	}
}

// lookup returns the user's state, creating it on first access. Callers hold mu.
func (m *Manager) lookup(user UserID) *state {
	s, ok := m.users[user]
	if !ok {
		s = &state{}
		m.users[user] = s
	}
	return s
}

// Model returns the user's selected model, or def if none was chosen.
func (m *Manager) Model(user UserID, def string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.users[user]; ok && s.model != "" {
		return s.model
	}
	return def
}

// SetModel selects a model and drops the continuation context, which is only valid for
// the model that produced it.
func (m *Manager) SetModel(user UserID, model string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.lookup(user)
	s.model = model
	s.context = nil
}

// SystemPrompt returns the user's system prompt and whether one is set.
func (m *Manager) SystemPrompt(user UserID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.users[user]
	if !ok || s.systemPrompt == nil {
		return "", false
	}
	return *s.systemPrompt, true
}

// SetSystemPrompt stores a system prompt and drops the continuation context.
func (m *Manager) SetSystemPrompt(user UserID, prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.lookup(user)
	s.systemPrompt = &prompt
	s.context = nil
}

// ClearSystemPrompt removes the system prompt and drops the continuation context.
// Returns true if a prompt existed.
func (m *Manager) ClearSystemPrompt(user UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.lookup(user)
	existed := s.systemPrompt != nil
	s.systemPrompt = nil
	s.context = nil
	return existed
}

// Context returns a copy of the user's continuation context, or nil.
func (m *Manager) Context(user UserID) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.users[user]; ok {
		return slices.Clone(s.context)
	}
	return nil
}

// SetContext replaces the continuation context wholesale.
func (m *Manager) SetContext(user UserID, ctx []int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lookup(user).context = slices.Clone(ctx)
}

// CommitContext stores ctx only if the user's model and system prompt still match the
// snapshot the turn started from, so a context never outlives the pairing that produced
// it. Returns false when the session changed in between.
func (m *Manager) CommitContext(user UserID, from Session, ctx []int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.lookup(user)
	model := s.model
	if model == "" {
		model = from.Model
	}
	if model != from.Model {
		return false
	}
	hasPrompt := s.systemPrompt != nil
	if hasPrompt != from.HasSystemPrompt || (hasPrompt && *s.systemPrompt != from.SystemPrompt) {
		return false
	}

	s.context = slices.Clone(ctx)
	return true
}

// ClearContext drops the continuation context and leaves the rest of the session.
// Returns true if a context existed.
func (m *Manager) ClearContext(user UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.users[user]
	if !ok || s.context == nil {
		return false
	}
	s.context = nil
	return true
}

// HasContext reports whether the user has a non-empty continuation context.
func (m *Manager) HasContext(user UserID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.users[user]
	return ok && len(s.context) > 0
}

// Snapshot reads model, prompt, and context in one critical section.
func (m *Manager) Snapshot(user UserID, defaultModel string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.lookup(user)
	out := Session{
		Model:   s.model,
		Context: slices.Clone(s.context),
	}
	if out.Model == "" {
		out.Model = defaultModel
	}
	if s.systemPrompt != nil {
		out.SystemPrompt = *s.systemPrompt
		out.HasSystemPrompt = true
	}
	return out
}

// AcquireTurn waits until no other turn is running for the user. The returned release
// function must be called exactly once when the turn ends.
func (m *Manager) AcquireTurn(ctx context.Context, user UserID) (func(), error) {
	gate := m.turnGate(user)
	if err := gate.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for previous turn of user %s: %w", user, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { gate.Release(1) })
	}, nil
}

func (m *Manager) turnGate(user UserID) *semaphore.Weighted {
	m.turnMu.Lock()
	defer m.turnMu.Unlock()

	gate, ok := m.turns[user]
	if !ok {
		gate = semaphore.NewWeighted(1)
		m.turns[user] = gate
	}
	return gate
}

// Stats returns current session statistics.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	withContext, withPrompt := 0, 0
	for _, s := range m.users {
		if len(s.context) > 0 {
			withContext++
		}
		if s.systemPrompt != nil {
			withPrompt++
		}
	}

	return map[string]int{
		"users":        len(m.users),
		"with_context": withContext,
		"with_prompt":  withPrompt,
	}
}
