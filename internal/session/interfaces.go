package session

// StateManager is the per-user state contract used by the relay and the command
// handlers. Changing the model or the system prompt always clears the context.
type StateManager interface {
	Model(user UserID, def string) string
	SetModel(user UserID, model string)

	SystemPrompt(user UserID) (string, bool)
	SetSystemPrompt(user UserID, prompt string)
	ClearSystemPrompt(user UserID) bool

	Context(user UserID) []int
	SetContext(user UserID, ctx []int)
	ClearContext(user UserID) bool
	HasContext(user UserID) bool

	// Snapshot reads every field for a turn in one step.
	Snapshot(user UserID, defaultModel string) Session
	// CommitContext stores a turn's context unless the model or prompt changed since
	// the snapshot.
	CommitContext(user UserID, from Session, ctx []int) bool
}

var _ StateManager = (*Manager)(nil)
