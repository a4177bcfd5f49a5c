package ollama

// AbandonAfter exposes the terminal-event grace period to tests.
const AbandonAfter = abandonAfter
