package ollama

// EventKind discriminates the events of a generation stream.
type EventKind int

const (
	// EventToken carries a piece of generated text.
	EventToken EventKind = iota
	// EventDone ends the stream successfully and may carry a continuation context.
	EventDone
	// EventFailure ends the stream with an error.
	EventFailure
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventDone:
		return "done"
	case EventFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// StreamEvent is one element of a generation stream. A stream is a finite sequence
// of tokens ended by exactly one Done or Failure.
type StreamEvent struct {
	Kind EventKind
	// Text is set for EventToken.
	Text string
	// Context is the continuation context for EventDone; nil when the backend sent none.
	Context []int
	// Err is set for EventFailure.
	Err error
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Kind == EventDone || e.Kind == EventFailure
}

// Token returns a token event.
func Token(text string) StreamEvent {
	return StreamEvent{Kind: EventToken, Text: text}
}

// Done returns a terminal success event.
func Done(ctx []int) StreamEvent {
	return StreamEvent{Kind: EventDone, Context: ctx}
}

// Failure returns a terminal failure event.
func Failure(err error) StreamEvent {
	return StreamEvent{Kind: EventFailure, Err: err}
}

// GenerateRequest describes one streaming generation call.
type GenerateRequest struct {
	Model  string
	Prompt string
	// System is omitted from the request when empty.
	System string
	// Context is omitted from the request when empty.
	Context []int
}

// generateBody is the JSON body of POST /api/generate.
type generateBody struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Stream  bool   `json:"stream"`
	System  string `json:"system,omitempty"`
	Context []int  `json:"context,omitempty"`
}

// generateChunk is one NDJSON line of a generate stream.
type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Context  []int  `json:"context,omitempty"`
	Error    string `json:"error,omitempty"`
}

// tagsResponse is the body of GET /api/tags.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}
