// Package render splits accumulated response text into platform-sized chunks and
// reconciles them against the messages already shown for a turn.
package render

import "unicode/utf8"

// DefaultLimit is the per-message content limit, kept under Discord's 2000 character
// ceiling.
const DefaultLimit = 1900

// OpKind says whether a chunk replaces an existing message or needs a new one.
type OpKind int

const (
	// OpEdit rewrites the message already rendered at Index.
	OpEdit OpKind = iota
	// OpCreate sends a new message for Index.
	OpCreate
)

// String returns a short name for logs.
func (k OpKind) String() string {
	switch k {
	case OpEdit:
		return "edit"
	case OpCreate:
		return "create"
	default:
		return "unknown"
	}
}

// Op is a single reconcile instruction.
type Op struct {
	Kind    OpKind
	Index   int
	Content string
}

// Partition slices text into contiguous chunks of at most limit characters.
// Characters are runes, so a multi-byte sequence is never split across chunks.
// Content and order are preserved exactly; no trimming or word wrapping happens.
// Empty text yields a single empty chunk. A non-positive limit yields the whole
// text as one chunk.
func Partition(text string, limit int) []string {
	if text == "" || limit <= 0 {
		return []string{text}
	}

	chunks := make([]string, 0, utf8.RuneCountInString(text)/limit+1)
	start, count := 0, 0
	for i := range text {
		if count == limit {
			chunks = append(chunks, text[start:i])
			start, count = i, 0
		}
		count++
	}
	return append(chunks, text[start:])
}

// Reconcile maps a fresh partition onto the number of messages already rendered.
// Indices that already have a message are edited (even when unchanged), the rest are
// created. Messages are never deleted, so a shorter partition leaves trailing messages
// as they are.
func Reconcile(chunks []string, rendered int) []Op {
	ops := make([]Op, 0, len(chunks))
	for i, chunk := range chunks {
		kind := OpCreate
		if i < rendered {
			kind = OpEdit
		}
		ops = append(ops, Op{Kind: kind, Index: i, Content: chunk})
	}
	return ops
}
