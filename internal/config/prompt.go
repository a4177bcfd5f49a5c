package config

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxSystemPromptLength is the longest system prompt accepted from a user, in characters.
const MaxSystemPromptLength = 4000

// ValidateSystemPrompt ensures the system prompt is valid.
// A valid prompt is non-empty after trimming whitespace and no longer than
// MaxSystemPromptLength characters.
func ValidateSystemPrompt(prompt string) error {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return fmt.Errorf("system prompt is empty")
	}
	if n := utf8.RuneCountInString(prompt); n > MaxSystemPromptLength {
		return fmt.Errorf("system prompt is %d characters, the limit is %d", n, MaxSystemPromptLength)
	}
	return nil
}
