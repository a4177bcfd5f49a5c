// Package activity records what users asked and what the bot answered.
//
// Each interaction is one Entry. Sinks persist entries: FileSink writes rotating text
// logs, SQLiteSink keeps a queryable table, and Nop drops everything.
package activity

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultMaxOutput bounds the stored response length in characters.
	DefaultMaxOutput = 5000
	// DefaultFileName is the activity log file inside the log directory.
	DefaultFileName = "user_activity.log"

	truncatedSuffix = "... [truncated]"
	dmGuild         = "DM"
)

// Entry is one user interaction.
type Entry struct {
	Time     time.Time
	UserID   string
	Username string
	// Guild is the server name; empty for direct messages.
	Guild   string
	Model   string
	Input   string
	Output  string
	Success bool
}

// Sink persists entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// ErrorEntry builds the entry for a failed interaction; the output is "ERROR: " + msg.
func ErrorEntry(userID, username, guild, model, input, msg string) Entry {
	return Entry{
		UserID:   userID,
		Username: username,
		Guild:    guild,
		Model:    model,
		Input:    input,
		Output:   "ERROR: " + msg,
	}
}

// Status is SUCCESS or ERROR.
func (e Entry) Status() string {
	if e.Success {
		return "SUCCESS"
	}
	return "ERROR"
}

// GuildDisplay returns the guild name or "DM".
func (e Entry) GuildDisplay() string {
	if e.Guild == "" {
		return dmGuild
	}
	return e.Guild
}

// Truncate cuts s to limit characters and marks the cut. A non-positive limit disables it.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + truncatedSuffix
		}
		n++
	}
	return s
}

// Escape makes s fit on one log line.
func Escape(s string) string {
	return strings.ReplaceAll(s, "\n", `\n`)
}

// Format renders e as a single log line, without timestamp.
func Format(e Entry, maxOutput int) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(e.Status())
	b.WriteString("] USER_ID=")
	b.WriteString(e.UserID)
	b.WriteString(" USERNAME=")
	b.WriteString(e.Username)
	b.WriteString(" GUILD=")
	b.WriteString(e.GuildDisplay())
	b.WriteString(" MODEL=")
	b.WriteString(e.Model)
	b.WriteString(" | INPUT: ")
	b.WriteString(Escape(e.Input))
	b.WriteString(" | OUTPUT: ")
	b.WriteString(Escape(Truncate(e.Output, maxOutput)))
	return b.String()
}

// Nop is a Sink that discards entries.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(context.Context, Entry) error { return nil }

// Close implements Sink.
func (Nop) Close() error { return nil }

var _ Sink = Nop{}
