// Package bot implements the slash commands independent of the chat platform.
//
// A platform adapter turns each interaction into an Invocation plus a Responder and
// hands both to Handler.Handle. All replies are private to the invoking user.
package bot

import (
	"context"

	"github.com/Veraticus/ollamacord/internal/relay"
)

// Command names.
const (
	CommandChat         = "chat"
	CommandSwitchModel  = "switch_model"
	CommandListModels   = "list_models"
	CommandCurrentModel = "current_model"
	CommandSystemPrompt = "system_prompt"
	CommandClearContext = "clear_context"
	CommandHelp         = "help"
)

// Option names.
const (
	OptionMessage   = "message"
	OptionModelName = "model_name"
	OptionPrompt    = "prompt"
)

// OptionSpec describes one string option of a command.
type OptionSpec struct {
	Name        string
	Description string
	Required    bool
}

// CommandSpec describes a command for registration with the platform.
type CommandSpec struct {
	Name        string
	Description string
	Options     []OptionSpec
}

// Commands returns every command the bot serves.
func Commands() []CommandSpec {
	return []CommandSpec{
		{
			Name:        CommandChat,
			Description: "Chat with Ollama AI",
			Options:     []OptionSpec{{Name: OptionMessage, Description: "Your message to the AI", Required: true}},
		},
		{
			Name:        CommandSwitchModel,
			Description: "Switch to a different Ollama model",
			Options:     []OptionSpec{{Name: OptionModelName, Description: "Name of the model to switch to", Required: true}},
		},
		{Name: CommandListModels, Description: "List all available Ollama models"},
		{Name: CommandCurrentModel, Description: "Show your currently selected model"},
		{
			Name:        CommandSystemPrompt,
			Description: "Set a custom system prompt",
			Options:     []OptionSpec{{Name: OptionPrompt, Description: "The system prompt to use (leave empty to clear)"}},
		},
		{Name: CommandClearContext, Description: "Clear your conversation context"},
		{Name: CommandHelp, Description: "Show bot usage information"},
	}
}

// User identifies who invoked a command.
type User struct {
	ID   string
	Name string
}

// Invocation is one command call.
type Invocation struct {
	Command string
	Options map[string]string
	User    User
	// Guild is the server name; empty in direct messages.
	Guild string
}

// Option returns the named option and whether it was supplied.
func (inv Invocation) Option(name string) (string, bool) {
	v, ok := inv.Options[name]
	return v, ok
}

// Responder answers one invocation.
type Responder interface {
	// Defer acknowledges the invocation privately. Replies after Defer become
	// followups; slow commands defer before doing any work.
	Defer(ctx context.Context) error
	// Reply sends a private message.
	Reply(ctx context.Context, content string) error
	// Stream returns the channel a streamed response is rendered into. Only valid
	// after Defer.
	Stream() relay.Channel
}
