package bot

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Veraticus/ollamacord/internal/activity"
	"github.com/Veraticus/ollamacord/internal/config"
	"github.com/Veraticus/ollamacord/internal/relay"
	"github.com/Veraticus/ollamacord/internal/session"
)

// Runner runs chat turns.
type Runner interface {
	Run(ctx context.Context, req relay.Request) (*relay.Result, error)
	DefaultModel() string
}

// ModelLister reports the models the backend serves. An empty list means the backend
// could not be asked.
type ModelLister interface {
	ListModels(ctx context.Context) []string
}

// State is the session store plus the per-user turn gate.
type State interface {
	session.StateManager
	AcquireTurn(ctx context.Context, user session.UserID) (func(), error)
}

// RateLimiter decides whether a user may start another turn.
type RateLimiter interface {
	Allow(key string) bool
	RetryAfter(key string) time.Duration
}

// Handler serves slash commands.
type Handler struct {
	runner   Runner
	models   ModelLister
	state    State
	limiter  RateLimiter
	activity activity.Sink
	logger   *zap.Logger
	onPanic  PanicHook
}

// HandlerOption configures the handler.
type HandlerOption func(*Handler)

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRateLimiter limits how often each user may chat.
func WithRateLimiter(limiter RateLimiter) HandlerOption {
	return func(h *Handler) {
		h.limiter = limiter
	}
}

// WithActivity records every chat turn to sink.
func WithActivity(sink activity.Sink) HandlerOption {
	return func(h *Handler) {
		if sink != nil {
			h.activity = sink
		}
	}
}

// WithPanicHook is called after a handler panic was recovered.
func WithPanicHook(hook PanicHook) HandlerOption {
	return func(h *Handler) {
		h.onPanic = hook
	}
}

// NewHandler creates a command handler.
func NewHandler(runner Runner, models ModelLister, state State, opts ...HandlerOption) (*Handler, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if models == nil {
		return nil, fmt.Errorf("model lister is required")
	}
	if state == nil {
		return nil, fmt.Errorf("state is required")
	}

	h := &Handler{
		runner:   runner,
		models:   models,
		state:    state,
		activity: activity.Nop{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle serves one invocation. Errors are logged, never returned: by the time a
// handler fails the user has either been told or cannot be reached.
func (h *Handler) Handle(ctx context.Context, inv Invocation, resp Responder) {
	defer h.recoverPanic(ctx, inv, resp)

	logger := h.logger.With(zap.String("command", inv.Command), zap.String("user", inv.User.ID))
	logger.Debug("Command received")

	var err error
	switch inv.Command {
	case CommandChat:
		err = h.chat(ctx, inv, resp)
	case CommandSwitchModel:
		err = h.switchModel(ctx, inv, resp)
	case CommandListModels:
		err = h.listModels(ctx, inv, resp)
	case CommandCurrentModel:
		err = h.currentModel(ctx, inv, resp)
	case CommandSystemPrompt:
		err = h.systemPrompt(ctx, inv, resp)
	case CommandClearContext:
		err = h.clearContext(ctx, inv, resp)
	case CommandHelp:
		err = resp.Reply(ctx, helpText)
	default:
		err = resp.Reply(ctx, fmt.Sprintf("❌ Unknown command: %s", inv.Command))
	}

	if err != nil {
		logger.Warn("Command failed", zap.Error(err))
	}
}

func userID(inv Invocation) session.UserID {
	return session.UserID(inv.User.ID)
}

func (h *Handler) chat(ctx context.Context, inv Invocation, resp Responder) error {
	if err := resp.Defer(ctx); err != nil {
		return fmt.Errorf("deferring chat: %w", err)
	}

	message, _ := inv.Option(OptionMessage)
	if strings.TrimSpace(message) == "" {
		return resp.Reply(ctx, "❌ Please include a message.")
	}

	if h.limiter != nil && !h.limiter.Allow(inv.User.ID) {
		wait := h.limiter.RetryAfter(inv.User.ID).Round(time.Second)
		h.logger.Info("Chat rate limited", zap.String("user", inv.User.ID), zap.Duration("retry_after", wait))
		return resp.Reply(ctx, fmt.Sprintf("⏳ You're sending messages too quickly. Try again in %s.", wait))
	}

	release, err := h.state.AcquireTurn(ctx, userID(inv))
	if err != nil {
		return err
	}
	defer release()

	res, err := h.runner.Run(ctx, relay.Request{
		User:    userID(inv),
		Message: message,
		Channel: resp.Stream(),
	})
	if err != nil {
		model := h.state.Model(userID(inv), h.runner.DefaultModel())
		h.record(ctx, activity.ErrorEntry(inv.User.ID, inv.User.Name, inv.Guild, model, message, err.Error()))
		return fmt.Errorf("running chat turn: %w", err)
	}

	if res.Err != nil {
		h.record(ctx, activity.ErrorEntry(inv.User.ID, inv.User.Name, inv.Guild, res.Model, message, res.Err.Error()))
		if kind := relay.Classify(res.Err); kind != relay.ErrorKindCancelled {
			return resp.Reply(ctx, "ℹ️ "+relay.UserMessage(res.Err))
		}
		return nil
	}

	h.record(ctx, activity.Entry{
		UserID:   inv.User.ID,
		Username: inv.User.Name,
		Guild:    inv.Guild,
		Model:    res.Model,
		Input:    message,
		Output:   res.Text,
		Success:  true,
	})
	return nil
}

// record writes an activity entry. Activity logging never fails a command.
func (h *Handler) record(ctx context.Context, e activity.Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if err := h.activity.Record(context.WithoutCancel(ctx), e); err != nil {
		h.logger.Warn("Failed to record activity", zap.Error(err))
	}
}

func (h *Handler) switchModel(ctx context.Context, inv Invocation, resp Responder) error {
	if err := resp.Defer(ctx); err != nil {
		return fmt.Errorf("deferring switch_model: %w", err)
	}

	name, _ := inv.Option(OptionModelName)
	name = strings.TrimSpace(name)

	models := h.models.ListModels(ctx)
	if len(models) == 0 {
		return resp.Reply(ctx, "❌ Could not retrieve models from Ollama. Make sure Ollama is running.")
	}
	if !slices.Contains(models, name) {
		return resp.Reply(ctx, fmt.Sprintf("❌ Model '%s' not found.\n\nAvailable models:\n%s", name, bullets(models, "")))
	}

	h.state.SetModel(userID(inv), name)
	h.logger.Info("Model switched", zap.String("user", inv.User.ID), zap.String("model", name))
	return resp.Reply(ctx, fmt.Sprintf("✓ Switched to model: **%s**\nConversation context has been reset.", name))
}

func (h *Handler) listModels(ctx context.Context, inv Invocation, resp Responder) error {
	if err := resp.Defer(ctx); err != nil {
		return fmt.Errorf("deferring list_models: %w", err)
	}

	models := h.models.ListModels(ctx)
	if len(models) == 0 {
		return resp.Reply(ctx, "❌ No models found. Make sure Ollama is running and you have pulled at least one model.\n\n"+
			"Pull a model with: `ollama pull llama2`")
	}

	current := h.state.Model(userID(inv), h.runner.DefaultModel())
	return resp.Reply(ctx, "**Available Ollama Models:**\n"+bullets(models, current)+"\n\n(➤ = currently selected)")
}

// bullets lists items one per line, marking current with ➤.
func bullets(items []string, current string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		mark := "•"
		if item == current {
			mark = "➤"
		}
		lines[i] = mark + " " + item
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) currentModel(ctx context.Context, inv Invocation, resp Responder) error {
	user := userID(inv)
	prompt, ok := h.state.SystemPrompt(user)
	if !ok {
		prompt = "None"
	}
	contextState := "Empty"
	if h.state.HasContext(user) {
		contextState = "Active"
	}

	return resp.Reply(ctx, fmt.Sprintf("**Current Settings:**\n• Model: **%s**\n• System Prompt: %s\n• Conversation Context: %s",
		h.state.Model(user, h.runner.DefaultModel()), prompt, contextState))
}

func (h *Handler) systemPrompt(ctx context.Context, inv Invocation, resp Responder) error {
	user := userID(inv)

	prompt, ok := inv.Option(OptionPrompt)
	if !ok || prompt == "" {
		h.state.ClearSystemPrompt(user)
		return resp.Reply(ctx, "✓ System prompt cleared. Using model defaults.")
	}

	if err := config.ValidateSystemPrompt(prompt); err != nil {
		return resp.Reply(ctx, "❌ Invalid system prompt: "+err.Error())
	}

	h.state.SetSystemPrompt(user, prompt)
	return resp.Reply(ctx, fmt.Sprintf("✓ System prompt set to:\n```%s```", prompt))
}

func (h *Handler) clearContext(ctx context.Context, inv Invocation, resp Responder) error {
	if h.state.ClearContext(userID(inv)) {
		return resp.Reply(ctx, "✓ Conversation context cleared. Starting fresh!")
	}
	return resp.Reply(ctx, "ℹ️ Your conversation context is already empty.")
}

const helpText = `**Discord Ollama Bot Commands**

All responses are private (only you can see them).

**Chat Commands:**
• ` + "`/chat <message>`" + ` - Chat with the AI
• ` + "`/clear_context`" + ` - Start a fresh conversation

**Model Management:**
• ` + "`/list_models`" + ` - See all available models
• ` + "`/switch_model <name>`" + ` - Change to a different model
• ` + "`/current_model`" + ` - View your current settings

**Advanced:**
• ` + "`/system_prompt <prompt>`" + ` - Set custom behavior for the AI
• ` + "`/help`" + ` - Show this help message

**Tips:**
- Each user has their own conversation context
- Context is maintained across messages for continuity
- Switch models anytime without affecting other users
- System prompts let you customize AI behavior`
