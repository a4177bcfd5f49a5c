// Package relay runs chat turns: it streams a generation from the backend, renders the
// growing response into platform messages, and merges the continuation context back
// into the user's session.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Veraticus/ollamacord/internal/ollama"
	"github.com/Veraticus/ollamacord/internal/render"
	"github.com/Veraticus/ollamacord/internal/session"
)

const (
	// DefaultFlushInterval is the minimum time between message updates while streaming.
	DefaultFlushInterval = 1500 * time.Millisecond
	// DefaultModel is used when neither the user nor the operator chose one.
	DefaultModel = "dolphin24b"
	// DefaultTurnTimeout bounds a single generation.
	DefaultTurnTimeout = 5 * time.Minute
	// DefaultFinishTimeout bounds the final render of a turn, which runs even after the
	// turn's context is canceled.
	DefaultFinishTimeout = 10 * time.Second

	errorPrefix = "❌ Error during streaming: "
)

// Generator produces the event stream for one generation request.
type Generator interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) <-chan ollama.StreamEvent
}

// Relay runs turns. It is safe for concurrent use; serializing turns of the same user is
// the caller's job (see session.Manager.AcquireTurn).
type Relay struct {
	gen           Generator
	state         session.StateManager
	logger        *zap.Logger
	now           func() time.Time
	defaultModel  string
	flushInterval time.Duration
	chunkLimit    int
	turnTimeout   time.Duration
	finishTimeout time.Duration
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock substitutes the time source used for flush decisions.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// WithDefaultModel sets the model used for users who have not chosen one.
func WithDefaultModel(model string) Option {
	return func(r *Relay) {
		if model != "" {
			r.defaultModel = model
		}
	}
}

// WithFlushInterval sets the minimum time between message updates.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.flushInterval = d
		}
	}
}

// WithChunkLimit sets the per-message character limit.
func WithChunkLimit(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.chunkLimit = n
		}
	}
}

// WithTurnTimeout bounds each generation. Zero disables the bound.
func WithTurnTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d >= 0 {
			r.turnTimeout = d
		}
	}
}

// WithFinishTimeout bounds the final render and delivery notice of a turn.
func WithFinishTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.finishTimeout = d
		}
	}
}

// New creates a relay.
func New(gen Generator, state session.StateManager, opts ...Option) (*Relay, error) {
	if gen == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if state == nil {
		return nil, fmt.Errorf("state manager is required")
	}

	r := &Relay{
		gen:           gen,
		state:         state,
		logger:        zap.NewNop(),
		now:           time.Now,
		defaultModel:  DefaultModel,
		flushInterval: DefaultFlushInterval,
		chunkLimit:    render.DefaultLimit,
		turnTimeout:   DefaultTurnTimeout,
		finishTimeout: DefaultFinishTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// DefaultModel returns the model used for users without a selection.
func (r *Relay) DefaultModel() string {
	return r.defaultModel
}

// Request is one chat turn.
type Request struct {
	User    session.UserID
	Message string
	Channel Channel
}

// Message is one rendered platform message of a turn.
type Message struct {
	Handle  Handle
	Content string
}

// Result describes how a turn ended.
type Result struct {
	TurnID string
	Model  string
	State  State
	// Text is the generated text, without header or annotations.
	Text string
	// Context is the continuation context from Done, if any.
	Context []int
	// Committed reports whether Context was stored in the session.
	Committed bool
	// Err is the terminal failure of a Failed turn.
	Err error
	// DeliveryErr aggregates every failed send or edit.
	DeliveryErr error
	Messages    []Message
}

// Header is the preamble shown above a response.
func Header(model, message string) string {
	return "**Model:** " + model + "\n**You:** " + message + "\n\n**AI:** "
}

// turn is the mutable state of one Run.
type turn struct {
	relay     *Relay
	ch        Channel
	logger    *zap.Logger
	header    string
	text      strings.Builder
	tokens    int
	messages  []Message
	state     State
	lastFlush time.Time
	delivery  error
}

// Run executes one turn and reports its outcome. Backend failures end the turn in
// StateFailed and are reported in Result.Err; the returned error is reserved for
// invalid requests and broken state transitions.
func (r *Relay) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Channel == nil {
		return nil, fmt.Errorf("request has no channel")
	}

	snap := r.state.Snapshot(req.User, r.defaultModel)
	res := &Result{TurnID: uuid.NewString(), Model: snap.Model}

	logger := r.logger.With(
		zap.String("turn_id", res.TurnID),
		zap.String("user", string(req.User)),
		zap.String("model", snap.Model),
	)
	t := &turn{
		relay:  r,
		ch:     req.Channel,
		logger: logger,
		header: Header(snap.Model, req.Message),
	}
	if err := t.transition(StateStreaming); err != nil {
		return nil, err
	}

	start := r.now()
	t.lastFlush = start

	genCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.turnTimeout > 0 {
		genCtx, cancel = context.WithTimeout(ctx, r.turnTimeout)
	}
	defer cancel()

	t.logger.Debug("Turn started",
		zap.Bool("has_context", len(snap.Context) > 0),
		zap.Bool("has_system_prompt", snap.HasSystemPrompt))

	events := r.gen.Generate(genCtx, ollama.GenerateRequest{
		Model:   snap.Model,
		Prompt:  req.Message,
		System:  snap.SystemPrompt,
		Context: snap.Context,
	})

	final, err := t.consume(ctx, events)
	if err != nil {
		return nil, err
	}

	// The last render and any notice still go out when ctx was canceled, so the user
	// sees how the turn ended.
	finishCtx, finish := context.WithTimeout(context.WithoutCancel(ctx), r.finishTimeout)
	defer finish()

	switch final.Kind {
	case ollama.EventDone:
		if err := t.flush(finishCtx, t.display(), StateCompleted); err != nil {
			return nil, err
		}
		if len(final.Context) > 0 {
			res.Context = final.Context
			res.Committed = r.state.CommitContext(req.User, snap, final.Context)
			if !res.Committed {
				t.logger.Info("Session changed during turn, context discarded")
			}
		}
	default:
		res.Err = r.failureCause(ctx, genCtx, final.Err)
		if err := t.flush(finishCtx, t.annotated(res.Err), StateFailed); err != nil {
			return nil, err
		}
	}

	if t.delivery != nil {
		t.notifyDeliveryFailures(finishCtx)
	}

	res.State = t.state
	res.Text = t.text.String()
	res.DeliveryErr = t.delivery
	res.Messages = append([]Message(nil), t.messages...)

	fields := []zap.Field{
		zap.String("state", res.State.String()),
		zap.Int("tokens", t.tokens),
		zap.Int("messages", len(res.Messages)),
		zap.Duration("duration", r.now().Sub(start)),
		zap.Int("delivery_failures", len(multierr.Errors(t.delivery))),
	}
	if res.Err != nil {
		t.logger.Warn("Turn failed", append(fields,
			zap.String("kind", Classify(res.Err).String()),
			zap.Error(res.Err))...)
	} else {
		t.logger.Info("Turn completed", fields...)
	}

	return res, nil
}

// consume reads the stream until it closes and returns the terminal event. Tokens are
// accumulated and flushed whenever the flush interval has elapsed.
func (t *turn) consume(ctx context.Context, events <-chan ollama.StreamEvent) (ollama.StreamEvent, error) {
	var final *ollama.StreamEvent
	for ev := range events {
		if final != nil {
			// Nothing may follow a terminal event; keep draining so the producer exits.
			continue
		}

		switch ev.Kind {
		case ollama.EventToken:
			t.text.WriteString(ev.Text)
			t.tokens++
			if t.relay.now().Sub(t.lastFlush) >= t.relay.flushInterval {
				if err := t.flush(ctx, t.display(), StateStreaming); err != nil {
					return ollama.StreamEvent{}, err
				}
			}
		case ollama.EventDone, ollama.EventFailure:
			final = &ev
		}
	}

	if final == nil {
		return ollama.Failure(ErrStreamTruncated), nil
	}
	return *final, nil
}

// failureCause attributes a stream failure to the turn timeout or to cancellation
// when either is what actually ended the request.
func (r *Relay) failureCause(ctx, genCtx context.Context, err error) error {
	if err == nil {
		err = errors.New("unknown stream failure")
	}
	switch {
	case ctx.Err() != nil:
		if !errors.Is(err, ctx.Err()) {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	case errors.Is(genCtx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("%w after %s: %w", ErrTurnTimeout, r.turnTimeout, err)
	}
	return err
}

func (t *turn) display() string {
	return t.header + t.text.String()
}

// annotated is the display text with the failure appended.
func (t *turn) annotated(err error) string {
	out := t.display()
	if t.text.Len() > 0 {
		out += "\n\n"
	}
	return out + errorPrefix + err.Error()
}

func (t *turn) transition(to State) error {
	if IsTerminal(t.state) {
		return fmt.Errorf("turn already %s, cannot move to %s", t.state, to)
	}
	if !CanTransition(t.state, to) {
		return fmt.Errorf("invalid turn transition from %s to %s", t.state, to)
	}
	t.state = to
	return nil
}

// flush renders content over the turn's messages and moves to next.
func (t *turn) flush(ctx context.Context, content string, next State) error {
	if err := t.transition(StateFlushing); err != nil {
		return err
	}

	chunks := render.Partition(content, t.relay.chunkLimit)
	t.apply(ctx, render.Reconcile(chunks, len(t.messages)))
	t.lastFlush = t.relay.now()

	return t.transition(next)
}

// apply executes reconcile ops. A failed op is recorded and the rest still run, except
// that creates stop at the first failure: a later chunk must not take an earlier one's
// position. The next flush retries the missing chunk.
func (t *turn) apply(ctx context.Context, ops []render.Op) {
	for _, op := range ops {
		switch op.Kind {
		case render.OpEdit:
			t.edit(ctx, op)
		case render.OpCreate:
			if !t.create(ctx, op) {
				return
			}
		}
	}
}

func (t *turn) edit(ctx context.Context, op render.Op) {
	msg := &t.messages[op.Index]
	err := t.ch.Edit(ctx, msg.Handle, op.Content)
	if errors.Is(err, ErrMessageGone) {
		t.logger.Debug("Message gone, sending it again", zap.Int("chunk", op.Index))
		var h Handle
		if h, err = t.ch.Send(ctx, op.Content); err == nil {
			msg.Handle = h
		}
	}
	if err != nil {
		t.recordDelivery(op, err)
		return
	}
	msg.Content = op.Content
}

func (t *turn) create(ctx context.Context, op render.Op) bool {
	h, err := t.ch.Send(ctx, op.Content)
	if err != nil {
		t.recordDelivery(op, err)
		return false
	}
	t.messages = append(t.messages, Message{Handle: h, Content: op.Content})
	return true
}

func (t *turn) recordDelivery(op render.Op, err error) {
	t.logger.Warn("Message delivery failed",
		zap.String("op", op.Kind.String()),
		zap.Int("chunk", op.Index),
		zap.Error(err))
	t.delivery = multierr.Append(t.delivery, &DeliveryError{Index: op.Index, Op: op.Kind, Err: err})
}

// notifyDeliveryFailures tells the user that part of the response may be stale.
func (t *turn) notifyDeliveryFailures(ctx context.Context) {
	n := len(multierr.Errors(t.delivery))
	notice := fmt.Sprintf("⚠️ %d message update(s) failed to deliver.", n)
	if _, err := t.ch.Send(ctx, notice); err != nil {
		t.logger.Warn("Could not send delivery notice", zap.Error(err))
	}
}
