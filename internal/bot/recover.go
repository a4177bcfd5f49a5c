package bot

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
)

const panicReply = "❌ Something unexpected went wrong. Please try again."

// PanicHook observes recovered panics, e.g. to count them.
type PanicHook func(command string, panicValue any)

// recoverPanic must be deferred directly by Handle. It logs the panic with its stack
// and tells the user something went wrong instead of leaving the interaction hanging.
func (h *Handler) recoverPanic(ctx context.Context, inv Invocation, resp Responder) {
	r := recover()
	if r == nil {
		return
	}

	h.logger.Error("PANIC in command handler",
		zap.String("command", inv.Command),
		zap.String("user", inv.User.ID),
		zap.Any("panic", r),
		zap.ByteString("stack_trace", debug.Stack()))

	if h.onPanic != nil {
		h.onPanic(inv.Command, r)
	}

	if err := resp.Reply(context.WithoutCancel(ctx), panicReply); err != nil {
		h.logger.Warn("Could not report panic to user", zap.Error(err))
	}
}
