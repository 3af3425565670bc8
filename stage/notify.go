package stage

import (
	"context"

	"github.com/arrowstream/stagepipe/mailbox"
)

// notifyRequest is the CallRequest payload sent by Notify; the kernel
// recognises it before ever reaching a stage's own CallHandler.
type notifyRequest struct{ msg any }

// castEnvelope wraps a fire-and-forget message sent via Cast so the
// kernel's message switch can tell it apart from wire-protocol and
// unrelated info messages.
type castEnvelope struct{ payload any }

// Notify implements spec.md §4.6's sync_notify: it blocks until target (a
// PRODUCER or PRODUCER_CONSUMER) has queued or immediately dispatched msg
// as a Notification, or ctx expires. Calling Notify on a pure CONSUMER
// returns an error.
func Notify(ctx context.Context, target mailbox.Address, msg any) error {
	reply, err := mailbox.Call(ctx, target, notifyRequest{msg: msg})
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	return reply.(error)
}

// Cast sends msg to target for asynchronous handling by its CastHandler,
// if any, without waiting for a reply.
func Cast(target mailbox.Address, msg any) error {
	return target.Send(castEnvelope{payload: msg})
}
