package mailbox

import (
	"context"
	"fmt"
)

// CallRequest is the envelope a synchronous caller sends. The receiving
// stage's kernel loop is expected to deliver reply on Reply exactly once;
// a caller whose context expires simply stops listening (spec §5:
// "expiry causes the caller to fail — the stage itself is unaffected").
type CallRequest struct {
	Payload any
	Reply   chan<- any
}

// Call sends payload to target and blocks until either a reply arrives or
// ctx is done, matching spec.md §5's synchronous call/reply timeout
// semantics (sync_notify, sync_subscribe, handle_call replies).
func Call(ctx context.Context, target Address, payload any) (any, error) {
	replyCh := make(chan any, 1)
	if err := target.Send(CallRequest{Payload: payload, Reply: replyCh}); err != nil {
		return nil, fmt.Errorf("mailbox: call failed: %w", err)
	}
	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
