// Package dispatch implements the producer dispatch pipeline of spec.md
// §4.4 (dispatcher plug-in callout + bounded buffer + notification
// interleaving) and defines the Dispatcher plug-in contract of spec.md
// §6. Built-in dispatcher implementations live in the sibling
// "dispatcher" package to keep the contract free of any particular
// routing policy, mirroring the teacher's separation between
// internal/component/output (the contract) and internal/impl/pure (the
// concrete brokers).
package dispatch

import (
	"github.com/arrowstream/stagepipe/mailbox"
	"github.com/arrowstream/stagepipe/stage/proto"
)

// Dispatcher is the six-method plug-in contract of spec.md §6: init is
// handled by the concrete constructor (idiomatic Go has no opaque
// per-plugin state threaded by the caller), so only the five runtime
// callouts are part of this interface.
//
// Every method may be called only from the owning producer's single
// kernel goroutine; implementations need no internal locking on that
// account, though they must still guard any state shared with a
// background goroutine they spawn themselves. Broadcast's fan-out
// goroutines only send, and are joined before Dispatch or Notify returns.
type Dispatcher interface {
	// Subscribe registers a new consumer and returns demand freshly
	// granted toward the producer's own upstream (spec.md §4.4).
	Subscribe(ref mailbox.Ref, consumer mailbox.Address, opts proto.SubscribeOpts) (granted int)

	// Cancel removes a consumer, returning any demand it still held that
	// the dispatcher can now redistribute or report as newly granted.
	Cancel(ref mailbox.Ref) (granted int)

	// Ask records additional demand from an already-subscribed consumer.
	Ask(ref mailbox.Ref, n int) (granted int)

	// Dispatch attempts to route events to subscribed consumers per the
	// dispatcher's policy, returning any events it could not place
	// (typically: beyond currently outstanding downstream demand).
	Dispatch(events []any) (undispatched []any)

	// Notify delivers an out-of-band message to whichever consumer(s)
	// the dispatcher's policy selects (spec.md §6: "shape chosen by
	// dispatcher").
	Notify(msg any)
}
