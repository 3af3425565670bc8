// Package stage is the kernel of spec.md §4.1: the single-goroutine
// callback dispatch loop that turns the pure computation packages
// (stage/demand, stage/dispatch, stage/pc, stage/subscription) and the
// mailbox runtime into a running Producer, Consumer, or ProducerConsumer.
//
// Unlike the Elixir original, user state is not threaded explicitly
// through every callback return value; a Go module holds its own state as
// fields on the receiver, the idiomatic equivalent (mirroring how the
// teacher's own processors close over configuration and buffers rather
// than passing an opaque accumulator).
package stage

import (
	"github.com/arrowstream/stagepipe/mailbox"
	"github.com/arrowstream/stagepipe/stage/proto"
)

// SubscribeOpts re-exports proto.SubscribeOpts so callback implementations
// never need to import stage/proto directly.
type SubscribeOpts = proto.SubscribeOpts

// Role identifies which side of a subscription a peer plays, passed to
// HandleSubscribe so a single callback can serve both directions (spec.md
// §4.1: producer receiving SUBSCRIBE sees RoleConsumer; consumer receiving
// ACK sees RoleProducer).
type Role int

const (
	RoleConsumer Role = iota
	RoleProducer
)

func (r Role) String() string {
	if r == RoleProducer {
		return "producer"
	}
	return "consumer"
}

// Decision is a HandleSubscribe callback's answer to whether the kernel
// should drive the new subscription automatically.
type Decision int

const (
	// Automatic lets the kernel manage demand: on the producer side, the
	// dispatcher is told about the consumer immediately; on the consumer
	// side, the demand engine of spec.md §4.3 owns the pending/min/max
	// window and issues its own top-up ASKs.
	Automatic Decision = iota
	// Manual acks the consumer without registering it with the dispatcher
	// (producer side) or hands the caller full control of ask/2 (consumer
	// side).
	Manual
)

// Action is what any callback hands back to the kernel alongside its
// events: whether to stop the stage, and whether to hibernate afterward.
// The zero value performs neither.
type Action struct {
	// Stop, if non-nil, terminates the stage with this error as reason.
	// Use stageerrors.Normal or stageerrors.Shutdown for a clean exit.
	Stop error
	// Hibernate requests the kernel call debug.FreeOSMemory once the
	// current message has been fully processed (spec.md §4.1, "a stage
	// idle under memory pressure may hibernate between messages").
	Hibernate bool
}

// CancelKind distinguishes a peer-initiated protocol cancellation from a
// monitored peer's crash.
type CancelKind int

const (
	CancelKindCancel CancelKind = iota
	CancelKindDown
)

// CancelInfo is passed to HandleCancel describing why a subscription
// ended.
type CancelInfo struct {
	Kind   CancelKind
	Reason error
}

// Common is embedded by every role-specific callback interface: the
// subscribe/cancel/terminate lifecycle applies uniformly regardless of
// whether the stage acts as producer, consumer, or both (spec.md §4.1's
// handle_subscribe, handle_cancel, and terminate callbacks).
type Common interface {
	// HandleSubscribe is invoked whenever a subscription reaches this
	// stage, whether the peer subscribed to this stage as a producer
	// (peerRole == RoleConsumer) or acknowledged this stage's own
	// subscription request (peerRole == RoleProducer).
	HandleSubscribe(peerRole Role, opts SubscribeOpts, from mailbox.Address) (Decision, Action)

	// HandleCancel is invoked when a subscription this stage participated
	// in ends, for any reason in info.Kind. Any returned events are
	// dispatched exactly like events returned from HandleDemand or
	// HandleEvents (logged as an error and discarded on a pure consumer).
	HandleCancel(info CancelInfo, from mailbox.Address) ([]any, Action)

	// Terminate is called once, after the kernel loop has already decided
	// to stop, with the final reason. It exists purely for cleanup and its
	// return value (if any) is not used to alter shutdown.
	Terminate(reason error)
}

// ProducerCallbacks is the contract for a pure PRODUCER stage.
type ProducerCallbacks interface {
	Common
	// HandleDemand is called with the demand a dispatcher callout could
	// not satisfy from the buffer (spec.md §4.4's dispatch_events residual).
	HandleDemand(n int) ([]any, Action)
}

// ConsumerCallbacks is the contract for a pure CONSUMER stage.
type ConsumerCallbacks interface {
	Common
	// HandleEvents delivers one demand-engine sub-batch (spec.md §4.3). A
	// pure consumer must return no events; doing so is a BadReturn.
	HandleEvents(events []any, from mailbox.Address) ([]any, Action)
}

// ProducerConsumerCallbacks is the contract for a PRODUCER_CONSUMER stage:
// it has no HandleDemand (its demand toward upstream is driven by the
// stage/pc bridge, spec.md §4.5) but otherwise looks like a consumer that
// is also allowed to emit events for its own downstream.
type ProducerConsumerCallbacks interface {
	Common
	HandleEvents(events []any, from mailbox.Address) ([]any, Action)
}

// NotificationHandler is an optional interface a Consumer or
// ProducerConsumer callback set may implement to observe out-of-band
// notifications (spec.md §4.6) interleaved into its event stream. A
// callback set that does not implement it simply has notifications
// logged at debug level and dropped.
type NotificationHandler interface {
	HandleNotification(msg any, from mailbox.Address) Action
}

// CallHandler is an optional interface for synchronous request/reply
// messages sent via Call (spec.md §5). The mailbox's Call primitive
// carries no sender address (an external caller need not be a stage
// itself), so unlike the other callbacks HandleCall receives no from.
type CallHandler interface {
	HandleCall(msg any) (reply any, events []any, action Action)
}

// CastHandler is an optional interface for fire-and-forget messages sent
// via Cast.
type CastHandler interface {
	HandleCast(msg any) ([]any, Action)
}

// InfoHandler is an optional interface for any message the kernel
// receives that is not part of the wire protocol and not a Call or Cast
// envelope (spec.md §4.1's handle_info catch-all).
type InfoHandler interface {
	HandleInfo(msg any) ([]any, Action)
}
