// Package proto defines the wire protocol of spec.md §6: every message is
// conceptually a (TAG, from=(peer_addr, ref), payload) triple. In Go each
// tag is its own concrete type carrying the ref, an explicit From, and the
// payload. mailbox.Mailbox attaches no sender metadata of its own — there
// is nothing to reconstruct a "from" out of after delivery — so every
// producer<->consumer message below must have its From populated by
// whichever side sends it. A message built with a zero From silently
// breaks the peer's ability to route its own reply (Ask, Cancel, ...)
// back to the sender.
package proto

import (
	"github.com/arrowstream/stagepipe/mailbox"
)

// CancelReason enumerates why a subscription ended.
type CancelReason int

const (
	// CancelUnknown is the zero value, for a Cancel that names no
	// particular reason. A plain local cancel sends CancelNormal instead.
	CancelUnknown CancelReason = iota
	// CancelDuplicatedSubscription is sent back to a consumer that
	// reused a ref the producer already tracks.
	CancelDuplicatedSubscription
	// CancelUnknownSubscription is sent back to a peer that referenced a
	// ref this side has no record of.
	CancelUnknownSubscription
	// CancelDown means the peer crashed; the reason field on Cancel
	// carries the underlying error.
	CancelDown
	// CancelNormal is a clean, user-initiated cancellation.
	CancelNormal
)

func (r CancelReason) String() string {
	switch r {
	case CancelDuplicatedSubscription:
		return "duplicated_subscription"
	case CancelUnknownSubscription:
		return "unknown_subscription"
	case CancelDown:
		return "down"
	case CancelNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// SubscribeOpts carries the validated subscription options of spec.md §6.
type SubscribeOpts struct {
	Cancel      CancelPolicy
	MinDemand   int
	MaxDemand   int
	Extra       map[string]any
}

// CancelPolicy governs whether losing the producer terminates the
// consumer (spec.md §6, "cancel" subscription option).
type CancelPolicy int

const (
	// Permanent is the default: losing the producer STOPs the consumer.
	Permanent CancelPolicy = iota
	// Temporary: losing the producer only calls handle_cancel; the
	// consumer continues running.
	Temporary
)

// Subscribe is sent consumer -> producer to open a subscription. The
// consumer MUST have called mailbox.Address.Monitor on the producer
// before sending this (spec.md §6).
type Subscribe struct {
	Ref      mailbox.Ref
	From     mailbox.Address
	Opts     SubscribeOpts
}

// Ask is sent consumer -> producer, granting count further events on Ref.
type Ask struct {
	Ref   mailbox.Ref
	From  mailbox.Address
	Count int
}

// Cancel is bidirectional: consumer -> producer to end a subscription
// locally, or producer -> consumer to reject/end one.
type Cancel struct {
	Ref    mailbox.Ref
	From   mailbox.Address
	Reason CancelReason
	// Err carries the underlying cause when Reason == CancelDown.
	Err error
}

// Ack is sent producer -> consumer once the producer has monitored the
// consumer and accepted the subscription.
type Ack struct {
	Ref  mailbox.Ref
	From mailbox.Address
	Opts SubscribeOpts
}

// Events is sent producer -> consumer; len(Batch) >= 1 per spec.md §6.
type Events struct {
	Ref   mailbox.Ref
	From  mailbox.Address
	Batch []any
}

// Notification is delivered in-band with events, interleaved by the
// notification wheel (spec.md §4.6) at the position it occupied in the
// producer's logical output stream.
type Notification struct {
	Ref  mailbox.Ref
	From mailbox.Address
	Msg  any
}

// Redirect is reserved wire-protocol room for a future subscription
// hand-off feature (spec.md §9, Open Question a). The kernel accepts the
// message shape today but replies with stageerrors.Unsupported; no
// implementation is provided.
type Redirect struct {
	Ref      mailbox.Ref
	From     mailbox.Address
	NewPeer  mailbox.Address
}
