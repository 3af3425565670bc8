package subscription

import (
	"github.com/arrowstream/stagepipe/mailbox"
	"github.com/arrowstream/stagepipe/stage/proto"
)

// DemandMode selects how a consumer-side subscription's demand is driven,
// spec.md §3's `demand_state = (pending, min, max) | MANUAL |
// PRODUCER_CONSUMER_PASSTHROUGH`.
type DemandMode int

const (
	// Automatic is the standard refill engine of spec.md §4.3.
	Automatic DemandMode = iota
	// Manual means the user drives demand entirely via ask/2.
	Manual
	// Passthrough marks a PRODUCER_CONSUMER's upstream subscription,
	// whose demand is driven by the PC bridge (stage/pc) rather than the
	// consumer demand engine.
	Passthrough
)

// DemandState is the per-subscription demand window of spec.md §4.3.
type DemandState struct {
	Mode    DemandMode
	Pending int
	Min     int
	Max     int
}

// ProducerEntry is what a consumer remembers about an acked subscription
// to a producer: spec.md §3's `producers: mapping from subscription-ref
// -> (producer_addr, cancel_policy, demand_state)`.
type ProducerEntry struct {
	Addr    mailbox.Address
	Cancel  proto.CancelPolicy
	Demand  DemandState
	Monitor mailbox.Ref
}

// PendingEntry is a subscription this consumer has requested but not yet
// had acked, spec.md §3's pre-ack `monitors` record.
type PendingEntry struct {
	Addr    mailbox.Address
	Cancel  proto.CancelPolicy
	Min     int
	Max     int
	Opts    proto.SubscribeOpts
	Monitor mailbox.Ref
}

// ConsumerSide tracks a consumer's pending and acked subscriptions.
type ConsumerSide struct {
	pending   map[mailbox.Ref]PendingEntry
	producers map[mailbox.Ref]*ProducerEntry
	byMonitor map[mailbox.Ref]mailbox.Ref
}

// NewConsumerSide creates an empty consumer-side subscription table.
func NewConsumerSide() *ConsumerSide {
	return &ConsumerSide{
		pending:   make(map[mailbox.Ref]PendingEntry),
		producers: make(map[mailbox.Ref]*ProducerEntry),
		byMonitor: make(map[mailbox.Ref]mailbox.Ref),
	}
}

// AddPending records a SUBSCRIBE sent but not yet acked.
func (c *ConsumerSide) AddPending(ref mailbox.Ref, e PendingEntry) {
	c.pending[ref] = e
	c.byMonitor[e.Monitor] = ref
}

// Pending looks up a pre-ack entry.
func (c *ConsumerSide) Pending(ref mailbox.Ref) (PendingEntry, bool) {
	e, ok := c.pending[ref]
	return e, ok
}

// Promote moves a pending entry to acked status with the given demand
// state (spec.md §4.2, consumer receiving ACK).
func (c *ConsumerSide) Promote(ref mailbox.Ref, demand DemandState) (*ProducerEntry, bool) {
	pending, ok := c.pending[ref]
	if !ok {
		return nil, false
	}
	delete(c.pending, ref)
	entry := &ProducerEntry{
		Addr:    pending.Addr,
		Cancel:  pending.Cancel,
		Demand:  demand,
		Monitor: pending.Monitor,
	}
	c.producers[ref] = entry
	return entry, true
}

// Get returns the acked entry for ref.
func (c *ConsumerSide) Get(ref mailbox.Ref) (*ProducerEntry, bool) {
	e, ok := c.producers[ref]
	return e, ok
}

// Remove deletes ref from both pending and acked tables, returning
// whichever state existed (a subscription can only be in one at a time).
func (c *ConsumerSide) Remove(ref mailbox.Ref) (monitor mailbox.Ref, cancelPolicy proto.CancelPolicy, found bool) {
	if e, ok := c.producers[ref]; ok {
		delete(c.producers, ref)
		delete(c.byMonitor, e.Monitor)
		return e.Monitor, e.Cancel, true
	}
	if e, ok := c.pending[ref]; ok {
		delete(c.pending, ref)
		delete(c.byMonitor, e.Monitor)
		return e.Monitor, e.Cancel, true
	}
	return mailbox.Ref{}, 0, false
}

// RefByMonitor resolves a monitor Down back to its subscription ref,
// searching both pending and acked subscriptions.
func (c *ConsumerSide) RefByMonitor(monitor mailbox.Ref) (mailbox.Ref, bool) {
	ref, ok := c.byMonitor[monitor]
	return ref, ok
}

// IsPending reports whether ref is still awaiting an ACK.
func (c *ConsumerSide) IsPending(ref mailbox.Ref) bool {
	_, ok := c.pending[ref]
	return ok
}

// Count returns the number of acked producer subscriptions.
func (c *ConsumerSide) Count() int { return len(c.producers) }

// Each iterates every acked subscription in an unspecified order.
func (c *ConsumerSide) Each(fn func(ref mailbox.Ref, e *ProducerEntry)) {
	for ref, e := range c.producers {
		fn(ref, e)
	}
}
