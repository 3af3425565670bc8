// Package subscription implements the subscribe/ack/cancel state machine
// of spec.md §4.2 on both the producer and consumer sides, tracked as the
// `consumers`, `producers`, and `monitors` maps of spec.md §3's Stage
// record. Split into ProducerSide and ConsumerSide since a
// PRODUCER_CONSUMER stage runs both simultaneously.
package subscription

import (
	"github.com/arrowstream/stagepipe/mailbox"
)

// ConsumerEntry is what a producer remembers about a subscribed consumer.
type ConsumerEntry struct {
	Addr    mailbox.Address
	Monitor mailbox.Ref
}

// ProducerSide tracks a producer's acked subscriptions: spec.md §3's
// `consumers: mapping from subscription-ref -> (consumer_addr,
// monitor_handle)`, plus the reverse monitor-ref index needed to resolve
// a Down message back to the subscription it belongs to.
type ProducerSide struct {
	consumers map[mailbox.Ref]ConsumerEntry
	byMonitor map[mailbox.Ref]mailbox.Ref
}

// NewProducerSide creates an empty producer-side subscription table.
func NewProducerSide() *ProducerSide {
	return &ProducerSide{
		consumers: make(map[mailbox.Ref]ConsumerEntry),
		byMonitor: make(map[mailbox.Ref]mailbox.Ref),
	}
}

// Has reports whether ref is already a known, acked subscription (spec.md
// §4.2: producer receiving SUBSCRIBE with a duplicate ref).
func (p *ProducerSide) Has(ref mailbox.Ref) bool {
	_, ok := p.consumers[ref]
	return ok
}

// Add records a newly-acked subscription.
func (p *ProducerSide) Add(ref mailbox.Ref, addr mailbox.Address, monitor mailbox.Ref) {
	p.consumers[ref] = ConsumerEntry{Addr: addr, Monitor: monitor}
	p.byMonitor[monitor] = ref
}

// Get returns the entry for ref.
func (p *ProducerSide) Get(ref mailbox.Ref) (ConsumerEntry, bool) {
	e, ok := p.consumers[ref]
	return e, ok
}

// Remove deletes ref, if present, and returns the removed entry.
func (p *ProducerSide) Remove(ref mailbox.Ref) (ConsumerEntry, bool) {
	e, ok := p.consumers[ref]
	if ok {
		delete(p.consumers, ref)
		delete(p.byMonitor, e.Monitor)
	}
	return e, ok
}

// RefByMonitor resolves a monitor Down back to its subscription ref.
func (p *ProducerSide) RefByMonitor(monitor mailbox.Ref) (mailbox.Ref, bool) {
	ref, ok := p.byMonitor[monitor]
	return ref, ok
}

// Count returns the number of currently acked consumers.
func (p *ProducerSide) Count() int { return len(p.consumers) }

// Each iterates every acked subscription in an unspecified order.
func (p *ProducerSide) Each(fn func(ref mailbox.Ref, e ConsumerEntry)) {
	for ref, e := range p.consumers {
		fn(ref, e)
	}
}
