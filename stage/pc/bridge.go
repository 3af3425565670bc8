// Package pc implements the producer-consumer bridge of spec.md §4.5: a
// PRODUCER_CONSUMER stage has no handle_demand, and instead holds either
// an outstanding downstream-demand integer or a FIFO of unfulfilled
// upstream batches. It is pure computation, mirroring stage/demand's
// separation of algorithm from mailbox I/O.
package pc

import "github.com/arrowstream/stagepipe/mailbox"

// Batch is one upstream delivery awaiting downstream demand, spec.md
// §3's `(events, length, producer_ref)` queue entry.
type Batch struct {
	Events      []any
	ProducerRef mailbox.Ref
}

// Bridge holds the PC stage's `events` field: either an integer amount of
// outstanding downstream demand (queue empty) or a non-empty queue of
// upstream batches (demand dormant until the queue drains).
type Bridge struct {
	demand int
	queue  []Batch
}

// New creates a Bridge with zero outstanding demand and an empty queue.
func New() *Bridge { return &Bridge{} }

// OutstandingDemand reports the current integer demand, valid only while
// QueueLen() == 0.
func (b *Bridge) OutstandingDemand() int { return b.demand }

// QueueLen reports how many upstream batches are queued.
func (b *Bridge) QueueLen() int { return len(b.queue) }

// OnDownstreamDemand implements spec.md §4.5 "On downstream demand n": if
// the queue is empty the demand accumulates on the integer counter;
// otherwise it drains queued batches, splitting the head batch when
// demand runs out mid-batch. It returns, in delivery order, each slice of
// events that should now be pushed through handle_events, plus the
// portion of n that could not be satisfied from already-buffered upstream
// data — the amount the bridge's PRODUCER_CONSUMER_PASSTHROUGH demand
// state (spec.md §3) must now forward upstream as a fresh ASK.
func (b *Bridge) OnDownstreamDemand(n int) (deliveries []Batch, askUpstream int) {
	if len(b.queue) == 0 {
		b.demand += n
		return nil, n
	}

	remaining := n
	for remaining > 0 && len(b.queue) > 0 {
		head := b.queue[0]
		length := len(head.Events)
		if length <= remaining {
			deliveries = append(deliveries, head)
			remaining -= length
			b.queue = b.queue[1:]
			continue
		}
		deliveries = append(deliveries, Batch{Events: head.Events[:remaining], ProducerRef: head.ProducerRef})
		b.queue[0] = Batch{Events: head.Events[remaining:], ProducerRef: head.ProducerRef}
		remaining = 0
	}

	if len(b.queue) == 0 {
		b.demand = remaining
	}
	return deliveries, remaining
}

// OnUpstreamEvents implements spec.md §4.5 "On upstream events of size k
// on ref r": while the bridge is in integer-demand mode it satisfies up
// to d of the batch immediately and queues the rest; once any batch is
// queued, subsequent upstream deliveries queue in full until the queue
// drains back to empty (spec.md: "This guarantees the PC stage never
// synthesises unasked-for demand toward upstream yet absorbs arbitrarily
// large upstream batches").
func (b *Bridge) OnUpstreamEvents(events []any, ref mailbox.Ref) (immediate []any) {
	if len(b.queue) == 0 && b.demand > 0 {
		take := b.demand
		if take > len(events) {
			take = len(events)
		}
		immediate = events[:take]
		b.demand -= take
		if rest := events[take:]; len(rest) > 0 {
			b.queue = append(b.queue, Batch{Events: rest, ProducerRef: ref})
		}
		return immediate
	}
	b.queue = append(b.queue, Batch{Events: events, ProducerRef: ref})
	return nil
}
