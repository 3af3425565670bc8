package dispatcher

import (
	"github.com/sourcegraph/conc"

	"github.com/arrowstream/stagepipe/mailbox"
	"github.com/arrowstream/stagepipe/stage/proto"
)

// Broadcast sends every event to every subscribed consumer, gated on the
// minimum outstanding demand across all of them so no consumer ever
// receives more than it asked for. Grounded on the teacher's
// lib/broker/fan_out.go, which already fans a transaction out to every
// output concurrently via a structured-concurrency wait group; this
// dispatcher keeps that concurrent send but replaces "wait for every ack"
// with "grant one unit of demand per subscriber".
type Broadcast struct {
	self mailbox.Address
	subs []*subscriber
}

// NewBroadcast constructs a broadcast dispatcher. self is the owning
// producer's own address, stamped as From on every Events and
// Notification message (spec.md §6).
func NewBroadcast(self mailbox.Address) *Broadcast { return &Broadcast{self: self} }

func (b *Broadcast) indexOf(ref mailbox.Ref) int {
	for i, s := range b.subs {
		if s.ref == ref {
			return i
		}
	}
	return -1
}

func (b *Broadcast) Subscribe(ref mailbox.Ref, consumer mailbox.Address, _ proto.SubscribeOpts) int {
	b.subs = append(b.subs, &subscriber{ref: ref, addr: consumer})
	return 0
}

func (b *Broadcast) Cancel(ref mailbox.Ref) int {
	if i := b.indexOf(ref); i >= 0 {
		b.subs = append(b.subs[:i], b.subs[i+1:]...)
	}
	return 0
}

func (b *Broadcast) Ask(ref mailbox.Ref, n int) int {
	if i := b.indexOf(ref); i >= 0 {
		b.subs[i].demand += n
	}
	// A broadcast only advances once every subscriber can accept, so the
	// newly grantable demand is bounded by the slowest consumer, not n
	// itself; the caller still asked for n new events, which is what we
	// report upstream.
	return n
}

func (b *Broadcast) minDemand() int {
	if len(b.subs) == 0 {
		return 0
	}
	min := b.subs[0].demand
	for _, s := range b.subs[1:] {
		if s.demand < min {
			min = s.demand
		}
	}
	return min
}

func (b *Broadcast) Dispatch(events []any) (undispatched []any) {
	if len(b.subs) == 0 {
		return events
	}
	n := b.minDemand()
	if n > len(events) {
		n = len(events)
	}
	if n <= 0 {
		return events
	}
	batch := events[:n]

	var wg conc.WaitGroup
	for _, s := range b.subs {
		s := s
		wg.Go(func() { _ = s.addr.Send(proto.Events{Ref: s.ref, From: b.self, Batch: batch}) })
	}
	wg.Wait()

	for _, s := range b.subs {
		s.demand -= n
	}
	return events[n:]
}

func (b *Broadcast) Notify(msg any) {
	var wg conc.WaitGroup
	for _, s := range b.subs {
		s := s
		wg.Go(func() { _ = s.addr.Send(proto.Notification{Ref: s.ref, From: b.self, Msg: msg}) })
	}
	wg.Wait()
}
