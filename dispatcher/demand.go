// Package dispatcher ships the three built-in stage/dispatch.Dispatcher
// implementations called for by spec.md's Design Notes §9
// ("Ship three built-in implementations (demand-fair, broadcast,
// partition); the core only assumes the contract").
package dispatcher

import (
	"github.com/arrowstream/stagepipe/mailbox"
	"github.com/arrowstream/stagepipe/stage/proto"
)

type subscriber struct {
	ref    mailbox.Ref
	addr   mailbox.Address
	demand int
}

// Demand is the default dispatcher (spec.md §6 "Init options" default):
// it round-robins buffered events across whichever subscribed consumers
// currently have outstanding demand, matching Elixir's
// GenStage.DemandDispatcher. Grounded on the teacher's
// lib/broker/round_robin.go cyclic-index selection, generalised from
// blind rotation to "skip consumers with no demand left".
type Demand struct {
	self  mailbox.Address
	subs  []*subscriber
	order int
}

// NewDemand constructs the default demand-fair dispatcher. self is the
// owning producer's own address, stamped as From on every Events and
// Notification message so the consumer always knows which producer to
// address its Ask/Cancel traffic back to (spec.md §6: every
// producer->consumer message carries an explicit from).
func NewDemand(self mailbox.Address) *Demand { return &Demand{self: self} }

func (d *Demand) indexOf(ref mailbox.Ref) int {
	for i, s := range d.subs {
		if s.ref == ref {
			return i
		}
	}
	return -1
}

func (d *Demand) Subscribe(ref mailbox.Ref, consumer mailbox.Address, _ proto.SubscribeOpts) int {
	d.subs = append(d.subs, &subscriber{ref: ref, addr: consumer})
	return 0
}

func (d *Demand) Cancel(ref mailbox.Ref) int {
	if i := d.indexOf(ref); i >= 0 {
		d.subs = append(d.subs[:i], d.subs[i+1:]...)
		if d.order > i {
			d.order--
		}
	}
	return 0
}

func (d *Demand) Ask(ref mailbox.Ref, n int) int {
	if i := d.indexOf(ref); i >= 0 {
		d.subs[i].demand += n
	}
	return n
}

// Dispatch assigns each event to the next subscriber (cycling from the
// dispatcher's rotating cursor) that still has demand remaining, batching
// consecutive events routed to the same subscriber into one Events
// message.
func (d *Demand) Dispatch(events []any) (undispatched []any) {
	i := 0
	for i < len(events) {
		if len(d.subs) == 0 {
			return events[i:]
		}
		assigned := false
		for tries := 0; tries < len(d.subs); tries++ {
			idx := (d.order + tries) % len(d.subs)
			s := d.subs[idx]
			if s.demand <= 0 {
				continue
			}
			n := s.demand
			if remaining := len(events) - i; n > remaining {
				n = remaining
			}
			batch := events[i : i+n]
			_ = s.addr.Send(proto.Events{Ref: s.ref, From: d.self, Batch: batch})
			s.demand -= len(batch)
			i += len(batch)
			d.order = (idx + 1) % len(d.subs)
			assigned = true
			break
		}
		if !assigned {
			return events[i:]
		}
	}
	return nil
}

func (d *Demand) Notify(msg any) {
	for _, s := range d.subs {
		_ = s.addr.Send(proto.Notification{Ref: s.ref, From: d.self, Msg: msg})
	}
}
