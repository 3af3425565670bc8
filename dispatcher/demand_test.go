package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/arrowstream/stagepipe/mailbox"
	"github.com/arrowstream/stagepipe/stage/proto"
)

func evs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func recvEvents(t *testing.T, mb *mailbox.Mailbox) proto.Events {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.Recv(ctx)
	if !ok {
		t.Fatal("timed out waiting for Events")
	}
	ev, ok := msg.(proto.Events)
	if !ok {
		t.Fatalf("got %T, want proto.Events", msg)
	}
	return ev
}

func TestDemandRoutesToFirstSubscriberWithDemand(t *testing.T) {
	producer := mailbox.New(1)
	d := NewDemand(producer.Address())
	mb := mailbox.New(4)
	ref := mailbox.NewRef()
	d.Subscribe(ref, mb.Address(), proto.SubscribeOpts{})
	d.Ask(ref, 3)

	undispatched := d.Dispatch(evs(2))
	if len(undispatched) != 0 {
		t.Fatalf("undispatched = %v, want none", undispatched)
	}
	got := recvEvents(t, mb)
	if len(got.Batch) != 2 {
		t.Fatalf("batch = %v, want 2 events", got.Batch)
	}
	if got.From != producer.Address() {
		t.Fatalf("Events.From = %v, want the producer's own address", got.From)
	}
}

func TestDemandReturnsUndispatchedWhenNoDemand(t *testing.T) {
	d := NewDemand(mailbox.New(1).Address())
	mb := mailbox.New(4)
	ref := mailbox.NewRef()
	d.Subscribe(ref, mb.Address(), proto.SubscribeOpts{})

	undispatched := d.Dispatch(evs(2))
	if len(undispatched) != 2 {
		t.Fatalf("undispatched = %v, want 2 (no demand granted)", undispatched)
	}
}

func TestDemandRotatesAcrossSubscribers(t *testing.T) {
	d := NewDemand(mailbox.New(1).Address())
	mbA := mailbox.New(4)
	mbB := mailbox.New(4)
	refA, refB := mailbox.NewRef(), mailbox.NewRef()
	d.Subscribe(refA, mbA.Address(), proto.SubscribeOpts{})
	d.Subscribe(refB, mbB.Address(), proto.SubscribeOpts{})
	d.Ask(refA, 1)
	d.Ask(refB, 1)

	if undispatched := d.Dispatch(evs(2)); len(undispatched) != 0 {
		t.Fatalf("undispatched = %v, want none", undispatched)
	}
	a := recvEvents(t, mbA)
	b := recvEvents(t, mbB)
	if len(a.Batch) != 1 || len(b.Batch) != 1 {
		t.Fatalf("expected one event each, got a=%v b=%v", a.Batch, b.Batch)
	}
}

func TestDemandCancelRemovesSubscriber(t *testing.T) {
	d := NewDemand(mailbox.New(1).Address())
	mb := mailbox.New(4)
	ref := mailbox.NewRef()
	d.Subscribe(ref, mb.Address(), proto.SubscribeOpts{})
	d.Ask(ref, 5)
	d.Cancel(ref)

	undispatched := d.Dispatch(evs(2))
	if len(undispatched) != 2 {
		t.Fatalf("undispatched = %v, want 2 (subscriber cancelled)", undispatched)
	}
}
