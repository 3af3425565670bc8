package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/arrowstream/stagepipe/dispatcher"
	"github.com/arrowstream/stagepipe/mailbox"
	"github.com/arrowstream/stagepipe/stage/buffer"
	"github.com/arrowstream/stagepipe/stage/proto"
	"github.com/arrowstream/stagepipe/stagelog"
	"github.com/arrowstream/stagepipe/stagemetrics"
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

func TestDispatchEventsBuffersWithNoConsumers(t *testing.T) {
	d := dispatcher.NewDemand(mailbox.New(1).Address())
	p := New("p", d, DefaultConfig(), stagelog.Noop{}, stagemetrics.Noop{})
	p.DispatchEvents(evs(3))
	if p.BufferLen() != 3 {
		t.Fatalf("BufferLen() = %d, want 3", p.BufferLen())
	}
}

func TestDispatchEventsGoesStraightThroughWithDemand(t *testing.T) {
	d := dispatcher.NewDemand(mailbox.New(1).Address())
	p := New("p", d, DefaultConfig(), stagelog.Noop{}, stagemetrics.Noop{})
	mb := mailbox.New(4)
	ref := mailbox.NewRef()
	d.Subscribe(ref, mb.Address(), proto.SubscribeOpts{})
	p.SetConsumerCount(1)
	d.Ask(ref, 5)

	p.DispatchEvents(evs(3))
	if p.BufferLen() != 0 {
		t.Fatalf("BufferLen() = %d, want 0 (fully dispatched)", p.BufferLen())
	}
	got := recvEvents(t, mb)
	if len(got.Batch) != 3 {
		t.Fatalf("batch = %v, want 3 events", got.Batch)
	}
}

func TestGrantDemandDrainsBufferedEvents(t *testing.T) {
	d := dispatcher.NewDemand(mailbox.New(1).Address())
	p := New("p", d, DefaultConfig(), stagelog.Noop{}, stagemetrics.Noop{})
	p.DispatchEvents(evs(5)) // no consumers yet, all buffered

	mb := mailbox.New(4)
	ref := mailbox.NewRef()
	d.Subscribe(ref, mb.Address(), proto.SubscribeOpts{})
	p.SetConsumerCount(1)

	granted := d.Ask(ref, 3)
	residual := p.GrantDemand(granted)
	if residual != 0 {
		t.Fatalf("residual = %d, want 0 (buffer had enough)", residual)
	}
	got := recvEvents(t, mb)
	if len(got.Batch) != 3 {
		t.Fatalf("batch = %v, want 3 events drained from the buffer", got.Batch)
	}
	if p.BufferLen() != 2 {
		t.Fatalf("BufferLen() = %d, want 2 remaining", p.BufferLen())
	}
}

func TestGrantDemandReportsResidualPastBufferedEvents(t *testing.T) {
	d := dispatcher.NewDemand(mailbox.New(1).Address())
	p := New("p", d, DefaultConfig(), stagelog.Noop{}, stagemetrics.Noop{})
	p.DispatchEvents(evs(2))

	mb := mailbox.New(4)
	ref := mailbox.NewRef()
	d.Subscribe(ref, mb.Address(), proto.SubscribeOpts{})
	p.SetConsumerCount(1)

	granted := d.Ask(ref, 5)
	residual := p.GrantDemand(granted)
	if residual != 3 {
		t.Fatalf("residual = %d, want 3 (5 asked, only 2 buffered)", residual)
	}
	got := recvEvents(t, mb)
	if len(got.Batch) != 2 {
		t.Fatalf("batch = %v, want the 2 buffered events", got.Batch)
	}
}

func TestNotifyImmediateOnEmptyBuffer(t *testing.T) {
	d := dispatcher.NewDemand(mailbox.New(1).Address())
	p := New("p", d, DefaultConfig(), stagelog.Noop{}, stagemetrics.Noop{})
	mb := mailbox.New(4)
	ref := mailbox.NewRef()
	d.Subscribe(ref, mb.Address(), proto.SubscribeOpts{})

	p.Notify("hello")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.Recv(ctx)
	if !ok {
		t.Fatal("timed out waiting for notification")
	}
	n, ok := msg.(proto.Notification)
	if !ok || n.Msg != "hello" {
		t.Fatalf("got %#v, want an immediate Notification", msg)
	}
}

func TestBufferOverflowDropsUnderKeepFirst(t *testing.T) {
	d := dispatcher.NewDemand(mailbox.New(1).Address())
	cfg := Config{BufferSize: 2, Keep: buffer.First}
	p := New("p", d, cfg, stagelog.Noop{}, stagemetrics.Noop{})
	p.DispatchEvents(evs(5))
	if p.BufferLen() != 2 {
		t.Fatalf("BufferLen() = %d, want 2 (keep-FIRST caps at buffer size)", p.BufferLen())
	}
}
