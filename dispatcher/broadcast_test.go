package dispatcher

import (
	"testing"

	"github.com/arrowstream/stagepipe/mailbox"
	"github.com/arrowstream/stagepipe/stage/proto"
)

func TestBroadcastGatesOnSlowestSubscriber(t *testing.T) {
	b := NewBroadcast(mailbox.New(1).Address())
	mbFast := mailbox.New(4)
	mbSlow := mailbox.New(4)
	refFast, refSlow := mailbox.NewRef(), mailbox.NewRef()
	b.Subscribe(refFast, mbFast.Address(), proto.SubscribeOpts{})
	b.Subscribe(refSlow, mbSlow.Address(), proto.SubscribeOpts{})
	b.Ask(refFast, 10)
	b.Ask(refSlow, 2)

	undispatched := b.Dispatch(evs(5))
	if len(undispatched) != 3 {
		t.Fatalf("undispatched = %v, want 3 (only 2 could go to every subscriber)", undispatched)
	}
	fast := recvEvents(t, mbFast)
	slow := recvEvents(t, mbSlow)
	if len(fast.Batch) != 2 || len(slow.Batch) != 2 {
		t.Fatalf("both subscribers should receive the same 2-event batch, got fast=%v slow=%v", fast.Batch, slow.Batch)
	}
}

func TestBroadcastNoSubscribersReturnsAllUndispatched(t *testing.T) {
	b := NewBroadcast(mailbox.New(1).Address())
	undispatched := b.Dispatch(evs(3))
	if len(undispatched) != 3 {
		t.Fatalf("undispatched = %v, want all 3 events back", undispatched)
	}
}
