package buffer

import "testing"

func ints(vals ...int) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

func TestUnboundedNeverDrops(t *testing.T) {
	b := New(Unbounded, Last)
	dropped, surfaced := b.Push(ints(1, 2, 3))
	if dropped != 0 || len(surfaced) != 0 {
		t.Fatalf("unbounded Push dropped=%d surfaced=%v, want 0, nil", dropped, surfaced)
	}
	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}
}

func TestKeepLastEvictsOldest(t *testing.T) {
	b := New(3, Last)
	b.Push(ints(1, 2, 3))
	dropped, _ := b.Push(ints(4, 5))
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}
	entries := b.Pop(10)
	got := eventValues(entries)
	want := []any{3, 4, 5}
	if !equalAny(got, want) {
		t.Fatalf("Pop after LAST-keep overflow = %v, want %v", got, want)
	}
}

func TestKeepFirstDropsIncoming(t *testing.T) {
	b := New(3, First)
	b.Push(ints(1, 2, 3))
	dropped, _ := b.Push(ints(4, 5))
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}
	entries := b.Pop(10)
	got := eventValues(entries)
	want := []any{1, 2, 3}
	if !equalAny(got, want) {
		t.Fatalf("Pop after FIRST-keep overflow = %v, want %v", got, want)
	}
}

func TestPopRespectsLimit(t *testing.T) {
	b := New(Unbounded, Last)
	b.Push(ints(1, 2, 3, 4, 5))
	entries := b.Pop(2)
	if got := eventValues(entries); !equalAny(got, []any{1, 2}) {
		t.Fatalf("Pop(2) = %v, want [1 2]", got)
	}
	if b.Len() != 3 {
		t.Fatalf("Len() after Pop(2) = %d, want 3", b.Len())
	}
}

func TestNotifyImmediateWhenEmpty(t *testing.T) {
	b := New(Unbounded, Last)
	if immediate := b.Notify("hi"); !immediate {
		t.Fatal("Notify on an empty buffer should report immediate=true")
	}
}

func TestNotifyAnchoredBoundedRidesWithPop(t *testing.T) {
	b := New(5, Last)
	b.Push(ints(1, 2))
	if immediate := b.Notify("tag"); immediate {
		t.Fatal("Notify on a non-empty bounded buffer should anchor, not fire immediately")
	}
	entries := b.Pop(10)
	if len(entries) != 3 {
		t.Fatalf("Pop = %d entries, want 3 (2 events + 1 notification)", len(entries))
	}
	if !entries[2].IsNotification || entries[2].Notification != "tag" {
		t.Fatalf("last entry = %+v, want the anchored notification trailing the tail event", entries[2])
	}
}

func TestNotifyInlineUnboundedRidesWithPop(t *testing.T) {
	b := New(Unbounded, Last)
	b.Push(ints(1, 2))
	b.Notify("tag")
	b.Push(ints(3))
	entries := b.Pop(10)
	if len(entries) != 4 {
		t.Fatalf("Pop = %d entries, want 4", len(entries))
	}
	if !entries[2].IsNotification || entries[2].Notification != "tag" {
		t.Fatalf("entry[2] = %+v, want the inline notification between event 2 and event 3", entries[2])
	}
}

func TestKeepLastSurfacesNotificationAnchoredToEvictedEvent(t *testing.T) {
	b := New(2, Last)
	b.Push(ints(1, 2))
	b.Notify("evicted-soon") // anchors to event 2, the current tail
	// Pushing two more events evicts both 1 and 2, taking the anchor with it.
	_, surfaced := b.Push(ints(3, 4))
	if len(surfaced) != 1 || surfaced[0] != "evicted-soon" {
		t.Fatalf("surfaced = %v, want [evicted-soon] once its anchor event is evicted", surfaced)
	}
}

func eventValues(entries []Entry) []any {
	var out []any
	for _, e := range entries {
		if !e.IsNotification {
			out = append(out, e.Event)
		}
	}
	return out
}

func equalAny(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
