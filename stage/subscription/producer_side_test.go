package subscription

import (
	"testing"

	"github.com/arrowstream/stagepipe/mailbox"
)

func TestProducerSideAddGetRemove(t *testing.T) {
	p := NewProducerSide()
	mb := mailbox.New(1)
	ref := mailbox.NewRef()
	monitor := mailbox.NewRef()

	if p.Has(ref) {
		t.Fatal("Has() true before Add")
	}
	p.Add(ref, mb.Address(), monitor)
	if !p.Has(ref) {
		t.Fatal("Has() false after Add")
	}
	if p.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", p.Count())
	}

	entry, ok := p.Get(ref)
	if !ok || entry.Monitor != monitor {
		t.Fatalf("Get() = %+v, %v, want monitor %v", entry, ok, monitor)
	}

	if got, ok := p.RefByMonitor(monitor); !ok || got != ref {
		t.Fatalf("RefByMonitor() = %v, %v, want %v, true", got, ok, ref)
	}

	removed, ok := p.Remove(ref)
	if !ok || removed.Monitor != monitor {
		t.Fatalf("Remove() = %+v, %v", removed, ok)
	}
	if p.Has(ref) {
		t.Fatal("Has() true after Remove")
	}
	if _, ok := p.RefByMonitor(monitor); ok {
		t.Fatal("RefByMonitor() still resolves after Remove")
	}
}

func TestProducerSideEachVisitsAll(t *testing.T) {
	p := NewProducerSide()
	mb := mailbox.New(1)
	refs := []mailbox.Ref{mailbox.NewRef(), mailbox.NewRef(), mailbox.NewRef()}
	for _, r := range refs {
		p.Add(r, mb.Address(), mailbox.NewRef())
	}

	seen := map[mailbox.Ref]bool{}
	p.Each(func(ref mailbox.Ref, e ConsumerEntry) {
		seen[ref] = true
	})
	if len(seen) != 3 {
		t.Fatalf("Each visited %d entries, want 3", len(seen))
	}
}

func TestProducerSideRemoveUnknownIsNoop(t *testing.T) {
	p := NewProducerSide()
	_, ok := p.Remove(mailbox.NewRef())
	if ok {
		t.Fatal("Remove() on unknown ref reported found")
	}
}
