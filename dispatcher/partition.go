package dispatcher

import (
	"hash/fnv"

	"github.com/arrowstream/stagepipe/mailbox"
	"github.com/arrowstream/stagepipe/stage/proto"
)

// KeyFunc extracts the partitioning key for an event.
type KeyFunc func(event any) []byte

// Partition routes each event to one of n partitions by hashing a
// caller-supplied key, then demand-dispatches within that partition's
// consumer set. Grounded on the teacher's lib/broker/dynamic_fan_out.go,
// which keeps one outbound channel per registered target and grows or
// shrinks that set at runtime; here the "targets" are fixed-count
// partitions, each itself a Demand dispatcher, so the fan-out bookkeeping
// is delegated rather than duplicated.
type Partition struct {
	n          int
	keyFn      KeyFunc
	partitions []*Demand
	assign     map[mailbox.Ref]int
	nextAssign int
}

// NewPartition creates a Partition dispatcher with n partitions. self is
// the owning producer's own address, threaded down to each partition's
// own Demand dispatcher so every Events/Notification it sends carries an
// explicit From (spec.md §6).
func NewPartition(self mailbox.Address, n int, keyFn KeyFunc) *Partition {
	if n < 1 {
		n = 1
	}
	partitions := make([]*Demand, n)
	for i := range partitions {
		partitions[i] = NewDemand(self)
	}
	return &Partition{
		n:          n,
		keyFn:      keyFn,
		partitions: partitions,
		assign:     make(map[mailbox.Ref]int),
	}
}

// partitionOf hashes key into [0, n).
func (p *Partition) partitionOf(event any) int {
	h := fnv.New32a()
	_, _ = h.Write(p.keyFn(event))
	return int(h.Sum32() % uint32(p.n))
}

// Subscribe assigns the consumer to a partition. If opts.Extra carries an
// integer "partition" key it is honoured directly; otherwise consumers
// are assigned round-robin across partitions.
func (p *Partition) Subscribe(ref mailbox.Ref, consumer mailbox.Address, opts proto.SubscribeOpts) int {
	idx := p.nextAssign % p.n
	if opts.Extra != nil {
		if v, ok := opts.Extra["partition"].(int); ok && v >= 0 && v < p.n {
			idx = v
		}
	}
	p.nextAssign++
	p.assign[ref] = idx
	return p.partitions[idx].Subscribe(ref, consumer, opts)
}

func (p *Partition) Cancel(ref mailbox.Ref) int {
	idx, ok := p.assign[ref]
	if !ok {
		return 0
	}
	delete(p.assign, ref)
	return p.partitions[idx].Cancel(ref)
}

func (p *Partition) Ask(ref mailbox.Ref, n int) int {
	idx, ok := p.assign[ref]
	if !ok {
		return 0
	}
	return p.partitions[idx].Ask(ref, n)
}

// Dispatch hashes each event to its partition and delegates each run of
// consecutive same-partition events to that partition's Demand dispatcher
// as one batch, preserving the original event order in the returned
// undispatched slice.
func (p *Partition) Dispatch(events []any) (undispatched []any) {
	for start := 0; start < len(events); {
		idx := p.partitionOf(events[start])
		end := start + 1
		for end < len(events) && p.partitionOf(events[end]) == idx {
			end++
		}
		undispatched = append(undispatched, p.partitions[idx].Dispatch(events[start:end])...)
		start = end
	}
	return undispatched
}

func (p *Partition) Notify(msg any) {
	for _, part := range p.partitions {
		part.Notify(msg)
	}
}
